package storage

import "encoding/binary"

// ttlMarkLen is the fixed TTL mark appended to object values (spec §6):
// 4-byte big-endian Unix-seconds expiry + 1 marker byte.
const ttlMarkLen = 5
const ttlMarker byte = 0xFF

// appendTTLMark appends the TTL mark for expiresAt (unix seconds) to value.
// Whether a model carries a mark at all is determined by Model.TTLField,
// not by sniffing the trailing bytes.
func appendTTLMark(value []byte, expiresAt uint32) []byte {
	var mark [ttlMarkLen]byte
	binary.BigEndian.PutUint32(mark[:4], expiresAt)
	mark[4] = ttlMarker
	return append(value, mark[:]...)
}

// splitTTLMark strips the trailing TTL mark from stored, assuming the
// caller already knows (via Model.TTLField) that one is present.
func splitTTLMark(stored []byte) (payload []byte, expiresAt uint32) {
	mark := stored[len(stored)-ttlMarkLen:]
	return stored[:len(stored)-ttlMarkLen], binary.BigEndian.Uint32(mark[:4])
}
