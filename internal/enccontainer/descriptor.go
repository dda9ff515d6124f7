// Package enccontainer implements the Encrypted Container of spec §4.4:
// chunked authenticated encryption with a per-chunk derived key, a
// self-describing header, and passphrase-based key wrapping.
//
// Grounded on infrastructure/crypto/envelope.go's EncryptEnvelope/
// DecryptEnvelope (HMAC-derived per-subject key, AES-GCM, AAD binding),
// generalized from "one envelope" to a chunked-stream descriptor with a
// per-chunk derived key and a short-last-chunk marker.
package enccontainer

import (
	"encoding/binary"
	"io"

	"github.com/evgeniums/hatn-go/internal/apperrors"
)

// KDFType selects how the container derives its per-chunk master key from
// caller-supplied secret material.
type KDFType uint8

const (
	KDFTypeHKDF KDFType = iota
	KDFTypePBKDF
	KDFTypePBKDFThenHKDF
)

const defaultChunkSize = 32 * 1024

// Descriptor is the container's variable-length header (spec §4.4):
// suite id, kdf type, salt, optional first-chunk max size, subsequent
// chunk size, and an optional cipher id override.
type Descriptor struct {
	SuiteID           string
	KDFType           KDFType
	Salt              []byte
	FirstChunkMaxSize uint32 // 0 means "use ChunkSize for every chunk"
	ChunkSize         uint32
	CipherID          string // empty means "use the suite's default aead"
}

// NewDescriptor builds a Descriptor with the given salt and chunk size,
// defaulting ChunkSize when zero.
func NewDescriptor(suiteID string, kdfType KDFType, salt []byte, chunkSize uint32) Descriptor {
	if chunkSize == 0 {
		chunkSize = defaultChunkSize
	}
	return Descriptor{SuiteID: suiteID, KDFType: kdfType, Salt: salt, ChunkSize: chunkSize}
}

func writeLenPrefixedString(w io.Writer, s string) error {
	return writeLenPrefixedBytes(w, []byte(s))
}

func writeLenPrefixedBytes(w io.Writer, b []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readLenPrefixedBytes(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Marshal serializes the descriptor in a self-describing, forward-only
// format: length-prefixed strings/blobs followed by fixed-width integers.
func (d Descriptor) Marshal(w io.Writer) error {
	if err := writeLenPrefixedString(w, d.SuiteID); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(d.KDFType)}); err != nil {
		return err
	}
	if err := writeLenPrefixedBytes(w, d.Salt); err != nil {
		return err
	}
	var u32buf [4]byte
	binary.LittleEndian.PutUint32(u32buf[:], d.FirstChunkMaxSize)
	if _, err := w.Write(u32buf[:]); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(u32buf[:], d.ChunkSize)
	if _, err := w.Write(u32buf[:]); err != nil {
		return err
	}
	return writeLenPrefixedString(w, d.CipherID)
}

// UnmarshalDescriptor reads a Descriptor previously written by Marshal.
func UnmarshalDescriptor(r io.Reader) (Descriptor, error) {
	var d Descriptor
	suiteID, err := readLenPrefixedBytes(r)
	if err != nil {
		return d, apperrors.Wrap(apperrors.CodeReadFailed, err)
	}
	d.SuiteID = string(suiteID)

	var kdfByte [1]byte
	if _, err := io.ReadFull(r, kdfByte[:]); err != nil {
		return d, apperrors.Wrap(apperrors.CodeReadFailed, err)
	}
	d.KDFType = KDFType(kdfByte[0])

	salt, err := readLenPrefixedBytes(r)
	if err != nil {
		return d, apperrors.Wrap(apperrors.CodeReadFailed, err)
	}
	d.Salt = salt

	var u32buf [4]byte
	if _, err := io.ReadFull(r, u32buf[:]); err != nil {
		return d, apperrors.Wrap(apperrors.CodeReadFailed, err)
	}
	d.FirstChunkMaxSize = binary.LittleEndian.Uint32(u32buf[:])

	if _, err := io.ReadFull(r, u32buf[:]); err != nil {
		return d, apperrors.Wrap(apperrors.CodeReadFailed, err)
	}
	d.ChunkSize = binary.LittleEndian.Uint32(u32buf[:])

	cipherID, err := readLenPrefixedBytes(r)
	if err != nil {
		return d, apperrors.Wrap(apperrors.CodeReadFailed, err)
	}
	d.CipherID = string(cipherID)
	return d, nil
}

// chunkSizeFor returns the plaintext size budget for chunk index i.
func (d Descriptor) chunkSizeFor(i uint64) int {
	if i == 0 && d.FirstChunkMaxSize > 0 {
		return int(d.FirstChunkMaxSize)
	}
	return int(d.ChunkSize)
}
