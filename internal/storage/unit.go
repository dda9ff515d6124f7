package storage

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Object is the in-memory representation of one stored unit: a flat field
// map plus the reserved "_id" key. Field values are one of: string, int64,
// uint64, bool, ObjectID, or []string (repeated string field, for Push/Pop
// update operations).
type Object map[string]any

// ID returns the object's ObjectID, or the zero value if unset/malformed.
func (o Object) ID() ObjectID {
	id, _ := o["_id"].(ObjectID)
	return id
}

// typeTag values for the manual binary unit format (spec §9's Open
// Question: "adopt any deterministic, field-tagged binary format and
// document it" — chosen here over gob/protobuf because index-key material
// for some field types must be bit-for-bit controlled, see §4.6.4).
const (
	tagString byte = iota
	tagInt64
	tagUint64
	tagBool
	tagObjectID
	tagStringSlice
)

// Marshal serializes obj deterministically: fields sorted by name, each as
// length-prefixed name + type tag + length-prefixed value.
func Marshal(obj Object) ([]byte, error) {
	names := make([]string, 0, len(obj))
	for k := range obj {
		names = append(names, k)
	}
	sort.Strings(names)

	var buf []byte
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(names)))
	buf = append(buf, countBuf[:]...)

	for _, name := range names {
		buf = appendLenPrefixed(buf, []byte(name))
		v := obj[name]
		tag, enc, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		buf = append(buf, tag)
		buf = appendLenPrefixed(buf, enc)
	}
	return buf, nil
}

// Unmarshal reverses Marshal.
func Unmarshal(data []byte) (Object, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("truncated unit: too short for field count")
	}
	count := binary.LittleEndian.Uint32(data[:4])
	data = data[4:]

	obj := make(Object, count)
	for i := uint32(0); i < count; i++ {
		name, rest, err := readLenPrefixed(data)
		if err != nil {
			return nil, err
		}
		data = rest
		if len(data) < 1 {
			return nil, fmt.Errorf("truncated unit: missing type tag")
		}
		tag := data[0]
		data = data[1:]
		enc, rest2, err := readLenPrefixed(data)
		if err != nil {
			return nil, err
		}
		data = rest2
		v, err := decodeValue(tag, enc)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		obj[string(name)] = v
	}
	return obj, nil
}

func appendLenPrefixed(buf, v []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(v)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, v...)
}

func readLenPrefixed(data []byte) (value, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("truncated unit: missing length prefix")
	}
	n := binary.LittleEndian.Uint32(data[:4])
	data = data[4:]
	if uint32(len(data)) < n {
		return nil, nil, fmt.Errorf("truncated unit: value shorter than declared length")
	}
	return data[:n], data[n:], nil
}

func encodeValue(v any) (byte, []byte, error) {
	switch t := v.(type) {
	case string:
		return tagString, []byte(t), nil
	case int64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(t))
		return tagInt64, b[:], nil
	case int:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(int64(t)))
		return tagInt64, b[:], nil
	case uint64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], t)
		return tagUint64, b[:], nil
	case bool:
		if t {
			return tagBool, []byte{1}, nil
		}
		return tagBool, []byte{0}, nil
	case ObjectID:
		return tagObjectID, t.Bytes(), nil
	case []string:
		var buf []byte
		for _, s := range t {
			buf = appendLenPrefixed(buf, []byte(s))
		}
		return tagStringSlice, buf, nil
	default:
		return 0, nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func decodeValue(tag byte, enc []byte) (any, error) {
	switch tag {
	case tagString:
		return string(enc), nil
	case tagInt64:
		if len(enc) != 8 {
			return nil, fmt.Errorf("invalid int64 encoding length %d", len(enc))
		}
		return int64(binary.BigEndian.Uint64(enc)), nil
	case tagUint64:
		if len(enc) != 8 {
			return nil, fmt.Errorf("invalid uint64 encoding length %d", len(enc))
		}
		return binary.BigEndian.Uint64(enc), nil
	case tagBool:
		if len(enc) != 1 {
			return nil, fmt.Errorf("invalid bool encoding length %d", len(enc))
		}
		return enc[0] != 0, nil
	case tagObjectID:
		if len(enc) != 12 {
			return nil, fmt.Errorf("invalid object id encoding length %d", len(enc))
		}
		var id ObjectID
		copy(id[:], enc)
		return id, nil
	case tagStringSlice:
		var out []string
		rest := enc
		for len(rest) > 0 {
			var s []byte
			var err error
			s, rest, err = readLenPrefixed(rest)
			if err != nil {
				return nil, err
			}
			out = append(out, string(s))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown type tag %d", tag)
	}
}
