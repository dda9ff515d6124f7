package storage

import (
	"encoding/hex"
	"fmt"
)

// Separator and sentinel bytes reserved by spec §4.6.1/§4.6.4/§6.
const (
	sepByte            byte = 0x00
	emptyStringSentinel byte = 0x01
)

// FieldType names the index-key encoding of spec §4.6.4's table.
type FieldType int

const (
	FieldString FieldType = iota
	FieldObjectID
	FieldDateTime
	FieldSignedInt
	FieldUnsignedInt
	FieldBool
)

// EncodeField renders v as the order-preserving byte form of spec §4.6.4
// for the given FieldType, such that purely lexicographic comparison of
// the output reproduces the semantic order of the input values.
func EncodeField(ft FieldType, v any) ([]byte, error) {
	switch ft {
	case FieldString:
		s, _ := v.(string)
		if s == "" {
			return []byte{emptyStringSentinel}, nil
		}
		return []byte(s), nil
	case FieldObjectID:
		id, ok := v.(ObjectID)
		if !ok {
			return nil, fmt.Errorf("expected ObjectID, got %T", v)
		}
		return id.Bytes(), nil
	case FieldDateTime:
		ms, err := asInt64(v)
		if err != nil {
			return nil, err
		}
		return []byte(fmt.Sprintf("%016x", uint64(ms))), nil
	case FieldSignedInt:
		n, err := asInt64(v)
		if err != nil {
			return nil, err
		}
		prefix := byte('1')
		if n < 0 {
			prefix = '0'
		}
		return append([]byte{prefix}, []byte(fmt.Sprintf("%016x", uint64(n)))...), nil
	case FieldUnsignedInt:
		n, err := asUint64(v)
		if err != nil {
			return nil, err
		}
		return append([]byte{'1'}, []byte(fmt.Sprintf("%016x", n))...), nil
	case FieldBool:
		b, _ := v.(bool)
		if b {
			return []byte{'1'}, nil
		}
		return []byte{'0'}, nil
	default:
		return nil, fmt.Errorf("unsupported field type %d", ft)
	}
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("expected integer value, got %T", v)
	}
}

func asUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case uint64:
		return n, nil
	case uint:
		return uint64(n), nil
	case uint32:
		return uint64(n), nil
	case int:
		if n < 0 {
			return 0, fmt.Errorf("negative value for unsigned field: %d", n)
		}
		return uint64(n), nil
	default:
		return 0, fmt.Errorf("expected unsigned integer value, got %T", v)
	}
}

// DecodeSignedInt reverses EncodeField for FieldSignedInt (used by tests
// and by index-scan diagnostics).
func DecodeSignedInt(b []byte) (int64, error) {
	if len(b) != 17 {
		return 0, fmt.Errorf("invalid signed-int key length %d", len(b))
	}
	raw, err := hex.DecodeString(string(b[1:]))
	if err != nil || len(raw) != 8 {
		return 0, fmt.Errorf("invalid signed-int key encoding")
	}
	var n uint64
	for _, c := range raw {
		n = n<<8 | uint64(c)
	}
	return int64(n), nil
}

// joinSegments joins byte segments with sepByte, the reserved separator
// that never appears inside a segment (spec §6).
func joinSegments(segments ...[]byte) []byte {
	total := 0
	for i, s := range segments {
		total += len(s)
		if i > 0 {
			total++
		}
	}
	out := make([]byte, 0, total)
	for i, s := range segments {
		if i > 0 {
			out = append(out, sepByte)
		}
		out = append(out, s...)
	}
	return out
}

// ObjectKey builds the object key of spec §4.6.1:
// topic ‖ SEP ‖ model_id ‖ SEP ‖ VERSION_BYTE ‖ SEP ‖ object_id.
func ObjectKey(topic, modelID string, version byte, id ObjectID) []byte {
	return joinSegments([]byte(topic), []byte(modelID), []byte{version}, id.Bytes())
}

// IndexKeyPrefix builds the topic ‖ SEP ‖ index_id ‖ SEP prefix that index
// scans iterate under (spec §4.6.3).
func IndexKeyPrefix(topic, indexID string) []byte {
	return append(joinSegments([]byte(topic), []byte(indexID)), sepByte)
}

// IndexKey builds a full index key: prefix ‖ field_1 ‖ SEP ‖ ... ‖ field_n.
func IndexKey(topic, indexID string, fields ...[]byte) []byte {
	segs := append([][]byte{[]byte(topic), []byte(indexID)}, fields...)
	return joinSegments(segs...)
}
