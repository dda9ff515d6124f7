package storage

import (
	"bytes"
	"sort"
	"testing"
)

func TestEncodeFieldSignedIntPreservesOrder(t *testing.T) {
	values := []int64{-2, -1, 0, 1, 2}
	var encoded [][]byte
	for _, v := range values {
		b, err := EncodeField(FieldSignedInt, v)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		encoded = append(encoded, b)
	}
	sorted := append([][]byte(nil), encoded...)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })
	for i := range sorted {
		if !bytes.Equal(sorted[i], encoded[i]) {
			t.Fatalf("lexicographic order does not match semantic order: %v", values)
		}
	}
}

func TestEncodeFieldSignedIntRoundTrips(t *testing.T) {
	for _, v := range []int64{-12345, 0, 98765} {
		b, err := EncodeField(FieldSignedInt, v)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, err := DecodeSignedInt(b)
		if err != nil {
			t.Fatalf("unexpected decode error: %v", err)
		}
		if got != v {
			t.Fatalf("expected %d, got %d", v, got)
		}
	}
}

func TestEncodeFieldEmptyStringSentinel(t *testing.T) {
	b, err := EncodeField(FieldString, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b) != 1 || b[0] != emptyStringSentinel {
		t.Fatalf("expected single sentinel byte, got %x", b)
	}
}

func TestEncodeFieldDateTimeOrdersByEpochMs(t *testing.T) {
	early, _ := EncodeField(FieldDateTime, int64(1000))
	late, _ := EncodeField(FieldDateTime, int64(2000))
	if bytes.Compare(early, late) >= 0 {
		t.Fatalf("expected earlier datetime to sort first: %x vs %x", early, late)
	}
}

func TestObjectKeySegmentsAreSeparated(t *testing.T) {
	id, _ := NewObjectID()
	key := ObjectKey("tenant-a", "m_users", 1, id)
	if !bytes.Contains(key, []byte{sepByte}) {
		t.Fatal("expected object key to contain separator bytes")
	}
}
