package storage

import (
	"bytes"

	"github.com/evgeniums/hatn-go/internal/apperrors"
)

// invertBytes flips every bit, the standard trick for turning ascending
// byte-order comparison into descending semantic order (used for
// IndexFieldDef.Desc fields).
func invertBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[i] = ^c
	}
	return out
}

// indexFieldBytes encodes one field of an index entry per its type/Desc.
func indexFieldBytes(def IndexFieldDef, obj Object) ([]byte, error) {
	b, err := EncodeField(def.Type, obj[def.Name])
	if err != nil {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "index field %q: %v", def.Name, err)
	}
	if def.Desc {
		b = invertBytes(b)
	}
	return b, nil
}

// indexEntryKey builds the full index key for obj under idx (spec §4.6.4).
// A non-unique index key ends with obj's ObjectID as a last segment, so
// objects sharing the indexed values keep separate entries; a unique index
// key ends after the indexed fields, so an existing key means a duplicate.
func indexEntryKey(topic string, idx IndexDef, obj Object) ([]byte, error) {
	fields := make([][]byte, 0, len(idx.Fields)+1)
	for _, def := range idx.Fields {
		b, err := indexFieldBytes(def, obj)
		if err != nil {
			return nil, err
		}
		fields = append(fields, b)
	}
	if !idx.Unique {
		fields = append(fields, obj.ID().Bytes())
	}
	return IndexKey(topic, idx.ID, fields...), nil
}

// indexEntryKeys builds the index key for every index defined on m.
func indexEntryKeys(topic string, m *Model, obj Object) (map[string][]byte, error) {
	out := make(map[string][]byte, len(m.Indexes))
	for _, idx := range m.Indexes {
		k, err := indexEntryKey(topic, idx, obj)
		if err != nil {
			return nil, err
		}
		out[idx.ID] = k
	}
	return out, nil
}

// diffIndexKeys returns the index ids whose key changed between old and
// new, plus the add/remove key sets (spec §4.6.3's update diff).
func diffIndexKeys(oldKeys, newKeys map[string][]byte) (toDelete, toInsert map[string][]byte) {
	toDelete = map[string][]byte{}
	toInsert = map[string][]byte{}
	for id, ok := range oldKeys {
		if nk, exists := newKeys[id]; !exists || !bytes.Equal(ok, nk) {
			toDelete[id] = ok
		}
	}
	for id, nk := range newKeys {
		if ok, exists := oldKeys[id]; !exists || !bytes.Equal(ok, nk) {
			toInsert[id] = nk
		}
	}
	return toDelete, toInsert
}

// FindOp names the comparison operator a FieldQuery applies (spec §4.6.3's
// "range/equality/in/neq/prefix/gt/gte/lt/lte operators").
type FindOp int

const (
	OpEq FindOp = iota
	OpNeq
	OpGt
	OpGte
	OpLt
	OpLte
	OpPrefix
	OpIn
)

// FieldQuery is one field constraint of a FindByIndex call. Only the last
// query field in a compound lookup may use an operator other than Eq; a
// Desc-encoded field also only supports Eq/In/Prefix (see DESIGN.md).
type FieldQuery struct {
	Name   string
	Op     FindOp
	Value  any
	Values []any // for OpIn
}

// byteRange is a half-open [From, To) scan range; a nil To is unbounded
// within the index's own prefix (bounded by prefixUpperBound at scan time).
type byteRange struct {
	From, To []byte
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix, or nil if no such key exists (prefix is all 0xFF).
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] != 0xFF {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}

// buildRanges validates that queries form a prefix of idx.Fields and
// returns the byte ranges to scan (more than one only for OpIn).
func buildRanges(topic string, idx IndexDef, queries []FieldQuery) ([]byteRange, error) {
	if len(queries) == 0 || len(queries) > len(idx.Fields) {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "query fields must form a non-empty prefix of index %q", idx.ID)
	}
	for i, q := range queries {
		if q.Name != idx.Fields[i].Name {
			return nil, apperrors.Newf(apperrors.CodeInvalidInput, "query field %d (%q) does not match index field %q", i, q.Name, idx.Fields[i].Name)
		}
		if i < len(queries)-1 && q.Op != OpEq {
			return nil, apperrors.Newf(apperrors.CodeInvalidInput, "only the last query field may use a non-equality operator")
		}
	}

	prefixFields := make([][]byte, 0, len(queries)-1)
	for i := 0; i < len(queries)-1; i++ {
		b, err := encodeQueryValue(idx.Fields[i], queries[i].Value)
		if err != nil {
			return nil, err
		}
		prefixFields = append(prefixFields, b)
	}
	// IndexKey joins topic/index-id/prefixFields with SEP between segments
	// and adds no trailing SEP, so one more SEP is always needed before the
	// last (query) field's bytes.
	base := append(IndexKey(topic, idx.ID, prefixFields...), sepByte)

	last := queries[len(queries)-1]
	lastDef := idx.Fields[len(queries)-1]
	if lastDef.Desc && last.Op != OpEq && last.Op != OpIn && last.Op != OpPrefix {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "descending field %q only supports eq/in/prefix queries", lastDef.Name)
	}

	// eqRange covers exactly the entries whose last queried field equals b:
	// the key either ends right after b (a unique index queried on all of
	// its fields) or continues with SEP and further segments.
	eqRange := func(b []byte) byteRange {
		from := append(append([]byte(nil), base...), b...)
		if idx.Unique && len(queries) == len(idx.Fields) {
			return byteRange{From: from, To: append(append([]byte(nil), from...), sepByte)}
		}
		from = append(from, sepByte)
		return byteRange{From: from, To: prefixUpperBound(from)}
	}

	switch last.Op {
	case OpEq:
		b, err := encodeQueryValue(lastDef, last.Value)
		if err != nil {
			return nil, err
		}
		return []byteRange{eqRange(b)}, nil
	case OpPrefix:
		s, _ := last.Value.(string)
		from := append(append([]byte(nil), base...), []byte(s)...)
		return []byteRange{{From: from, To: prefixUpperBound(from)}}, nil
	case OpIn:
		ranges := make([]byteRange, 0, len(last.Values))
		for _, v := range last.Values {
			b, err := encodeQueryValue(lastDef, v)
			if err != nil {
				return nil, err
			}
			ranges = append(ranges, eqRange(b))
		}
		return ranges, nil
	case OpGt, OpGte, OpLt, OpLte, OpNeq:
		b, err := encodeQueryValue(lastDef, last.Value)
		if err != nil {
			return nil, err
		}
		bound := append(append([]byte(nil), base...), b...)
		upper := prefixUpperBound(base)
		switch last.Op {
		case OpGt:
			return []byteRange{{From: prefixUpperBound(bound), To: upper}}, nil
		case OpGte:
			return []byteRange{{From: bound, To: upper}}, nil
		case OpLt:
			return []byteRange{{From: base, To: bound}}, nil
		case OpLte:
			return []byteRange{{From: base, To: prefixUpperBound(bound)}}, nil
		case OpNeq:
			// Two sub-ranges excluding the equality point.
			return []byteRange{{From: base, To: bound}, {From: prefixUpperBound(bound), To: upper}}, nil
		}
	}
	return nil, apperrors.Newf(apperrors.CodeInvalidInput, "unsupported operator %d", last.Op)
}

func encodeQueryValue(def IndexFieldDef, v any) ([]byte, error) {
	b, err := EncodeField(def.Type, v)
	if err != nil {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "query field %q: %v", def.Name, err)
	}
	if def.Desc {
		b = invertBytes(b)
	}
	return b, nil
}
