package kvengine

import (
	"bytes"

	bolt "go.etcd.io/bbolt"
)

// Cursor provides ordered, prefix, and range iteration over one bucket's
// keys (spec §4.5). Iteration reflects bbolt's native lexicographic key
// order, which is exactly the order the storage engine's index-key
// encoding (spec §4.6.4) is designed to reproduce semantic order under.
type Cursor struct {
	c *bolt.Cursor
}

// KV is one key/value pair observed during iteration. Value is nil when
// the caller only needs keys (e.g. index scans re-reading the object by a
// separately recorded back-reference).
type KV struct {
	Key   []byte
	Value []byte
}

func cloneKV(k, v []byte) KV {
	var kv KV
	if k != nil {
		kv.Key = append([]byte(nil), k...)
	}
	if v != nil {
		kv.Value = append([]byte(nil), v...)
	}
	return kv
}

// ForEachPrefix iterates every key with the given prefix in ascending
// order, calling fn for each; iteration stops early if fn returns false.
func (c *Cursor) ForEachPrefix(prefix []byte, fn func(KV) bool) {
	for k, v := c.c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.c.Next() {
		if !fn(cloneKV(k, v)) {
			return
		}
	}
}

// ForEachPrefixReverse iterates every key with the given prefix in
// descending order.
func (c *Cursor) ForEachPrefixReverse(prefix []byte, fn func(KV) bool) {
	// Seek to the first key strictly greater than any key with this
	// prefix, then walk backwards until the prefix no longer matches.
	upper := prefixUpperBound(prefix)
	var k, v []byte
	if upper == nil {
		k, v = c.c.Last()
	} else {
		k, v = c.c.Seek(upper)
		if k == nil {
			k, v = c.c.Last()
		} else {
			k, v = c.c.Prev()
		}
	}
	for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.c.Prev() {
		if !fn(cloneKV(k, v)) {
			return
		}
	}
}

// ForEachRange iterates keys in [from, to) ascending order. A nil `to`
// means unbounded.
func (c *Cursor) ForEachRange(from, to []byte, fn func(KV) bool) {
	for k, v := c.c.Seek(from); k != nil; k, v = c.c.Next() {
		if to != nil && bytes.Compare(k, to) >= 0 {
			return
		}
		if !fn(cloneKV(k, v)) {
			return
		}
	}
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix, or nil if prefix is all 0xFF bytes (no such bound).
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
