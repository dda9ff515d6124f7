// Package configtree implements the read-only dotted-path config tree spec
// §1 carves out as the one piece of configuration in scope ("only the
// config-tree abstraction is referenced"; file loading and CLI parsing are
// out-of-scope external collaborators). Callers hand it an already-parsed
// map[string]any (from JSON/YAML/flags — whatever the embedding
// application uses) and read typed values back by dotted path.
package configtree

import (
	"strconv"

	"github.com/evgeniums/hatn-go/internal/apperrors"
)

// Tree is a read-only view over a nested map[string]any, addressed by
// dotted paths ("server.bind_address").
type Tree struct {
	root map[string]any
}

// New wraps data as a Tree. data is not copied; callers must not mutate it
// afterward.
func New(data map[string]any) *Tree {
	if data == nil {
		data = map[string]any{}
	}
	return &Tree{root: data}
}

// Section returns the sub-tree rooted at path, or an empty Tree if the
// path does not resolve to a nested map.
func (t *Tree) Section(path string) *Tree {
	v, ok := t.lookup(path)
	if !ok {
		return New(nil)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return New(nil)
	}
	return New(m)
}

// Get returns the raw value at path and whether it was present.
func (t *Tree) Get(path string) (any, bool) {
	return t.lookup(path)
}

// GetString returns the string at path, or def if absent or not a string.
func (t *Tree) GetString(path, def string) string {
	v, ok := t.lookup(path)
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

// GetInt returns the int at path, or def if absent or not representable
// as one. Accepts int/int64/float64 (the shapes JSON/YAML decoders
// produce) and numeric strings.
func (t *Tree) GetInt(path string, def int) int {
	v, ok := t.lookup(path)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(n); err == nil {
			return parsed
		}
	}
	return def
}

// GetBool returns the bool at path, or def if absent or not a bool.
func (t *Tree) GetBool(path string, def bool) bool {
	v, ok := t.lookup(path)
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// RequireString is GetString without a fallback: it returns an error if
// path is absent or not a string, for config sections the caller cannot
// sensibly default.
func (t *Tree) RequireString(path string) (string, error) {
	v, ok := t.lookup(path)
	if !ok {
		return "", apperrors.Newf(apperrors.CodeInvalidInput, "config path %q not set", path)
	}
	s, ok := v.(string)
	if !ok {
		return "", apperrors.Newf(apperrors.CodeInvalidInput, "config path %q is not a string", path)
	}
	return s, nil
}

func (t *Tree) lookup(path string) (any, bool) {
	segs := splitPath(path)
	var cur any = t.root
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func splitPath(path string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			segs = append(segs, path[start:i])
			start = i + 1
		}
	}
	segs = append(segs, path[start:])
	return segs
}
