package storage

import (
	"strconv"
	"strings"

	"github.com/evgeniums/hatn-go/internal/apperrors"
)

// UpdateOp names one declarative update operation of spec §4.6.5.
type UpdateOp int

const (
	OpSet UpdateOp = iota
	OpUnset
	OpInc
	OpPush
	OpPop
	OpPushUnique
)

// UpdateField is one field path plus the operation to apply to it. A path
// of length 1 addresses a top-level field directly; a path of length 2
// ("tags", "0") addresses one element of a repeated ([]string) field, the
// only element type Set supports at that depth (spec §4.6.5).
type UpdateField struct {
	Path  []string
	Op    UpdateOp
	Value any
}

// ParsePath splits a dotted path ("tags.0") into segments.
func ParsePath(path string) []string {
	return strings.Split(path, ".")
}

// Apply returns a copy of obj with every UpdateField in reqs applied in
// order; a later request observes an earlier one's effect.
func Apply(obj Object, reqs []UpdateField) (Object, error) {
	out := make(Object, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	for _, r := range reqs {
		if err := applyOne(out, r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func applyOne(obj Object, r UpdateField) error {
	switch len(r.Path) {
	case 0:
		return apperrors.New(apperrors.CodeInvalidInput)
	case 1:
		if r.Path[0] == "_id" {
			return apperrors.Newf(apperrors.CodeInvalidInput, "_id is immutable")
		}
		return applyTopLevel(obj, r.Path[0], r)
	case 2:
		return applyIndexed(obj, r.Path[0], r.Path[1], r)
	default:
		return apperrors.Newf(apperrors.CodeInvalidInput, "path %q too deep for this object model", strings.Join(r.Path, "."))
	}
}

func applyTopLevel(obj Object, name string, r UpdateField) error {
	switch r.Op {
	case OpSet:
		obj[name] = r.Value
		return nil
	case OpUnset:
		delete(obj, name)
		return nil
	case OpInc:
		return incField(obj, name, r.Value)
	case OpPush:
		return pushField(obj, name, r.Value, false)
	case OpPushUnique:
		return pushField(obj, name, r.Value, true)
	case OpPop:
		return popField(obj, name)
	default:
		return apperrors.Newf(apperrors.CodeInvalidInput, "unknown update op %d", r.Op)
	}
}

func applyIndexed(obj Object, name, indexSeg string, r UpdateField) error {
	if r.Op != OpSet {
		return apperrors.Newf(apperrors.CodeInvalidInput, "op %d not supported on a repeated-field element", r.Op)
	}
	cur, ok := obj[name]
	if !ok {
		return apperrors.Newf(apperrors.CodeInvalidInput, "field %q not present", name)
	}
	slice, ok := cur.([]string)
	if !ok {
		return apperrors.Newf(apperrors.CodeInvalidInput, "field %q is not a repeated field", name)
	}
	idx, err := strconv.Atoi(indexSeg)
	if err != nil {
		return apperrors.Newf(apperrors.CodeInvalidInput, "expected numeric index, got %q", indexSeg)
	}
	if idx < 0 || idx >= len(slice) {
		return apperrors.Newf(apperrors.CodeInvalidInput, "index %d out of range", idx)
	}
	s, ok := r.Value.(string)
	if !ok {
		return apperrors.Newf(apperrors.CodeInvalidInput, "expected string value for repeated-field element")
	}
	slice = append([]string(nil), slice...)
	slice[idx] = s
	obj[name] = slice
	return nil
}

func incField(obj Object, name string, delta any) error {
	cur, ok := obj[name]
	if !ok {
		obj[name] = delta
		return nil
	}
	switch c := cur.(type) {
	case int64:
		d, err := asInt64(delta)
		if err != nil {
			return apperrors.Newf(apperrors.CodeInvalidInput, "inc delta is not numeric: %v", err)
		}
		obj[name] = c + d
	case uint64:
		d, err := asUint64(delta)
		if err != nil {
			return apperrors.Newf(apperrors.CodeInvalidInput, "inc delta is not numeric: %v", err)
		}
		obj[name] = c + d
	default:
		return apperrors.Newf(apperrors.CodeInvalidInput, "field %q is not numeric", name)
	}
	return nil
}

func pushField(obj Object, name string, value any, unique bool) error {
	s, ok := value.(string)
	if !ok {
		return apperrors.Newf(apperrors.CodeInvalidInput, "push value must be a string")
	}
	cur, ok := obj[name]
	if !ok {
		obj[name] = []string{s}
		return nil
	}
	slice, ok := cur.([]string)
	if !ok {
		return apperrors.Newf(apperrors.CodeInvalidInput, "field %q is not a repeated field", name)
	}
	if unique {
		for _, e := range slice {
			if e == s {
				return nil
			}
		}
	}
	obj[name] = append(slice, s)
	return nil
}

func popField(obj Object, name string) error {
	cur, ok := obj[name]
	if !ok {
		return nil
	}
	slice, ok := cur.([]string)
	if !ok {
		return apperrors.Newf(apperrors.CodeInvalidInput, "field %q is not a repeated field", name)
	}
	if len(slice) == 0 {
		return nil
	}
	obj[name] = slice[:len(slice)-1]
	return nil
}
