package document

import (
	"errors"
	"fmt"
	"strings"

	"folio/api/internal/docpath"
)

// ShapeError reports a path that does not match the document. It is raised
// with panic: a mismatch means a registry entry or a caller is wrong, and the
// editor cannot recover from it at runtime.
type ShapeError struct {
	Op     string
	Path   docpath.Path
	Reason string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("document %s %q: %s", e.Op, e.Path.String(), e.Reason)
}

func fail(op string, p docpath.Path, format string, args ...any) {
	panic(&ShapeError{Op: op, Path: p, Reason: fmt.Sprintf(format, args...)})
}

// Guard runs fn and converts a ShapeError panic into an error. Other panics
// are re-raised.
func Guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			var shapeErr *ShapeError
			if e, ok := r.(error); ok && errors.As(e, &shapeErr) {
				err = shapeErr
				return
			}
			panic(r)
		}
	}()
	fn()
	return nil
}

// Direction for MoveArrayItem. Up moves toward index 0.
type Direction int

const (
	Up Direction = iota + 1
	Down
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "unknown"
	}
}

func ParseDirection(raw string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "up":
		return Up, nil
	case "down":
		return Down, nil
	}
	return 0, fmt.Errorf("unknown direction %q", raw)
}

// Get resolves a path. It reports false when any segment is missing or has
// the wrong kind; Get never panics.
func Get(d Document, p docpath.Path) (any, bool) {
	var node any = map[string]any(d)
	for _, seg := range p.Segments() {
		switch c := normalize(node).(type) {
		case map[string]any:
			if seg.IsIndex() {
				return nil, false
			}
			child, ok := c[seg.Key()]
			if !ok {
				return nil, false
			}
			node = child
		case []any:
			if !seg.IsIndex() || seg.Index() < 0 || seg.Index() >= len(c) {
				return nil, false
			}
			node = c[seg.Index()]
		default:
			return nil, false
		}
	}
	return node, true
}

// Set replaces the value at p. Every prefix of p except the last segment must
// already exist and be a container. The final key may be new when its parent
// is an object; an array parent requires an in-range index.
func Set(d Document, p docpath.Path, value any) Document {
	if p.IsRoot() {
		fail("set", p, "cannot replace the document root")
	}
	last := p.Last()
	return update(d, p.Parent(), "set", p, func(parent any) any {
		switch c := normalize(parent).(type) {
		case map[string]any:
			if last.IsIndex() {
				fail("set", p, "index %d into an object", last.Index())
			}
			out := copyMap(c)
			out[last.Key()] = normalize(value)
			return out
		case []any:
			if !last.IsIndex() {
				fail("set", p, "field %q into an array", last.Key())
			}
			if last.Index() < 0 || last.Index() >= len(c) {
				fail("set", p, "index %d out of range [0,%d)", last.Index(), len(c))
			}
			out := copySlice(c)
			out[last.Index()] = normalize(value)
			return out
		default:
			fail("set", p, "parent is %s, not a container", kindOf(parent))
			return nil
		}
	})
}

// SetSection replaces one top-level key.
func SetSection(d Document, name string, value any) Document {
	return Set(d, docpath.New(docpath.Key(name)), value)
}

// AppendArrayItem adds a deep copy of item at the end of the array at p.
// Order fields are not renumbered; call Reindex for ordered arrays.
func AppendArrayItem(d Document, p docpath.Path, item any) Document {
	return update(d, p, "append", p, func(current any) any {
		arr := mustArray("append", p, current)
		out := make([]any, len(arr), len(arr)+1)
		copy(out, arr)
		return append(out, DeepCopy(normalize(item)))
	})
}

// RemoveArrayItem drops the element at index, shifting later elements down.
func RemoveArrayItem(d Document, p docpath.Path, index int) Document {
	return update(d, p, "remove", p, func(current any) any {
		arr := mustArray("remove", p, current)
		if index < 0 || index >= len(arr) {
			fail("remove", p, "index %d out of range [0,%d)", index, len(arr))
		}
		out := make([]any, 0, len(arr)-1)
		out = append(out, arr[:index]...)
		return append(out, arr[index+1:]...)
	})
}

// UpdateArrayItemField sets one field of the record at p[index].
func UpdateArrayItemField(d Document, p docpath.Path, index int, field string, value any) Document {
	if index < 0 {
		fail("update item", p, "negative index %d", index)
	}
	return Set(d, p.Child(docpath.Index(index), docpath.Key(field)), value)
}

// Reindex sets orderField of every element of the array at p to its 1-based
// position. Every element must be an object.
func Reindex(d Document, p docpath.Path, orderField string) Document {
	return update(d, p, "reindex", p, func(current any) any {
		arr := mustArray("reindex", p, current)
		out := make([]any, len(arr))
		for i, el := range arr {
			record, ok := normalize(el).(map[string]any)
			if !ok {
				fail("reindex", p.Child(docpath.Index(i)), "element is %s, not an object", kindOf(el))
			}
			cp := copyMap(record)
			cp[orderField] = i + 1
			out[i] = cp
		}
		return out
	})
}

// MoveArrayItem swaps the element at from with its neighbour. A move past
// either end returns d unchanged.
func MoveArrayItem(d Document, p docpath.Path, from int, dir Direction) Document {
	current, ok := Get(d, p)
	if !ok {
		fail("move", p, "path does not resolve")
	}
	arr := mustArray("move", p, current)
	if from < 0 || from >= len(arr) {
		fail("move", p, "index %d out of range [0,%d)", from, len(arr))
	}
	var to int
	switch dir {
	case Up:
		to = from - 1
	case Down:
		to = from + 1
	default:
		fail("move", p, "unknown direction %d", int(dir))
	}
	if to < 0 || to >= len(arr) {
		return d
	}
	return update(d, p, "move", p, func(current any) any {
		out := copySlice(current.([]any))
		out[from], out[to] = out[to], out[from]
		return out
	})
}

// update walks p, copying every container it passes through, and replaces
// the value found at p with fn(value). Every segment must resolve.
func update(d Document, p docpath.Path, op string, full docpath.Path, fn func(any) any) Document {
	out := updateIn(map[string]any(d), p, 0, op, full, fn)
	m, ok := out.(map[string]any)
	if !ok {
		fail(op, full, "document root must stay an object")
	}
	return Document(m)
}

func updateIn(node any, p docpath.Path, depth int, op string, full docpath.Path, fn func(any) any) any {
	if depth == p.Len() {
		return fn(node)
	}
	seg := p.At(depth)
	prefix := docpath.New(p.Segments()[:depth+1]...)
	switch c := normalize(node).(type) {
	case map[string]any:
		if seg.IsIndex() {
			fail(op, full, "index %d into an object at %q", seg.Index(), prefix.String())
		}
		child, ok := c[seg.Key()]
		if !ok {
			fail(op, full, "missing field at %q", prefix.String())
		}
		out := copyMap(c)
		out[seg.Key()] = updateIn(child, p, depth+1, op, full, fn)
		return out
	case []any:
		if !seg.IsIndex() {
			fail(op, full, "field %q into an array at %q", seg.Key(), prefix.Parent().String())
		}
		if seg.Index() < 0 || seg.Index() >= len(c) {
			fail(op, full, "index %d out of range [0,%d) at %q", seg.Index(), len(c), prefix.Parent().String())
		}
		out := copySlice(c)
		out[seg.Index()] = updateIn(c[seg.Index()], p, depth+1, op, full, fn)
		return out
	default:
		fail(op, full, "%s at %q is not a container", kindOf(node), prefix.Parent().String())
		return nil
	}
}

func mustArray(op string, p docpath.Path, v any) []any {
	arr, ok := v.([]any)
	if !ok {
		fail(op, p, "value is %s, not an array", kindOf(v))
	}
	return arr
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copySlice(s []any) []any {
	out := make([]any, len(s))
	copy(out, s)
	return out
}

func kindOf(v any) string {
	switch normalize(v).(type) {
	case nil:
		return "null"
	case map[string]any:
		return "an object"
	case []any:
		return "an array"
	case string:
		return "a string"
	case bool:
		return "a bool"
	case float64, int, int64, float32, int32:
		return "a number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
