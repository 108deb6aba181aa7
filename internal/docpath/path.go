// Package docpath names locations inside a nested JSON document.
//
// A Path is a sequence of segments rooted at the document. A segment is
// either a field key or an array index. The textual form joins segments
// with dots, so "heroContent.statistics.0.label" addresses the label of
// the first statistic in the heroContent section.
package docpath

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is one step of a Path.
type Segment struct {
	key     string
	index   int
	isIndex bool
}

// Key returns a field segment.
func Key(name string) Segment {
	return Segment{key: name}
}

// Index returns an array element segment.
func Index(i int) Segment {
	return Segment{index: i, isIndex: true}
}

func (s Segment) IsIndex() bool { return s.isIndex }

// Key returns the field name; empty for index segments.
func (s Segment) Key() string { return s.key }

// Index returns the array position; -1 for field segments.
func (s Segment) Index() int {
	if !s.isIndex {
		return -1
	}
	return s.index
}

func (s Segment) String() string {
	if s.isIndex {
		return strconv.Itoa(s.index)
	}
	return s.key
}

// Path is immutable; every method returns a new value.
type Path struct {
	segs []Segment
}

// Root is the empty path, addressing the whole document.
var Root = Path{}

// New builds a path from segments.
func New(segs ...Segment) Path {
	out := make([]Segment, len(segs))
	copy(out, segs)
	return Path{segs: out}
}

// Parse reads the dotted form. Segments made only of digits become indices.
func Parse(raw string) (Path, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Root, nil
	}
	parts := strings.Split(raw, ".")
	segs := make([]Segment, 0, len(parts))
	for i, part := range parts {
		if part == "" {
			return Path{}, fmt.Errorf("parse path %q: empty segment at position %d", raw, i)
		}
		if isDigits(part) {
			n, err := strconv.Atoi(part)
			if err != nil {
				return Path{}, fmt.Errorf("parse path %q: %w", raw, err)
			}
			segs = append(segs, Index(n))
			continue
		}
		segs = append(segs, Key(part))
	}
	return Path{segs: segs}, nil
}

// MustParse is Parse for literals; it panics on malformed input.
func MustParse(raw string) Path {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func (p Path) Len() int { return len(p.segs) }

func (p Path) IsRoot() bool { return len(p.segs) == 0 }

// At returns the i-th segment.
func (p Path) At(i int) Segment { return p.segs[i] }

// Segments returns a copy of the segments.
func (p Path) Segments() []Segment {
	out := make([]Segment, len(p.segs))
	copy(out, p.segs)
	return out
}

// Last returns the final segment. It panics on the root path.
func (p Path) Last() Segment {
	return p.segs[len(p.segs)-1]
}

// Parent drops the final segment. The parent of Root is Root.
func (p Path) Parent() Path {
	if len(p.segs) == 0 {
		return Root
	}
	return New(p.segs[:len(p.segs)-1]...)
}

// Child appends segments.
func (p Path) Child(segs ...Segment) Path {
	out := make([]Segment, 0, len(p.segs)+len(segs))
	out = append(out, p.segs...)
	out = append(out, segs...)
	return Path{segs: out}
}

// Join appends another path.
func (p Path) Join(other Path) Path {
	return p.Child(other.segs...)
}

// Section is the top-level key a path belongs to, or "" when the path is
// the root or starts with an index.
func (p Path) Section() string {
	if len(p.segs) == 0 || p.segs[0].isIndex {
		return ""
	}
	return p.segs[0].key
}

// Rel strips the first segment, giving the path relative to its section.
func (p Path) Rel() Path {
	if len(p.segs) == 0 {
		return Root
	}
	return New(p.segs[1:]...)
}

func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix.segs) > len(p.segs) {
		return false
	}
	for i, seg := range prefix.segs {
		if seg != p.segs[i] {
			return false
		}
	}
	return true
}

func (p Path) Equal(other Path) bool {
	return len(p.segs) == len(other.segs) && p.HasPrefix(other)
}

// String is the inverse of Parse.
func (p Path) String() string {
	parts := make([]string, len(p.segs))
	for i, seg := range p.segs {
		parts[i] = seg.String()
	}
	return strings.Join(parts, ".")
}

// Template replaces every index segment with "*" so array element paths
// can be matched against registry declarations regardless of position.
func (p Path) Template() string {
	parts := make([]string, 0, len(p.segs))
	for _, seg := range p.segs {
		if seg.isIndex {
			parts = append(parts, "*")
			continue
		}
		parts = append(parts, seg.key)
	}
	return strings.Join(parts, ".")
}
