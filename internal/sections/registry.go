// Package sections declares, per document kind, the top-level sections a
// document is made of, their empty values, and the templates used when a
// row is appended to one of their arrays.
package sections

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"folio/api/internal/docpath"
	"folio/api/internal/document"
)

// Complete is the pseudo-section meaning "the whole document".
const Complete = "complete"

var (
	ErrUnknownKind    = errors.New("unknown document kind")
	ErrUnknownSection = errors.New("unknown section")

	// A kind is a URL path segment and a directory name.
	kindName = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

	// reservedKinds are taken by fixed API routes.
	reservedKinds = map[string]bool{"health": true, "ready": true, "kinds": true}
)

// ArraySpec describes an array inside a section. Path is relative to the
// section and may contain "*" for "any element", so "modules.*.lessons"
// covers the lessons array of every module. An empty Path is the section
// itself.
type ArraySpec struct {
	Path       string `yaml:"path" json:"path"`
	Template   any    `yaml:"template" json:"template"`
	OrderField string `yaml:"orderField" json:"orderField,omitempty"`
}

type Section struct {
	Name     string      `yaml:"name" json:"name"`
	Label    string      `yaml:"label" json:"label,omitempty"`
	Default  any         `yaml:"default" json:"default"`
	Required []string    `yaml:"required" json:"required,omitempty"`
	Arrays   []ArraySpec `yaml:"arrays" json:"arrays,omitempty"`
}

// Registry is the section layout of one document kind.
type Registry struct {
	Kind      string    `yaml:"kind" json:"kind"`
	Label     string    `yaml:"label" json:"label,omitempty"`
	TitlePath string    `yaml:"titlePath" json:"titlePath,omitempty"`
	Sections  []Section `yaml:"sections" json:"sections"`

	byName map[string]int
	arrays map[string]ArraySpec
}

func (r *Registry) init() error {
	if strings.TrimSpace(r.Kind) == "" {
		return fmt.Errorf("registry: kind is required")
	}
	if !kindName.MatchString(r.Kind) {
		return fmt.Errorf("registry %q: kind must be lower case letters, digits, '-' or '_'", r.Kind)
	}
	if reservedKinds[r.Kind] {
		return fmt.Errorf("registry %s: kind name is reserved", r.Kind)
	}
	if len(r.Sections) == 0 {
		return fmt.Errorf("registry %s: at least one section is required", r.Kind)
	}
	r.byName = make(map[string]int, len(r.Sections))
	r.arrays = make(map[string]ArraySpec)
	for i := range r.Sections {
		section := &r.Sections[i]
		section.Default = normalizeYAML(section.Default)
		name := section.Name
		switch {
		case strings.TrimSpace(name) == "":
			return fmt.Errorf("registry %s: section %d has no name", r.Kind, i)
		case strings.Contains(name, "."):
			return fmt.Errorf("registry %s: section %q must be a single key", r.Kind, name)
		case name == Complete || name == document.FieldID || name == document.FieldActive || name == document.FieldVersion:
			return fmt.Errorf("registry %s: section name %q is reserved", r.Kind, name)
		}
		if _, dup := r.byName[name]; dup {
			return fmt.Errorf("registry %s: duplicate section %q", r.Kind, name)
		}
		r.byName[name] = i
		for j := range section.Arrays {
			spec := &section.Arrays[j]
			spec.Template = normalizeYAML(spec.Template)
			full := name
			if spec.Path != "" {
				if _, err := docpath.Parse(strings.ReplaceAll(spec.Path, "*", "0")); err != nil {
					return fmt.Errorf("registry %s: section %s array %q: %w", r.Kind, name, spec.Path, err)
				}
				full = name + "." + spec.Path
			}
			spec.Path = full
			r.arrays[full] = *spec
		}
	}
	if r.TitlePath != "" {
		if _, err := docpath.Parse(r.TitlePath); err != nil {
			return fmt.Errorf("registry %s: titlePath: %w", r.Kind, err)
		}
	}
	return r.Validate(r.Defaults())
}

func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

func (r *Registry) Section(name string) (Section, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Section{}, false
	}
	return r.Sections[i], true
}

// Names lists section names in declaration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.Sections))
	for i, s := range r.Sections {
		out[i] = s.Name
	}
	return out
}

// Defaults builds a blank draft: every section at its empty value, active,
// no identity.
func (r *Registry) Defaults() document.Document {
	doc := document.Document{document.FieldActive: true}
	for _, s := range r.Sections {
		doc[s.Name] = document.DeepCopy(s.Default)
	}
	return doc
}

// Hydrate fills sections missing from a stored document with their empty
// values so that every declared path resolves while editing.
func (r *Registry) Hydrate(doc document.Document) document.Document {
	for _, s := range r.Sections {
		if _, ok := doc[s.Name]; ok {
			continue
		}
		doc = document.SetSection(doc, s.Name, document.DeepCopy(s.Default))
	}
	return doc
}

func (r *Registry) lookupArray(p docpath.Path) (ArraySpec, bool) {
	spec, ok := r.arrays[p.Template()]
	return spec, ok
}

// Template returns a copy of the default record for the array at p.
func (r *Registry) Template(p docpath.Path) (any, bool) {
	spec, ok := r.lookupArray(p)
	if !ok {
		return nil, false
	}
	return document.DeepCopy(spec.Template), true
}

// OrderField returns the explicit order attribute of the array at p, or ""
// when position alone carries order.
func (r *Registry) OrderField(p docpath.Path) string {
	spec, _ := r.lookupArray(p)
	return spec.OrderField
}

// Validate checks that every declared array resolves to an array in doc.
// Sections absent from doc are skipped.
func (r *Registry) Validate(doc document.Document) error {
	var problems []string
	for _, spec := range r.arrays {
		tpl := strings.Split(spec.Path, ".")
		if _, ok := doc[tpl[0]]; !ok {
			continue
		}
		for _, found := range expand(doc, tpl) {
			if found.missing {
				continue
			}
			if _, ok := found.value.([]any); !ok {
				problems = append(problems, fmt.Sprintf("%s is not an array", found.path))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("document does not match %s registry: %s", r.Kind, strings.Join(problems, "; "))
	}
	return nil
}

// Missing lists required fields of section that are empty in value.
func (r *Registry) Missing(section string, value any) []string {
	s, ok := r.Section(section)
	if !ok {
		return nil
	}
	holder := document.Document{section: value}
	var missing []string
	for _, field := range s.Required {
		p, err := docpath.Parse(section + "." + field)
		if err != nil {
			continue
		}
		v, ok := document.Get(holder, p)
		if !ok || isBlank(v) {
			missing = append(missing, p.String())
		}
	}
	return missing
}

// MissingAll runs Missing over every section of doc.
func (r *Registry) MissingAll(doc document.Document) []string {
	var missing []string
	for _, s := range r.Sections {
		missing = append(missing, r.Missing(s.Name, doc[s.Name])...)
	}
	return missing
}

// Title reads the display title of doc, or "".
func (r *Registry) Title(doc document.Document) string {
	if r.TitlePath == "" {
		return ""
	}
	v, ok := document.Get(doc, docpath.MustParse(r.TitlePath))
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func isBlank(v any) bool {
	switch c := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(c) == ""
	default:
		return false
	}
}

type match struct {
	path    string
	value   any
	missing bool
}

func expand(doc document.Document, tpl []string) []match {
	current := []match{{path: "", value: map[string]any(doc)}}
	for _, part := range tpl {
		var next []match
		for _, m := range current {
			if m.missing {
				continue
			}
			switch c := m.value.(type) {
			case map[string]any:
				if part == "*" {
					next = append(next, match{path: join(m.path, part), missing: true})
					continue
				}
				v, ok := c[part]
				next = append(next, match{path: join(m.path, part), value: v, missing: !ok})
			case []any:
				if part != "*" {
					next = append(next, match{path: join(m.path, part), missing: true})
					continue
				}
				for i, el := range c {
					next = append(next, match{path: join(m.path, fmt.Sprint(i)), value: el})
				}
			default:
				next = append(next, match{path: join(m.path, part), missing: true})
			}
		}
		current = next
	}
	return current
}

func join(prefix, part string) string {
	if prefix == "" {
		return part
	}
	return prefix + "." + part
}

// normalizeYAML converts map[any]any nodes, which yaml can produce for
// non-string keys, into map[string]any.
func normalizeYAML(v any) any {
	switch c := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(c))
		for k, child := range c {
			out[k] = normalizeYAML(child)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(c))
		for k, child := range c {
			out[fmt.Sprint(k)] = normalizeYAML(child)
		}
		return out
	case []any:
		out := make([]any, len(c))
		for i, child := range c {
			out[i] = normalizeYAML(child)
		}
		return out
	default:
		return v
	}
}
