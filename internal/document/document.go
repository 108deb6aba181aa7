// Package document holds the JSON document tree edited by admin screens and
// the pure functions that rewrite it.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Reserved top-level keys.
const (
	FieldID      = "id"
	FieldActive  = "active"
	FieldVersion = "version"
)

// Document is a JSON object tree: objects are map[string]any, arrays are
// []any, everything else is a scalar. The shape is not known at compile
// time; sections.Registry describes it.
type Document map[string]any

// ID returns the identity, or "" for an unsaved draft.
func (d Document) ID() string {
	id, _ := d[FieldID].(string)
	return id
}

func (d Document) HasIdentity() bool {
	return d.ID() != ""
}

func (d Document) Active() bool {
	active, _ := d[FieldActive].(bool)
	return active
}

func (d Document) Version() string {
	version, _ := d[FieldVersion].(string)
	return version
}

// Section returns the value of a top-level key.
func (d Document) Section(name string) (any, bool) {
	v, ok := d[name]
	return v, ok
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(DeepCopy(map[string]any(d)).(map[string]any))
}

// Decode parses a JSON object into a Document.
func Decode(data []byte) (Document, error) {
	var out map[string]any
	decoder := json.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return Document(out), nil
}

// DeepCopy copies every container reachable from v. Scalars are returned as is.
func DeepCopy(v any) any {
	switch c := v.(type) {
	case Document:
		return DeepCopy(map[string]any(c))
	case map[string]any:
		out := make(map[string]any, len(c))
		for k, child := range c {
			out[k] = DeepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(c))
		for i, child := range c {
			out[i] = DeepCopy(child)
		}
		return out
	default:
		return v
	}
}

// normalize unwraps Document values so nested objects always share one
// concrete type.
func normalize(v any) any {
	if d, ok := v.(Document); ok {
		return map[string]any(d)
	}
	return v
}
