package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"folio/api/internal/document"
	"folio/api/internal/util"
)

// Memory is an in-process Store. Documents are kept in insertion order per
// kind and copied on the way in and out.
type Memory struct {
	mu    sync.Mutex
	kinds map[string][]document.Document
	rev   int
}

func NewMemory() *Memory {
	return &Memory{kinds: make(map[string][]document.Document)}
}

type memoryState struct {
	Revision  int                            `json:"revision"`
	Documents map[string][]document.Document `json:"documents"`
}

// ReadMemory restores a store saved with WriteTo. An empty reader gives an
// empty store.
func ReadMemory(r io.Reader) (*Memory, error) {
	var state memoryState
	if err := json.NewDecoder(r).Decode(&state); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode memory store: %w", err)
	}
	m := NewMemory()
	m.rev = state.Revision
	for kind, docs := range state.Documents {
		for _, doc := range docs {
			if doc != nil {
				m.kinds[kind] = append(m.kinds[kind], doc)
			}
		}
	}
	return m, nil
}

// WriteTo saves every stored document as JSON.
func (m *Memory) WriteTo(w io.Writer) (int64, error) {
	m.mu.Lock()
	payload, err := json.MarshalIndent(memoryState{Revision: m.rev, Documents: m.kinds}, "", "  ")
	m.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("encode memory store: %w", err)
	}
	n, err := w.Write(append(payload, '\n'))
	return int64(n), err
}

func (m *Memory) List(_ context.Context, kind string) ([]document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := m.kinds[kind]
	out := make([]document.Document, len(docs))
	for i, doc := range docs {
		out[i] = doc.Clone()
	}
	return out, nil
}

func (m *Memory) Get(_ context.Context, kind, id string) (document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.find(kind, id)
	if !ok {
		return nil, ErrNotFound
	}
	return m.kinds[kind][i].Clone(), nil
}

func (m *Memory) Create(_ context.Context, kind string, doc document.Document) (document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := doc.Clone()
	if stored == nil {
		stored = document.Document{}
	}
	stored[document.FieldID] = util.NewID(kind)
	if _, ok := stored[document.FieldActive]; !ok {
		stored[document.FieldActive] = true
	}
	m.stamp(stored)
	m.kinds[kind] = append(m.kinds[kind], stored)
	return stored.Clone(), nil
}

func (m *Memory) UpdatePartial(_ context.Context, kind, id string, sections map[string]any) (document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.find(kind, id)
	if !ok {
		return nil, ErrNotFound
	}
	stored := m.kinds[kind][i].Clone()
	for name, value := range sections {
		if isReserved(name) {
			continue
		}
		stored[name] = document.DeepCopy(value)
	}
	m.stamp(stored)
	m.kinds[kind][i] = stored
	return stored.Clone(), nil
}

func (m *Memory) UpdateFull(_ context.Context, kind, id string, doc document.Document) (document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.find(kind, id)
	if !ok {
		return nil, ErrNotFound
	}
	previous := m.kinds[kind][i]
	stored := doc.Clone()
	if stored == nil {
		stored = document.Document{}
	}
	stored[document.FieldID] = id
	if _, ok := stored[document.FieldActive]; !ok {
		stored[document.FieldActive] = previous.Active()
	}
	m.stamp(stored)
	m.kinds[kind][i] = stored
	return stored.Clone(), nil
}

func (m *Memory) Delete(_ context.Context, kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.find(kind, id)
	if !ok {
		return ErrNotFound
	}
	docs := m.kinds[kind]
	m.kinds[kind] = append(docs[:i:i], docs[i+1:]...)
	return nil
}

func (m *Memory) ToggleActive(_ context.Context, kind, id string) (document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.find(kind, id)
	if !ok {
		return nil, ErrNotFound
	}
	stored := m.kinds[kind][i].Clone()
	stored[document.FieldActive] = !stored.Active()
	m.stamp(stored)
	m.kinds[kind][i] = stored
	return stored.Clone(), nil
}

func (m *Memory) find(kind, id string) (int, bool) {
	for i, doc := range m.kinds[kind] {
		if doc.ID() == id {
			return i, true
		}
	}
	return 0, false
}

func (m *Memory) stamp(doc document.Document) {
	m.rev++
	doc[document.FieldVersion] = "mem-" + strconv.Itoa(m.rev)
}

func isReserved(name string) bool {
	return name == document.FieldID || name == document.FieldActive || name == document.FieldVersion
}
