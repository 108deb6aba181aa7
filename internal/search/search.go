package search

import (
	"context"
	"strings"

	"folio/api/internal/document"
)

// Hit is a single search result returned to the caller.
type Hit struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Title  string `json:"title"`
	Active bool   `json:"active"`
}

// Query describes a search request scoped to one kind.
type Query struct {
	Kind  string
	Text  string
	Limit int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Hit  `json:"results"`
	Total   int    `json:"total"`
	Query   string `json:"query"`
	Source  string `json:"source"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Hit, int, error)
	Healthy() bool
}

// Record is what we push into the index for a document.
type Record struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Title  string `json:"title"`
	Text   string `json:"text"`
	Active bool   `json:"active"`
}

// NewRecord builds the index record for doc. Text joins every string value
// of the document so any field is searchable.
func NewRecord(kind string, doc document.Document, title string) Record {
	var parts []string
	collectText(map[string]any(doc), &parts)
	return Record{
		ID:     doc.ID(),
		Kind:   kind,
		Title:  title,
		Text:   strings.Join(parts, " "),
		Active: doc.Active(),
	}
}

func collectText(v any, parts *[]string) {
	switch c := v.(type) {
	case document.Document:
		collectText(map[string]any(c), parts)
	case map[string]any:
		for key, child := range c {
			if key == document.FieldID || key == document.FieldVersion {
				continue
			}
			collectText(child, parts)
		}
	case []any:
		for _, child := range c {
			collectText(child, parts)
		}
	case string:
		if s := strings.TrimSpace(c); s != "" {
			*parts = append(*parts, s)
		}
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
