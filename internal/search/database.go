package search

import (
	"context"
	"strings"

	"folio/api/internal/store"
)

// TitleFunc reads the display title of a stored record.
type TitleFunc func(rec store.DocumentRecord) string

type recordSearcher interface {
	Search(ctx context.Context, kind, text string, limit int) ([]store.DocumentRecord, error)
}

// Database implements Searcher over the document store. It is the fallback
// when Meilisearch is not configured or unhealthy.
type Database struct {
	store recordSearcher
	title TitleFunc
}

func NewDatabase(s recordSearcher, title TitleFunc) *Database {
	return &Database{store: s, title: title}
}

// Healthy always returns true; if the database is down the whole API is.
func (d *Database) Healthy() bool {
	return true
}

func (d *Database) Search(ctx context.Context, q Query) ([]Hit, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	records, err := d.store.Search(ctx, q.Kind, q.Text, normalizeLimit(q.Limit))
	if err != nil {
		return nil, 0, err
	}
	hits := make([]Hit, 0, len(records))
	for _, rec := range records {
		hit := Hit{ID: rec.ID, Kind: rec.Kind, Active: rec.Active}
		if d.title != nil {
			hit.Title = d.title(rec)
		}
		hits = append(hits, hit)
	}
	return hits, len(hits), nil
}
