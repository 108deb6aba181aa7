package store

import (
	"context"
	"time"

	"folio/api/internal/document"
)

// DocumentRecord is one stored document. Body never carries the reserved
// id, active or version keys; those live in their own columns.
type DocumentRecord struct {
	ID        string
	Kind      string
	Body      document.Document
	Active    bool
	Version   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Document folds the record's columns back into its body, which is the
// shape clients see.
func (r DocumentRecord) Document() document.Document {
	doc := r.Body.Clone()
	if doc == nil {
		doc = document.Document{}
	}
	doc[document.FieldID] = r.ID
	doc[document.FieldActive] = r.Active
	if r.Version != "" {
		doc[document.FieldVersion] = r.Version
	}
	return doc
}

// Stamper returns the version for a record that is about to be written. It
// runs inside the write's transaction; an error aborts the write.
type Stamper func(ctx context.Context, rec DocumentRecord) (string, error)

func stripReserved(doc document.Document) document.Document {
	out := doc.Clone()
	if out == nil {
		out = document.Document{}
	}
	delete(out, document.FieldID)
	delete(out, document.FieldActive)
	delete(out, document.FieldVersion)
	return out
}
