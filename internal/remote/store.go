// Package remote is the editor's view of the document backend.
package remote

import (
	"context"
	"errors"
	"fmt"

	"folio/api/internal/document"
)

// Store is the contract the editor needs from the backend. Any error is a
// failed operation; callers do not distinguish validation from transport
// failures.
type Store interface {
	List(ctx context.Context, kind string) ([]document.Document, error)
	Create(ctx context.Context, kind string, doc document.Document) (document.Document, error)
	UpdatePartial(ctx context.Context, kind, id string, sections map[string]any) (document.Document, error)
	UpdateFull(ctx context.Context, kind, id string, doc document.Document) (document.Document, error)
	Delete(ctx context.Context, kind, id string) error
	ToggleActive(ctx context.Context, kind, id string) (document.Document, error)
}

// Error is a non-success response from the backend.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Code == "" {
		return fmt.Sprintf("backend status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Message extracts a user-facing message from err, falling back to
// fallback for transport failures.
func Message(err error, fallback string) string {
	var remoteErr *Error
	if errors.As(err, &remoteErr) && remoteErr.Message != "" {
		return remoteErr.Message
	}
	return fallback
}

var ErrNotFound = &Error{Status: 404, Code: "NOT_FOUND", Message: "Document not found"}
