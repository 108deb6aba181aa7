package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"folio/api/internal/document"
)

type DocumentStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewDocumentStore(db *sql.DB, dialect Dialect) *DocumentStore {
	return &DocumentStore{
		db:      db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *DocumentStore) DB() *sql.DB {
	return s.db
}

func (s *DocumentStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const selectColumns = `SELECT id, kind, body, active, version, created_at, updated_at FROM documents`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (DocumentRecord, error) {
	var (
		rec  DocumentRecord
		body string
	)
	if err := row.Scan(&rec.ID, &rec.Kind, &body, &rec.Active, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return DocumentRecord{}, err
	}
	doc, err := document.Decode([]byte(body))
	if err != nil {
		return DocumentRecord{}, fmt.Errorf("decode document %s: %w", rec.ID, err)
	}
	rec.Body = doc
	return rec, nil
}

func (s *DocumentStore) List(ctx context.Context, kind string) ([]DocumentRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(selectColumns+`
		WHERE kind=?
		ORDER BY created_at ASC, id ASC
	`), kind)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows *sql.Rows) ([]DocumentRecord, error) {
	items := make([]DocumentRecord, 0)
	for rows.Next() {
		item, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// Get returns sql.ErrNoRows when the document does not exist or belongs to
// another kind.
func (s *DocumentStore) Get(ctx context.Context, kind, id string) (DocumentRecord, error) {
	return s.get(ctx, s.db, kind, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *DocumentStore) get(ctx context.Context, q queryer, kind, id string) (DocumentRecord, error) {
	rec, err := scanRecord(q.QueryRowContext(ctx, s.dialect.Rebind(selectColumns+` WHERE kind=? AND id=?`), kind, id))
	if err != nil {
		return DocumentRecord{}, err
	}
	return rec, nil
}

// Insert stores a new record. CreatedAt and UpdatedAt are set here.
func (s *DocumentStore) Insert(ctx context.Context, rec DocumentRecord, stamp Stamper) (DocumentRecord, error) {
	if rec.ID == "" || rec.Kind == "" {
		return DocumentRecord{}, errors.New("insert document: id and kind are required")
	}
	now := s.now()
	rec.Body = stripReserved(rec.Body)
	rec.CreatedAt = now
	rec.UpdatedAt = now

	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.applyStamp(ctx, &rec, stamp); err != nil {
			return err
		}
		body, err := json.Marshal(rec.Body)
		if err != nil {
			return fmt.Errorf("encode document: %w", err)
		}
		_, err = tx.ExecContext(ctx, s.dialect.Rebind(`
			INSERT INTO documents (id, kind, body, active, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`), rec.ID, rec.Kind, string(body), rec.Active, rec.Version, rec.CreatedAt, rec.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		return nil
	})
	if err != nil {
		return DocumentRecord{}, err
	}
	return rec, nil
}

// MergeSections replaces the named top-level sections of a stored document,
// leaving the others untouched. Reserved keys in sections are ignored.
func (s *DocumentStore) MergeSections(ctx context.Context, kind, id string, sections map[string]any, stamp Stamper) (DocumentRecord, error) {
	return s.modify(ctx, kind, id, stamp, func(rec *DocumentRecord) {
		body := rec.Body.Clone()
		for name, value := range sections {
			body[name] = document.DeepCopy(value)
		}
		rec.Body = stripReserved(body)
	})
}

// Replace overwrites the whole body. The active flag is kept unless body
// carries one.
func (s *DocumentStore) Replace(ctx context.Context, kind, id string, body document.Document, stamp Stamper) (DocumentRecord, error) {
	return s.modify(ctx, kind, id, stamp, func(rec *DocumentRecord) {
		if active, ok := body[document.FieldActive].(bool); ok {
			rec.Active = active
		}
		rec.Body = stripReserved(body)
	})
}

func (s *DocumentStore) ToggleActive(ctx context.Context, kind, id string, stamp Stamper) (DocumentRecord, error) {
	return s.modify(ctx, kind, id, stamp, func(rec *DocumentRecord) {
		rec.Active = !rec.Active
	})
}

func (s *DocumentStore) modify(ctx context.Context, kind, id string, stamp Stamper, fn func(rec *DocumentRecord)) (DocumentRecord, error) {
	var out DocumentRecord
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		rec, err := s.get(ctx, tx, kind, id)
		if err != nil {
			return err
		}
		if rec.Body == nil {
			rec.Body = document.Document{}
		}
		fn(&rec)
		rec.UpdatedAt = s.now()
		if err := s.applyStamp(ctx, &rec, stamp); err != nil {
			return err
		}
		body, err := json.Marshal(rec.Body)
		if err != nil {
			return fmt.Errorf("encode document: %w", err)
		}
		_, err = tx.ExecContext(ctx, s.dialect.Rebind(`
			UPDATE documents
			SET body=?, active=?, version=?, updated_at=?
			WHERE kind=? AND id=?
		`), string(body), rec.Active, rec.Version, rec.UpdatedAt, kind, id)
		if err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		out = rec
		return nil
	})
	if err != nil {
		return DocumentRecord{}, err
	}
	return out, nil
}

func (s *DocumentStore) applyStamp(ctx context.Context, rec *DocumentRecord, stamp Stamper) error {
	if stamp == nil {
		return nil
	}
	version, err := stamp(ctx, *rec)
	if err != nil {
		return fmt.Errorf("stamp document %s: %w", rec.ID, err)
	}
	rec.Version = version
	return nil
}

// Delete returns sql.ErrNoRows when nothing matched.
func (s *DocumentStore) Delete(ctx context.Context, kind, id string) error {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM documents WHERE kind=? AND id=?`), kind, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Search is a case-insensitive substring match over the stored JSON body.
func (s *DocumentStore) Search(ctx context.Context, kind, text string, limit int) ([]DocumentRecord, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return []DocumentRecord{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(strings.ToLower(text)) + "%"
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(selectColumns+`
		WHERE kind=? AND LOWER(body) LIKE ? ESCAPE '\'
		ORDER BY updated_at DESC, id ASC
		LIMIT ?
	`), kind, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
