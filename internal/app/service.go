package app

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"folio/api/internal/document"
	"folio/api/internal/history"
	"folio/api/internal/search"
	"folio/api/internal/sections"
	"folio/api/internal/store"
	"folio/api/internal/util"
)

type documentStore interface {
	List(ctx context.Context, kind string) ([]store.DocumentRecord, error)
	Get(ctx context.Context, kind, id string) (store.DocumentRecord, error)
	Insert(ctx context.Context, rec store.DocumentRecord, stamp store.Stamper) (store.DocumentRecord, error)
	MergeSections(ctx context.Context, kind, id string, sections map[string]any, stamp store.Stamper) (store.DocumentRecord, error)
	Replace(ctx context.Context, kind, id string, body document.Document, stamp store.Stamper) (store.DocumentRecord, error)
	Delete(ctx context.Context, kind, id string) error
	ToggleActive(ctx context.Context, kind, id string, stamp store.Stamper) (store.DocumentRecord, error)
	Ping(ctx context.Context) error
}

type listCache interface {
	List(ctx context.Context, kind string) ([]document.Document, bool, error)
	Generation(ctx context.Context, kind string) (int64, error)
	StoreList(ctx context.Context, kind string, gen int64, docs []document.Document) (bool, error)
	Invalidate(ctx context.Context, kind string) error
	Ping(ctx context.Context) error
}

type historyLog interface {
	Record(kind, id string, doc document.Document, message string) (history.Commit, error)
	History(kind, id string, limit int) ([]history.Commit, error)
	Snapshot(kind, id, hash string) (document.Document, error)
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	Index(rec search.Record)
	Remove(id string)
	ReindexAll(records []search.Record)
}

// Service holds the document rules shared by every kind: section names are
// checked against the kind's registry, required fields are enforced, and
// every write gets a fresh version.
type Service struct {
	catalog *sections.Catalog
	store   documentStore
	cache   listCache
	history historyLog
	search  searchIndex
	logger  *zap.Logger
	newID   func(prefix string) string
}

type Option func(*Service)

func WithCache(c listCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithHistory(h historyLog) Option {
	return func(s *Service) { s.history = h }
}

func WithSearch(idx searchIndex) Option {
	return func(s *Service) { s.search = idx }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(catalog *sections.Catalog, ds documentStore, opts ...Option) *Service {
	s := &Service{
		catalog: catalog,
		store:   ds,
		logger:  zap.NewNop(),
		newID:   util.NewID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type SectionInfo struct {
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Required []string `json:"required,omitempty"`
	Arrays   []string `json:"arrays,omitempty"`
}

type KindInfo struct {
	Kind      string            `json:"kind"`
	Label     string            `json:"label"`
	TitlePath string            `json:"titlePath,omitempty"`
	Sections  []SectionInfo     `json:"sections"`
	Draft     document.Document `json:"draft"`
}

func (s *Service) Kinds() []KindInfo {
	kinds := s.catalog.Kinds()
	out := make([]KindInfo, 0, len(kinds))
	for _, kind := range kinds {
		reg, _ := s.catalog.Get(kind)
		info := KindInfo{Kind: reg.Kind, Label: reg.Label, TitlePath: reg.TitlePath, Draft: reg.Defaults()}
		for _, sec := range reg.Sections {
			si := SectionInfo{Name: sec.Name, Label: sec.Label, Required: sec.Required}
			for _, arr := range sec.Arrays {
				si.Arrays = append(si.Arrays, arr.Path)
			}
			info.Sections = append(info.Sections, si)
		}
		out = append(out, info)
	}
	return out
}

func (s *Service) registry(kind string) (*sections.Registry, error) {
	reg, ok := s.catalog.Get(kind)
	if !ok {
		return nil, unknownKind(kind)
	}
	return reg, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingCache reports the cache state: nil when healthy or not configured.
func (s *Service) PingCache(ctx context.Context) (configured bool, err error) {
	if s.cache == nil {
		return false, nil
	}
	return true, s.cache.Ping(ctx)
}

// List serves from the cache when it can. Cache failures are logged and
// bypassed. A database read that overlapped a write is returned but not
// cached.
func (s *Service) List(ctx context.Context, kind string) ([]document.Document, error) {
	if _, err := s.registry(kind); err != nil {
		return nil, err
	}
	cacheable := false
	var gen int64
	if s.cache != nil {
		docs, ok, err := s.cache.List(ctx, kind)
		if err != nil {
			s.logger.Warn("list cache read failed", zap.String("kind", kind), zap.Error(err))
		} else if ok {
			return docs, nil
		}
		if gen, err = s.cache.Generation(ctx, kind); err != nil {
			s.logger.Warn("list cache generation read failed", zap.String("kind", kind), zap.Error(err))
		} else {
			cacheable = true
		}
	}

	records, err := s.store.List(ctx, kind)
	if err != nil {
		return nil, err
	}
	docs := make([]document.Document, 0, len(records))
	for _, rec := range records {
		docs = append(docs, rec.Document())
	}

	if cacheable {
		stored, err := s.cache.StoreList(ctx, kind, gen, docs)
		if err != nil {
			s.logger.Warn("list cache write failed", zap.String("kind", kind), zap.Error(err))
		} else if !stored {
			s.logger.Debug("list changed while loading, not cached", zap.String("kind", kind))
		}
	}
	return docs, nil
}

func (s *Service) Get(ctx context.Context, kind, id string) (document.Document, error) {
	if _, err := s.registry(kind); err != nil {
		return nil, err
	}
	rec, err := s.store.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	return rec.Document(), nil
}

// Create stores a new document. The server assigns the id; sections missing
// from doc are filled with their empty values.
func (s *Service) Create(ctx context.Context, kind string, doc document.Document) (document.Document, error) {
	reg, err := s.registry(kind)
	if err != nil {
		return nil, err
	}
	body, err := s.checkDocument(reg, doc)
	if err != nil {
		return nil, err
	}

	active := true
	if v, ok := doc[document.FieldActive].(bool); ok {
		active = v
	}
	rec := store.DocumentRecord{
		ID:     s.newID(kind),
		Kind:   kind,
		Body:   body,
		Active: active,
	}
	saved, err := s.store.Insert(ctx, rec, s.stamper(kind, "Create "+kind))
	if err != nil {
		return nil, err
	}
	return s.afterWrite(ctx, reg, saved), nil
}

// UpdatePartial replaces only the named sections.
func (s *Service) UpdatePartial(ctx context.Context, kind, id string, secs map[string]any) (document.Document, error) {
	reg, err := s.registry(kind)
	if err != nil {
		return nil, err
	}
	names, err := s.checkSections(reg, secs)
	if err != nil {
		return nil, err
	}

	saved, err := s.store.MergeSections(ctx, kind, id, withoutReserved(secs), s.stamper(kind, "Update "+strings.Join(names, ", ")))
	if err != nil {
		return nil, err
	}
	return s.afterWrite(ctx, reg, saved), nil
}

// UpdateFull replaces the whole document body.
func (s *Service) UpdateFull(ctx context.Context, kind, id string, doc document.Document) (document.Document, error) {
	reg, err := s.registry(kind)
	if err != nil {
		return nil, err
	}
	body, err := s.checkDocument(reg, doc)
	if err != nil {
		return nil, err
	}
	if active, ok := doc[document.FieldActive].(bool); ok {
		body[document.FieldActive] = active
	}

	saved, err := s.store.Replace(ctx, kind, id, body, s.stamper(kind, "Replace document"))
	if err != nil {
		return nil, err
	}
	return s.afterWrite(ctx, reg, saved), nil
}

func (s *Service) ToggleActive(ctx context.Context, kind, id string) (document.Document, error) {
	reg, err := s.registry(kind)
	if err != nil {
		return nil, err
	}
	saved, err := s.store.ToggleActive(ctx, kind, id, func(ctx context.Context, rec store.DocumentRecord) (string, error) {
		message := "Deactivate"
		if rec.Active {
			message = "Activate"
		}
		return s.stamper(kind, message)(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	return s.afterWrite(ctx, reg, saved), nil
}

// Delete removes a document. Its history repository is kept.
func (s *Service) Delete(ctx context.Context, kind, id string) error {
	if _, err := s.registry(kind); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, kind, id); err != nil {
		return err
	}
	s.invalidate(ctx, kind)
	if s.search != nil {
		s.search.Remove(id)
	}
	return nil
}

func (s *Service) Search(ctx context.Context, kind, text string, limit int) (search.Response, error) {
	if _, err := s.registry(kind); err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{Results: []search.Hit{}, Query: text, Source: "none"}, nil
	}
	return s.search.Search(ctx, search.Query{Kind: kind, Text: text, Limit: limit}), nil
}

func (s *Service) History(ctx context.Context, kind, id string, limit int) ([]history.Commit, error) {
	if err := s.requireHistory(ctx, kind, id); err != nil {
		return nil, err
	}
	return s.history.History(kind, id, limit)
}

// Revision returns the document as committed at hash.
func (s *Service) Revision(ctx context.Context, kind, id, hash string) (document.Document, error) {
	if err := s.requireHistory(ctx, kind, id); err != nil {
		return nil, err
	}
	return s.history.Snapshot(kind, id, hash)
}

func (s *Service) requireHistory(ctx context.Context, kind, id string) error {
	if _, err := s.Get(ctx, kind, id); err != nil {
		return err
	}
	if s.history == nil {
		return domainError(http.StatusNotFound, "HISTORY_DISABLED", "Revision history is not enabled", nil)
	}
	return nil
}

// Bootstrap pushes every stored document into the search index.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.search == nil {
		return nil
	}
	var records []search.Record
	for _, kind := range s.catalog.Kinds() {
		reg, _ := s.catalog.Get(kind)
		stored, err := s.store.List(ctx, kind)
		if err != nil {
			return fmt.Errorf("bootstrap %s: %w", kind, err)
		}
		for _, rec := range stored {
			doc := rec.Document()
			records = append(records, search.NewRecord(kind, doc, reg.Title(doc)))
		}
	}
	s.search.ReindexAll(records)
	s.logger.Info("search index bootstrapped", zap.Int("documents", len(records)))
	return nil
}

func (s *Service) stamper(kind, message string) store.Stamper {
	return func(_ context.Context, rec store.DocumentRecord) (string, error) {
		if s.history == nil {
			return s.newID("rev"), nil
		}
		commit, err := s.history.Record(kind, rec.ID, rec.Document(), message)
		if err != nil {
			return "", err
		}
		return commit.Hash, nil
	}
}

func (s *Service) afterWrite(ctx context.Context, reg *sections.Registry, rec store.DocumentRecord) document.Document {
	doc := rec.Document()
	s.invalidate(ctx, rec.Kind)
	if s.search != nil {
		s.search.Index(search.NewRecord(rec.Kind, doc, reg.Title(doc)))
	}
	return doc
}

func (s *Service) invalidate(ctx context.Context, kind string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, kind); err != nil {
		s.logger.Warn("list cache invalidation failed", zap.String("kind", kind), zap.Error(err))
	}
}

// checkDocument validates a whole document and returns its body with the
// reserved keys removed and absent sections filled in.
func (s *Service) checkDocument(reg *sections.Registry, doc document.Document) (document.Document, error) {
	if doc == nil {
		doc = document.Document{}
	}
	body := withoutReserved(doc)
	if unknown := unknownNames(reg, body); len(unknown) > 0 {
		return nil, unknownSections(unknown)
	}
	body = reg.Hydrate(body)
	if err := reg.Validate(body); err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "INVALID_SHAPE", err.Error(), nil)
	}
	if missing := reg.MissingAll(body); len(missing) > 0 {
		return nil, missingFields(missing)
	}
	return body, nil
}

// checkSections validates a partial update and returns the section names
// in order.
func (s *Service) checkSections(reg *sections.Registry, secs map[string]any) ([]string, error) {
	body := withoutReserved(secs)
	if len(body) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "At least one section is required", nil)
	}
	if unknown := unknownNames(reg, body); len(unknown) > 0 {
		return nil, unknownSections(unknown)
	}
	if err := reg.Validate(body); err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "INVALID_SHAPE", err.Error(), nil)
	}
	var missing []string
	names := make([]string, 0, len(body))
	for name, value := range body {
		names = append(names, name)
		missing = append(missing, reg.Missing(name, value)...)
	}
	sort.Strings(names)
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, missingFields(missing)
	}
	return names, nil
}

func unknownNames(reg *sections.Registry, body document.Document) []string {
	var unknown []string
	for name := range body {
		if !reg.Has(name) {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	return unknown
}

func withoutReserved(doc map[string]any) document.Document {
	out := make(document.Document, len(doc))
	for name, value := range doc {
		switch name {
		case document.FieldID, document.FieldActive, document.FieldVersion:
			continue
		}
		out[name] = document.DeepCopy(value)
	}
	return out
}
