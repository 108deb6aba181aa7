package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"folio/api/internal/cache"
	"folio/api/internal/document"
	"folio/api/internal/history"
	"folio/api/internal/search"
	"folio/api/internal/sections"
	"folio/api/internal/store"
)

type testEnv struct {
	service *Service
	store   *store.DocumentStore
	cache   *cache.RedisCache
	redis   *miniredis.Miniredis
	history *history.Recorder
	search  *search.Service
}

type envOption func(*testEnv, *[]Option)

func withTestCache(t *testing.T) envOption {
	return func(env *testEnv, opts *[]Option) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		env.redis = mr
		env.cache = cache.NewRedisCacheWithClient(client, time.Minute)
		t.Cleanup(func() { _ = env.cache.Close() })
		*opts = append(*opts, WithCache(env.cache))
	}
}

func withTestHistory(t *testing.T) envOption {
	return func(env *testEnv, opts *[]Option) {
		env.history = history.New(t.TempDir())
		*opts = append(*opts, WithHistory(env.history))
	}
}

func withDatabaseSearch(catalog *sections.Catalog) envOption {
	return func(env *testEnv, opts *[]Option) {
		env.search = search.NewService(nil, search.NewDatabase(env.store, func(rec store.DocumentRecord) string {
			reg, ok := catalog.Get(rec.Kind)
			if !ok {
				return ""
			}
			return reg.Title(rec.Document())
		}), nil)
		*opts = append(*opts, WithSearch(env.search))
	}
}

func newTestEnv(t *testing.T, extra ...func(*sections.Catalog) envOption) *testEnv {
	t.Helper()
	ctx := context.Background()
	db, dialect, err := store.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "folio.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(ctx, db, dialect, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	catalog, err := sections.Builtin()
	if err != nil {
		t.Fatalf("builtin catalog: %v", err)
	}

	env := &testEnv{store: store.NewDocumentStore(db, dialect)}
	var opts []Option
	for _, fn := range extra {
		fn(catalog)(env, &opts)
	}
	env.service = NewService(catalog, env.store, opts...)
	return env
}

func plain(opt envOption) func(*sections.Catalog) envOption {
	return func(*sections.Catalog) envOption { return opt }
}

func aboutDoc(title string) document.Document {
	return document.Document{
		"heroContent": map[string]any{"title": title, "subtitle": "Since 1998"},
	}
}

func requireDomainError(t *testing.T, err error, status int, code string) *DomainError {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError %s, got %v", code, err)
	}
	if domainErr.Status != status || domainErr.Code != code {
		t.Fatalf("expected %d %s, got %d %s (%s)", status, code, domainErr.Status, domainErr.Code, domainErr.Message)
	}
	return domainErr
}

func TestCreateFillsSectionsAndStamps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.service.Create(ctx, "about", aboutDoc("About us"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !strings.HasPrefix(created.ID(), "about_") {
		t.Fatalf("expected server-assigned about_ id, got %q", created.ID())
	}
	if !created.Active() {
		t.Fatalf("expected new document to be active")
	}
	if !strings.HasPrefix(created.Version(), "rev_") {
		t.Fatalf("expected rev_ version without history, got %q", created.Version())
	}
	if _, ok := created["timelineData"].([]any); !ok {
		t.Fatalf("expected timelineData to be filled with an empty list, got %#v", created["timelineData"])
	}

	got, err := env.service.Get(ctx, "about", created.ID())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Version() != created.Version() {
		t.Fatalf("expected stored version %q, got %q", created.Version(), got.Version())
	}
}

func TestCreateIgnoresClientIdentity(t *testing.T) {
	env := newTestEnv(t)
	doc := aboutDoc("About us")
	doc["id"] = "about_mine"
	doc["version"] = "v99"
	doc["active"] = false

	created, err := env.service.Create(context.Background(), "about", doc)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.ID() == "about_mine" || created.Version() == "v99" {
		t.Fatalf("expected server identity, got id=%q version=%q", created.ID(), created.Version())
	}
	if created.Active() {
		t.Fatalf("expected active=false to be honoured on create")
	}
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.Create(ctx, "about", document.Document{})
	domainErr := requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	if domainErr.Message != "heroContent.title is required" {
		t.Fatalf("unexpected message %q", domainErr.Message)
	}

	_, err = env.service.Create(ctx, "about", document.Document{
		"heroContent": map[string]any{"title": "x"},
		"sidebar":     map[string]any{},
	})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "UNKNOWN_SECTION")

	_, err = env.service.Create(ctx, "about", document.Document{
		"heroContent":  map[string]any{"title": "x"},
		"timelineData": "not a list",
	})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "INVALID_SHAPE")

	_, err = env.service.Create(ctx, "nope", aboutDoc("x"))
	requireDomainError(t, err, http.StatusNotFound, "UNKNOWN_KIND")

	_, err = env.service.Create(ctx, "event", document.Document{})
	domainErr = requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	if !strings.HasPrefix(domainErr.Message, "Missing required fields: ") {
		t.Fatalf("expected multi-field message, got %q", domainErr.Message)
	}
}

func TestUpdatePartialReplacesOnlyNamedSections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	created, err := env.service.Create(ctx, "about", aboutDoc("About us"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	updated, err := env.service.UpdatePartial(ctx, "about", created.ID(), map[string]any{
		"timelineData": []any{map[string]any{"year": "1998", "title": "Founded", "description": "", "order": 0}},
		"version":      "ignored",
	})
	if err != nil {
		t.Fatalf("UpdatePartial() error = %v", err)
	}
	if updated.Version() == created.Version() {
		t.Fatalf("expected a new version after update")
	}
	hero, _ := updated["heroContent"].(map[string]any)
	if hero["title"] != "About us" {
		t.Fatalf("expected heroContent untouched, got %#v", hero)
	}
	timeline, _ := updated["timelineData"].([]any)
	if len(timeline) != 1 {
		t.Fatalf("expected 1 timeline entry, got %#v", updated["timelineData"])
	}
}

func TestUpdatePartialValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	created, err := env.service.Create(ctx, "about", aboutDoc("About us"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_, err = env.service.UpdatePartial(ctx, "about", created.ID(), map[string]any{})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	_, err = env.service.UpdatePartial(ctx, "about", created.ID(), map[string]any{"heroContent": map[string]any{"title": "  "}})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	_, err = env.service.UpdatePartial(ctx, "about", created.ID(), map[string]any{"footer": map[string]any{}})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "UNKNOWN_SECTION")

	_, err = env.service.UpdatePartial(ctx, "about", "about_missing", map[string]any{"images": map[string]any{"banner": "", "gallery": []any{}}})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected not found for missing document, got %v", err)
	}
}

func TestUpdateFullAndToggle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	created, err := env.service.Create(ctx, "about", aboutDoc("About us"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	replaced, err := env.service.UpdateFull(ctx, "about", created.ID(), aboutDoc("Who we are"))
	if err != nil {
		t.Fatalf("UpdateFull() error = %v", err)
	}
	hero, _ := replaced["heroContent"].(map[string]any)
	if hero["title"] != "Who we are" {
		t.Fatalf("expected replaced hero, got %#v", hero)
	}
	if _, ok := replaced["team"].(map[string]any); !ok {
		t.Fatalf("expected absent team section to be filled, got %#v", replaced["team"])
	}
	if !replaced.Active() {
		t.Fatalf("expected active to be kept by full update")
	}

	toggled, err := env.service.ToggleActive(ctx, "about", created.ID())
	if err != nil {
		t.Fatalf("ToggleActive() error = %v", err)
	}
	if toggled.Active() {
		t.Fatalf("expected document to be deactivated")
	}
	if toggled.Version() == replaced.Version() {
		t.Fatalf("expected toggle to stamp a new version")
	}
}

func TestDeleteDocument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	created, err := env.service.Create(ctx, "about", aboutDoc("About us"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := env.service.Delete(ctx, "about", created.ID()); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := env.service.Get(ctx, "about", created.ID()); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected deleted document to be gone, got %v", err)
	}
	if err := env.service.Delete(ctx, "about", created.ID()); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected second delete to report not found, got %v", err)
	}
}

func TestKindsListsRegistries(t *testing.T) {
	env := newTestEnv(t)
	kinds := env.service.Kinds()
	if len(kinds) == 0 {
		t.Fatalf("expected builtin kinds")
	}
	var about *KindInfo
	for i := range kinds {
		if kinds[i].Kind == "about" {
			about = &kinds[i]
		}
	}
	if about == nil {
		t.Fatalf("expected about kind, got %#v", kinds)
	}
	if about.TitlePath != "heroContent.title" || len(about.Sections) != 5 {
		t.Fatalf("unexpected about info %#v", about)
	}
	if about.Sections[0].Name != "heroContent" || about.Sections[0].Required[0] != "title" {
		t.Fatalf("unexpected first section %#v", about.Sections[0])
	}
}

func TestListReadsThroughCache(t *testing.T) {
	env := newTestEnv(t, plain(withTestCache(t)))
	ctx := context.Background()

	if _, err := env.service.Create(ctx, "about", aboutDoc("First")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	docs, err := env.service.List(ctx, "about")
	if err != nil || len(docs) != 1 {
		t.Fatalf("List() = %d docs, %v", len(docs), err)
	}
	if !env.redis.Exists("folio:list:about") {
		t.Fatalf("expected list to be cached")
	}

	// A write behind the service's back is hidden by the cache.
	if _, err := env.store.Insert(ctx, store.DocumentRecord{ID: "about_raw", Kind: "about", Body: aboutDoc("Raw"), Active: true}, nil); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	docs, _ = env.service.List(ctx, "about")
	if len(docs) != 1 {
		t.Fatalf("expected cached list of 1, got %d", len(docs))
	}

	if _, err := env.service.Create(ctx, "about", aboutDoc("Second")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if env.redis.Exists("folio:list:about") {
		t.Fatalf("expected create to invalidate the cached list")
	}
	docs, _ = env.service.List(ctx, "about")
	if len(docs) != 3 {
		t.Fatalf("expected 3 documents after invalidation, got %d", len(docs))
	}
}

// slowListStore holds the first List call after its database read until
// release is closed.
type slowListStore struct {
	*store.DocumentStore
	once    sync.Once
	loaded  chan struct{}
	release chan struct{}
}

func (s *slowListStore) List(ctx context.Context, kind string) ([]store.DocumentRecord, error) {
	records, err := s.DocumentStore.List(ctx, kind)
	s.once.Do(func() {
		close(s.loaded)
		<-s.release
	})
	return records, err
}

func TestListDoesNotCacheReadThatRacedAWrite(t *testing.T) {
	env := newTestEnv(t, plain(withTestCache(t)))
	ctx := context.Background()
	catalog, err := sections.Builtin()
	if err != nil {
		t.Fatalf("builtin catalog: %v", err)
	}
	slow := &slowListStore{DocumentStore: env.store, loaded: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(catalog, slow, WithCache(env.cache))

	type listResult struct {
		docs []document.Document
		err  error
	}
	done := make(chan listResult, 1)
	go func() {
		docs, err := svc.List(ctx, "about")
		done <- listResult{docs, err}
	}()
	<-slow.loaded

	created, err := svc.Create(ctx, "about", aboutDoc("Written during the read"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	close(slow.release)
	first := <-done
	if first.err != nil {
		t.Fatalf("List() error = %v", first.err)
	}
	if len(first.docs) != 0 {
		t.Fatalf("expected the overlapping read to see the old list, got %d docs", len(first.docs))
	}
	if env.redis.Exists("folio:list:about") {
		t.Fatalf("expected the overlapping read to stay out of the cache")
	}

	docs, err := svc.List(ctx, "about")
	if err != nil || len(docs) != 1 || docs[0].ID() != created.ID() {
		t.Fatalf("expected the created document after the write, got %d docs, %v", len(docs), err)
	}
	if !env.redis.Exists("folio:list:about") {
		t.Fatalf("expected the fresh list to be cached")
	}
}

func TestListSurvivesCacheOutage(t *testing.T) {
	env := newTestEnv(t, plain(withTestCache(t)))
	ctx := context.Background()
	if _, err := env.service.Create(ctx, "about", aboutDoc("First")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	env.redis.Close()

	docs, err := env.service.List(ctx, "about")
	if err != nil || len(docs) != 1 {
		t.Fatalf("expected list from database during cache outage, got %d docs, %v", len(docs), err)
	}
	configured, err := env.service.PingCache(ctx)
	if !configured || err == nil {
		t.Fatalf("expected configured cache to fail ping, got %v %v", configured, err)
	}
}

func TestHistoryTracksVersions(t *testing.T) {
	env := newTestEnv(t, plain(withTestHistory(t)))
	ctx := context.Background()

	created, err := env.service.Create(ctx, "about", aboutDoc("About us"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	updated, err := env.service.UpdatePartial(ctx, "about", created.ID(), map[string]any{
		"heroContent": map[string]any{"title": "Who we are"},
	})
	if err != nil {
		t.Fatalf("UpdatePartial() error = %v", err)
	}

	commits, err := env.service.History(ctx, "about", created.ID(), 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(commits))
	}
	if commits[0].Hash != updated.Version() || commits[1].Hash != created.Version() {
		t.Fatalf("expected versions to match commit hashes, got %#v", commits)
	}
	if commits[0].Message != "Update heroContent" || commits[1].Message != "Create about" {
		t.Fatalf("unexpected commit messages %q / %q", commits[0].Message, commits[1].Message)
	}

	old, err := env.service.Revision(ctx, "about", created.ID(), created.Version())
	if err != nil {
		t.Fatalf("Revision() error = %v", err)
	}
	hero, _ := old["heroContent"].(map[string]any)
	if hero["title"] != "About us" {
		t.Fatalf("expected original title in first revision, got %#v", hero)
	}
}

func TestHistoryDisabled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	created, err := env.service.Create(ctx, "about", aboutDoc("About us"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, err = env.service.History(ctx, "about", created.ID(), 10)
	requireDomainError(t, err, http.StatusNotFound, "HISTORY_DISABLED")
}

func TestSearchFallsBackToDatabase(t *testing.T) {
	catalogOpt := func(c *sections.Catalog) envOption { return withDatabaseSearch(c) }
	env := newTestEnv(t, catalogOpt)
	ctx := context.Background()

	if _, err := env.service.Create(ctx, "about", aboutDoc("Harbour festival")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := env.service.Create(ctx, "about", aboutDoc("Winter market")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	resp, err := env.service.Search(ctx, "about", "harbour", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Source != "database" || resp.Total != 1 {
		t.Fatalf("expected 1 database hit, got %#v", resp)
	}
	if resp.Results[0].Title != "Harbour festival" {
		t.Fatalf("expected title from registry, got %q", resp.Results[0].Title)
	}
	env.search.Wait()
}

func TestSearchWithoutIndex(t *testing.T) {
	env := newTestEnv(t)
	resp, err := env.service.Search(context.Background(), "about", "x", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Source != "none" || len(resp.Results) != 0 {
		t.Fatalf("unexpected response %#v", resp)
	}
}
