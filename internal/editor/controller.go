// Package editor runs one editing session over a sectioned document: it
// owns the in-memory document, decides whether a save creates the document
// or partially updates it, and reports outcomes through a notification
// channel.
package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"folio/api/internal/docpath"
	"folio/api/internal/document"
	"folio/api/internal/notify"
	"folio/api/internal/remote"
	"folio/api/internal/sections"
)

var (
	ErrConfirmationRequired = errors.New("delete requires confirmation")
	ErrNoIdentity           = errors.New("document has no identity")
	ErrClosed               = errors.New("editor session is closed")
	ErrNotInList            = errors.New("document not in the loaded list")
	errNoIdentityReturned   = errors.New("backend returned a document without identity")
)

type Mode string

const (
	ModeCreate Mode = "create"
	ModeEdit   Mode = "edit"
)

// Confirmation is the caller's explicit consent to delete one document.
type Confirmation struct {
	id string
}

// Confirm records that the user agreed to delete the document with id.
func Confirm(id string) Confirmation {
	return Confirmation{id: id}
}

func (c Confirmation) confirms(id string) bool {
	return c.id != "" && c.id == id
}

// SessionState is a read-only snapshot for rendering.
type SessionState struct {
	Document     document.Document
	Mode         Mode
	Loading      map[string]bool
	Notification *notify.Notification
}

type Controller struct {
	kind     string
	registry *sections.Registry
	store    remote.Store
	notes    *notify.Channel
	logger   *zap.Logger

	mu       sync.Mutex
	doc      document.Document
	gen      uint64
	loading  map[string]int
	creating chan struct{}
	docs     []document.Document
	closed   bool

	// writes counts successful store writes; listed is the count the
	// cached list was read after.
	writes    uint64
	listed    uint64
	refreshes singleflight.Group
}

type Option func(*Controller)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithNotifications replaces the default notification channel.
func WithNotifications(ch *notify.Channel) Option {
	return func(c *Controller) { c.notes = ch }
}

// New starts a session on a blank draft of the registry's kind.
func New(registry *sections.Registry, store remote.Store, opts ...Option) *Controller {
	c := &Controller{
		kind:     registry.Kind,
		registry: registry,
		store:    store,
		logger:   zap.NewNop(),
		doc:      registry.Defaults(),
		loading:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.notes == nil {
		c.notes = notify.New()
	}
	c.logger = c.logger.With(zap.String("kind", c.kind))
	return c
}

// Open loads the document list. Call it when the editor is mounted.
func (c *Controller) Open(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		c.notes.Error("", "Failed to load documents: "+remote.Message(err, "backend unavailable"))
		return err
	}
	return nil
}

// Close ends the session. Saves still in flight finish against the store
// but their results are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.notes.Close()
}

func (c *Controller) Kind() string { return c.kind }

func (c *Controller) Registry() *sections.Registry { return c.registry }

func (c *Controller) Notifications() *notify.Channel { return c.notes }

// Document returns the current document. It is never mutated in place, so
// the caller may read it while saves run.
func (c *Controller) Document() document.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc
}

// Mode is edit exactly when the document has an identity.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return modeOf(c.doc)
}

func modeOf(doc document.Document) Mode {
	if doc.HasIdentity() {
		return ModeEdit
	}
	return ModeCreate
}

func (c *Controller) Loading(section string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading[section] > 0
}

func (c *Controller) State() SessionState {
	c.mu.Lock()
	state := SessionState{
		Document: c.doc,
		Mode:     modeOf(c.doc),
		Loading:  make(map[string]bool, len(c.loading)),
	}
	for name, n := range c.loading {
		state.Loading[name] = n > 0
	}
	c.mu.Unlock()
	if n, ok := c.notes.Current(); ok {
		state.Notification = &n
	}
	return state
}

// Documents returns the cached list from the last refresh.
func (c *Controller) Documents() []document.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]document.Document, len(c.docs))
	copy(out, c.docs)
	return out
}

// Refresh reloads the cached list. Concurrent calls share one request.
func (c *Controller) Refresh(ctx context.Context) error {
	return c.refreshSince(ctx, 0)
}

// refreshSince returns once the cached list was read after write number
// since. A shared request that began before that write is waited out and
// followed by a fresh one.
func (c *Controller) refreshSince(ctx context.Context, since uint64) error {
	for {
		_, err, _ := c.refreshes.Do("list", func() (any, error) {
			c.mu.Lock()
			started := c.writes
			c.mu.Unlock()

			docs, err := c.store.List(ctx, c.kind)
			if err != nil {
				return nil, err
			}
			c.mu.Lock()
			if started >= c.listed {
				c.docs = docs
				c.listed = started
			}
			c.mu.Unlock()
			return nil, nil
		})
		if err != nil {
			return fmt.Errorf("refresh %s list: %w", c.kind, err)
		}
		c.mu.Lock()
		fresh := c.listed >= since
		c.mu.Unlock()
		if fresh {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("refresh %s list: %w", c.kind, err)
		}
	}
}

// LoadForEdit replaces the session document with an existing one.
func (c *Controller) LoadForEdit(doc document.Document) error {
	if !doc.HasIdentity() {
		return ErrNoIdentity
	}
	hydrated := c.registry.Hydrate(doc.Clone())
	if err := c.registry.Validate(hydrated); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc = hydrated
	c.gen++
	return nil
}

// Select opens a document from the cached list for editing.
func (c *Controller) Select(id string) error {
	for _, doc := range c.Documents() {
		if doc.ID() == id {
			return c.LoadForEdit(doc)
		}
	}
	return fmt.Errorf("%w: %s", ErrNotInList, id)
}

// ResetToDraft discards the current document and identity.
func (c *Controller) ResetToDraft() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc = c.registry.Defaults()
	c.gen++
}

func (c *Controller) acquire(section string) func() {
	c.mu.Lock()
	c.loading[section]++
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.loading[section]--
		if c.loading[section] <= 0 {
			delete(c.loading, section)
		}
	}
}

func (c *Controller) label(section string) string {
	if section == sections.Complete {
		return "Document"
	}
	if s, ok := c.registry.Section(section); ok && s.Label != "" {
		return s.Label
	}
	return section
}

// SaveSection persists one section. On a draft the whole document is
// created, because there is nothing on the server to merge into; once the
// document has an identity only {section: value} is sent. The section name
// sections.Complete saves the whole document in either mode, and value is
// ignored for it.
//
// Failures are reported as an error notification scoped to the section and
// returned. The in-memory document is never rolled back.
func (c *Controller) SaveSection(ctx context.Context, section string, value any) error {
	if section != sections.Complete && !c.registry.Has(section) {
		return fmt.Errorf("%w: %q", sections.ErrUnknownSection, section)
	}
	release := c.acquire(section)
	defer release()

	// A draft is created once; saves issued meanwhile wait and then update it.
	c.mu.Lock()
	for c.creating != nil && !c.closed {
		wait := c.creating
		c.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return c.report(ctx, section, ctx.Err(), "", "Failed to save "+c.label(section))
		}
		c.mu.Lock()
	}
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	if section != sections.Complete {
		c.doc = document.SetSection(c.doc, section, document.DeepCopy(value))
	}
	gen := c.gen
	doc := c.doc
	id := doc.ID()

	var (
		saved document.Document
		err   error
	)
	if id == "" {
		done := make(chan struct{})
		c.creating = done
		c.mu.Unlock()

		saved, err = c.store.Create(ctx, c.kind, doc)
		if err == nil && !saved.HasIdentity() {
			err = errNoIdentityReturned
		}

		c.mu.Lock()
		c.creating = nil
		close(done)
		if err == nil && gen == c.gen && !c.closed {
			c.doc = adopt(c.doc, saved)
		}
		c.mu.Unlock()
	} else {
		c.mu.Unlock()

		if section == sections.Complete {
			saved, err = c.store.UpdateFull(ctx, c.kind, id, doc)
		} else {
			saved, err = c.store.UpdatePartial(ctx, c.kind, id, map[string]any{section: doc[section]})
		}

		if err == nil {
			c.mu.Lock()
			if gen == c.gen && c.doc.ID() == id && saved.Version() != "" {
				c.doc = document.SetSection(c.doc, document.FieldVersion, saved.Version())
			}
			c.mu.Unlock()
		}
	}

	return c.report(ctx, section, err, c.label(section)+" saved successfully", "Failed to save "+c.label(section))
}

// adopt copies the server-assigned identity, version and active flag onto
// the local document, keeping local edits made while the request ran.
func adopt(local, saved document.Document) document.Document {
	out := document.SetSection(local, document.FieldID, saved.ID())
	if v := saved.Version(); v != "" {
		out = document.SetSection(out, document.FieldVersion, v)
	}
	if active, ok := saved[document.FieldActive].(bool); ok {
		out = document.SetSection(out, document.FieldActive, active)
	}
	return out
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) report(ctx context.Context, section string, err error, okText, failText string) error {
	if c.isClosed() {
		return err
	}
	if err != nil {
		c.logger.Warn("operation failed", zap.String("section", section), zap.Error(err))
		c.notes.Error(section, failText+": "+remote.Message(err, "request failed"))
		return err
	}
	c.logger.Debug("operation succeeded", zap.String("section", section))
	c.notes.Success(section, okText)
	c.mu.Lock()
	c.writes++
	since := c.writes
	c.mu.Unlock()
	if rerr := c.refreshSince(ctx, since); rerr != nil {
		c.logger.Warn("list refresh failed", zap.Error(rerr))
	}
	return nil
}

// DeleteDocument removes a document from the store. It refuses to run
// without a Confirmation for the same id.
func (c *Controller) DeleteDocument(ctx context.Context, id string, confirm Confirmation) error {
	if id == "" || !confirm.confirms(id) {
		return ErrConfirmationRequired
	}
	err := c.store.Delete(ctx, c.kind, id)
	if err == nil {
		c.mu.Lock()
		if c.doc.ID() == id {
			c.doc = c.registry.Defaults()
			c.gen++
		}
		c.mu.Unlock()
	}
	return c.report(ctx, "", err, "Document deleted", "Failed to delete document")
}

// ToggleActive flips the stored active flag. The session document follows
// only when it is the toggled one.
func (c *Controller) ToggleActive(ctx context.Context, id string) error {
	saved, err := c.store.ToggleActive(ctx, c.kind, id)
	okText := "Document updated"
	if err == nil {
		if saved.Active() {
			okText = "Document activated"
		} else {
			okText = "Document deactivated"
		}
		c.mu.Lock()
		if c.doc.ID() == id {
			c.doc = document.SetSection(c.doc, document.FieldActive, saved.Active())
			if v := saved.Version(); v != "" {
				c.doc = document.SetSection(c.doc, document.FieldVersion, v)
			}
		}
		c.mu.Unlock()
	}
	return c.report(ctx, "", err, okText, "Failed to update document")
}

func (c *Controller) checkSection(op string, p docpath.Path) {
	if !c.registry.Has(p.Section()) {
		panic(&document.ShapeError{Op: op, Path: p, Reason: "path is outside every declared section"})
	}
}

// Set replaces the value at p. Shape violations panic.
func (c *Controller) Set(p docpath.Path, value any) {
	c.checkSection("set", p)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc = document.Set(c.doc, p, value)
}

// AddItem appends the registry template to the array at p and returns the
// new element's index.
func (c *Controller) AddItem(p docpath.Path) int {
	c.checkSection("append", p)
	tpl, ok := c.registry.Template(p)
	if !ok {
		panic(&document.ShapeError{Op: "append", Path: p, Reason: "no array declared at this path"})
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	next := document.AppendArrayItem(c.doc, p, tpl)
	next = c.reindex(next, p)
	c.doc = next
	v, _ := document.Get(next, p)
	return len(v.([]any)) - 1
}

func (c *Controller) RemoveItem(p docpath.Path, index int) {
	c.checkSection("remove", p)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc = c.reindex(document.RemoveArrayItem(c.doc, p, index), p)
}

func (c *Controller) UpdateItemField(p docpath.Path, index int, field string, value any) {
	c.checkSection("update item", p)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc = document.UpdateArrayItemField(c.doc, p, index, field, value)
}

// MoveItem swaps the element at index with its neighbour in dir. Moving
// past either end of the array leaves the document unchanged.
func (c *Controller) MoveItem(p docpath.Path, index int, dir document.Direction) {
	c.checkSection("move", p)
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := document.Get(c.doc, p)
	items, isArray := v.([]any)
	if !ok || !isArray {
		panic(&document.ShapeError{Op: "move", Path: p, Reason: "not an array"})
	}
	target := index - 1
	if dir == document.Down {
		target = index + 1
	}
	if index < 0 || index >= len(items) {
		panic(&document.ShapeError{Op: "move", Path: p, Reason: fmt.Sprintf("index %d out of range", index)})
	}
	if target < 0 || target >= len(items) {
		return
	}
	c.doc = c.reindex(document.MoveArrayItem(c.doc, p, index, dir), p)
}

func (c *Controller) reindex(doc document.Document, p docpath.Path) document.Document {
	if field := c.registry.OrderField(p); field != "" {
		return document.Reindex(doc, p, field)
	}
	return doc
}
