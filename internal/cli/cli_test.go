package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"folio/api/internal/document"
	"folio/api/internal/remote"
	"folio/api/internal/sections"
)

type harness struct {
	app     *App
	backend *remote.Memory
	out     *bytes.Buffer
	errOut  *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	catalog, err := sections.Builtin()
	require.NoError(t, err)
	h := &harness{backend: remote.NewMemory(), out: &bytes.Buffer{}, errOut: &bytes.Buffer{}}
	h.app = &App{Out: h.out, Err: h.errOut, Catalog: catalog, Backend: h.backend, Logger: zap.NewNop()}
	return h
}

func (h *harness) run(args ...string) error {
	h.out.Reset()
	h.errOut.Reset()
	cmd := RootCmd(h.app)
	cmd.SetArgs(args)
	cmd.SetOut(h.out)
	cmd.SetErr(h.errOut)
	return cmd.ExecuteContext(context.Background())
}

func (h *harness) seed(t *testing.T, title string) document.Document {
	t.Helper()
	reg, err := h.app.Catalog.Lookup("about")
	require.NoError(t, err)
	draft := reg.Defaults()
	draft = document.Set(draft, mustPath(t, "heroContent.title"), title)
	doc, err := h.backend.Create(context.Background(), "about", draft)
	require.NoError(t, err)
	return doc
}

func TestKindsCommand(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run("kinds"))
	assert.Contains(t, h.out.String(), "about (About page): heroContent, images, objectives, timelineData, team")
}

func TestListCommand(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run("list", "about"))
	assert.Equal(t, "no about documents\n", h.out.String())

	doc := h.seed(t, "About us")
	require.NoError(t, h.run("list", "about"))
	assert.Contains(t, h.out.String(), doc.ID())
	assert.Contains(t, h.out.String(), "About us")
	assert.Contains(t, h.out.String(), "active")
}

func TestListUnknownKind(t *testing.T) {
	h := newHarness(t)
	err := h.run("list", "widgets")
	require.Error(t, err)
	assert.ErrorIs(t, err, sections.ErrUnknownKind)
}

func TestNewCommand(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run("new", "about",
		"--set", "heroContent.title=About us",
		"--add", "timelineData",
		"--set", `timelineData.0.title="Founded"`,
	))
	id := strings.TrimSpace(h.out.String())
	require.NotEmpty(t, id)
	assert.Contains(t, h.errOut.String(), "Document saved successfully")

	stored, err := h.backend.Get(context.Background(), "about", id)
	require.NoError(t, err)
	got, _ := document.Get(stored, mustPath(t, "heroContent.title"))
	assert.Equal(t, "About us", got)
	order, _ := document.Get(stored, mustPath(t, "timelineData.0.order"))
	assert.EqualValues(t, 1, order)
}

func TestNewCommandFromFile(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "about.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"ignored","heroContent":{"title":"From file","subtitle":"","description":"","statistics":[]}}`), 0o644))

	require.NoError(t, h.run("new", "about", "--file", path))
	id := strings.TrimSpace(h.out.String())
	assert.NotEqual(t, "ignored", id)
	stored, err := h.backend.Get(context.Background(), "about", id)
	require.NoError(t, err)
	got, _ := document.Get(stored, mustPath(t, "heroContent.title"))
	assert.Equal(t, "From file", got)
}

func TestNewCommandRejectsBadFlags(t *testing.T) {
	h := newHarness(t)
	err := h.run("new", "about", "--set", "heroContent.title")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want path=value")

	err = h.run("new", "about", "--move", "timelineData:0:sideways")
	require.Error(t, err)

	err = h.run("new", "about", "--set", "footer.text=x")
	var shapeErr *document.ShapeError
	require.ErrorAs(t, err, &shapeErr)

	docs, _ := h.backend.List(context.Background(), "about")
	assert.Empty(t, docs)
}

func TestEditCommandSendsOneSection(t *testing.T) {
	h := newHarness(t)
	doc := h.seed(t, "About us")

	require.NoError(t, h.run("edit", "about", doc.ID(), "--set", "images.banner=/banner.png"))
	assert.Contains(t, h.errOut.String(), "Images saved successfully")
	version := strings.TrimSpace(h.out.String())
	assert.NotEqual(t, doc.Version(), version)

	stored, err := h.backend.Get(context.Background(), "about", doc.ID())
	require.NoError(t, err)
	banner, _ := document.Get(stored, mustPath(t, "images.banner"))
	assert.Equal(t, "/banner.png", banner)
	title, _ := document.Get(stored, mustPath(t, "heroContent.title"))
	assert.Equal(t, "About us", title)
}

func TestEditCommandArrays(t *testing.T) {
	h := newHarness(t)
	doc := h.seed(t, "About us")

	require.NoError(t, h.run("edit", "about", doc.ID(),
		"--add", "team.members", "--add", "team.members",
		"--set", "team.members.0.name=Ada", "--set", "team.members.1.name=Grace"))
	require.NoError(t, h.run("edit", "about", doc.ID(), "--move", "team.members:1:up"))

	stored, err := h.backend.Get(context.Background(), "about", doc.ID())
	require.NoError(t, err)
	first, _ := document.Get(stored, mustPath(t, "team.members.0.name"))
	assert.Equal(t, "Grace", first)
	order, _ := document.Get(stored, mustPath(t, "team.members.0.order"))
	assert.EqualValues(t, 1, order)

	require.NoError(t, h.run("edit", "about", doc.ID(), "--remove", "team.members:0"))
	stored, _ = h.backend.Get(context.Background(), "about", doc.ID())
	members, _ := document.Get(stored, mustPath(t, "team.members"))
	assert.Len(t, members, 1)
}

func TestEditCommandNeedsEdits(t *testing.T) {
	h := newHarness(t)
	doc := h.seed(t, "About us")
	err := h.run("edit", "about", doc.ID())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to edit")
}

func TestEditMissingDocument(t *testing.T) {
	h := newHarness(t)
	err := h.run("edit", "about", "about_nope", "--set", "images.banner=x")
	require.Error(t, err)
	assert.Equal(t, "Document not found", remote.Message(err, ""))
}

func TestDeleteRequiresYes(t *testing.T) {
	h := newHarness(t)
	doc := h.seed(t, "About us")

	err := h.run("delete", "about", doc.ID())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")

	require.NoError(t, h.run("delete", "about", doc.ID(), "--yes"))
	assert.Contains(t, h.errOut.String(), "Document deleted")
	docs, _ := h.backend.List(context.Background(), "about")
	assert.Empty(t, docs)
}

func TestToggleCommand(t *testing.T) {
	h := newHarness(t)
	doc := h.seed(t, "About us")

	require.NoError(t, h.run("toggle", "about", doc.ID()))
	assert.Contains(t, h.errOut.String(), "Document deactivated")

	err := h.run("toggle", "about", "about_nope")
	require.Error(t, err)
	assert.Contains(t, h.errOut.String(), "Failed to update document: Document not found")
}

func TestShowCommand(t *testing.T) {
	h := newHarness(t)
	doc := h.seed(t, "About us")
	require.NoError(t, h.run("show", "about", doc.ID()))

	shown, err := document.Decode(h.out.Bytes())
	require.NoError(t, err)
	assert.Equal(t, doc.ID(), shown.ID())
}

func TestOfflineStoreKeepsDocumentsBetweenRuns(t *testing.T) {
	catalog, err := sections.Builtin()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "folio.json")
	run := func(args ...string) (string, error) {
		out := &bytes.Buffer{}
		app := &App{Out: out, Err: &bytes.Buffer{}, Catalog: catalog, Logger: zap.NewNop()}
		cmd := RootCmd(app)
		cmd.SetArgs(append([]string{"--offline", path}, args...))
		err := cmd.ExecuteContext(context.Background())
		if cerr := app.Close(); err == nil {
			err = cerr
		}
		return out.String(), err
	}

	out, err := run("new", "about", "--set", "heroContent.title=Offline")
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)
	_, err = os.Stat(path)
	require.NoError(t, err)

	out, err = run("list", "about")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "Offline")

	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))
	_, err = run("list", "about")
	require.Error(t, err)
}

func TestLogLevelFlagBuildsLogger(t *testing.T) {
	h := newHarness(t)
	h.app.Logger = nil
	require.NoError(t, h.run("--log-level", "warn", "kinds"))
	require.NotNil(t, h.app.Logger)
	assert.True(t, h.app.Logger.Core().Enabled(zapcore.WarnLevel))
	assert.False(t, h.app.Logger.Core().Enabled(zapcore.InfoLevel))

	h.app.Logger = nil
	require.Error(t, h.run("--log-level", "loud", "kinds"))
}
