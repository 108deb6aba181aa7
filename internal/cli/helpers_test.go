package cli

import (
	"testing"

	"github.com/stretchr/testify/require"

	"folio/api/internal/docpath"
)

func mustPath(t *testing.T, raw string) docpath.Path {
	t.Helper()
	p, err := docpath.Parse(raw)
	require.NoError(t, err)
	return p
}
