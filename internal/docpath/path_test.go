package docpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw     string
		want    Path
		wantErr bool
	}{
		{raw: "", want: Root},
		{raw: "heroContent", want: New(Key("heroContent"))},
		{raw: "heroContent.statistics.0.label", want: New(Key("heroContent"), Key("statistics"), Index(0), Key("label"))},
		{raw: "timelineData.12", want: New(Key("timelineData"), Index(12))},
		{raw: "a..b", wantErr: true},
		{raw: ".a", wantErr: true},
		{raw: "a.", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %s want %s", got, tt.want)
			assert.Equal(t, tt.raw, got.String())
		})
	}
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { MustParse("x..y") })
}

func TestPathIsImmutable(t *testing.T) {
	base := MustParse("images")
	a := base.Child(Index(0))
	b := base.Child(Index(1))

	assert.Equal(t, "images", base.String())
	assert.Equal(t, "images.0", a.String())
	assert.Equal(t, "images.1", b.String())
	assert.Equal(t, "images", a.Parent().String())
}

func TestSectionAndRel(t *testing.T) {
	p := MustParse("heroContent.statistics.2")
	assert.Equal(t, "heroContent", p.Section())
	assert.Equal(t, "statistics.2", p.Rel().String())
	assert.Equal(t, "", New(Index(0)).Section())
	assert.Equal(t, "", Root.Section())
}

func TestHasPrefix(t *testing.T) {
	p := MustParse("a.b.0.c")
	assert.True(t, p.HasPrefix(MustParse("a.b")))
	assert.True(t, p.HasPrefix(Root))
	assert.False(t, p.HasPrefix(MustParse("a.c")))
	assert.False(t, MustParse("a").HasPrefix(p))
}

func TestTemplate(t *testing.T) {
	assert.Equal(t, "modules.*.lessons", MustParse("modules.3.lessons").Template())
	assert.Equal(t, "heroContent.statistics", MustParse("heroContent.statistics").Template())
}

func TestSegmentAccessors(t *testing.T) {
	k := Key("label")
	i := Index(4)
	assert.False(t, k.IsIndex())
	assert.Equal(t, -1, k.Index())
	assert.True(t, i.IsIndex())
	assert.Equal(t, 4, i.Index())
	assert.Equal(t, "", i.Key())
}
