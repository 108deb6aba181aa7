package sections

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed kinds/*.yaml
var builtinKinds embed.FS

// Catalog maps kind names to registries.
type Catalog struct {
	kinds map[string]*Registry
}

// Parse decodes one YAML registry file.
func Parse(data []byte) (*Registry, error) {
	var reg Registry
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&reg); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	if err := reg.init(); err != nil {
		return nil, err
	}
	return &reg, nil
}

// NewCatalog builds a catalog from registries; later entries replace
// earlier ones with the same kind.
func NewCatalog(regs ...*Registry) *Catalog {
	c := &Catalog{kinds: make(map[string]*Registry, len(regs))}
	for _, reg := range regs {
		c.kinds[reg.Kind] = reg
	}
	return c
}

// Builtin returns the registries shipped with the binary.
func Builtin() (*Catalog, error) {
	regs, err := loadFS(builtinKinds, "kinds")
	if err != nil {
		return nil, err
	}
	return NewCatalog(regs...), nil
}

// Load returns the builtin catalog, overridden by every *.yaml file in dir
// when dir is not empty.
func Load(dir string) (*Catalog, error) {
	catalog, err := Builtin()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(dir) == "" {
		return catalog, nil
	}
	regs, err := loadFS(os.DirFS(dir), ".")
	if err != nil {
		return nil, fmt.Errorf("load kinds from %s: %w", dir, err)
	}
	for _, reg := range regs {
		catalog.kinds[reg.Kind] = reg
	}
	return catalog, nil
}

func loadFS(fsys fs.FS, dir string) ([]*Registry, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read kinds dir: %w", err)
	}
	var regs []*Registry
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		data, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(dir, name)))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		reg, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		regs = append(regs, reg)
	}
	return regs, nil
}

func (c *Catalog) Get(kind string) (*Registry, bool) {
	reg, ok := c.kinds[kind]
	return reg, ok
}

// Lookup is Get returning ErrUnknownKind.
func (c *Catalog) Lookup(kind string) (*Registry, error) {
	reg, ok := c.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return reg, nil
}

// Kinds lists kind names sorted.
func (c *Catalog) Kinds() []string {
	out := make([]string, 0, len(c.kinds))
	for kind := range c.kinds {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}
