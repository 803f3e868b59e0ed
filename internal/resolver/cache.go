package resolver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"

	"github.com/erraggy/oastools/parser"

	"github.com/conneroisu/pig/internal/document"
	pigerrors "github.com/conneroisu/pig/internal/errors"
	"github.com/conneroisu/pig/internal/logging"
)

// versionKeys are the top-level fields that carry a schema document's
// specification version, in lookup order.
var versionKeys = []string{"openapi", "swagger"}

// Cache loads each schema file at most once per resolution session. The
// first file loaded is the resolution root and must be a complete OpenAPI
// document; every later file only has to be a structurally valid fragment.
// With validation disabled any YAML or JSON document is accepted.
// A Cache never evicts and is not safe for concurrent use.
type Cache struct {
	root     string
	files    map[string]*document.Node
	version  string
	validate bool
	logger   logging.Logger
}

// NewCache creates an empty cache for the session rooted at root.
func NewCache(root string, validate bool, logger logging.Logger) (*Cache, error) {
	canonical, err := Canonical(root)
	if err != nil {
		return nil, pigerrors.WrapIO(err, "cannot resolve schema root", root)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Cache{
		root:     canonical,
		files:    make(map[string]*document.Node),
		validate: validate,
		logger:   logger,
	}, nil
}

// Root returns the canonical path of the resolution root.
func (c *Cache) Root() string {
	return c.root
}

// Load returns the parsed document at path. Relative paths are resolved
// against the directory of the resolution root.
func (c *Cache) Load(ctx context.Context, path string) (*document.Node, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(c.root), path)
	}
	canonical, err := Canonical(path)
	if err != nil {
		return nil, pigerrors.WrapIO(err, "cannot resolve schema file", path)
	}

	if doc, ok := c.files[canonical]; ok {
		if doc == nil {
			return nil, pigerrors.NewParseError(pigerrors.ErrCodeParse, "schema file failed to load earlier in this session", nil).
				WithLocation(canonical)
		}
		return doc, nil
	}

	// Recorded before parsing so that files which fail to parse still show
	// up in the dependency set.
	c.files[canonical] = nil

	data, err := os.ReadFile(canonical)
	if err != nil {
		return nil, pigerrors.WrapIO(err, "cannot read schema file", canonical)
	}

	doc, err := document.Decode(data)
	if err != nil {
		return nil, pigerrors.NewParseError(pigerrors.ErrCodeParse, "cannot parse schema file", err).
			WithLocation(canonical)
	}

	switch {
	case !c.validate:
	case len(c.files) == 1:
		err = c.validateRoot(data, doc)
	default:
		err = c.validateFragment(doc)
	}
	if err != nil {
		var pe *pigerrors.PigError
		if errors.As(err, &pe) {
			pe.WithLocation(canonical)
		}
		return nil, err
	}

	c.files[canonical] = doc
	c.logger.Debug(ctx, "Loaded schema file", "file", canonical, "root", len(c.files) == 1)
	return doc, nil
}

// Files returns the canonical paths of every file the session attempted to
// load, sorted.
func (c *Cache) Files() []string {
	files := make([]string, 0, len(c.files))
	for f := range c.files {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Len returns the number of distinct files the session attempted to load.
func (c *Cache) Len() int {
	return len(c.files)
}

// validateRoot requires the root to decode as a complete document with all
// required top-level fields present.
func (c *Cache) validateRoot(data []byte, doc *document.Node) error {
	result, err := parser.ParseWithOptions(
		parser.WithBytes(data),
		parser.WithResolveRefs(false),
		parser.WithValidateStructure(true),
	)
	if err != nil {
		return pigerrors.NewParseError(pigerrors.ErrCodeSchemaStrict, "schema root is not a valid OpenAPI document", err)
	}
	if len(result.Errors) > 0 {
		return pigerrors.NewParseError(pigerrors.ErrCodeSchemaStrict, "schema root is not a valid OpenAPI document", errors.Join(result.Errors...))
	}

	for _, key := range versionKeys {
		if v, ok := doc.Get(key); ok && v.Kind == document.StringKind {
			c.version = v.String
			return nil
		}
	}
	c.version = result.Version
	return nil
}

// validateFragment checks a dependency file against the same decoding rules
// as the root, on a throwaway copy patched with the document-level fields a
// fragment is allowed to omit. The cached value stays unpatched.
func (c *Cache) validateFragment(doc *document.Node) error {
	patched := doc.Clone()
	if patched.IsMapping() {
		for _, key := range versionKeys {
			patched.Fields.Delete(key)
		}
		patched.Set(c.versionKey(), document.Str(c.version))
		patched.Set("info", document.Map("title", document.Str(""), "version", document.Str("")))
		patched.Set("paths", document.Map())
	}

	data, err := patched.MarshalJSON()
	if err != nil {
		return pigerrors.NewInternalError("cannot encode schema fragment", err)
	}
	if _, err := parser.ParseWithOptions(
		parser.WithBytes(data),
		parser.WithResolveRefs(false),
		parser.WithValidateStructure(false),
	); err != nil {
		return pigerrors.NewParseError(pigerrors.ErrCodeSchemaFragment, "schema file is not a valid OpenAPI fragment", err)
	}
	return nil
}

func (c *Cache) versionKey() string {
	if c.version == "2.0" {
		return "swagger"
	}
	return "openapi"
}
