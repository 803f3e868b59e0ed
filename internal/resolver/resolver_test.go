package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/pig/internal/document"
	pigerrors "github.com/conneroisu/pig/internal/errors"
	"github.com/conneroisu/pig/internal/testutils"
)

const rootHeader = `openapi: 3.0.3
info:
  title: Pets
  version: "1.0"
paths: {}
`

// writeFiles creates files (name -> content) in a fresh canonical temp dir.
func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	return testutils.CreateTempProject(t, files)
}

func resolveFile(t *testing.T, path string, opts ...Option) (*Result, error) {
	t.Helper()
	return New(path, opts...).Resolve(context.Background())
}

func TestResolveChainedReferences(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.yaml": `{"$ref": "b.yaml#/components/x"}`,
		"b.yaml": "components:\n  x:\n    $ref: \"#/components/y\"\n  y:\n    value: 1\n",
	})

	result, err := resolveFile(t, filepath.Join(dir, "a.yaml"), WithValidation(false))
	require.NoError(t, err)

	b := filepath.Join(dir, "b.yaml")
	expected := map[string]interface{}{
		"value": int64(1),
		"$ref":  b + "#/components/x",
		"$file": b,
		"$keys": []interface{}{"components", "x"},
		"$name": "x",
	}
	if diff := cmp.Diff(expected, result.Document.Interface()); diff != "" {
		t.Errorf("resolved document mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"value", "$ref", "$file", "$keys", "$name"}, result.Document.Keys())
	assert.Equal(t, []string{filepath.Join(dir, "a.yaml"), b}, result.Dependencies)
}

func TestResolveOpenAPIDocument(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"api.yaml": rootHeader + `components:
  schemas:
    Pet:
      $ref: "models/pet.yaml#/components/schemas/Pet"
`,
		"models/pet.yaml": `components:
  schemas:
    Pet:
      type: object
      properties:
        owner:
          $ref: "owner.yaml#/components/schemas/Owner"
        tags:
          type: array
          items:
            $ref: "#/components/schemas/Tag"
    Tag:
      type: string
`,
		"models/owner.yaml": `components:
  schemas:
    Owner:
      type: object
`,
	})

	result, err := resolveFile(t, filepath.Join(dir, "api.yaml"))
	require.NoError(t, err)

	pet := walk(t, result.Document, "components", "schemas", "Pet")
	assertString(t, pet, KeyFile, filepath.Join(dir, "models", "pet.yaml"))
	assertString(t, pet, KeyName, "Pet")

	owner := walk(t, pet, "properties", "owner")
	assertString(t, owner, KeyFile, filepath.Join(dir, "models", "owner.yaml"))
	assertString(t, owner, "type", "object")

	tag := walk(t, pet, "properties", "tags", "items")
	assertString(t, tag, KeyRef, filepath.Join(dir, "models", "pet.yaml")+"#/components/schemas/Tag")
	assertString(t, tag, "type", "string")

	assert.Len(t, result.Dependencies, 3)
}

func TestResolveWithoutReferencesIsIdentity(t *testing.T) {
	content := rootHeader + "components:\n  schemas:\n    A:\n      type: object\n      required: [id]\n"
	dir := writeFiles(t, map[string]string{"api.yaml": content})
	root := filepath.Join(dir, "api.yaml")

	result, err := resolveFile(t, root)
	require.NoError(t, err)

	original, err := document.Decode([]byte(content))
	require.NoError(t, err)
	assert.True(t, document.Equal(original, result.Document))
	assert.Equal(t, []string{root}, result.Dependencies)
}

func TestResolveAnnotationCompleteness(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"api.yaml": rootHeader + `components:
  schemas:
    A: {$ref: "defs.yaml#/A"}
    List:
      - {$ref: "defs.yaml#/B"}
      - {$ref: "#/components/schemas/Local"}
    Local: {type: integer}
`,
		"defs.yaml": "A:\n  type: object\n  properties:\n    b: {$ref: '#/B'}\nB:\n  type: string\n",
	})

	result, err := resolveFile(t, filepath.Join(dir, "api.yaml"), WithValidation(false))
	require.NoError(t, err)

	var annotated int
	var visit func(n *document.Node)
	visit = func(n *document.Node) {
		switch n.Kind {
		case document.SequenceKind:
			for _, item := range n.Items {
				visit(item)
			}
		case document.MappingKind:
			assert.False(t, n.Len() == 1 && n.Has(KeyRef), "unexpanded reference node left in output")
			if n.Has(KeyRef) {
				annotated++
				for _, key := range ReservedKeys {
					assert.True(t, n.Has(key), "missing %s", key)
				}
				keys, _ := n.Get(KeyKeys)
				name, _ := n.Get(KeyName)
				require.NotEmpty(t, keys.Items)
				assert.Equal(t, keys.Items[len(keys.Items)-1].String, name.String)
			}
			for _, key := range n.Keys() {
				child, _ := n.Get(key)
				if key != KeyKeys {
					visit(child)
				}
			}
		}
	}
	visit(result.Document)
	assert.Equal(t, 4, annotated)
}

func TestResolveCycleDetection(t *testing.T) {
	for n := 1; n <= 5; n++ {
		t.Run(fmt.Sprintf("%d files", n), func(t *testing.T) {
			files := make(map[string]string, n)
			for i := 0; i < n; i++ {
				next := fmt.Sprintf("f%d.yaml", (i+1)%n)
				files[fmt.Sprintf("f%d.yaml", i)] = fmt.Sprintf("x:\n  $ref: %q\n", next+"#/x")
			}
			dir := writeFiles(t, files)

			result, err := resolveFile(t, filepath.Join(dir, "f0.yaml"), WithValidation(false))
			require.Error(t, err)
			assert.True(t, errors.Is(err, pigerrors.ErrRefCycle))

			var pe *pigerrors.PigError
			require.True(t, errors.As(err, &pe))
			assert.Len(t, pe.Chain, n+1)
			assert.Equal(t, pe.Chain[0], pe.Chain[n], "the repeated reference closes the loop")
			assert.Contains(t, err.Error(), " -> ")
			assert.Len(t, result.Dependencies, n)
		})
	}
}

func TestResolveSelfReference(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"api.yaml": rootHeader + "components:\n  schemas:\n    Node:\n      $ref: '#/components/schemas/Node'\n",
	})
	_, err := resolveFile(t, filepath.Join(dir, "api.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, pigerrors.ErrRefCycle))
}

func TestResolveRepeatedNonCyclicReference(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"api.yaml": rootHeader + `components:
  schemas:
    A: {$ref: "b.yaml#/Shared"}
    B: {$ref: "b.yaml#/Shared"}
    C: {$ref: "c.yaml#/Wrapper"}
`,
		"b.yaml": "Shared:\n  type: string\n",
		"c.yaml": "Wrapper:\n  type: object\n  properties:\n    inner: {$ref: 'b.yaml#/Shared'}\n",
	})

	result, err := resolveFile(t, filepath.Join(dir, "api.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "api.yaml"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "c.yaml"),
	}, result.Dependencies)
}

func TestResolveInvalidReferenceObjectFailsBeforeIO(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"api.yaml": rootHeader + "components:\n  schemas:\n    A:\n      $ref: 'does-not-exist.yaml#/A'\n      extra: 1\n      other: 2\n",
	})

	result, err := resolveFile(t, filepath.Join(dir, "api.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, pigerrors.ErrRefInvalidObject))
	assert.Contains(t, err.Error(), "extra, other")
	assert.Equal(t, []string{filepath.Join(dir, "api.yaml")}, result.Dependencies)
}

func TestResolveReservedKeyCollision(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"api.yaml": rootHeader + "components:\n  schemas:\n    A: {$ref: 'b.yaml#/A'}\n",
		"b.yaml":   "A:\n  type: object\n  $file: sneaky\n",
	})

	_, err := resolveFile(t, filepath.Join(dir, "api.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, pigerrors.ErrRefReservedKey))
	assert.Contains(t, err.Error(), "$file")
	assert.Contains(t, err.Error(), filepath.Join(dir, "b.yaml")+"#/A")
}

func TestResolveNonObjectTarget(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"api.yaml": rootHeader + "components:\n  schemas:\n    A: {$ref: '#/info/title'}\n",
	})

	_, err := resolveFile(t, filepath.Join(dir, "api.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, pigerrors.ErrRefNotObject))
}

func TestResolveMissingSegment(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"api.yaml": rootHeader + "components:\n  schemas:\n    A: {$ref: 'b.yaml#/components/nope/deeper'}\n",
		"b.yaml":   "components:\n  schemas: {}\n",
	})

	_, err := resolveFile(t, filepath.Join(dir, "api.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, pigerrors.ErrRefNotFound))

	var pe *pigerrors.PigError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, []string{"components", "nope"}, pe.Keys)
	assert.Equal(t, []string{"schemas"}, pe.Context[pigerrors.ContextAvailable])
	assert.Contains(t, err.Error(), filepath.Join(dir, "b.yaml")+"#/components/nope")
}

func TestResolveMissingTargetFile(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"api.yaml": rootHeader + "components:\n  schemas:\n    A: {$ref: 'gone.yaml#/A'}\n",
	})

	_, err := resolveFile(t, filepath.Join(dir, "api.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, pigerrors.ErrIO))
}

func TestResolveNonStringReference(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"api.yaml": rootHeader + "components:\n  schemas:\n    A: {$ref: 42}\n",
	})

	_, err := resolveFile(t, filepath.Join(dir, "api.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, pigerrors.ErrRefNotString))
}

func TestResolveReferencesAreRelativeToFragmentOrigin(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"api.yaml":   rootHeader + "components:\n  schemas:\n    A: {$ref: 'sub/b.yaml#/A'}\n",
		"sub/b.yaml": "A:\n  type: object\n  properties:\n    c: {$ref: 'c.yaml#/C'}\n    self: {$ref: '#/B'}\nB:\n  type: integer\n",
		"sub/c.yaml": "C:\n  type: string\n",
		"c.yaml":     "C:\n  type: boolean\n",
	})

	result, err := resolveFile(t, filepath.Join(dir, "api.yaml"))
	require.NoError(t, err)

	a := walk(t, result.Document, "components", "schemas", "A")
	c := walk(t, a, "properties", "c")
	assertString(t, c, "type", "string")
	assertString(t, c, KeyFile, filepath.Join(dir, "sub", "c.yaml"))

	self := walk(t, a, "properties", "self")
	assertString(t, self, KeyFile, filepath.Join(dir, "sub", "b.yaml"))
	assertString(t, self, "type", "integer")
}

func TestResolveCanonicalizesPaths(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"api.yaml": rootHeader + `components:
  schemas:
    A: {$ref: "b.yaml#/A"}
    B: {$ref: "./sub/../b.yaml#/A"}
    C: {$ref: "link.yaml#/A"}
`,
		"b.yaml":    "A:\n  type: object\n",
		"sub/.keep": "",
	})
	if err := os.Symlink(filepath.Join(dir, "b.yaml"), filepath.Join(dir, "link.yaml")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	result, err := resolveFile(t, filepath.Join(dir, "api.yaml"))
	require.NoError(t, err)
	assert.Len(t, result.Dependencies, 2)

	for _, name := range []string{"A", "B", "C"} {
		schema := walk(t, result.Document, "components", "schemas", name)
		assertString(t, schema, KeyFile, filepath.Join(dir, "b.yaml"))
	}
}

func TestResolveDoesNotMutateCachedDocuments(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"api.yaml": rootHeader + "components:\n  schemas:\n    A: {$ref: 'b.yaml#/A'}\n    B: {$ref: 'b.yaml#/A'}\n",
		"b.yaml":   "A:\n  type: object\n",
	})

	result, err := resolveFile(t, filepath.Join(dir, "api.yaml"))
	require.NoError(t, err)

	a := walk(t, result.Document, "components", "schemas", "A")
	b := walk(t, result.Document, "components", "schemas", "B")
	a.Set("mutated", document.Bool(true))
	assert.False(t, b.Has("mutated"))
}

func TestResolveStrictRootValidation(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"api.yaml": "openapi: 3.0.3\npaths: {}\n",
	})

	result, err := resolveFile(t, filepath.Join(dir, "api.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, pigerrors.ErrSchemaStrict))
	assert.Equal(t, []string{filepath.Join(dir, "api.yaml")}, result.Dependencies)
	assert.Nil(t, result.Document)
}

func TestResolveRelaxedFragmentValidation(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"api.yaml": rootHeader + "components:\n  schemas:\n    A: {$ref: 'b.yaml#/components/schemas/A'}\n",
		"b.yaml":   "components:\n  schemas: [1, 2]\n",
	})

	result, err := resolveFile(t, filepath.Join(dir, "api.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, pigerrors.ErrSchemaFragment))
	assert.Contains(t, result.Dependencies, filepath.Join(dir, "b.yaml"))
}

func TestResolveParseError(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"api.yaml": rootHeader + "components:\n  schemas:\n    A: {$ref: 'b.yaml#/A'}\n",
		"b.yaml":   "A: [unclosed\n",
	})

	_, err := resolveFile(t, filepath.Join(dir, "api.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, pigerrors.ErrParse))
	assert.Equal(t, pigerrors.ErrorTypeParse, pigerrors.TypeOf(err))
}

func TestResolveRecursiveAnchor(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"api.yaml": rootHeader + "components:\n  schemas:\n    A: {$ref: 'b.yaml#/A'}\n",
		"b.yaml":   "A: &a\n  type: object\n  items: *a\n",
	})

	_, err := resolveFile(t, filepath.Join(dir, "api.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, pigerrors.ErrParse))
	assert.Contains(t, err.Error(), "recursive alias")
	assert.Contains(t, err.Error(), "b.yaml")
}

func TestResolveMissingRoot(t *testing.T) {
	result, err := resolveFile(t, filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, pigerrors.ErrIO))
	assert.Empty(t, result.Dependencies)
}

func TestResolveSwaggerRoot(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"api.yaml": "swagger: \"2.0\"\ninfo: {title: t, version: v}\npaths: {}\ndefinitions:\n  A: {$ref: 'b.yaml#/definitions/A'}\n",
		"b.yaml":   "definitions:\n  A:\n    type: object\n",
	})

	result, err := resolveFile(t, filepath.Join(dir, "api.yaml"))
	require.NoError(t, err)
	a := walk(t, result.Document, "definitions", "A")
	assertString(t, a, "type", "object")
}

func walk(t *testing.T, n *document.Node, keys ...string) *document.Node {
	t.Helper()
	for _, key := range keys {
		next, ok := n.Child(key)
		require.True(t, ok, "missing key %q in path %s", key, strings.Join(keys, "/"))
		n = next
	}
	return n
}

func assertString(t *testing.T, n *document.Node, key, expected string) {
	t.Helper()
	value, ok := n.Get(key)
	require.True(t, ok, "missing key %q", key)
	assert.Equal(t, document.StringKind, value.Kind)
	assert.Equal(t, expected, value.String)
}
