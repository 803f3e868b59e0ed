//go:build property
// +build property

package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/conneroisu/pig/internal/document"
	pigerrors "github.com/conneroisu/pig/internal/errors"
)

// TestResolverProperties checks cycle detection and dependency tracking on
// generated file graphs.
func TestResolverProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	// Property: a ring of n files always fails with a chain of n+1 entries
	properties.Property("ring of references is a cycle", prop.ForAll(
		func(n int) bool {
			dir, err := os.MkdirTemp("", "pig-ring-")
			if err != nil {
				return false
			}
			defer os.RemoveAll(dir)

			for i := 0; i < n; i++ {
				content := fmt.Sprintf("x:\n  $ref: \"f%d.yaml#/x\"\n", (i+1)%n)
				if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("f%d.yaml", i)), []byte(content), 0o644); err != nil {
					return false
				}
			}

			result, err := Resolve(context.Background(), filepath.Join(dir, "f0.yaml"), WithValidation(false))
			var pe *pigerrors.PigError
			if !errors.As(err, &pe) || !errors.Is(err, pigerrors.ErrRefCycle) {
				return false
			}
			return len(pe.Chain) == n+1 && len(result.Dependencies) == n
		},
		gen.IntRange(1, 8),
	))

	// Property: a chain of files referencing each other any number of times
	// depends on exactly the files in the chain
	properties.Property("dependency set matches loaded files", prop.ForAll(
		func(n int, repeats int) bool {
			dir, err := os.MkdirTemp("", "pig-chain-")
			if err != nil {
				return false
			}
			defer os.RemoveAll(dir)

			for i := 0; i < n; i++ {
				leaf := document.Map("type", document.Str("object"))
				if i < n-1 {
					for r := 0; r < repeats; r++ {
						leaf.Set(fmt.Sprintf("p%d", r), document.Map(KeyRef, document.Str(fmt.Sprintf("./f%d.yaml#/x", i+1))))
					}
				}
				data, err := document.Map("x", leaf).MarshalJSON()
				if err != nil {
					return false
				}
				if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("f%d.yaml", i)), data, 0o644); err != nil {
					return false
				}
			}

			result, err := Resolve(context.Background(), filepath.Join(dir, "f0.yaml"), WithValidation(false))
			return err == nil && len(result.Dependencies) == n
		},
		gen.IntRange(1, 6),
		gen.IntRange(1, 3),
	))

	properties.TestingRun(t)
}
