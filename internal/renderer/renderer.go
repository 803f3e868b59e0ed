// Package renderer turns an entry's templates and resolved document into
// generated files.
//
// All templates found under an entry's input directory are parsed into one
// text/template set, named by their slash-separated path relative to the
// input directory, so a template can include another with
// {{ template "partials/header.tmpl" . }}. Each template is then executed
// with the resolved document as its context and written to the output
// directory under its name with the template suffix removed.
package renderer

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"text/template"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/pig/internal/config"
	"github.com/conneroisu/pig/internal/document"
	pigerrors "github.com/conneroisu/pig/internal/errors"
	"github.com/conneroisu/pig/internal/logging"
)

// Templates returns the sorted, slash-separated names of the regular files
// (or symlinks to them) under inputDir whose names end in suffix.
func Templates(inputDir, suffix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(inputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !strings.HasSuffix(d.Name(), suffix) || d.Name() == suffix {
			return nil
		}
		mode := d.Type()
		if mode&fs.ModeSymlink != 0 {
			info, err := os.Stat(path)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					// dangling symlink
					return nil
				}
				return err
			}
			mode = info.Mode()
		}
		if !mode.IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(inputDir, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, pigerrors.WrapIO(err, "cannot enumerate templates", inputDir)
	}
	sort.Strings(names)
	return names, nil
}

// OutputPath maps a template name to the file it generates under outDir.
func OutputPath(outDir, name, suffix string) string {
	return filepath.Join(outDir, filepath.FromSlash(strings.TrimSuffix(name, suffix)))
}

// Renderer executes template sets.
type Renderer struct {
	suffix  string
	workers int
	logger  logging.Logger
}

// New creates a renderer for templates ending in suffix.
func New(suffix string, logger logging.Logger) *Renderer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Renderer{
		suffix:  suffix,
		workers: runtime.GOMAXPROCS(0),
		logger:  logger.WithComponent("renderer"),
	}
}

// WithWorkers sets the number of templates executed in parallel.
func (r *Renderer) WithWorkers(n int) *Renderer {
	if n > 0 {
		r.workers = n
	}
	return r
}

// Render parses the named templates of entry and writes one output file per
// template. doc is the template context.
func (r *Renderer) Render(ctx context.Context, entry config.Entry, names []string, doc *document.Node) error {
	perf := logging.StartOperation(r.logger, "render", "input", entry.Input, "templates", len(names))

	set, err := r.parse(entry.Input, names)
	if err != nil {
		perf.EndWithError(ctx, err)
		return err
	}

	data := doc.Interface()

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.workers)
	for _, name := range names {
		eg.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return r.execute(set, name, OutputPath(entry.Output, name, r.suffix), data)
			}
		})
	}
	if err := eg.Wait(); err != nil {
		perf.EndWithError(ctx, err)
		return err
	}

	perf.End(ctx, "output", entry.Output)
	return nil
}

func (r *Renderer) parse(inputDir string, names []string) (*template.Template, error) {
	set := template.New("").Funcs(FuncMap())
	for _, name := range names {
		path := filepath.Join(inputDir, filepath.FromSlash(name))
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, pigerrors.WrapIO(err, "cannot read template", path)
		}
		if _, err := set.New(name).Parse(string(src)); err != nil {
			return nil, pigerrors.NewTemplateError(pigerrors.ErrCodeTemplateParse, "cannot parse template", err).
				WithLocation(path)
		}
	}
	return set, nil
}

func (r *Renderer) execute(set *template.Template, name, path string, data interface{}) error {
	var buf bytes.Buffer
	if err := set.ExecuteTemplate(&buf, name, data); err != nil {
		return pigerrors.NewTemplateError(pigerrors.ErrCodeTemplateExec, "cannot execute template "+name, err).
			WithLocation(path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return pigerrors.WrapIO(err, "cannot create output directory", filepath.Dir(path))
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return pigerrors.WrapIO(err, "cannot write output", path)
	}

	r.logger.Debug(context.Background(), "Rendered template", "template", name, "output", path, "bytes", buf.Len())
	return nil
}
