// Package reconciler removes generated files that no template produces any
// more. Nothing is deleted: stale files are moved into a per-pass directory
// under <config dir>/.pig.trash/<epoch millis>/, keeping their path relative
// to the output directory they were found in.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"
	"time"

	pigerrors "github.com/conneroisu/pig/internal/errors"
	"github.com/conneroisu/pig/internal/logging"
	"github.com/conneroisu/pig/internal/renderer"
)

// TrashDir is the name of the trash directory inside the config directory.
const TrashDir = ".pig.trash"

// Entry is the part of a project entry the reconciler needs: its output
// directory and the template names it currently renders.
type Entry struct {
	Output    string
	Templates []string
}

// Move records one relocated file.
type Move struct {
	From string
	To   string
}

// Report describes one reconciliation pass.
type Report struct {
	// Trash is the directory files were moved into, empty if none were.
	Trash string
	Moved []Move
}

// Reconciler computes expected outputs and relocates stale files.
type Reconciler struct {
	ConfigDir string
	Suffix    string
	Now       func() time.Time
	Logger    logging.Logger
}

// New creates a reconciler whose trash lives under configDir.
func New(configDir, suffix string, logger logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Reconciler{
		ConfigDir: configDir,
		Suffix:    suffix,
		Now:       time.Now,
		Logger:    logger.WithComponent("reconciler"),
	}
}

// TrashRoot returns <config dir>/.pig.trash.
func (r *Reconciler) TrashRoot() string {
	return filepath.Join(r.ConfigDir, TrashDir)
}

// Expected maps every output path derived from the entries' templates to a
// description of the (entry, template) pair producing it. Two pairs mapping
// to the same path are a collision, as is a template mapping onto a context
// snapshot.
func (r *Reconciler) Expected(entries []Entry) (map[string]string, error) {
	snapshots := make(map[string]string, 2*len(entries))
	for i, e := range entries {
		for _, name := range renderer.SnapshotNames() {
			snapshots[filepath.Join(e.Output, name)] = fmt.Sprintf("entry %d context snapshot", i)
		}
	}

	expected := make(map[string]string)
	for i, e := range entries {
		for _, name := range e.Templates {
			path := renderer.OutputPath(e.Output, name, r.Suffix)
			owner := fmt.Sprintf("entry %d template %q", i, name)
			previous, ok := expected[path]
			if !ok {
				previous, ok = snapshots[path]
			}
			if ok {
				return nil, pigerrors.NewCollisionError(
					fmt.Sprintf("output collision: %s and %s both generate this file", previous, owner),
				).WithLocation(path)
			}
			expected[path] = owner
		}
	}
	return expected, nil
}

// Reconcile moves every regular file under the entries' output directories
// that is neither expected nor a context snapshot into the trash. A
// collision fails the pass before anything is moved.
func (r *Reconciler) Reconcile(ctx context.Context, entries []Entry) (*Report, error) {
	expected, err := r.Expected(entries)
	if err != nil {
		return nil, err
	}

	keep := make(map[string]bool, len(expected)+2*len(entries))
	for path := range expected {
		keep[path] = true
	}
	for _, e := range entries {
		for _, name := range renderer.SnapshotNames() {
			keep[filepath.Join(e.Output, name)] = true
		}
	}

	p := &pass{
		reconciler: r,
		ctx:        ctx,
		keep:       keep,
		visited:    make(map[string]bool),
		report:     &Report{},
	}
	if trash, err := filepath.EvalSymlinks(r.TrashRoot()); err == nil {
		p.visited[trash] = true
	}

	for _, e := range entries {
		if err := p.walk(e.Output, e.Output); err != nil {
			return p.report, err
		}
	}

	if len(p.report.Moved) > 0 {
		r.Logger.Info(ctx, "Relocated stale output", "count", len(p.report.Moved), "trash", p.report.Trash)
	}
	return p.report, nil
}

// pass holds the state of one Reconcile call.
type pass struct {
	reconciler *Reconciler
	ctx        context.Context
	keep       map[string]bool
	visited    map[string]bool
	report     *Report
}

// walk visits dir, reached through the logical path dir below root,
// following symbolic links. Each physical directory is visited once.
func (p *pass) walk(root, dir string) error {
	canonical, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return pigerrors.WrapIO(err, "cannot resolve output directory", dir)
	}
	if p.visited[canonical] {
		return nil
	}
	p.visited[canonical] = true

	entries, err := os.ReadDir(dir)
	if err != nil {
		return pigerrors.WrapIO(err, "cannot read output directory", dir)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// dangling symlink
				continue
			}
			return pigerrors.WrapIO(err, "cannot stat output", path)
		}

		switch {
		case info.IsDir():
			if err := p.walk(root, path); err != nil {
				return err
			}
		case info.Mode().IsRegular() && !p.keep[path]:
			if err := p.relocate(root, path); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *pass) relocate(root, path string) error {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return pigerrors.WrapIO(err, "cannot relativize stale output", path)
	}

	trash, err := p.trash()
	if err != nil {
		return err
	}
	dest := filepath.Join(trash, rel)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return pigerrors.WrapIO(err, "cannot create trash directory", filepath.Dir(dest))
	}
	if err := move(path, dest); err != nil {
		return pigerrors.WrapIO(err, "cannot relocate stale output", path)
	}

	p.report.Moved = append(p.report.Moved, Move{From: path, To: dest})
	p.reconciler.Logger.Debug(p.ctx, "Moved stale output to trash", "from", path, "to", dest)
	return nil
}

// trash creates this pass's trash directory on first use.
func (p *pass) trash() (string, error) {
	if p.report.Trash != "" {
		return p.report.Trash, nil
	}

	millis := p.reconciler.Now().UnixMilli()
	for {
		dir := filepath.Join(p.reconciler.TrashRoot(), strconv.FormatInt(millis, 10))
		if _, err := os.Lstat(dir); errors.Is(err, os.ErrNotExist) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", pigerrors.WrapIO(err, "cannot create trash directory", dir)
			}
			p.report.Trash = dir
			if canonical, err := filepath.EvalSymlinks(p.reconciler.TrashRoot()); err == nil {
				p.visited[canonical] = true
			}
			return dir, nil
		}
		millis++
	}
}

// move renames src to dst, copying across file systems when rename cannot.
func move(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst) // best-effort cleanup
		return err
	}
	return out.Close()
}
