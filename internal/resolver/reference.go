package resolver

import (
	"os"
	"path/filepath"
	"strings"

	pigerrors "github.com/conneroisu/pig/internal/errors"
)

// Reference identifies a location in a schema file: a canonical file path
// plus the key path into that file's document.
type Reference struct {
	File string
	Keys []string
}

// ParseReference parses text of the form "<file>#<key>/<key>" relative to
// current, the canonical path of the file the text appears in. An empty file
// part refers to current itself. The text holds exactly one '#'.
func ParseReference(current, text string) (Reference, error) {
	filePart, fragment, ok := strings.Cut(text, "#")
	if !ok {
		return Reference{}, pigerrors.NewReferenceError(
			pigerrors.ErrCodeRefMalformed,
			"malformed reference "+quote(text)+": missing '#' separator",
		).WithLocation(current)
	}
	if strings.Contains(fragment, "#") {
		return Reference{}, pigerrors.NewReferenceError(
			pigerrors.ErrCodeRefMalformed,
			"malformed reference "+quote(text)+": more than one '#'",
		).WithLocation(current)
	}

	file := strings.TrimSpace(filePart)
	switch {
	case file == "":
		file = current
	case !filepath.IsAbs(file):
		file = filepath.Join(filepath.Dir(current), file)
	}

	canonical, err := Canonical(file)
	if err != nil {
		return Reference{}, pigerrors.WrapIO(err, "cannot resolve reference "+quote(text), current)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return Reference{}, pigerrors.WrapIO(err, "cannot stat reference target", canonical)
	}
	if !info.Mode().IsRegular() {
		return Reference{}, pigerrors.NewReferenceError(
			pigerrors.ErrCodeRefMalformed,
			"reference "+quote(text)+" does not point to a regular file",
		).WithLocation(canonical)
	}

	var keys []string
	for _, key := range strings.Split(fragment, "/") {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}

	return Reference{File: canonical, Keys: keys}, nil
}

// Equal reports whether r and other point at the same location.
func (r Reference) Equal(other Reference) bool {
	if r.File != other.File || len(r.Keys) != len(other.Keys) {
		return false
	}
	for i := range r.Keys {
		if r.Keys[i] != other.Keys[i] {
			return false
		}
	}
	return true
}

// String renders r as "<file>#/<k1>/<k2>".
func (r Reference) String() string {
	return r.Display(len(r.Keys))
}

// Display renders r with only its first n keys.
func (r Reference) Display(n int) string {
	if n > len(r.Keys) {
		n = len(r.Keys)
	}
	if n < 0 {
		n = 0
	}
	return r.File + "#/" + strings.Join(r.Keys[:n], "/")
}

// Name is the last key of r, or the file name without extension when r
// points at a whole document.
func (r Reference) Name() string {
	if len(r.Keys) == 0 {
		base := filepath.Base(r.File)
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
	return r.Keys[len(r.Keys)-1]
}

// Canonical returns the absolute, symlink-free form of path. The path must
// exist.
func Canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func quote(s string) string {
	return `"` + s + `"`
}
