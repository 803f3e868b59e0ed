package renderer

import (
	"os"
	"path/filepath"

	"github.com/conneroisu/pig/internal/document"
	pigerrors "github.com/conneroisu/pig/internal/errors"
)

// Context snapshot file names. Both are rewritten on every resolve and are
// never treated as stale output.
const (
	SnapshotJSON = ".pig.context.json"
	SnapshotYAML = ".pig.context.yaml"
)

// SnapshotNames lists the reserved snapshot file names.
func SnapshotNames() []string {
	return []string{SnapshotJSON, SnapshotYAML}
}

// IsSnapshot reports whether path names a context snapshot file.
func IsSnapshot(path string) bool {
	base := filepath.Base(path)
	return base == SnapshotJSON || base == SnapshotYAML
}

// WriteSnapshots dumps doc into outDir as JSON and YAML.
func WriteSnapshots(outDir string, doc *document.Node) error {
	jsonData, err := document.EncodeJSON(doc)
	if err != nil {
		return pigerrors.NewInternalError("cannot encode JSON snapshot", err)
	}
	yamlData, err := document.EncodeYAML(doc)
	if err != nil {
		return pigerrors.NewInternalError("cannot encode YAML snapshot", err)
	}

	for name, data := range map[string][]byte{SnapshotJSON: jsonData, SnapshotYAML: yamlData} {
		path := filepath.Join(outDir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return pigerrors.WrapIO(err, "cannot write snapshot", path)
		}
	}
	return nil
}
