package testutils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCreateTempProject(t *testing.T) {
	dir := CreateTempProject(t, map[string]string{
		"pig.yaml":           "entries: []\n",
		"openapi/api.yaml":   "openapi: 3.0.3\n",
		"templates/a/b.tmpl": "x",
	})

	canonical, err := filepath.EvalSymlinks(dir)
	assert.NoError(t, err)
	assert.Equal(t, canonical, dir)
	assert.Equal(t, "entries: []\n", ReadFile(t, filepath.Join(dir, "pig.yaml")))
	assert.Equal(t, "x", ReadFile(t, filepath.Join(dir, "templates", "a", "b.tmpl")))
	AssertFilePermissions(t, filepath.Join(dir, "pig.yaml"), 0o644)
}

func TestWaitForFileContent(t *testing.T) {
	path := filepath.Join(TempDir(t), "out.txt")
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = os.WriteFile(path, []byte("done"), 0o644)
	}()
	WaitForFileContent(t, path, "done", 2*time.Second)
}
