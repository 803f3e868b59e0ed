// Package testutils provides filesystem fixtures shared by package tests.
package testutils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TempDir returns a fresh temporary directory with symlinks resolved, so
// paths built from it compare equal to canonical paths.
func TempDir(t testing.TB) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// WriteFiles writes each slash-separated name -> content pair below dir.
func WriteFiles(t testing.TB, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		WriteFile(t, filepath.Join(dir, filepath.FromSlash(name)), content)
	}
}

// ReadFile returns the content of path.
func ReadFile(t testing.TB, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// CreateTempProject lays out files in a fresh canonical temporary directory
// and returns it.
func CreateTempProject(t testing.TB, files map[string]string) string {
	t.Helper()
	dir := TempDir(t)
	WriteFiles(t, dir, files)
	return dir
}

// AssertFilePermissions checks the permission bits of path.
func AssertFilePermissions(t testing.TB, path string, expectedMode os.FileMode) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)

	actualMode := info.Mode().Perm()
	require.Equal(t, expectedMode, actualMode,
		"File %s has incorrect permissions: got %o, want %o", path, actualMode, expectedMode)
}

// WaitForFileContent waits until path holds content.
func WaitForFileContent(t testing.TB, path, content string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)

	var last string
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(path); err == nil {
			if last = string(data); last == content {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("File %s did not contain %q within %v (last %q)", path, content, timeout, last)
}
