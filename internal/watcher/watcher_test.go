package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/pig/internal/testutils"
)

const testInterval = 30 * time.Millisecond

func TestKindString(t *testing.T) {
	testCases := []struct {
		kind     Kind
		expected string
	}{
		{KindConfig, "config"},
		{KindSchema, "schema"},
		{KindInput, "input"},
		{Kind(9), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.kind.String())
		})
	}
}

// next waits for one event or fails.
func next(t *testing.T, hub *Hub) Event {
	t.Helper()
	select {
	case e := <-hub.Events():
		return e
	case err := <-hub.Errors():
		t.Fatalf("watcher error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

// quiet asserts no event arrives for a few intervals.
func quiet(t *testing.T, hub *Hub) {
	t.Helper()
	select {
	case e := <-hub.Events():
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(5 * testInterval):
	}
}

func TestWatchFile(t *testing.T) {
	dir := testutils.TempDir(t)
	target := filepath.Join(dir, "api.yaml")
	sibling := filepath.Join(dir, "other.yaml")
	testutils.WriteFile(t, target, "a")
	testutils.WriteFile(t, sibling, "a")

	hub := NewHub(testInterval, nil)
	defer hub.Close()

	source := Source{Kind: KindSchema, Entry: 2}
	handle, err := hub.NewHandle(source)
	require.NoError(t, err)
	require.NoError(t, handle.Watch(target))
	assert.Equal(t, source, handle.Source())

	testutils.WriteFile(t, sibling, "b")
	quiet(t, hub)

	testutils.WriteFile(t, target, "b")
	e := next(t, hub)
	assert.Equal(t, source, e.Source)
	assert.Equal(t, target, e.Path)
}

func TestWatchCoalescesWrites(t *testing.T) {
	dir := testutils.TempDir(t)
	target := filepath.Join(dir, "pig.yaml")
	testutils.WriteFile(t, target, "a")

	hub := NewHub(200*time.Millisecond, nil)
	defer hub.Close()

	handle, err := hub.NewHandle(Source{Kind: KindConfig})
	require.NoError(t, err)
	require.NoError(t, handle.Watch(target))

	for i := 0; i < 5; i++ {
		testutils.WriteFile(t, target, string(rune('a'+i)))
	}

	e := next(t, hub)
	assert.Equal(t, KindConfig, e.Source.Kind)
	select {
	case extra := <-hub.Events():
		t.Fatalf("writes within one interval produced a second event %+v", extra)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatchIgnoresCreateAndRemove(t *testing.T) {
	dir := testutils.TempDir(t)

	hub := NewHub(testInterval, nil)
	defer hub.Close()

	handle, err := hub.NewHandle(Source{Kind: KindInput})
	require.NoError(t, err)
	require.NoError(t, handle.Watch(dir))

	f, err := os.Create(filepath.Join(dir, "new.tmpl"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, os.Remove(filepath.Join(dir, "new.tmpl")))
	require.NoError(t, os.Chmod(dir, 0o755))

	quiet(t, hub)
}

func TestWatchDirectoryRecursive(t *testing.T) {
	dir := testutils.TempDir(t)
	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	testutils.WriteFile(t, filepath.Join(nested, "x.tmpl"), "a")

	hub := NewHub(testInterval, nil)
	defer hub.Close()

	source := Source{Kind: KindInput, Entry: 0}
	handle, err := hub.NewHandle(source)
	require.NoError(t, err)
	require.NoError(t, handle.Watch(dir))

	testutils.WriteFile(t, filepath.Join(nested, "x.tmpl"), "b")
	e := next(t, hub)
	assert.Equal(t, source, e.Source)
	assert.Equal(t, filepath.Join(nested, "x.tmpl"), e.Path)

	t.Run("new sub-directories are watched", func(t *testing.T) {
		added := filepath.Join(dir, "c")
		require.NoError(t, os.Mkdir(added, 0o755))
		require.Eventually(t, func() bool {
			handle.mu.Lock()
			defer handle.mu.Unlock()
			return handle.dirs[added] == 1
		}, 2*time.Second, 10*time.Millisecond)

		testutils.WriteFile(t, filepath.Join(added, "y.tmpl"), "a")
		testutils.WriteFile(t, filepath.Join(added, "y.tmpl"), "b")
		e := next(t, hub)
		assert.Equal(t, filepath.Join(added, "y.tmpl"), e.Path)
	})
}

func TestUnwatch(t *testing.T) {
	dir := testutils.TempDir(t)
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	testutils.WriteFile(t, a, "a")
	testutils.WriteFile(t, b, "a")

	hub := NewHub(testInterval, nil)
	defer hub.Close()

	handle, err := hub.NewHandle(Source{Kind: KindSchema})
	require.NoError(t, err)
	require.NoError(t, handle.Watch(a))
	require.NoError(t, handle.Watch(b))
	require.NoError(t, handle.Watch(a))
	assert.Equal(t, 2, handle.dirs[dir], "both files share the parent directory watch")

	require.NoError(t, handle.Unwatch(a))
	assert.Equal(t, 1, handle.dirs[dir])
	assert.ElementsMatch(t, []string{b}, handle.Watched())

	testutils.WriteFile(t, a, "b")
	quiet(t, hub)

	testutils.WriteFile(t, b, "b")
	assert.Equal(t, b, next(t, hub).Path)

	require.NoError(t, handle.UnwatchAll())
	assert.Empty(t, handle.Watched())
	assert.Empty(t, handle.dirs)
	assert.Empty(t, handle.watcher.WatchList())

	testutils.WriteFile(t, b, "c")
	quiet(t, hub)

	require.NoError(t, handle.Unwatch("/never/watched"))
}

func TestWatchMissingPath(t *testing.T) {
	hub := NewHub(testInterval, nil)
	defer hub.Close()

	handle, err := hub.NewHandle(Source{Kind: KindSchema})
	require.NoError(t, err)
	assert.Error(t, handle.Watch(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestHubClose(t *testing.T) {
	hub := NewHub(testInterval, nil)

	first, err := hub.NewHandle(Source{Kind: KindConfig})
	require.NoError(t, err)
	_, err = hub.NewHandle(Source{Kind: KindInput, Entry: 1})
	require.NoError(t, err)

	require.NoError(t, hub.Close())
	require.NoError(t, hub.Close())
	require.NoError(t, first.Close())
	assert.Empty(t, hub.handles)

	_, err = hub.NewHandle(Source{Kind: KindConfig})
	assert.Error(t, err)
}

func TestDebouncer(t *testing.T) {
	var mu sync.Mutex
	var emitted []Event

	d := NewDebouncer(50*time.Millisecond, func(e Event) {
		mu.Lock()
		emitted = append(emitted, e)
		mu.Unlock()
	})

	d.Add(Event{Path: "one"})
	d.Add(Event{Path: "two"})
	d.Add(Event{Path: "three"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(emitted) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "three", emitted[0].Path)
	mu.Unlock()

	d.Add(Event{Path: "four"})
	d.Stop()
	time.Sleep(100 * time.Millisecond)
	d.Add(Event{Path: "five"})

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, emitted, 1, "a stopped debouncer emits nothing")
}
