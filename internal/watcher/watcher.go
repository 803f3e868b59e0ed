// Package watcher delivers tagged "content changed" notifications from the
// file system onto one ordered channel.
//
// A Hub owns the channel. Each Handle is one fsnotify watcher feeding it,
// tagged with the Source it watches for. Only content writes are forwarded;
// creation, removal, renames and attribute changes are dropped. Writes seen
// by one handle within the hub's interval are coalesced into one Event.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	pigerrors "github.com/conneroisu/pig/internal/errors"
	"github.com/conneroisu/pig/internal/logging"
)

// DefaultInterval is the coalescing interval used when none is given.
const DefaultInterval = 200 * time.Millisecond

// Kind is the category of a watched path.
type Kind int

const (
	KindConfig Kind = iota
	KindSchema
	KindInput
)

// String returns the string representation of the Kind
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindSchema:
		return "schema"
	case KindInput:
		return "input"
	default:
		return "unknown"
	}
}

// Source tags events with what was being watched. Entry is the project
// entry index and is ignored for KindConfig.
type Source struct {
	Kind  Kind
	Entry int
}

// Event reports that a watched source changed. Path is the last file
// written within the coalescing interval.
type Event struct {
	Source Source
	Path   string
}

// Hub multiplexes every handle's events onto one channel.
type Hub struct {
	events   chan Event
	errs     chan error
	interval time.Duration
	logger   logging.Logger

	mu      sync.Mutex
	handles map[*Handle]struct{}
	closed  bool
}

// NewHub creates a hub coalescing writes within interval.
func NewHub(interval time.Duration, logger logging.Logger) *Hub {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Hub{
		events:   make(chan Event, 64),
		errs:     make(chan error, 1),
		interval: interval,
		logger:   logger.WithComponent("watcher"),
		handles:  make(map[*Handle]struct{}),
	}
}

// Events returns the ordered stream of change events.
func (h *Hub) Events() <-chan Event {
	return h.events
}

// Errors returns failures reported by the notification backend. A value on
// this channel means events may have been lost.
func (h *Hub) Errors() <-chan error {
	return h.errs
}

// NewHandle creates a handle whose events are tagged with source.
func (h *Hub) NewHandle(source Source) (*Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, pigerrors.NewInternalError("watch hub is closed", nil)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, pigerrors.NewIOError("cannot create file watcher", err)
	}

	handle := &Handle{
		hub:     h,
		source:  source,
		watcher: fsw,
		files:   make(map[string]bool),
		dirs:    make(map[string]int),
		trees:   make(map[string][]string),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	handle.debouncer = NewDebouncer(h.interval, handle.deliver)
	h.handles[handle] = struct{}{}

	go handle.loop()
	return handle, nil
}

// Close closes every handle. Events already queued stay readable.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	handles := make([]*Handle, 0, len(h.handles))
	for handle := range h.handles {
		handles = append(handles, handle)
	}
	h.mu.Unlock()

	var errs []error
	for _, handle := range handles {
		errs = append(errs, handle.Close())
	}
	return errors.Join(errs...)
}

func (h *Hub) remove(handle *Handle) {
	h.mu.Lock()
	delete(h.handles, handle)
	h.mu.Unlock()
}

func (h *Hub) fail(err error) {
	select {
	case h.errs <- pigerrors.NewIOError("file watcher failed", err):
	default:
	}
}

// Handle is one fsnotify watcher bound to a Source.
type Handle struct {
	hub       *Hub
	source    Source
	watcher   *fsnotify.Watcher
	debouncer *Debouncer

	mu    sync.Mutex
	files map[string]bool     // watched files
	dirs  map[string]int      // directories added to fsnotify, reference counted
	trees map[string][]string // recursive roots and the directories under them

	once    sync.Once
	done    chan struct{}
	stopped chan struct{}
}

// Source returns the tag of this handle's events.
func (w *Handle) Source() Source {
	return w.source
}

// Watch starts watching path. A file is watched through its parent
// directory so that it survives being replaced; a directory is watched
// recursively, including sub-directories created later.
func (w *Handle) Watch(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return pigerrors.WrapIO(err, "cannot watch path", path)
	}
	path = filepath.Clean(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	if !info.IsDir() {
		if w.files[path] {
			return nil
		}
		if err := w.addDir(filepath.Dir(path)); err != nil {
			return err
		}
		w.files[path] = true
		return nil
	}

	if _, ok := w.trees[path]; ok {
		return nil
	}
	w.trees[path] = nil
	return w.addTree(path, path)
}

// Unwatch stops watching a path previously passed to Watch.
func (w *Handle) Unwatch(path string) error {
	path = filepath.Clean(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.files[path] {
		delete(w.files, path)
		return w.removeDir(filepath.Dir(path))
	}
	if dirs, ok := w.trees[path]; ok {
		delete(w.trees, path)
		var errs []error
		for _, dir := range dirs {
			errs = append(errs, w.removeDir(dir))
		}
		return errors.Join(errs...)
	}
	return nil
}

// UnwatchAll stops watching every path.
func (w *Handle) UnwatchAll() error {
	w.mu.Lock()
	paths := make([]string, 0, len(w.files)+len(w.trees))
	for path := range w.files {
		paths = append(paths, path)
	}
	for path := range w.trees {
		paths = append(paths, path)
	}
	w.mu.Unlock()

	var errs []error
	for _, path := range paths {
		errs = append(errs, w.Unwatch(path))
	}
	return errors.Join(errs...)
}

// Watched returns the files and directory trees currently watched.
func (w *Handle) Watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.files)+len(w.trees))
	for path := range w.files {
		paths = append(paths, path)
	}
	for path := range w.trees {
		paths = append(paths, path)
	}
	return paths
}

// Close releases the fsnotify watcher. Pending coalesced events are dropped.
func (w *Handle) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.debouncer.Stop()
		err = w.watcher.Close()
		<-w.stopped
		w.hub.remove(w)
	})
	return err
}

func (w *Handle) addDir(dir string) error {
	if w.dirs[dir] == 0 {
		if err := w.watcher.Add(dir); err != nil {
			return pigerrors.WrapIO(err, "cannot watch directory", dir)
		}
	}
	w.dirs[dir]++
	return nil
}

func (w *Handle) removeDir(dir string) error {
	switch w.dirs[dir] {
	case 0:
		return nil
	case 1:
		delete(w.dirs, dir)
		if err := w.watcher.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
			return pigerrors.WrapIO(err, "cannot unwatch directory", dir)
		}
		return nil
	default:
		w.dirs[dir]--
		return nil
	}
}

// addTree adds dir and every directory below it to the tree rooted at root.
func (w *Handle) addTree(root, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return pigerrors.WrapIO(err, "cannot walk watched directory", path)
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.addDir(path); err != nil {
			return err
		}
		w.trees[root] = append(w.trees[root], path)
		return nil
	})
}

// treeOf returns the watched tree containing path.
func (w *Handle) treeOf(path string) (string, bool) {
	for root := range w.trees {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return root, true
		}
	}
	return "", false
}

func (w *Handle) loop() {
	defer close(w.stopped)
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.hub.logger.Error(context.Background(), err, "File watcher error", "source", w.source.Kind.String(), "entry", w.source.Entry)
			w.hub.fail(err)
		}
	}
}

func (w *Handle) handleEvent(event fsnotify.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	root, inTree := w.treeOf(event.Name)

	if inTree && event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(root, event.Name); err != nil {
				w.hub.logger.Warn(context.Background(), err, "Cannot watch new directory", "path", event.Name)
			}
		}
	}

	if !event.Has(fsnotify.Write) {
		return
	}
	if !inTree && !w.files[event.Name] {
		return
	}

	w.debouncer.Add(Event{Source: w.source, Path: event.Name})
}

// deliver blocks until the consumer takes e or the handle closes.
func (w *Handle) deliver(e Event) {
	select {
	case w.hub.events <- e:
	case <-w.done:
	}
}

// Debouncer groups rapid changes of one source into one event. The first
// change opens a window of the configured delay; the latest change seen
// when the window closes is emitted.
type Debouncer struct {
	delay   time.Duration
	emit    func(Event)
	mutex   sync.Mutex
	timer   *time.Timer
	pending *Event
	stopped bool
}

// NewDebouncer creates a debouncer calling emit once per window.
func NewDebouncer(delay time.Duration, emit func(Event)) *Debouncer {
	return &Debouncer{delay: delay, emit: emit}
}

// Add records a change.
func (d *Debouncer) Add(e Event) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.stopped {
		return
	}
	d.pending = &e
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.flush)
	}
}

// Stop discards any pending change and disables the debouncer.
func (d *Debouncer) Stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.stopped = true
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) flush() {
	d.mutex.Lock()
	pending := d.pending
	d.pending = nil
	d.timer = nil
	d.mutex.Unlock()

	if pending != nil {
		d.emit(*pending)
	}
}
