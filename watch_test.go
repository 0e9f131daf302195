package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/spsync/internal/config"
)

// mockFsWatcher implements fsWatcher with injectable channels and records
// watched directories.
type mockFsWatcher struct {
	mu      sync.Mutex
	added   []string
	removed []string
	events chan fsnotify.Event
	errs   chan error
}

func newMockFsWatcher() *mockFsWatcher {
	return &mockFsWatcher{
		events: make(chan fsnotify.Event, 10),
		errs:   make(chan error, 10),
	}
}

func (m *mockFsWatcher) Add(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.added = append(m.added, name)

	return nil
}

func (m *mockFsWatcher) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removed = append(m.removed, name)

	return nil
}

func (m *mockFsWatcher) unwatched() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.removed...)
}

func (m *mockFsWatcher) Close() error                  { return nil }
func (m *mockFsWatcher) Events() <-chan fsnotify.Event { return m.events }
func (m *mockFsWatcher) Errors() <-chan error          { return m.errs }

func (m *mockFsWatcher) watched() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.added...)
}

// sleepRecorder captures durations passed to sleepFunc.
type sleepRecorder struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, d)

	return nil
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]time.Duration(nil), s.calls...)
}

type watchFixture struct {
	root    string
	src     string
	watcher *mockFsWatcher
	saved   chan string
	reloads chan string
	sleeps  *sleepRecorder
	hup     chan os.Signal
	sw      *saveWatcher
}

func newWatchFixture(t *testing.T) *watchFixture {
	t.Helper()

	root := t.TempDir()
	src := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "css"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(src, ".git"), 0o755))

	f := &watchFixture{
		root:    root,
		src:     src,
		watcher: newMockFsWatcher(),
		saved:   make(chan string, 10),
		reloads: make(chan string, 10),
		sleeps:  &sleepRecorder{},
		hup:     make(chan os.Signal, 1),
	}

	site := &config.Site{SiteURL: "https://example.sharepoint.com/sites/team", WorkspaceRoot: root, SourceRoot: src}

	f.sw = &saveWatcher{
		watcher:    f.watcher,
		site:       site,
		configPath: filepath.Join(root, config.FileName),
		debounce:   10 * time.Millisecond,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		save: func(_ context.Context, path string) error {
			f.saved <- path
			return nil
		},
		reload: func(_ context.Context, path string) (*config.Site, error) {
			f.reloads <- path
			next := *site
			next.CheckInMessage = "reloaded"

			return &next, nil
		},
		sleepFunc: f.sleeps.sleep,
		hup:       f.hup,
		pending:   make(map[string]struct{}),
	}

	return f
}

func (f *watchFixture) write(t *testing.T, rel string) string {
	t.Helper()

	path := filepath.Join(f.src, filepath.FromSlash(rel))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	return path
}

// start runs the watcher until the test ends.
func (f *watchFixture) start(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(t.Context())
	ready := make(chan struct{})
	done := make(chan error, 1)

	f.sw.onReady = func() { close(ready) }

	go func() { done <- f.sw.run(ctx) }()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not become ready")
	}
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watcher")
		return ""
	}
}

func TestSaveWatcher_WatchesTreeSkippingHiddenDirs(t *testing.T) {
	t.Parallel()

	f := newWatchFixture(t)
	f.start(t)

	watched := f.watcher.watched()
	assert.Contains(t, watched, f.src)
	assert.Contains(t, watched, filepath.Join(f.src, "css"))
	assert.Contains(t, watched, f.root)
	assert.NotContains(t, watched, filepath.Join(f.src, ".git"))
}

func TestSaveWatcher_DebouncedSavesInOrder(t *testing.T) {
	t.Parallel()

	f := newWatchFixture(t)
	b := f.write(t, "b.js")
	a := f.write(t, "css/a.css")

	// Queued before the loop starts, so all three land in one batch.
	f.watcher.events <- fsnotify.Event{Name: b, Op: fsnotify.Write}
	f.watcher.events <- fsnotify.Event{Name: a, Op: fsnotify.Create}
	f.watcher.events <- fsnotify.Event{Name: b, Op: fsnotify.Write}

	f.start(t)

	// Saved in lexical path order: "b.js" sorts before "css/".
	assert.Equal(t, b, receive(t, f.saved))
	assert.Equal(t, a, receive(t, f.saved))

	select {
	case extra := <-f.saved:
		t.Fatalf("unexpected extra save of %s", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSaveWatcher_ConfigWriteReloads(t *testing.T) {
	t.Parallel()

	f := newWatchFixture(t)
	f.start(t)

	f.watcher.events <- fsnotify.Event{Name: f.sw.configPath, Op: fsnotify.Write}

	assert.Equal(t, f.root, receive(t, f.reloads))
}

func TestSaveWatcher_HangupReloads(t *testing.T) {
	t.Parallel()

	f := newWatchFixture(t)
	f.start(t)

	f.hup <- os.Interrupt

	assert.Equal(t, f.root, receive(t, f.reloads))
}

func TestSaveWatcher_ErrorBackoff(t *testing.T) {
	t.Parallel()

	f := newWatchFixture(t)
	f.start(t)

	for range 6 {
		f.watcher.errs <- errors.New("queue overflow")
	}

	require.Eventually(t, func() bool { return len(f.sleeps.recorded()) == 6 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second,
	}, f.sleeps.recorded())
}

func TestSaveWatcher_Handle(t *testing.T) {
	t.Parallel()

	f := newWatchFixture(t)
	file := f.write(t, "app.js")
	swap := f.write(t, ".app.js.swp")
	backup := f.write(t, "app.js~")
	outside := filepath.Join(f.root, "notes.txt")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))

	assert.False(t, f.sw.handle(fsnotify.Event{Name: swap, Op: fsnotify.Write}), "swap file")
	assert.False(t, f.sw.handle(fsnotify.Event{Name: backup, Op: fsnotify.Write}), "backup file")
	assert.False(t, f.sw.handle(fsnotify.Event{Name: outside, Op: fsnotify.Write}), "outside source")
	assert.False(t, f.sw.handle(fsnotify.Event{Name: file, Op: fsnotify.Chmod}), "chmod")
	assert.Empty(t, f.sw.pending)

	assert.True(t, f.sw.handle(fsnotify.Event{Name: file, Op: fsnotify.Write}))
	assert.Contains(t, f.sw.pending, file)

	assert.False(t, f.sw.handle(fsnotify.Event{Name: file, Op: fsnotify.Remove}))
	assert.Empty(t, f.sw.pending)

	assert.True(t, f.sw.handle(fsnotify.Event{Name: f.sw.configPath, Op: fsnotify.Create}))
	assert.True(t, f.sw.reloadNeeded)
	assert.False(t, f.sw.handle(fsnotify.Event{Name: f.sw.configPath, Op: fsnotify.Remove}))
}

func TestSaveWatcher_NewDirectoryWatched(t *testing.T) {
	t.Parallel()

	f := newWatchFixture(t)
	dir := filepath.Join(f.src, "img")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "icons"), 0o755))

	assert.False(t, f.sw.handle(fsnotify.Event{Name: dir, Op: fsnotify.Create}))
	assert.Equal(t, []string{dir, filepath.Join(dir, "icons")}, f.watcher.watched())
}

func TestSaveWatcher_FlushAppliesReload(t *testing.T) {
	t.Parallel()

	f := newWatchFixture(t)
	f.sw.reloadNeeded = true

	f.sw.flush(t.Context())

	assert.Equal(t, f.root, receive(t, f.reloads))
	assert.Equal(t, "reloaded", f.sw.site.CheckInMessage)
	assert.False(t, f.sw.reloadNeeded)
}

func TestSaveWatcher_ReloadMovesSourceRoot(t *testing.T) {
	t.Parallel()

	f := newWatchFixture(t)
	moved := filepath.Join(f.root, "app")
	require.NoError(t, os.MkdirAll(filepath.Join(moved, "js"), 0o755))

	f.sw.reload = func(context.Context, string) (*config.Site, error) {
		next := *f.sw.site
		next.SourceRoot = moved

		return &next, nil
	}

	f.sw.pending[filepath.Join(f.src, "a.js")] = struct{}{}
	f.sw.reloadNeeded = true

	f.sw.flush(t.Context())

	assert.Equal(t, moved, f.sw.site.SourceRoot)
	assert.Subset(t, f.watcher.watched(), []string{moved, filepath.Join(moved, "js")})
	assert.Subset(t, f.watcher.unwatched(), []string{f.src, filepath.Join(f.src, "css")})
	assert.NotContains(t, f.watcher.unwatched(), f.root)

	select {
	case p := <-f.saved:
		t.Fatalf("saved %s from the old source root", p)
	default:
	}
}

func TestSaveWatcher_ReloadSameSourceRootKeepsWatches(t *testing.T) {
	t.Parallel()

	f := newWatchFixture(t)
	f.sw.reloadNeeded = true

	f.sw.flush(t.Context())

	assert.Empty(t, f.watcher.watched())
	assert.Empty(t, f.watcher.unwatched())
}

func TestIgnoredName(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]bool{
		"app.js":          false,
		".DS_Store":       true,
		"app.js~":         true,
		"big.zip.partial": true,
		".app.js.swp":     true,
		"site.swp":        true,
	} {
		assert.Equal(t, want, ignoredName(name), name)
	}
}

func TestTimeSleep_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	assert.ErrorIs(t, timeSleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, timeSleep(t.Context(), time.Millisecond))
}
