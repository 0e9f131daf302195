package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/spsync/internal/config"
	"github.com/tonimelisma/spsync/internal/siteops"
)

// Watch tuning. Saves are debounced so an editor's write burst uploads
// once; watcher errors back off exponentially.
const (
	defaultSaveDebounce = 500 * time.Millisecond
	watchErrInitBackoff = time.Second
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [workspace]",
		Short: "Upload files below the source root whenever they are saved",
		Long: `Watch the workspace source root and upload every file written below it,
without checking it in. Edits to spsync.toml reload the configuration.
Stops on Ctrl-C.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runWatch,
	}

	cmd.Flags().Duration("debounce", defaultSaveDebounce, "quiet period before a changed file is uploaded")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	root, err := workspaceArg(args)
	if err != nil {
		return err
	}

	debounce, err := cmd.Flags().GetDuration("debounce")
	if err != nil {
		return err
	}

	orch := cc.Session.Orchestrator

	site, err := orch.Workspace(root)
	if err != nil {
		return err
	}

	cleanup, err := writePIDFile(watchPIDPath(site.WorkspaceRoot))
	if err != nil {
		return err
	}

	defer cleanup()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	defer signal.Stop(hup)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}

	sw := &saveWatcher{
		watcher:    fsnotifyWatcher{w: w},
		site:       site,
		debounce:   debounce,
		logger:     cc.Logger,
		save:       saveFile(orch),
		reload:     reloadWorkspace(orch),
		sleepFunc:  timeSleep,
		hup:        hup,
		onReady:    func() { cc.Notifier.Info("Watching " + site.SourceRoot + " for changes...") },
		pending:    make(map[string]struct{}),
		configPath: filepath.Join(site.WorkspaceRoot, config.FileName),
	}

	return sw.run(cmd.Context())
}

func saveFile(orch *siteops.Orchestrator) func(context.Context, string) error {
	return func(ctx context.Context, path string) error {
		_, err := orch.Save(ctx, path)
		return err
	}
}

func reloadWorkspace(orch *siteops.Orchestrator) func(context.Context, string) (*config.Site, error) {
	return orch.ReloadConfiguration
}

// fsWatcher abstracts fsnotify.Watcher for testing.
type fsWatcher interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func (f fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f fsnotifyWatcher) Remove(name string) error      { return f.w.Remove(name) }
func (f fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

// saveWatcher uploads files below the source root after they were written.
// Paths are collected until no event arrived for the debounce period and
// then saved one at a time in lexical path order.
type saveWatcher struct {
	watcher    fsWatcher
	site       *config.Site
	configPath string
	debounce   time.Duration
	logger     *slog.Logger
	save       func(ctx context.Context, path string) error
	reload     func(ctx context.Context, path string) (*config.Site, error)
	sleepFunc  func(ctx context.Context, d time.Duration) error
	onReady    func()
	// hup delivers reload requests from 'spsync reload'.
	hup <-chan os.Signal

	pending      map[string]struct{}
	reloadNeeded bool
}

func (s *saveWatcher) run(ctx context.Context) error {
	defer s.watcher.Close()

	if err := s.addTree(s.site.SourceRoot); err != nil {
		return err
	}

	if s.site.WorkspaceRoot != s.site.SourceRoot {
		if err := s.watcher.Add(s.site.WorkspaceRoot); err != nil {
			return fmt.Errorf("watching %s: %w", s.site.WorkspaceRoot, err)
		}
	}

	if s.onReady != nil {
		s.onReady()
	}

	timer := time.NewTimer(s.debounce)
	timer.Stop()

	defer timer.Stop()

	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-s.watcher.Events():
			if !ok {
				return nil
			}

			if s.handle(ev) {
				timer.Reset(s.debounce)
			}

			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-s.watcher.Errors():
			if !ok {
				return nil
			}

			s.logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			if sleepErr := s.sleepFunc(ctx, errBackoff); sleepErr != nil {
				return nil
			}

			errBackoff = min(errBackoff*watchErrBackoffMult, watchErrMaxBackoff)

		case <-s.hup:
			s.logger.Info("reload requested")
			s.reloadNeeded = true
			s.flush(ctx)

		case <-timer.C:
			s.flush(ctx)
		}
	}
}

// handle records one event and reports whether it scheduled work.
func (s *saveWatcher) handle(ev fsnotify.Event) bool {
	if ev.Name == s.configPath {
		if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
			s.reloadNeeded = true
			return true
		}

		return false
	}

	if !s.underSource(ev.Name) || ignoredName(filepath.Base(ev.Name)) {
		return false
	}

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		delete(s.pending, ev.Name)
		return false
	}

	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		return false
	}

	if info.IsDir() {
		if ev.Has(fsnotify.Create) {
			if err := s.addTree(ev.Name); err != nil {
				s.logger.Warn("watching new directory", slog.String("path", ev.Name), slog.String("error", err.Error()))
			}
		}

		return false
	}

	s.pending[ev.Name] = struct{}{}

	return true
}

// flush reloads the configuration if it changed and saves every pending
// file. Failures were already reported by the orchestrator.
func (s *saveWatcher) flush(ctx context.Context) {
	if s.reloadNeeded {
		s.reloadNeeded = false

		if site, err := s.reload(ctx, s.site.WorkspaceRoot); err == nil {
			s.applySite(site)
		}
	}

	paths := make([]string, 0, len(s.pending))
	for p := range s.pending {
		paths = append(paths, p)
	}

	sort.Strings(paths)
	clear(s.pending)

	for _, p := range paths {
		if ctx.Err() != nil {
			return
		}

		if err := s.save(ctx, p); err != nil {
			s.logger.Debug("save failed", slog.String("path", p), slog.String("error", err.Error()))
		}
	}
}

// applySite switches to a reloaded configuration. A moved source root gets
// its watches moved with it, and pending saves under the old root are dropped.
func (s *saveWatcher) applySite(site *config.Site) {
	old := s.site.SourceRoot
	s.site = site

	if site.SourceRoot == old {
		return
	}

	s.logger.Info("source root changed",
		slog.String("from", old),
		slog.String("to", site.SourceRoot),
	)

	s.removeTree(old)

	if err := s.addTree(site.SourceRoot); err != nil {
		s.logger.Warn("watching source root", slog.String("path", site.SourceRoot), slog.String("error", err.Error()))
	}

	for p := range s.pending {
		if !s.underSource(p) {
			delete(s.pending, p)
		}
	}
}

// removeTree stops watching dir and the directories below it, except the
// workspace root, which stays watched for configuration changes.
func (s *saveWatcher) removeTree(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}

		if p != s.site.WorkspaceRoot && s.underSource(p) {
			return filepath.SkipDir
		}

		if p != s.site.WorkspaceRoot {
			_ = s.watcher.Remove(p)
		}

		return nil
	})
}

func (s *saveWatcher) underSource(path string) bool {
	rel, err := filepath.Rel(s.site.SourceRoot, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// addTree watches dir and every directory below it.
func (s *saveWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}

			return err
		}

		if !d.IsDir() {
			return nil
		}

		if p != dir && ignoredName(d.Name()) {
			return filepath.SkipDir
		}

		if err := s.watcher.Add(p); err != nil {
			return fmt.Errorf("watching %s: %w", p, err)
		}

		return nil
	})
}

// ignoredName reports names of editor and download scratch files.
func ignoredName(name string) bool {
	return strings.HasPrefix(name, ".") ||
		strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".partial") ||
		strings.HasSuffix(name, ".swp")
}

// timeSleep waits for d or until ctx is done.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
