// Package watcher calls a function whenever files matching a set of globs change.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"github.com/romdo/go-debounce"
	"github.com/rs/zerolog"

	"github.com/ngld/stylebuild/pkg/config"
)

// ChangeFunc receives the sorted list of paths that changed since the last call
type ChangeFunc func(ctx context.Context, changed []string) error

// Watcher creates file watches. The zero value is ready to use.
type Watcher struct {
	// MaxWaitFactor limits how long a steady stream of events can delay a callback. It's a multiple
	// of the watch's debounce delay and defaults to 10.
	MaxWaitFactor int
}

// New returns a watcher with default settings
func New() *Watcher {
	return &Watcher{MaxWaitFactor: 10}
}

// Handle represents an active watch
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops the watch and waits until it has shut down. No callback runs after Cancel returns.
func (h *Handle) Cancel() {
	h.cancel()
	<-h.done
}

// Done is closed once the watch has shut down
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

type pattern struct {
	glob      string
	base      string
	recursive bool
}

func compilePatterns(globs []string) ([]pattern, error) {
	patterns := make([]pattern, 0, len(globs))
	for _, glob := range globs {
		abs, err := filepath.Abs(glob)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to resolve %s", glob)
		}

		abs = filepath.ToSlash(abs)
		if !doublestar.ValidatePattern(abs) {
			return nil, eris.Errorf("invalid pattern %s", glob)
		}

		base, rest := doublestar.SplitPattern(abs)
		patterns = append(patterns, pattern{
			glob:      abs,
			base:      filepath.FromSlash(base),
			recursive: strings.Contains(rest, "/") || strings.Contains(rest, "**"),
		})
	}
	return patterns, nil
}

func (p pattern) match(path string) bool {
	ok, err := doublestar.Match(p.glob, filepath.ToSlash(path))
	return err == nil && ok
}

func eventKind(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return config.EventAdded
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return config.EventDeleted
	case op.Has(fsnotify.Write):
		return config.EventChanged
	}
	// chmod
	return ""
}

type watch struct {
	spec     config.WatchSpec
	patterns []pattern
	fsw      *fsnotify.Watcher
	onChange ChangeFunc
	logger   *zerolog.Logger

	pendingLock sync.Mutex
	pending     map[string]bool
	fire        chan struct{}
}

// Watch starts watching the files of spec. onChange runs on a single goroutine, one call at a time.
// Errors returned by onChange are logged and the watch continues. The watch ends when ctx is
// cancelled or Cancel is called on the returned handle.
func (w *Watcher) Watch(ctx context.Context, spec config.WatchSpec, onChange ChangeFunc) (*Handle, error) {
	patterns, err := compilePatterns(spec.Files)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, eris.Wrap(err, "failed to create file watcher")
	}

	wt := &watch{
		spec:     spec,
		patterns: patterns,
		fsw:      fsw,
		onChange: onChange,
		logger:   zerolog.Ctx(ctx),
		pending:  make(map[string]bool),
		fire:     make(chan struct{}, 1),
	}

	for _, p := range patterns {
		if err := wt.addDir(p.base, p.recursive); err != nil {
			fsw.Close()
			return nil, err
		}
	}

	wait := spec.Options.Debounce
	if wait <= 0 {
		wait = config.DefaultDebounce
	}
	factor := w.MaxWaitFactor
	if factor <= 0 {
		factor = 10
	}

	debounced, cancelDebounce := debounce.NewWithMaxWait(wait, time.Duration(factor)*wait, wt.flush)

	ctx, cancel := context.WithCancel(ctx)
	handle := &Handle{cancel: cancel, done: make(chan struct{})}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		wt.eventLoop(ctx, debounced)
	}()
	go func() {
		defer wg.Done()
		wt.callbackLoop(ctx)
	}()

	go func() {
		wg.Wait()
		cancelDebounce()
		fsw.Close()
		close(handle.done)
	}()

	return handle, nil
}

// addDir watches dir (and its subdirectories if recursive is set)
func (wt *watch) addDir(dir string, recursive bool) error {
	if !recursive {
		if err := wt.fsw.Add(dir); err != nil {
			return eris.Wrapf(err, "failed to watch %s", dir)
		}
		return nil
	}

	return filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path != dir && eris.Is(err, os.ErrNotExist) {
				return nil
			}
			return eris.Wrapf(err, "failed to scan %s", path)
		}

		if !entry.IsDir() {
			return nil
		}

		if err := wt.fsw.Add(path); err != nil {
			return eris.Wrapf(err, "failed to watch %s", path)
		}
		return nil
	})
}

func (wt *watch) needsRecursion(dir string) bool {
	for _, p := range wt.patterns {
		if !p.recursive {
			continue
		}

		rel, err := filepath.Rel(p.base, dir)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (wt *watch) matches(path string) bool {
	for _, p := range wt.patterns {
		if p.match(path) {
			return true
		}
	}
	return false
}

func (wt *watch) eventLoop(ctx context.Context, debounced func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-wt.fsw.Events:
			if !ok {
				return
			}
			wt.handleEvent(event, debounced)
		case err, ok := <-wt.fsw.Errors:
			if !ok {
				return
			}
			wt.logger.Warn().Err(err).Str("watch", wt.spec.Name).Msg("watch error")
		}
	}
}

func (wt *watch) handleEvent(event fsnotify.Event, debounced func()) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() && wt.needsRecursion(event.Name) {
			if err := wt.addDir(event.Name, true); err != nil {
				wt.logger.Warn().Err(err).Str("watch", wt.spec.Name).Msg("failed to watch new directory")
			}
		}
	}

	kind := eventKind(event.Op)
	if kind == "" || !wt.spec.Wants(kind) || !wt.matches(event.Name) {
		return
	}

	wt.logger.Debug().
		Str("watch", wt.spec.Name).
		Str("event", kind).
		Msg(event.Name)

	wt.pendingLock.Lock()
	wt.pending[event.Name] = true
	wt.pendingLock.Unlock()

	debounced()
}

// flush runs once a burst of events is over
func (wt *watch) flush() {
	select {
	case wt.fire <- struct{}{}:
	default:
		// a batch is already waiting and will pick up the new paths
	}
}

func (wt *watch) takePending() []string {
	wt.pendingLock.Lock()
	defer wt.pendingLock.Unlock()

	if len(wt.pending) == 0 {
		return nil
	}

	changed := make([]string, 0, len(wt.pending))
	for path := range wt.pending {
		changed = append(changed, path)
	}
	wt.pending = make(map[string]bool)

	sort.Strings(changed)
	return changed
}

func (wt *watch) callbackLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-wt.fire:
		}

		changed := wt.takePending()
		if len(changed) == 0 || ctx.Err() != nil {
			continue
		}

		if err := wt.onChange(ctx, changed); err != nil {
			wt.logger.Error().Err(err).Str("watch", wt.spec.Name).Msg("task failed, waiting for the next change")
		}
	}
}
