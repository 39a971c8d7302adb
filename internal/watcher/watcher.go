// Package watcher keeps the knowledge base current by ingesting reference documents as
// they are added to or edited in the knowledge directories.
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

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long a file must stay quiet before it is handed to the callback.
const DefaultDebounce = 400 * time.Millisecond

// ChangeFunc handles a settled create or write of path.
type ChangeFunc func(ctx context.Context, path string)

// Filter reports whether a file should be handled.
type Filter func(path string) bool

// Watcher watches directory trees and reports settled file changes. Hidden directories
// are not watched.
type Watcher struct {
	roots    []string
	onChange ChangeFunc
	accept   Filter
	debounce time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	ctx      context.Context
	pending  map[string]*time.Timer
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithFilter restricts which files reach the callback. All files pass by default.
func WithFilter(f Filter) Option {
	return func(w *Watcher) { w.accept = f }
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New creates a watcher over roots. Missing roots are created on Start.
func New(roots []string, onChange ChangeFunc, opts ...Option) *Watcher {
	w := &Watcher{
		onChange: onChange,
		accept:   func(string) bool { return true },
		debounce: DefaultDebounce,
		logger:   zap.NewNop(),
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	for _, r := range roots {
		w.roots = append(w.roots, filepath.Clean(r))
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Roots returns the watched root directories.
func (w *Watcher) Roots() []string {
	return append([]string(nil), w.roots...)
}

// Start begins watching. Callbacks receive ctx; the watcher stops when ctx is done or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, root := range w.roots {
		if err := os.MkdirAll(root, 0755); err != nil {
			_ = fsw.Close()
			return err
		}
		if err := addTree(fsw, root); err != nil {
			_ = fsw.Close()
			return err
		}
	}
	w.mu.Lock()
	w.fsw = fsw
	w.ctx = ctx
	w.mu.Unlock()
	w.logger.Debug("watcher started", zap.Strings("roots", w.roots), zap.Duration("debounce", w.debounce))
	go w.run(ctx, fsw)
	return nil
}

func addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && hidden(d.Name()) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	path := ev.Name
	if hiddenUnder(w.roots, path) {
		return
	}
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if ev.Has(fsnotify.Create) {
				w.newDirectory(fsw, path)
			}
			return
		}
		if w.accept(path) {
			w.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		if w.cancel(path) {
			w.logger.Debug("pending change dropped", zap.String("path", path), zap.String("op", ev.Op.String()))
		}
	}
}

// newDirectory watches a directory created or moved under a root and schedules the files
// it already contains, since their create events may have fired before the watch was added.
func (w *Watcher) newDirectory(fsw *fsnotify.Watcher, dir string) {
	if err := addTree(fsw, dir); err != nil {
		w.logger.Warn("failed to watch new directory", zap.String("path", dir), zap.Error(err))
	}
	for _, p := range w.files(dir) {
		w.schedule(p)
	}
}

// hiddenUnder reports whether path lies in a hidden directory (or is a hidden file)
// below one of roots.
func hiddenUnder(roots []string, path string) bool {
	for _, root := range roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		for _, part := range strings.Split(rel, string(filepath.Separator)) {
			if hidden(part) {
				return true
			}
		}
		return false
	}
	return false
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	ctx := w.ctx
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		w.logger.Debug("file changed", zap.String("path", path))
		w.onChange(ctx, path)
	})
}

func (w *Watcher) cancel(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.pending[path]
	if ok {
		t.Stop()
		delete(w.pending, path)
	}
	return ok
}

// files lists accepted files under dir in path order, skipping hidden directories.
func (w *Watcher) files(dir string) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && hidden(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !hidden(d.Name()) && w.accept(path) {
			out = append(out, path)
		}
		return nil
	})
	sort.Strings(out)
	return out
}

// Sync calls the callback for every accepted file already present under the roots, in
// path order. It runs synchronously and stops early when ctx is done.
func (w *Watcher) Sync(ctx context.Context) {
	for _, root := range w.roots {
		for _, p := range w.files(root) {
			if ctx.Err() != nil {
				return
			}
			w.onChange(ctx, p)
		}
	}
}

// Stop stops watching and drops pending changes.
func (w *Watcher) Stop() {
	w.mu.Lock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	fsw := w.fsw
	w.fsw = nil
	w.mu.Unlock()
	if fsw != nil {
		_ = fsw.Close()
	}
	w.stopOnce.Do(func() { close(w.done) })
}
