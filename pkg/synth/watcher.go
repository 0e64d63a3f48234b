package synth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is how long the watcher waits for changes to settle.
const DefaultDebounce = 500 * time.Millisecond

// watchedExtensions are the files inside watched directories that trigger a
// pass.
var watchedExtensions = map[string]bool{
	".cue":  true,
	".yaml": true,
	".yml":  true,
	".rego": true,
	".json": true,
	".star": true,
}

// Watcher re-runs a pass whenever one of its inputs changes.
type Watcher struct {
	files    map[string]bool
	ignore   map[string]bool
	dirs     []string
	debounce time.Duration
	logger   zerolog.Logger
	run      func(context.Context) error
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the settle delay.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatchLogger sets the logger.
func WithWatchLogger(logger zerolog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logger }
}

// WithIgnore skips changes to the given files, such as the rendered output.
func WithIgnore(paths ...string) WatcherOption {
	return func(w *Watcher) {
		for _, p := range paths {
			if abs, err := filepath.Abs(p); err == nil {
				w.ignore[abs] = true
			}
		}
	}
}

// NewWatcher watches paths, which may be files or directories, and calls run
// after every settled burst of changes.
func NewWatcher(paths []string, run func(context.Context) error, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		files:    make(map[string]bool),
		ignore:   make(map[string]bool),
		debounce: DefaultDebounce,
		logger:   zerolog.Nop(),
		run:      run,
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to stat watched path: %w", err)
		}
		if info.IsDir() {
			w.dirs = append(w.dirs, abs)
		} else {
			w.files[abs] = true
		}
	}
	return w, nil
}

// Watch runs the pass once, then again after every change, until ctx is done.
// Pass failures are logged and do not stop watching.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	// editors replace files through renames, so files are watched through
	// their directory
	added := make(map[string]bool)
	for f := range w.files {
		dir := filepath.Dir(f)
		if added[dir] {
			continue
		}
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		added[dir] = true
	}
	for _, dir := range w.dirs {
		if err := w.addTree(fw, dir, added); err != nil {
			return err
		}
	}

	w.logger.Info().Int("files", len(w.files)).Int("dirs", len(w.dirs)).Msg("Watching for changes")
	w.trigger(ctx)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 || !w.relevant(event.Name) {
				continue
			}
			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Input changed")
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.addTree(fw, event.Name, added)
				}
			}
			pending = time.After(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")

		case <-pending:
			pending = nil
			w.trigger(ctx)
		}
	}
}

func (w *Watcher) trigger(ctx context.Context) {
	if err := w.run(ctx); err != nil {
		w.logger.Error().Err(err).Msg("Pass failed; waiting for changes")
	}
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string, added map[string]bool) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || added[path] {
			return nil
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		added[path] = true
		return nil
	})
}

func (w *Watcher) relevant(name string) bool {
	if w.ignore[name] {
		return false
	}
	if w.files[name] {
		return true
	}
	for _, dir := range w.dirs {
		if strings.HasPrefix(name, dir+string(filepath.Separator)) {
			return watchedExtensions[filepath.Ext(name)]
		}
	}
	return false
}
