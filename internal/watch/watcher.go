// Package watch auto-ingests files dropped into a study directory. Files in a
// first-level subdirectory take that directory's name as their subject.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/studyhall/kioku/internal/config"
	"github.com/studyhall/kioku/internal/ingest"
	"go.uber.org/zap"
)

// Watcher watches the configured study directory and keeps the knowledge
// store in sync with its contents.
type Watcher struct {
	cfg      *config.WatchConfig
	ingest   *ingest.Service
	logger   *zap.Logger
	debounce time.Duration

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	timers   map[string]*time.Timer
	started  bool
	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher from config. The watch directory is created if
// it does not exist when Start is called.
func NewWatcher(cfg *config.WatchConfig, svc *ingest.Service, logger *zap.Logger) *Watcher {
	debounce := time.Duration(cfg.DebounceMillis) * time.Millisecond
	if debounce <= 0 {
		debounce = 400 * time.Millisecond
	}
	return &Watcher{
		cfg:      cfg,
		ingest:   svc,
		logger:   logger,
		debounce: debounce,
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
}

// Start begins watching. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.fsw = fsw
	w.started = true
	if err := w.addTreeLocked(w.cfg.Directory); err != nil {
		_ = w.fsw.Close()
		w.fsw = nil
		w.started = false
		w.mu.Unlock()
		return err
	}
	w.mu.Unlock()
	w.logger.Info("watching study directory",
		zap.String("directory", w.cfg.Directory),
		zap.String("tenant_id", w.cfg.TenantID),
		zap.Strings("extensions", w.cfg.Extensions),
	)
	go w.run(ctx)
	return nil
}

// SyncExisting ingests files already present in the watch directory. Files
// ingested from the same path before are replaced, so calling this at every
// startup is safe.
func (w *Watcher) SyncExisting(ctx context.Context) {
	root := w.cfg.Directory
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if w.matchExtension(path) {
			w.ingestFile(ctx, path)
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Warn("watch error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	path := ev.Name
	switch {
	case ev.Op.Has(fsnotify.Create), ev.Op.Has(fsnotify.Write):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.mu.Lock()
			if w.fsw != nil {
				_ = w.addTreeLocked(path)
			}
			w.mu.Unlock()
			return
		}
		if w.matchExtension(path) {
			w.scheduleIngest(ctx, path)
		}
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.cancelTimer(path)
		if w.matchExtension(path) {
			if err := w.ingest.DeleteByPath(ctx, w.cfg.TenantID, path); err != nil {
				w.logger.Warn("failed to remove document for deleted file",
					zap.String("path", path), zap.Error(err))
			}
		}
	}
}

// scheduleIngest delays ingestion so a file still being written is picked up
// once, after writes settle.
func (w *Watcher) scheduleIngest(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.ingestFile(ctx, path)
	})
}

func (w *Watcher) cancelTimer(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) ingestFile(ctx context.Context, path string) {
	subject := w.subjectFor(path)
	if _, _, err := w.ingest.IngestFile(ctx, w.cfg.TenantID, path, subject); err != nil {
		w.logger.Warn("auto-ingestion failed", zap.String("path", path), zap.Error(err))
	}
}

// subjectFor derives the subject from the file's first-level subdirectory
// under the watch root. Files directly in the root use the default subject.
func (w *Watcher) subjectFor(path string) string {
	rel, err := filepath.Rel(w.cfg.Directory, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return w.cfg.DefaultSubject
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return w.cfg.DefaultSubject
	}
	return parts[0]
}

func (w *Watcher) matchExtension(path string) bool {
	if len(w.cfg.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.cfg.Extensions {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

func (w *Watcher) addTreeLocked(root string) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		if err := os.MkdirAll(root, 0755); err != nil {
			return err
		}
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

// Stop stops the watcher and cancels pending debounce timers.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.fsw == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	_ = w.fsw.Close()
	w.fsw = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
