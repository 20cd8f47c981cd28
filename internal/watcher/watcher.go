// Package watcher feeds files dropped into inbox directories to the ingestion
// pipeline. Events are debounced per path; new subdirectories are picked up
// and their files submitted.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/models"
)

const defaultDebounce = 400 * time.Millisecond

// DefaultUploader is recorded on references of watched files when none is configured.
const DefaultUploader = "inbox"

// Submitter accepts files for ingestion.
type Submitter interface {
	Submit(ctx context.Context, ref models.FileRef) (indexer.SubmitResult, error)
}

// Stats counts inbox submissions since start.
type Stats struct {
	Submitted  int64 `json:"submitted"`
	Duplicates int64 `json:"duplicates"`
	Failed     int64 `json:"failed"`
}

// Inbox watches directories and submits files written into them.
type Inbox struct {
	submitter  Submitter
	extensions []string
	recursive  bool
	uploader   string
	debounce   time.Duration
	logger     *zap.Logger

	mu        sync.Mutex
	roots     []string
	rootPaths map[string][]string // root -> watched directories under it
	pending   map[string]*time.Timer
	watcher   *fsnotify.Watcher
	ctx       context.Context
	started   bool
	done      chan struct{}
	stopOnce  sync.Once

	submitted  atomic.Int64
	duplicates atomic.Int64
	failed     atomic.Int64
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(in *Inbox) {
		if l != nil {
			in.logger = l
		}
	}
}

// WithDebounce sets how long a path must be quiet before it is submitted.
func WithDebounce(d time.Duration) Option {
	return func(in *Inbox) {
		if d > 0 {
			in.debounce = d
		}
	}
}

// New creates an inbox over cfg.Directories. Nothing is watched until Start.
func New(cfg config.WatchConfig, submitter Submitter, opts ...Option) *Inbox {
	uploader := cfg.Uploader
	if uploader == "" {
		uploader = DefaultUploader
	}
	in := &Inbox{
		submitter:  submitter,
		extensions: cfg.Extensions,
		recursive:  cfg.RecursiveOrDefault(),
		uploader:   uploader,
		debounce:   defaultDebounce,
		logger:     zap.NewNop(),
		roots:      append([]string(nil), cfg.Directories...),
		rootPaths:  make(map[string][]string),
		pending:    make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Start begins watching. Missing roots are created. It runs until ctx is
// cancelled or Stop is called; submissions use ctx.
func (in *Inbox) Start(ctx context.Context) error {
	in.mu.Lock()
	if in.started {
		in.mu.Unlock()
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		in.mu.Unlock()
		return err
	}
	in.watcher = w
	in.ctx = ctx
	for i, root := range in.roots {
		abs, err := in.addRootLocked(root)
		if err != nil {
			_ = w.Close()
			in.watcher = nil
			in.mu.Unlock()
			return err
		}
		in.roots[i] = abs
	}
	in.started = true
	in.logger.Info("inbox watching",
		zap.Strings("directories", in.roots),
		zap.Strings("extensions", in.extensions),
		zap.Bool("recursive", in.recursive))
	in.mu.Unlock()

	go in.run(ctx, w.Events, w.Errors)
	return nil
}

func (in *Inbox) run(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			in.Stop()
			return
		case <-in.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			in.handleEvent(ev)
		case err, ok := <-errs:
			if !ok {
				return
			}
			in.logger.Warn("inbox watcher error", zap.Error(err))
		}
	}
}

func (in *Inbox) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if !in.underRoot(path) {
		return
	}
	in.logger.Debug("inbox event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			in.handleNewDirectory(path)
			return
		}
		if matchExtension(path, in.extensions) {
			in.debounceSubmit(path)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// submitted content lives in the blob store, so nothing else to do
		in.cancelPending(path)
	}
}

// handleNewDirectory watches a directory created or moved under a root and
// submits the files already inside it. Non-recursive inboxes ignore subdirectories.
func (in *Inbox) handleNewDirectory(dir string) {
	in.mu.Lock()
	w := in.watcher
	recursive := in.recursive
	in.mu.Unlock()
	if w == nil || !recursive {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.Add(path); err != nil {
				in.logger.Warn("inbox failed to watch directory", zap.String("path", path), zap.Error(err))
			}
		}
		return nil
	})
	in.syncDirectory(dir)
}

func (in *Inbox) underRoot(path string) bool {
	in.mu.Lock()
	roots := append([]string(nil), in.roots...)
	in.mu.Unlock()
	clean := filepath.Clean(path)
	for _, root := range roots {
		if inDir(filepath.Clean(root), clean) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func (in *Inbox) debounceSubmit(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.pending[path]; ok {
		t.Stop()
	}
	in.pending[path] = time.AfterFunc(in.debounce, func() {
		in.mu.Lock()
		delete(in.pending, path)
		in.mu.Unlock()
		in.submit(path)
	})
}

func (in *Inbox) cancelPending(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.pending[path]; ok {
		t.Stop()
		delete(in.pending, path)
	}
}

// submit hands the file at path to the pipeline. The reference carries no
// locator, so the pipeline copies the content into its blob store and the
// producer may delete the file afterwards.
func (in *Inbox) submit(path string) {
	in.mu.Lock()
	ctx := in.ctx
	in.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	ref, err := fileid.FromPath(path, in.uploader)
	if err != nil {
		in.failed.Add(1)
		in.logger.Warn("inbox failed to read file", zap.String("path", path), zap.Error(err))
		return
	}
	ref.Locator = ""

	res, err := in.submitter.Submit(ctx, ref)
	switch {
	case errors.Is(err, indexer.ErrClosed), ctx.Err() != nil:
		return
	case err != nil:
		in.failed.Add(1)
		in.logger.Warn("inbox submission failed", zap.String("path", path), zap.Error(err))
	case res.Duplicate:
		in.duplicates.Add(1)
		in.logger.Debug("inbox file already ingested",
			zap.String("path", path),
			zap.String("document_id", res.DocumentID))
	default:
		in.submitted.Add(1)
		in.logger.Info("inbox file submitted",
			zap.String("path", path),
			zap.String("document_id", res.DocumentID))
	}
}

// AddDirectory starts watching root and, if syncExisting, submits the files
// already in it.
func (in *Inbox) AddDirectory(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	in.mu.Lock()
	if in.watcher == nil {
		in.mu.Unlock()
		return errors.New("watcher: inbox not started")
	}
	for _, r := range in.roots {
		if filepath.Clean(r) == abs {
			in.mu.Unlock()
			return nil
		}
	}
	if _, err := in.addRootLocked(abs); err != nil {
		in.mu.Unlock()
		return err
	}
	in.roots = append(in.roots, abs)
	in.mu.Unlock()

	in.logger.Info("inbox directory added", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if syncExisting {
		go in.syncDirectory(abs)
	}
	return nil
}

func (in *Inbox) addRootLocked(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)
	if err := os.MkdirAll(abs, 0755); err != nil {
		return "", err
	}
	var paths []string
	if in.recursive {
		err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return err
			}
			if err := in.watcher.Add(path); err != nil {
				return err
			}
			paths = append(paths, path)
			return nil
		})
	} else {
		err = in.watcher.Add(abs)
		paths = append(paths, abs)
	}
	if err != nil {
		return "", err
	}
	in.rootPaths[abs] = paths
	return abs, nil
}

func (in *Inbox) syncDirectory(root string) {
	in.mu.Lock()
	recursive := in.recursive
	in.mu.Unlock()
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if matchExtension(path, in.extensions) {
			in.submit(path)
		}
		return nil
	})
}

// RemoveDirectory stops watching root. Documents already submitted from it are kept.
func (in *Inbox) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.watcher == nil {
		return nil
	}
	idx := -1
	for i, r := range in.roots {
		if filepath.Clean(r) == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	for _, p := range in.rootPaths[abs] {
		_ = in.watcher.Remove(p)
	}
	delete(in.rootPaths, abs)
	in.roots = append(in.roots[:idx], in.roots[idx+1:]...)
	in.logger.Info("inbox directory removed", zap.String("path", abs))
	return nil
}

// Directories returns the watched roots.
func (in *Inbox) Directories() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]string(nil), in.roots...)
}

// SyncExisting submits every matching file already present in the roots.
// Files already ingested come back as duplicates and are not reprocessed.
func (in *Inbox) SyncExisting() {
	for _, root := range in.Directories() {
		in.syncDirectory(root)
	}
}

// Stats returns submission counters.
func (in *Inbox) Stats() Stats {
	return Stats{
		Submitted:  in.submitted.Load(),
		Duplicates: in.duplicates.Load(),
		Failed:     in.failed.Load(),
	}
}

// Stop stops watching and cancels pending submissions.
func (in *Inbox) Stop() {
	in.mu.Lock()
	if !in.started {
		in.mu.Unlock()
		return
	}
	for path, t := range in.pending {
		t.Stop()
		delete(in.pending, path)
	}
	_ = in.watcher.Close()
	in.watcher = nil
	in.started = false
	in.mu.Unlock()
	in.stopOnce.Do(func() { close(in.done) })
}
