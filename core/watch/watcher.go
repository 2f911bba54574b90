// Package watch converts media files as they appear in a directory.
package watch

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"m3u8conv/core/batch"
	"m3u8conv/core/media"
	"m3u8conv/logger"

	"github.com/fsnotify/fsnotify"
)

// Submitter queues a batch. *batch.Pool implements it.
type Submitter interface {
	Submit(b batch.Batch, obs batch.Observer) (*batch.Ticket, error)
}

// Watcher turns fsnotify create/rename events for supported files into
// single-file batches once the file has stopped growing.
type Watcher struct {
	dir       string
	outputDir string
	settle    time.Duration
	submit    Submitter
	template  batch.Batch

	mu      sync.Mutex
	pending map[string]*time.Timer
	sizes   map[string]int64
}

// New creates a Watcher for dir. template supplies policy and error handling
// for every submitted batch; its Request is replaced per file.
func New(dir, outputDir string, settle time.Duration, submit Submitter, template batch.Batch) *Watcher {
	if settle <= 0 {
		settle = 2 * time.Second
	}
	return &Watcher{
		dir:       dir,
		outputDir: outputDir,
		settle:    settle,
		submit:    submit,
		template:  template,
		pending:   make(map[string]*time.Timer),
		sizes:     make(map[string]int64),
	}
}

// Run blocks until ctx is done or the watcher fails.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	logger.Info("Watching for media files", logger.String("dir", w.dir), logger.String("output", w.outputDir))

	defer w.stopTimers()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", logger.ErrorField(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}
	if !media.IsSupported(event.Name) {
		return
	}
	w.schedule(event.Name)
}

// schedule (re)arms the settle timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() { w.settled(path) })
}

func (w *Watcher) settled(path string) {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		// renamed away or deleted before it settled
		w.forget(path)
		return
	}

	w.mu.Lock()
	last, seen := w.sizes[path]
	if !seen || last != fi.Size() {
		w.sizes[path] = fi.Size()
		if t, ok := w.pending[path]; ok {
			t.Reset(w.settle)
		}
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	delete(w.sizes, path)
	w.mu.Unlock()

	b := w.template
	b.ID = ""
	b.Request = media.BatchRequest{InputPath: path, OutputDir: w.outputDir}
	tk, err := w.submit.Submit(b, nil)
	if err != nil {
		logger.Error("Could not queue new file", logger.String("input", path), logger.ErrorField(err))
		return
	}
	logger.Info("Queued new file",
		logger.String("input", path),
		logger.Int64("bytes", fi.Size()),
		logger.String("batchId", tk.ID()))
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pending, path)
	delete(w.sizes, path)
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.pending {
		t.Stop()
		delete(w.pending, p)
	}
}
