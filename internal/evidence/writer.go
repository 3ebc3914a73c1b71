// Package evidence persists violation screenshots asynchronously so JPEG
// encoding and disk writes never block the per-frame analysis path.
package evidence

import (
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/procwatch/proctor-go/internal/errors"
	"github.com/procwatch/proctor-go/internal/logging"
)

const jpegQuality = 80

type job struct {
	path string
	img  image.Image
}

// Writer queues frames for JPEG encoding on a single worker goroutine. When
// the queue is full the frame is dropped and counted; a violation's
// classification never depends on evidence persistence succeeding.
type Writer struct {
	dir     string
	jobs    chan job
	dropped atomic.Int64
	wg      sync.WaitGroup
	closed  atomic.Bool
	log     *slog.Logger
}

// NewWriter creates the evidence directory and starts the worker.
func NewWriter(dir string, queueSize int) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(err).
			Component("evidence").
			Category(errors.CategoryFileIO).
			Context("path", dir).
			Build()
	}
	if queueSize <= 0 {
		queueSize = 64
	}

	w := &Writer{
		dir:  dir,
		jobs: make(chan job, queueSize),
		log:  logging.ForService("evidence"),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Capture queues the frame for persistence and returns the path it will be
// written to. Returns "" when the queue is full or the writer is closed.
func (w *Writer) Capture(sessionID string, frameNumber int, img image.Image) string {
	if w == nil || img == nil || w.closed.Load() {
		return ""
	}

	path := filepath.Join(w.dir, fmt.Sprintf("violation_%s_%d.jpg", sessionID, frameNumber))
	select {
	case w.jobs <- job{path: path, img: img}:
		return path
	default:
		if w.dropped.Add(1)%100 == 1 {
			w.log.Warn("evidence queue full, dropping screenshots",
				"dropped_total", w.dropped.Load())
		}
		return ""
	}
}

// Dropped returns the number of frames dropped because the queue was full.
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

func (w *Writer) run() {
	defer w.wg.Done()
	for j := range w.jobs {
		if err := w.write(j); err != nil {
			w.log.Error("failed to write evidence screenshot", "path", j.path, "error", err)
		}
	}
}

func (w *Writer) write(j job) error {
	f, err := os.Create(j.path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, j.img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Close drains the queue and stops the worker.
func (w *Writer) Close() {
	if w == nil || !w.closed.CompareAndSwap(false, true) {
		return
	}
	close(w.jobs)
	w.wg.Wait()
}
