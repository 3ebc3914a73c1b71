package evidence

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterCaptureAndClose(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 8)
	require.NoError(t, err)

	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	path := w.Capture("session-abc", 42, img)
	require.NotEmpty(t, path)
	assert.Equal(t, filepath.Join(dir, "violation_session-abc_42.jpg"), path)

	// Close drains the queue, so the file must exist afterwards.
	w.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestWriterCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "evidence")
	w, err := NewWriter(dir, 4)
	require.NoError(t, err)
	defer w.Close()

	_, err = os.Stat(dir)
	assert.NoError(t, err)
}

func TestWriterDropsWhenQueueFull(t *testing.T) {
	w, err := NewWriter(t.TempDir(), 1)
	require.NoError(t, err)
	defer w.Close()

	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	var captured, dropped int
	for i := 0; i < 200; i++ {
		if w.Capture("s", i, img) != "" {
			captured++
		} else {
			dropped++
		}
	}
	assert.Equal(t, int64(dropped), w.Dropped())
	assert.Positive(t, captured)
}

func TestWriterRejectsAfterClose(t *testing.T) {
	w, err := NewWriter(t.TempDir(), 4)
	require.NoError(t, err)
	w.Close()

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	assert.Empty(t, w.Capture("s", 1, img))

	// Closing twice is safe.
	w.Close()
}

func TestNilWriterIsSafe(t *testing.T) {
	var w *Writer
	assert.Empty(t, w.Capture("s", 1, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	w.Close()
}
