// Package tflite implements the vision backend on TensorFlow Lite models.
// Each model is optional: a missing or unloadable model disables the
// corresponding capability at startup instead of failing per frame.
package tflite

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	tfl "github.com/tphakala/go-tflite"

	"github.com/procwatch/proctor-go/internal/conf"
	"github.com/procwatch/proctor-go/internal/errors"
	"github.com/procwatch/proctor-go/internal/logging"
	"github.com/procwatch/proctor-go/internal/vision"
)

// Face-mesh landmark indices for gaze estimation. These follow the 478-point
// face mesh layout with iris refinement: four points around each iris center
// plus the inner/outer eye corners.
var (
	leftIrisPoints  = []int{468, 469, 470, 471}
	rightIrisPoints = []int{473, 474, 475, 476}
)

const (
	leftEyeInner  = 33
	leftEyeOuter  = 133
	rightEyeInner = 362
	rightEyeOuter = 263

	meshPoints = 478
	meshStride = 3 // x, y, z per point

	// encodeSize is the side length of the grayscale face crop used for
	// face-verification embeddings (encodeSize*encodeSize values).
	encodeSize = 64

	// detectorScoreFloor drops detector noise before the session-level
	// confidence threshold is applied.
	detectorScoreFloor = 0.1
)

type model struct {
	model   *tfl.Model
	interp  *tfl.Interpreter
	inputW  int
	inputH  int
}

// Backend runs TFLite interpreters for face, landmark, and object models.
// Inference calls are serialized with a mutex so one Backend may be shared
// across concurrent sessions.
type Backend struct {
	mu sync.Mutex

	face     *model
	landmark *model
	object   *model

	objectLabels []string
	caps         vision.Capabilities
	log          *slog.Logger
}

// New loads the models configured under proctoring.vision. Any model that is
// not configured or fails to load leaves its capability disabled; this is
// decided once here, never per frame.
func New(cfg *conf.ProctoringConfig) (*Backend, error) {
	b := &Backend{
		log: logging.ForService("vision-tflite"),
		// Face encoding is computed from the raw crop, no model needed.
		caps: vision.Capabilities{FaceEncoding: true},
	}

	threads := cfg.Vision.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	if path := cfg.Vision.FaceModelPath; path != "" {
		m, err := loadModel(path, threads)
		if err != nil {
			b.log.Warn("face model unavailable, face detection disabled", "path", path, "error", err)
		} else {
			b.face = m
			b.caps.FaceDetection = true
		}
	}

	if path := cfg.Vision.LandmarkModelPath; path != "" {
		m, err := loadModel(path, threads)
		if err != nil {
			b.log.Warn("landmark model unavailable, gaze estimation disabled", "path", path, "error", err)
		} else {
			b.landmark = m
			b.caps.Landmarks = true
		}
	}

	if path := cfg.Vision.ObjectModelPath; path != "" {
		m, err := loadModel(path, threads)
		if err != nil {
			b.log.Warn("object model unavailable, object detection disabled", "path", path, "error", err)
		} else if labels, err := loadLabels(cfg.Vision.ObjectLabelsPath); err != nil {
			b.log.Warn("object labels unavailable, object detection disabled", "path", cfg.Vision.ObjectLabelsPath, "error", err)
			m.close()
		} else {
			b.object = m
			b.objectLabels = labels
			b.caps.ObjectDetection = true
		}
	}

	b.log.Info("vision backend initialized",
		"face_detection", b.caps.FaceDetection,
		"landmarks", b.caps.Landmarks,
		"object_detection", b.caps.ObjectDetection,
		"threads", threads)

	return b, nil
}

// loadModel reads a TFLite model file and allocates its interpreter.
func loadModel(path string, threads int) (*model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("vision-tflite").
			Category(errors.CategoryModelLoad).
			Context("model_path", path).
			Build()
	}

	m := tfl.NewModel(data)
	if m == nil {
		return nil, errors.Newf("cannot load TensorFlow Lite model").
			Component("vision-tflite").
			Category(errors.CategoryModelInit).
			Context("model_path", path).
			Context("model_size_kb", len(data)/1024).
			Build()
	}

	options := tfl.NewInterpreterOptions()
	options.SetNumThread(threads)

	interp := tfl.NewInterpreter(m, options)
	if interp == nil {
		m.Delete()
		return nil, errors.Newf("cannot create interpreter").
			Component("vision-tflite").
			Category(errors.CategoryModelInit).
			Context("model_path", path).
			Build()
	}
	if status := interp.AllocateTensors(); status != tfl.OK {
		interp.Delete()
		m.Delete()
		return nil, errors.Newf("tensor allocation failed: %v", status).
			Component("vision-tflite").
			Category(errors.CategoryModelInit).
			Context("model_path", path).
			Build()
	}

	input := interp.GetInputTensor(0)
	if input == nil || input.NumDims() != 4 {
		interp.Delete()
		m.Delete()
		return nil, errors.Newf("unexpected input tensor shape").
			Component("vision-tflite").
			Category(errors.CategoryModelInit).
			Context("model_path", path).
			Build()
	}

	return &model{
		model:  m,
		interp: interp,
		inputH: input.Dim(1),
		inputW: input.Dim(2),
	}, nil
}

func loadLabels(path string) ([]string, error) {
	if path == "" {
		return nil, errors.Newf("object labels path not configured").
			Component("vision-tflite").
			Category(errors.CategoryLabelLoad).
			Build()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("vision-tflite").
			Category(errors.CategoryLabelLoad).
			Context("labels_path", path).
			Build()
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		labels = append(labels, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, errors.Newf("empty labels file").
			Component("vision-tflite").
			Category(errors.CategoryLabelLoad).
			Context("labels_path", path).
			Build()
	}
	return labels, nil
}

func (m *model) close() {
	if m.interp != nil {
		m.interp.Delete()
	}
	if m.model != nil {
		m.model.Delete()
	}
}

// invoke copies the input into the interpreter and runs inference. The
// caller must hold b.mu.
func (m *model) invoke(input []float32) error {
	in := m.interp.GetInputTensor(0)
	if in == nil {
		return fmt.Errorf("cannot get input tensor")
	}
	copy(in.Float32s(), input)
	if status := m.interp.Invoke(); status != tfl.OK {
		return fmt.Errorf("tensor invoke failed: %v", status)
	}
	return nil
}

// output returns a copy of output tensor idx as float32s. The caller must
// hold b.mu.
func (m *model) output(idx int) []float32 {
	t := m.interp.GetOutputTensor(idx)
	if t == nil {
		return nil
	}
	raw := t.Float32s()
	out := make([]float32, len(raw))
	copy(out, raw)
	return out
}

// Capabilities reports the features decided at initialization.
func (b *Backend) Capabilities() vision.Capabilities {
	return b.caps
}

// Close releases all interpreters.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range []*model{b.face, b.landmark, b.object} {
		if m != nil {
			m.close()
		}
	}
	b.face, b.landmark, b.object = nil, nil, nil
	return nil
}
