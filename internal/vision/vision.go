// Package vision wraps the computer vision backend behind detector types
// with the safety semantics the proctoring pipeline needs: backend failures
// degrade toward "nothing detected" for optional detectors and toward
// "no face visible" for face presence, never toward silently passing.
package vision

import "image"

// BoundingBox is a pixel-space face or object location.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Face is a single detected face.
type Face struct {
	BBox       BoundingBox `json:"bbox"`
	Confidence float64     `json:"confidence"`
}

// Object is a detected object with its class label.
type Object struct {
	Label      string      `json:"label"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}

// GazeDirection is the estimated horizontal gaze direction.
type GazeDirection string

const (
	GazeLeft    GazeDirection = "left"
	GazeRight   GazeDirection = "right"
	GazeCenter  GazeDirection = "center"
	GazeUnknown GazeDirection = "unknown"
)

// Gaze is the result of a gaze estimation for one frame.
type Gaze struct {
	LookingAtScreen bool          `json:"looking_at_screen"`
	Direction       GazeDirection `json:"gaze_direction"`
	Confidence      float64       `json:"confidence"`
	Ratio           float64       `json:"gaze_ratio"`
}

// Landmarks carries the normalized horizontal positions needed for gaze
// estimation: iris centers and the inner/outer eye corners of both eyes.
// All values are in [0, 1] relative to frame width.
type Landmarks struct {
	LeftIrisX      float64
	RightIrisX     float64
	LeftEyeInnerX  float64
	LeftEyeOuterX  float64
	RightEyeInnerX float64
	RightEyeOuterX float64
}

// Capabilities reports which detector features the backend supports. It is
// computed once at backend initialization, a missing model is a disabled
// feature rather than a per-frame error.
type Capabilities struct {
	FaceDetection   bool
	Landmarks       bool
	ObjectDetection bool
	FaceEncoding    bool
}

// Backend is the underlying CV implementation. Implementations must be safe
// for serial use from a single session; sharing one backend across sessions
// requires the implementation to synchronize its inference calls.
type Backend interface {
	// DetectFaces returns all faces in the frame. Zero faces and multiple
	// faces are valid results, not errors.
	DetectFaces(img image.Image) ([]Face, error)

	// DetectLandmarks returns gaze landmarks for the dominant face, or nil
	// when no landmarks could be extracted.
	DetectLandmarks(img image.Image) (*Landmarks, error)

	// DetectObjects returns all detected objects, unfiltered.
	DetectObjects(img image.Image) ([]Object, error)

	// EncodeFace produces a fixed-length embedding of the face crop.
	EncodeFace(img image.Image, bbox BoundingBox) ([]float32, error)

	// Capabilities reports the features this backend supports.
	Capabilities() Capabilities

	// Close releases backend resources.
	Close() error
}
