package vision

import (
	"image"
	"log/slog"

	"github.com/procwatch/proctor-go/internal/logging"
)

// Horizontal gaze ratio bounds: iris position relative to the eye-corner
// span. Below the left bound the student is looking left, above the right
// bound they are looking right, in between counts as looking at the screen.
const (
	gazeLeftBound  = 0.35
	gazeRightBound = 0.65

	// gazeConfidence is the fixed confidence assigned to landmark-based
	// estimates; landmark extraction does not yield a usable per-frame score.
	gazeConfidence = 0.7
)

// neutralGaze is returned whenever no landmarks are available. Absence of
// signal must not read as looking away, otherwise a silently failing
// landmark extractor would flood the session with false look-away
// violations.
func neutralGaze() Gaze {
	return Gaze{LookingAtScreen: true, Direction: GazeUnknown, Confidence: 0.0, Ratio: 0.5}
}

// GazeEstimator estimates horizontal gaze direction from facial landmarks.
type GazeEstimator struct {
	backend Backend
	log     *slog.Logger
}

// NewGazeEstimator creates a gaze estimator on top of the backend's landmark
// extraction.
func NewGazeEstimator(backend Backend) *GazeEstimator {
	return &GazeEstimator{backend: backend, log: logging.ForService("vision")}
}

// Estimate returns the gaze for a frame in which a face has already been
// detected. When landmarks are unavailable it returns the neutral result.
func (g *GazeEstimator) Estimate(img image.Image) Gaze {
	if !g.backend.Capabilities().Landmarks {
		return neutralGaze()
	}

	lm, err := g.backend.DetectLandmarks(img)
	if err != nil {
		g.log.Debug("landmark extraction failed", "error", err)
		return neutralGaze()
	}
	if lm == nil {
		return neutralGaze()
	}
	return GazeFromLandmarks(lm)
}

// GazeFromLandmarks computes gaze direction from iris position relative to
// the eye-corner span, averaged over both eyes.
func GazeFromLandmarks(lm *Landmarks) Gaze {
	leftRatio := eyeRatio(lm.LeftIrisX, lm.LeftEyeInnerX, lm.LeftEyeOuterX)
	rightRatio := eyeRatio(lm.RightIrisX, lm.RightEyeInnerX, lm.RightEyeOuterX)
	avg := (leftRatio + rightRatio) / 2

	gaze := Gaze{Confidence: gazeConfidence, Ratio: avg}
	switch {
	case avg < gazeLeftBound:
		gaze.Direction = GazeLeft
	case avg > gazeRightBound:
		gaze.Direction = GazeRight
	default:
		gaze.Direction = GazeCenter
		gaze.LookingAtScreen = true
	}
	return gaze
}

// eyeRatio returns the iris position within one eye's corner span, or 0.5
// when the span is degenerate.
func eyeRatio(irisX, innerX, outerX float64) float64 {
	width := outerX - innerX
	if width <= 0 {
		return 0.5
	}
	return (irisX - innerX) / width
}
