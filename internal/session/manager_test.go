package session

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procwatch/proctor-go/internal/conf"
	"github.com/procwatch/proctor-go/internal/errors"
	"github.com/procwatch/proctor-go/internal/vision"
)

// scriptedBackend is a vision.Backend whose per-call results are set by each
// test between Analyze calls.
type scriptedBackend struct {
	faces     []vision.Face
	landmarks *vision.Landmarks
	objects   []vision.Object
	encoding  []float32
	caps      vision.Capabilities
}

func (s *scriptedBackend) DetectFaces(image.Image) ([]vision.Face, error) { return s.faces, nil }
func (s *scriptedBackend) DetectLandmarks(image.Image) (*vision.Landmarks, error) {
	return s.landmarks, nil
}
func (s *scriptedBackend) DetectObjects(image.Image) ([]vision.Object, error) {
	return s.objects, nil
}
func (s *scriptedBackend) EncodeFace(image.Image, vision.BoundingBox) ([]float32, error) {
	return s.encoding, nil
}
func (s *scriptedBackend) Capabilities() vision.Capabilities { return s.caps }
func (s *scriptedBackend) Close() error                      { return nil }

func fullCaps() vision.Capabilities {
	return vision.Capabilities{
		FaceDetection:   true,
		Landmarks:       true,
		ObjectDetection: true,
		FaceEncoding:    true,
	}
}

func oneFace() []vision.Face {
	return []vision.Face{{BBox: vision.BoundingBox{Width: 32, Height: 32}, Confidence: 0.9}}
}

func centerGaze() *vision.Landmarks {
	return &vision.Landmarks{
		LeftEyeInnerX: 0.2, LeftEyeOuterX: 0.4, LeftIrisX: 0.3,
		RightEyeInnerX: 0.6, RightEyeOuterX: 0.8, RightIrisX: 0.7,
	}
}

func awayGaze() *vision.Landmarks {
	return &vision.Landmarks{
		LeftEyeInnerX: 0.2, LeftEyeOuterX: 0.4, LeftIrisX: 0.21,
		RightEyeInnerX: 0.6, RightEyeOuterX: 0.8, RightIrisX: 0.61,
	}
}

func testFrame() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 64, 48))
}

func startSession(t *testing.T, backend vision.Backend, settings conf.DetectionSettings, ref image.Image) *Manager {
	t.Helper()
	m, err := Start(Config{
		StudentID:      "student-1",
		TaskID:         "task-1",
		Settings:       settings,
		Backend:        backend,
		ReferenceFrame: ref,
	})
	require.NoError(t, err)
	return m
}

func TestStartValidation(t *testing.T) {
	_, err := Start(Config{Backend: &scriptedBackend{}})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))

	_, err = Start(Config{StudentID: "s"})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))
}

func TestCounterInvariantHoldsEveryFrame(t *testing.T) {
	backend := &scriptedBackend{caps: fullCaps()}
	m := startSession(t, backend, conf.DefaultDetectionSettings(), nil)

	script := [][]vision.Face{nil, oneFace(), nil, {oneFace()[0], oneFace()[0]}, oneFace(), nil}
	for i, faces := range script {
		backend.faces = faces
		_, err := m.Analyze(testFrame(), i+1)
		require.NoError(t, err)

		stats := m.Snapshot().Statistics
		assert.Equal(t, stats.TotalFrames, stats.FacePresentFrames+stats.FaceAbsentFrames,
			"frame %d", i+1)
	}
}

func TestEndToEndAbsenceScenario(t *testing.T) {
	backend := &scriptedBackend{caps: fullCaps()}
	m := startSession(t, backend, conf.DefaultDetectionSettings(), nil)

	var violations []FrameResult
	for i := 1; i <= 40; i++ {
		res, err := m.Analyze(testFrame(), i)
		require.NoError(t, err)
		if res.ViolationDetected {
			violations = append(violations, *res)
		}
	}

	require.Len(t, violations, 1, "exactly one violation for a 40-frame absence")
	assert.Equal(t, ViolationFaceNotDetected, violations[0].ViolationType)
	assert.Equal(t, SeverityMedium, violations[0].Severity)
	assert.Equal(t, 30, violations[0].FrameNumber)

	summary := m.End()
	require.NotNil(t, summary)
	assert.Equal(t, StatusCompleted, summary.Status)
	assert.Equal(t, 40, summary.Statistics.TotalFrames)
	assert.Equal(t, 40, summary.Statistics.FaceAbsentFrames)
	assert.Greater(t, summary.Risk.Score, 0.0)
}

func TestGazeAbsenceIsNeutral(t *testing.T) {
	backend := &scriptedBackend{caps: fullCaps(), faces: oneFace()}
	settings := conf.DefaultDetectionSettings()
	settings.MaxLookAwayFrames = 3
	m := startSession(t, backend, settings, nil)

	// Landmarks unavailable on every frame: looking_at_screen stays true
	// and no look-away violation can fire, no matter how long it lasts.
	for i := 1; i <= 50; i++ {
		res, err := m.Analyze(testFrame(), i)
		require.NoError(t, err)
		assert.True(t, res.LookingAtScreen)
		assert.False(t, res.ViolationDetected)
	}
	assert.Equal(t, 0, m.Snapshot().Statistics.LookAwayFrames)
}

func TestLookAwayViolation(t *testing.T) {
	backend := &scriptedBackend{caps: fullCaps(), faces: oneFace(), landmarks: awayGaze()}
	settings := conf.DefaultDetectionSettings()
	settings.MaxLookAwayFrames = 5
	m := startSession(t, backend, settings, nil)

	var got []FrameResult
	for i := 1; i <= 5; i++ {
		res, err := m.Analyze(testFrame(), i)
		require.NoError(t, err)
		assert.False(t, res.LookingAtScreen)
		if res.ViolationDetected {
			got = append(got, *res)
		}
	}
	require.Len(t, got, 1)
	assert.Equal(t, ViolationProlongedLookAway, got[0].ViolationType)
	assert.Equal(t, SeverityLow, got[0].Severity)
}

func TestVerificationSkipWithAmbiguousReference(t *testing.T) {
	twoFaces := []vision.Face{oneFace()[0], oneFace()[0]}
	backend := &scriptedBackend{caps: fullCaps(), faces: twoFaces, encoding: []float32{1, 0, 0}}

	settings := conf.DefaultDetectionSettings()
	settings.FaceVerificationEnabled = true
	settings.MaxMultipleFaceFrames = 1000
	m := startSession(t, backend, settings, testFrame())

	// The reference frame had two faces, so verification is disabled for
	// the session: even a completely different encoding never produces a
	// face_mismatch.
	backend.faces = oneFace()
	backend.encoding = []float32{0, 1, 0}
	for i := 1; i <= 20; i++ {
		res, err := m.Analyze(testFrame(), i)
		require.NoError(t, err)
		assert.NotEqual(t, ViolationFaceMismatch, res.ViolationType)
	}
}

func TestFaceMismatchViolation(t *testing.T) {
	backend := &scriptedBackend{caps: fullCaps(), faces: oneFace(), encoding: []float32{1, 0, 0}}

	settings := conf.DefaultDetectionSettings()
	settings.FaceVerificationEnabled = true
	m := startSession(t, backend, settings, testFrame())

	// Same encoding as the reference: no violation.
	res, err := m.Analyze(testFrame(), 1)
	require.NoError(t, err)
	assert.False(t, res.ViolationDetected)

	// Orthogonal encoding: similarity 0, below the 0.6 threshold.
	backend.encoding = []float32{0, 1, 0}
	res, err = m.Analyze(testFrame(), 2)
	require.NoError(t, err)
	require.True(t, res.ViolationDetected)
	assert.Equal(t, ViolationFaceMismatch, res.ViolationType)
	assert.Equal(t, SeverityHigh, res.Severity)
}

func TestSuspiciousObjectViolation(t *testing.T) {
	backend := &scriptedBackend{
		caps:    fullCaps(),
		faces:   oneFace(),
		objects: []vision.Object{{Label: "cell phone", Confidence: 0.85}},
	}
	settings := conf.DefaultDetectionSettings()
	settings.ObjectDetectionEnabled = true
	m := startSession(t, backend, settings, nil)

	res, err := m.Analyze(testFrame(), 1)
	require.NoError(t, err)
	require.True(t, res.ViolationDetected)
	assert.Equal(t, ViolationSuspiciousObject, res.ViolationType)
	assert.Equal(t, SeverityHigh, res.Severity)
	require.Len(t, res.SuspiciousObjects, 1)
	assert.Equal(t, "cell phone", res.SuspiciousObjects[0].Label)
}

func TestOneViolationPerFramePriority(t *testing.T) {
	// Multiple faces and a suspicious object breach in the same frame; the
	// object wins the priority selection, the multi-face breach stays in
	// the counters only.
	backend := &scriptedBackend{
		caps:    fullCaps(),
		faces:   []vision.Face{oneFace()[0], oneFace()[0]},
		objects: []vision.Object{{Label: "phone", Confidence: 0.9}},
	}
	settings := conf.DefaultDetectionSettings()
	settings.ObjectDetectionEnabled = true
	settings.MaxMultipleFaceFrames = 1

	m := startSession(t, backend, settings, nil)
	res, err := m.Analyze(testFrame(), 1)
	require.NoError(t, err)
	require.True(t, res.ViolationDetected)
	assert.Equal(t, ViolationSuspiciousObject, res.ViolationType)
	assert.Equal(t, 1, m.Snapshot().Statistics.MultipleFaceFrames)
}

func TestAutoTerminate(t *testing.T) {
	backend := &scriptedBackend{caps: fullCaps()}
	settings := conf.DefaultDetectionSettings()
	settings.MaxMultipleFaceFrames = 2
	settings.AutoTerminateOnHighSeverity = true
	settings.AutoTerminateThreshold = 2
	m := startSession(t, backend, settings, nil)

	multi := []vision.Face{oneFace()[0], oneFace()[0]}

	// First high-severity breach.
	backend.faces = multi
	for i := 1; i <= 2; i++ {
		res, err := m.Analyze(testFrame(), i)
		require.NoError(t, err)
		assert.False(t, res.SessionTerminated)
	}

	// Reset the counter, then breach again; the second high-severity
	// violation crosses the threshold and terminates the session.
	backend.faces = oneFace()
	_, err := m.Analyze(testFrame(), 3)
	require.NoError(t, err)

	backend.faces = multi
	res, err := m.Analyze(testFrame(), 4)
	require.NoError(t, err)
	assert.False(t, res.SessionTerminated)

	res, err = m.Analyze(testFrame(), 5)
	require.NoError(t, err)
	require.True(t, res.ViolationDetected)
	assert.True(t, res.SessionTerminated)
	assert.Equal(t, StatusTerminated, m.Status())
}

func TestAnalyzeAfterEndFailsLoudly(t *testing.T) {
	backend := &scriptedBackend{caps: fullCaps(), faces: oneFace()}
	m := startSession(t, backend, conf.DefaultDetectionSettings(), nil)

	_, err := m.Analyze(testFrame(), 1)
	require.NoError(t, err)

	first := m.End()
	require.NotNil(t, first)
	assert.Equal(t, StatusCompleted, first.Status)

	_, err = m.Analyze(testFrame(), 2)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategorySessionState))

	// End is idempotent and returns the same frozen summary.
	second := m.End()
	assert.Equal(t, first, second)
}

func TestInterruptOnlyAffectsActiveSessions(t *testing.T) {
	backend := &scriptedBackend{caps: fullCaps(), faces: oneFace()}
	m := startSession(t, backend, conf.DefaultDetectionSettings(), nil)

	summary := m.End()
	assert.Equal(t, StatusCompleted, summary.Status)

	m.Interrupt()
	assert.Equal(t, StatusCompleted, m.Status(), "interrupt must not touch a finished session")

	m2 := startSession(t, backend, conf.DefaultDetectionSettings(), nil)
	m2.Interrupt()
	assert.Equal(t, StatusInterrupted, m2.Status())
	require.NotNil(t, m2.End())
	assert.Equal(t, StatusInterrupted, m2.End().Status)
}

func TestDisabledFaceDetectionKeepsInvariant(t *testing.T) {
	backend := &scriptedBackend{caps: fullCaps()}
	settings := conf.DefaultDetectionSettings()
	settings.FaceDetectionEnabled = false
	m := startSession(t, backend, settings, nil)

	for i := 1; i <= 10; i++ {
		res, err := m.Analyze(testFrame(), i)
		require.NoError(t, err)
		assert.Equal(t, 1, res.FacesDetected)
		assert.False(t, res.ViolationDetected)
	}

	stats := m.Snapshot().Statistics
	assert.Equal(t, 10, stats.TotalFrames)
	assert.Equal(t, 10, stats.FacePresentFrames)
	assert.Equal(t, 0, stats.FaceAbsentFrames)
}

func TestRiskScoreRecomputedOnViolation(t *testing.T) {
	backend := &scriptedBackend{caps: fullCaps()}
	settings := conf.DefaultDetectionSettings()
	settings.MaxAbsentFrames = 2
	m := startSession(t, backend, settings, nil)

	assert.Equal(t, 0.0, m.Snapshot().RiskScore)

	for i := 1; i <= 2; i++ {
		_, err := m.Analyze(testFrame(), i)
		require.NoError(t, err)
	}
	// One medium violation (10) plus a full absent ratio (30).
	assert.InDelta(t, 40.0, m.Snapshot().RiskScore, 1e-9)
}
