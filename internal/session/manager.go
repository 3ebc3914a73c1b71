package session

import (
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/procwatch/proctor-go/internal/conf"
	"github.com/procwatch/proctor-go/internal/errors"
	"github.com/procwatch/proctor-go/internal/risk"
	"github.com/procwatch/proctor-go/internal/tracker"
	"github.com/procwatch/proctor-go/internal/vision"
)

// Config carries everything a session needs at start. Settings are copied in
// and never reloaded for the session's lifetime.
type Config struct {
	StudentID string
	TaskID    string
	Settings  conf.DetectionSettings

	// Backend runs the CV inference. One backend may be shared across
	// sessions when its inference calls are internally synchronized.
	Backend vision.Backend

	// ReferenceFrame, when set, is used to capture the reference face
	// encoding for identity verification. A reference frame without exactly
	// one face disables verification for the session instead of failing it.
	ReferenceFrame image.Image

	// Evidence and Violations are optional sinks.
	Evidence   EvidenceSink
	Violations ViolationSink

	Logger *slog.Logger
}

// Manager owns the state of one proctoring session. All methods are safe for
// concurrent use, but frames of a session must still be analyzed in arrival
// order; the violation counters are order dependent.
type Manager struct {
	mu sync.Mutex

	id        string
	studentID string
	taskID    string
	settings  conf.DetectionSettings

	status    Status
	startedAt time.Time
	endedAt   time.Time

	faces    *vision.FaceDetector
	gaze     *vision.GazeEstimator
	objects  *vision.ObjectDetector
	verifier *vision.FaceVerifier
	refEnc   []float32

	track *tracker.Tracker

	totalFrames        int
	facePresentFrames  int
	faceAbsentFrames   int
	multipleFaceFrames int
	lookAwayFrames     int

	violations []Violation
	highCount  int
	medCount   int
	lowCount   int
	riskScore  float64

	lastCaptureFrame int
	lastActivity     time.Time

	evidence      EvidenceSink
	violationSink ViolationSink
	summary       *Summary
	log           *slog.Logger
}

// Start creates a session in the active state. It never fails because of the
// reference frame; a student must not be able to opt out of proctoring by
// sabotaging the face capture.
func Start(cfg Config) (*Manager, error) {
	if cfg.StudentID == "" {
		return nil, errors.Newf("student id is required").
			Component("session").
			Category(errors.CategoryValidation).
			Build()
	}
	if cfg.Backend == nil {
		return nil, errors.Newf("vision backend is required").
			Component("session").
			Category(errors.CategoryValidation).
			Build()
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	m := &Manager{
		id:        uuid.New().String(),
		studentID: cfg.StudentID,
		taskID:    cfg.TaskID,
		settings:  cfg.Settings,
		status:    StatusActive,
		startedAt: time.Now(),
		track: tracker.New(tracker.Thresholds{
			MaxAbsentFrames:       cfg.Settings.MaxAbsentFrames,
			MaxMultipleFaceFrames: cfg.Settings.MaxMultipleFaceFrames,
			MaxLookAwayFrames:     cfg.Settings.MaxLookAwayFrames,
		}),
		lastCaptureFrame: -1,
		evidence:         cfg.Evidence,
		violationSink:    cfg.Violations,
	}
	m.log = log.With("session_id", m.id)
	m.lastActivity = m.startedAt

	if cfg.Settings.FaceDetectionEnabled {
		m.faces = vision.NewFaceDetector(cfg.Backend, cfg.Settings.MinFaceConfidence)
	}
	if cfg.Settings.GazeDetectionEnabled {
		m.gaze = vision.NewGazeEstimator(cfg.Backend)
	}
	m.objects = vision.NewObjectDetector(cfg.Backend,
		cfg.Settings.ObjectDetectionEnabled, cfg.Settings.MinObjectConfidence)

	m.initVerifier(cfg)

	m.log.Info("proctoring session started",
		"student_id", m.studentID,
		"task_id", m.taskID,
		"face_detection", m.faces != nil,
		"gaze_detection", m.gaze != nil,
		"object_detection", m.objects != nil,
		"face_verification", m.verifier != nil)
	return m, nil
}

// initVerifier captures the reference encoding. Verification stays disabled
// unless the reference frame contains exactly one face.
func (m *Manager) initVerifier(cfg Config) {
	if !cfg.Settings.FaceVerificationEnabled || cfg.ReferenceFrame == nil || m.faces == nil {
		return
	}

	v := vision.NewFaceVerifier(cfg.Backend, true, cfg.Settings.FaceSimilarityThreshold)
	if v == nil {
		return
	}

	refFaces := m.faces.Detect(cfg.ReferenceFrame)
	if len(refFaces) != 1 {
		m.log.Warn("reference frame unusable, face verification disabled",
			"faces_in_reference", len(refFaces))
		return
	}

	enc, err := v.Encode(cfg.ReferenceFrame, refFaces[0].BBox)
	if err != nil {
		m.log.Warn("reference encoding failed, face verification disabled", "error", err)
		return
	}

	m.verifier = v
	m.refEnc = enc
}

// ID returns the session identifier.
func (m *Manager) ID() string { return m.id }

// StudentID returns the owning student's identifier.
func (m *Manager) StudentID() string { return m.studentID }

// TaskID returns the task identifier, possibly empty.
func (m *Manager) TaskID() string { return m.taskID }

// Status returns the current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Settings returns the detector settings the session was started with.
func (m *Manager) Settings() conf.DetectionSettings { return m.settings }

// LastActivity returns the time of the most recent analyze call.
func (m *Manager) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// candidate is a violation detected in the current frame, before the
// one-per-frame priority selection.
type candidate struct {
	vtype      ViolationType
	confidence float64
	details    map[string]any
}

// Analyze runs the detector pipeline on one frame. It must be called with
// frames in arrival order. Calling it on a session that is no longer active
// is an error; the frame is not counted.
func (m *Manager) Analyze(img image.Image, frameNumber int) (*FrameResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != StatusActive {
		return nil, errors.Newf("cannot analyze frame: session is %s", m.status).
			Component("session").
			Category(errors.CategorySessionState).
			Context("session_id", m.id).
			Context("status", string(m.status)).
			Build()
	}
	m.lastActivity = time.Now()

	res := &FrameResult{
		FrameNumber:     frameNumber,
		Timestamp:       m.lastActivity,
		Severity:        SeverityNone,
		LookingAtScreen: true,
	}

	// Face detection. With the detector disabled every frame counts as a
	// single present face so the downstream counters keep their invariant.
	facesDetected := 1
	var faces []vision.Face
	if m.faces != nil {
		faces = m.faces.Detect(img)
		facesDetected = len(faces)
	}
	res.FacesDetected = facesDetected

	m.totalFrames++
	if facesDetected == 0 {
		m.faceAbsentFrames++
	} else {
		m.facePresentFrames++
		if facesDetected > 1 {
			m.multipleFaceFrames++
		}
	}

	obs := tracker.Observation{FacesDetected: facesDetected, LookingAtScreen: true}

	var candidates []candidate

	// Gaze estimation and identity verification run only when a face is
	// actually visible.
	if facesDetected > 0 && len(faces) > 0 {
		if m.gaze != nil {
			g := m.gaze.Estimate(img)
			res.LookingAtScreen = g.LookingAtScreen
			res.Details = map[string]any{
				"gaze_direction": g.Direction,
				"gaze_ratio":     g.Ratio,
			}
			obs.GazeTracked = true
			obs.LookingAtScreen = g.LookingAtScreen
			if !g.LookingAtScreen {
				m.lookAwayFrames++
			}
		}

		if m.verifier != nil {
			if c := m.verifyIdentity(img, dominantFace(faces)); c != nil {
				candidates = append(candidates, *c)
			}
		}
	}

	// Object detection is independent of face presence. A phone on the desk
	// is suspicious whether or not the student is in frame.
	if objects := m.objects.Detect(img); len(objects) > 0 {
		res.SuspiciousObjects = objects
		candidates = append(candidates, candidate{
			vtype:      ViolationSuspiciousObject,
			confidence: objects[0].Confidence,
			details:    map[string]any{"objects": objects},
		})
	}

	tr := m.track.Observe(obs)
	candidates = append(candidates, m.breachCandidates(tr)...)

	if c := selectCandidate(candidates); c != nil {
		v := m.recordViolation(*c, frameNumber, img)
		res.ViolationDetected = true
		res.ViolationType = v.Type
		res.Severity = v.Severity
		res.Confidence = v.Confidence
		if res.Details == nil {
			res.Details = map[string]any{}
		}
		for k, val := range v.Details {
			res.Details[k] = val
		}

		if m.autoTerminates() {
			m.finish(StatusTerminated)
			res.SessionTerminated = true
			m.log.Warn("session auto-terminated",
				"high_severity_count", m.highCount,
				"threshold", m.settings.AutoTerminateThreshold)
		}
	}

	return res, nil
}

// verifyIdentity compares the dominant face against the reference encoding.
func (m *Manager) verifyIdentity(img image.Image, face vision.Face) *candidate {
	enc, err := m.verifier.Encode(img, face.BBox)
	if err != nil {
		m.log.Debug("face encoding failed, skipping verification for frame", "error", err)
		return nil
	}

	sim := vision.CosineSimilarity(m.refEnc, enc)
	if sim >= m.verifier.Threshold() {
		return nil
	}
	return &candidate{
		vtype:      ViolationFaceMismatch,
		confidence: 1.0 - sim,
		details: map[string]any{
			"similarity": sim,
			"threshold":  m.verifier.Threshold(),
		},
	}
}

// breachCandidates converts tracker breaches into violation candidates.
func (m *Manager) breachCandidates(tr tracker.Result) []candidate {
	var out []candidate
	for _, b := range tr.Breaches {
		switch b {
		case tracker.BreachFaceAbsent:
			out = append(out, candidate{
				vtype:      ViolationFaceNotDetected,
				confidence: 1.0,
				details:    map[string]any{"consecutive_frames": tr.ConsecutiveAbsent},
			})
		case tracker.BreachMultipleFaces:
			out = append(out, candidate{
				vtype:      ViolationMultipleFaces,
				confidence: 1.0,
				details:    map[string]any{"consecutive_frames": tr.ConsecutiveMultiple},
			})
		case tracker.BreachLookAway:
			out = append(out, candidate{
				vtype:      ViolationProlongedLookAway,
				confidence: 1.0,
				details:    map[string]any{"consecutive_frames": tr.ConsecutiveLookAway},
			})
		case tracker.BreachGazePattern:
			out = append(out, candidate{
				vtype:      ViolationGazePattern,
				confidence: tr.LookAwayRatio,
				details: map[string]any{
					"look_away_ratio": tr.LookAwayRatio,
					"window_frames":   tracker.GazeWindowSize,
				},
			})
		}
	}
	return out
}

// violationPriority orders candidates when several breach in the same frame.
// Lower is more urgent.
var violationPriority = map[ViolationType]int{
	ViolationFaceMismatch:      0,
	ViolationSuspiciousObject:  1,
	ViolationMultipleFaces:     2,
	ViolationFaceNotDetected:   3,
	ViolationGazePattern:       4,
	ViolationProlongedLookAway: 5,
}

// selectCandidate picks the single violation reported for this frame. All
// breaches remain reflected in the counters regardless of the selection.
func selectCandidate(candidates []candidate) *candidate {
	var best *candidate
	for i := range candidates {
		if best == nil || violationPriority[candidates[i].vtype] < violationPriority[best.vtype] {
			best = &candidates[i]
		}
	}
	return best
}

// recordViolation appends the violation, updates severity counts and the
// risk score, optionally captures a screenshot, and notifies the sink.
func (m *Manager) recordViolation(c candidate, frameNumber int, img image.Image) Violation {
	v := Violation{
		ID:          uuid.New().String(),
		SessionID:   m.id,
		Type:        c.vtype,
		Severity:    SeverityFor(c.vtype),
		Confidence:  c.confidence,
		FrameNumber: frameNumber,
		Timestamp:   time.Now(),
		Details:     c.details,
	}

	if m.shouldCapture(frameNumber) {
		if path := m.evidence.Capture(m.id, frameNumber, img); path != "" {
			v.ScreenshotPath = path
			m.lastCaptureFrame = frameNumber
		}
	}

	m.violations = append(m.violations, v)
	switch v.Severity {
	case SeverityHigh:
		m.highCount++
	case SeverityMedium:
		m.medCount++
	case SeverityLow:
		m.lowCount++
	}
	m.riskScore = risk.Score(m.riskCountersLocked())

	m.log.Info("violation detected",
		"violation_type", v.Type,
		"severity", v.Severity,
		"frame_number", frameNumber,
		"risk_score", m.riskScore)

	if m.violationSink != nil {
		m.violationSink.Notify(v)
	}
	return v
}

// shouldCapture rate limits screenshot capture to one per configured
// interval of frames.
func (m *Manager) shouldCapture(frameNumber int) bool {
	if !m.settings.CaptureScreenshots || m.evidence == nil {
		return false
	}
	if m.lastCaptureFrame < 0 {
		return true
	}
	return frameNumber-m.lastCaptureFrame >= m.settings.CaptureIntervalFrames
}

func (m *Manager) autoTerminates() bool {
	return m.settings.AutoTerminateOnHighSeverity &&
		m.highCount >= m.settings.AutoTerminateThreshold
}

// End finishes the session and returns its frozen summary. Ending an already
// finished session returns the same summary again.
func (m *Manager) End() *Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == StatusActive {
		status := StatusCompleted
		if m.autoTerminates() {
			status = StatusTerminated
		}
		m.finish(status)
	}
	return m.summary
}

// Interrupt marks an active session as abnormally lost, e.g. after a client
// disconnect. It does nothing once the session has finished.
func (m *Manager) Interrupt() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != StatusActive {
		return
	}
	m.finish(StatusInterrupted)
	m.log.Warn("session interrupted")
}

// finish freezes the session in a terminal state. Caller must hold m.mu.
func (m *Manager) finish(status Status) {
	m.status = status
	m.endedAt = time.Now()
	m.riskScore = risk.Score(m.riskCountersLocked())

	violations := make([]Violation, len(m.violations))
	copy(violations, m.violations)

	m.summary = &Summary{
		SessionID:  m.id,
		StudentID:  m.studentID,
		TaskID:     m.taskID,
		Status:     status,
		StartedAt:  m.startedAt,
		EndedAt:    m.endedAt,
		Statistics: m.statisticsLocked(),
		Breakdown:  m.breakdownLocked(),
		Violations: violations,
		Risk:       risk.Assess(m.riskScore),
	}

	m.log.Info("proctoring session finished",
		"status", status,
		"total_frames", m.totalFrames,
		"violations", len(violations),
		"risk_score", m.riskScore)
}

// Snapshot returns a point-in-time view for status queries.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		SessionID:  m.id,
		StudentID:  m.studentID,
		TaskID:     m.taskID,
		Status:     m.status,
		StartedAt:  m.startedAt,
		Statistics: m.statisticsLocked(),
		Breakdown:  m.breakdownLocked(),
		RiskScore:  m.riskScore,
	}
	if m.status != StatusActive {
		ended := m.endedAt
		s.EndedAt = &ended
	}
	return s
}

// RiskCounters exposes the counters the risk score is computed from.
func (m *Manager) RiskCounters() risk.Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.riskCountersLocked()
}

func (m *Manager) riskCountersLocked() risk.Counters {
	return risk.Counters{
		TotalFrames:         m.totalFrames,
		FramesWithoutFace:   m.faceAbsentFrames,
		FramesMultipleFace:  m.multipleFaceFrames,
		FramesLookingAway:   m.lookAwayFrames,
		HighSeverityCount:   m.highCount,
		MediumSeverityCount: m.medCount,
		LowSeverityCount:    m.lowCount,
	}
}

func (m *Manager) statisticsLocked() Statistics {
	s := Statistics{
		TotalFrames:        m.totalFrames,
		FacePresentFrames:  m.facePresentFrames,
		FaceAbsentFrames:   m.faceAbsentFrames,
		MultipleFaceFrames: m.multipleFaceFrames,
		LookAwayFrames:     m.lookAwayFrames,
	}
	if m.totalFrames > 0 {
		s.FacePresentPercent = 100 * float64(m.facePresentFrames) / float64(m.totalFrames)
		s.LookAwayPercent = 100 * float64(m.lookAwayFrames) / float64(m.totalFrames)
	}
	return s
}

func (m *Manager) breakdownLocked() ViolationBreakdown {
	return ViolationBreakdown{
		Total:  len(m.violations),
		High:   m.highCount,
		Medium: m.medCount,
		Low:    m.lowCount,
	}
}

// dominantFace returns the highest-confidence face.
func dominantFace(faces []vision.Face) vision.Face {
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Confidence > best.Confidence {
			best = f
		}
	}
	return best
}
