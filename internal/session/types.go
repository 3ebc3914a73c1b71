// Package session implements the proctoring session manager: per-frame
// detector orchestration, violation state tracking, risk scoring, and the
// session lifecycle state machine.
package session

import (
	"image"
	"time"

	"github.com/procwatch/proctor-go/internal/risk"
	"github.com/procwatch/proctor-go/internal/vision"
)

// Status is the session lifecycle state. All transitions leave active and
// never return; a finished session cannot be resumed.
type Status string

const (
	StatusActive      Status = "active"
	StatusCompleted   Status = "completed"
	StatusTerminated  Status = "terminated"
	StatusInterrupted Status = "interrupted"
)

// ViolationType is the closed set of violation classifications.
type ViolationType string

const (
	ViolationFaceNotDetected   ViolationType = "face_not_detected"
	ViolationMultipleFaces     ViolationType = "multiple_faces_detected"
	ViolationProlongedLookAway ViolationType = "prolonged_look_away"
	ViolationGazePattern       ViolationType = "suspicious_gaze_pattern"
	ViolationSuspiciousObject  ViolationType = "suspicious_object_detected"
	ViolationFaceMismatch      ViolationType = "face_mismatch"
)

// Severity grades a violation. SeverityNone appears only in frame results
// for frames without a violation.
type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SeverityFor returns the fixed severity of a violation type.
func SeverityFor(t ViolationType) Severity {
	switch t {
	case ViolationMultipleFaces, ViolationSuspiciousObject, ViolationFaceMismatch:
		return SeverityHigh
	case ViolationFaceNotDetected, ViolationGazePattern:
		return SeverityMedium
	case ViolationProlongedLookAway:
		return SeverityLow
	default:
		return SeverityNone
	}
}

// Violation is an immutable suspicious-behavior event. Review annotations
// live on the stored record, never here.
type Violation struct {
	ID             string         `json:"violation_id"`
	SessionID      string         `json:"session_id"`
	Type           ViolationType  `json:"violation_type"`
	Severity       Severity       `json:"severity"`
	Confidence     float64        `json:"confidence"`
	FrameNumber    int            `json:"frame_number"`
	Timestamp      time.Time      `json:"timestamp"`
	Details        map[string]any `json:"details,omitempty"`
	ScreenshotPath string         `json:"screenshot_path,omitempty"`
}

// FrameResult is what one analyze call returns to the caller. At most one
// violation is reported per frame; the counters behind it still record every
// breach.
type FrameResult struct {
	FrameNumber       int             `json:"frame_number"`
	Timestamp         time.Time       `json:"timestamp"`
	ViolationDetected bool            `json:"violation_detected"`
	ViolationType     ViolationType   `json:"violation_type,omitempty"`
	Severity          Severity        `json:"severity"`
	FacesDetected     int             `json:"faces_detected"`
	LookingAtScreen   bool            `json:"looking_at_screen"`
	SuspiciousObjects []vision.Object `json:"suspicious_objects,omitempty"`
	Confidence        float64         `json:"confidence"`
	Details           map[string]any  `json:"details,omitempty"`
	SessionTerminated bool            `json:"session_terminated,omitempty"`
}

// Statistics are the frame-ratio aggregates of a session.
type Statistics struct {
	TotalFrames        int     `json:"total_frames"`
	FacePresentFrames  int     `json:"face_present_frames"`
	FaceAbsentFrames   int     `json:"face_absent_frames"`
	MultipleFaceFrames int     `json:"multiple_face_frames"`
	LookAwayFrames     int     `json:"look_away_frames"`
	FacePresentPercent float64 `json:"face_present_percent"`
	LookAwayPercent    float64 `json:"look_away_percent"`
}

// ViolationBreakdown counts violations per severity.
type ViolationBreakdown struct {
	Total  int `json:"total"`
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Summary is the immutable result of ending a session.
type Summary struct {
	SessionID  string              `json:"session_id"`
	StudentID  string              `json:"student_id"`
	TaskID     string              `json:"task_id,omitempty"`
	Status     Status              `json:"status"`
	StartedAt  time.Time           `json:"started_at"`
	EndedAt    time.Time           `json:"ended_at"`
	Statistics Statistics          `json:"statistics"`
	Breakdown  ViolationBreakdown  `json:"violation_breakdown"`
	Violations []Violation         `json:"violations"`
	Risk       risk.Assessment     `json:"risk_assessment"`
}

// Snapshot is a point-in-time view of a session for status queries.
type Snapshot struct {
	SessionID  string             `json:"session_id"`
	StudentID  string             `json:"student_id"`
	TaskID     string             `json:"task_id,omitempty"`
	Status     Status             `json:"status"`
	StartedAt  time.Time          `json:"started_at"`
	EndedAt    *time.Time         `json:"ended_at,omitempty"`
	Statistics Statistics         `json:"statistics"`
	Breakdown  ViolationBreakdown `json:"violation_breakdown"`
	RiskScore  float64            `json:"risk_score"`
}

// EvidenceSink persists violation screenshots off the per-frame critical
// path. Capture must return the eventual storage path immediately and do the
// actual write asynchronously; an empty return means nothing was captured.
type EvidenceSink interface {
	Capture(sessionID string, frameNumber int, img image.Image) string
}

// ViolationSink receives violation events as they are emitted. Notify must
// not block the analyze path.
type ViolationSink interface {
	Notify(v Violation)
}
