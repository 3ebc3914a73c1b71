package datastore

import (
	"encoding/json"
	"time"

	"github.com/procwatch/proctor-go/internal/conf"
	"github.com/procwatch/proctor-go/internal/session"
)

// Session is the stored record of a proctoring session.
type Session struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	SessionID string `gorm:"uniqueIndex;size:36" json:"session_id"`
	StudentID string `gorm:"index;size:64" json:"student_id"`
	TaskID    string `gorm:"index;size:64" json:"task_id,omitempty"`
	Status    string `gorm:"index;size:16" json:"status"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	TotalFrames        int `json:"total_frames"`
	FacePresentFrames  int `json:"face_present_frames"`
	FaceAbsentFrames   int `json:"face_absent_frames"`
	MultipleFaceFrames int `json:"multiple_face_frames"`
	LookAwayFrames     int `json:"look_away_frames"`

	ViolationCount      int     `json:"violation_count"`
	HighSeverityCount   int     `json:"high_severity_count"`
	MediumSeverityCount int     `json:"medium_severity_count"`
	LowSeverityCount    int     `json:"low_severity_count"`
	RiskScore           float64 `json:"risk_score"`

	Violations []Violation `gorm:"foreignKey:SessionID;references:SessionID" json:"violations,omitempty"`
}

// Violation is the stored record of a violation event. The review fields are
// the only mutable part; everything else is written once.
type Violation struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	ViolationID string    `gorm:"uniqueIndex;size:36" json:"violation_id"`
	SessionID   string    `gorm:"index;size:36" json:"session_id"`
	Type        string    `gorm:"index;size:32" json:"violation_type"`
	Severity    string    `gorm:"index;size:8" json:"severity"`
	Confidence  float64   `json:"confidence"`
	FrameNumber int       `json:"frame_number"`
	Timestamp   time.Time `gorm:"index" json:"timestamp"`

	// Details is the detector-specific payload, serialized as JSON.
	Details        string `gorm:"type:text" json:"-"`
	ScreenshotPath string `gorm:"size:255" json:"screenshot_path,omitempty"`

	Reviewed        bool       `gorm:"index" json:"reviewed"`
	ReviewedBy      string     `gorm:"size:64" json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	ReviewNotes     string     `gorm:"type:text" json:"review_notes,omitempty"`
	IsFalsePositive bool       `json:"is_false_positive"`
}

// DetailsMap decodes the stored details payload.
func (v *Violation) DetailsMap() map[string]any {
	if v.Details == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(v.Details), &m); err != nil {
		return nil
	}
	return m
}

// SettingsProfile is a stored detector configuration, scoped to a task or a
// college. Task profiles override college profiles, which override the
// compiled-in defaults.
type SettingsProfile struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	TaskID    string `gorm:"index;size:64" json:"task_id,omitempty"`
	CollegeID string `gorm:"index;size:64" json:"college_id,omitempty"`

	FaceDetectionEnabled    bool `json:"face_detection_enabled"`
	GazeDetectionEnabled    bool `json:"gaze_detection_enabled"`
	ObjectDetectionEnabled  bool `json:"object_detection_enabled"`
	FaceVerificationEnabled bool `json:"face_verification_enabled"`

	MaxAbsentFrames       int `json:"max_absent_frames"`
	MaxMultipleFaceFrames int `json:"max_multiple_face_frames"`
	MaxLookAwayFrames     int `json:"max_look_away_frames"`

	MinFaceConfidence       float64 `json:"min_face_confidence"`
	MinObjectConfidence     float64 `json:"min_object_confidence"`
	FaceSimilarityThreshold float64 `json:"face_similarity_threshold"`

	AutoTerminateOnHighSeverity bool `json:"auto_terminate_on_high_severity"`
	AutoTerminateThreshold      int  `json:"auto_terminate_threshold"`

	CaptureScreenshots    bool `json:"capture_screenshots"`
	CaptureIntervalFrames int  `json:"capture_interval_frames"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ToDetectionSettings converts the stored profile to runtime settings.
func (p *SettingsProfile) ToDetectionSettings() conf.DetectionSettings {
	return conf.DetectionSettings{
		FaceDetectionEnabled:        p.FaceDetectionEnabled,
		GazeDetectionEnabled:        p.GazeDetectionEnabled,
		ObjectDetectionEnabled:      p.ObjectDetectionEnabled,
		FaceVerificationEnabled:     p.FaceVerificationEnabled,
		MaxAbsentFrames:             p.MaxAbsentFrames,
		MaxMultipleFaceFrames:       p.MaxMultipleFaceFrames,
		MaxLookAwayFrames:           p.MaxLookAwayFrames,
		MinFaceConfidence:           p.MinFaceConfidence,
		MinObjectConfidence:         p.MinObjectConfidence,
		FaceSimilarityThreshold:     p.FaceSimilarityThreshold,
		AutoTerminateOnHighSeverity: p.AutoTerminateOnHighSeverity,
		AutoTerminateThreshold:      p.AutoTerminateThreshold,
		CaptureScreenshots:          p.CaptureScreenshots,
		CaptureIntervalFrames:       p.CaptureIntervalFrames,
	}
}

// ProfileFromSettings builds a stored profile from runtime settings.
func ProfileFromSettings(taskID, collegeID string, s *conf.DetectionSettings) SettingsProfile {
	return SettingsProfile{
		TaskID:                      taskID,
		CollegeID:                   collegeID,
		FaceDetectionEnabled:        s.FaceDetectionEnabled,
		GazeDetectionEnabled:        s.GazeDetectionEnabled,
		ObjectDetectionEnabled:      s.ObjectDetectionEnabled,
		FaceVerificationEnabled:     s.FaceVerificationEnabled,
		MaxAbsentFrames:             s.MaxAbsentFrames,
		MaxMultipleFaceFrames:       s.MaxMultipleFaceFrames,
		MaxLookAwayFrames:           s.MaxLookAwayFrames,
		MinFaceConfidence:           s.MinFaceConfidence,
		MinObjectConfidence:         s.MinObjectConfidence,
		FaceSimilarityThreshold:     s.FaceSimilarityThreshold,
		AutoTerminateOnHighSeverity: s.AutoTerminateOnHighSeverity,
		AutoTerminateThreshold:      s.AutoTerminateThreshold,
		CaptureScreenshots:          s.CaptureScreenshots,
		CaptureIntervalFrames:       s.CaptureIntervalFrames,
	}
}

// SessionFromSnapshot builds a session record from the live manager state.
func SessionFromSnapshot(snap session.Snapshot) Session {
	return Session{
		SessionID:           snap.SessionID,
		StudentID:           snap.StudentID,
		TaskID:              snap.TaskID,
		Status:              string(snap.Status),
		StartedAt:           snap.StartedAt,
		EndedAt:             snap.EndedAt,
		TotalFrames:         snap.Statistics.TotalFrames,
		FacePresentFrames:   snap.Statistics.FacePresentFrames,
		FaceAbsentFrames:    snap.Statistics.FaceAbsentFrames,
		MultipleFaceFrames:  snap.Statistics.MultipleFaceFrames,
		LookAwayFrames:      snap.Statistics.LookAwayFrames,
		ViolationCount:      snap.Breakdown.Total,
		HighSeverityCount:   snap.Breakdown.High,
		MediumSeverityCount: snap.Breakdown.Medium,
		LowSeverityCount:    snap.Breakdown.Low,
		RiskScore:           snap.RiskScore,
	}
}

// ViolationFromEvent builds a violation record from a pipeline event.
func ViolationFromEvent(v session.Violation) Violation {
	details := ""
	if len(v.Details) > 0 {
		if raw, err := json.Marshal(v.Details); err == nil {
			details = string(raw)
		}
	}
	return Violation{
		ViolationID:    v.ID,
		SessionID:      v.SessionID,
		Type:           string(v.Type),
		Severity:       string(v.Severity),
		Confidence:     v.Confidence,
		FrameNumber:    v.FrameNumber,
		Timestamp:      v.Timestamp,
		Details:        details,
		ScreenshotPath: v.ScreenshotPath,
	}
}
