// Package datastore provides durable storage for proctoring sessions,
// violations, and settings profiles on GORM, with SQLite and MySQL backends.
package datastore

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/procwatch/proctor-go/internal/conf"
	perrors "github.com/procwatch/proctor-go/internal/errors"
	"github.com/procwatch/proctor-go/internal/logging"
)

// SessionFilters narrows session queries. Zero values are ignored.
type SessionFilters struct {
	StudentID    string
	TaskID       string
	Status       string
	MinRiskScore float64
	Since        time.Time
	Limit        int
	Offset       int
}

// ViolationFilters narrows violation queries. Zero values are ignored.
type ViolationFilters struct {
	SessionID      string
	Type           string
	Severity       string
	UnreviewedOnly bool
	Limit          int
	Offset         int
}

// Review is the human annotation applied to a stored violation.
type Review struct {
	ReviewedBy      string `json:"reviewed_by"`
	Notes           string `json:"notes,omitempty"`
	IsFalsePositive bool   `json:"is_false_positive"`
}

// DashboardStats aggregates stored sessions for the overview endpoint.
type DashboardStats struct {
	TotalSessions      int64            `json:"total_sessions"`
	SessionsByStatus   map[string]int64 `json:"sessions_by_status"`
	TotalViolations    int64            `json:"total_violations"`
	ViolationsByType   map[string]int64 `json:"violations_by_type"`
	UnreviewedCount    int64            `json:"unreviewed_violations"`
	AverageRiskScore   float64          `json:"average_risk_score"`
	HighRiskSessions   int64            `json:"high_risk_sessions"`
}

// Interface abstracts the storage backend.
type Interface interface {
	Open() error
	Close() error

	SaveSession(s *Session) error
	GetSession(sessionID string) (*Session, error)
	GetActiveSession(studentID string) (*Session, error)
	SearchSessions(f SessionFilters) ([]Session, error)

	SaveViolation(v *Violation) error
	GetViolation(violationID string) (*Violation, error)
	GetViolations(sessionID string) ([]Violation, error)
	SearchViolations(f ViolationFilters) ([]Violation, error)
	ReviewViolation(violationID string, review Review) error

	GetSettingsForTask(taskID string) (*SettingsProfile, error)
	GetSettingsForCollege(collegeID string) (*SettingsProfile, error)
	SaveSettingsProfile(p *SettingsProfile) error

	Dashboard() (*DashboardStats, error)
}

// DataStore implements the backend-independent parts of Interface.
type DataStore struct {
	DB  *gorm.DB
	log *slog.Logger
}

// New creates the datastore matching the enabled output in settings.
func New(settings *conf.Settings) Interface {
	base := DataStore{log: logging.ForService("datastore")}
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{DataStore: base, Settings: settings}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{DataStore: base, Settings: settings}
	default:
		return nil
	}
}

func notFound(what, id string) error {
	return perrors.Newf("%s not found", what).
		Component("datastore").
		Category(perrors.CategoryNotFound).
		Context("id", id).
		Build()
}

func dbError(op string, err error) error {
	return perrors.New(fmt.Errorf("%s: %w", op, err)).
		Component("datastore").
		Category(perrors.CategoryDatabase).
		Build()
}

// SaveSession inserts or updates a session record, keyed by its session ID.
func (ds *DataStore) SaveSession(s *Session) error {
	var existing Session
	err := ds.DB.Where("session_id = ?", s.SessionID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := ds.DB.Create(s).Error; err != nil {
			return dbError("create session", err)
		}
		return nil
	case err != nil:
		return dbError("lookup session", err)
	default:
		s.ID = existing.ID
		if err := ds.DB.Model(&existing).Updates(map[string]any{
			"status":                s.Status,
			"ended_at":              s.EndedAt,
			"total_frames":          s.TotalFrames,
			"face_present_frames":   s.FacePresentFrames,
			"face_absent_frames":    s.FaceAbsentFrames,
			"multiple_face_frames":  s.MultipleFaceFrames,
			"look_away_frames":      s.LookAwayFrames,
			"violation_count":       s.ViolationCount,
			"high_severity_count":   s.HighSeverityCount,
			"medium_severity_count": s.MediumSeverityCount,
			"low_severity_count":    s.LowSeverityCount,
			"risk_score":            s.RiskScore,
		}).Error; err != nil {
			return dbError("update session", err)
		}
		return nil
	}
}

// GetSession returns one session with its violations.
func (ds *DataStore) GetSession(sessionID string) (*Session, error) {
	var s Session
	err := ds.DB.Preload("Violations", func(db *gorm.DB) *gorm.DB {
		return db.Order("frame_number ASC")
	}).Where("session_id = ?", sessionID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("session", sessionID)
	}
	if err != nil {
		return nil, dbError("get session", err)
	}
	return &s, nil
}

// GetActiveSession returns the student's active session, if one exists.
func (ds *DataStore) GetActiveSession(studentID string) (*Session, error) {
	var s Session
	err := ds.DB.Where("student_id = ? AND status = ?", studentID, "active").
		Order("started_at DESC").First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("active session", studentID)
	}
	if err != nil {
		return nil, dbError("get active session", err)
	}
	return &s, nil
}

// SearchSessions lists sessions matching the filters, most recent first.
func (ds *DataStore) SearchSessions(f SessionFilters) ([]Session, error) {
	q := ds.DB.Model(&Session{})
	if f.StudentID != "" {
		q = q.Where("student_id = ?", f.StudentID)
	}
	if f.TaskID != "" {
		q = q.Where("task_id = ?", f.TaskID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.MinRiskScore > 0 {
		q = q.Where("risk_score >= ?", f.MinRiskScore)
	}
	if !f.Since.IsZero() {
		q = q.Where("started_at >= ?", f.Since)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var sessions []Session
	if err := q.Order("started_at DESC").Find(&sessions).Error; err != nil {
		return nil, dbError("search sessions", err)
	}
	return sessions, nil
}

// SaveViolation inserts a violation record.
func (ds *DataStore) SaveViolation(v *Violation) error {
	if err := ds.DB.Create(v).Error; err != nil {
		return dbError("create violation", err)
	}
	return nil
}

// GetViolation returns one violation by its violation ID.
func (ds *DataStore) GetViolation(violationID string) (*Violation, error) {
	var v Violation
	err := ds.DB.Where("violation_id = ?", violationID).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("violation", violationID)
	}
	if err != nil {
		return nil, dbError("get violation", err)
	}
	return &v, nil
}

// GetViolations returns a session's violations in frame order.
func (ds *DataStore) GetViolations(sessionID string) ([]Violation, error) {
	var violations []Violation
	err := ds.DB.Where("session_id = ?", sessionID).
		Order("frame_number ASC").Find(&violations).Error
	if err != nil {
		return nil, dbError("get violations", err)
	}
	return violations, nil
}

// SearchViolations lists violations matching the filters, most recent first.
func (ds *DataStore) SearchViolations(f ViolationFilters) ([]Violation, error) {
	q := ds.DB.Model(&Violation{})
	if f.SessionID != "" {
		q = q.Where("session_id = ?", f.SessionID)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if f.UnreviewedOnly {
		q = q.Where("reviewed = ?", false)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var violations []Violation
	if err := q.Order("timestamp DESC").Find(&violations).Error; err != nil {
		return nil, dbError("search violations", err)
	}
	return violations, nil
}

// ReviewViolation applies a human review annotation. This is the only write
// path that touches a violation after creation.
func (ds *DataStore) ReviewViolation(violationID string, review Review) error {
	now := time.Now()
	res := ds.DB.Model(&Violation{}).Where("violation_id = ?", violationID).
		Updates(map[string]any{
			"reviewed":          true,
			"reviewed_by":       review.ReviewedBy,
			"reviewed_at":       &now,
			"review_notes":      review.Notes,
			"is_false_positive": review.IsFalsePositive,
		})
	if res.Error != nil {
		return dbError("review violation", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("violation", violationID)
	}
	return nil
}

// GetSettingsForTask returns the task-scoped settings profile.
func (ds *DataStore) GetSettingsForTask(taskID string) (*SettingsProfile, error) {
	return ds.getProfile("task_id = ?", taskID)
}

// GetSettingsForCollege returns the college-scoped settings profile.
func (ds *DataStore) GetSettingsForCollege(collegeID string) (*SettingsProfile, error) {
	return ds.getProfile("college_id = ?", collegeID)
}

func (ds *DataStore) getProfile(where, id string) (*SettingsProfile, error) {
	if id == "" {
		return nil, notFound("settings profile", id)
	}
	var p SettingsProfile
	err := ds.DB.Where(where, id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("settings profile", id)
	}
	if err != nil {
		return nil, dbError("get settings profile", err)
	}
	return &p, nil
}

// SaveSettingsProfile inserts or updates a settings profile for its scope.
func (ds *DataStore) SaveSettingsProfile(p *SettingsProfile) error {
	var existing SettingsProfile
	q := ds.DB
	switch {
	case p.TaskID != "":
		q = q.Where("task_id = ?", p.TaskID)
	case p.CollegeID != "":
		q = q.Where("college_id = ?", p.CollegeID)
	default:
		return perrors.Newf("settings profile needs a task or college scope").
			Component("datastore").
			Category(perrors.CategoryValidation).
			Build()
	}

	err := q.First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := ds.DB.Create(p).Error; err != nil {
			return dbError("create settings profile", err)
		}
		return nil
	case err != nil:
		return dbError("lookup settings profile", err)
	default:
		p.ID = existing.ID
		if err := ds.DB.Save(p).Error; err != nil {
			return dbError("update settings profile", err)
		}
		return nil
	}
}

// Dashboard computes the stored-session aggregates for the overview
// endpoint. High risk means a final score of 50 or more.
func (ds *DataStore) Dashboard() (*DashboardStats, error) {
	stats := &DashboardStats{
		SessionsByStatus: map[string]int64{},
		ViolationsByType: map[string]int64{},
	}

	if err := ds.DB.Model(&Session{}).Count(&stats.TotalSessions).Error; err != nil {
		return nil, dbError("count sessions", err)
	}

	var byStatus []struct {
		Status string
		Count  int64
	}
	if err := ds.DB.Model(&Session{}).
		Select("status, count(*) as count").Group("status").
		Scan(&byStatus).Error; err != nil {
		return nil, dbError("sessions by status", err)
	}
	for _, row := range byStatus {
		stats.SessionsByStatus[row.Status] = row.Count
	}

	if err := ds.DB.Model(&Violation{}).Count(&stats.TotalViolations).Error; err != nil {
		return nil, dbError("count violations", err)
	}

	var byType []struct {
		Type  string
		Count int64
	}
	if err := ds.DB.Model(&Violation{}).
		Select("type, count(*) as count").Group("type").
		Scan(&byType).Error; err != nil {
		return nil, dbError("violations by type", err)
	}
	for _, row := range byType {
		stats.ViolationsByType[row.Type] = row.Count
	}

	if err := ds.DB.Model(&Violation{}).
		Where("reviewed = ?", false).Count(&stats.UnreviewedCount).Error; err != nil {
		return nil, dbError("count unreviewed", err)
	}

	var avg *float64
	if err := ds.DB.Model(&Session{}).
		Select("avg(risk_score)").Scan(&avg).Error; err != nil {
		return nil, dbError("average risk score", err)
	}
	if avg != nil {
		stats.AverageRiskScore = *avg
	}

	if err := ds.DB.Model(&Session{}).
		Where("risk_score >= ?", 50.0).Count(&stats.HighRiskSessions).Error; err != nil {
		return nil, dbError("count high risk sessions", err)
	}

	return stats, nil
}
