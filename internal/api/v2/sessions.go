package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/procwatch/proctor-go/internal/conf"
	"github.com/procwatch/proctor-go/internal/datastore"
	"github.com/procwatch/proctor-go/internal/frame"
	"github.com/procwatch/proctor-go/internal/risk"
	"github.com/procwatch/proctor-go/internal/session"
)

// initSessionRoutes registers the session lifecycle endpoints.
func (c *Controller) initSessionRoutes() {
	c.Group.POST("/sessions", c.StartSession)
	c.Group.GET("/sessions", c.ListSessions)
	c.Group.GET("/sessions/:id", c.GetSession)
	c.Group.GET("/sessions/:id/status", c.SessionStatus)
	c.Group.GET("/sessions/:id/risk", c.SessionRisk)
	c.Group.POST("/sessions/:id/analyze", c.AnalyzeFrame)
	c.Group.POST("/sessions/:id/end", c.EndSession)
}

// StartSessionRequest is the payload for starting a proctoring session.
type StartSessionRequest struct {
	StudentID string `json:"student_id"`
	TaskID    string `json:"task_id,omitempty"`
	CollegeID string `json:"college_id,omitempty"`

	// Settings overrides the stored profiles when present.
	Settings *conf.DetectionSettings `json:"settings,omitempty"`

	// ReferenceFrame is a base64-encoded image used to capture the identity
	// reference encoding. An unusable frame disables verification, it never
	// fails the start.
	ReferenceFrame string `json:"reference_frame,omitempty"`
}

// StartSession creates a session and registers it as live.
func (c *Controller) StartSession(ctx echo.Context) error {
	var req StartSessionRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "invalid request body", http.StatusBadRequest)
	}
	if req.StudentID == "" {
		return c.HandleError(ctx, nil, "student_id is required", http.StatusBadRequest)
	}

	// One live session per student. A second start while the first is
	// active is a client bug or an attempt to shadow the proctored session.
	// The response names the existing session so the client can resume or
	// end it.
	if existing := c.Registry.FindByStudent(req.StudentID); existing != nil {
		c.apiLogger.Warn("rejected duplicate session start",
			"student_id", req.StudentID, "existing_session_id", existing.ID())
		return ctx.JSON(http.StatusConflict, map[string]any{
			"error":      "student already has an active session",
			"session_id": existing.ID(),
		})
	}

	settings := c.resolveSettings(&req)

	cfg := session.Config{
		StudentID:  req.StudentID,
		TaskID:     req.TaskID,
		Settings:   settings,
		Backend:    c.Backend,
		Evidence:   c.Evidence,
		Violations: c.Violations,
		Logger:     c.apiLogger,
	}

	if req.ReferenceFrame != "" {
		img, err := frame.DecodeBase64(req.ReferenceFrame)
		if err != nil {
			c.apiLogger.Warn("reference frame undecodable, verification disabled",
				"student_id", req.StudentID, "error", err)
		} else {
			cfg.ReferenceFrame = img
		}
	}

	mgr, err := session.Start(cfg)
	if err != nil {
		return c.HandleError(ctx, err, "failed to start session", http.StatusBadRequest)
	}

	c.Registry.Add(mgr)
	if c.metrics != nil {
		c.metrics.ActiveSessions.Inc()
	}
	c.persistSnapshot(mgr.Snapshot())

	return ctx.JSON(http.StatusCreated, map[string]any{
		"session_id": mgr.ID(),
		"status":     session.StatusActive,
		"settings":   settings,
	})
}

// resolveSettings picks the detector settings for a new session: explicit
// request settings, then the task profile, then the college profile, then
// the node defaults.
func (c *Controller) resolveSettings(req *StartSessionRequest) conf.DetectionSettings {
	if req.Settings != nil {
		return *req.Settings
	}
	return datastore.ResolveSettings(c.DS, req.TaskID, req.CollegeID,
		c.Settings.Proctoring.Detection)
}

// AnalyzeFrameRequest is the payload for analyzing one frame.
type AnalyzeFrameRequest struct {
	Frame           string `json:"frame"`
	FrameNumber     int    `json:"frame_number"`
	ClientTimestamp string `json:"client_timestamp,omitempty"`
}

// AnalyzeFrame runs the detection pipeline on one frame of a live session.
// A frame that cannot be decoded is a frame-level error, distinct from a
// violation: it advances no counters and is not analyzed.
func (c *Controller) AnalyzeFrame(ctx echo.Context) error {
	mgr, err := c.Registry.Get(ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "session not found", http.StatusNotFound)
	}

	var req AnalyzeFrameRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "invalid request body", http.StatusBadRequest)
	}

	img, err := frame.DecodeBase64(req.Frame)
	if err != nil {
		if c.metrics != nil {
			c.metrics.FrameDecodeErrors.Inc()
		}
		return c.HandleError(ctx, err, "frame could not be decoded", http.StatusBadRequest)
	}

	var timer *prometheus.Timer
	if c.metrics != nil {
		timer = prometheus.NewTimer(c.metrics.FrameAnalysisDuration)
	}
	result, err := mgr.Analyze(img, req.FrameNumber)
	if timer != nil {
		timer.ObserveDuration()
	}
	if err != nil {
		// Analyzing a finished session is an invalid operation, not a
		// missing resource.
		return c.HandleError(ctx, err, "cannot analyze frame", http.StatusConflict)
	}

	c.Registry.Touch(mgr.ID())
	if c.metrics != nil {
		c.metrics.FramesAnalyzed.Inc()
		if result.ViolationDetected {
			c.metrics.ViolationsTotal.
				WithLabelValues(string(result.ViolationType), string(result.Severity)).Inc()
		}
	}

	if result.ViolationDetected {
		c.persistSnapshot(mgr.Snapshot())
	}
	if result.SessionTerminated {
		c.finishSession(mgr)
	}

	return ctx.JSON(http.StatusOK, result)
}

// EndSession completes a live session and returns its frozen summary.
func (c *Controller) EndSession(ctx echo.Context) error {
	mgr, err := c.Registry.Get(ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "session not found", http.StatusNotFound)
	}

	summary := mgr.End()
	c.finishSession(mgr)

	return ctx.JSON(http.StatusOK, summary)
}

// finishSession removes a finished session from the live registry, persists
// its final state, and updates the session metrics.
func (c *Controller) finishSession(mgr *session.Manager) {
	c.Registry.Remove(mgr.ID())
	c.persistSnapshot(mgr.Snapshot())
	if c.metrics != nil {
		c.metrics.ActiveSessions.Dec()
		c.metrics.SessionsTotal.WithLabelValues(string(mgr.Status())).Inc()
	}
}

// persistSnapshot writes the session's current aggregate state.
func (c *Controller) persistSnapshot(snap session.Snapshot) {
	if c.DS == nil {
		return
	}
	record := datastore.SessionFromSnapshot(snap)
	if err := c.DS.SaveSession(&record); err != nil {
		c.apiLogger.Error("failed to persist session state",
			"session_id", snap.SessionID, "error", err)
	}
}

// SessionStatus returns a point-in-time view of a session, live or stored.
func (c *Controller) SessionStatus(ctx echo.Context) error {
	id := ctx.Param("id")
	if mgr, err := c.Registry.Get(id); err == nil {
		return ctx.JSON(http.StatusOK, mgr.Snapshot())
	}

	if c.DS != nil {
		stored, err := c.DS.GetSession(id)
		if err != nil {
			return c.HandleError(ctx, err, "session not found", http.StatusNotFound)
		}
		return ctx.JSON(http.StatusOK, snapshotFromRecord(stored))
	}
	return c.HandleError(ctx, nil, "session not found", http.StatusNotFound)
}

// SessionRisk returns the risk assessment for a session, live or stored.
func (c *Controller) SessionRisk(ctx echo.Context) error {
	id := ctx.Param("id")

	var snap session.Snapshot
	if mgr, err := c.Registry.Get(id); err == nil {
		snap = mgr.Snapshot()
	} else if c.DS != nil {
		stored, err := c.DS.GetSession(id)
		if err != nil {
			return c.HandleError(ctx, err, "session not found", http.StatusNotFound)
		}
		snap = snapshotFromRecord(stored)
	} else {
		return c.HandleError(ctx, nil, "session not found", http.StatusNotFound)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"session_id":          snap.SessionID,
		"risk_assessment":     risk.Assess(snap.RiskScore),
		"violation_breakdown": snap.Breakdown,
		"statistics":          snap.Statistics,
	})
}

// GetSession returns the stored session detail with its violations.
func (c *Controller) GetSession(ctx echo.Context) error {
	if c.DS == nil {
		return c.HandleError(ctx, nil, "storage is disabled", http.StatusNotImplemented)
	}
	stored, err := c.DS.GetSession(ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "session not found", http.StatusNotFound)
	}
	return ctx.JSON(http.StatusOK, stored)
}

// ListSessions lists stored sessions filtered by query parameters.
func (c *Controller) ListSessions(ctx echo.Context) error {
	if c.DS == nil {
		return c.HandleError(ctx, nil, "storage is disabled", http.StatusNotImplemented)
	}

	filters := datastore.SessionFilters{
		StudentID: ctx.QueryParam("student_id"),
		TaskID:    ctx.QueryParam("task_id"),
		Status:    ctx.QueryParam("status"),
		Limit:     queryInt(ctx, "limit", 100),
		Offset:    queryInt(ctx, "offset", 0),
	}
	if raw := ctx.QueryParam("min_risk"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			filters.MinRiskScore = v
		}
	}
	if since := ctx.QueryParam("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filters.Since = t
		}
	}

	sessions, err := c.DS.SearchSessions(filters)
	if err != nil {
		return c.HandleError(ctx, err, "failed to list sessions", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// snapshotFromRecord rebuilds a snapshot view from a stored session.
func snapshotFromRecord(s *datastore.Session) session.Snapshot {
	snap := session.Snapshot{
		SessionID: s.SessionID,
		StudentID: s.StudentID,
		TaskID:    s.TaskID,
		Status:    session.Status(s.Status),
		StartedAt: s.StartedAt,
		EndedAt:   s.EndedAt,
		Statistics: session.Statistics{
			TotalFrames:        s.TotalFrames,
			FacePresentFrames:  s.FacePresentFrames,
			FaceAbsentFrames:   s.FaceAbsentFrames,
			MultipleFaceFrames: s.MultipleFaceFrames,
			LookAwayFrames:     s.LookAwayFrames,
		},
		Breakdown: session.ViolationBreakdown{
			Total:  s.ViolationCount,
			High:   s.HighSeverityCount,
			Medium: s.MediumSeverityCount,
			Low:    s.LowSeverityCount,
		},
		RiskScore: s.RiskScore,
	}
	if s.TotalFrames > 0 {
		snap.Statistics.FacePresentPercent = 100 * float64(s.FacePresentFrames) / float64(s.TotalFrames)
		snap.Statistics.LookAwayPercent = 100 * float64(s.LookAwayFrames) / float64(s.TotalFrames)
	}
	return snap
}

func queryInt(ctx echo.Context, name string, fallback int) int {
	if raw := ctx.QueryParam(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			return v
		}
	}
	return fallback
}
