package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procwatch/proctor-go/internal/conf"
	"github.com/procwatch/proctor-go/internal/session"
	"github.com/procwatch/proctor-go/internal/vision"
)

// scriptedBackend is a minimal vision.Backend for handler tests.
type scriptedBackend struct {
	faces []vision.Face
}

func (s *scriptedBackend) DetectFaces(image.Image) ([]vision.Face, error) { return s.faces, nil }
func (s *scriptedBackend) DetectLandmarks(image.Image) (*vision.Landmarks, error) {
	return nil, nil
}
func (s *scriptedBackend) DetectObjects(image.Image) ([]vision.Object, error) { return nil, nil }
func (s *scriptedBackend) EncodeFace(image.Image, vision.BoundingBox) ([]float32, error) {
	return []float32{1}, nil
}
func (s *scriptedBackend) Capabilities() vision.Capabilities {
	return vision.Capabilities{FaceDetection: true, Landmarks: true, FaceEncoding: true}
}
func (s *scriptedBackend) Close() error { return nil }

func testSettings() *conf.Settings {
	s := &conf.Settings{}
	s.Main.Name = "test-node"
	s.WebServer.Port = "8090"
	s.Proctoring.Detection = conf.DefaultDetectionSettings()
	s.Proctoring.Session.IdleTimeout = time.Minute
	return s
}

func newTestController(backend vision.Backend) *Controller {
	e := echo.New()
	registry := session.NewRegistry(time.Minute, nil, nil)
	return New(e, nil, testSettings(), registry, backend, nil, nil, nil)
}

func doJSON(c *Controller, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)
	return rec
}

func frameBase64(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 12))))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func startTestSession(t *testing.T, c *Controller) string {
	t.Helper()
	rec := doJSON(c, http.MethodPost, "/api/v2/sessions", StartSessionRequest{StudentID: "student-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	id, ok := resp["session_id"].(string)
	require.True(t, ok)
	return id
}

func TestStartSessionRequiresStudentID(t *testing.T) {
	c := newTestController(&scriptedBackend{})
	rec := doJSON(c, http.MethodPost, "/api/v2/sessions", StartSessionRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartSessionDuplicateGuard(t *testing.T) {
	c := newTestController(&scriptedBackend{})
	id := startTestSession(t, c)

	rec := doJSON(c, http.MethodPost, "/api/v2/sessions", StartSessionRequest{StudentID: "student-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// The conflict names the session already running for the student.
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, id, resp["session_id"])

	// A different student is unaffected.
	rec = doJSON(c, http.MethodPost, "/api/v2/sessions", StartSessionRequest{StudentID: "student-2"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAnalyzeFrameFlow(t *testing.T) {
	backend := &scriptedBackend{faces: []vision.Face{{Confidence: 0.9}}}
	c := newTestController(backend)
	id := startTestSession(t, c)

	rec := doJSON(c, http.MethodPost, fmt.Sprintf("/api/v2/sessions/%s/analyze", id),
		AnalyzeFrameRequest{Frame: frameBase64(t), FrameNumber: 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result session.FrameResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.FrameNumber)
	assert.Equal(t, 1, result.FacesDetected)
	assert.False(t, result.ViolationDetected)
	assert.Equal(t, session.SeverityNone, result.Severity)
}

func TestAnalyzeFrameDecodeError(t *testing.T) {
	c := newTestController(&scriptedBackend{})
	id := startTestSession(t, c)

	rec := doJSON(c, http.MethodPost, fmt.Sprintf("/api/v2/sessions/%s/analyze", id),
		AnalyzeFrameRequest{Frame: "@@not-base64@@", FrameNumber: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// The rejected frame advanced no counters.
	status := doJSON(c, http.MethodGet, fmt.Sprintf("/api/v2/sessions/%s/status", id), nil)
	require.Equal(t, http.StatusOK, status.Code)
	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(status.Body.Bytes(), &snap))
	assert.Equal(t, 0, snap.Statistics.TotalFrames)
}

func TestAnalyzeUnknownSession(t *testing.T) {
	c := newTestController(&scriptedBackend{})
	rec := doJSON(c, http.MethodPost, "/api/v2/sessions/nope/analyze",
		AnalyzeFrameRequest{Frame: frameBase64(t), FrameNumber: 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEndSessionReturnsSummary(t *testing.T) {
	backend := &scriptedBackend{faces: []vision.Face{{Confidence: 0.9}}}
	c := newTestController(backend)
	id := startTestSession(t, c)

	doJSON(c, http.MethodPost, fmt.Sprintf("/api/v2/sessions/%s/analyze", id),
		AnalyzeFrameRequest{Frame: frameBase64(t), FrameNumber: 1})

	rec := doJSON(c, http.MethodPost, fmt.Sprintf("/api/v2/sessions/%s/end", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary session.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, id, summary.SessionID)
	assert.Equal(t, session.StatusCompleted, summary.Status)
	assert.Equal(t, 1, summary.Statistics.TotalFrames)

	// The session is no longer live; analyzing or ending again is an error.
	rec = doJSON(c, http.MethodPost, fmt.Sprintf("/api/v2/sessions/%s/analyze", id),
		AnalyzeFrameRequest{Frame: frameBase64(t), FrameNumber: 2})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(c, http.MethodPost, fmt.Sprintf("/api/v2/sessions/%s/end", id), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionRiskEndpoint(t *testing.T) {
	c := newTestController(&scriptedBackend{faces: []vision.Face{{Confidence: 0.9}}})
	id := startTestSession(t, c)

	rec := doJSON(c, http.MethodGet, fmt.Sprintf("/api/v2/sessions/%s/risk", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, id, resp["session_id"])

	assessment, ok := resp["risk_assessment"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "low", assessment["risk_level"])
	assert.Equal(t, "No significant concerns detected.", assessment["recommendation"])
}

func TestHealthEndpoint(t *testing.T) {
	c := newTestController(&scriptedBackend{})
	rec := doJSON(c, http.MethodGet, "/api/v2/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "disabled", resp["database_status"])
}
