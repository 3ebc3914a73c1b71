package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	s := &Settings{}
	s.WebServer.Enabled = true
	s.WebServer.Port = "8090"
	s.Proctoring.Detection = DefaultDetectionSettings()
	s.Proctoring.Session.IdleTimeout = 2 * time.Minute
	s.Output.SQLite.Enabled = true
	s.Output.SQLite.Path = "proctor.db"
	return s
}

func TestValidateSettingsAccepts(t *testing.T) {
	require.NoError(t, ValidateSettings(validSettings()))
}

func TestValidateSettingsRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"invalid port", func(s *Settings) { s.WebServer.Port = "not-a-port" }},
		{"port out of range", func(s *Settings) { s.WebServer.Port = "70000" }},
		{"zero absent threshold", func(s *Settings) { s.Proctoring.Detection.MaxAbsentFrames = 0 }},
		{"negative look-away threshold", func(s *Settings) { s.Proctoring.Detection.MaxLookAwayFrames = -1 }},
		{"confidence above one", func(s *Settings) { s.Proctoring.Detection.MinFaceConfidence = 1.5 }},
		{"negative similarity threshold", func(s *Settings) { s.Proctoring.Detection.FaceSimilarityThreshold = -0.1 }},
		{"auto-terminate without threshold", func(s *Settings) {
			s.Proctoring.Detection.AutoTerminateOnHighSeverity = true
			s.Proctoring.Detection.AutoTerminateThreshold = 0
		}},
		{"capture without interval", func(s *Settings) {
			s.Proctoring.Detection.CaptureScreenshots = true
			s.Proctoring.Detection.CaptureIntervalFrames = 0
		}},
		{"zero idle timeout", func(s *Settings) { s.Proctoring.Session.IdleTimeout = 0 }},
		{"no output enabled", func(s *Settings) { s.Output.SQLite.Enabled = false }},
		{"sqlite without path", func(s *Settings) { s.Output.SQLite.Path = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.mutate(s)
			assert.Error(t, ValidateSettings(s))
		})
	}
}

func TestValidationCollectsAllProblems(t *testing.T) {
	s := validSettings()
	s.WebServer.Port = "bad"
	s.Proctoring.Detection.MaxAbsentFrames = 0
	s.Output.SQLite.Enabled = false

	err := ValidateSettings(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webserver.port")
	assert.Contains(t, err.Error(), "maxabsentframes")
	assert.Contains(t, err.Error(), "output")
}

func TestDefaultDetectionSettingsAreValid(t *testing.T) {
	d := DefaultDetectionSettings()
	require.NoError(t, ValidateDetectionSettings(&d))
	assert.Equal(t, 30, d.MaxAbsentFrames)
	assert.Equal(t, 15, d.MaxMultipleFaceFrames)
	assert.Equal(t, 60, d.MaxLookAwayFrames)
	assert.Equal(t, 0.6, d.FaceSimilarityThreshold)
}
