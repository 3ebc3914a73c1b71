// config.go configuration structures and loading for proctor-go
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// RotationType defines the log rotation strategy.
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

// LogConfig defines the configuration for a rotated log file.
type LogConfig struct {
	Enabled     bool         // true to enable this log
	Path        string       // path to log file
	Rotation    RotationType // rotation type
	MaxSize     int64        // max size in bytes for RotationSize
	RotationDay time.Weekday // day of the week for RotationWeekly
}

// DetectionSettings holds the per-session detector configuration. The values
// here are the system-wide defaults; task- and college-level profiles stored
// in the datastore override them at session start. A running session never
// sees changes to these values, settings are loaded once when the session
// starts.
type DetectionSettings struct {
	FaceDetectionEnabled    bool `json:"face_detection_enabled"`
	GazeDetectionEnabled    bool `json:"gaze_detection_enabled"`
	ObjectDetectionEnabled  bool `json:"object_detection_enabled"`
	FaceVerificationEnabled bool `json:"face_verification_enabled"`

	// Consecutive-frame thresholds before a violation fires
	MaxAbsentFrames       int `json:"max_absent_frames"`
	MaxMultipleFaceFrames int `json:"max_multiple_face_frames"`
	MaxLookAwayFrames     int `json:"max_look_away_frames"`

	// Confidence thresholds
	MinFaceConfidence       float64 `json:"min_face_confidence"`
	MinObjectConfidence     float64 `json:"min_object_confidence"`
	FaceSimilarityThreshold float64 `json:"face_similarity_threshold"`

	AutoTerminateOnHighSeverity bool `json:"auto_terminate_on_high_severity"`
	AutoTerminateThreshold      int  `json:"auto_terminate_threshold"`

	CaptureScreenshots    bool `json:"capture_screenshots"`
	CaptureIntervalFrames int  `json:"capture_interval_frames"`
}

// ProctoringConfig groups the proctoring pipeline configuration.
type ProctoringConfig struct {
	Detection DetectionSettings // system default detector settings

	Session struct {
		IdleTimeout time.Duration // inactivity before an active session is marked interrupted
	}

	Evidence struct {
		Enabled   bool   // true to persist violation screenshots
		Path      string // directory for screenshot evidence
		QueueSize int    // async writer queue depth
	}

	Vision struct {
		FaceModelPath     string // TFLite face detection model
		LandmarkModelPath string // TFLite face landmark model, enables gaze estimation
		ObjectModelPath   string // TFLite object detection model
		ObjectLabelsPath  string // labels file for the object model
		Threads           int    // interpreter threads, 0 for runtime default
	}

	MQTT struct {
		Enabled  bool   // true to publish violation events to a broker
		Broker   string // broker URL, e.g. tcp://localhost:1883
		Topic    string // base topic for violation events
		Username string
		Password string
		Retain   bool
	}
}

// Settings is the top level configuration struct.
type Settings struct {
	Debug bool // true to enable debug mode

	// Runtime values, not stored in config file
	Version   string `yaml:"-"` // Version from build
	BuildDate string `yaml:"-"` // Build date from build

	Main struct {
		Name string    // name of this proctor-go node
		Log  LogConfig // logging configuration
	}

	WebServer struct {
		Debug   bool   // true to enable web server debug mode
		Enabled bool   // true to enable web server
		Port    string // port for web server
	}

	Proctoring ProctoringConfig // proctoring pipeline settings

	Output struct {
		SQLite struct {
			Enabled bool   // true to enable sqlite output
			Path    string // path to sqlite database
		}

		MySQL struct {
			Enabled  bool   // true to enable mysql output
			Username string // username for mysql database
			Password string // password for mysql database
			Database string // database name for mysql database
			Host     string // host for mysql database
			Port     string // port for mysql database
		}
	}
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration into a new Settings struct and stores it as
// the package singleton.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !asConfigFileNotFound(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine, defaults apply.
	}
	return nil
}

// asConfigFileNotFound reports whether err is viper's missing-config error.
func asConfigFileNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	if e, ok := err.(viper.ConfigFileNotFoundError); ok { //nolint:errorlint // viper returns the value type
		*target = e
		return true
	}
	return false
}

// Setting returns the current settings instance. Load must have been called.
func Setting() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// GetDefaultConfigPaths returns the OS-conventional configuration paths. If a
// config.yaml is found in one of them, only that path is returned.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	var configPaths []string
	switch runtime.GOOS {
	case "windows":
		exePath, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("getting executable path: %w", err)
		}
		configPaths = []string{
			filepath.Dir(exePath),
			filepath.Join(homeDir, "AppData", "Roaming", "proctor-go"),
		}
	default:
		configPaths = []string{
			filepath.Join(homeDir, ".config", "proctor-go"),
			"/etc/proctor-go",
			".",
		}
	}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}, nil
		}
	}
	return configPaths, nil
}
