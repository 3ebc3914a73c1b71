// conf/validate.go settings validation
package conf

import (
	"errors"
	"fmt"
	"strconv"
)

// ValidateSettings checks the loaded configuration for values that would
// break the pipeline at runtime. It collects all problems instead of failing
// on the first one.
func ValidateSettings(settings *Settings) error {
	var errs []error

	if err := validateWebServer(settings); err != nil {
		errs = append(errs, err)
	}
	if err := validateDetection(&settings.Proctoring.Detection); err != nil {
		errs = append(errs, err)
	}
	if err := validateSession(settings); err != nil {
		errs = append(errs, err)
	}
	if err := validateOutput(settings); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func validateWebServer(settings *Settings) error {
	if !settings.WebServer.Enabled {
		return nil
	}
	port, err := strconv.Atoi(settings.WebServer.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("webserver.port must be a valid port number, got %q", settings.WebServer.Port)
	}
	return nil
}

// ValidateDetectionSettings checks a detector configuration, e.g. a settings
// profile submitted through the API.
func ValidateDetectionSettings(d *DetectionSettings) error {
	return validateDetection(d)
}

func validateDetection(d *DetectionSettings) error {
	var errs []error

	if d.MaxAbsentFrames < 1 {
		errs = append(errs, fmt.Errorf("proctoring.detection.maxabsentframes must be >= 1, got %d", d.MaxAbsentFrames))
	}
	if d.MaxMultipleFaceFrames < 1 {
		errs = append(errs, fmt.Errorf("proctoring.detection.maxmultiplefaceframes must be >= 1, got %d", d.MaxMultipleFaceFrames))
	}
	if d.MaxLookAwayFrames < 1 {
		errs = append(errs, fmt.Errorf("proctoring.detection.maxlookawayframes must be >= 1, got %d", d.MaxLookAwayFrames))
	}
	for name, v := range map[string]float64{
		"minfaceconfidence":       d.MinFaceConfidence,
		"minobjectconfidence":     d.MinObjectConfidence,
		"facesimilaritythreshold": d.FaceSimilarityThreshold,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("proctoring.detection.%s must be within [0, 1], got %g", name, v))
		}
	}
	if d.AutoTerminateOnHighSeverity && d.AutoTerminateThreshold < 1 {
		errs = append(errs, fmt.Errorf("proctoring.detection.autoterminatethreshold must be >= 1 when auto-terminate is enabled, got %d", d.AutoTerminateThreshold))
	}
	if d.CaptureScreenshots && d.CaptureIntervalFrames < 1 {
		errs = append(errs, fmt.Errorf("proctoring.detection.captureintervalframes must be >= 1, got %d", d.CaptureIntervalFrames))
	}

	return errors.Join(errs...)
}

func validateSession(settings *Settings) error {
	if settings.Proctoring.Session.IdleTimeout <= 0 {
		return fmt.Errorf("proctoring.session.idletimeout must be positive, got %s", settings.Proctoring.Session.IdleTimeout)
	}
	return nil
}

func validateOutput(settings *Settings) error {
	sqlite := settings.Output.SQLite.Enabled
	mysql := settings.Output.MySQL.Enabled

	switch {
	case !sqlite && !mysql:
		return errors.New("no database output enabled, enable output.sqlite or output.mysql")
	case sqlite && settings.Output.SQLite.Path == "":
		return errors.New("output.sqlite.path must be set when sqlite output is enabled")
	case mysql && settings.Output.MySQL.Database == "":
		return errors.New("output.mysql.database must be set when mysql output is enabled")
	}
	return nil
}
