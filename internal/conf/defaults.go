// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "proctor-go")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "proctor.log")
	viper.SetDefault("main.log.rotation", RotationDaily)
	viper.SetDefault("main.log.maxsize", 1048576)
	viper.SetDefault("main.log.rotationday", time.Sunday)

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8080")
	viper.SetDefault("webserver.debug", false)

	// Detector defaults: thresholds assume ~30 fps client capture, so 30
	// absent frames is roughly one second without a face.
	viper.SetDefault("proctoring.detection.facedetectionenabled", true)
	viper.SetDefault("proctoring.detection.gazedetectionenabled", true)
	viper.SetDefault("proctoring.detection.objectdetectionenabled", false)
	viper.SetDefault("proctoring.detection.faceverificationenabled", false)
	viper.SetDefault("proctoring.detection.maxabsentframes", 30)
	viper.SetDefault("proctoring.detection.maxmultiplefaceframes", 15)
	viper.SetDefault("proctoring.detection.maxlookawayframes", 60)
	viper.SetDefault("proctoring.detection.minfaceconfidence", 0.5)
	viper.SetDefault("proctoring.detection.minobjectconfidence", 0.5)
	viper.SetDefault("proctoring.detection.facesimilaritythreshold", 0.6)
	viper.SetDefault("proctoring.detection.autoterminateonhighseverity", false)
	viper.SetDefault("proctoring.detection.autoterminatethreshold", 3)
	viper.SetDefault("proctoring.detection.capturescreenshots", true)
	viper.SetDefault("proctoring.detection.captureintervalframes", 30)

	viper.SetDefault("proctoring.session.idletimeout", 120*time.Second)

	viper.SetDefault("proctoring.evidence.enabled", true)
	viper.SetDefault("proctoring.evidence.path", "evidence/")
	viper.SetDefault("proctoring.evidence.queuesize", 64)

	viper.SetDefault("proctoring.vision.facemodelpath", "")
	viper.SetDefault("proctoring.vision.landmarkmodelpath", "")
	viper.SetDefault("proctoring.vision.objectmodelpath", "")
	viper.SetDefault("proctoring.vision.objectlabelspath", "")
	viper.SetDefault("proctoring.vision.threads", 0)

	viper.SetDefault("proctoring.mqtt.enabled", false)
	viper.SetDefault("proctoring.mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("proctoring.mqtt.topic", "proctor/violations")
	viper.SetDefault("proctoring.mqtt.retain", false)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "proctor.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "proctor")
	viper.SetDefault("output.mysql.database", "proctor")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")
}

// DefaultDetectionSettings returns the compiled-in detector defaults. These
// are the final fallback when neither a task nor a college settings profile
// exists.
func DefaultDetectionSettings() DetectionSettings {
	return DetectionSettings{
		FaceDetectionEnabled:        true,
		GazeDetectionEnabled:        true,
		ObjectDetectionEnabled:      false,
		FaceVerificationEnabled:     false,
		MaxAbsentFrames:             30,
		MaxMultipleFaceFrames:       15,
		MaxLookAwayFrames:           60,
		MinFaceConfidence:           0.5,
		MinObjectConfidence:         0.5,
		FaceSimilarityThreshold:     0.6,
		AutoTerminateOnHighSeverity: false,
		AutoTerminateThreshold:      3,
		CaptureScreenshots:          true,
		CaptureIntervalFrames:       30,
	}
}
