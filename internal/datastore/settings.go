package datastore

import (
	"github.com/procwatch/proctor-go/internal/conf"
	"github.com/procwatch/proctor-go/internal/errors"
)

// ResolveSettings returns the detector settings for a session start. A
// task-scoped profile wins over a college-scoped one, which wins over the
// node's configured defaults. Lookup failures other than "not found" degrade
// to the defaults; a settings hiccup must not block a session from starting.
func ResolveSettings(ds Interface, taskID, collegeID string, defaults conf.DetectionSettings) conf.DetectionSettings {
	if ds == nil {
		return defaults
	}

	if taskID != "" {
		if p, err := ds.GetSettingsForTask(taskID); err == nil {
			return p.ToDetectionSettings()
		} else if !errors.HasCategory(err, errors.CategoryNotFound) {
			return defaults
		}
	}

	if collegeID != "" {
		if p, err := ds.GetSettingsForCollege(collegeID); err == nil {
			return p.ToDetectionSettings()
		}
	}

	return defaults
}
