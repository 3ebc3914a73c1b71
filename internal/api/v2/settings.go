package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/procwatch/proctor-go/internal/conf"
	"github.com/procwatch/proctor-go/internal/datastore"
)

// initSettingsRoutes registers the settings profile endpoints. Profiles only
// affect sessions started after the change; running sessions keep the
// settings they were started with.
func (c *Controller) initSettingsRoutes() {
	c.Group.GET("/settings/defaults", c.DefaultSettings)
	c.Group.GET("/settings/task/:id", c.TaskSettings)
	c.Group.PUT("/settings/task/:id", c.SaveTaskSettings)
	c.Group.GET("/settings/college/:id", c.CollegeSettings)
	c.Group.PUT("/settings/college/:id", c.SaveCollegeSettings)
}

// DefaultSettings returns the node's configured default detector settings.
func (c *Controller) DefaultSettings(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.Settings.Proctoring.Detection)
}

// TaskSettings returns the effective settings for a task, falling through
// the resolution chain when no task profile exists.
func (c *Controller) TaskSettings(ctx echo.Context) error {
	taskID := ctx.Param("id")
	settings := datastore.ResolveSettings(c.DS, taskID, "", c.Settings.Proctoring.Detection)
	return ctx.JSON(http.StatusOK, settings)
}

// SaveTaskSettings stores a task-scoped settings profile.
func (c *Controller) SaveTaskSettings(ctx echo.Context) error {
	return c.saveProfile(ctx, ctx.Param("id"), "")
}

// CollegeSettings returns the effective settings for a college.
func (c *Controller) CollegeSettings(ctx echo.Context) error {
	collegeID := ctx.Param("id")
	settings := datastore.ResolveSettings(c.DS, "", collegeID, c.Settings.Proctoring.Detection)
	return ctx.JSON(http.StatusOK, settings)
}

// SaveCollegeSettings stores a college-scoped settings profile.
func (c *Controller) SaveCollegeSettings(ctx echo.Context) error {
	return c.saveProfile(ctx, "", ctx.Param("id"))
}

func (c *Controller) saveProfile(ctx echo.Context, taskID, collegeID string) error {
	if c.DS == nil {
		return c.HandleError(ctx, nil, "storage is disabled", http.StatusNotImplemented)
	}

	var settings conf.DetectionSettings
	if err := ctx.Bind(&settings); err != nil {
		return c.HandleError(ctx, err, "invalid request body", http.StatusBadRequest)
	}
	if err := conf.ValidateDetectionSettings(&settings); err != nil {
		return c.HandleError(ctx, err, "invalid detection settings", http.StatusBadRequest)
	}

	profile := datastore.ProfileFromSettings(taskID, collegeID, &settings)
	if err := c.DS.SaveSettingsProfile(&profile); err != nil {
		return c.HandleError(ctx, err, "failed to save settings profile", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, profile)
}
