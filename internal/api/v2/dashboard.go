package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// initDashboardRoutes registers the overview endpoint.
func (c *Controller) initDashboardRoutes() {
	c.Group.GET("/dashboard", c.Dashboard)
}

// Dashboard returns stored-session aggregates plus the live session count.
func (c *Controller) Dashboard(ctx echo.Context) error {
	if c.DS == nil {
		return c.HandleError(ctx, nil, "storage is disabled", http.StatusNotImplemented)
	}

	stats, err := c.DS.Dashboard()
	if err != nil {
		return c.HandleError(ctx, err, "failed to compute dashboard", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"stored":          stats,
		"active_sessions": c.Registry.Count(),
	})
}
