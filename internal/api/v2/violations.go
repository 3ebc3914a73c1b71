package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/procwatch/proctor-go/internal/datastore"
)

// initViolationRoutes registers the violation query and review endpoints.
func (c *Controller) initViolationRoutes() {
	c.Group.GET("/sessions/:id/violations", c.SessionViolations)
	c.Group.GET("/violations", c.SearchViolations)
	c.Group.GET("/violations/:id", c.GetViolation)
	c.Group.POST("/violations/:id/review", c.ReviewViolation)
}

// violationView decorates a stored violation with its decoded details.
type violationView struct {
	datastore.Violation
	Details map[string]any `json:"details,omitempty"`
}

func viewOf(v *datastore.Violation) violationView {
	return violationView{Violation: *v, Details: v.DetailsMap()}
}

// SessionViolations returns a session's violations in frame order.
func (c *Controller) SessionViolations(ctx echo.Context) error {
	if c.DS == nil {
		return c.HandleError(ctx, nil, "storage is disabled", http.StatusNotImplemented)
	}

	violations, err := c.DS.GetViolations(ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "failed to load violations", http.StatusInternalServerError)
	}

	views := make([]violationView, 0, len(violations))
	for i := range violations {
		views = append(views, viewOf(&violations[i]))
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"violations": views,
		"count":      len(views),
	})
}

// SearchViolations lists stored violations filtered by query parameters.
func (c *Controller) SearchViolations(ctx echo.Context) error {
	if c.DS == nil {
		return c.HandleError(ctx, nil, "storage is disabled", http.StatusNotImplemented)
	}

	filters := datastore.ViolationFilters{
		SessionID:      ctx.QueryParam("session_id"),
		Type:           ctx.QueryParam("type"),
		Severity:       ctx.QueryParam("severity"),
		UnreviewedOnly: ctx.QueryParam("unreviewed") == "true",
		Limit:          queryInt(ctx, "limit", 100),
		Offset:         queryInt(ctx, "offset", 0),
	}

	violations, err := c.DS.SearchViolations(filters)
	if err != nil {
		return c.HandleError(ctx, err, "failed to search violations", http.StatusInternalServerError)
	}

	views := make([]violationView, 0, len(violations))
	for i := range violations {
		views = append(views, viewOf(&violations[i]))
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"violations": views,
		"count":      len(views),
	})
}

// GetViolation returns a single stored violation.
func (c *Controller) GetViolation(ctx echo.Context) error {
	if c.DS == nil {
		return c.HandleError(ctx, nil, "storage is disabled", http.StatusNotImplemented)
	}

	v, err := c.DS.GetViolation(ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "violation not found", http.StatusNotFound)
	}
	return ctx.JSON(http.StatusOK, viewOf(v))
}

// ReviewViolation applies a human review annotation to a violation. This is
// the only mutation a violation supports after creation.
func (c *Controller) ReviewViolation(ctx echo.Context) error {
	if c.DS == nil {
		return c.HandleError(ctx, nil, "storage is disabled", http.StatusNotImplemented)
	}

	var review datastore.Review
	if err := ctx.Bind(&review); err != nil {
		return c.HandleError(ctx, err, "invalid request body", http.StatusBadRequest)
	}
	if review.ReviewedBy == "" {
		return c.HandleError(ctx, nil, "reviewed_by is required", http.StatusBadRequest)
	}

	id := ctx.Param("id")
	if err := c.DS.ReviewViolation(id, review); err != nil {
		return c.HandleError(ctx, err, "failed to review violation", http.StatusInternalServerError)
	}

	v, err := c.DS.GetViolation(id)
	if err != nil {
		return c.HandleError(ctx, err, "violation not found", http.StatusNotFound)
	}
	return ctx.JSON(http.StatusOK, viewOf(v))
}
