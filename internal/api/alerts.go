package api

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/servermon/internal/database"
	"github.com/NikhilSetiya/servermon/pkg/errors"
	"github.com/NikhilSetiya/servermon/pkg/pagination"
	"github.com/NikhilSetiya/servermon/pkg/types"
)

// AlertHistory is satisfied by *database.AlertRepository
type AlertHistory interface {
	PageSource(filter database.AlertFilter) pagination.Source[types.Alert]
}

// AlertTransitions is satisfied by *alerting.Lifecycle
type AlertTransitions interface {
	Acknowledge(ctx context.Context, id int64, by string) (*types.Alert, error)
	Resolve(ctx context.Context, id int64) (*types.Alert, error)
}

// AlertHandler serves alert listings and operator transitions
type AlertHandler struct {
	alerts    AlertHistory
	lifecycle AlertTransitions
}

// NewAlertHandler creates an alert handler
func NewAlertHandler(alerts AlertHistory, lifecycle AlertTransitions) *AlertHandler {
	return &AlertHandler{alerts: alerts, lifecycle: lifecycle}
}

// AcknowledgeRequest is the body of an acknowledge call
type AcknowledgeRequest struct {
	AcknowledgedBy string `json:"acknowledged_by" binding:"required"`
}

// ListAlerts handles GET /api/v1/alerts
func (h *AlertHandler) ListAlerts(c *gin.Context) {
	filter, err := alertFilter(c)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	page, err := pagination.Page(c.Request.Context(), h.alerts.PageSource(filter), pageRequest(c))
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	PageResponse(c, page)
}

// Acknowledge handles POST /api/v1/alerts/:id/acknowledge
func (h *AlertHandler) Acknowledge(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req AcknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponseFromError(c, errors.NewValidationError("acknowledged_by is required"))
		return
	}
	alert, err := h.lifecycle.Acknowledge(c.Request.Context(), id, req.AcknowledgedBy)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, alert)
}

// Resolve handles POST /api/v1/alerts/:id/resolve
func (h *AlertHandler) Resolve(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	alert, err := h.lifecycle.Resolve(c.Request.Context(), id)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, alert)
}

// alertFilter reads target_id, unresolved, unacknowledged and min_severity.
// min_severity accepts a name (Warning) or its number.
func alertFilter(c *gin.Context) (database.AlertFilter, error) {
	var filter database.AlertFilter

	if v := c.Query("target_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return filter, errors.NewValidationError("target_id must be an integer")
		}
		filter.TargetID = &id
	}

	var err error
	if filter.UnresolvedOnly, err = queryBool(c, "unresolved"); err != nil {
		return filter, err
	}
	if filter.UnacknowledgedOnly, err = queryBool(c, "unacknowledged"); err != nil {
		return filter, err
	}

	if v := c.Query("min_severity"); v != "" {
		if n, convErr := strconv.Atoi(v); convErr == nil {
			filter.MinSeverity = types.Severity(n)
		} else if filter.MinSeverity, err = types.ParseSeverity(v); err != nil {
			return filter, errors.NewValidationError(err.Error())
		}
	}
	return filter, nil
}

func queryBool(c *gin.Context, key string) (bool, error) {
	v := c.Query(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.NewValidationError(key + " must be a boolean")
	}
	return b, nil
}
