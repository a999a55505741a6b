package api

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/servermon/pkg/errors"
	"github.com/NikhilSetiya/servermon/pkg/pagination"
	"github.com/NikhilSetiya/servermon/pkg/types"
)

// TargetStore is satisfied by *database.TargetRepository
type TargetStore interface {
	Get(ctx context.Context, id int64) (*types.Target, error)
	PageSource() pagination.Source[types.Target]
}

// SampleHistory is satisfied by *database.SampleRepository
type SampleHistory interface {
	PageSource(targetID int64) pagination.Source[types.Sample]
}

// Refresher collects one target outside the schedule
type Refresher interface {
	CollectNow(ctx context.Context, target types.Target) (types.Sample, error)
}

// TargetHandler serves targets and their samples
type TargetHandler struct {
	targets   TargetStore
	samples   SampleHistory
	refresher Refresher
}

// NewTargetHandler creates a target handler
func NewTargetHandler(targets TargetStore, samples SampleHistory, refresher Refresher) *TargetHandler {
	return &TargetHandler{targets: targets, samples: samples, refresher: refresher}
}

// ListTargets handles GET /api/v1/targets
func (h *TargetHandler) ListTargets(c *gin.Context) {
	page, err := pagination.Page(c.Request.Context(), h.targets.PageSource(), pageRequest(c))
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	PageResponse(c, page)
}

// ListSamples handles GET /api/v1/targets/:id/samples
func (h *TargetHandler) ListSamples(c *gin.Context) {
	target, ok := h.target(c)
	if !ok {
		return
	}
	page, err := pagination.Page(c.Request.Context(), h.samples.PageSource(target.ID), pageRequest(c))
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	PageResponse(c, page)
}

// Collect handles POST /api/v1/targets/:id/collect
func (h *TargetHandler) Collect(c *gin.Context) {
	target, ok := h.target(c)
	if !ok {
		return
	}
	sample, err := h.refresher.CollectNow(c.Request.Context(), *target)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, sample)
}

func (h *TargetHandler) target(c *gin.Context) (*types.Target, bool) {
	id, ok := pathID(c)
	if !ok {
		return nil, false
	}
	target, err := h.targets.Get(c.Request.Context(), id)
	if err != nil {
		ErrorResponseFromError(c, err)
		return nil, false
	}
	return target, true
}

// pageRequest reads cursor, page_size and direction from the query string
func pageRequest(c *gin.Context) pagination.Request {
	size, _ := strconv.Atoi(c.Query("page_size"))
	return pagination.Request{
		Cursor:    c.Query("cursor"),
		PageSize:  size,
		Direction: pagination.ParseDirection(c.Query("direction")),
	}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		ErrorResponseFromError(c, errors.NewValidationError("id must be a positive integer"))
		return 0, false
	}
	return id, true
}
