package staff

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-onboarding/internal/handler"
	"github.com/jwalitptl/clinic-onboarding/internal/model"
	"github.com/jwalitptl/clinic-onboarding/internal/service/onboarding"
	"github.com/jwalitptl/clinic-onboarding/pkg/httputil"
)

type Handler struct {
	workflow *onboarding.Workflow
}

func NewHandler(workflow *onboarding.Workflow) *Handler {
	return &Handler{workflow: workflow}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/clinics/:id/staff", h.ListStaff)

	staff := r.Group("/staff/:id")
	{
		staff.GET("", h.GetStaff)
		staff.POST("/suspend", h.SuspendStaff)
		staff.POST("/terminate", h.TerminateStaff)
		staff.POST("/reactivate", h.ReactivateStaff)
		staff.PUT("/permissions", h.UpdatePermissions)
	}
}

func (h *Handler) ListStaff(c *gin.Context) {
	clinicID, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}

	members, err := h.workflow.ListStaff(c.Request.Context(), clinicID, actor)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, members)
}

func (h *Handler) GetStaff(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}

	m, err := h.workflow.GetStaff(c.Request.Context(), id, actor)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, m)
}

func (h *Handler) SuspendStaff(c *gin.Context) {
	h.transition(c, h.workflow.SuspendStaff)
}

func (h *Handler) TerminateStaff(c *gin.Context) {
	h.transition(c, h.workflow.TerminateStaff)
}

func (h *Handler) ReactivateStaff(c *gin.Context) {
	h.transition(c, h.workflow.ReactivateStaff)
}

func (h *Handler) UpdatePermissions(c *gin.Context) {
	var perms model.Permissions
	if !handler.BindJSON(c, &perms) {
		return
	}
	h.transition(c, func(ctx context.Context, id uuid.UUID, actor *model.Actor) (*onboarding.Result[*model.StaffMembership], error) {
		return h.workflow.UpdateStaffPermissions(ctx, id, actor, perms)
	})
}

type transitionFunc func(context.Context, uuid.UUID, *model.Actor) (*onboarding.Result[*model.StaffMembership], error)

func (h *Handler) transition(c *gin.Context, apply transitionFunc) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}

	res, err := apply(c.Request.Context(), id, actor)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, res.Value, res.Warnings...)
}
