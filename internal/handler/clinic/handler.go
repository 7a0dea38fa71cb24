package clinic

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

// RegisterPublicRoutes mounts clinic registration, which needs no account.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/clinics", h.SubmitClinic)
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	clinics := r.Group("/clinics/:id")
	{
		clinics.GET("", h.GetClinic)
		clinics.POST("/review", h.StartReview)
		clinics.POST("/approve", h.ApproveClinic)
		clinics.POST("/reject", h.RejectClinic)
		clinics.POST("/reopen", h.ReopenClinic)
	}
}

type rejectRequest struct {
	Notes string `json:"notes"`
}

func (h *Handler) SubmitClinic(c *gin.Context) {
	var reg model.ClinicRegistration
	if !handler.BindJSON(c, &reg) {
		return
	}

	res, err := h.workflow.SubmitClinic(c.Request.Context(), &reg)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	status := http.StatusCreated
	if reg.ClinicID != nil {
		status = http.StatusOK
	}
	httputil.RespondWithSuccess(c, status, res.Value, res.Warnings...)
}

func (h *Handler) GetClinic(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	clinic, err := h.workflow.GetClinic(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, clinic)
}

func (h *Handler) StartReview(c *gin.Context) {
	h.transition(c, h.workflow.StartReview)
}

func (h *Handler) ApproveClinic(c *gin.Context) {
	h.transition(c, h.workflow.ApproveClinic)
}

func (h *Handler) ReopenClinic(c *gin.Context) {
	h.transition(c, h.workflow.ReopenClinic)
}

func (h *Handler) RejectClinic(c *gin.Context) {
	var req rejectRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	h.transition(c, func(ctx context.Context, id uuid.UUID, actor *model.Actor) (*onboarding.Result[*model.Clinic], error) {
		return h.workflow.RejectClinic(ctx, id, actor, req.Notes)
	})
}

type transitionFunc func(context.Context, uuid.UUID, *model.Actor) (*onboarding.Result[*model.Clinic], error)

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
