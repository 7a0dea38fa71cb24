package invitation

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-onboarding/internal/handler"
	"github.com/jwalitptl/clinic-onboarding/internal/middleware"
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

// RegisterPublicRoutes mounts the token endpoints an invitee reaches from
// the emailed link. Tokens travel in the body, never in the URL.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	invitations := r.Group("/invitations")
	{
		invitations.POST("/resolve", h.ResolveInvitation)
		invitations.POST("/decline", h.DeclineInvitation)
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/clinics/:id/invitations", h.InviteStaff)
	r.GET("/clinics/:id/invitations", h.ListInvitations)

	invitations := r.Group("/invitations")
	{
		invitations.POST("/accept", h.AcceptInvitation)
		invitations.POST("/:id/resend", h.ResendInvitation)
		invitations.POST("/:id/cancel", h.CancelInvitation)
	}
}

func (h *Handler) InviteStaff(c *gin.Context) {
	clinicID, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	var invitee model.Invitee
	if !handler.BindJSON(c, &invitee) {
		return
	}

	res, err := h.workflow.InviteStaff(c.Request.Context(), clinicID, actor, invitee)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, res.Value, res.Warnings...)
}

func (h *Handler) ListInvitations(c *gin.Context) {
	clinicID, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}

	invitations, err := h.workflow.ListInvitations(c.Request.Context(), clinicID, actor)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, invitations)
}

func (h *Handler) ResendInvitation(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}

	res, err := h.workflow.ResendInvitation(c.Request.Context(), id, actor)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, res.Value, res.Warnings...)
}

func (h *Handler) CancelInvitation(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}

	res, err := h.workflow.CancelInvitation(c.Request.Context(), id, actor)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, res.Value, res.Warnings...)
}

func (h *Handler) ResolveInvitation(c *gin.Context) {
	token, ok := handler.BindToken(c)
	if !ok {
		return
	}

	res, err := h.workflow.ResolveInvitation(c.Request.Context(), token)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, res.Value)
}

// AcceptInvitation binds the invitation to the authenticated caller.
func (h *Handler) AcceptInvitation(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		httputil.Abort(c, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}
	token, ok := handler.BindToken(c)
	if !ok {
		return
	}

	res, err := h.workflow.AcceptInvitation(c.Request.Context(), token, principal.UserID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, res.Value, res.Warnings...)
}

func (h *Handler) DeclineInvitation(c *gin.Context) {
	token, ok := handler.BindToken(c)
	if !ok {
		return
	}

	res, err := h.workflow.DeclineInvitation(c.Request.Context(), token)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, res.Value, res.Warnings...)
}
