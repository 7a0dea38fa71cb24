package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-onboarding/internal/middleware"
	"github.com/jwalitptl/clinic-onboarding/internal/model"
	apperrors "github.com/jwalitptl/clinic-onboarding/pkg/errors"
	"github.com/jwalitptl/clinic-onboarding/pkg/httputil"
)

var errMissingActor = errors.New("no authenticated actor in request context")

// ParseID reads a uuid path parameter, writing a validation error when it
// is malformed.
func ParseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		httputil.RespondWithError(c, apperrors.Validation("invalid "+param, err))
		return uuid.Nil, false
	}
	return id, true
}

// Actor returns the authenticated actor. Routes using it sit behind
// AuthMiddleware, so a missing actor is a wiring error.
func Actor(c *gin.Context) (*model.Actor, bool) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		httputil.RespondWithError(c, apperrors.Internal(errMissingActor))
		return nil, false
	}
	return actor, true
}

// BindJSON decodes the body into obj; field rules are enforced by the
// services, so only malformed JSON fails here.
func BindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		httputil.RespondWithError(c, apperrors.Validation("malformed request body", err))
		return false
	}
	return true
}

type tokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// BindToken decodes a {"token": "..."} body.
func BindToken(c *gin.Context) (string, bool) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.Validation("token is required", err))
		return "", false
	}
	return req.Token, true
}
