package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-onboarding/internal/clock"
	"github.com/jwalitptl/clinic-onboarding/internal/handler/clinic"
	"github.com/jwalitptl/clinic-onboarding/internal/handler/health"
	"github.com/jwalitptl/clinic-onboarding/internal/handler/invitation"
	"github.com/jwalitptl/clinic-onboarding/internal/handler/staff"
	"github.com/jwalitptl/clinic-onboarding/internal/middleware"
	"github.com/jwalitptl/clinic-onboarding/internal/model"
	"github.com/jwalitptl/clinic-onboarding/internal/repository/memory"
	"github.com/jwalitptl/clinic-onboarding/internal/service/authz"
	invitationsvc "github.com/jwalitptl/clinic-onboarding/internal/service/invitation"
	"github.com/jwalitptl/clinic-onboarding/internal/service/notification"
	"github.com/jwalitptl/clinic-onboarding/internal/service/onboarding"
	staffsvc "github.com/jwalitptl/clinic-onboarding/internal/service/staff"
	"github.com/jwalitptl/clinic-onboarding/internal/service/verification"
	"github.com/jwalitptl/clinic-onboarding/pkg/auth"
	"github.com/jwalitptl/clinic-onboarding/pkg/logger"
	"github.com/jwalitptl/clinic-onboarding/pkg/metrics"
	"github.com/jwalitptl/clinic-onboarding/pkg/security"
	"github.com/jwalitptl/clinic-onboarding/pkg/validator"
)

type envelope struct {
	Status   string          `json:"status"`
	Data     json.RawMessage `json:"data"`
	Warnings []string        `json:"warnings"`
	Error    *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type server struct {
	engine *gin.Engine
	store  *memory.Store
	tokens auth.JWTService
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	clk := clock.NewFakeClock(time.Now())
	v := validator.New()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg, "clinic_onboarding", "test")

	wf := onboarding.NewWorkflow(
		verification.NewService(store.Clinics(), clk, v, m),
		invitationsvc.NewService(store.Invitations(), store.Clinics(), security.NewTokenIssuer(), clk, v, m, 0),
		staffsvc.NewService(store.Memberships(), clk, m),
		notification.NewOutboxDispatcher(store.Outbox(), clk, m),
		logger.Nop(),
		onboarding.Config{AcceptURL: "https://portal.example/accept"},
	)

	tokens, err := auth.NewJWTService(auth.Config{Secret: "test-secret", Issuer: "clinic-onboarding", TokenTTL: time.Hour})
	require.NoError(t, err)

	r := NewRouter(
		middleware.NewAuthMiddleware(tokens, authz.NewResolver(store.Memberships())),
		Handlers{
			Clinic:     clinic.NewHandler(wf),
			Invitation: invitation.NewHandler(wf),
			Staff:      staff.NewHandler(wf),
			Health:     health.NewHandler(nil),
		},
		RouterConfig{
			RateLimitOff:  true,
			CORSConfig:    middleware.DefaultCORSConfig(nil),
			MetricsPrefix: "clinic_onboarding_http",
			MetricsPath:   "/metrics",
			Registry:      reg,
			Logger:        zerolog.Nop(),
		},
	)
	return &server{engine: r.Engine(), store: store, tokens: tokens}
}

func (s *server) bearer(t *testing.T, p auth.Principal) string {
	t.Helper()
	token, err := s.tokens.GenerateAccessToken(p)
	require.NoError(t, err)
	return token
}

func (s *server) do(t *testing.T, method, path, bearer string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w.Code, env
}

// lastToken pulls the plaintext token out of the newest invitation email.
func (s *server) lastToken(t *testing.T) string {
	t.Helper()
	events := s.store.OutboxEvents()
	for i := len(events) - 1; i >= 0; i-- {
		var req model.NotificationRequest
		require.NoError(t, json.Unmarshal(events[i].Payload, &req))
		if req.Template == model.TemplateInvitationSent {
			return req.Payload["token"]
		}
	}
	t.Fatal("no invitation_sent notification recorded")
	return ""
}

func TestOnboardingFlow(t *testing.T) {
	s := newServer(t)
	admin := s.bearer(t, auth.Principal{UserID: uuid.New(), PlatformAdmin: true})
	ownerID := uuid.New()
	owner := s.bearer(t, auth.Principal{UserID: ownerID, Email: "owner@clinic.org"})

	code, env := s.do(t, http.MethodPost, "/api/v1/clinics", "", map[string]interface{}{
		"name":          "Harbor Clinic",
		"location":      "1 Pier Rd",
		"contact_email": "office@harbor.org",
		"owner": map[string]string{
			"work_email": "owner@clinic.org",
			"first_name": "Olu",
			"last_name":  "Ade",
		},
	})
	require.Equal(t, http.StatusCreated, code, env)
	var c model.Clinic
	require.NoError(t, json.Unmarshal(env.Data, &c))
	assert.Equal(t, model.VerificationStatusPending, c.VerificationStatus)
	base := "/api/v1/clinics/" + c.ID.String()

	// owner accepts the invitation mailed at registration
	ownerToken := s.lastToken(t)
	code, env = s.do(t, http.MethodPost, "/api/v1/invitations/resolve", "", map[string]string{"token": ownerToken})
	require.Equal(t, http.StatusOK, code, env)
	code, env = s.do(t, http.MethodPost, "/api/v1/invitations/accept", owner, map[string]string{"token": ownerToken})
	require.Equal(t, http.StatusCreated, code, env)

	// the owner now manages staff
	nurse := map[string]interface{}{
		"work_email": "nurse@clinic.org",
		"first_name": "Ngozi",
		"last_name":  "Eze",
		"staff_role": "nurse",
	}
	code, env = s.do(t, http.MethodPost, base+"/invitations", owner, nurse)
	require.Equal(t, http.StatusCreated, code, env)
	var inv model.StaffInvitation
	require.NoError(t, json.Unmarshal(env.Data, &inv))
	assert.NotEmpty(t, inv.Token)

	code, env = s.do(t, http.MethodPost, base+"/invitations", owner, nurse)
	assert.Equal(t, http.StatusConflict, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "duplicate_invitation", env.Error.Code)

	// only platform admins verify
	code, env = s.do(t, http.MethodPost, base+"/approve", owner, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, env = s.do(t, http.MethodPost, base+"/approve", admin, nil)
	require.Equal(t, http.StatusOK, code, env)
	require.NoError(t, json.Unmarshal(env.Data, &c))
	assert.Equal(t, model.VerificationStatusVerified, c.VerificationStatus)

	code, env = s.do(t, http.MethodPost, base+"/reject", admin, map[string]string{"notes": "late"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_transition", env.Error.Code)

	// the nurse declines; the token is spent
	code, _ = s.do(t, http.MethodPost, "/api/v1/invitations/decline", "", map[string]string{"token": inv.Token})
	assert.Equal(t, http.StatusOK, code)
	code, env = s.do(t, http.MethodPost, "/api/v1/invitations/decline", "", map[string]string{"token": inv.Token})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "token_already_used", env.Error.Code)

	code, env = s.do(t, http.MethodGet, base+"/staff", owner, nil)
	require.Equal(t, http.StatusOK, code)
	var members []model.StaffMembership
	require.NoError(t, json.Unmarshal(env.Data, &members))
	require.Len(t, members, 1)
	assert.Equal(t, ownerID, members[0].UserID)
	assert.Equal(t, model.StaffRoleAdministrator, members[0].StaffRole)
}

func TestRequestErrors(t *testing.T) {
	s := newServer(t)
	admin := s.bearer(t, auth.Principal{UserID: uuid.New(), PlatformAdmin: true})

	tests := []struct {
		name   string
		method string
		path   string
		bearer string
		body   interface{}
		want   int
		code   string
	}{
		{"unauthenticated", http.MethodGet, "/api/v1/clinics/" + uuid.NewString(), "", nil, http.StatusUnauthorized, "unauthenticated"},
		{"bad id", http.MethodGet, "/api/v1/clinics/not-a-uuid", admin, nil, http.StatusBadRequest, "validation_error"},
		{"unknown clinic", http.MethodGet, "/api/v1/clinics/" + uuid.NewString(), admin, nil, http.StatusNotFound, "not_found"},
		{"invalid registration", http.MethodPost, "/api/v1/clinics", "", map[string]string{"name": "x"}, http.StatusBadRequest, "validation_error"},
		{"unknown token", http.MethodPost, "/api/v1/invitations/resolve", "", map[string]string{"token": "nope"}, http.StatusNotFound, "not_found"},
		{"missing token", http.MethodPost, "/api/v1/invitations/decline", "", map[string]string{}, http.StatusBadRequest, "validation_error"},
		{"accept needs auth", http.MethodPost, "/api/v1/invitations/accept", "", map[string]string{"token": "x"}, http.StatusUnauthorized, "unauthenticated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := s.do(t, tt.method, tt.path, tt.bearer, tt.body)
			assert.Equal(t, tt.want, code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestMetricsAndHealth(t *testing.T) {
	s := newServer(t)

	code, _ := s.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "clinic_onboarding_http_requests_total")
}
