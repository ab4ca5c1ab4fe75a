package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithIdentity(roles []string, practitionerID string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(withIdentity(req.Context(), "user-1", roles, practitionerID))
	return e.NewContext(req, httptest.NewRecorder())
}

func noContent(c echo.Context) error { return c.NoContent(http.StatusNoContent) }

func TestRequireRole_Allowed(t *testing.T) {
	c := contextWithIdentity([]string{"booking-service"}, "")
	if err := RequireRole("booking-service", "support")(noContent)(c); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	c := contextWithIdentity([]string{"client"}, "")
	expectStatus(t, RequireRole("booking-service")(noContent)(c), http.StatusForbidden)
}

func TestRequireRole_AdminBypass(t *testing.T) {
	c := contextWithIdentity([]string{"admin"}, "")
	if err := RequireRole("booking-service")(noContent)(c); err != nil {
		t.Error("admin should bypass role checks")
	}
}

func TestRequireSelfOrRole(t *testing.T) {
	const own = "8d0c7b0e-5d7f-4f0e-9d61-1c1c3a4e2b10"
	tests := []struct {
		name           string
		roles          []string
		practitionerID string
		param          string
		allowed        bool
	}{
		{"own id", []string{"practitioner"}, own, own, true},
		{"own id upper case", []string{"practitioner"}, own, "8D0C7B0E-5D7F-4F0E-9D61-1C1C3A4E2B10", true},
		{"other practitioner", []string{"practitioner"}, own, "00000000-0000-0000-0000-000000000001", false},
		{"service role", []string{"booking-service"}, "", own, true},
		{"client", []string{"client"}, "", own, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := contextWithIdentity(tt.roles, tt.practitionerID)
			c.SetParamNames("id")
			c.SetParamValues(tt.param)
			err := RequireSelfOrRole("id", "booking-service")(noContent)(c)
			if tt.allowed && err != nil {
				t.Errorf("expected access, got %v", err)
			}
			if !tt.allowed {
				expectStatus(t, err, http.StatusForbidden)
			}
		})
	}
}

func TestUserIDFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), UserIDKey, "user-123")
	if uid := UserIDFromContext(ctx); uid != "user-123" {
		t.Errorf("expected user-123, got %s", uid)
	}
	if empty := UserIDFromContext(context.Background()); empty != "" {
		t.Errorf("expected empty string, got %s", empty)
	}
}
