package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/config"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/services"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/tenant"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDirectory struct {
	orgs   map[uuid.UUID]uuid.UUID
	admins map[uuid.UUID]bool
}

func (s stubDirectory) PrimaryOrganization(_ context.Context, userID uuid.UUID) (uuid.UUID, error) {
	if org, ok := s.orgs[userID]; ok {
		return org, nil
	}
	return uuid.Nil, services.ErrOrganizationNotFound
}

func (s stubDirectory) IsPlatformAdmin(_ context.Context, userID uuid.UUID) (bool, error) {
	return s.admins[userID], nil
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	claims["exp"] = time.Now().Add(time.Hour).Unix()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func call(t *testing.T, app *fiber.App, path string, headers map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestOrganizationScope(t *testing.T) {
	cfg := &config.Config{JWTSecret: "test-secret"}
	member, orphan := uuid.New(), uuid.New()
	claimedOrg, primaryOrg := uuid.New(), uuid.New()
	dir := stubDirectory{orgs: map[uuid.UUID]uuid.UUID{member: primaryOrg}}

	app := fiber.New()
	app.Get("/org", JWTProtected(cfg), OrganizationScope(dir), func(c *fiber.Ctx) error {
		orgID, err := tenant.GetOrganizationID(c)
		if err != nil {
			return err
		}
		return c.SendString(orgID.String())
	})

	claimed := signToken(t, cfg.JWTSecret, jwt.MapClaims{"sub": member.String(), "org_id": claimedOrg.String()})
	status, body := call(t, app, "/org", map[string]string{"Authorization": "Bearer " + claimed})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, claimedOrg.String(), body)

	fallback := signToken(t, cfg.JWTSecret, jwt.MapClaims{"sub": member.String()})
	status, body = call(t, app, "/org", map[string]string{"Authorization": "Bearer " + fallback})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, primaryOrg.String(), body)

	lost := signToken(t, cfg.JWTSecret, jwt.MapClaims{"sub": orphan.String()})
	status, _ = call(t, app, "/org", map[string]string{"Authorization": "Bearer " + lost})
	assert.Equal(t, http.StatusForbidden, status)
}

func TestAdminRequired(t *testing.T) {
	admin, listed, regular := uuid.New(), uuid.New(), uuid.New()
	cfg := &config.Config{
		JWTSecret:    "test-secret",
		AdminToken:   "ops-token",
		AdminUserIDs: " " + listed.String() + " ,",
		AdminEmails:  "ops@example.com",
	}
	dir := stubDirectory{admins: map[uuid.UUID]bool{admin: true}}

	app := fiber.New()
	app.Get("/admin", AdminJWT(cfg), AdminRequired(cfg, dir), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	bearer := func(claims jwt.MapClaims) map[string]string {
		return map[string]string{"Authorization": "Bearer " + signToken(t, cfg.JWTSecret, claims)}
	}

	cases := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"admin token", map[string]string{"X-Admin-Token": "ops-token"}, http.StatusNoContent},
		{"wrong admin token", map[string]string{"X-Admin-Token": "nope"}, http.StatusUnauthorized},
		{"platform admin role", bearer(jwt.MapClaims{"sub": admin.String()}), http.StatusNoContent},
		{"listed user id", bearer(jwt.MapClaims{"sub": listed.String()}), http.StatusNoContent},
		{"listed email", bearer(jwt.MapClaims{"sub": regular.String(), "email": "OPS@example.com"}), http.StatusNoContent},
		{"regular user", bearer(jwt.MapClaims{"sub": regular.String(), "email": "me@example.com"}), http.StatusForbidden},
		{"no credentials", nil, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, _ := call(t, app, "/admin", tc.headers)
			assert.Equal(t, tc.want, status)
		})
	}
}
