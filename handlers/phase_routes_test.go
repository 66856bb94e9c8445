package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fantasy-match-engine/services"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeRunner struct {
	resolveErr  error
	clearReason string
	calls       []string
}

func (f *fakeRunner) Create(ctx context.Context) (services.CreateSummary, error) {
	f.calls = append(f.calls, services.PhaseCreate)
	return services.CreateSummary{AccountsProcessed: 11, MatchesCreated: 6, AIMatches: 1}, nil
}

func (f *fakeRunner) Resolve(ctx context.Context) (services.ResolveSummary, error) {
	f.calls = append(f.calls, services.PhaseResolve)
	return services.ResolveSummary{Resolved: 4, Failed: 1}, f.resolveErr
}

func (f *fakeRunner) Reconcile(ctx context.Context) (services.ReconcileSummary, error) {
	f.calls = append(f.calls, services.PhaseReconcile)
	return services.ReconcileSummary{HistoryScanned: 4, AccountsUpdated: 8}, nil
}

func (f *fakeRunner) Clear(ctx context.Context, reason string) (services.ClearSummary, error) {
	f.calls = append(f.calls, services.PhaseClear)
	f.clearReason = reason
	return services.ClearSummary{PendingCleared: 3, HistoryCleared: 5}, nil
}

func newTestApp(t *testing.T, runner PhaseRunner, enableAdmin bool) *fiber.App {
	app := fiber.New()
	SetupPhaseRoutes(app, runner, RouteOptions{
		EnableAdmin:  enableAdmin,
		GatewayToken: "gw-token",
		Logger:       zaptest.NewLogger(t),
	})
	return app
}

func adminRequest(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer gw-token")
	req.Header.Set("X-User-ID", "op-1")
	req.Header.Set("X-User-Roles", "user, admin")
	return req
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestApp(t, &fakeRunner{}, false)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode(t, resp)["status"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAdminRoutesDisabledInProduction(t *testing.T) {
	runner := &fakeRunner{}
	app := newTestApp(t, runner, false)

	resp, err := app.Test(adminRequest("/admin/phases/create", ""))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Empty(t, runner.calls)
}

func TestAdminRoutesRequireGatewayToken(t *testing.T) {
	runner := &fakeRunner{}
	app := newTestApp(t, runner, true)

	req := adminRequest("/admin/phases/create", "")
	req.Header.Del("Authorization")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req = adminRequest("/admin/phases/create", "")
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	assert.Empty(t, runner.calls)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	runner := &fakeRunner{}
	app := newTestApp(t, runner, true)

	req := adminRequest("/admin/phases/create", "")
	req.Header.Set("X-User-Roles", "user")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req = adminRequest("/admin/phases/create", "")
	req.Header.Del("X-User-ID")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	assert.Empty(t, runner.calls)
}

func TestTriggerPhases(t *testing.T) {
	runner := &fakeRunner{}
	app := newTestApp(t, runner, true)

	resp, err := app.Test(adminRequest("/admin/phases/create", ""))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.EqualValues(t, 6, body["matches_created"])
	assert.EqualValues(t, 1, body["ai_matches"])

	resp, err = app.Test(adminRequest("/admin/phases/resolve", ""))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 4, decode(t, resp)["resolved"])

	resp, err = app.Test(adminRequest("/admin/phases/reconcile", ""))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 8, decode(t, resp)["accounts_updated"])

	assert.Equal(t, []string{services.PhaseCreate, services.PhaseResolve, services.PhaseReconcile}, runner.calls)
}

func TestResolveConfigErrorIsUnavailable(t *testing.T) {
	app := newTestApp(t, &fakeRunner{resolveErr: services.ErrSimulationConfig}, true)

	resp, err := app.Test(adminRequest("/admin/phases/resolve", ""))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "resolve phase failed", decode(t, resp)["error"])
}

func TestResolveStoreErrorIsInternal(t *testing.T) {
	app := newTestApp(t, &fakeRunner{resolveErr: errors.New("connection reset")}, true)

	resp, err := app.Test(adminRequest("/admin/phases/resolve", ""))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "connection reset", decode(t, resp)["cause"])
}

func TestClearRequiresConfirmation(t *testing.T) {
	runner := &fakeRunner{}
	app := newTestApp(t, runner, true)

	resp, err := app.Test(adminRequest("/admin/phases/clear", `{"reason":"oops"}`))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, runner.calls)

	resp, err = app.Test(adminRequest("/admin/phases/clear", `{"confirm":true,"reason":"season 3 reset"}`))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 5, decode(t, resp)["history_cleared"])
	assert.Equal(t, "season 3 reset", runner.clearReason)
}

func TestClearDefaultsReasonToOperator(t *testing.T) {
	runner := &fakeRunner{}
	app := newTestApp(t, runner, true)

	resp, err := app.Test(adminRequest("/admin/phases/clear", `{"confirm":true}`))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "manual clear by op-1", runner.clearReason)
}
