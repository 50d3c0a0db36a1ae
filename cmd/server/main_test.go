package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	httpHandlers "github.com/subculture-collective/discord-spywatcher-sub002/internal/adapters/http/handlers"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/adapters/storage/memory"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/adapters/storage/sqlite"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/config"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/services"
)

func newTestRouter(t *testing.T) (http.Handler, *services.AbuseDetectorService) {
	t.Helper()

	counters := memory.New()
	blocks, err := sqlite.Open(sqlite.Config{Path: filepath.Join(t.TempDir(), "admission.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = blocks.Close() })

	scopes := services.DefaultScopes()
	for i := range scopes {
		if scopes[i].Scope == "public" {
			scopes[i].Requests = 2
		}
	}

	gate, err := services.NewIPGateService(counters, blocks, nil)
	require.NoError(t, err)
	tiers := services.NewTierCache(blocks, time.Minute, nil)
	limiter, err := services.NewRateLimiterService(counters,
		services.NewDefaultLimitResolver(tiers, domain.DefaultTierLimits()),
		services.Config{Scopes: scopes, Audit: blocks}, nil)
	require.NoError(t, err)
	quotas, err := services.NewQuotaService(counters, services.QuotaConfig{Audit: blocks}, nil)
	require.NoError(t, err)
	abuse, err := services.NewAbuseDetectorService(counters, gate, nil, services.DefaultAbuseConfig(), nil)
	require.NoError(t, err)

	router := newRouter(routerDeps{
		cfg:      config.Config{},
		logger:   zap.NewNop(),
		gate:     gate,
		limiter:  limiter,
		quotas:   quotas,
		quotaMgr: quotas,
		tiers:    tiers,
		abuse:    abuse,
		health:   map[string]httpHandlers.Pinger{"counters": counters, "blocks": blocks},
	})
	t.Cleanup(abuse.Wait)
	return router, abuse
}

func serve(h http.Handler, method, path, remote string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remote
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var adminHeaders = map[string]string{"X-User-ID": "admin-1", "X-User-Role": "ADMIN"}

func TestRouter_RepeatedRateLimitEscalatesToTempBlock(t *testing.T) {
	router, _ := newTestRouter(t)
	const attacker = "203.0.113.5:4000"

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/api/public/feed", attacker, nil).Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/api/public/feed", attacker, nil).Code)

	for i := 0; i < 10; i++ {
		rec := serve(router, http.MethodGet, "/api/public/feed", attacker, nil)
		require.Equal(t, http.StatusTooManyRequests, rec.Code, "request %d", i+3)
	}

	rec := serve(router, http.MethodGet, "/api/public/feed", attacker, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = serve(router, http.MethodGet, "/ip-management/check/203.0.113.5", "10.0.0.9:1", adminHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"temp_blocked"`)
	assert.Contains(t, rec.Body.String(), `"violations":0`)
}

func TestRouter_AdminSurfaceRequiresAdmin(t *testing.T) {
	router, _ := newTestRouter(t)

	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/ip-management/blocked", "10.0.0.9:1", nil).Code)
	assert.Equal(t, http.StatusForbidden, serve(router, http.MethodGet, "/monitoring/rate-limits", "10.0.0.9:1",
		map[string]string{"X-User-ID": "u1", "X-User-Role": "USER"}).Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/monitoring/rate-limits", "10.0.0.9:1", adminHeaders).Code)
}

func TestRouter_FreeTierAdminCategoryIsForbidden(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := serve(router, http.MethodGet, "/api/admin/reports", "10.0.0.7:1",
		map[string]string{"X-User-ID": "u1", "X-User-Role": "ADMIN", "X-Subscription-Tier": "FREE"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-Quota-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-Quota-Remaining"))

	rec = serve(router, http.MethodGet, "/api/analytics/summary", "10.0.0.7:1",
		map[string]string{"X-User-ID": "u1", "X-Subscription-Tier": "FREE"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100", rec.Header().Get("X-Quota-Limit"))
	assert.Equal(t, "analytics", rec.Header().Get("X-Quota-Category"))
}

func TestRouter_CategoryRateLimitRunsBeforeQuota(t *testing.T) {
	router, _ := newTestRouter(t)
	user := map[string]string{"X-User-ID": "u-public", "X-Subscription-Tier": "FREE"}

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/api/public/x", "10.0.0.8:1", user).Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/api/public/x", "10.0.0.8:1", user).Code)
	denied := serve(router, http.MethodGet, "/api/public/x", "10.0.0.8:1", user)
	require.Equal(t, http.StatusTooManyRequests, denied.Code)
	assert.Empty(t, denied.Header().Get("X-Quota-Limit"))

	rec := serve(router, http.MethodGet, "/quota/usage", "10.0.0.8:1", user)
	require.Equal(t, http.StatusOK, rec.Code)

	var usage domain.QuotaUsage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usage))
	assert.EqualValues(t, 2, usage.Categories[domain.CategoryPublic].Used)
	assert.EqualValues(t, 2, usage.Categories[domain.CategoryTotal].Used)
}

func TestRouter_HealthAndDemoEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/healthz", "10.0.0.1:1", nil).Code)

	rec := serve(router, http.MethodGet, "/test", "10.0.0.1:1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "Request successful"))
	assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
}
