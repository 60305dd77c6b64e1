package routers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"BookEmpire-server/middleware"
	"BookEmpire-server/models"
	"BookEmpire-server/routers/api"
	"BookEmpire-server/service"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, models.Migrate(db))

	h := api.NewHandler(api.Deps{
		DB:      db,
		Billing: service.NewBilling(db, nil, service.BillingConfig{WebhookSecret: "whsec_test"}, zerolog.Nop()),
		Log:     zerolog.Nop(),
	})
	return NewRouter(h, Options{
		DB:          db,
		Auth:        middleware.AuthConfig{Secret: "secret", CookieName: "__session"},
		RateLimiter: middleware.NewRateLimiter(1, 1),
		Log:         zerolog.Nop(),
	})
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "bookempire_http_requests_total")
}

func TestAPIRequiresSession(t *testing.T) {
	r := newTestRouter(t)
	for _, path := range []string{"/api/books", "/api/me", "/api/books/x/export"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestWebhookSkipsSessionAuth(t *testing.T) {
	r := newTestRouter(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", strings.NewReader(`{}`))
	r.ServeHTTP(w, req)
	// Rejected for the signature, not for the missing session.
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
