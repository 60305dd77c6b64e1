package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"BookEmpire-server/models"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "test-secret"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, models.Migrate(db))
	return db
}

func signToken(t *testing.T, secret, subject string, expires time.Time) string {
	t.Helper()
	claims := Claims{
		Email: "ada@example.com",
		Name:  "Ada Writer",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func authRouter(db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Auth(db, AuthConfig{Secret: testSecret, CookieName: "session"}, zerolog.Nop()))
	r.GET("/me", func(c *gin.Context) {
		u := CurrentUser(c)
		c.JSON(http.StatusOK, gin.H{"id": u.ID, "tier": u.SubscriptionTier})
	})
	return r
}

func TestAuthBearerProvisionsUser(t *testing.T) {
	db := newTestDB(t)
	r := authRouter(db)
	token := signToken(t, testSecret, "auth|42", time.Now().Add(time.Hour))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"tier":"free"`)
	}

	var count int64
	require.NoError(t, db.Model(&models.User{}).Where("external_auth_id = ?", "auth|42").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestAuthCookie(t *testing.T) {
	r := authRouter(newTestDB(t))
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: signToken(t, testSecret, "auth|cookie", time.Now().Add(time.Hour))})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRejects(t *testing.T) {
	r := authRouter(newTestDB(t))
	cases := map[string]string{
		"missing":      "",
		"malformed":    "Token abc",
		"wrong secret": "Bearer " + signToken(t, "other-secret", "auth|1", time.Now().Add(time.Hour)),
		"expired":      "Bearer " + signToken(t, testSecret, "auth|1", time.Now().Add(-time.Minute)),
		"no subject":   "Bearer " + signToken(t, testSecret, "", time.Now().Add(time.Hour)),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestParseTokenRejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "auth|1"}}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = ParseToken(s, testSecret)
	assert.Error(t, err)
}

func TestRateLimitPerUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(0.001, 2)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(CurrentUserKey, &models.User{ID: c.GetHeader("X-User")})
		c.Next()
	})
	r.Use(RateLimit(rl))
	r.POST("/generate", func(c *gin.Context) { c.Status(http.StatusCreated) })

	do := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/generate", nil)
		req.Header.Set("X-User", user)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusCreated, do("a"))
	assert.Equal(t, http.StatusCreated, do("a"))
	assert.Equal(t, http.StatusTooManyRequests, do("a"))
	assert.Equal(t, http.StatusCreated, do("b"))
}

func TestRateLimiterSweep(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.Allow("user:a")
	rl.Allow("user:b")
	rl.visitors["user:a"].lastSeen = time.Now().Add(-time.Hour)
	assert.Equal(t, 1, rl.Sweep())
	assert.Len(t, rl.visitors, 1)
}
