package middleware

import (
	"errors"
	"net/http"
	"strings"

	"BookEmpire-server/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// CurrentUserKey holds the authenticated *models.User in the gin context.
const CurrentUserKey = "current_user"

var errMissingToken = errors.New("missing session token")

// Claims is the session token issued by the identity provider.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

type AuthConfig struct {
	Secret     string
	CookieName string
}

// Auth verifies the session token and loads the caller's account, creating
// a free-tier user the first time a subject is seen.
func Auth(db *gorm.DB, cfg AuthConfig, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := sessionToken(c, cfg.CookieName)
		if err != nil {
			unauthorized(c, "authentication required")
			return
		}

		claims, err := ParseToken(raw, cfg.Secret)
		if err != nil {
			unauthorized(c, "invalid or expired session")
			return
		}

		user, err := models.FindOrCreateUser(db, claims.Subject, claims.Email, claims.Name)
		if err != nil {
			log.Error().Err(err).Str("subject", claims.Subject).Msg("load user")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		c.Set(CurrentUserKey, user)
		c.Next()
	}
}

// ParseToken validates an HS256 token and returns its claims.
func ParseToken(raw, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// CurrentUser returns the user set by Auth. It panics when called on a
// route that is not behind Auth.
func CurrentUser(c *gin.Context) *models.User {
	return c.MustGet(CurrentUserKey).(*models.User)
}

func sessionToken(c *gin.Context, cookieName string) (string, error) {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") && parts[1] != "" {
			return strings.TrimSpace(parts[1]), nil
		}
		return "", errMissingToken
	}
	if cookieName != "" {
		if v, err := c.Cookie(cookieName); err == nil && v != "" {
			return v, nil
		}
	}
	return "", errMissingToken
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}
