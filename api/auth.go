package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// streamTokenTTL bounds how long an event stream URL stays usable
const streamTokenTTL = 5 * time.Minute

// Auth checks the static API token and issues stream tokens signed with it.
// An empty token disables authentication.
type Auth struct {
	token string
	now   func() time.Time
}

type streamClaims struct {
	jwt.RegisteredClaims
}

func NewAuth(token string) *Auth {
	return &Auth{token: token, now: time.Now}
}

// Enabled reports whether requests must carry a token
func (a *Auth) Enabled() bool {
	return a.token != ""
}

func bearerToken(c *gin.Context) string {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func (a *Auth) validAPIToken(token string) bool {
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) == 1
}

// Middleware requires the API token as a bearer token
func (a *Auth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		if !a.validAPIToken(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		c.Next()
	}
}

// StreamMiddleware accepts the API token or a stream token issued for the
// job in the :id route parameter. EventSource clients cannot set headers,
// so the token may come in the query string.
func (a *Auth) StreamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}
		if a.validAPIToken(bearerToken(c)) {
			c.Next()
			return
		}
		token := c.Query("token")
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		if a.validAPIToken(token) {
			c.Next()
			return
		}
		if err := a.VerifyStreamToken(token, c.Param("id")); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		c.Next()
	}
}

// GenerateStreamToken signs a token that opens the event stream of one job
func (a *Auth) GenerateStreamToken(jobID string) (string, time.Time, error) {
	now := a.now()
	expires := now.Add(streamTokenTTL)
	claims := streamClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   jobID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString([]byte(a.token))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return ss, expires, nil
}

// VerifyStreamToken checks the signature, expiry and job of a stream token
func (a *Auth) VerifyStreamToken(tokenString, jobID string) error {
	claims := &streamClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(a.token), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	if claims.Subject != jobID {
		return fmt.Errorf("token was issued for job %s", claims.Subject)
	}
	return nil
}
