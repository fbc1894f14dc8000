package server

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dbmigration/keeper/internal/logging"
)

// Recovery returns a Gin middleware that recovers from panics and logs the stack.
func Recovery(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("Panic recovered", map[string]interface{}{
					"error":     fmt.Sprintf("%v", err),
					"stack":     string(debug.Stack()),
					"path":      c.Request.URL.Path,
					"method":    c.Request.Method,
					"client_ip": c.ClientIP(),
				})
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "Internal server error",
				})
			}
		}()
		c.Next()
	}
}

// RequestID injects a unique X-Request-Id header into every request/response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// RequestLogger returns a Gin middleware that logs every request with
// method, path, status code, and duration. The liveness path is skipped.
func RequestLogger(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		fields := map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if id, ok := c.Get("request_id"); ok {
			fields["request_id"] = id
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			log.Error("Request failed", fields)
		case status >= 400:
			log.Warn("Request error", fields)
		default:
			log.Info("Request handled", fields)
		}
	}
}

// authenticator validates operator credentials. The admin password is
// kept only as a bcrypt hash after construction.
type authenticator struct {
	adminEmail   string
	passwordHash []byte
	adminKey     string
}

func newAuthenticator(cfg Config) (*authenticator, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing admin password: %w", err)
	}
	return &authenticator{
		adminEmail:   cfg.AdminEmail,
		passwordHash: hash,
		adminKey:     cfg.AdminKey,
	}, nil
}

func (a *authenticator) checkBasic(email, password string) bool {
	emailOK := subtle.ConstantTimeCompare([]byte(email), []byte(a.adminEmail)) == 1
	passOK := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)) == nil
	return emailOK && passOK
}

func (a *authenticator) checkBearer(token string) bool {
	if a.adminKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.adminKey)) == 1
}

// Auth returns a Gin middleware accepting either basic auth with the
// admin credentials or a bearer token matching the admin key. The
// liveness path bypasses authentication.
func Auth(a *authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Next()
			return
		}

		if email, password, ok := c.Request.BasicAuth(); ok {
			if a.checkBasic(email, password) {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid credentials",
			})
			return
		}

		authHeader := c.GetHeader("Authorization")
		if parts := strings.SplitN(authHeader, " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
			if a.checkBearer(parts[1]) {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid token",
			})
			return
		}

		c.Header("WWW-Authenticate", `Basic realm="keeper"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Authorization required",
		})
	}
}
