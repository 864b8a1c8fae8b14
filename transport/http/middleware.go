package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/internal/metrics"
	"github.com/layer-3/keyward/service"
)

const cookieName = "jwt"

// AuthMiddleware validates the bearer token from the jwt cookie or the
// Authorization header
func AuthMiddleware(authService *service.AuthService, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(cookieName)
		if token == "" {
			if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				token = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		credential, err := authService.ValidateToken(c.Request.Context(), token)
		if err != nil {
			abortWithError(c, logger, err)
			return
		}

		requestContext(c).Credential = credential
		c.Next()
	}
}

// SessionMiddleware reconciles the caller's session with the ledger and only
// lets requests through when it is active
func SessionMiddleware(sessions *service.SessionService, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := requestContext(c)

		record, err := sessions.SyncStatus(c.Request.Context(), rc.Address())
		if err != nil && !errors.Is(err, core.ErrSessionNotFound) {
			abortWithError(c, logger, err)
			return
		}
		if record == nil || record.Status != core.SessionActive {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "No active session. Please create or confirm your session first.",
			})
			return
		}

		rc.Session = record
		c.Next()
	}
}

// RequestLogger logs each request and records HTTP metrics
func RequestLogger(logger *slog.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		status := c.Writer.Status()

		m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		logger.Debug("http.request",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
		)
	}
}
