package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/keyward/core"
)

// statusFor maps an error category to an HTTP status code
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrUnauthorized), errors.Is(err, core.ErrAuthenticationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, core.ErrOracleUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// abortWithError writes the mapped status. Server-side failures are logged and
// answered with a generic message so no ciphertext or driver detail leaks.
func abortWithError(c *gin.Context, logger *slog.Logger, err error) {
	abortWithStatus(c, logger, statusFor(err), err)
}

func abortWithStatus(c *gin.Context, logger *slog.Logger, status int, err error) {
	msg := err.Error()
	switch {
	case status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable:
		logger.Error("request.failed", "route", c.FullPath(), "error", err)
		msg = "Internal server error"
	case status == http.StatusServiceUnavailable:
		logger.Warn("request.unavailable", "route", c.FullPath(), "error", err)
		msg = "Ledger temporarily unavailable"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
