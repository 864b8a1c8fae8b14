package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/service"
)

// SessionHandlers exposes the session key lifecycle
type SessionHandlers struct {
	sessions *service.SessionService
	logger   *slog.Logger
}

// NewSessionHandlers creates session handlers
func NewSessionHandlers(sessions *service.SessionService, logger *slog.Logger) *SessionHandlers {
	return &SessionHandlers{sessions: sessions, logger: logger}
}

// GetOrCreate returns the caller's live session, creating one if needed
func (h *SessionHandlers) GetOrCreate(c *gin.Context) {
	record, err := h.sessions.GetOrCreate(c.Request.Context(), requestContext(c).Address())
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse(record))
}

// Create always generates a new session key
func (h *SessionHandlers) Create(c *gin.Context) {
	record, err := h.sessions.Create(c.Request.Context(), requestContext(c).Address())
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse(record))
}

// Confirm is called once the client has registered the session on chain
func (h *SessionHandlers) Confirm(c *gin.Context) {
	if _, err := h.sessions.Confirm(c.Request.Context(), requestContext(c).Address()); err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Status reconciles with the ledger and reports the resulting status
func (h *SessionHandlers) Status(c *gin.Context) {
	record, err := h.sessions.SyncStatus(c.Request.Context(), requestContext(c).Address())
	if errors.Is(err, core.ErrSessionNotFound) {
		c.JSON(http.StatusOK, gin.H{"status": "none"})
		return
	}
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            record.Status,
		"sessionKeyAddress": record.SessionKeyAddress,
	})
}

func sessionResponse(record *core.SessionRecord) gin.H {
	return gin.H{
		"status":            record.Status,
		"sessionKeyAddress": record.SessionKeyAddress,
		"sessionConfig":     record.Policy,
	}
}
