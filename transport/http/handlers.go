package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/service"
)

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService   *service.AuthService
	secureCookies bool
	logger        *slog.Logger
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService, secureCookies bool, logger *slog.Logger) *AuthHandlers {
	return &AuthHandlers{
		authService:   authService,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

// Challenge issues a sign-in message for the address in the query string
func (h *AuthHandlers) Challenge(c *gin.Context) {
	address := c.Query("address")
	if address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing address"})
		return
	}

	message, err := h.authService.CreateChallenge(c.Request.Context(), address)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"siweMessage": message})
}

// Login verifies the signed challenge and sets the bearer cookie
func (h *AuthHandlers) Login(c *gin.Context) {
	var req struct {
		Address   string `json:"address" binding:"required"`
		Signature string `json:"signature" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing address or signature"})
		return
	}

	token, credential, err := h.authService.Login(c.Request.Context(), req.Address, req.Signature)
	if err != nil {
		// A missing challenge is a failed login, not a missing resource
		if errors.Is(err, core.ErrNotFound) {
			abortWithStatus(c, h.logger, http.StatusUnauthorized, err)
			return
		}
		abortWithError(c, h.logger, err)
		return
	}

	h.setCookie(c, token, int(credential.ExpiresAt.Sub(credential.IssuedAt).Seconds()))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Logout invalidates the caller's token and clears the cookie
func (h *AuthHandlers) Logout(c *gin.Context) {
	rc := requestContext(c)

	if err := h.authService.Logout(c.Request.Context(), rc.Credential); err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	h.setCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Me returns information about the authenticated user
func (h *AuthHandlers) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"address": requestContext(c).Address(),
	})
}

func (h *AuthHandlers) setCookie(c *gin.Context, value string, maxAge int) {
	if h.secureCookies {
		c.SetSameSite(http.SameSiteNoneMode)
	} else {
		c.SetSameSite(http.SameSiteLaxMode)
	}
	c.SetCookie(cookieName, value, maxAge, "/", "", h.secureCookies, true)
}
