package http

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/keyward/service"
)

// ActionHandlers run capability-gated actions with the caller's session key
type ActionHandlers struct {
	mint   *service.MintService
	logger *slog.Logger
}

// NewActionHandlers creates action handlers
func NewActionHandlers(mint *service.MintService, logger *slog.Logger) *ActionHandlers {
	return &ActionHandlers{mint: mint, logger: logger}
}

// Mint mints NFTs to the given recipient
func (h *ActionHandlers) Mint(c *gin.Context) {
	var req struct {
		To     string          `json:"to"`
		Amount json.RawMessage `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.To == "" || len(req.Amount) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing 'to' or 'amount'"})
		return
	}

	// Accept both "amount": 3 and "amount": "3"
	raw := string(bytes.TrimSpace(req.Amount))
	if len(raw) > 0 && raw[0] == '"' {
		if err := json.Unmarshal(req.Amount, &raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount"})
			return
		}
	}

	amount, err := service.ParseAmount(raw)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	txHash, err := h.mint.Mint(c.Request.Context(), requestContext(c).Address(), req.To, amount)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "txHash": txHash})
}
