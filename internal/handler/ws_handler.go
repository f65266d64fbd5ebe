package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/device-inventory-api/internal/ws"
	appErrors "github.com/noah-isme/device-inventory-api/pkg/errors"
	"github.com/noah-isme/device-inventory-api/pkg/response"
)

// WSHandler upgrades authenticated requests to websocket connections
// on the live-event hub.
type WSHandler struct {
	hub    *ws.Hub
	logger *zap.Logger
}

// NewWSHandler creates a new handler.
func NewWSHandler(hub *ws.Hub, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{hub: hub, logger: logger}
}

// Serve godoc
// @Summary Websocket endpoint
// @Description Upgrade to a websocket connection receiving live events. Authenticate via Authorization header or access_token query parameter.
// @Tags Websocket
// @Success 101 {string} string "Switching Protocols"
// @Failure 401 {object} response.Envelope
// @Router /ws [get]
func (h *WSHandler) Serve(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.hub.ServeWS(c.Writer, c.Request, claims.UserID, claims.Username); err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("user_id", claims.UserID),
			zap.Error(err))
	}
}
