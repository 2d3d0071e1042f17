package handler

import (
	"net/http"

	"github.com/authcord/authcord/internal/command"
	"github.com/authcord/authcord/internal/logx"
	"github.com/gin-gonic/gin"
)

// HandleInteractions handles POST /interactions, the Discord
// interactions webhook. Signature verification happens in middleware;
// this handler answers the PING handshake and routes application
// commands to the dispatcher.
func HandleInteractions(dispatcher *command.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var ic command.Interaction
		if err := c.ShouldBindJSON(&ic); err != nil {
			logx.Errorf("parse interaction: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed interaction"})
			return
		}

		switch ic.Type {
		case command.InteractionPing:
			c.JSON(http.StatusOK, command.Response{Type: command.ResponsePong})
		case command.InteractionApplicationCommand:
			c.JSON(http.StatusOK, dispatcher.Handle(c.Request.Context(), &ic))
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported interaction type"})
		}
	}
}
