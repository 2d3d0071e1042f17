// Package server wires the gateway's web boundary: the landing page, the
// OAuth2 intake endpoint, the store export and the Discord interactions
// webhook.
package server

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/authcord/authcord/internal/command"
	"github.com/authcord/authcord/internal/config"
	"github.com/authcord/authcord/internal/discord"
	"github.com/authcord/authcord/internal/logx"
	"github.com/authcord/authcord/internal/server/handler"
	"github.com/authcord/authcord/internal/store"
	"github.com/gin-gonic/gin"
)

// NewRouter creates and configures the Gin router with all routes.
func NewRouter(cfg *config.Config, users *store.Store, dispatcher *command.Dispatcher, rest *discord.Client) (*gin.Engine, error) {
	r := gin.Default()

	r.GET("/", handler.HandleLanding())
	r.POST("/", handler.HandleAuthorize(cfg, users, rest))

	// The export returns raw tokens; it is only open when no admin
	// token is configured.
	if cfg.AdminToken != "" {
		r.GET(cfg.ExportPath, AdminAuth(cfg.AdminToken), handler.HandleExport(users))
	} else {
		logx.Warnf("export endpoint %s is UNAUTHENTICATED: set admin_token to protect stored tokens", cfg.ExportPath)
		r.GET(cfg.ExportPath, handler.HandleExport(users))
	}

	if cfg.PublicKey != "" {
		key, err := hex.DecodeString(cfg.PublicKey)
		if err != nil || len(key) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("public_key must be %d hex-encoded bytes", ed25519.PublicKeySize)
		}
		r.POST("/interactions", InteractionAuth(ed25519.PublicKey(key)), handler.HandleInteractions(dispatcher))
	} else {
		logx.Warnf("public_key not configured: interactions endpoint disabled")
	}

	return r, nil
}
