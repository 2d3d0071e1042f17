// Package handler contains the gin handlers for the gateway's web
// boundary: the OAuth2 authorization intake, the store export and the
// interactions webhook.
package handler

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/authcord/authcord/internal/config"
	"github.com/authcord/authcord/internal/discord"
	"github.com/authcord/authcord/internal/logx"
	"github.com/authcord/authcord/internal/store"
	"github.com/gin-gonic/gin"
)

// HandleAuthorize handles POST /. The OAuth2 redirect target posts the
// authorization code as a raw text body. The flow is exchange, profile
// fetch, dedupe, persist, notify. The store's Append is the sole arbiter
// of first-write-wins: two concurrent intakes for the same new identity
// resolve to a single stored record.
func HandleAuthorize(cfg *config.Config, users *store.Store, rest *discord.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		code := strings.TrimSpace(string(body))
		if code == "" {
			c.Status(http.StatusBadRequest)
			return
		}

		ctx := c.Request.Context()
		ip := c.ClientIP()

		token, err := rest.Exchange(ctx, code)
		if err != nil {
			logx.Errorf("code exchange failed: %v", err)
			c.Status(http.StatusBadRequest)
			return
		}

		profile, err := rest.FetchProfile(ctx, token.Type, token.AccessToken)
		if err != nil {
			logx.Errorf("profile fetch failed: %v", err)
			c.Status(http.StatusBadRequest)
			return
		}

		if users.Contains(profile.ID) {
			// Repeat authorization: success, no append, no notification,
			// stored tokens stay as first captured.
			c.Status(http.StatusOK)
			return
		}

		user := store.AuthorizedUser{
			UserID:       profile.ID,
			Username:     profile.Tag(),
			Email:        profile.Email,
			SourceIP:     ip,
			AvatarURL:    profile.AvatarURL(),
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
		}

		added, err := users.Append(user)
		if err != nil {
			logx.Errorf("persist authorized user %s: %v", profile.ID, err)
			c.Status(http.StatusInternalServerError)
			return
		}

		if added {
			logx.Infof("%s - new authorization: %s (%s)", ip, profile.Tag(), profile.Email)
			notify(cfg, rest, user)
		}
		c.Status(http.StatusOK)
	}
}

// notify posts the authorization event to the configured webhook in the
// background. A delivery failure is logged, never surfaced to the
// authorizing user.
func notify(cfg *config.Config, rest *discord.Client, user store.AuthorizedUser) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout())
		defer cancel()
		if err := rest.NotifyAuthorization(ctx, cfg.WebhookURL, user); err != nil {
			logx.Errorf("authorization webhook: %v", err)
		}
	}()
}

// HandleExport handles GET on the export path, returning the full user
// store as a JSON array.
func HandleExport(users *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, users.Snapshot())
	}
}

// HandleLanding handles GET / with a minimal landing page.
func HandleLanding() gin.HandlerFunc {
	page := []byte(`<!doctype html>
<html>
<head><title>Authorization Gateway</title></head>
<body><h1>Authorization Gateway</h1><p>This service handles OAuth2 authorization callbacks.</p></body>
</html>
`)
	return func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", page)
	}
}
