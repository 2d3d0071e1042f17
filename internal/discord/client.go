// Package discord talks to the Discord REST API: the OAuth2 code
// exchange, profile fetch, token validity probe, guild member add and
// webhook notifications. Every call is single-shot with a bounded
// timeout; retry policy belongs to the callers.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/authcord/authcord/internal/logx"
	"golang.org/x/oauth2"
)

// DefaultAPIBase is the production Discord REST endpoint.
const DefaultAPIBase = "https://discord.com/api/v10"

const cdnBase = "https://cdn.discordapp.com"

// Scopes requested during authorization. guilds.join is what lets the
// bot later pull an authorized user into the target guild.
var Scopes = []string{"identify", "guilds.join", "email"}

// Sentinel errors for provider interactions.
var (
	ErrExchangeFailed = errors.New("oauth2 code exchange failed")
	ErrProfileFetch   = errors.New("profile fetch failed")
)

// Client is a Discord REST client holding both the OAuth2 app
// credentials (for the code exchange) and the bot token (for guild and
// user endpoints).
type Client struct {
	// APIBase is overridable so tests can point at a fake upstream.
	APIBase string

	http         *http.Client
	clientID     string
	clientSecret string
	redirectURI  string
	botToken     string
}

// New creates a Client with the given app credentials and timeout.
func New(clientID, clientSecret, redirectURI, botToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		APIBase:      DefaultAPIBase,
		http:         &http.Client{Timeout: timeout},
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		botToken:     botToken,
	}
}

func (c *Client) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		RedirectURL:  c.redirectURI,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.APIBase + "/oauth2/authorize",
			TokenURL:  c.APIBase + "/oauth2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Token is the result of a successful code exchange.
type Token struct {
	AccessToken  string
	RefreshToken string
	Type         string
}

// Exchange trades an authorization code for tokens. Fails with
// ErrExchangeFailed when the provider rejects the code or the response
// carries no access token.
func (c *Client) Exchange(ctx context.Context, code string) (Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := c.oauthConfig().Exchange(ctx, code,
		oauth2.SetAuthURLParam("scope", strings.Join(Scopes, " ")))
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	if tok.AccessToken == "" {
		return Token{}, fmt.Errorf("%w: response missing access_token", ErrExchangeFailed)
	}
	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Type:         tokenType,
	}, nil
}

// Profile is the authorizing identity, with required-field validation at
// the boundary: a response without an id or username is a typed failure.
type Profile struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	Email         string `json:"email"`
	Avatar        string `json:"avatar"`
}

// Tag returns the display identity as username#discriminator.
func (p Profile) Tag() string {
	return p.Username + "#" + p.Discriminator
}

// AvatarURL returns the CDN asset URL for the profile's avatar hash.
func (p Profile) AvatarURL() string {
	return fmt.Sprintf("%s/avatars/%s/%s.png?size=4096", cdnBase, p.ID, p.Avatar)
}

// FetchProfile retrieves the authorizing user's profile with the freshly
// issued bearer token.
func (c *Client) FetchProfile(ctx context.Context, tokenType, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIBase+"/users/@me", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFetch, err)
	}
	req.Header.Set("Authorization", tokenType+" "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrProfileFetch, resp.StatusCode)
	}

	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrProfileFetch, err)
	}
	if p.ID == "" || p.Username == "" {
		return nil, fmt.Errorf("%w: response missing id or username", ErrProfileFetch)
	}
	return &p, nil
}

// ValidateToken probes whether an access token is still accepted. Only a
// definitive 401 reports invalid; any other failure assumes the token is
// valid so a transient fault never drops a stored record.
func (c *Client) ValidateToken(ctx context.Context, accessToken string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIBase+"/users/@me", nil)
	if err != nil {
		logx.Warnf("validity probe: build request: %v", err)
		return true
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		logx.Warnf("validity probe: %v", err)
		return true
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized {
		return false
	}
	if resp.StatusCode != http.StatusOK {
		logx.Warnf("validity probe: unexpected status %d, assuming valid", resp.StatusCode)
	}
	return true
}

// JoinStatus classifies the outcome of a guild member add.
type JoinStatus int

const (
	JoinAdded JoinStatus = iota
	JoinAlreadyMember
)

// AddGuildMember pulls userID into guildID using their stored OAuth2
// access token. Discord responds 201 when the user was added and 204
// when they were already a member.
func (c *Client) AddGuildMember(ctx context.Context, guildID, userID, accessToken string) (JoinStatus, error) {
	body := strings.NewReader(fmt.Sprintf(`{"access_token":%q}`, accessToken))
	u := fmt.Sprintf("%s/guilds/%s/members/%s", c.APIBase, guildID, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, body)
	if err != nil {
		return 0, fmt.Errorf("build member add request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.botToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("member add: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusCreated:
		return JoinAdded, nil
	case http.StatusNoContent:
		return JoinAlreadyMember, nil
	default:
		return 0, fmt.Errorf("member add: status %d", resp.StatusCode)
	}
}

// User is a Discord user looked up with the bot token.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
}

// Tag returns the display identity as username#discriminator.
func (u User) Tag() string {
	return u.Username + "#" + u.Discriminator
}

// User looks up a user by ID with the bot token. Used to resolve
// whitelist entries to display names; callers fall back to the bare ID
// on error.
func (c *Client) User(ctx context.Context, userID string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIBase+"/users/"+userID, nil)
	if err != nil {
		return nil, fmt.Errorf("build user lookup: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.botToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user lookup: status %d", resp.StatusCode)
	}

	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("user lookup: decode: %w", err)
	}
	return &u, nil
}

// AuthorizationURL builds the user-facing OAuth2 consent URL.
func AuthorizationURL(clientID, redirectURI string) string {
	return fmt.Sprintf(
		"https://discord.com/oauth2/authorize?client_id=%s&redirect_uri=%s&response_type=code&scope=%s",
		clientID, url.QueryEscape(redirectURI), url.PathEscape(strings.Join(Scopes, " ")),
	)
}

// BotInviteURL builds the bot invite URL.
func BotInviteURL(clientID string) string {
	return fmt.Sprintf(
		"https://discord.com/api/oauth2/authorize?client_id=%s&permissions=8&scope=bot",
		clientID,
	)
}
