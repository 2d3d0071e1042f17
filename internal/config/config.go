// Package config loads the gateway configuration once at startup into an
// immutable struct. Components receive the struct by reference; nothing
// mutates it in place. Runtime changes go through Update, which returns a
// new struct and rewrites the file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds gateway configuration. Loaded from a JSON file with
// environment-variable overrides.
type Config struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	RedirectURI  string   `json:"redirect_uri"`
	BotToken     string   `json:"bot_token"`
	PublicKey    string   `json:"public_key"`
	GuildID      string   `json:"guild_id"`
	Owners       []string `json:"owners"`
	WebhookURL   string   `json:"webhook_url"`
	AdminToken   string   `json:"admin_token"`
	ListenAddr   string   `json:"listen_addr"`
	StorePath    string   `json:"store_path"`
	WhitelistDB  string   `json:"whitelist_db"`
	ExportPath   string   `json:"export_path"`

	// HTTPTimeout bounds every upstream Discord call. JSON value is seconds.
	HTTPTimeoutSec int `json:"http_timeout_sec"`
}

// HTTPTimeout returns the upstream request timeout as a duration.
func (c *Config) HTTPTimeout() time.Duration {
	if c.HTTPTimeoutSec <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.HTTPTimeoutSec) * time.Second
}

// IsOwner reports whether userID is on the fixed owner allowlist.
func (c *Config) IsOwner(userID string) bool {
	for _, id := range c.Owners {
		if id == userID {
			return true
		}
	}
	return false
}

// Load reads the config file at path, applies environment overrides and
// validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("AUTHCORD_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := os.Getenv("AUTHCORD_CLIENT_SECRET"); v != "" {
		cfg.ClientSecret = v
	}
	if v := os.Getenv("AUTHCORD_REDIRECT_URI"); v != "" {
		cfg.RedirectURI = v
	}
	if v := os.Getenv("AUTHCORD_BOT_TOKEN"); v != "" {
		cfg.BotToken = v
	}
	if v := os.Getenv("AUTHCORD_PUBLIC_KEY"); v != "" {
		cfg.PublicKey = v
	}
	if v := os.Getenv("AUTHCORD_GUILD_ID"); v != "" {
		cfg.GuildID = v
	}
	if v := os.Getenv("AUTHCORD_WEBHOOK_URL"); v != "" {
		cfg.WebhookURL = v
	}
	if v := os.Getenv("AUTHCORD_ADMIN_TOKEN"); v != "" {
		cfg.AdminToken = v
	}
	if v := os.Getenv("AUTHCORD_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("AUTHCORD_OWNERS"); v != "" {
		var owners []string
		for _, o := range strings.Split(v, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				owners = append(owners, o)
			}
		}
		cfg.Owners = owners
	}
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.StorePath == "" {
		cfg.StorePath = "users.json"
	}
	if cfg.WhitelistDB == "" {
		cfg.WhitelistDB = "whitelist.db"
	}
	if cfg.ExportPath == "" {
		cfg.ExportPath = "/export"
	}
}

func (c *Config) validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client_secret is required")
	}
	if c.RedirectURI == "" {
		return fmt.Errorf("redirect_uri is required")
	}
	if c.BotToken == "" {
		return fmt.Errorf("bot_token is required")
	}
	if c.AdminToken != "" && len(c.AdminToken) < 16 {
		return fmt.Errorf("admin_token must be at least 16 characters")
	}
	if !strings.HasPrefix(c.ExportPath, "/") {
		return fmt.Errorf("export_path must start with /")
	}
	return nil
}

// Update returns a copy of cfg with mutate applied and writes it back to
// path. The receiver is never modified; callers swap in the returned
// struct themselves.
func Update(cfg *Config, path string, mutate func(*Config)) (*Config, error) {
	next := *cfg
	next.Owners = append([]string(nil), cfg.Owners...)
	mutate(&next)

	if err := next.validate(); err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(&next, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return nil, fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("replace config: %w", err)
	}
	return &next, nil
}
