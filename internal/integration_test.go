package internal

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/authcord/authcord/internal/command"
	"github.com/authcord/authcord/internal/config"
	"github.com/authcord/authcord/internal/discord"
	"github.com/authcord/authcord/internal/server"
	"github.com/authcord/authcord/internal/store"
	"github.com/authcord/authcord/internal/whitelist"
	"github.com/gin-gonic/gin"
)

const testAdminToken = "test-admin-token-1234567890"

// upstream simulates the Discord API surface the gateway talks to:
// token exchange, profile fetch / validity probe, guild member add and
// interaction reply edits.
type upstream struct {
	mu            sync.Mutex
	codes         map[string]map[string]string
	byToken       map[string]map[string]string
	invalidTokens map[string]bool
	guildMembers  map[string]bool
	edits         []string
}

func newUpstream() *upstream {
	return &upstream{
		codes:         map[string]map[string]string{},
		byToken:       map[string]map[string]string{},
		invalidTokens: map[string]bool{},
		guildMembers:  map[string]bool{},
	}
}

func (u *upstream) addCode(code string, profile map[string]string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.codes[code] = profile
}

func (u *upstream) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		code := r.PostFormValue("code")
		u.mu.Lock()
		profile, ok := u.codes[code]
		if ok {
			u.byToken["ac_"+code] = profile
		}
		u.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"access_token": "ac_" + code, "refresh_token": "rf_" + code, "token_type": "Bearer",
		})
	})
	mux.HandleFunc("GET /users/@me", func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		u.mu.Lock()
		invalid := u.invalidTokens[tok]
		profile, known := u.byToken[tok]
		u.mu.Unlock()
		if invalid || !known {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(profile)
	})
	mux.HandleFunc("GET /users/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		json.NewEncoder(w).Encode(map[string]string{
			"id": id, "username": "user" + id, "discriminator": "0001",
		})
	})
	mux.HandleFunc("PUT /guilds/{gid}/members/{uid}", func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		defer u.mu.Unlock()
		uid := r.PathValue("uid")
		if u.guildMembers[uid] {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		u.guildMembers[uid] = true
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("PATCH /webhooks/{aid}/{tok}/messages/@original", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		u.mu.Lock()
		u.edits = append(u.edits, body["content"])
		u.mu.Unlock()
	})
	mux.HandleFunc("POST /webhook", func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func (u *upstream) lastEdit() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.edits) == 0 {
		return ""
	}
	return u.edits[len(u.edits)-1]
}

type gateway struct {
	ts       *httptest.Server
	users    *store.Store
	registry *whitelist.Registry
	up       *upstream
	priv     ed25519.PrivateKey
	syncRuns chan struct{}
}

func setupGateway(t *testing.T) *gateway {
	t.Helper()
	gin.SetMode(gin.TestMode)

	up := newUpstream()
	upstreamServer := httptest.NewServer(up.handler())
	t.Cleanup(upstreamServer.Close)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	cfg := &config.Config{
		ClientID:     "cid",
		ClientSecret: "csecret",
		RedirectURI:  "https://cb.example.com/",
		BotToken:     "bot-token",
		PublicKey:    hex.EncodeToString(pub),
		GuildID:      "g1",
		Owners:       []string{"owner-1"},
		WebhookURL:   upstreamServer.URL + "/webhook",
		AdminToken:   testAdminToken,
		ExportPath:   "/export",
	}

	users, err := store.Open(filepath.Join(t.TempDir(), "users.json"), nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	registry, err := whitelist.Open(":memory:")
	if err != nil {
		t.Fatalf("whitelist.Open: %v", err)
	}
	t.Cleanup(func() { registry.Close() })

	rest := discord.New(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURI, cfg.BotToken, 5*time.Second)
	rest.APIBase = upstreamServer.URL

	dispatcher := command.New(cfg, users, registry, rest)

	router, err := server.NewRouter(cfg, users, dispatcher, rest)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	return &gateway{ts: ts, users: users, registry: registry, up: up, priv: priv}
}

func (g *gateway) postCode(t *testing.T, code string) int {
	t.Helper()
	resp, err := http.Post(g.ts.URL+"/", "text/plain", strings.NewReader(code))
	if err != nil {
		t.Fatalf("POST /: %v", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func (g *gateway) invoke(t *testing.T, invoker string, payload map[string]any) command.Response {
	t.Helper()
	payload["type"] = 2
	payload["id"] = "ic-1"
	payload["application_id"] = "app-1"
	payload["token"] = "ic-token"
	payload["member"] = map[string]any{"user": map[string]any{"id": invoker}}

	body, _ := json.Marshal(payload)
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	sig := ed25519.Sign(g.priv, append([]byte(timestamp), body...))

	req, err := http.NewRequest(http.MethodPost, g.ts.URL+"/interactions", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build interaction: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature-Ed25519", hex.EncodeToString(sig))
	req.Header.Set("X-Signature-Timestamp", timestamp)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /interactions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("POST /interactions: status %d, body: %s", resp.StatusCode, body)
	}

	var out command.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode interaction response: %v", err)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEndToEnd(t *testing.T) {
	g := setupGateway(t)

	// Three users authorize; one submits a duplicate consent.
	g.up.addCode("c1", map[string]string{"id": "1", "username": "alice", "discriminator": "0001", "avatar": "a1"})
	g.up.addCode("c2", map[string]string{"id": "2", "username": "bob", "discriminator": "0002", "avatar": "a2"})
	g.up.addCode("c3", map[string]string{"id": "3", "username": "carol", "discriminator": "0003", "avatar": "a3"})
	g.up.addCode("c1bis", map[string]string{"id": "1", "username": "alice", "discriminator": "0001", "avatar": "a1"})

	for _, code := range []string{"c1", "c2", "c3", "c1bis"} {
		if status := g.postCode(t, code); status != http.StatusOK {
			t.Fatalf("intake %s: status %d", code, status)
		}
	}
	if g.users.Count() != 3 {
		t.Fatalf("store count = %d, want 3", g.users.Count())
	}

	// A bad code is a client error and leaves the store alone.
	if status := g.postCode(t, "nope"); status != http.StatusBadRequest {
		t.Fatalf("bad code: status %d", status)
	}

	// /users via a signed interaction from the configured owner.
	resp := g.invoke(t, "owner-1", map[string]any{"data": map[string]any{"name": "users"}})
	if !strings.Contains(resp.Data.Content, "3 authorized users") {
		t.Fatalf("users reply = %q", resp.Data.Content)
	}

	// A stranger is rejected by the gate until whitelisted.
	resp = g.invoke(t, "stranger", map[string]any{"data": map[string]any{"name": "users"}})
	if !strings.Contains(resp.Data.Content, "permission") {
		t.Fatalf("gate reply = %q", resp.Data.Content)
	}

	resp = g.invoke(t, "owner-1", map[string]any{"data": map[string]any{
		"name": "whitelist",
		"options": []map[string]any{{
			"name": "add", "type": 1,
			"options": []map[string]any{{"name": "user", "type": 6, "value": "stranger"}},
		}},
	}})
	if !strings.Contains(resp.Data.Content, "added to the whitelist") {
		t.Fatalf("whitelist add reply = %q", resp.Data.Content)
	}

	resp = g.invoke(t, "stranger", map[string]any{"data": map[string]any{"name": "users"}})
	if !strings.Contains(resp.Data.Content, "3 authorized users") {
		t.Fatalf("post-whitelist reply = %q", resp.Data.Content)
	}

	// Refresh: bob's token expired upstream.
	g.up.mu.Lock()
	g.up.invalidTokens["ac_c2"] = true
	g.up.mu.Unlock()

	resp = g.invoke(t, "owner-1", map[string]any{"data": map[string]any{"name": "refresh"}})
	if resp.Type != command.ResponseDeferred {
		t.Fatalf("refresh response type = %d", resp.Type)
	}
	waitFor(t, "refresh sweep", func() bool { return g.users.Count() == 2 })
	if g.users.Contains("2") {
		t.Fatal("user 2 still present after refresh")
	}
	waitFor(t, "refresh summary edit", func() bool {
		return strings.Contains(g.up.lastEdit(), "Token refresh complete")
	})

	// Join-all pulls the survivors into the configured guild.
	resp = g.invoke(t, "owner-1", map[string]any{"data": map[string]any{"name": "joinall"}})
	if resp.Type != command.ResponseDeferred {
		t.Fatalf("joinall response type = %d", resp.Type)
	}
	waitFor(t, "joinall summary edit", func() bool {
		return strings.Contains(g.up.lastEdit(), "Join-all complete for 2 users")
	})
	g.up.mu.Lock()
	joined := len(g.up.guildMembers)
	g.up.mu.Unlock()
	if joined != 2 {
		t.Fatalf("guild members = %d, want 2", joined)
	}
}

func TestExportRequiresAdminToken(t *testing.T) {
	g := setupGateway(t)
	g.up.addCode("c1", map[string]string{"id": "1", "username": "alice", "discriminator": "0001"})
	if status := g.postCode(t, "c1"); status != http.StatusOK {
		t.Fatalf("intake: status %d", status)
	}

	resp, err := http.Get(g.ts.URL + "/export")
	if err != nil {
		t.Fatalf("GET /export: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated export: status %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, g.ts.URL+"/export", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /export: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated export: status %d", resp.StatusCode)
	}
	var users []store.AuthorizedUser
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if len(users) != 1 || users[0].UserID != "1" || users[0].AccessToken != "ac_c1" {
		t.Fatalf("export payload = %+v", users)
	}
}
