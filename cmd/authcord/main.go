package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/authcord/authcord/internal/command"
	"github.com/authcord/authcord/internal/config"
	"github.com/authcord/authcord/internal/discord"
	"github.com/authcord/authcord/internal/logx"
	"github.com/authcord/authcord/internal/redact"
	"github.com/authcord/authcord/internal/server"
	"github.com/authcord/authcord/internal/store"
	"github.com/authcord/authcord/internal/version"
	"github.com/authcord/authcord/internal/whitelist"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	verbose := flag.Bool("verbose", false, "Enable verbose debug logs (same as --log-level debug)")
	logLevel := flag.String("log-level", "", "Log level: debug|info|warn|error (or AUTHCORD_LOG_LEVEL)")
	configPath := flag.String("config", "config.json", "Path to the JSON config file")
	flag.BoolVar(showVersion, "v", false, "Print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\n", version.String("authcord"))
		fmt.Fprintf(os.Stderr, "Authcord runs the OAuth2 authorization gateway: the web intake endpoint,\n")
		fmt.Fprintf(os.Stderr, "the Discord interactions webhook and the durable user/whitelist stores.\n\n")
		fmt.Fprintf(os.Stderr, "Environment variables (override the config file):\n")
		fmt.Fprintf(os.Stderr, "  AUTHCORD_CLIENT_ID       OAuth2 application client ID\n")
		fmt.Fprintf(os.Stderr, "  AUTHCORD_CLIENT_SECRET   OAuth2 application client secret\n")
		fmt.Fprintf(os.Stderr, "  AUTHCORD_REDIRECT_URI    OAuth2 redirect URI\n")
		fmt.Fprintf(os.Stderr, "  AUTHCORD_BOT_TOKEN       Discord bot token\n")
		fmt.Fprintf(os.Stderr, "  AUTHCORD_PUBLIC_KEY      Interactions verification key (hex)\n")
		fmt.Fprintf(os.Stderr, "  AUTHCORD_GUILD_ID        Target guild for /joinall\n")
		fmt.Fprintf(os.Stderr, "  AUTHCORD_OWNERS          Comma-separated owner user IDs\n")
		fmt.Fprintf(os.Stderr, "  AUTHCORD_WEBHOOK_URL     Authorization notification webhook\n")
		fmt.Fprintf(os.Stderr, "  AUTHCORD_ADMIN_TOKEN     Bearer token for the export endpoint (min 16 chars)\n")
		fmt.Fprintf(os.Stderr, "  AUTHCORD_LISTEN_ADDR     Listen address (default: :8080)\n")
		fmt.Fprintf(os.Stderr, "  AUTHCORD_LOG_LEVEL       Log level: debug|info|warn|error (default: info)\n")
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("authcord"))
		os.Exit(0)
	}

	if err := logx.Configure(*logLevel, *verbose); err != nil {
		log.Fatalf("configure logging: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// All console logs pass through the masker so captured bearer tokens
	// never hit the terminal or log files.
	masker := redact.NewMasker(os.Stderr, cfg.ClientSecret, cfg.BotToken)
	logx.SetOutput(masker)

	users, err := store.Open(cfg.StorePath, masker)
	if err != nil {
		log.Fatalf("open user store: %v", err)
	}

	registry, err := whitelist.Open(cfg.WhitelistDB)
	if err != nil {
		log.Fatalf("open whitelist database: %v", err)
	}
	defer registry.Close()

	rest := discord.New(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURI, cfg.BotToken, cfg.HTTPTimeout())
	dispatcher := command.New(cfg, users, registry, rest)

	r, err := server.NewRouter(cfg, users, dispatcher, rest)
	if err != nil {
		log.Fatalf("configure router: %v", err)
	}

	logx.Infof("gateway config: guild=%s owners=%d export=%s store=%s",
		cfg.GuildID, len(cfg.Owners), cfg.ExportPath, cfg.StorePath)
	logx.Infof("authcord listening on %s (%d authorized users loaded)", cfg.ListenAddr, users.Count())
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
