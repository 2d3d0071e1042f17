// Package command gates and executes the gateway's chat commands. The
// transport (the interactions webhook) lives in internal/server; this
// package only sees parsed interactions and produces responses.
package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/authcord/authcord/internal/config"
	"github.com/authcord/authcord/internal/discord"
	"github.com/authcord/authcord/internal/logx"
	"github.com/authcord/authcord/internal/store"
	"github.com/authcord/authcord/internal/sweep"
	"github.com/authcord/authcord/internal/whitelist"
)

// Dispatcher routes application commands to their handlers. Every
// command is gated on the owner allowlist union the whitelist registry
// before any side-effecting logic runs.
type Dispatcher struct {
	cfg      *config.Config
	users    *store.Store
	registry *whitelist.Registry
	rest     *discord.Client

	// runAsync runs deferred command work. Replaced in tests to run
	// synchronously.
	runAsync func(func())
}

// New creates a Dispatcher over the gateway's shared components.
func New(cfg *config.Config, users *store.Store, registry *whitelist.Registry, rest *discord.Client) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		users:    users,
		registry: registry,
		rest:     rest,
		runAsync: func(fn func()) { go fn() },
	}
}

// Handle executes one application command interaction and returns the
// initial response. Long-running commands return a deferred response and
// stream progress by editing the original reply.
func (d *Dispatcher) Handle(ctx context.Context, ic *Interaction) Response {
	if ic.Data == nil {
		return ephemeral("Malformed interaction.")
	}
	name := ic.Data.Name

	if !d.allowed(ic.InvokerID()) {
		// Permission denials are user-visible, never an application error.
		return ephemeral(fmt.Sprintf("You do not have permission to use the /%s command.", name))
	}

	switch name {
	case "refresh":
		return d.handleRefresh(ic)
	case "whitelist":
		return d.handleWhitelist(ctx, ic)
	case "joinall":
		return d.handleJoinAll(ic)
	case "users":
		return message(fmt.Sprintf("There are currently %d authorized users in the database.", d.users.Count()))
	case "links":
		return d.handleLinks()
	case "mybot":
		return message("Authorization gateway is online. All systems operational.")
	case "help":
		return d.handleHelp()
	default:
		return ephemeral(fmt.Sprintf("Unknown command /%s.", name))
	}
}

// allowed implements the permission gate: fixed owners from config plus
// the mutable whitelist registry.
func (d *Dispatcher) allowed(userID string) bool {
	if userID == "" {
		return false
	}
	if d.cfg.IsOwner(userID) {
		return true
	}
	granted, err := d.registry.IsGranted(userID)
	if err != nil {
		logx.Errorf("permission check for %s: %v", userID, err)
		return false
	}
	return granted
}

// editReply rewrites the deferred reply. Failures are swallowed: the
// invoking surface may have gone away, which must not abort the work.
func (d *Dispatcher) editReply(ctx context.Context, ic *Interaction, content string) {
	if err := d.rest.EditOriginalResponse(ctx, ic.ApplicationID, ic.Token, content); err != nil {
		logx.Debugf("edit interaction reply: %v", err)
	}
}

func (d *Dispatcher) handleRefresh(ic *Interaction) Response {
	d.runAsync(func() {
		ctx := context.Background()
		d.editReply(ctx, ic, fmt.Sprintf("Starting token validation for %d users...", d.users.Count()))

		report, err := sweep.Run(ctx, d.users, d.rest, func(p sweep.Progress) {
			d.editReply(ctx, ic, fmt.Sprintf(
				"Token refresh in progress: processed %d/%d (valid %d, removed %d).",
				p.Processed, p.Total, p.Valid, p.Removed))
		})
		if err != nil {
			logx.Errorf("refresh sweep: %v", err)
			d.editReply(ctx, ic, "Token refresh failed; the database was left unchanged.")
			return
		}

		d.editReply(ctx, ic, fmt.Sprintf(
			"Token refresh complete. Initial: %d, removed: %d, remaining: %d.",
			report.Initial, report.Removed, report.Remaining))
	})
	return deferred()
}

func (d *Dispatcher) handleWhitelist(ctx context.Context, ic *Interaction) Response {
	if len(ic.Data.Options) == 0 {
		return ephemeral("Missing whitelist subcommand.")
	}
	sub := ic.Data.Options[0]

	switch sub.Name {
	case "add":
		target := userOption(sub)
		if target == "" {
			return ephemeral("Missing user option.")
		}
		added, err := d.registry.Grant(target)
		if err != nil {
			logx.Errorf("whitelist grant %s: %v", target, err)
			return ephemeral("Failed to update the whitelist.")
		}
		if !added {
			return message(fmt.Sprintf("%s is already whitelisted.", d.displayName(ctx, target)))
		}
		return message(fmt.Sprintf("%s has been added to the whitelist.", d.displayName(ctx, target)))

	case "remove":
		target := userOption(sub)
		if target == "" {
			return ephemeral("Missing user option.")
		}
		removed, err := d.registry.Revoke(target)
		if err != nil {
			logx.Errorf("whitelist revoke %s: %v", target, err)
			return ephemeral("Failed to update the whitelist.")
		}
		if !removed {
			return message(fmt.Sprintf("%s is not currently whitelisted.", d.displayName(ctx, target)))
		}
		return message(fmt.Sprintf("%s has been removed from the whitelist.", d.displayName(ctx, target)))

	case "list":
		ids, err := d.registry.List()
		if err != nil {
			logx.Errorf("whitelist list: %v", err)
			return ephemeral("Failed to read the whitelist.")
		}
		if len(ids) == 0 {
			return message("No users are currently whitelisted.")
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Whitelisted users (%d):\n", len(ids))
		for i, id := range ids {
			fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, d.displayName(ctx, id), id)
		}
		return message(b.String())

	default:
		return ephemeral(fmt.Sprintf("Unknown whitelist subcommand %q.", sub.Name))
	}
}

func (d *Dispatcher) handleJoinAll(ic *Interaction) Response {
	if d.cfg.GuildID == "" {
		return ephemeral("No target guild is configured.")
	}

	d.runAsync(func() {
		ctx := context.Background()
		users := d.users.Snapshot()

		var added, already, failed int
		for _, u := range users {
			status, err := d.rest.AddGuildMember(ctx, d.cfg.GuildID, u.UserID, u.AccessToken)
			if err != nil {
				failed++
				logx.Errorf("joinall: add %s: %v", u.UserID, err)
				continue
			}
			switch status {
			case discord.JoinAdded:
				added++
			case discord.JoinAlreadyMember:
				already++
			}
		}

		d.editReply(ctx, ic, fmt.Sprintf(
			"Join-all complete for %d users: %d added, %d already members, %d errors.",
			len(users), added, already, failed))
	})
	return deferred()
}

func (d *Dispatcher) handleLinks() Response {
	authURL := discord.AuthorizationURL(d.cfg.ClientID, d.cfg.RedirectURI)
	inviteURL := discord.BotInviteURL(d.cfg.ClientID)
	return message(fmt.Sprintf("OAuth2 authorization link:\n%s\n\nBot invite link:\n%s", authURL, inviteURL))
}

func (d *Dispatcher) handleHelp() Response {
	return message(strings.Join([]string{
		"Available commands (owner or whitelist access required):",
		"/refresh - validate all stored tokens and drop expired entries",
		"/whitelist add|remove|list - manage command access",
		"/joinall - pull all authorized users into the target guild",
		"/users - count of authorized users",
		"/links - OAuth2 authorization and bot invite links",
		"/mybot - gateway status",
	}, "\n"))
}

// displayName resolves a user ID to its tag, falling back to the ID when
// the lookup fails.
func (d *Dispatcher) displayName(ctx context.Context, userID string) string {
	u, err := d.rest.User(ctx, userID)
	if err != nil {
		return userID
	}
	return u.Tag()
}

// userOption extracts the "user" option value from a subcommand.
func userOption(sub Option) string {
	for _, o := range sub.Options {
		if o.Name == "user" {
			return o.StringValue()
		}
	}
	return ""
}
