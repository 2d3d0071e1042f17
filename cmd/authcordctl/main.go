package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/authcord/authcord/internal/config"
	"github.com/authcord/authcord/internal/discord"
	"github.com/authcord/authcord/internal/store"
	"github.com/authcord/authcord/internal/version"
	"github.com/authcord/authcord/internal/whitelist"
	"github.com/spf13/cobra"
)

// authcordctl is the offline admin tool: it operates directly on the
// gateway's config, user store and whitelist database, without the
// server running.

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "authcordctl",
		Short:   "authcordctl - manage the authorization gateway's durable state",
		Version: version.Version,
	}
	rootCmd.SetVersionTemplate(version.String("authcordctl") + "\n")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "Path to the JSON config file")

	rootCmd.AddCommand(newUsersCmd(&configPath))
	rootCmd.AddCommand(newWhitelistCmd(&configPath))
	rootCmd.AddCommand(newLinksCmd(&configPath))
	rootCmd.AddCommand(newExportCmd(&configPath))
	rootCmd.AddCommand(newSetCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*store.Store, error) {
	s, err := store.Open(cfg.StorePath, nil)
	if err != nil {
		return nil, fmt.Errorf("open user store: %w", err)
	}
	return s, nil
}

func newUsersCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "Print the count of authorized users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			users, err := openStore(cfg)
			if err != nil {
				return err
			}
			fmt.Printf("%d authorized users in %s\n", users.Count(), cfg.StorePath)
			return nil
		},
	}
}

func newWhitelistCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whitelist",
		Short: "Manage the command-access whitelist",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <user_id>",
		Short: "Grant command access to a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(*configPath, func(r *whitelist.Registry) error {
				added, err := r.Grant(args[0])
				if err != nil {
					return err
				}
				if !added {
					fmt.Printf("%s is already whitelisted\n", args[0])
					return nil
				}
				fmt.Printf("%s added to the whitelist\n", args[0])
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <user_id>",
		Short: "Revoke a user's command access",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(*configPath, func(r *whitelist.Registry) error {
				removed, err := r.Revoke(args[0])
				if err != nil {
					return err
				}
				if !removed {
					fmt.Printf("%s is not whitelisted\n", args[0])
					return nil
				}
				fmt.Printf("%s removed from the whitelist\n", args[0])
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List whitelisted user IDs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(*configPath, func(r *whitelist.Registry) error {
				ids, err := r.List()
				if err != nil {
					return err
				}
				if len(ids) == 0 {
					fmt.Println("no users whitelisted")
					return nil
				}
				for i, id := range ids {
					fmt.Printf("%d. %s\n", i+1, id)
				}
				return nil
			})
		},
	})

	return cmd
}

func withRegistry(configPath string, fn func(*whitelist.Registry) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	r, err := whitelist.Open(cfg.WhitelistDB)
	if err != nil {
		return fmt.Errorf("open whitelist database: %w", err)
	}
	defer r.Close()
	return fn(r)
}

func newLinksCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "links",
		Short: "Print the OAuth2 authorization and bot invite URLs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			fmt.Printf("authorization: %s\n", discord.AuthorizationURL(cfg.ClientID, cfg.RedirectURI))
			fmt.Printf("invite:        %s\n", discord.BotInviteURL(cfg.ClientID))
			return nil
		},
	}
}

func newExportCmd(configPath *string) *cobra.Command {
	var redactTokens bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Dump the user store as JSON to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			users, err := openStore(cfg)
			if err != nil {
				return err
			}

			records := users.Snapshot()
			if redactTokens {
				for i := range records {
					records[i].AccessToken = ""
					records[i].RefreshToken = ""
				}
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		},
	}

	cmd.Flags().BoolVar(&redactTokens, "redact", false, "Blank out access and refresh tokens in the output")
	return cmd
}

func newSetCmd(configPath *string) *cobra.Command {
	var (
		guildID    string
		webhookURL string
		listenAddr string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update config values and rewrite the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("guild") &&
				!cmd.Flags().Changed("webhook") &&
				!cmd.Flags().Changed("listen") {
				return fmt.Errorf("nothing to set: pass --guild, --webhook or --listen")
			}

			_, err = config.Update(cfg, *configPath, func(c *config.Config) {
				if cmd.Flags().Changed("guild") {
					c.GuildID = guildID
				}
				if cmd.Flags().Changed("webhook") {
					c.WebhookURL = webhookURL
				}
				if cmd.Flags().Changed("listen") {
					c.ListenAddr = listenAddr
				}
			})
			if err != nil {
				return err
			}
			fmt.Printf("updated %s\n", *configPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&guildID, "guild", "", "Target guild ID for /joinall")
	cmd.Flags().StringVar(&webhookURL, "webhook", "", "Authorization notification webhook URL")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "Server listen address")
	return cmd
}
