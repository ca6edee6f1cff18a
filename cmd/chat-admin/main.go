package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mudassirishfaq94/chat-app/auth"
	"github.com/mudassirishfaq94/chat-app/blob"
	"github.com/mudassirishfaq94/chat-app/config"
	"github.com/mudassirishfaq94/chat-app/globals"
	"github.com/mudassirishfaq94/chat-app/persistence"
	"github.com/spf13/cobra"
)

// A small CLI for the maintenance of chat users, rooms and blobs. It talks to the store directly; live connections
// are not notified.

var configPath string

func loadConfig() (*config.Config, error) {
	cfg, err := config.ReadConfiguration(configPath, nil)
	if err != nil {
		return nil, err
	}
	globals.SetLogLevel(cfg.LogLevel)
	return cfg, nil
}

func withPersister(fn func(ctx context.Context, p persistence.Persister) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := persistence.NewGormPersister(cfg.PersistenceConfig)
	if err != nil {
		return err
	}
	defer p.Close()
	return fn(context.Background(), p)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	var set, unset bool
	var cmdUser = &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	var cmdUserShow = &cobra.Command{
		Use:   "show [user id]",
		Short: "Show user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPersister(func(ctx context.Context, p persistence.Persister) error {
				user, err := p.GetUser(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(user)
			})
		},
	}
	var cmdUserAdmin = &cobra.Command{
		Use:   "admin [user id]",
		Short: "Grant or revoke the admin flag",
		Long:  `admin sets (--set) or clears (--unset) the stored admin flag of a user. Connected sessions pick it up on reconnect. Users promoted by their credentials or by auth.admin_users are re-flagged on their next connection.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if set == unset {
				return errors.New("exactly one of --set or --unset is required")
			}
			return withPersister(func(ctx context.Context, p persistence.Persister) error {
				if err := p.SetUserAdmin(ctx, args[0], set); err != nil {
					return err
				}
				globals.AppLogger.Info("admin flag updated", "user", args[0], "admin", set)
				return nil
			})
		},
	}
	cmdUserAdmin.Flags().BoolVar(&set, "set", false, "grant admin")
	cmdUserAdmin.Flags().BoolVar(&unset, "unset", false, "revoke admin")

	var cmdRoom = &cobra.Command{
		Use:   "room",
		Short: "Manage rooms",
	}
	var cmdRoomList = &cobra.Command{
		Use:   "list",
		Short: "List rooms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPersister(func(ctx context.Context, p persistence.Persister) error {
				rooms, err := p.GetRooms(ctx)
				if err != nil {
					return err
				}
				return printJSON(rooms)
			})
		},
	}
	var cmdRoomClear = &cobra.Command{
		Use:   "clear [room code]",
		Short: "Remove every message of a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPersister(func(ctx context.Context, p persistence.Persister) error {
				room, err := p.GetRoomByCode(ctx, args[0])
				if err != nil {
					return err
				}
				n, err := p.ClearRoomMessages(ctx, room.Id)
				if err != nil {
					return err
				}
				globals.AppLogger.Info("room cleared", "room", room.Code, "messages", n)
				return nil
			})
		},
	}

	var name string
	var admin bool
	var ttl time.Duration
	var cmdToken = &cobra.Command{
		Use:   "token",
		Short: "Manage access tokens",
	}
	var cmdTokenIssue = &cobra.Command{
		Use:   "issue [user id]",
		Short: "Issue an access token",
		Long:  `issue prints a signed access token for the given user id. A zero --ttl issues a token without expiry.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tokens, err := auth.NewTokenProvider(cfg.AuthConfig.TokenSecret)
			if err != nil {
				return err
			}
			token, err := tokens.Issue(args[0], name, admin, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmdTokenIssue.Flags().StringVar(&name, "name", "", "display name carried by the token")
	cmdTokenIssue.Flags().BoolVar(&admin, "admin", false, "mark the user as admin")
	cmdTokenIssue.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")

	var olderThan time.Duration
	var cmdBlob = &cobra.Command{
		Use:   "blob",
		Short: "Manage attachment blobs",
	}
	var cmdBlobPrune = &cobra.Command{
		Use:   "prune",
		Short: "Remove old blobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := blob.Open(cfg.BlobConfig.Path, cfg.BlobConfig.MaxSize)
			if err != nil {
				return err
			}
			defer store.Close()
			n, err := store.Prune(time.Now().UTC().Add(-olderThan))
			if err != nil {
				return err
			}
			globals.AppLogger.Info("blobs pruned", "count", n)
			return nil
		},
	}
	cmdBlobPrune.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "minimum age of removed blobs")

	var rootCmd = &cobra.Command{Use: "chat-admin", SilenceUsage: true}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file or directory")
	rootCmd.AddCommand(cmdUser, cmdRoom, cmdToken, cmdBlob)
	cmdUser.AddCommand(cmdUserShow, cmdUserAdmin)
	cmdRoom.AddCommand(cmdRoomList, cmdRoomClear)
	cmdToken.AddCommand(cmdTokenIssue)
	cmdBlob.AddCommand(cmdBlobPrune)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
