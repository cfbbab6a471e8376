package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/ringclaw/internal/channels/ringcentral"
	"github.com/nextlevelbuilder/ringclaw/internal/config"
)

func chatsCmd() *cobra.Command {
	var accountID string
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "Inspect and refresh the chat cache",
	}
	cmd.PersistentFlags().StringVar(&accountID, "account", "default", "ringcentral account id")
	cmd.AddCommand(chatsRefreshCmd(&accountID))
	cmd.AddCommand(chatsListCmd(&accountID))
	return cmd
}

// openChatCache builds a standalone client + cache for one account,
// restored from disk.
func openChatCache(accountID string) (*ringcentral.ChatCache, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	acct, ok := cfg.Channels.RingCentral.Accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("unknown ringcentral account %q", accountID)
	}
	creds := acct.Credentials
	client := ringcentral.NewRestClient(accountID, creds.ServerOrDefault(), creds.ClientID, creds.ClientSecret, creds.JWT)

	workspace := cfg.WorkspacePath()
	if acct.Workspace != "" {
		workspace = config.ExpandHome(acct.Workspace)
	}
	cache := ringcentral.NewChatCache(client, workspace, newCLILogger())
	if err := cache.Restore(); err != nil {
		return nil, err
	}
	return cache, nil
}

func chatsRefreshCmd(accountID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Rebuild the chat cache from the platform",
		Run: func(cmd *cobra.Command, args []string) {
			cache, err := openChatCache(*accountID)
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			count, err := cache.Refresh(ctx)
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			fmt.Printf("cached %d chats\n", count)
		},
	}
}

func chatsListCmd(accountID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached chats",
		Run: func(cmd *cobra.Command, args []string) {
			cache, err := openChatCache(*accountID)
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			chats := cache.All()
			if len(chats) == 0 {
				fmt.Println("chat cache is empty; run: ringclaw chats refresh")
				return
			}
			for _, c := range chats {
				name := c.Name
				if name == "" {
					name = "-"
				}
				fmt.Printf("%-12s %-10s %s\n", c.ID, c.Type, name)
			}
		},
	}
}
