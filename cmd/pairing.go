package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/ringclaw/internal/channels/ringcentral"
	"github.com/nextlevelbuilder/ringclaw/internal/config"
	"github.com/nextlevelbuilder/ringclaw/internal/store"
)

func pairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Manage DM pairing approvals",
	}
	cmd.AddCommand(pairingApproveCmd())
	cmd.AddCommand(pairingListCmd())
	return cmd
}

func openPairingStore() (*store.FilePairingStore, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	return store.NewFilePairingStore(filepath.Join(cfg.WorkspacePath(), "pairing.json"))
}

func pairingApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <user>",
		Short: "Approve a sender to DM the bot",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ps, err := openPairingStore()
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			sender := ringcentral.NormalizeTarget(args[0])
			if sender == "" {
				fmt.Fprintln(os.Stderr, "error: empty sender id")
				os.Exit(1)
			}
			if err := ps.Approve(sender, ringcentral.ChannelName); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			fmt.Printf("approved %s for %s DMs\n", sender, ringcentral.ChannelName)
		},
	}
}

func pairingListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List approved senders",
		Run: func(cmd *cobra.Command, args []string) {
			ps, err := openPairingStore()
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			approved := ps.List(ringcentral.ChannelName)
			if len(approved) == 0 {
				fmt.Println("no approved senders")
				return
			}
			for _, s := range approved {
				fmt.Println(s)
			}
		},
	}
}
