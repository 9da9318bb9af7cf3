package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/botgate/internal/config"
	"github.com/nextlevelbuilder/botgate/internal/store"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or clear the persisted gateway session record",
	}
	cmd.AddCommand(sessionShowCmd(), sessionClearCmd())
	return cmd
}

func sessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the stored session record for the configured account",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, st := mustOpenStore()
			rec, err := st.Load(cfg.Account.AppID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					fmt.Println("no session record stored")
					return
				}
				fmt.Fprintln(os.Stderr, "load failed:", err)
				os.Exit(1)
			}
			fmt.Println("account:      ", rec.AccountID)
			fmt.Println("session_id:   ", rec.SessionID)
			fmt.Println("last_seq:     ", rec.LastSeq)
			fmt.Println("connected_at: ", rec.LastConnectedAt.Format(time.RFC3339))
			fmt.Println("intent_level: ", rec.IntentLevelIndex)
			fmt.Println("saved_at:     ", rec.SavedAt.Format(time.RFC3339))
			fmt.Println("resumable:    ", rec.Resumable(cfg.Account.AppID))
		},
	}
}

func sessionClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the stored session record (forces a fresh identify)",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, st := mustOpenStore()
			if err := st.Clear(cfg.Account.AppID); err != nil {
				fmt.Fprintln(os.Stderr, "clear failed:", err)
				os.Exit(1)
			}
			fmt.Println("session record cleared for", cfg.Account.AppID)
		},
	}
}

func mustOpenStore() (*config.Config, store.SessionStore) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	if cfg.Account.AppID == "" {
		fmt.Fprintln(os.Stderr, "no account configured; run 'botgate onboard' first")
		os.Exit(1)
	}
	st, _, err := openSessionStore(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "session store unavailable:", err)
		os.Exit(1)
	}
	return cfg, st
}
