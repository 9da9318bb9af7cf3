package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/botgate/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup wizard (writes the config file)",
		Run: func(cmd *cobra.Command, args []string) {
			if err := runOnboard(resolveConfigPath()); err != nil {
				fmt.Fprintln(os.Stderr, "onboard failed:", err)
				os.Exit(1)
			}
		},
	}
}

// canAutoOnboard reports whether credentials arrived via environment,
// indicating non-interactive setup (e.g. Docker).
func canAutoOnboard() bool {
	return os.Getenv("BOTGATE_APP_ID") != "" && os.Getenv("BOTGATE_CLIENT_SECRET") != ""
}

func runOnboard(cfgPath string) error {
	cfg := config.Default()

	if canAutoOnboard() {
		fmt.Println("Auto-onboard: environment variables detected, running non-interactive setup...")
		cfg.ApplyEnvOverrides()
		return finishOnboard(cfgPath, cfg)
	}

	var (
		appID       string
		environment = "production"
		backend     = cfg.Sessions.Backend
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bot App ID").
				Description("The application id from the bot management console.").
				Value(&appID).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("app id is required")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Environment").
				Options(
					huh.NewOption("Production", "production"),
					huh.NewOption("Sandbox", "sandbox"),
				).
				Value(&environment),
			huh.NewSelect[string]().
				Title("Session storage backend").
				Options(
					huh.NewOption("JSON files (one per account)", "file"),
					huh.NewOption("SQLite database", "sqlite"),
				).
				Value(&backend),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Account.AppID = appID
	cfg.Account.Sandbox = environment == "sandbox"
	cfg.Sessions.Backend = backend
	if backend == "sqlite" {
		cfg.Sessions.Storage = "~/.botgate/sessions.db"
	}

	return finishOnboard(cfgPath, cfg)
}

func finishOnboard(cfgPath string, cfg *config.Config) error {
	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Println("Config written to", cfgPath)
	fmt.Println()
	fmt.Println("The client secret is read from the environment and never stored:")
	fmt.Println("  export BOTGATE_CLIENT_SECRET=<your app secret>")
	fmt.Println()
	fmt.Println("Then start the connector with: botgate run")
	return nil
}
