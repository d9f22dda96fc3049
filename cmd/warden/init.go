package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, _ := cmd.Flags().GetString("output")
			force, _ := cmd.Flags().GetBool("force")
			if out == "" {
				out = filepath.Join(defaultConfigDir(), "warden.yaml")
			}
			return runInitWizard(out, force)
		},
	}
	cmd.Flags().StringP("output", "o", "", "Where to write the configuration file")
	cmd.Flags().Bool("force", false, "Overwrite an existing configuration file")
	return cmd
}

// wizardAnswers collects the operator's choices before anything is written.
type wizardAnswers struct {
	strategy  string
	bind      string
	authToken string

	useTelegram bool
	botToken    string
	chatID      string

	useAITL bool
	apiKey  string

	useSQLite bool
}

func runInitWizard(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	a := wizardAnswers{
		strategy:  "hitl",
		bind:      "127.0.0.1:8080",
		useSQLite: true,
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Default mitigation strategy").
				Description("Applied when no tool or model override matches").
				Options(
					huh.NewOption("Human approval (hitl)", "hitl"),
					huh.NewOption("AI review (aitl)", "aitl"),
					huh.NewOption("Allow everything", "allow"),
					huh.NewOption("Deny everything", "deny"),
				).
				Value(&a.strategy),
			huh.NewInput().
				Title("Gateway bind address").
				Value(&a.bind),
			huh.NewInput().
				Title("Gateway bearer token").
				Description("Clients must present this token; leave empty for an open gateway").
				EchoMode(huh.EchoModePassword).
				Value(&a.authToken),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Approve calls over Telegram?").
				Value(&a.useTelegram),
			huh.NewInput().
				Title("Telegram bot token").
				EchoMode(huh.EchoModePassword).
				Value(&a.botToken),
			huh.NewInput().
				Title("Telegram chat id").
				Validate(func(s string) error {
					if s == "" {
						return nil
					}
					if _, err := strconv.ParseInt(s, 10, 64); err != nil {
						return errors.New("must be a numeric chat id")
					}
					return nil
				}).
				Value(&a.chatID),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable AI review (Anthropic)?").
				Value(&a.useAITL),
			huh.NewInput().
				Title("Anthropic API key").
				Description("Leave empty to read ANTHROPIC_API_KEY from the environment").
				EchoMode(huh.EchoModePassword).
				Value(&a.apiKey),
			huh.NewConfirm().
				Title("Store the audit trail in SQLite?").
				Value(&a.useSQLite),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	doc, err := buildConfig(a)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", path)
	fmt.Println("Start warden with: warden start --config", path)
	return nil
}

// buildConfig renders the answers into a warden.yaml document.
func buildConfig(a wizardAnswers) ([]byte, error) {
	modules := map[string]any{
		"policy": map[string]any{
			"enabled":          true,
			"default_strategy": a.strategy,
		},
		"gateway.http": map[string]any{
			"bind": a.bind,
			"auth": map[string]any{
				"bearer_token": a.authToken,
			},
		},
		"watchdog": map[string]any{},
	}

	if a.useTelegram {
		tg := map[string]any{
			"token": a.botToken,
		}
		if a.chatID != "" {
			id, err := strconv.ParseInt(a.chatID, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid chat id %q: %w", a.chatID, err)
			}
			tg["chat_id"] = id
		}
		modules["approver.telegram"] = tg
	}

	if a.useAITL {
		rev := map[string]any{}
		if a.apiKey != "" {
			rev["api_key"] = a.apiKey
		}
		modules["reviewer.anthropic"] = rev
		if p, ok := modules["policy"].(map[string]any); ok && a.strategy == "aitl" {
			p["aitl_spotlighting"] = true
		}
	}

	if a.useSQLite {
		modules["audit.sqlite"] = map[string]any{}
		modules["cron"] = map[string]any{}
	} else {
		modules["audit.jsonl"] = map[string]any{}
	}

	return yaml.Marshal(map[string]any{
		"version": "1",
		"modules": modules,
	})
}

func defaultConfigDir() string {
	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		return filepath.Join(xdg, "warden")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "warden")
}
