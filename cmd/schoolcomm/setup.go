package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"schoolcomm/internal/config"
)

var knownTransports = []struct {
	ID   string
	Desc string
}{
	{"whatsapp", "WhatsApp Cloud API (webhook + outbound)"},
	{"telegram", "Telegram bot (long polling + outbound)"},
	{"log", "Dry run: inbound via the JSON webhook, outbound only logged"},
}

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup: transport → credentials → directory → save config",
		Long: `Guides you through the messaging transport, its credentials, the
directory seed file and the HTTP port. Writes the config to the path used
by --config or the default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(cmd.InOrStdin(), cmd.OutOrStdout(), resolveConfigPath())
		},
	}
}

func runSetup(in io.Reader, out io.Writer, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Defaults()
	}

	reader := bufio.NewReader(in)
	prompt := func(def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, " [%s]: ", def)
		} else {
			fmt.Fprint(out, ": ")
		}
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" {
			return def, nil
		}
		return s, nil
	}

	// Step 1: Transport
	fmt.Fprintln(out, "\n--- Step 1: Messaging transport ---")
	for i, t := range knownTransports {
		fmt.Fprintf(out, "  %d) %s: %s\n", i+1, t.ID, t.Desc)
	}
	fmt.Fprintf(out, "Choose transport (1-%d)", len(knownTransports))
	choice, err := prompt("1")
	if err != nil {
		return err
	}
	idx, err := strconv.Atoi(choice)
	if err != nil || idx < 1 || idx > len(knownTransports) {
		idx = 1
	}
	transport := knownTransports[idx-1].ID

	// Step 2: Credentials
	fmt.Fprintln(out, "\n--- Step 2: Credentials ---")
	cfg.WhatsApp.Enabled = transport == "whatsapp"
	cfg.Telegram.Enabled = transport == "telegram"
	cfg.Dispatch.Transport = transport
	switch transport {
	case "whatsapp":
		if cfg.WhatsApp.VerifyToken == "" {
			cfg.WhatsApp.VerifyToken = uuid.NewString()
		}
		fields := []struct {
			label string
			dst   *string
			def   string
		}{
			{"Access token (or ${WA_ACCESS_TOKEN})", &cfg.WhatsApp.AccessToken, orDefault(cfg.WhatsApp.AccessToken, "${WA_ACCESS_TOKEN}")},
			{"Phone number ID (or ${WA_PHONE_NUMBER_ID})", &cfg.WhatsApp.PhoneNumberID, orDefault(cfg.WhatsApp.PhoneNumberID, "${WA_PHONE_NUMBER_ID}")},
			{"Webhook verify token", &cfg.WhatsApp.VerifyToken, cfg.WhatsApp.VerifyToken},
			{"App secret for signature checks (optional)", &cfg.WhatsApp.AppSecret, cfg.WhatsApp.AppSecret},
		}
		for _, f := range fields {
			fmt.Fprint(out, f.label)
			v, err := prompt(f.def)
			if err != nil {
				return err
			}
			*f.dst = v
		}
	case "telegram":
		fmt.Fprint(out, "Telegram bot token (from @BotFather)")
		tok, err := prompt(orDefault(cfg.Telegram.Token, "${TELEGRAM_TOKEN}"))
		if err != nil {
			return err
		}
		cfg.Telegram.Token = tok
	default:
		cfg.Webhook.Enabled = true
		fmt.Fprintf(out, "  Messages are accepted on %s\n", cfg.Webhook.Path)
	}

	// Step 3: Directory
	fmt.Fprintln(out, "\n--- Step 3: School directory ---")
	fmt.Fprint(out, "YAML seed imported on every start (empty to manage it with 'schoolcomm directory import')")
	seed, err := prompt(cfg.Store.SeedPath)
	if err != nil {
		return err
	}
	cfg.Store.SeedPath = seed

	// Step 4: HTTP
	fmt.Fprintln(out, "\n--- Step 4: HTTP server ---")
	fmt.Fprint(out, "Port for webhooks and the dashboard")
	port, err := prompt(strconv.Itoa(cfg.Server.Port))
	if err != nil {
		return err
	}
	if p, err := strconv.Atoi(port); err == nil {
		cfg.Server.Port = p
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nConfig saved to %s\n", cfgPath)
	fmt.Fprintln(out, "Next: run 'schoolcomm doctor', then 'schoolcomm serve'.")
	return nil
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
