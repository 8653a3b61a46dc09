package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"schoolcomm/internal/config"
)

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install or remove the gateway as a background service (launchd/systemd)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Install a user service that runs 'schoolcomm serve' on startup",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			path, body, err := serviceUnit(runtime.GOOS, home, execPath, resolveConfigPath())
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Join(config.DefaultConfigDir(), "logs"), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Service installed: %s\n", path)
			if runtime.GOOS == "darwin" {
				fmt.Fprintf(cmd.OutOrStdout(), "To start: launchctl load %s\n", path)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "To start:  systemctl --user start schoolcomm")
				fmt.Fprintln(cmd.OutOrStdout(), "To enable: systemctl --user enable schoolcomm")
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the installed user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			path, _, err := serviceUnit(runtime.GOOS, home, "", "")
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Service uninstalled: %s\n", path)
			return nil
		},
	})
	return cmd
}

const launchdLabel = "org.schoolcomm.gateway"

// serviceUnit returns the service file location and contents for goos.
func serviceUnit(goos, home, execPath, cfgPath string) (string, string, error) {
	switch goos {
	case "darwin":
		logDir := filepath.Join(home, ".schoolcomm", "logs")
		r := strings.NewReplacer(
			"{{LABEL}}", launchdLabel,
			"{{EXEC}}", execPath,
			"{{CONFIG}}", cfgPath,
			"{{LOG}}", filepath.Join(logDir, "schoolcomm.out"),
			"{{ERR_LOG}}", filepath.Join(logDir, "schoolcomm.err"),
		)
		return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist"), r.Replace(launchdTemplate), nil
	case "linux":
		r := strings.NewReplacer("{{EXEC}}", execPath, "{{CONFIG}}", cfgPath)
		return filepath.Join(home, ".config", "systemd", "user", "schoolcomm.service"), r.Replace(systemdTemplate), nil
	default:
		return "", "", fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
	}
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>serve</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{LOG}}</string>
    <key>StandardErrorPath</key>
    <string>{{ERR_LOG}}</string>
</dict>
</plist>`

const systemdTemplate = `[Unit]
Description=schoolcomm school messaging gateway
After=network-online.target

[Service]
Type=simple
ExecStart={{EXEC}} serve --config {{CONFIG}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target`
