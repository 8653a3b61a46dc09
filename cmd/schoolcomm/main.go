package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"schoolcomm/internal/classify"
	"schoolcomm/internal/config"
	"schoolcomm/internal/logging"
	"schoolcomm/internal/store"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
	envFile    string
	closeLog   = func() error { return nil }
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "schoolcomm",
		Short: "schoolcomm: school-to-parent messaging gateway",
		Long: `schoolcomm receives structured messages from teachers and administrators
over WhatsApp, Telegram or a JSON webhook, checks them against the school
directory, stores them and fans them out to parents in their language.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return closeLog()
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.schoolcomm/config.json)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(classifyCmd())
	root.AddCommand(recentCmd())
	root.AddCommand(directoryCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(setupCmd())
	root.AddCommand(serviceCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config (or defaults plus environment when the file is
// missing) and rebuilds the logger from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefaults(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	l, closeFn, err := logging.New(logging.Config{Level: cfg.General.LogLevel, File: cfg.General.LogFile})
	if err != nil {
		return nil, err
	}
	logger, closeLog = l, closeFn
	return cfg, nil
}

func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func initCmd() *cobra.Command {
	var withSample bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the config file and database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				logger.Info("config already exists, leaving it unchanged", "config", cfgPath)
			} else {
				if err := config.Save(cfgPath, config.Defaults()); err != nil {
					return err
				}
				logger.Info("config written", "config", cfgPath)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if withSample {
				seed, err := store.ParseSeed(store.SampleSeed())
				if err != nil {
					return err
				}
				if err := st.Import(cmd.Context(), seed); err != nil {
					return err
				}
				logger.Info("sample directory imported")
			}
			logger.Info("initialized", "config", cfgPath, "db", st.Path())
			return nil
		},
	}
	cmd.Flags().BoolVar(&withSample, "sample", false, "import the sample school directory")
	return cmd
}

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify [text|-]",
		Short: "Classify a message and print the intent as JSON",
		Long: `Runs the message classifier without touching the directory, the store or
any transport. Pass "-" (or nothing) to read the message from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readMessageArg(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			intent := classify.Classify(text)
			out := struct {
				Kind   string `json:"kind"`
				Intent any    `json:"intent"`
			}{string(intent.Kind()), intent}
			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func readMessageArg(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(bufio.NewReader(stdin))
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func recentCmd() *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List recently stored notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			records, err := st.RecentNotifications(ctx, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				data, err := json.MarshalIndent(records, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tTYPE\tSCOPE\tRECIPIENTS\tID")
			for _, r := range records {
				scope := string(r.Scope.Kind)
				if r.Scope.ClassName != "" {
					scope += ":" + r.Scope.ClassName
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Type, scope, len(r.Bodies), r.ID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of notifications to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print full records as JSON")
	return cmd
}

func directoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "directory",
		Short: "Manage the school directory (staff, guardians, students)",
	}

	var sample bool
	importCmd := &cobra.Command{
		Use:   "import [seed.yaml]",
		Short: "Import a YAML directory seed (idempotent)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var seed *store.Seed
			var err error
			switch {
			case sample:
				seed, err = store.ParseSeed(store.SampleSeed())
			case len(args) == 1:
				seed, err = store.LoadSeed(args[0])
			default:
				return fmt.Errorf("specify a seed file or --sample")
			}
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Import(cmd.Context(), seed); err != nil {
				return err
			}
			logger.Info("directory imported",
				"organizations", len(seed.Organizations),
				"staff", len(seed.Staff),
				"guardians", len(seed.Guardians),
				"students", len(seed.Students),
			)
			return nil
		},
	}
	importCmd.Flags().BoolVar(&sample, "sample", false, "import the built-in sample directory")
	cmd.AddCommand(importCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "List registered senders and directory totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			senders, err := st.ListSenders(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := st.Stats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ROLE\tNAME\tADDRESS\tCLASS\tORGANIZATION")
			for _, s := range senders {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Role, s.Name, s.Address, s.AssignedClassName, s.OrganizationID)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%d teachers, %d admins, %d guardians, %d students\n",
				stats.Teachers, stats.Admins, stats.Guardians, stats.Students)
			return nil
		},
	})
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. dispatch.maxAttempts)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. dispatch.concurrency 8)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefaults(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, pv := range config.ListPaths(config.Sanitize(cfg)) {
				fmt.Fprintf(tw, "%s\t%v\n", pv.Path, pv.Value)
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	return cmd
}
