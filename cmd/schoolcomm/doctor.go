package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"schoolcomm/internal/config"
	"schoolcomm/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the gateway installation",
		Long: `Verifies that the configuration, database, school directory and
provider credentials are set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("schoolcomm doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file
			if _, err := os.Stat(cfgPath); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s, using defaults and environment", cfgPath))
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			// 2. Config loads and validates
			cfg, err := config.LoadOrDefaults(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Database writable and migrated
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			st, err := checkDatabase(ctx, cfg.Store.DBPath)
			if err != nil {
				printFail("Database", err.Error())
				failed++
			} else {
				defer st.Close()
				printPass("Database", cfg.Store.DBPath)
				passed++

				// 4. Directory populated
				stats, err := st.Stats(ctx)
				switch {
				case err != nil:
					printFail("Directory", err.Error())
					failed++
				case stats.Teachers+stats.Admins == 0:
					printWarn("Directory", "no senders registered (run 'schoolcomm directory import')")
					warned++
				case stats.Guardians == 0:
					printWarn("Directory", "no guardians registered, notifications will reach nobody")
					warned++
				default:
					printPass("Directory", fmt.Sprintf("%d teachers, %d admins, %d guardians",
						stats.Teachers, stats.Admins, stats.Guardians))
					passed++
				}
			}

			// 5. Transports
			tr, err := buildTransports(cfg)
			if err != nil {
				printFail("Transport", err.Error())
				failed++
			} else {
				for _, s := range tr.status() {
					label := "Transport: " + s.Name
					switch {
					case !s.Configured:
						printWarn(label, "enabled but credentials are missing")
						warned++
					case s.Name == "log":
						printWarn(label, "outbound messages will only be logged")
						warned++
					case s.Outbound:
						printPass(label, "configured (outbound)")
						passed++
					default:
						printPass(label, "configured")
						passed++
					}
				}
			}

			// 6. Server port
			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				printWarn("Server port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
				warned++
			} else {
				printPass("Server port", fmt.Sprintf(":%d available", cfg.Server.Port))
				passed++
			}

			// 7. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running the gateway.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nThe gateway should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! The gateway is ready to run.\n")
			}
			return nil
		},
	}
}

// checkDatabase opens (and migrates) the store and verifies it answers
// at the expected schema version.
func checkDatabase(ctx context.Context, dbPath string) (*store.SQLiteStore, error) {
	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("cannot open: %w", err)
	}
	if err := st.Ping(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("cannot ping: %w", err)
	}
	v, err := st.AppliedSchemaVersion()
	if err != nil {
		st.Close()
		return nil, err
	}
	if v != store.SchemaVersion {
		st.Close()
		return nil, fmt.Errorf("schema version %d, expected %d", v, store.SchemaVersion)
	}
	return st, nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-24s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-24s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-24s %s\n", check, detail)
}
