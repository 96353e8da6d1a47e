package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"memoryagent/internal/config"
	"memoryagent/internal/drive"
	"memoryagent/internal/events"
	"memoryagent/internal/store"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your Memory Agent installation",
		Long: `Verifies that the configuration, database, Google Drive authorization
and event broker are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("Memory Agent Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var passed, failed, warned int

			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'memoryagent init' to create a default configuration.\n")
				return fmt.Errorf("config file missing")
			}
			printPass("Config file", cfgPath)
			passed++

			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				return fmt.Errorf("invalid config")
			}
			printPass("Config validation", "valid")
			passed++

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			// Database and schema
			if detail, err := checkStore(ctx, cfg); err != nil {
				printFail("Database", err.Error())
				failed++
			} else {
				printPass("Database", detail)
				passed++
			}

			// Drive
			if !cfg.Drive.Enabled {
				printWarn("Google Drive", "disabled; attachments will be rejected")
				warned++
			} else if detail, err := checkDrive(ctx, cfg); err != nil {
				printFail("Google Drive", err.Error())
				failed++
			} else {
				printPass("Google Drive", detail)
				passed++
			}

			// Event broker
			if cfg.Events.Enabled {
				fwd, err := events.DialForwarder(cfg.Events.AMQPURL, cfg.Events.Exchange, logger)
				if err != nil {
					printFail("Event broker", err.Error())
					failed++
				} else {
					fwd.Close()
					printPass("Event broker", "exchange "+cfg.Events.Exchange)
					passed++
				}
			}

			// Listen port
			addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
			if err := checkPort(addr); err != nil {
				printWarn("Server port", fmt.Sprintf("%s may be in use: %v", addr, err))
				warned++
			} else {
				printPass("Server port", addr+" available")
				passed++
			}

			if cfg.General.LogFile != "" {
				f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					printWarn("Log file", err.Error())
					warned++
				} else {
					f.Close()
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running the server.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned == 0 {
				fmt.Printf("\nAll checks passed! Memory Agent is ready to run.\n")
			}
			return nil
		},
	}
}

func checkStore(ctx context.Context, cfg *config.Config) (string, error) {
	st, err := openStore(cfg)
	if err != nil {
		return "", err
	}
	defer st.Close()

	if err := st.Ping(ctx); err != nil {
		return "", fmt.Errorf("cannot ping: %w", err)
	}
	v, err := store.GetSchemaVersion(st.DB(), st.Dialect())
	if err != nil {
		return "", fmt.Errorf("schema version: %w", err)
	}
	if v != store.SchemaVersion() {
		return "", fmt.Errorf("schema version %d, expected %d", v, store.SchemaVersion())
	}
	srcs, err := st.ListSources(ctx)
	if err != nil {
		return "", err
	}
	active := 0
	for _, s := range srcs {
		if s.Active {
			active++
		}
	}
	n, err := st.CountNotes(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s, schema v%d, %d/%d sources active, %d notes", cfg.Store.Driver, v, active, len(srcs), n), nil
}

func checkDrive(ctx context.Context, cfg *config.Config) (string, error) {
	reloc, err := newRelocator(ctx, cfg)
	if err != nil {
		return "", err
	}
	email, err := reloc.Account(ctx)
	switch {
	case errors.Is(err, drive.ErrNoToken):
		return "", fmt.Errorf("not authorized; run 'memoryagent drive auth'")
	case err != nil:
		return "", err
	case email == "":
		return "authorized", nil
	default:
		return "authorized as " + email, nil
	}
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
