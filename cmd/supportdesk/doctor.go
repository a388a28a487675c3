package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"supportdesk/internal/config"
	"supportdesk/internal/embedding"
	"supportdesk/internal/provider"
	"supportdesk/internal/store"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your supportdesk installation",
		Long: `Verifies that the configuration, ticket database, language model provider
and embedding engine are reachable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("supportdesk doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'supportdesk init' to create a default configuration.\n")
				return fmt.Errorf("config file missing")
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, 1 failed\n", passed)
				return fmt.Errorf("config invalid")
			}
			printPass("Config validation", "valid")
			passed++

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			// 3. Database opens, migrates and answers
			if ver, err := checkDatabase(ctx, cfg.Store.DBPath); err != nil {
				printFail("Database", err.Error())
				failed++
			} else {
				printPass("Database", fmt.Sprintf("%s (schema v%d)", cfg.Store.DBPath, ver))
				passed++
			}

			// 4. Language model provider
			prov, err := provider.NewFactory(cfg, logger).Build()
			if err != nil {
				printFail("Provider", err.Error())
				failed++
			} else if err := prov.Healthy(ctx); err != nil {
				printFail("Provider: "+prov.Name(), err.Error())
				failed++
			} else {
				printPass("Provider: "+prov.Name(), "healthy")
				passed++
			}

			// 5. Embedding engine
			emb, err := embedding.NewEngine(ctx, cfg.Embedding, logger)
			switch {
			case err != nil:
				printWarn("Embedding", err.Error()+" (retrieval will only use attached documents)")
				warned++
			default:
				if hc, ok := emb.(embedding.HealthChecker); ok {
					if err := hc.HealthCheck(ctx); err != nil {
						printWarn("Embedding: "+emb.Name(), err.Error())
						warned++
						break
					}
				}
				printPass("Embedding: "+emb.Name(), "reachable")
				passed++
			}

			// 6. API port
			if cfg.API.Enabled {
				addr := net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port))
				if err := checkPort(addr); err != nil {
					printWarn("API port", fmt.Sprintf("%s may be in use: %v", addr, err))
					warned++
				} else {
					printPass("API port", addr+" available")
					passed++
				}
				if cfg.API.APIKey == "" {
					printWarn("API key", "not set; /v1/agent accepts unauthenticated requests")
					warned++
				}
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

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running supportdesk.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nsupportdesk should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! supportdesk is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(ctx context.Context, dbPath string) (int, error) {
	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return 0, err
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		return 0, fmt.Errorf("cannot ping: %w", err)
	}
	return st.SchemaVersion()
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
	fmt.Printf("  [PASS] %-24s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-24s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-24s %s\n", check, detail)
}
