package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"supportdesk/internal/agent"
	"supportdesk/internal/channel"
	"supportdesk/internal/config"
	"supportdesk/internal/domain"
	"supportdesk/internal/embedding"
	"supportdesk/internal/knowledge"
	"supportdesk/internal/provider"
	"supportdesk/internal/security"
	"supportdesk/internal/store"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "supportdesk",
		Short: "supportdesk: language-model action agent for support tickets",
		Long: `supportdesk turns a staff member's instruction about a support ticket into
validated actions (status, priority, tags, summary, close, internal note) and
applies them to the ticket store.`,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json or config.yaml (default: ~/.supportdesk/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(askCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())
	root.AddCommand(ticketCmd())
	root.AddCommand(tagCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file and reconfigures the global logger from it.
func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := setupLogger(cfg.General); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogger(gc config.GeneralConfig) error {
	var level slog.Level
	switch gc.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	if gc.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(gc.LogFile), 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(gc.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
	}
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	return nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a default config and an empty ticket database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			st, err := store.NewSQLiteStore(config.ExpandPath(cfg.Store.DBPath), logger)
			if err != nil {
				return err
			}
			defer st.Close()
			logger.Info("initialized", "config", cfgPath, "db", config.ExpandPath(cfg.Store.DBPath))
			return nil
		},
	}
}

// app holds the wired pipeline for one process.
type app struct {
	store    *store.SQLiteStore
	provider domain.Provider
	embedder embedding.Engine
	agent    *agent.Agent
}

func (a *app) Close() error { return a.store.Close() }

// buildApp wires config → store → embedder → retriever → provider →
// security → agent.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("ticket store: %w", err)
	}

	embedder, err := embedding.NewEngine(ctx, cfg.Embedding, logger)
	if err != nil {
		logger.Warn("embedding engine unavailable, semantic retrieval disabled", "error", err)
	}
	var emb domain.Embedder
	if embedder != nil {
		emb = embedder
	}
	retriever := knowledge.NewRetriever(knowledge.RetrieverConfig{
		Embedder:  emb,
		Searcher:  st,
		Threshold: cfg.Agent.SimilarityThreshold,
		TopK:      cfg.Agent.TopK,
		Logger:    logger,
	})

	prov, err := provider.NewFactory(cfg, logger).Build()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("language model provider: %w", err)
	}

	sec := security.NewEngine(security.EngineConfig{AuditLogger: st, Logger: logger})

	a := agent.New(agent.Config{
		Authorizer: sec,
		Store:      st,
		Retriever:  retriever,
		Interpreter: agent.NewInterpreter(agent.InterpreterConfig{
			Provider:  prov,
			MaxTokens: cfg.Agent.InterpretMaxTokens,
			Logger:    logger,
		}),
		Executor: agent.NewExecutor(agent.ExecutorConfig{
			Store:              st,
			Provider:           prov,
			Auditor:            sec,
			SummaryTemperature: cfg.Agent.SummaryTemperature,
			SummaryMaxTokens:   cfg.Agent.SummaryMaxTokens,
			Logger:             logger,
		}),
		Logger: logger,
	})

	return &app{store: st, provider: prov, embedder: embedder, agent: a}, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the agent over HTTP (POST /v1/agent)",
		Long:  "Starts the HTTP gateway with /v1/agent, /healthz and the metrics endpoint. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

// limiterSweepInterval is how often idle rate-limit buckets are evicted.
const limiterSweepInterval = time.Minute

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.API.Enabled {
		return fmt.Errorf("api.enabled is false; enable it with 'supportdesk config set api.enabled true'")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.provider.Healthy(ctx); err != nil {
		logger.Warn("provider unhealthy at startup", "provider", a.provider.Name(), "err", err)
	} else {
		logger.Info("provider healthy", "provider", a.provider.Name())
	}

	gw := channel.NewGateway(channel.GatewayConfig{
		Host:            cfg.API.Host,
		Port:            cfg.API.Port,
		APIKey:          cfg.API.APIKey,
		MetricsEndpoint: cfg.API.MetricsEndpoint,
		RatePerMinute:   cfg.API.RatePerMinute,
		Burst:           cfg.API.Burst,
		Agent:           a.agent,
		Health:          a.store,
		Logger:          logger,
	})

	logger.Info("supportdesk serving", "addr", gw.Addr(), "version", version)
	if err := runGateway(ctx, gw); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// runGateway serves gw alongside its rate-limit sweeper until ctx is done or
// the gateway stops on its own.
func runGateway(ctx context.Context, gw *channel.Gateway) error {
	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancel(gctx)
	defer cancel()
	g.Go(func() error {
		// The sweeper exits with the gateway.
		defer cancel()
		return gw.Start(gctx)
	})
	g.Go(func() error {
		return gw.SweepLimiter(gctx, limiterSweepInterval)
	})
	return g.Wait()
}

func askCmd() *cobra.Command {
	var (
		ticketID string
		role     string
		userID   string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ask [instruction...]",
		Short: "Run one instruction through the agent against the local store",
		Long: `Runs one instruction through the full pipeline. With --ticket the agent may
change that ticket; without it the agent only answers.`,
		Example: `  supportdesk ask --ticket T-100 mark this urgent and close it
  supportdesk ask how many tickets are waiting on billing?`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.agent.Handle(ctx, agent.Request{
				TicketID:    ticketID,
				Instruction: strings.Join(args, " "),
				UserRole:    role,
				UserID:      userID,
			})
			if err != nil {
				var execErr *domain.ExecutionError
				if errors.As(err, &execErr) {
					fmt.Fprintf(os.Stderr, "%d action(s) were applied before the failure.\n", execErr.Applied)
				}
				return err
			}

			fmt.Println(res.Message)
			if len(res.Actions) > 0 {
				data, _ := json.MarshalIndent(res.Actions, "", "  ")
				fmt.Printf("\nApplied actions (%s mode):\n%s\n", res.Mode, data)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&ticketID, "ticket", "t", "", "ticket ID (omit for general questions)")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleSupport), "caller role (admin, support, customer)")
	cmd.Flags().StringVar(&userID, "user", "cli", "caller user ID recorded on notes and audit entries")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall request timeout (0 disables)")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store, provider and embedding status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false, "error", err)
				cfg = config.Defaults()
				cfg.Store.DBPath = config.ExpandPath(cfg.Store.DBPath)
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
			if err != nil {
				logger.Info("store", "path", cfg.Store.DBPath, "ok", false, "error", err)
			} else {
				defer st.Close()
				ver, _ := st.SchemaVersion()
				counts, err := st.CountTicketsByStatus(ctx)
				if err != nil {
					return err
				}
				attrs := []any{"path", cfg.Store.DBPath, "schema", ver}
				for _, s := range domain.AllStatuses {
					attrs = append(attrs, string(s), counts[s])
				}
				logger.Info("store", attrs...)
			}

			prov := provider.NewFactory(cfg, logger).HealthyProvider(ctx)
			if prov != nil {
				logger.Info("provider", "name", prov.Name(), "healthy", true)
			} else {
				logger.Info("provider", "healthy", false)
			}

			emb, err := embedding.NewEngine(ctx, cfg.Embedding, logger)
			if err != nil {
				logger.Info("embedding", "provider", cfg.Embedding.Provider, "ok", false, "error", err)
				return nil
			}
			if hc, ok := emb.(embedding.HealthChecker); ok {
				if err := hc.HealthCheck(ctx); err != nil {
					logger.Info("embedding", "engine", emb.Name(), "healthy", false, "error", err)
					return nil
				}
			}
			logger.Info("embedding", "engine", emb.Name(), "healthy", true)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. agent.similarityThreshold)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. agent.topK 8)",
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
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if asJSON {
				data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
				fmt.Println(string(data))
				return nil
			}
			for _, s := range config.Settings(cfg) {
				v, _ := json.Marshal(s.Display(cfg))
				fmt.Printf("%s = %s\n", s.Path, v)
			}
			return nil
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print the whole config as JSON")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
