package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/flowbot/internal/config"
	"github.com/soyeahso/flowbot/internal/flow"
	"github.com/soyeahso/flowbot/internal/gateway"
	"github.com/soyeahso/flowbot/internal/hooks"
	"github.com/soyeahso/flowbot/internal/intent"
	"github.com/soyeahso/flowbot/internal/logging"
	"github.com/soyeahso/flowbot/internal/metric"
	"github.com/soyeahso/flowbot/internal/store"
)

// classifyGrace is added on top of the provider timeout for the engine's
// overall classification deadline.
const classifyGrace = time.Second

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"gateway"},
		Short:   "Start the chatbot server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}

			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			if logLevel == "" {
				log = logging.NewStyled(cfg.Logging.ConsoleStyle, cfg.Logging.Level)
			}

			flows, sessions, closeStore, err := openStores(cfg.Store, log)
			if err != nil {
				return err
			}
			defer closeStore()

			metrics := metric.New()

			classifier, names := buildClassifier(cfg.Classifier, log)
			log.Info().Strs("providers", names).Msg("intent classifier ready")

			timeout := time.Duration(cfg.Classifier.TimeoutMs) * time.Millisecond
			engine := flow.NewEngine(sessions, classifier, log,
				flow.WithClassifyTimeout(timeout+classifyGrace),
				flow.WithMetrics(metrics),
			)

			hookMgr := hooks.NewManager(log)
			if n := hookMgr.Register(cfg.Hooks); n > 0 {
				log.Info().Int("hooks", n).Strs("events", hookMgr.Events()).Msg("command hooks registered")
			}

			srv := gateway.New(cfg.Gateway, log,
				gateway.WithStores(flows, sessions),
				gateway.WithEngine(engine),
				gateway.WithMetrics(metrics),
				gateway.WithHooks(hookMgr),
			)

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (auto, lan, loopback, custom)")

	return cmd
}

// openStores builds the flow and session stores for the configured driver.
func openStores(cfg config.StoreConfig, log *logging.Logger) (flow.ConfigStore, flow.SessionStore, func(), error) {
	var (
		db  *store.DB
		err error
	)
	switch cfg.Driver {
	case "memory":
		log.Warn().Msg("using in-memory stores, flows and sessions are lost on exit")
		return flow.NewMemoryConfigStore(), flow.NewMemorySessionStore(), func() {}, nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, nil, nil, errors.New("store.dsn is required for the postgres driver")
		}
		db, err = store.OpenPostgres(cfg.DSN, log)
	default:
		dbPath := cfg.Path
		if dbPath == "" {
			dbPath = paths.SQLitePath()
		}
		db, err = store.Open(dbPath, log)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return store.NewFlowStore(db), store.NewSessionStore(db), func() { db.Close() }, nil
}

// buildClassifier assembles the provider chain. Without an API key only the
// keyword provider is used.
func buildClassifier(cfg config.ClassifierConfig, log *logging.Logger) (intent.Classifier, []string) {
	var providers []intent.Provider
	if cfg.Provider != "keyword" {
		if cfg.APIKey != "" {
			providers = append(providers, intent.NewOpenAIProvider(intent.OpenAIConfig{
				APIKey:      cfg.APIKey,
				Model:       cfg.Model,
				BaseURL:     cfg.BaseURL,
				Temperature: cfg.Temperature,
				MaxTokens:   cfg.MaxTokens,
			}))
		} else {
			log.Warn().Msg("no OpenAI API key configured, falling back to keyword matching")
		}
	}
	if len(providers) == 0 || cfg.KeywordFailover {
		providers = append(providers, intent.KeywordProvider{})
	}

	guard := intent.NewGuard(log, time.Duration(cfg.TimeoutMs)*time.Millisecond, providers...)
	return guard, guard.Providers()
}
