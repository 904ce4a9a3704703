package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/verificaicode/verifica-ai/internal/analysis"
	"github.com/verificaicode/verifica-ai/internal/classify"
	"github.com/verificaicode/verifica-ai/internal/compose"
	"github.com/verificaicode/verifica-ai/internal/config"
	"github.com/verificaicode/verifica-ai/internal/fetch"
	"github.com/verificaicode/verifica-ai/internal/gemini"
	"github.com/verificaicode/verifica-ai/internal/identify"
	"github.com/verificaicode/verifica-ai/internal/messenger"
	"github.com/verificaicode/verifica-ai/internal/pipeline"
	"github.com/verificaicode/verifica-ai/internal/refstore"
	"github.com/verificaicode/verifica-ai/internal/scraper"
	"github.com/verificaicode/verifica-ai/internal/server"
	"github.com/verificaicode/verifica-ai/internal/types"
)

var (
	configPath string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "verifai",
	Short: "Verifica AI - Instagram content verification bot",
	Long: `Verifica AI receives Instagram messages through the Graph API webhook,
runs the submitted content through a grounded two-phase Gemini analysis,
classifies the result and answers with a bounded, source-backed verdict.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server",
	RunE:  runServe,
}

var checkCmd = &cobra.Command{
	Use:   "check [url-or-text]",
	Short: "Verify a single post URL or text and print the answer",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.DefaultConfig().Save(configPath); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", configPath)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "verifai.yaml", "configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(initConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles everything a command needs after wiring.
type app struct {
	cfg      *config.Config
	pipeline *pipeline.Pipeline
	registry *prometheus.Registry
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	llm, err := gemini.NewClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, logger)
	if err != nil {
		return nil, err
	}
	llm.SetPollInterval(cfg.GetUploadPollInterval())

	sources := gemini.NewSourceResolver(cfg.GetRedirectTimeout(), cfg.Gemini.RedirectParallelism, logger)

	var store refstore.Store
	switch cfg.Store.Backend {
	case "redis":
		redisStore, err := refstore.NewRedis(cfg.Store.RedisAddr, cfg.Store.RedisPassword, cfg.GetStoreTTL())
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		store = redisStore
	default:
		store = refstore.NewMemory()
	}

	resolver := scraper.NewClient(cfg.Scraper.BaseURL, cfg.Scraper.APIKey, cfg.GetScraperTimeout())
	identifier := identify.New(store, resolver, llm, nil, logger)
	fetcher := fetch.New(cfg.Media.TempDir, &http.Client{Timeout: cfg.GetMediaTimeout()}, logger)
	engine := analysis.New(llm, llm, sources, logger)
	oracle := classify.NewClient(cfg.Classifier.BaseURL, &http.Client{Timeout: cfg.GetClassifierTimeout()})
	composer := compose.New(oracle, cfg.Response.CharBudget, logger)
	sender := messenger.New(cfg.Graph.BaseURL, cfg.Graph.AccessToken, &http.Client{Timeout: cfg.GetGraphTimeout()}, logger)
	metrics := pipeline.NewMetrics(registry)

	return &app{
		cfg:      cfg,
		pipeline: pipeline.New(identifier, fetcher, engine, composer, sender, store, metrics, logger),
		registry: registry,
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}

	if !a.cfg.Debug {
		go server.Keepalive(ctx, a.cfg.Server.KeepaliveURL, a.cfg.GetKeepaliveInterval(), logger)
	}

	srv := server.New(a.pipeline, a.cfg.Server.VerifyToken, a.cfg.Server.BotAccountID, a.registry, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(a.cfg.Server.Addr) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		// give in-flight webhook goroutines a moment to finish sends
		time.Sleep(time.Second)
		return nil
	case err := <-errCh:
		return err
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}

	answer, err := a.pipeline.Answer(ctx, types.InboundMessage{
		SenderID: "cli",
		Text:     args[0],
	})
	if err != nil {
		return err
	}

	fmt.Println(answer)
	return nil
}
