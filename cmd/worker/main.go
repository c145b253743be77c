// Package main provides the entry point for the storyline worker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/storyline/internal/classify"
	"github.com/thebtf/storyline/internal/config"
	"github.com/thebtf/storyline/internal/db/gorm"
	"github.com/thebtf/storyline/internal/entities"
	"github.com/thebtf/storyline/internal/extract"
	"github.com/thebtf/storyline/internal/pipeline"
	"github.com/thebtf/storyline/internal/privacy"
	"github.com/thebtf/storyline/internal/source"
	"github.com/thebtf/storyline/internal/worker"
)

var Version = "dev"

var cfgFile string

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "storyline",
		Short:         "Ingest news articles and group them into ranked stories",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			// A missing .env is normal outside development.
			_ = godotenv.Load()
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $XDG_CONFIG_HOME/storyline/config.yaml)")

	root.PersistentFlags().StringVar(&workerAddr, "addr", "", "worker base URL for trigger and status (default http://127.0.0.1:<worker.port>)")

	root.AddCommand(newServeCmd(), newRunCmd(), newTriggerCmd(), newStatusCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline on a schedule and serve the control API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := serve()
			if err != nil {
				log.Error().Err(err).Msg("worker failed")
			}
			return err
		},
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one ingestion cycle and print its statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stats, err := runOnce(ctx)
			if stats != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(stats); encErr != nil {
					return encErr
				}
			}
			if err != nil {
				log.Error().Err(err).Msg("run failed")
			}
			return err
		},
	}
}

// app holds the wired components shared by both commands.
type app struct {
	cfg      *config.Config
	store    *gorm.Store
	pipeline *pipeline.Pipeline
}

func setup() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	store, err := gorm.NewStore(gorm.Config{
		DSN:      cfg.Database.DSN,
		Driver:   cfg.Database.Driver,
		MaxConns: cfg.Database.MaxConns,
		LogLevel: gorm.ParseLogLevel(cfg.Database.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %s", privacy.RedactDSN(cfg.Database.DSN), privacy.RedactSecrets(err.Error()))
	}
	log.Info().
		Str("dsn", privacy.RedactDSN(cfg.Database.DSN)).
		Str("driver", cfg.Database.Driver).
		Msg("store opened")

	collab, err := collaborators(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		store:    store,
		pipeline: pipeline.New(cfg, store, collab, log.Logger),
	}, nil
}

func collaborators(cfg *config.Config) (pipeline.Collaborators, error) {
	c := cfg.Collaborators
	classifier, err := classify.Load(c.ClassifierModelPath)
	if err != nil {
		return pipeline.Collaborators{}, fmt.Errorf("load classifier: %w", err)
	}
	return pipeline.Collaborators{
		Source: source.NewFile(c.SourcePath, log.Logger),
		Extractor: extract.New(extract.Config{
			UserAgent: c.UserAgent,
			Timeout:   c.HTTPTimeout,
			Rate:      c.ExtractorRate,
			Burst:     c.ExtractorBurst,
		}, log.Logger),
		Classifier: classifier,
		Entities: entities.New(entities.Config{
			URL:     c.WikifierURL,
			UserKey: c.WikifierKey,
			Timeout: c.HTTPTimeout,
		}, log.Logger),
	}, nil
}

func runOnce(ctx context.Context) (*pipeline.RunStats, error) {
	a, err := setup()
	if err != nil {
		return nil, err
	}
	defer a.store.Close()

	return a.pipeline.Run(ctx)
}

func serve() error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.store.Close()

	log.Info().
		Str("version", Version).
		Msg("Starting storyline worker")
	a.store.WarmPool(a.cfg.Pipeline.Workers)

	svc := worker.NewService(a.cfg, worker.Deps{
		Runner:       a.pipeline,
		Health:       a.store,
		Clusters:     gorm.NewClusterStore(a.store),
		Articles:     gorm.NewArticleStore(a.store),
		Trends:       gorm.NewEntityStore(a.store),
		Recalculator: a.pipeline.Recalculator(),
		Maintenance:  a.pipeline.Maintenance(),
		Version:      Version,
	}, log.Logger)

	if err := svc.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Received shutdown signal")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Worker.ShutdownGracePeriod)
	defer cancel()

	if err := svc.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
