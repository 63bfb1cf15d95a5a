package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-summarizer/internal/app"
	"github.com/JakeFAU/site-summarizer/internal/config"
	"github.com/JakeFAU/site-summarizer/internal/logging"
	"github.com/JakeFAU/site-summarizer/internal/processor"
	"github.com/JakeFAU/site-summarizer/internal/telemetry"
)

// service is what the commands need from *app.App. Tests swap in a fake.
type service interface {
	Run(ctx context.Context, opts app.RunOptions) (processor.Result, error)
	Ready(ctx context.Context) error
	Close(ctx context.Context) error
}

// newService builds the application. It is a variable so tests can inject
// a fake.
var newService = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (service, error) {
	return app.New(ctx, cfg, logger)
}

type envKeyType struct{}

// env is what the root command prepares for every subcommand.
type env struct {
	cfg      config.Config
	logger   *zap.Logger
	shutdown telemetry.ShutdownFunc
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "summarizer",
		Short: "Summarizes every page of a website with a language model.",
		Long: `summarizer walks a site's sitemap, extracts the main text of each page,
and asks a language model for a short summary of every page plus an optional
description of the whole site. Results are cached per model and site.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			shutdown, err := telemetry.InitTracerProvider(cmd.Context(), telemetry.Config{
				ServiceName: cfg.Telemetry.ServiceName,
				Enabled:     cfg.Telemetry.Enabled,
			}, logger)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), envKeyType{}, &env{
				cfg:      cfg,
				logger:   logger,
				shutdown: shutdown,
			}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			e, ok := cmd.Context().Value(envKeyType{}).(*env)
			if !ok {
				return
			}
			if err := e.shutdown(context.WithoutCancel(cmd.Context())); err != nil {
				e.logger.Warn("tracer shutdown failed", zap.Error(err))
			}
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); SUMMARIZER_* env vars override it")

	cmd.AddCommand(newRunCmd(), newDescribeCmd(), newServeCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKeyType{}).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration not loaded")
	}
	return e, nil
}

// withService builds the application for one command and closes it after fn
// returns.
func withService(ctx context.Context, cfg config.Config, logger *zap.Logger, fn func(service) error) (err error) {
	svc, err := newService(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer func() {
		if cerr := svc.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("failed to close application services", zap.Error(cerr))
		}
	}()
	return fn(svc)
}
