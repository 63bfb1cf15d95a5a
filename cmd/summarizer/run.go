package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-summarizer/internal/app"
)

type runFlags struct {
	site        string
	limit       int
	batchSize   int
	concurrency int
	describe    bool
	urls        []string
}

func (f *runFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.site, "site", "", "site to summarize, e.g. example.com (required)")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum number of pages (0 uses pipeline.limit)")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "pages per provider call (0 uses pipeline.batch_size)")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "concurrent extractions (0 uses pipeline.concurrency)")
	cmd.Flags().StringSliceVar(&f.urls, "url", nil, "summarize these URLs instead of the sitemap (repeatable)")
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Summarize every page of a site and print the result as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("describe") {
				e, err := resolveEnv(cmd.Context())
				if err != nil {
					return err
				}
				flags.describe = e.cfg.Pipeline.Describe
			}
			return runSite(cmd, flags, false)
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVar(&flags.describe, "describe", false, "also describe the whole site (default from pipeline.describe)")
	return cmd
}

func newDescribeCmd() *cobra.Command {
	flags := &runFlags{describe: true}
	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Summarize a site and print only its description",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSite(cmd, flags, true)
		},
	}
	flags.bind(cmd)
	return cmd
}

func runSite(cmd *cobra.Command, flags *runFlags, descriptionOnly bool) error {
	if flags.site == "" {
		return errors.New("--site is required")
	}
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	cfg := e.cfg
	if len(flags.urls) > 0 {
		cfg.Source.URLs = flags.urls
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return withService(ctx, cfg, e.logger, func(svc service) error {
		result, runErr := svc.Run(ctx, app.RunOptions{
			Site:        flags.site,
			Limit:       flags.limit,
			BatchSize:   flags.batchSize,
			Concurrency: flags.concurrency,
			Describe:    flags.describe,
		})
		out := cmd.OutOrStdout()
		if descriptionOnly {
			if runErr == nil {
				if _, err := fmt.Fprintln(out, result.Description); err != nil {
					return fmt.Errorf("write description: %w", err)
				}
			}
		} else {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
		}
		if runErr != nil {
			return fmt.Errorf("run %s: %w", flags.site, runErr)
		}
		e.logger.Info("run finished",
			zap.String("run_id", result.RunID),
			zap.Int("summarized", result.Stats.Summarized),
			zap.Int("failed", result.Stats.Failed),
			zap.Duration("duration", result.Duration()),
		)
		return nil
	})
}
