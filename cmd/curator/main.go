package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/deusflow/curator/internal/api"
	"github.com/deusflow/curator/internal/app"
	"github.com/deusflow/curator/internal/config"
	"github.com/deusflow/curator/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "curator",
		Short:         "News, event and social content curator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newRerankCmd(), newCategoriesCmd(), newServeCmd())
	return root
}

// setup loads the configuration and builds the application.
func setup(ctx context.Context, reg prometheus.Registerer) (*app.App, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.Init(cfg.LogLevel, cfg.LogFormat)
	a, err := app.New(ctx, cfg, log, reg)
	if err != nil {
		return nil, nil, err
	}
	return a, log, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Fetch, select and retain one batch of news",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			a, log, err := setup(ctx, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.RunPipeline(ctx)
			if err != nil {
				return err
			}
			log.WithFields(rep.Summary()).Info("Pipeline completed")
			return nil
		},
	}
}

func newRerankCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "rerank",
		Short: "Recompute featured and trending flags from engagement",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			a, log, err := setup(ctx, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Rerank(ctx, force)
			if err != nil {
				return err
			}
			if res.Skipped != nil {
				log.WithError(res.Skipped).Info("Rerank skipped")
				return nil
			}
			log.WithFields(logrus.Fields{
				"scored":   res.Scored,
				"featured": res.Featured,
				"trending": res.Trending,
			}).Info("Rerank completed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", true, "ignore the rerank interval")
	return cmd
}

func newCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "Pick top three and featured items for every category",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			a, log, err := setup(ctx, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			outcomes, err := a.CurateCategories(ctx)
			for _, o := range outcomes {
				entry := log.WithFields(logrus.Fields{"category": o.Category, "top3": o.Top3, "featured": o.Featured})
				if o.Err != nil {
					entry.WithError(o.Err).Warn("Category curation failed")
					continue
				}
				entry.Info("Category curated")
			}
			return err
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			reg := prometheus.NewRegistry()
			a, log, err := setup(ctx, reg)
			if err != nil {
				return err
			}
			defer a.Close()

			router := api.NewRouter(a, reg, log)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return a.Scheduler().Start(ctx) })
			g.Go(func() error { return api.Serve(ctx, a.HTTPAddr(), router, log) })
			return g.Wait()
		},
	}
}
