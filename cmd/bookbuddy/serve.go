// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/bookbuddy-search/internal/api"
	"github.com/pdiddy/bookbuddy-search/internal/search"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the book search HTTP API",
	Long: `Serve runs the search API until interrupted:

  GET /api/books/search?q=&type=&page=&pageSize=&searchId=
  GET /api/books/search/{searchId}
  GET /metrics

Callers identify themselves with the X-User-ID header. A background reaper
evicts search sessions that have been idle longer than session.idle_timeout.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := serviceConfig()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	b, err := newBackend(cfg, reg)
	if err != nil {
		return err
	}
	defer b.Close()

	reaper, err := search.NewReaper(search.ReaperConfig{
		Store:         b.store,
		SweepInterval: cfg.Session.SweepInterval,
		IdleTimeout:   cfg.Session.IdleTimeout,
		Logger:        logger.WithField("component", "reaper"),
	})
	if err != nil {
		return err
	}

	svc, err := api.NewService(api.Config{
		Searcher:   b.engine,
		Sessions:   b.store,
		ListenAddr: cfg.Server.ListenAddr,
		Gatherer:   reg,
		Logger:     logger.WithField("component", "api"),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reaper.Run(ctx) })
	g.Go(func() error { return svc.Run(ctx) })
	err = g.Wait()

	logger.Info("shut down")
	return err
}

func init() {
	serveCmd.Flags().String("listen", ":8080", "address for the HTTP API")
	_ = viper.BindPFlag("server.listen_addr", serveCmd.Flags().Lookup("listen"))

	rootCmd.AddCommand(serveCmd)
}
