package main

import (
	"context"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mtarail/railboard/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the departures API server",
	RunE:  serve,
}

func serve(cmd *cobra.Command, _ []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.log.Sync()

	ctx := cmd.Context()

	// Compile from whatever bundles are on disk; fall back to a full
	// refresh when they are missing or stale.
	if err := a.compiler.Rebuild(); err != nil {
		a.log.Warn("initial build from disk failed, refreshing bundles", zap.Error(err))
		if err := a.refresh.Run(ctx); err != nil {
			return err
		}
	}

	scheduler, err := a.refresh.Schedule(context.Background())
	if err != nil {
		return err
	}
	defer scheduler.Stop()

	srv := &server.Server{
		Resolver:  a.resolver,
		Index:     a.compiler,
		Feeds:     a.fetcher,
		AlertsURL: a.cfg.AlertsURL,
		Metrics:   a.metrics.Handler(),
		Log:       a.log,
	}

	a.log.Info("listening", zap.String("addr", a.cfg.ListenAddr))
	return http.ListenAndServe(a.cfg.ListenAddr, srv.Router())
}
