package main

import (
	"context"
	"errors"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felixge/fgprof"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/talostrading/dispatch"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatchd",
		Short: "Fixed response TCP server",
		Long: `dispatchd accepts TCP connections, reads one request from each, waits a
simulated processing delay, writes a fixed response and closes the connection.

Connections are either dispatched by a single readiness multiplexer loop
(--mode multiplexed) or handed off straight from a blocking accept
(--mode blocking). Every dispatched connection is served by its own goroutine.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          runServe,
	}
	addServerFlags(cmd.Flags())
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	v, err := newViper(cmd.Flags())
	if err != nil {
		logrus.WithError(err).Error("invalid configuration")
		return err
	}

	logger, err := newLogger(v)
	if err != nil {
		logrus.WithError(err).Error("invalid configuration")
		return err
	}

	cfg, err := serverConfig(v)
	if err != nil {
		logger.WithError(err).Error("invalid configuration")
		return err
	}

	srv, err := dispatch.NewServer(cfg, dispatch.WithLogger(logger))
	if err != nil {
		logger.WithError(err).Error("server setup failed")
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr := v.GetString("pprof"); addr != "" {
		go servePprof(addr, logger)
	}

	if interval := v.GetDuration("stats-interval"); interval > 0 {
		go logStats(ctx, srv, interval, logger)
	}

	if err := srv.Run(ctx); err != nil {
		logger.WithError(err).Error("server failed")
		return err
	}
	return nil
}

func servePprof(addr string, logger logrus.FieldLogger) {
	http.DefaultServeMux.Handle("/debug/fgprof", fgprof.Handler())

	logger.WithField("addr", addr).Info("serving pprof")
	if err := http.ListenAndServe(addr, nil); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("pprof server stopped")
	}
}

func logStats(ctx context.Context, srv *dispatch.Server, interval time.Duration, logger logrus.FieldLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.WithFields(srv.Stats().Snapshot().Fields()).Info("stats")
		}
	}
}
