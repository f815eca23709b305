package main

import (
	"bytes"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/talostrading/dispatch"
)

func newRootCmd() *cobra.Command {
	var (
		cfg          benchConfig
		responseSize int
		responseFill string
	)

	cmd := &cobra.Command{
		Use:           "dispatchbench",
		Short:         "Load and check a dispatchd server",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(responseFill) != 1 {
				return fmt.Errorf("response fill must be a single byte, got %q", responseFill)
			}
			if cfg.PayloadSize >= dispatch.DefaultChunkSize {
				logrus.WithField("payload_size", cfg.PayloadSize).
					Warn("payloads of a chunk or more may not be read as one request")
			}
			cfg.Expect = bytes.Repeat([]byte(responseFill), responseSize)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			start := time.Now()
			res := runBench(ctx, cfg, logrus.StandardLogger())
			elapsed := time.Since(start)

			res.RTT.Report(cmd.OutOrStdout())
			fmt.Fprintf(cmd.OutOrStdout(), "\nok=%d failed=%d elapsed=%v rate=%.0f/s\n",
				res.OK, res.Failed, elapsed, float64(res.OK)/elapsed.Seconds())

			if res.Failed > 0 {
				return fmt.Errorf("%d requests failed", res.Failed)
			}
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&cfg.Addr, "addr", fmt.Sprintf("localhost:%d", dispatch.DefaultPort), "server address")
	fs.IntVar(&cfg.Clients, "clients", 5, "concurrent clients")
	fs.IntVar(&cfg.Requests, "requests", 100, "requests per client")
	fs.IntVar(&cfg.PayloadSize, "payload-size", 10, "request size in bytes")
	fs.DurationVar(&cfg.Timeout, "timeout", 5*time.Second, "per request timeout")
	fs.IntVar(&responseSize, "response-size", dispatch.DefaultResponseSize, "expected response size")
	fs.StringVar(&responseFill, "response-fill", string(dispatch.DefaultResponseFill), "expected response byte")

	return cmd
}
