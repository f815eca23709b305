package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talostrading/dispatch"
)

func startServer(t *testing.T, mode dispatch.Mode) *dispatch.Server {
	logger, _ := test.NewNullLogger()

	cfg := dispatch.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.Mode = mode
	cfg.PollTimeout = 50 * time.Millisecond

	srv, err := dispatch.NewServer(cfg, dispatch.WithLogger(logger))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	return srv
}

func TestRunBench(t *testing.T) {
	for _, mode := range []dispatch.Mode{dispatch.ModeMultiplexed, dispatch.ModeBlocking} {
		t.Run(mode.String(), func(t *testing.T) {
			srv := startServer(t, mode)
			logger, _ := test.NewNullLogger()

			res := runBench(context.Background(), benchConfig{
				Addr:        srv.Addr(),
				Clients:     5,
				Requests:    4,
				PayloadSize: 10,
				Expect:      bytes.Repeat([]byte{'a'}, 1024),
				Timeout:     5 * time.Second,
			}, logger)

			assert.EqualValues(t, 20, res.OK)
			assert.EqualValues(t, 0, res.Failed)
			assert.EqualValues(t, 20, res.RTT.Count())
			assert.GreaterOrEqual(t, res.RTT.Summary().Min, dispatch.DefaultProcessingDelay)
		})
	}
}

func TestRunBenchWrongExpectation(t *testing.T) {
	srv := startServer(t, dispatch.ModeMultiplexed)
	logger, hook := test.NewNullLogger()

	res := runBench(context.Background(), benchConfig{
		Addr:        srv.Addr(),
		Clients:     1,
		Requests:    2,
		PayloadSize: 10,
		Expect:      []byte("nope"),
		Timeout:     5 * time.Second,
	}, logger)

	assert.EqualValues(t, 0, res.OK)
	assert.EqualValues(t, 2, res.Failed)
	assert.Len(t, hook.AllEntries(), 2)
}
