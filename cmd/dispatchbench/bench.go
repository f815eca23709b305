package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/talostrading/dispatch/util"
)

type benchConfig struct {
	Addr        string
	Clients     int
	Requests    int
	PayloadSize int
	Expect      []byte
	Timeout     time.Duration
}

type benchResult struct {
	OK     uint64
	Failed uint64
	RTT    *util.LatencyHist
}

// runBench opens Clients concurrent connection streams. Each stream sends
// Requests requests, one connection per request, and checks that the
// response equals Expect and is followed by the server closing the
// connection.
func runBench(ctx context.Context, cfg benchConfig, log logrus.FieldLogger) *benchResult {
	res := &benchResult{
		RTT: util.NewLatencyHist(util.LatencyHistOpts{
			Name:      "rtt",
			Min:       time.Microsecond,
			Max:       time.Minute,
			Precision: 3,
			MinPct:    0.5,
		}),
	}

	var wg sync.WaitGroup
	for c := 0; c < cfg.Clients; c++ {
		wg.Add(1)
		go func(client int) {
			defer wg.Done()

			payload := bytes.Repeat([]byte{byte('A' + client%26)}, cfg.PayloadSize)
			for i := 0; i < cfg.Requests && ctx.Err() == nil; i++ {
				start := time.Now()
				if err := roundTrip(cfg, payload); err != nil {
					atomic.AddUint64(&res.Failed, 1)
					log.WithError(err).WithField("client", client).Warn("request failed")
					continue
				}
				res.RTT.Record(time.Since(start))
				atomic.AddUint64(&res.OK, 1)
			}
		}(c)
	}
	wg.Wait()

	return res
}

func roundTrip(cfg benchConfig, payload []byte) error {
	conn, err := net.DialTimeout("tcp", cfg.Addr, cfg.Timeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(cfg.Timeout)); err != nil {
		return err
	}

	if _, err := conn.Write(payload); err != nil {
		return err
	}

	// The server closes the connection after the response, so everything up
	// to EOF is the response.
	b, err := io.ReadAll(conn)
	if err != nil {
		return err
	}
	if !bytes.Equal(b, cfg.Expect) {
		return fmt.Errorf("unexpected response of %d bytes, want %d", len(b), len(cfg.Expect))
	}
	return nil
}
