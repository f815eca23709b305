package dispatch

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/talostrading/dispatch/util"
)

// Stats counts what a Server did. Counters are updated by the dispatch loop
// and by the handlers, and can be read at any time.
type Stats struct {
	accepted   atomic.Uint64
	rejected   atomic.Uint64
	dispatched atomic.Uint64
	polls      atomic.Uint64
	emptyPolls atomic.Uint64

	outcomes [OutcomePanicked + 1]atomic.Uint64

	// service is the time from dispatch to close of every connection.
	service *util.LatencyHist
}

func newStats() *Stats {
	return &Stats{
		service: util.NewLatencyHist(util.LatencyHistOpts{
			Name:      "service",
			Min:       time.Microsecond,
			Max:       time.Minute,
			Precision: 2,
		}),
	}
}

func (s *Stats) record(res Result) {
	if int(res.Outcome) < len(s.outcomes) {
		s.outcomes[res.Outcome].Add(1)
	}
	s.service.Record(res.Elapsed)
}

// Service returns the histogram of connection service times.
func (s *Stats) Service() *util.LatencyHist {
	return s.service
}

type StatsSnapshot struct {
	// Accepted connections, including rejected ones.
	Accepted uint64
	// Rejected connections did not fit in the watch set and were closed.
	Rejected   uint64
	Dispatched uint64
	Polls      uint64
	EmptyPolls uint64

	Responded   uint64
	PeerClosed  uint64
	ReadFailed  uint64
	WriteFailed uint64
	Panicked    uint64

	Service util.LatencySummary
}

// Completed returns the number of handlers which have returned.
func (s StatsSnapshot) Completed() uint64 {
	return s.Responded + s.PeerClosed + s.ReadFailed + s.WriteFailed + s.Panicked
}

// InFlight returns the number of dispatched connections whose handler has not
// returned yet.
func (s StatsSnapshot) InFlight() uint64 {
	// Counters are loaded one by one, so completions can be ahead.
	if c := s.Completed(); c < s.Dispatched {
		return s.Dispatched - c
	}
	return 0
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Accepted:    s.accepted.Load(),
		Rejected:    s.rejected.Load(),
		Dispatched:  s.dispatched.Load(),
		Polls:       s.polls.Load(),
		EmptyPolls:  s.emptyPolls.Load(),
		Responded:   s.outcomes[OutcomeResponded].Load(),
		PeerClosed:  s.outcomes[OutcomePeerClosed].Load(),
		ReadFailed:  s.outcomes[OutcomeReadFailed].Load(),
		WriteFailed: s.outcomes[OutcomeWriteFailed].Load(),
		Panicked:    s.outcomes[OutcomePanicked].Load(),
		Service:     s.service.Summary(),
	}
}

func (s StatsSnapshot) Fields() logrus.Fields {
	return logrus.Fields{
		"accepted":     s.Accepted,
		"rejected":     s.Rejected,
		"dispatched":   s.Dispatched,
		"in_flight":    s.InFlight(),
		"polls":        s.Polls,
		"empty_polls":  s.EmptyPolls,
		"responded":    s.Responded,
		"peer_closed":  s.PeerClosed,
		"read_failed":  s.ReadFailed,
		"write_failed": s.WriteFailed,
		"service_p50":  s.Service.P50,
		"service_p99":  s.Service.P99,
		"service_max":  s.Service.Max,
	}
}
