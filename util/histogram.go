package util

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

type LatencyHistOpts struct {
	Name string

	// Min and Max bound the recordable values. Values outside are clamped.
	Min, Max time.Duration

	// Precision is the number of significant figures kept, between 1 and 5.
	Precision int

	// MinPct hides distribution bins holding less than MinPct percent of the
	// samples from Report.
	MinPct float64
}

// LatencySummary is a point in time view of a LatencyHist.
type LatencySummary struct {
	Count  int64
	Min    time.Duration
	Mean   time.Duration
	Max    time.Duration
	StdDev time.Duration
	P50    time.Duration
	P90    time.Duration
	P99    time.Duration
	P999   time.Duration
}

// LatencyHist records durations in nanoseconds. It is safe for concurrent use.
type LatencyHist struct {
	opts LatencyHistOpts

	mu  sync.Mutex
	hdr *hdrhistogram.Histogram
}

func NewLatencyHist(opts LatencyHistOpts) *LatencyHist {
	if opts.Min <= 0 {
		opts.Min = time.Nanosecond
	}
	if opts.Max <= opts.Min {
		opts.Max = time.Minute
	}
	if opts.Precision <= 0 || opts.Precision > 5 {
		opts.Precision = 2
	}

	return &LatencyHist{
		opts: opts,
		hdr: hdrhistogram.New(
			opts.Min.Nanoseconds(),
			opts.Max.Nanoseconds(),
			opts.Precision,
		),
	}
}

func (h *LatencyHist) Record(d time.Duration) {
	v := d.Nanoseconds()
	if v < h.opts.Min.Nanoseconds() {
		v = h.opts.Min.Nanoseconds()
	} else if v > h.opts.Max.Nanoseconds() {
		v = h.opts.Max.Nanoseconds()
	}

	h.mu.Lock()
	_ = h.hdr.RecordValue(v)
	h.mu.Unlock()
}

func (h *LatencyHist) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hdr.TotalCount()
}

func (h *LatencyHist) Summary() LatencySummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.summary()
}

func (h *LatencyHist) summary() LatencySummary {
	if h.hdr.TotalCount() == 0 {
		return LatencySummary{}
	}
	return LatencySummary{
		Count:  h.hdr.TotalCount(),
		Min:    time.Duration(h.hdr.Min()),
		Mean:   time.Duration(h.hdr.Mean()),
		Max:    time.Duration(h.hdr.Max()),
		StdDev: time.Duration(h.hdr.StdDev()),
		P50:    time.Duration(h.hdr.ValueAtPercentile(50.0)),
		P90:    time.Duration(h.hdr.ValueAtPercentile(90.0)),
		P99:    time.Duration(h.hdr.ValueAtPercentile(99.0)),
		P999:   time.Duration(h.hdr.ValueAtPercentile(99.9)),
	}
}

func (h *LatencyHist) Reset() {
	h.mu.Lock()
	h.hdr.Reset()
	h.mu.Unlock()
}

// Report writes the summary and a text bar chart of the distribution to w.
func (h *LatencyHist) Report(w io.Writer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.summary()
	fmt.Fprintf(w, "%v histogram name=%s samples=%d\n\n",
		time.Now().Format("2006-01-02 15:04:05"), h.opts.Name, s.Count)
	fmt.Fprintf(w, "summary min/avg/max/stddev = %v/%v/%v/%v\n",
		s.Min, s.Mean, s.Max, s.StdDev)
	fmt.Fprintf(w, "50th percentile=%v\n", s.P50)
	fmt.Fprintf(w, "90th percentile=%v\n", s.P90)
	fmt.Fprintf(w, "99th percentile=%v\n", s.P99)
	fmt.Fprintf(w, "99.9th percentile=%v\n", s.P999)

	total := h.hdr.TotalCount()
	if total == 0 {
		return
	}

	var minBinCount, maxBinCount int64 = math.MaxInt64, math.MinInt64
	for _, bin := range h.hdr.Distribution() {
		pct := float64(bin.Count) * 100.0 / float64(total)
		if pct < h.opts.MinPct || bin.Count == 0 {
			continue
		}
		if bin.Count < minBinCount {
			minBinCount = bin.Count
		}
		if bin.Count > maxBinCount {
			maxBinCount = bin.Count
		}
	}

	tabw := tabwriter.NewWriter(w, 2, 2, 2, byte(' '), 0)
	for _, bin := range h.hdr.Distribution() {
		pct := float64(bin.Count) * 100.0 / float64(total)
		if pct < h.opts.MinPct || bin.Count == 0 {
			continue
		}

		barSize := 1
		if maxBinCount != minBinCount {
			fraction := float64(bin.Count-minBinCount) / float64(maxBinCount-minBinCount)
			barSize = int(math.Ceil(fraction * 10))
			if barSize == 0 {
				barSize = 1
			}
		}

		fmt.Fprintf(tabw, "%v-%v\t%.3g%%\t%s\t%s\n",
			time.Duration(bin.From), time.Duration(bin.To),
			pct,
			strings.Repeat("|", barSize),
			strconv.FormatInt(bin.Count, 10),
		)
	}
	_ = tabw.Flush()
}
