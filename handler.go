package dispatch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/talostrading/dispatch/dispatcherrors"
	"github.com/valyala/bytebufferpool"
)

type Outcome uint8

const (
	// OutcomeResponded means the request was read and the response written.
	OutcomeResponded Outcome = iota
	// OutcomePeerClosed means the peer closed its side before the request was
	// complete. Nothing is written back.
	OutcomePeerClosed
	OutcomeReadFailed
	// OutcomeWriteFailed means the request was read but writing the response
	// failed.
	OutcomeWriteFailed
	OutcomePanicked
)

func (o Outcome) String() string {
	switch o {
	case OutcomeResponded:
		return "responded"
	case OutcomePeerClosed:
		return "peer_closed"
	case OutcomeReadFailed:
		return "read_failed"
	case OutcomeWriteFailed:
		return "write_failed"
	case OutcomePanicked:
		return "panicked"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Result describes how a Handler served one connection.
type Result struct {
	Outcome   Outcome
	BytesRead int
	Err       error
	Elapsed   time.Duration
}

// Handler serves a connection from the first read to the close.
//
// Handle is safe for concurrent use; every call owns the connection and the
// read buffer it works with.
type Handler struct {
	chunkSize int
	delay     time.Duration
	response  []byte

	log  logrus.FieldLogger
	pool bytebufferpool.Pool
}

func NewHandler(cfg Config, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		chunkSize: cfg.ChunkSize,
		delay:     cfg.ProcessingDelay,
		response:  bytes.Repeat([]byte{cfg.ResponseFill}, cfg.ResponseSize),
		log:       log,
	}
}

// Response returns the bytes written back on every complete request.
func (h *Handler) Response() []byte {
	return h.response
}

// Handle reads the request, waits the processing delay, writes the response
// and closes conn. conn is closed exactly once on every path, and no error
// or panic escapes Handle.
//
// The request ends with the first read returning less than a full chunk. On
// a nonblocking conn, a read which would block ends the request too; on a
// blocking conn the same condition is an error.
func (h *Handler) Handle(conn *Conn) (res Result) {
	start := time.Now()
	log := h.log.WithFields(logrus.Fields{
		"fd":      conn.RawFd(),
		"conn_id": conn.ID(),
	})

	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomePanicked
			res.Err = fmt.Errorf("handler panic: %v", r)
			log.WithField("panic", r).Error("handler panicked")
		}

		if err := conn.Close(); err != nil && err != io.EOF {
			log.WithError(err).Debug("close failed")
		}

		res.Elapsed = time.Since(start)
		log.WithFields(logrus.Fields{
			"outcome":    res.Outcome,
			"bytes_read": res.BytesRead,
			"elapsed":    res.Elapsed,
		}).Debug("connection served")
	}()

	res.BytesRead, res.Outcome, res.Err = h.read(conn)
	if res.Outcome != OutcomeResponded {
		if res.Outcome == OutcomeReadFailed {
			log.WithError(res.Err).Debug("read failed, discarding request")
		}
		return res
	}

	if h.delay > 0 {
		time.Sleep(h.delay)
	}

	if _, err := conn.Write(h.response); err != nil {
		log.WithError(err).Warn("failed to send response")
		res.Outcome, res.Err = OutcomeWriteFailed, err
	}

	return res
}

// read consumes the request. The returned outcome is OutcomeResponded if the
// request is complete and a response is due.
func (h *Handler) read(conn *Conn) (total int, _ Outcome, _ error) {
	bb := h.pool.Get()
	defer h.pool.Put(bb)

	if cap(bb.B) < h.chunkSize {
		bb.B = make([]byte, h.chunkSize)
	}
	b := bb.B[:h.chunkSize]

	for {
		n, err := conn.Read(b)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return total, OutcomePeerClosed, nil
			case errors.Is(err, dispatcherrors.ErrWouldBlock) && conn.Nonblocking():
				// Nothing more right now: take what we have as the request.
				return total, OutcomeResponded, nil
			default:
				return total, OutcomeReadFailed, err
			}
		}

		total += n
		if n < len(b) {
			return total, OutcomeResponded, nil
		}
	}
}
