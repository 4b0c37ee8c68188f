// Package netsource receives frames over TCP from a netsource.Sender.
//
// Messages use the internal/wire framing. A connection starts with a hello
// message carrying the sender's source name, followed by one frame message
// per video frame.
//
// Receive side lifecycle:
//
//	Connect  dial + hello handshake; failure is returned (wrapped ErrConnect)
//	reading  reader goroutine fills a small queue; when the consumer lags the
//	         oldest queued frame is dropped
//	broken   read error -> reported once to PollFrame as a transient error,
//	         then redial with exponential backoff; polls time out meanwhile
//	Disconnect  stops the reader, closes the socket, releases queued frames
package netsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/denisgrzechnik/LayerMapper-NDI/framesource"
	"github.com/denisgrzechnik/LayerMapper-NDI/internal/backoff"
	"github.com/denisgrzechnik/LayerMapper-NDI/internal/wire"
	"github.com/denisgrzechnik/LayerMapper-NDI/video"
)

// ErrHandshake is returned when the peer does not open with a hello message.
var ErrHandshake = errors.New("netsource: handshake failed")

// Config configures the receiving side.
type Config struct {
	DialTimeout time.Duration  // default 3s
	QueueSize   int            // frames buffered between reader and poller, default 4
	Reconnect   backoff.Config // MaxRetries 0 keeps retrying until Disconnect
}

// DefaultConfig returns the receiver defaults.
func DefaultConfig() Config {
	rc := backoff.DefaultConfig()
	rc.MaxRetries = 0
	return Config{
		DialTimeout: 3 * time.Second,
		QueueSize:   4,
		Reconnect:   rc,
	}
}

// Source dials senders. The sourceID passed to Connect is the sender's
// "host:port" address, typically resolved through a framesource.Environment.
type Source struct {
	cfg Config
}

// New returns a Source. Zero fields in cfg take their defaults.
func New(cfg Config) *Source {
	def := DefaultConfig()
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	return &Source{cfg: cfg}
}

// Connect dials address and performs the hello handshake.
func (s *Source) Connect(ctx context.Context, address string) (framesource.Handle, error) {
	sess, hello, err := dial(ctx, address, s.cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", framesource.ErrConnect, address, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		cfg:     s.cfg,
		address: address,
		name:    hello.Source,
		frames:  make(chan video.RawFrame, s.cfg.QueueSize),
		errs:    make(chan error, 1),
		ctx:     runCtx,
		cancel:  cancel,
		conn:    sess.conn,
	}
	h.redial = backoff.New(s.cfg.Reconnect, h.redialFailed)
	h.wg.Add(1)
	go h.readLoop(sess)

	slog.Info("netsource: connected",
		"address", address,
		"source_name", hello.Source,
	)
	return h, nil
}

// session is one live connection and its message reader.
type session struct {
	conn net.Conn
	r    *wire.Reader
}

// dial opens a connection and reads the sender's hello.
func dial(ctx context.Context, address string, timeout time.Duration) (session, wire.Header, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return session{}, wire.Header{}, err
	}
	sess := session{conn: conn, r: wire.NewReader(conn)}

	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	hello, _, err := sess.r.Next(nil)
	_ = conn.SetReadDeadline(time.Time{})
	if err == nil && hello.Kind != wire.KindHello {
		err = fmt.Errorf("first message kind %q", hello.Kind)
	}
	if err != nil {
		conn.Close()
		return session{}, wire.Header{}, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	return sess, hello, nil
}

// Stats is a snapshot of handle counters.
type Stats struct {
	Received   uint64 // frame messages read from the socket
	Dropped    uint64 // frames dropped because the poller lagged
	Bytes      uint64 // payload bytes received
	Reconnects uint32 // failed redial attempts
	Connected  bool
}

// Handle is a connected receiver.
type Handle struct {
	cfg     Config
	address string
	name    string

	frames chan video.RawFrame
	errs   chan error
	pool   sync.Pool
	timer  *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connMu sync.Mutex
	conn   net.Conn

	stopOnce sync.Once
	redial   *backoff.Retrier

	received  atomic.Uint64
	dropped   atomic.Uint64
	bytes     atomic.Uint64
	connected atomic.Bool
}

// Name is the source name announced by the sender.
func (h *Handle) Name() string { return h.name }

// PollFrame waits up to timeout for a queued frame.
func (h *Handle) PollFrame(timeout time.Duration) (video.RawFrame, error) {
	select {
	case f := <-h.frames:
		return f, nil
	case err := <-h.errs:
		return video.RawFrame{}, err
	default:
	}
	if h.ctx.Err() != nil {
		return video.RawFrame{}, framesource.ErrDisconnected
	}

	if h.timer == nil {
		h.timer = time.NewTimer(timeout)
	} else {
		h.timer.Reset(timeout)
	}
	select {
	case f := <-h.frames:
		h.stopTimer()
		return f, nil
	case err := <-h.errs:
		h.stopTimer()
		return video.RawFrame{}, err
	case <-h.ctx.Done():
		h.stopTimer()
		return video.RawFrame{}, framesource.ErrDisconnected
	case <-h.timer.C:
		return video.RawFrame{}, framesource.ErrTimeout
	}
}

func (h *Handle) stopTimer() {
	if !h.timer.Stop() {
		select {
		case <-h.timer.C:
		default:
		}
	}
}

// ReleaseFrame recycles the frame's payload buffer.
func (h *Handle) ReleaseFrame(frame video.RawFrame) {
	if buf, ok := frame.Token().(*[]byte); ok && buf != nil {
		h.pool.Put(buf)
	}
}

// Disconnect stops the reader and closes the socket. Idempotent.
func (h *Handle) Disconnect() error {
	h.stopOnce.Do(func() {
		h.cancel()
		h.connMu.Lock()
		if h.conn != nil {
			h.conn.Close()
		}
		h.connMu.Unlock()
		h.wg.Wait()

		h.drain()
		slog.Info("netsource: disconnected",
			"address", h.address,
			"frames_received", h.received.Load(),
			"frames_dropped", h.dropped.Load(),
		)
	})
	return nil
}

func (h *Handle) drain() {
	for {
		select {
		case f := <-h.frames:
			h.ReleaseFrame(f)
		default:
			return
		}
	}
}

// Stats returns a counter snapshot.
func (h *Handle) Stats() Stats {
	return Stats{
		Received:   h.received.Load(),
		Dropped:    h.dropped.Load(),
		Bytes:      h.bytes.Load(),
		Reconnects: h.redial.Failures(),
		Connected:  h.connected.Load(),
	}
}

func (h *Handle) alloc(n int) []byte {
	if p, ok := h.pool.Get().(*[]byte); ok && cap(*p) >= n {
		return (*p)[:n]
	}
	return make([]byte, n)
}

// readLoop reads frames until Disconnect, redialing after read errors.
func (h *Handle) readLoop(sess session) {
	defer h.wg.Done()

	for {
		h.connected.Store(true)
		err := h.readSession(sess)
		h.connected.Store(false)
		sess.conn.Close()

		if h.ctx.Err() != nil {
			return
		}
		slog.Warn("netsource: stream interrupted", "address", h.address, "error", err)
		h.report(err)

		err = h.redial.Do(h.ctx, func(ctx context.Context) error {
			next, _, err := dial(ctx, h.address, h.cfg.DialTimeout)
			if err != nil {
				return err
			}
			sess = next
			return nil
		})
		if err != nil {
			if h.ctx.Err() == nil {
				slog.Error("netsource: giving up on reconnection", "address", h.address, "error", err)
				h.report(err)
			}
			return
		}
		slog.Info("netsource: reconnected", "address", h.address, "failures", h.redial.Failures())

		h.connMu.Lock()
		if h.ctx.Err() != nil {
			h.connMu.Unlock()
			sess.conn.Close()
			return
		}
		h.conn = sess.conn
		h.connMu.Unlock()
	}
}

// redialFailed logs failed redials. Only the interruption itself and the
// final give-up reach PollFrame; intermediate failures just time out polls.
func (h *Handle) redialFailed(a backoff.Attempt) {
	if a.Wait == 0 {
		return
	}
	slog.Warn("netsource: redial failed",
		"address", h.address,
		"attempt", a.N,
		"retry_in", a.Wait,
		"error", a.Err,
	)
}

// readSession decodes messages from one connection until it fails.
func (h *Handle) readSession(sess session) error {
	for {
		hdr, data, err := sess.r.Next(h.alloc)
		if err != nil {
			return err
		}
		if hdr.Kind != wire.KindFrame {
			continue
		}
		h.received.Add(1)
		h.bytes.Add(uint64(len(data)))

		buf := new([]byte)
		*buf = data
		h.enqueue(rawFromHeader(hdr, data).WithToken(buf))
	}
}

// enqueue delivers a frame without blocking the reader. When the queue is
// full the oldest queued frame is released to make room.
func (h *Handle) enqueue(f video.RawFrame) {
	for {
		select {
		case h.frames <- f:
			return
		default:
		}
		select {
		case old := <-h.frames:
			h.ReleaseFrame(old)
			h.dropped.Add(1)
		default:
		}
	}
}

// report hands a transient error to the next PollFrame, keeping only the
// first when several are pending.
func (h *Handle) report(err error) {
	select {
	case h.errs <- err:
	default:
	}
}

func rawFromHeader(hdr wire.Header, data []byte) video.RawFrame {
	enc, err := video.ParseEncoding(hdr.Encoding)
	if err != nil {
		// Let the normalizer reject it and count it.
		enc = video.Encoding(-1)
	}
	orient, err := video.ParseOrientation(hdr.Orientation)
	if err != nil {
		orient = video.OrientationUp
	}
	return video.RawFrame{
		Width:            hdr.Width,
		Height:           hdr.Height,
		Stride:           hdr.Stride,
		Encoding:         enc,
		Orientation:      orient,
		PresentationTime: hdr.PresentationTime,
		Data:             data,
	}
}
