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

	"github.com/denisgrzechnik/LayerMapper-NDI/internal/wire"
	"github.com/denisgrzechnik/LayerMapper-NDI/video"
)

var (
	ErrSenderStarted = errors.New("netsource: sender already started")
	ErrSenderStopped = errors.New("netsource: sender not running")
)

// SenderConfig configures a broadcaster.
type SenderConfig struct {
	Listen       string        // listen address, e.g. ":5960"
	Name         string        // source name announced in the hello message
	QueueSize    int           // per-client queued messages, default 2
	WriteTimeout time.Duration // per-message write deadline, default 2s
}

// SenderStats is a snapshot of sender counters.
type SenderStats struct {
	Clients  int
	Frames   uint64 // frames offered to Send
	Sent     uint64 // messages written to clients
	Dropped  uint64 // messages dropped for slow clients
	Accepted uint64 // connections accepted since start
}

// Sender broadcasts frames to every connected receiver.
//
// Each frame is encoded once and queued to every client without blocking;
// a client whose queue is full misses the frame. A client whose write fails
// or times out is disconnected.
type Sender struct {
	cfg SenderConfig

	mu       sync.Mutex
	ln       net.Listener
	clients  map[*senderClient]struct{}
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	seq      uint64

	frames   atomic.Uint64
	sent     atomic.Uint64
	dropped  atomic.Uint64
	accepted atomic.Uint64
}

type senderClient struct {
	conn  net.Conn
	queue chan []byte
}

// NewSender validates cfg and returns an idle sender.
func NewSender(cfg SenderConfig) (*Sender, error) {
	if cfg.Listen == "" {
		return nil, fmt.Errorf("netsource: sender listen address is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 2
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	return &Sender{
		cfg:     cfg,
		clients: make(map[*senderClient]struct{}),
	}, nil
}

// Start begins listening. It returns immediately; clients are accepted on a
// background goroutine until Stop or ctx cancellation.
func (s *Sender) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.ctx != nil {
		return ErrSenderStarted
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("netsource: listen %s: %w", s.cfg.Listen, err)
	}
	s.ln = ln
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(2)
	go s.acceptLoop()
	go func() {
		defer s.wg.Done()
		<-s.ctx.Done()
		s.ln.Close()
	}()

	slog.Info("netsource: sender listening", "address", ln.Addr().String(), "source_name", s.cfg.Name)
	return nil
}

// Addr is the bound listen address, nil before Start.
func (s *Sender) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Send copies frame into one encoded message and queues it to every client.
// The caller keeps ownership of frame.Data.
func (s *Sender) Send(frame video.RawFrame) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSenderStopped
	}
	s.seq++
	seq := s.seq
	clients := make([]*senderClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	s.frames.Add(1)
	if len(clients) == 0 {
		return nil
	}

	msg, err := wire.Encode(wire.Header{
		Kind:             wire.KindFrame,
		Source:           s.cfg.Name,
		Seq:              seq,
		Width:            frame.Width,
		Height:           frame.Height,
		Stride:           frame.Stride,
		Encoding:         frame.Encoding.String(),
		Orientation:      frame.Orientation.String(),
		PresentationTime: frame.PresentationTime,
	}, frame.Data)
	if err != nil {
		return err
	}

	for _, c := range clients {
		select {
		case c.queue <- msg:
		default:
			s.dropped.Add(1)
		}
	}
	return nil
}

// Stop closes the listener and every client. Idempotent.
func (s *Sender) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.running = false
		cancel := s.cancel
		for c := range s.clients {
			c.conn.Close()
		}
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		s.wg.Wait()
		slog.Info("netsource: sender stopped",
			"frames", s.frames.Load(),
			"sent", s.sent.Load(),
			"dropped", s.dropped.Load(),
		)
	})
	return nil
}

// Stats returns a counter snapshot.
func (s *Sender) Stats() SenderStats {
	s.mu.Lock()
	clients := len(s.clients)
	s.mu.Unlock()
	return SenderStats{
		Clients:  clients,
		Frames:   s.frames.Load(),
		Sent:     s.sent.Load(),
		Dropped:  s.dropped.Load(),
		Accepted: s.accepted.Load(),
	}
}

func (s *Sender) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				slog.Error("netsource: accept failed", "error", err)
			}
			return
		}
		s.accepted.Add(1)

		hello, err := wire.Encode(wire.Header{Kind: wire.KindHello, Source: s.cfg.Name}, nil)
		if err != nil {
			conn.Close()
			continue
		}
		c := &senderClient{conn: conn, queue: make(chan []byte, s.cfg.QueueSize)}
		c.queue <- hello

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.clients[c] = struct{}{}
		s.mu.Unlock()

		slog.Info("netsource: receiver connected", "remote", conn.RemoteAddr().String())
		s.wg.Add(1)
		go s.writeLoop(c)
	}
}

func (s *Sender) writeLoop(c *senderClient) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		c.conn.Close()
		slog.Info("netsource: receiver disconnected", "remote", c.conn.RemoteAddr().String())
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-c.queue:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if _, err := c.conn.Write(msg); err != nil {
				slog.Debug("netsource: write failed", "remote", c.conn.RemoteAddr().String(), "error", err)
				return
			}
			s.sent.Add(1)
		}
	}
}
