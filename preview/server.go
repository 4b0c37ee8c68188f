// Package preview serves a small HTTP status surface next to the display:
//
//	GET /health        liveness, always 200 while the process runs
//	GET /ready         200 when frames are flowing, 503 with a reason otherwise
//	GET /stats         pipeline stats as JSON
//	GET /snapshot.jpg  latest presented frame (?format=png for PNG)
//	GET /ws            websocket, one binary JPEG message per new frame
//
// The preview reads frames from a sink.Snapshot and never touches the frame
// ring, so a slow browser cannot stall the pacer.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/denisgrzechnik/LayerMapper-NDI/sink"
)

// Provider supplies the status the server reports.
type Provider interface {
	// Stats returns a JSON-encodable stats snapshot.
	Stats() any

	// Ready reports whether frames are being presented, with a short reason
	// when they are not.
	Ready() (bool, string)
}

// Config configures the server.
type Config struct {
	Listen          string  // default ":8080"
	JPEGQuality     int     // default 75
	StreamFPS       float64 // websocket message rate cap (default 10)
	ShutdownTimeout time.Duration
}

// Stats is a snapshot of server counters.
type Stats struct {
	StreamClients int64  `json:"stream_clients" msgpack:"stream_clients"`
	StreamFrames  uint64 `json:"stream_frames" msgpack:"stream_frames"`
	Snapshots     uint64 `json:"snapshots" msgpack:"snapshots"`
}

const writeWait = 2 * time.Second

// Server is the preview HTTP server.
type Server struct {
	cfg      Config
	snap     *sink.Snapshot
	provider Provider
	engine   *gin.Engine
	upgrader websocket.Upgrader
	started  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	addr net.Addr

	clients      atomic.Int64
	streamFrames atomic.Uint64
	snapshots    atomic.Uint64
}

// New builds the server and its routes. It does not listen until Run.
func New(cfg Config, snap *sink.Snapshot, provider Provider) *Server {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 75
	}
	if cfg.StreamFPS <= 0 {
		cfg.StreamFPS = 10
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 3 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		snap:     snap,
		provider: provider,
		started:  time.Now(),
		ctx:      ctx,
		cancel:   cancel,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	if gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())
	engine.GET("/health", s.handleHealth)
	engine.GET("/ready", s.handleReady)
	engine.GET("/stats", s.handleStats)
	engine.GET("/snapshot.jpg", s.handleSnapshot)
	engine.GET("/ws", s.handleStream)
	s.engine = engine

	return s
}

// Handler returns the HTTP handler, for embedding or httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the listening address once Run has bound it, nil before.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run listens on cfg.Listen and serves until ctx is cancelled, then shuts
// down gracefully and closes open streams.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("preview: listen %s: %w", s.cfg.Listen, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	srv := &http.Server{Handler: s.engine, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	slog.Info("preview: server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("preview: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	s.Close()
	slog.Info("preview: server stopped")
	if err != nil {
		return fmt.Errorf("preview: shutdown: %w", err)
	}
	return nil
}

// Close ends every open stream and waits for their goroutines. Idempotent.
func (s *Server) Close() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

// Stats returns server counters.
func (s *Server) Stats() Stats {
	return Stats{
		StreamClients: s.clients.Load(),
		StreamFrames:  s.streamFrames.Load(),
		Snapshots:     s.snapshots.Load(),
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleReady(c *gin.Context) {
	ready, reason := s.provider.Ready()
	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "reason": reason})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.provider.Stats())
}

func (s *Server) handleSnapshot(c *gin.Context) {
	frame, ok := s.snap.Latest()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame presented yet"})
		return
	}

	format, contentType := sink.FormatJPEG, "image/jpeg"
	if c.Query("format") == sink.FormatPNG {
		format, contentType = sink.FormatPNG, "image/png"
	}

	var buf bytes.Buffer
	if err := sink.Encode(&buf, frame, format, s.cfg.JPEGQuality); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.snapshots.Add(1)
	c.Header("X-Frame-Seq", fmt.Sprintf("%d", frame.Seq()))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

func (s *Server) handleStream(c *gin.Context) {
	if !c.IsWebsocket() {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("preview: websocket upgrade failed", "error", err)
		return
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	n := s.clients.Add(1)
	slog.Info("preview: stream client connected", "remote", conn.RemoteAddr().String(), "clients", n)
	defer func() {
		conn.Close()
		n := s.clients.Add(-1)
		slog.Info("preview: stream client disconnected", "clients", n)
	}()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	// The client never sends anything we need; reading only detects close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.stream(ctx, conn)
}

// stream sends every new snapshot frame as a JPEG, at most StreamFPS per
// second. Frames presented in between are skipped.
func (s *Server) stream(ctx context.Context, conn *websocket.Conn) {
	interval := time.Duration(float64(time.Second) / s.cfg.StreamFPS)
	var (
		lastSeq  uint64
		lastSent time.Time
		buf      bytes.Buffer
	)

	for {
		frame, err := s.snap.Wait(ctx, lastSeq)
		if err != nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			return
		}

		if wait := interval - time.Since(lastSent); wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			// Send the newest frame available after the pause.
			if latest, ok := s.snap.Latest(); ok {
				frame = latest
			}
		}

		buf.Reset()
		if err := sink.Encode(&buf, frame, sink.FormatJPEG, s.cfg.JPEGQuality); err != nil {
			slog.Debug("preview: encode failed", "seq", frame.Seq(), "error", err)
			lastSeq = frame.Seq()
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
			slog.Debug("preview: stream write failed", "error", err)
			return
		}
		s.streamFrames.Add(1)
		lastSeq = frame.Seq()
		lastSent = time.Now()
	}
}

// requestLogger logs every request at debug level.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("preview: request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		)
	}
}
