// Package server accepts batch frames over TCP and ingests them into a
// sample history.
//
// Every batch frame is answered with a frame carrying the same sequence
// number: an empty frame when every sample was inserted, or an error frame
// naming why some or all of them were not. Peers that keep sending
// undecodable frames are refused for a while.
package server

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/timering/internal/constants"
	"github.com/xtxerr/timering/internal/errors"
	"github.com/xtxerr/timering/internal/logging"
	"github.com/xtxerr/timering/internal/storage/config"
	"github.com/xtxerr/timering/internal/storage/ingestion"
	"github.com/xtxerr/timering/internal/storage/types"
	"github.com/xtxerr/timering/internal/wire"
)

var log = logging.Component("server")

// =============================================================================
// Rate Limiter for Malformed Frames
// =============================================================================

// RateLimiter blocks peers that send too many malformed frames.
//
// Flow:
//  1. Peer connects
//  2. Check IsBlocked() - if true, close immediately
//  3. Read frames
//  4. On an undecodable frame: call RecordFailure() and close
type RateLimiter struct {
	mu       sync.RWMutex
	failures map[string]*rateLimitEntry
	limit    int           // max failures before blocking
	window   time.Duration // time window for counting failures
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type rateLimitEntry struct {
	count     int       // number of malformed frames
	resetTime time.Time // when this entry expires
}

// NewRateLimiter creates a new rate limiter and starts its cleanup loop.
// Call Close to stop it.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		failures: make(map[string]*rateLimitEntry),
		limit:    limit,
		window:   window,
		now:      time.Now,
		stop:     make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// IsBlocked returns true if the IP has exceeded the failure limit.
func (rl *RateLimiter) IsBlocked(ip string) bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	entry, ok := rl.failures[ip]
	if !ok {
		return false
	}

	if rl.now().After(entry.resetTime) {
		return false
	}

	return entry.count >= rl.limit
}

// RecordFailure records a malformed frame from ip.
func (rl *RateLimiter) RecordFailure(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry, ok := rl.failures[ip]

	if !ok || now.After(entry.resetTime) {
		rl.failures[ip] = &rateLimitEntry{
			count:     1,
			resetTime: now.Add(rl.window),
		}
		return
	}

	entry.count++
}

// Reset clears the failure count for an IP.
func (rl *RateLimiter) Reset(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.failures, ip)
}

// GetFailureCount returns the current failure count for an IP.
func (rl *RateLimiter) GetFailureCount(ip string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	entry, ok := rl.failures[ip]
	if !ok {
		return 0
	}

	if rl.now().After(entry.resetTime) {
		return 0
	}

	return entry.count
}

// Close stops the cleanup loop.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, entry := range rl.failures {
		if now.After(entry.resetTime) {
			delete(rl.failures, ip)
		}
	}
}

// =============================================================================
// Server
// =============================================================================

// Sink receives the samples of decoded batches.
type Sink interface {
	Ingest(samples []types.Sample[float64]) (ingestion.IngestResult, error)
}

// Stats holds server statistics.
type Stats struct {
	Connections       int64
	ActiveConnections int64
	Blocked           int64
	Batches           int64
	Samples           int64
	Rejected          int64
	Malformed         int64
}

// Server reads batch frames from TCP peers and hands them to a Sink.
type Server struct {
	cfg          config.ServerConfig
	maxFrameSize int
	sink         Sink
	limiter      *RateLimiter

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}

	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup

	connections atomic.Int64
	active      atomic.Int64
	blocked     atomic.Int64
	batches     atomic.Int64
	samples     atomic.Int64
	rejected    atomic.Int64
	malformed   atomic.Int64
}

// New creates a server. maxFrameSize <= 0 uses the wire default.
func New(cfg config.ServerConfig, maxFrameSize int, sink Sink) *Server {
	window := cfg.FailureWindow
	if window <= 0 {
		window = time.Minute
	}

	return &Server{
		cfg:          cfg,
		maxFrameSize: maxFrameSize,
		sink:         sink,
		limiter:      NewRateLimiter(constants.MalformedFramesBeforeBlock, window),
		conns:        make(map[net.Conn]struct{}),
		shutdown:     make(chan struct{}),
	}
}

// Listen binds the configured address. Serve must be called afterwards.
func (s *Server) Listen() error {
	var ln net.Listener
	var err error

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("load TLS cert: %w", err)
		}
		tlsCfg := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		ln, err = tls.Listen("tcp", s.cfg.Listen, tlsCfg)
		if err != nil {
			return fmt.Errorf("TLS listen: %w", err)
		}
		log.Info("listening with TLS", "address", ln.Addr().String())
	} else {
		ln, err = net.Listen("tcp", s.cfg.Listen)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		log.Info("listening without TLS", "address", ln.Addr().String())
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Shutdown.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server: Serve called before Listen")
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
				log.Error("accept error", "error", err)
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Run listens and serves; it blocks until Shutdown.
func (s *Server) Run() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Shutdown stops accepting, closes every open connection and waits for
// their handlers to return.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		log.Info("shutting down")
		close(s.shutdown)

		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()

		s.wg.Wait()
		s.limiter.Close()
		log.Info("shutdown complete")
	})
}

// Stats returns server statistics.
func (s *Server) Stats() Stats {
	return Stats{
		Connections:       s.connections.Load(),
		ActiveConnections: s.active.Load(),
		Blocked:           s.blocked.Load(),
		Batches:           s.batches.Load(),
		Samples:           s.samples.Load(),
		Rejected:          s.rejected.Load(),
		Malformed:         s.malformed.Load(),
	}
}

// =============================================================================
// Connection Handling
// =============================================================================

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.shutdown:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// handleConn reads frames until the peer disconnects, idles out or sends
// something undecodable.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	remoteIP := extractIP(remote)

	if s.limiter.IsBlocked(remoteIP) {
		s.blocked.Add(1)
		log.Warn("blocked due to too many malformed frames", "remote", remote)
		return
	}
	if !s.track(conn) {
		return
	}
	defer s.untrack(conn)

	s.connections.Add(1)
	s.active.Add(1)
	defer s.active.Add(-1)
	log.Debug("connection from", "remote", remote)

	wc := wire.NewConn(conn, s.maxFrameSize)

	for {
		if s.cfg.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}

		f, err := wc.Read()
		if err != nil {
			s.readFailed(wc.Writer, remote, remoteIP, err)
			return
		}

		reply := s.handleFrame(f)
		if reply == nil {
			continue
		}
		if err := wc.Write(reply); err != nil {
			log.Debug("write failed, closing connection", "remote", remote, "error", err)
			return
		}
	}
}

func (s *Server) readFailed(w *wire.Writer, remote, remoteIP string, err error) {
	switch {
	case err == io.EOF:
		log.Debug("connection closed", "remote", remote)
	case errors.IsCodec(err):
		s.malformed.Add(1)
		s.limiter.RecordFailure(remoteIP)
		w.Write(wire.NewErrorFromErr(0, err))
		log.Warn("malformed frame, closing connection", "remote", remote, "error", err,
			"failure_count", s.limiter.GetFailureCount(remoteIP))
	default:
		select {
		case <-s.shutdown:
		default:
			log.Debug("read failed, closing connection", "remote", remote, "error", err)
		}
	}
}

// handleFrame ingests a batch and builds its reply. Error frames sent by
// the peer are logged and not answered.
func (s *Server) handleFrame(f *wire.Frame) *wire.Frame {
	if f.Error != nil {
		log.Warn("peer reported error", "seq", f.Seq,
			"code", errors.CodeName(f.Error.Code), "message", f.Error.Message)
		return nil
	}
	if f.Batch == nil {
		return &wire.Frame{Seq: f.Seq}
	}

	s.batches.Add(1)
	samples := f.Batch.Samples()
	res, err := s.sink.Ingest(samples)
	s.samples.Add(int64(res.Ingested))
	if err != nil {
		s.rejected.Add(int64(len(samples) - res.Ingested))
		return wire.NewErrorFromErr(f.Seq, err)
	}
	if n := res.Rejected(); n > 0 {
		s.rejected.Add(int64(n))
		code := errors.CodeOutOfOrder
		if res.DimensionMismatch > 0 {
			code = errors.CodeDimensionMismatch
		}
		return wire.NewErrorf(f.Seq, code, "%d of %d samples rejected (out of order %d, dimension %d)",
			n, len(samples), res.OutOfOrder, res.DimensionMismatch)
	}
	return &wire.Frame{Seq: f.Seq}
}

// extractIP extracts the IP address from a remote address string.
func extractIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
