// Package client streams sample batches to an ingest server.
//
// Each batch is sent with its own sequence number and Send waits for the
// server's reply with the same number. A bare reply means every sample was
// inserted; an error reply is returned as an error matching the sentinel
// for its wire code.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/timering/config"
	"github.com/xtxerr/timering/internal/constants"
	"github.com/xtxerr/timering/internal/errors"
	"github.com/xtxerr/timering/internal/storage/types"
	"github.com/xtxerr/timering/internal/wire"
)

// =============================================================================
// State Machine
// =============================================================================

// ClientState represents the connection state of a client.
type ClientState int32

const (
	StateDisconnected ClientState = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

// String returns the human-readable name of the state.
func (s ClientState) String() string {
	switch s {
	case StateDisconnected:
		return constants.StateDisconnected
	case StateConnecting:
		return constants.StateConnecting
	case StateConnected:
		return constants.StateConnected
	case StateClosing:
		return constants.StateClosing
	case StateClosed:
		return constants.StateClosed
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

type stateTransition struct {
	from ClientState
	to   ClientState
}

// validTransitions defines all allowed state transitions.
var validTransitions = map[stateTransition]bool{
	{StateDisconnected, StateConnecting}: true,
	{StateDisconnected, StateClosed}:     true,

	{StateConnecting, StateConnected}:    true,
	{StateConnecting, StateDisconnected}: true,

	{StateConnected, StateDisconnected}: true,
	{StateConnected, StateClosing}:      true,

	{StateClosing, StateClosed}: true,
}

// =============================================================================
// Errors
// =============================================================================

var (
	ErrClientClosed      = errors.New("client is closed")
	ErrClientClosing     = errors.New("client is closing")
	ErrNotConnected      = errors.New("not connected")
	ErrAlreadyConnected  = errors.New("already connected")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// =============================================================================
// Client
// =============================================================================

// Client sends batches to an ingest server.
type Client struct {
	addr           string
	tlsConfig      *tls.Config
	connectTimeout time.Duration
	requestTimeout time.Duration
	maxFrameSize   int

	// Connection - protected by mu
	mu     sync.Mutex
	conn   net.Conn
	reader *wire.Reader
	writer *wire.Writer

	state     atomic.Int32
	closeOnce resettableOnce

	// Pending batches by sequence number
	pendingMu    sync.RWMutex
	pending      map[uint64]chan *wire.Frame
	seq          atomic.Uint64
	onDisconnect func(error)

	shutdown chan struct{}
}

// Config holds client configuration.
type Config struct {
	Addr           string
	TLS            bool
	TLSSkipVerify  bool
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	MaxFrameSize   int
}

// DefaultConfig returns default client configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:           config.DefaultListen,
		ConnectTimeout: config.DefaultClientTimeout,
		RequestTimeout: config.DefaultClientTimeout,
		MaxFrameSize:   config.DefaultMaxFrameSize,
	}
}

// New creates a new client.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	c := &Client{
		addr:           cfg.Addr,
		connectTimeout: cfg.ConnectTimeout,
		requestTimeout: cfg.RequestTimeout,
		maxFrameSize:   cfg.MaxFrameSize,
		pending:        make(map[uint64]chan *wire.Frame),
		shutdown:       make(chan struct{}),
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = config.DefaultClientTimeout
	}

	if cfg.TLS {
		c.tlsConfig = &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		}
	}

	return c
}

func (c *Client) getState() ClientState {
	return ClientState(c.state.Load())
}

func (c *Client) transitionTo(newState ClientState) error {
	for {
		oldState := c.getState()
		if !validTransitions[stateTransition{from: oldState, to: newState}] {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, oldState, newState)
		}
		if c.state.CompareAndSwap(int32(oldState), int32(newState)) {
			return nil
		}
	}
}

func (c *Client) transitionFrom(from, to ClientState) bool {
	if !validTransitions[stateTransition{from: from, to: to}] {
		return false
	}
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// =============================================================================
// Connection Management
// =============================================================================

// Connect dials the server.
func (c *Client) Connect() error {
	return c.ConnectWithContext(context.Background())
}

// ConnectWithContext dials with a context for timeout/cancellation.
func (c *Client) ConnectWithContext(ctx context.Context) error {
	switch c.getState() {
	case StateClosed:
		return ErrClientClosed
	case StateClosing:
		return ErrClientClosing
	case StateConnected:
		return ErrAlreadyConnected
	case StateConnecting:
		return fmt.Errorf("connection already in progress")
	}

	if !c.transitionFrom(StateDisconnected, StateConnecting) {
		return fmt.Errorf("cannot connect: current state is %s", c.getState())
	}

	success := false
	defer func() {
		if !success {
			c.transitionFrom(StateConnecting, StateDisconnected)
		}
	}()

	if c.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.connectTimeout)
		defer cancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var conn net.Conn
	var err error

	dialer := &net.Dialer{}
	if c.tlsConfig != nil {
		td := &tls.Dialer{NetDialer: dialer, Config: c.tlsConfig}
		conn, err = td.DialContext(ctx, "tcp", c.addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", c.addr)
	}
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	wc := wire.NewConn(conn, c.maxFrameSize)
	c.conn = conn
	c.reader, c.writer = wc.Reader, wc.Writer

	if err := c.transitionTo(StateConnected); err != nil {
		conn.Close()
		c.conn, c.reader, c.writer = nil, nil, nil
		return err
	}

	go c.readLoop(c.reader)

	success = true
	return nil
}

// Close closes the client connection. Pending sends return ErrClientClosed.
func (c *Client) Close() error {
	var closeErr error

	c.closeOnce.Do(func() {
		switch c.getState() {
		case StateClosed, StateClosing:
			return
		case StateDisconnected:
			c.transitionFrom(StateDisconnected, StateClosed)
			close(c.shutdown)
			return
		case StateConnected:
			c.transitionFrom(StateConnected, StateClosing)
		}

		close(c.shutdown)

		c.mu.Lock()
		if c.conn != nil {
			closeErr = c.conn.Close()
			c.conn, c.reader, c.writer = nil, nil, nil
		}
		c.mu.Unlock()

		c.failPending()
		c.transitionFrom(StateClosing, StateClosed)
	})

	return closeErr
}

// Reconnect drops the current connection, if any, and dials again.
func (c *Client) Reconnect() error {
	return c.ReconnectWithContext(context.Background())
}

// ReconnectWithContext drops the current connection and dials again.
func (c *Client) ReconnectWithContext(ctx context.Context) error {
	if c.getState() == StateClosed {
		return ErrClientClosed
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn, c.reader, c.writer = nil, nil, nil
	}
	c.mu.Unlock()

	c.state.Store(int32(StateDisconnected))
	c.failPending()

	c.shutdown = make(chan struct{})
	c.closeOnce.Reset()

	return c.ConnectWithContext(ctx)
}

func (c *Client) failPending() {
	c.pendingMu.Lock()
	for seq, ch := range c.pending {
		close(ch)
		delete(c.pending, seq)
	}
	c.pendingMu.Unlock()
}

// =============================================================================
// State Queries
// =============================================================================

// IsConnected returns true if connected.
func (c *Client) IsConnected() bool {
	return c.getState() == StateConnected
}

// IsClosed returns true if permanently closed.
func (c *Client) IsClosed() bool {
	return c.getState() == StateClosed
}

// State returns the current state as a string.
func (c *Client) State() string {
	return c.getState().String()
}

// OnDisconnect sets the handler for an unexpected disconnection.
func (c *Client) OnDisconnect(fn func(error)) {
	c.pendingMu.Lock()
	c.onDisconnect = fn
	c.pendingMu.Unlock()
}

// =============================================================================
// Read Loop
// =============================================================================

func (c *Client) readLoop(r *wire.Reader) {
	var disconnectErr error

	defer func() {
		c.pendingMu.RLock()
		fn := c.onDisconnect
		c.pendingMu.RUnlock()

		if fn != nil && disconnectErr != nil {
			fn(disconnectErr)
		}
	}()

	for {
		f, err := r.Read()
		if err != nil {
			if c.getState() != StateConnected {
				return
			}
			disconnectErr = err
			c.transitionFrom(StateConnected, StateDisconnected)
			c.failPending()
			return
		}
		c.deliver(f)
	}
}

func (c *Client) deliver(f *wire.Frame) {
	c.pendingMu.RLock()
	ch, ok := c.pending[f.Seq]
	c.pendingMu.RUnlock()

	if ok {
		select {
		case ch <- f:
		default:
		}
	}
}

// =============================================================================
// Sending
// =============================================================================

// Send writes one batch and waits for its reply.
func (c *Client) Send(ctx context.Context, b *wire.Batch) error {
	if c.getState() != StateConnected {
		return ErrNotConnected
	}

	seq := c.seq.Add(1)
	ch := make(chan *wire.Frame, 1)

	c.pendingMu.Lock()
	c.pending[seq] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, seq)
		c.pendingMu.Unlock()
	}()

	c.mu.Lock()
	w := c.writer
	c.mu.Unlock()
	if w == nil {
		return ErrNotConnected
	}
	if err := w.WriteBatch(seq, b); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return ErrClientClosed
		}
		if resp.Error != nil {
			return resp.Error.Err()
		}
		return nil

	case <-ctx.Done():
		return fmt.Errorf("batch %d: %w: %v", seq, errors.ErrTimeout, ctx.Err())

	case <-c.shutdown:
		return ErrClientClosed
	}
}

// SendSamples splits samples into batches of batchSize and sends them in
// order. It stops at the first rejected batch and returns the number of
// samples in the batches acknowledged before it.
func (c *Client) SendSamples(ctx context.Context, dim int, samples []types.Sample[float64], batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = config.DefaultReplayBatchSize
	}

	sent := 0
	for start := 0; start < len(samples); start += batchSize {
		end := min(start+batchSize, len(samples))
		b, err := wire.NewBatch(dim, samples[start:end])
		if err != nil {
			return sent, err
		}
		if err := c.Send(ctx, b); err != nil {
			return sent, err
		}
		sent += end - start
	}
	return sent, nil
}
