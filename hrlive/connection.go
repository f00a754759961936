package hrlive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/izhars/hrm-admin-sub002/hrlive/internal"
)

// Transport is one open, bidirectional frame stream.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens a Transport to url authenticated with token.
type Dialer func(ctx context.Context, url, token string) (Transport, error)

// WebsocketDialer returns the default Dialer.
func WebsocketDialer(cfg Config, codec Codec) Dialer {
	return func(ctx context.Context, url, token string) (Transport, error) {
		c, err := internal.Dial(ctx, url, token, codec.MessageType(), cfg.ReadTimeout, cfg.WriteTimeout)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Conn is the event surface the upper layers build on.
type Conn interface {
	Subscribe(name EventName, fn Handler) (unsubscribe func())
	Send(ctx context.Context, name EventName, payload any) error
	State() ConnectionState
}

const eventQueueSize = 256

type eventQueue struct {
	ch   chan Event
	stop chan struct{}
}

// ConnectionManager owns the lifecycle of one real-time connection: dialing
// with a token, automatic reconnection with a fixed delay, and teardown.
//
// Every subscriber callback runs on a single dispatch goroutine in the order
// events arrived, so handlers of one manager never run concurrently.
type ConnectionManager struct {
	cfg     Config
	codec   Codec
	dial    Dialer
	logger  Logger
	metrics *Metrics
	bus     Bus

	mu        sync.Mutex
	state     ConnectionState
	token     string
	closed    bool
	epoch     uint64 // bumped by Open and Close; stale dials and timers compare against it
	gen       uint64 // bumped per transport; stale loops compare against it
	attempts  int
	retry     *time.Timer
	transport Transport
	writeCh   chan []byte
	runCtx    context.Context
	runCancel context.CancelFunc
	queue     *eventQueue
	life      context.Context // lives from Open to Close; background dials derive from it
	endLife   context.CancelFunc
}

// NewConnectionManager constructs a manager with provided config.
// Use DefaultConfig() as a starting point and modify as needed.
func NewConnectionManager(cfg Config) *ConnectionManager {
	codec, err := CodecByName(cfg.Codec)
	if err != nil {
		// Validate reports the bad codec on Open.
		codec = JSONCodec{}
	}
	return &ConnectionManager{
		cfg:    cfg,
		codec:  codec,
		dial:   WebsocketDialer(cfg, codec),
		logger: noopLogger{},
	}
}

// SetLogger overrides logger (optional).
func (m *ConnectionManager) SetLogger(l Logger) {
	if l == nil {
		return
	}
	m.logger = l
}

// SetMetrics attaches metrics (optional).
func (m *ConnectionManager) SetMetrics(mt *Metrics) { m.metrics = mt }

// SetDialer replaces the transport dialer (optional).
func (m *ConnectionManager) SetDialer(d Dialer) {
	if d == nil {
		return
	}
	m.dial = d
}

// Subscribe registers fn for events named name.
func (m *ConnectionManager) Subscribe(name EventName, fn Handler) func() {
	return m.bus.Subscribe(name, fn)
}

// OnStateChanged registers callback for state transitions.
func (m *ConnectionManager) OnStateChanged(fn func(StateEvent)) func() {
	return m.Subscribe(EventStateChanged, func(ev Event) { fn(ev.State) })
}

// OnError registers callback for server error frames and undecodable frames.
func (m *ConnectionManager) OnError(fn func(error)) func() {
	return m.Subscribe(EventError, func(ev Event) { fn(ev.Err) })
}

// State returns the current connection state.
func (m *ConnectionManager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Open dials the server with token. A failed attempt is returned and also
// retried in the background when AutoReconnect is set.
func (m *ConnectionManager) Open(ctx context.Context, token string) error {
	if err := m.cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return NewError(ErrorAlreadyConnected, "already connected")
	}
	m.token = token
	m.closed = false
	m.epoch++
	epoch := m.epoch
	m.attempts = 0
	m.stopRetryLocked()
	if m.endLife == nil {
		m.life, m.endLife = context.WithCancel(context.Background())
	}
	if m.queue == nil {
		m.queue = &eventQueue{ch: make(chan Event, eventQueueSize), stop: make(chan struct{})}
		go m.dispatchLoop(m.queue)
	}
	sev := m.transitionLocked(StateConnecting, nil, 0)
	m.mu.Unlock()

	m.emitState(sev)
	return m.connect(ctx, epoch, 0)
}

// Send encodes payload and queues it for the writer.
func (m *ConnectionManager) Send(ctx context.Context, name EventName, payload any) error {
	data, err := m.codec.EncodeFrame(name, payload)
	if err != nil {
		return WrapError(ErrorSerialization, "failed to encode "+string(name), err)
	}

	m.mu.Lock()
	ch, runCtx, state := m.writeCh, m.runCtx, m.state
	m.mu.Unlock()
	if state != StateConnected || ch == nil {
		return NewError(ErrorNotConnected, "not connected")
	}

	select {
	case ch <- data:
		return nil
	case <-runCtx.Done():
		return NewError(ErrorNotConnected, "connection dropped while sending")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels any pending reconnection, stops the loops and releases the
// transport. It is safe to call more than once.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.epoch++
	m.stopRetryLocked()
	if m.endLife != nil {
		m.endLife()
		m.endLife = nil
	}
	t := m.transport
	m.dropTransportLocked()
	m.state = StateDisconnected
	m.metrics.setState(StateDisconnected)
	q := m.queue
	m.queue = nil
	m.mu.Unlock()

	if q != nil {
		close(q.stop)
	}
	var err error
	if t != nil {
		err = t.Close()
	}
	m.logger.Info("connection closed", nil)
	return err
}

func (m *ConnectionManager) connect(ctx context.Context, epoch uint64, attempt int) error {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()

	dialCtx := ctx
	if m.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
		defer cancel()
	}

	t, err := m.dial(dialCtx, m.cfg.URL, token)
	if err != nil {
		werr := WrapError(ErrorConnection, "dial failed", err)
		m.mu.Lock()
		if m.closed || epoch != m.epoch {
			m.mu.Unlock()
			return werr
		}
		sev := m.transitionLocked(StateError, werr, attempt)
		m.mu.Unlock()

		m.logger.Warn("connect failed", map[string]any{"error": err.Error(), "attempt": attempt})
		m.emitState(sev)
		m.emit(Event{Name: EventConnectionError, Err: werr})
		m.scheduleReconnect()
		return werr
	}

	m.mu.Lock()
	if m.closed || epoch != m.epoch {
		m.mu.Unlock()
		_ = t.Close()
		return NewError(ErrorClosed, "closed while connecting")
	}
	m.gen++
	gen := m.gen
	runCtx, cancel := context.WithCancel(context.Background())
	writeCh := make(chan []byte, 16)
	m.transport = t
	m.writeCh = writeCh
	m.runCtx = runCtx
	m.runCancel = cancel
	m.attempts = 0
	sev := m.transitionLocked(StateConnected, nil, attempt)
	m.mu.Unlock()

	m.logger.Info("connected", map[string]any{"url": m.cfg.URL, "attempt": attempt})
	m.emitState(sev)
	m.emit(Event{Name: EventConnected})

	go m.readLoop(runCtx, t, gen)
	go m.writeLoop(runCtx, t, writeCh, gen)
	return nil
}

func (m *ConnectionManager) readLoop(ctx context.Context, t Transport, gen uint64) {
	for {
		data, err := t.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.connectionLost(gen, err)
			return
		}

		frame, err := m.codec.DecodeFrame(data)
		if err != nil {
			m.logger.Warn("dropping undecodable frame", map[string]any{"error": err.Error()})
			m.emit(Event{Name: EventError, Err: WrapError(ErrorDataShape, "undecodable frame", err)})
			continue
		}
		if frame.Error != nil {
			m.emit(Event{Name: EventError, Err: FromProtocolError(frame.Error)})
			continue
		}
		if frame.Event == "" {
			m.logger.Debug("dropping frame without event name", nil)
			continue
		}
		m.emit(Event{Name: EventName(frame.Event), Data: frame.Data})
	}
}

func (m *ConnectionManager) writeLoop(ctx context.Context, t Transport, writeCh <-chan []byte, gen uint64) {
	for {
		select {
		case data := <-writeCh:
			if err := t.Write(ctx, data); err != nil {
				if ctx.Err() != nil {
					return
				}
				m.connectionLost(gen, err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *ConnectionManager) connectionLost(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.transport == nil {
		m.mu.Unlock()
		return
	}
	t := m.transport
	m.dropTransportLocked()
	err := WrapError(ErrorDisconnected, "connection lost", cause)
	sev := m.transitionLocked(StateDisconnected, err, 0)
	m.mu.Unlock()

	_ = t.Close()
	fields := map[string]any{"error": cause.Error()}
	if internal.IsNormalClosure(cause) {
		m.logger.Info("server closed connection", fields)
	} else {
		m.logger.Warn("connection lost", fields)
	}
	m.emitState(sev)
	m.emit(Event{Name: EventDisconnected, Err: err})
	m.scheduleReconnect()
}

func (m *ConnectionManager) scheduleReconnect() {
	m.mu.Lock()
	if m.closed || !m.cfg.AutoReconnect {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		attempts := m.attempts
		err := NewError(ErrorReconnectExhausted, fmt.Sprintf("gave up after %d attempts", attempts))
		sev := m.transitionLocked(StateError, err, attempts)
		m.mu.Unlock()

		m.logger.Error("reconnect attempts exhausted", map[string]any{"attempts": attempts})
		m.emitState(sev)
		m.emit(Event{Name: EventReconnectFailed, Err: err})
		return
	}
	m.attempts++
	attempt, epoch, life := m.attempts, m.epoch, m.life
	m.retry = time.AfterFunc(m.cfg.ReconnectDelay, func() { m.reconnect(life, epoch, attempt) })
	m.mu.Unlock()

	m.logger.Info("reconnect scheduled", map[string]any{"attempt": attempt, "delay": m.cfg.ReconnectDelay.String()})
}

func (m *ConnectionManager) reconnect(life context.Context, epoch uint64, attempt int) {
	m.mu.Lock()
	if m.closed || epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	sev := m.transitionLocked(StateConnecting, nil, attempt)
	m.mu.Unlock()

	m.metrics.reconnectAttempt()
	m.emitState(sev)
	_ = m.connect(life, epoch, attempt)
}

func (m *ConnectionManager) dispatchLoop(q *eventQueue) {
	for {
		select {
		case ev := <-q.ch:
			m.bus.Publish(ev)
		case <-q.stop:
			return
		}
	}
}

// emit must not be called with m.mu held: handlers may call back into m.
func (m *ConnectionManager) emit(ev Event) {
	m.mu.Lock()
	q := m.queue
	m.mu.Unlock()
	if q == nil {
		return
	}
	ev.codec = m.codec
	select {
	case q.ch <- ev:
	case <-q.stop:
	}
}

func (m *ConnectionManager) emitState(ev *Event) {
	if ev != nil {
		m.emit(*ev)
	}
}

// transitionLocked moves to next and returns the stateChanged event to emit
// once the lock is released, or nil when nothing changed.
func (m *ConnectionManager) transitionLocked(next ConnectionState, err error, attempt int) *Event {
	if m.state == next && err == nil {
		return nil
	}
	ev := &Event{
		Name:  EventStateChanged,
		Err:   err,
		State: StateEvent{OldState: m.state, NewState: next, Error: err, Attempt: attempt},
	}
	m.state = next
	m.metrics.setState(next)
	return ev
}

func (m *ConnectionManager) dropTransportLocked() {
	if m.runCancel != nil {
		m.runCancel()
	}
	m.transport = nil
	m.writeCh = nil
	m.runCancel = nil
}

func (m *ConnectionManager) stopRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}
