package mqtt

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nugget/system-monitor/internal/config"
	"github.com/nugget/system-monitor/internal/connwatch"
	"github.com/nugget/system-monitor/internal/events"
)

// State is the broker connection state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	// QueueSize bounds the number of messages waiting for the sender.
	// Retained and non-retained messages are queued separately, each up
	// to QueueSize.
	QueueSize = 100

	publishTimeout = 10 * time.Second
)

// ErrClosed is returned by [Conn.AwaitConnection] after [Conn.Close].
var ErrClosed = errors.New("mqtt connection closed")

// Dialer opens one broker session.
type Dialer interface {
	Dial(ctx context.Context, p ConnectParams) (Session, error)
}

// Session is a live broker session that has received a successful
// CONNACK.
type Session interface {
	Publish(ctx context.Context, m Message) error
	// Done delivers the error that ended the session. It fires once.
	Done() <-chan error
	Close(ctx context.Context) error
}

// Option configures a [Conn].
type Option func(*Conn)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conn) { c.logger = l }
}

// WithDialer replaces the paho transport.
func WithDialer(d Dialer) Option {
	return func(c *Conn) { c.dialer = d }
}

// WithBackoff overrides the reconnect backoff schedule.
func WithBackoff(cfg connwatch.BackoffConfig) Option {
	return func(c *Conn) { c.backoff = connwatch.NewBackoff(cfg) }
}

// WithProgramName sets the prefix of per-attempt client IDs.
func WithProgramName(name string) Option {
	return func(c *Conn) { c.program = name }
}

// WithWill sets the message the broker publishes if the session dies
// without a clean DISCONNECT.
func WithWill(m Message) Option {
	return func(c *Conn) { c.will = &m }
}

// WithOnConnected registers a hook run on the lifecycle goroutine after
// every accepted CONNACK. It must not block; publishing through c is
// fine since publishes only enqueue.
func WithOnConnected(fn func(ctx context.Context, c *Conn)) Option {
	return func(c *Conn) { c.onConnected = fn }
}

// WithEvents publishes connection transitions and dropped messages to b.
func WithEvents(b *events.Bus) Option {
	return func(c *Conn) { c.events = b }
}

// withSleep replaces the backoff sleep. Tests use it to record delays.
func withSleep(fn func(ctx context.Context, d time.Duration) bool) Option {
	return func(c *Conn) { c.sleep = fn }
}

// Conn is the resilient broker connection. Create it with [Connect].
type Conn struct {
	cfg         config.MQTTConfig
	dialer      Dialer
	logger      *slog.Logger
	backoff     *connwatch.Backoff
	sleep       func(ctx context.Context, d time.Duration) bool
	program     string
	will        *Message
	onConnected func(ctx context.Context, c *Conn)
	events      *events.Bus

	state atomic.Int32
	queue chan Message
	// retained holds discovery and availability messages. The sender
	// drains it before queue so a backlog of stale state reports cannot
	// crowd out the announce sent on reconnect.
	retained chan Message

	cancel     context.CancelFunc
	done       chan struct{} // lifecycle goroutine exited
	senderDone chan struct{}

	mu        sync.Mutex
	session   Session
	clientID  string // current or most recent session
	ready     chan struct{} // closed while a session is attached
	lastCheck time.Time
	lastErr   error
}

// Connect starts the lifecycle and sender goroutines and returns
// immediately. Both run until ctx is cancelled or [Conn.Close] is
// called.
func Connect(ctx context.Context, cfg config.MQTTConfig, opts ...Option) *Conn {
	c := &Conn{
		cfg:        cfg,
		logger:     slog.New(slog.DiscardHandler),
		sleep:      connwatch.SleepCtx,
		program:    config.DefaultProgramName,
		queue:      make(chan Message, QueueSize),
		retained:   make(chan Message, QueueSize),
		done:       make(chan struct{}),
		senderDone: make(chan struct{}),
		ready:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.backoff == nil {
		c.backoff = connwatch.NewBackoff(connwatch.DefaultBackoffConfig())
	}
	if c.dialer == nil {
		c.dialer = &PahoDialer{Logger: c.logger}
	}

	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
	go c.send(ctx)
	return c
}

// State returns the current connection state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

func (c *Conn) setState(s State) {
	c.state.Store(int32(s))
}

// Publish enqueues a non-retained QoS 1 message.
func (c *Conn) Publish(topic string, payload []byte) {
	c.enqueue(Message{Topic: topic, Payload: payload, QoS: 1})
}

// PublishRetained enqueues a retained QoS 1 message.
func (c *Conn) PublishRetained(topic string, payload []byte) {
	c.enqueue(Message{Topic: topic, Payload: payload, QoS: 1, Retain: true})
}

func (c *Conn) enqueue(m Message) {
	if st := c.State(); st != Connected {
		c.logger.Warn("mqtt not connected, message may be queued",
			"topic", m.Topic, "state", st.String())
	}
	q := c.queue
	if m.Retain {
		q = c.retained
	}
	select {
	case q <- m:
	default:
		c.logger.Error("mqtt publish queue full, message dropped",
			"topic", m.Topic, "capacity", QueueSize)
		c.events.Emit(events.SourceMQTT, events.KindDropped,
			map[string]any{"topic": m.Topic, "reason": "queue full"})
	}
}

// AwaitConnection blocks until a session is live or ctx expires.
func (c *Conn) AwaitConnection(ctx context.Context) error {
	_, err := c.awaitSession(ctx)
	return err
}

func (c *Conn) awaitSession(ctx context.Context) (Session, error) {
	for {
		c.mu.Lock()
		s, ready := c.session, c.ready
		c.mu.Unlock()
		if s != nil {
			return s, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.done:
			return nil, ErrClosed
		case <-ready:
		}
	}
}

// Status implements [connwatch.StatusReporter].
func (c *Conn) Status() connwatch.ServiceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.State()
	s := connwatch.ServiceStatus{
		Name:      "mqtt",
		Ready:     st == Connected,
		State:     st.String(),
		ClientID:  c.clientID,
		LastCheck: c.lastCheck,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// Close stops reconnecting, publishes offline to the will topic when a
// session is live, and disconnects. Queued messages not yet sent are
// discarded.
func (c *Conn) Close(ctx context.Context) error {
	c.cancel()

	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-c.senderDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()
	c.setState(Disconnected)

	if s == nil {
		return nil
	}

	if c.will != nil {
		offline := *c.will
		if err := s.Publish(ctx, offline); err != nil {
			c.logger.Warn("mqtt offline publish failed", "topic", offline.Topic, "error", err)
		} else {
			c.logger.Info("mqtt availability published", "status", string(offline.Payload))
		}
	}
	return s.Close(ctx)
}

// run is the lifecycle loop.
func (c *Conn) run(ctx context.Context) {
	defer close(c.done)

	for {
		if ctx.Err() != nil {
			c.setState(Disconnected)
			return
		}

		c.setState(Connecting)
		clientID := NewSessionID(c.program)
		params := BuildConnectParams(c.cfg, clientID, c.will)

		c.logger.Debug("mqtt connecting",
			"broker", params.URL(), "client_id", clientID)

		sess, err := c.dialer.Dial(ctx, params)
		if err != nil {
			if ctx.Err() != nil {
				c.setState(Disconnected)
				return
			}
			c.failed(err, "mqtt connect failed")
			if !c.wait(ctx) {
				return
			}
			continue
		}

		c.attach(sess, clientID)
		c.setState(Connected)
		c.backoff.Reset()
		c.logger.Info("mqtt connected to broker",
			"broker", params.URL(), "client_id", clientID)
		c.events.Emit(events.SourceMQTT, events.KindConnected,
			map[string]any{"client_id": clientID, "broker": params.URL()})

		if c.onConnected != nil {
			c.onConnected(ctx, c)
		}

		select {
		case <-ctx.Done():
			// Leave the session attached for Close.
			return
		case err := <-sess.Done():
			c.detach()
			if err == nil {
				err = errors.New("session ended")
			}
			c.failed(err, "mqtt connection lost")
			if !c.wait(ctx) {
				return
			}
		}
	}
}

// failed records err and marks the connection down.
func (c *Conn) failed(err error, msg string) {
	c.setState(Disconnected)

	c.mu.Lock()
	c.lastErr = err
	c.lastCheck = time.Now()
	c.mu.Unlock()

	kind := ClassifyError(err).String()
	c.logger.Warn(msg,
		"kind", kind,
		"error", err,
		"retry_in", c.backoff.Current())
	c.events.Emit(events.SourceMQTT, events.KindDisconnected, map[string]any{
		"kind":        kind,
		"error":       err.Error(),
		"retry_in_ms": c.backoff.Current().Milliseconds(),
	})
}

// wait sleeps for the next backoff delay. Returns false if ctx ended.
func (c *Conn) wait(ctx context.Context) bool {
	if !c.sleep(ctx, c.backoff.Next()) {
		c.setState(Disconnected)
		return false
	}
	return true
}

func (c *Conn) attach(s Session, clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
	c.clientID = clientID
	c.lastErr = nil
	c.lastCheck = time.Now()
	close(c.ready)
}

func (c *Conn) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = nil
	c.ready = make(chan struct{})
}

// send drains the queue onto whichever session is live.
func (c *Conn) send(ctx context.Context) {
	defer close(c.senderDone)

	for {
		m, ok := c.next(ctx)
		if !ok {
			return
		}
		s, err := c.awaitSession(ctx)
		if err != nil {
			return
		}

		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err = s.Publish(pubCtx, m)
		cancel()
		if err != nil {
			c.logger.Error("mqtt publish failed, message dropped",
				"topic", m.Topic, "error", err)
			c.events.Emit(events.SourceMQTT, events.KindDropped,
				map[string]any{"topic": m.Topic, "reason": err.Error()})
			continue
		}
		c.logger.Log(ctx, config.LevelTrace, "mqtt published",
			"topic", m.Topic, "bytes", len(m.Payload), "retain", m.Retain)
	}
}

// next returns the next message to send, preferring retained ones.
func (c *Conn) next(ctx context.Context) (Message, bool) {
	select {
	case m := <-c.retained:
		return m, true
	default:
	}
	select {
	case <-ctx.Done():
		return Message{}, false
	case m := <-c.retained:
		return m, true
	case m := <-c.queue:
		return m, true
	}
}
