// Package realtime owns the single websocket connection shared by every
// subscriber in the process. It exposes a small publish/subscribe surface
// for named events, keeps track of the connection state, and reconnects
// with bounded exponential backoff after unexpected disconnects.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	"github.com/iamfurukawa/furuksong2/model"
)

const (
	defaultRetryInitialDelay = time.Second
	defaultRetryMaxDelay     = 5 * time.Second
	defaultMaxDialAttempts   = 5

	defaultHandshakeTimeout   = 3 * time.Second
	defaultMaxMessageSize     = 65536
	defaultWriteDeadline      = 5 * time.Second
	defaultCloseWriteDeadline = 2 * time.Second

	// defaultPongWait - defaultPingInterval == is how long we give the server to respond
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second

	outboundBufferSize = 16
)

type (
	// Handler receives the raw payload of an inbound event. Handlers for the
	// same event run in registration order, on the receive goroutine, so
	// inbound events are always processed in arrival order.
	Handler func(data json.RawMessage)

	// StateHandler is notified on every connection state transition.
	StateHandler func(s State)

	Config struct {
		Logger *zerolog.Logger

		// Reconnect schedule. Zero values fall back to 1s initial delay,
		// 5s cap and 5 attempts.
		RetryInitialDelay time.Duration
		RetryMaxDelay     time.Duration
		MaxDialAttempts   int
	}

	subscription struct {
		id int
		fn Handler
	}

	stateSubscription struct {
		id int
		fn StateHandler
	}

	// Conn is the shared connection instance. Construct exactly one per
	// process and hand it to everything that needs the wire.
	Conn struct {
		logger zerolog.Logger

		retryInitial time.Duration
		retryMax     time.Duration
		maxAttempts  int

		mx             sync.Mutex
		state          State
		running        bool
		closeRequested bool
		closing        chan struct{}
		stopped        chan struct{}
		tx             chan model.Envelope
		subs           map[string][]subscription
		stateSubs      []stateSubscription
		nextID         int
	}
)

func NewConn(cfg Config) *Conn {
	c := &Conn{
		logger:       cfg.Logger.With().Str("component", "realtime").Logger(),
		retryInitial: cfg.RetryInitialDelay,
		retryMax:     cfg.RetryMaxDelay,
		maxAttempts:  cfg.MaxDialAttempts,
		subs:         make(map[string][]subscription),
	}
	if c.retryInitial <= 0 {
		c.retryInitial = defaultRetryInitialDelay
	}
	if c.retryMax <= 0 {
		c.retryMax = defaultRetryMaxDelay
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxDialAttempts
	}
	return c
}

// Connect starts the connection loop towards endpoint. It is idempotent:
// while an attempt is in flight or a connection is established, further
// calls are no-ops. Dial failures are not surfaced to the caller; the loop
// retries with backoff and eventually gives up, after which state observers
// see Disconnected and a new Connect call is required.
func (c *Conn) Connect(ctx context.Context, endpoint string) {
	c.mx.Lock()
	if c.running {
		c.mx.Unlock()
		c.logger.Debug().Msg("connect ignored, connection already active")
		return
	}
	c.running = true
	c.closeRequested = false
	c.closing = make(chan struct{})
	c.stopped = make(chan struct{})
	closing, stopped := c.closing, c.stopped
	c.mx.Unlock()

	c.setState(StateConnecting)
	go c.run(ctx, endpoint, closing, stopped)
}

// Close tears the connection down and stops the reconnect loop. It blocks
// until the loop has fully stopped, so a Connect issued right after Close
// always starts a fresh loop and never races the old loop's final state
// transition. Must not be called from a Handler or StateHandler.
func (c *Conn) Close() {
	c.mx.Lock()
	if !c.running {
		c.mx.Unlock()
		return
	}
	stopped := c.stopped
	if !c.closeRequested {
		c.closeRequested = true
		close(c.closing)
	}
	c.mx.Unlock()

	<-stopped
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.state
}

// Subscribe registers fn for inbound events named event. The returned
// function removes exactly this registration.
func (c *Conn) Subscribe(event string, fn Handler) func() {
	c.mx.Lock()
	c.nextID++
	id := c.nextID
	c.subs[event] = append(c.subs[event], subscription{id: id, fn: fn})
	c.mx.Unlock()

	return func() {
		c.mx.Lock()
		defer c.mx.Unlock()
		list := c.subs[event]
		for i, sub := range list {
			if sub.id == id {
				c.subs[event] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
	}
}

// OnStateChange registers fn for connection state transitions. The returned
// function removes the registration.
func (c *Conn) OnStateChange(fn StateHandler) func() {
	c.mx.Lock()
	c.nextID++
	id := c.nextID
	c.stateSubs = append(c.stateSubs, stateSubscription{id: id, fn: fn})
	c.mx.Unlock()

	return func() {
		c.mx.Lock()
		defer c.mx.Unlock()
		for i, sub := range c.stateSubs {
			if sub.id == id {
				c.stateSubs = append(c.stateSubs[:i:i], c.stateSubs[i+1:]...)
				break
			}
		}
	}
}

// Emit sends an event to the server. Sends are at-most-once: while not
// connected (or when the outbound buffer is full) the message is dropped,
// never queued for later.
func (c *Conn) Emit(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error().Err(err).Str("event", event).Msg("failed to marshal outgoing payload")
		return
	}

	c.mx.Lock()
	tx := c.tx
	connected := c.state == StateConnected
	c.mx.Unlock()

	if !connected || tx == nil {
		c.logger.Debug().Str("event", event).Msg("emit dropped, not connected")
		return
	}
	select {
	case tx <- model.Envelope{Event: event, Data: data}:
	default:
		c.logger.Warn().Str("event", event).Msg("emit dropped, outbound buffer full")
	}
}

func (c *Conn) setState(s State) {
	c.mx.Lock()
	if c.state == s {
		c.mx.Unlock()
		return
	}
	c.state = s
	handlers := make([]stateSubscription, len(c.stateSubs))
	copy(handlers, c.stateSubs)
	c.mx.Unlock()

	c.logger.Debug().Stringer("state", s).Msg("connection state changed")
	for _, h := range handlers {
		h.fn(s)
	}
}

func (c *Conn) run(ctx context.Context, endpoint string, closing, stopped chan struct{}) {
	defer func() {
		c.mx.Lock()
		c.running = false
		c.mx.Unlock()
		c.setState(StateDisconnected)
		close(stopped)
		c.logger.Debug().Msg("connection loop stopped")
	}()

	dialer := &websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}
	delay := &backoff.Backoff{
		Min:    c.retryInitial,
		Max:    c.retryMax,
		Factor: 2,
	}

	for attempts := 0; ; {
		ws, _, err := dialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			attempts++
			if attempts >= c.maxAttempts {
				c.logger.Error().Err(err).Int("attempts", attempts).Msg("connection attempts exhausted")
				return
			}
			next := delay.Duration()
			c.logger.Warn().Err(err).Dur("retryIn", next).Msg("dial failed")
			select {
			case <-ctx.Done():
				return
			case <-closing:
				return
			case <-time.After(next):
			}
			continue
		}

		attempts = 0
		delay.Reset()
		c.logger.Info().Str("endpoint", endpoint).Msg("connected")
		c.session(ctx, ws, closing)

		select {
		case <-ctx.Done():
			return
		case <-closing:
			return
		default:
		}
		c.setState(StateConnecting)
	}
}

// session runs the send and receive pumps until the websocket dies or the
// connection is closed, then cleans the socket up.
func (c *Conn) session(ctx context.Context, ws *websocket.Conn, closing chan struct{}) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tx := make(chan model.Envelope, outboundBufferSize)
	c.mx.Lock()
	c.tx = tx
	c.mx.Unlock()
	c.setState(StateConnected)

	// Hard-close the socket on teardown so a blocked ReadMessage returns
	// without waiting for the pong deadline.
	done := make(chan struct{})
	go func() {
		select {
		case <-closing:
		case <-sctx.Done():
		case <-done:
			return
		}
		_ = ws.Close()
	}()

	wg := &sync.WaitGroup{}
	wg.Add(2)
	go func() {
		c.writePump(sctx, ws, tx)
		cancel()
		wg.Done()
	}()
	go func() {
		c.readPump(sctx, ws)
		cancel()
		wg.Done()
	}()
	wg.Wait()

	c.mx.Lock()
	c.tx = nil
	c.mx.Unlock()

	closeWebsocket(ws, &c.logger)
	close(done)
}

func (c *Conn) writePump(ctx context.Context, ws *websocket.Conn, tx <-chan model.Envelope) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer pingTicker.Stop()

SendLoop:
	for {
		select {
		case <-ctx.Done():
			break SendLoop

		case <-pingTicker.C:
			if err := ws.SetWriteDeadline(time.Now().Add(defaultWriteDeadline)); err != nil {
				c.logger.Error().Err(err).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			if err := ws.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				c.logger.Error().Err(err).Msg("failed to send ping")
				break SendLoop
			}
			c.logger.Trace().Msg("ping sent")

		case env := <-tx:
			b, err := json.Marshal(&env)
			if err != nil {
				c.logger.Error().Err(err).Msg("failed to marshal outgoing message")
				continue
			}
			if err = ws.SetWriteDeadline(time.Now().Add(defaultWriteDeadline)); err != nil {
				c.logger.Error().Err(err).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			if err = ws.WriteMessage(websocket.TextMessage, b); err != nil {
				c.logger.Error().Err(err).Msg("failed to write outgoing message")
				break SendLoop
			}
			c.logger.Trace().Str("event", env.Event).Msg("message sent")
		}
	}
}

func (c *Conn) readPump(ctx context.Context, ws *websocket.Conn) {
	ws.SetReadLimit(defaultMaxMessageSize)
	readDeadlineFunc := func() error {
		return ws.SetReadDeadline(time.Now().Add(defaultPongWait))
	}
	ws.SetPongHandler(func(string) error {
		c.logger.Trace().Msg("got pong")
		return readDeadlineFunc()
	})
	if err := readDeadlineFunc(); err != nil {
		c.logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return
	}

RecvLoop:
	for {
		select {
		case <-ctx.Done():
			break RecvLoop
		default:
			_, msg, err := ws.ReadMessage()
			if err != nil {
				switch {
				case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
					c.logger.Warn().Err(err).Msg("connection closed by server")
				case ctx.Err() != nil:
					// expected, socket was torn down locally
				default:
					c.logger.Error().Err(err).Msg("unexpected error during receive")
				}
				break RecvLoop
			}

			var env model.Envelope
			if err = json.Unmarshal(msg, &env); err != nil {
				c.logger.Error().Err(err).Msg("failed to unmarshal incoming message")
				continue
			}
			c.dispatch(env)
		}
	}
}

func (c *Conn) dispatch(env model.Envelope) {
	c.mx.Lock()
	handlers := make([]subscription, len(c.subs[env.Event]))
	copy(handlers, c.subs[env.Event])
	c.mx.Unlock()

	if len(handlers) == 0 {
		c.logger.Trace().Str("event", env.Event).Msg("no subscribers for inbound event")
		return
	}
	for _, h := range handlers {
		h.fn(env.Data)
	}
}

func closeWebsocket(ws *websocket.Conn, logger *zerolog.Logger) {
	err := ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(defaultCloseWriteDeadline))
	if err != nil {
		logger.Debug().Err(err).Msg("close message not delivered")
	}
	if err = ws.Close(); err != nil {
		logger.Debug().Err(err).Msg("websocket close failed")
	}
}
