package lares

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Default client timeouts.
const (
	// defaultConnectTimeout bounds dialing, the websocket handshake and
	// the wait for the panel's login response.
	defaultConnectTimeout = 10 * time.Second

	// writeTimeout bounds individual socket writes.
	writeTimeout = 5 * time.Second

	// maxFrameBytes caps inbound frame size. Panel frames are a few KB at
	// most; anything larger is a broken peer.
	maxFrameBytes = 1 << 20
)

// State is the connection lifecycle state.
type State int32

// Lifecycle states, in the order a healthy session moves through them.
const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ConnectionListener observes session lifecycle transitions.
//
// Connected fires once per session, after authentication succeeds and the
// discovery sweep has been issued. Disconnected fires when an established
// session is lost or closed, and also once, terminally, when the panel
// rejects the credentials (the client will not retry on its own). Failed
// dial attempts between sessions do not notify; they are visible in
// Stats.
type ConnectionListener interface {
	Connected()
	Disconnected(err error)
}

// Options configures a Client.
type Options struct {
	// Host is the panel address. Required.
	Host string

	// Port is the websocket port. Defaults to 443 with TLS, 80 without.
	Port int

	// UseTLS selects wss:// with the panel's legacy TLS profile.
	UseTLS bool

	// Path is the websocket endpoint path. Defaults to DefaultPath.
	Path string

	// PIN authenticates the session. Required. Never logged.
	PIN string

	// Sender identifies this client in outbound envelopes.
	Sender string

	// HeartbeatInterval is the transport ping cadence. Default 30s.
	HeartbeatInterval time.Duration

	// ConnectTimeout bounds dialing and the login wait. Default 10s.
	ConnectTimeout time.Duration

	// ReconnectBaseDelay seeds the backoff schedule. Default 5s.
	ReconnectBaseDelay time.Duration

	// ReconnectMaxDelay caps the backoff schedule. Default 60s.
	ReconnectMaxDelay time.Duration

	// Sink receives decoded discovery and status records. Optional.
	Sink Sink

	// Logger receives lifecycle logs. Optional.
	Logger Logger
}

// Stats holds operational counters for the client.
type Stats struct {
	State        string    `json:"state"`
	FramesTx     uint64    `json:"frames_tx"`
	FramesRx     uint64    `json:"frames_rx"`
	ParseErrors  uint64    `json:"parse_errors"`
	Reconnects   uint64    `json:"reconnects"`
	LastActivity time.Time `json:"last_activity"`
}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// session is the per-connection state. Every dial creates a fresh one so
// a stale read loop or heartbeat can never touch its successor. The
// failure guard runs exactly once per session no matter how many paths
// detect the loss: it records the cause, force-closes the socket without
// a close handshake and unblocks everything waiting on the session.
type session struct {
	conn   *websocket.Conn
	login  chan *LoginResult
	failed chan struct{}
	once   sync.Once
	err    error
	pongAt atomic.Int64
}

func newSession(conn *websocket.Conn) *session {
	return &session{
		conn:   conn,
		login:  make(chan *LoginResult, 1),
		failed: make(chan struct{}),
	}
}

func (s *session) fail(err error) {
	s.once.Do(func() {
		s.err = err
		s.conn.Close()
		close(s.failed)
	})
}

// Client is the connection manager for one panel.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Outbound frames serialise through a single write mutex.
//   - Sink and listener callbacks run on the client's goroutines, outside
//     any client lock, and are recovered if they panic.
//
// Auto-Reconnection:
//   - A lost session is redialed with jittered exponential backoff,
//     5s doubling to a 60s cap by default, indefinitely.
//   - The backoff attempt counter resets only when a session reaches
//     ready.
//   - A credential rejection stops automatic reconnection; Start may be
//     called again once the panel configuration is corrected.
type Client struct {
	opts   Options
	logger Logger

	mu      sync.RWMutex
	sess    *session
	state   State
	idLogin string
	cancel  context.CancelFunc

	// writeMu serialises application writes to the socket.
	writeMu sync.Mutex

	// nextID numbers outbound envelopes, restarting at 1 per connection.
	nextID atomic.Uint64

	listenerMu sync.RWMutex
	listeners  []ConnectionListener

	running atomic.Bool
	done    *closeOnce
	wg      sync.WaitGroup

	framesTx     atomic.Uint64
	framesRx     atomic.Uint64
	parseErrors  atomic.Uint64
	reconnects   atomic.Uint64
	lastActivity atomic.Int64
}

// New creates a client with validated options. No connection is attempted
// until Start.
func New(opts Options) (*Client, error) {
	if opts.Host == "" {
		return nil, errors.New("lares: host is required")
	}
	if opts.PIN == "" {
		return nil, errors.New("lares: pin is required")
	}
	if opts.Port == 0 {
		if opts.UseTLS {
			opts.Port = 443
		} else {
			opts.Port = 80
		}
	}
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.Sender == "" {
		opts.Sender = "lares-bridge"
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.ReconnectBaseDelay <= 0 {
		opts.ReconnectBaseDelay = defaultReconnectBase
	}
	if opts.ReconnectMaxDelay <= 0 {
		opts.ReconnectMaxDelay = defaultReconnectCap
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Client{
		opts:   opts,
		logger: logger,
		done:   newCloseOnce(),
	}, nil
}

// AddListener registers a connection lifecycle listener. Listeners are
// invoked from the client's session goroutine, outside any lock, and
// must not block.
func (c *Client) AddListener(l ConnectionListener) {
	if l == nil {
		return
	}
	c.listenerMu.Lock()
	c.listeners = append(c.listeners, l)
	c.listenerMu.Unlock()
}

// Start launches the connection manager in the background and returns
// immediately; the first session is established asynchronously.
// Cancelling ctx has the same effect as Close. Calling Start on a
// running client is a no-op; calling it after Close returns ErrClosed.
func (c *Client) Start(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	if !c.running.CompareAndSwap(false, true) {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer cancel()
		c.run(runCtx)
	}()
	return nil
}

/// Close tears the client down: pending timers are cancelled, the socket
// is closed without awaiting in-flight sends, and all background
// goroutines are joined. Safe to call multiple times.
func (c *Client) Close() error {
	c.done.Close()

	c.mu.Lock()
	cancel := c.cancel
	sess := c.sess
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sess != nil {
		sess.fail(ErrClosed)
	}

	c.wg.Wait()
	c.setState(StateDisconnected)
	c.logger.Info("panel client closed")
	return nil
}

// Send finalises a command against the live session and writes it to the
// panel: the session token and PIN are injected here, so construction
// sites never handle credentials. Fails with ErrNotConnected when the
// session is not ready; commands are never queued for later delivery.
func (c *Client) Send(cmd Command) error {
	c.mu.RLock()
	sess := c.sess
	state := c.state
	idLogin := c.idLogin
	c.mu.RUnlock()

	if state != StateReady || sess == nil {
		return ErrNotConnected
	}

	payload, err := cmd.finalize(idLogin, c.opts.PIN)
	if err != nil {
		return err
	}
	return c.write(sess, c.newMessage(CmdUser, payload))
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Ready reports whether the session is authenticated and serving.
func (c *Client) Ready() bool {
	return c.State() == StateReady
}

// Stats returns a snapshot of the client's operational counters.
func (c *Client) Stats() Stats {
	return Stats{
		State:        c.State().String(),
		FramesTx:     c.framesTx.Load(),
		FramesRx:     c.framesRx.Load(),
		ParseErrors:  c.parseErrors.Load(),
		Reconnects:   c.reconnects.Load(),
		LastActivity: time.Unix(c.lastActivity.Load(), 0),
	}
}

// run owns the reconnect loop: one session at a time, jittered backoff
// between failures, attempt counter reset only when a session reached
// ready. Authentication rejections end the loop.
func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()
	defer c.running.Store(false)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done.Done():
			return
		default:
		}

		ready, err := c.runSession(ctx)
		if ready {
			attempts = 0
		}

		if c.isClosed() || ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrAuthenticationFailed) {
			c.logger.Error("authentication rejected, automatic reconnection stopped", "error", err)
			return
		}

		delay := reconnectDelay(c.opts.ReconnectBaseDelay, c.opts.ReconnectMaxDelay, attempts, rng)
		attempts++
		c.reconnects.Add(1)
		c.logger.Info("reconnecting to panel", "attempt", attempts, "delay", delay.String())

		select {
		case <-ctx.Done():
			return
		case <-c.done.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runSession executes one connection attempt end to end. It reports
// whether the session reached ready and the error that ended it.
func (c *Client) runSession(ctx context.Context) (bool, error) {
	c.setState(StateConnecting)
	c.logger.Info("connecting to panel", "url", endpointURL(c.opts))

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	conn, err := dial(dialCtx, c.opts)
	cancel()
	if err != nil {
		c.setState(StateDisconnected)
		c.logger.Warn("panel dial failed", "error", err)
		return false, err
	}

	sess := newSession(conn)
	conn.SetReadLimit(maxFrameBytes)
	// The pong handler must be installed before the read loop starts;
	// the websocket library invokes it from within ReadMessage.
	conn.SetPongHandler(func(string) error {
		sess.pongAt.Store(time.Now().UnixNano())
		return nil
	})

	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()
	c.nextID.Store(0)

	c.wg.Add(1)
	go c.readLoop(sess)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-ctx.Done():
			sess.fail(ErrClosed)
		case <-c.done.Done():
			sess.fail(ErrClosed)
		case <-sess.failed:
		}
	}()

	c.setState(StateAuthenticating)
	err = c.login(sess)
	if err == nil {
		err = c.discover(sess)
	}

	ready := err == nil
	if ready {
		c.setState(StateReady)
		c.logger.Info("panel session ready")
		c.notifyConnected()

		c.wg.Add(1)
		go c.heartbeatLoop(sess)

		<-sess.failed
		err = sess.err
	} else {
		sess.fail(err)
	}

	c.mu.Lock()
	c.sess = nil
	c.idLogin = ""
	c.state = StateDisconnected
	c.mu.Unlock()

	switch {
	case ready:
		c.logger.Warn("panel session lost", "error", err)
		c.notifyDisconnected(err)
	case errors.Is(err, ErrAuthenticationFailed):
		c.notifyDisconnected(err)
	}

	return ready, err
}

// login sends the LOGIN envelope and waits for the panel's verdict. The
// session token is only valid for this socket and is discarded with it.
func (c *Client) login(sess *session) error {
	if err := c.write(sess, c.newMessage(CmdLogin, &LoginRequest{PIN: c.opts.PIN})); err != nil {
		return err
	}

	timer := time.NewTimer(c.opts.ConnectTimeout)
	defer timer.Stop()

	select {
	case res := <-sess.login:
		if !res.OK() {
			return fmt.Errorf("%w: panel replied %q", ErrAuthenticationFailed, res.Result)
		}
		if !res.IDLogin.IsSet() {
			return fmt.Errorf("%w: login accepted but no session token", ErrConnectionFailed)
		}
		c.mu.Lock()
		c.idLogin = res.IDLogin.String()
		c.mu.Unlock()
		c.logger.Debug("panel accepted login")
		return nil
	case <-sess.failed:
		return sess.err
	case <-timer.C:
		return fmt.Errorf("%w: no login response within %v", ErrConnectionFailed, c.opts.ConnectTimeout)
	}
}

// discoverySweep lists the READ batches issued, in order, after every
// successful login. Zone status is not readable; it arrives with the
// registration response.
var discoverySweep = [][]string{
	{TypeZones},
	{TypeOutputs, TypeBusSensors, TypeScenarios},
	{TypeStatusOutputs},
	{TypeStatusBusSensors},
	{TypeStatusSystem},
}

// realtimeTypes lists the categories registered for change notifications.
var realtimeTypes = []string{
	TypeStatusZones,
	TypeStatusOutputs,
	TypeStatusBusSensors,
	TypeStatusSystem,
	TypeStatusScenarios,
}

// discover issues the discovery sweep: five READ requests in fixed order,
// then the realtime registration. Responses are handled asynchronously by
// the read loop.
func (c *Client) discover(sess *session) error {
	idLogin := c.sessionToken()
	for _, types := range discoverySweep {
		if err := c.write(sess, c.newMessage(CmdRead, &ReadRequest{IDLogin: idLogin, Types: types})); err != nil {
			return err
		}
	}
	return c.write(sess, c.newMessage(CmdRealtime, &RegisterRequest{IDLogin: idLogin, Types: realtimeTypes}))
}

// readLoop is the sole reader of the socket. Frames are processed in
// transport delivery order; a frame that fails to decode is dropped and
// the connection stays alive.
func (c *Client) readLoop(sess *session) {
	defer c.wg.Done()

	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			sess.fail(fmt.Errorf("%w: read: %w", ErrConnectionFailed, err))
			return
		}

		c.framesRx.Add(1)
		c.lastActivity.Store(time.Now().Unix())

		msg, err := DecodeMessage(raw)
		if err != nil {
			c.parseErrors.Add(1)
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		c.route(sess, msg)
	}
}

// route hands a decoded frame to its consumer: login responses to the
// waiting authentication step, everything else to the sink.
func (c *Client) route(sess *session, msg *Message) {
	switch p := msg.Payload.(type) {
	case *LoginResult:
		select {
		case sess.login <- p:
		default:
			c.logger.Debug("unsolicited login frame", "result", p.Result)
		}
	case *ReadResult:
		c.dispatchInventory(p)
	case *StatusSet:
		c.dispatchStatus(p)
	case *OpaquePayload:
		c.logger.Debug("ignoring frame", "cmd", msg.Cmd, "payload_type", p.Type)
	}
}

// dispatchInventory routes a READ response to the sink: description
// arrays as discovery records, status arrays as deltas.
func (c *Client) dispatchInventory(res *ReadResult) {
	sink := c.opts.Sink
	if sink == nil {
		return
	}
	defer c.recoverCallback()

	for i := range res.Zones {
		sink.ApplyDiscovery(InventoryRecord{Zone: &res.Zones[i]})
	}
	for i := range res.Outputs {
		sink.ApplyDiscovery(InventoryRecord{Output: &res.Outputs[i]})
	}
	for i := range res.BusSensors {
		sink.ApplyDiscovery(InventoryRecord{BusSensor: &res.BusSensors[i]})
	}
	for i := range res.Scenarios {
		sink.ApplyDiscovery(InventoryRecord{Scenario: &res.Scenarios[i]})
	}
	for i := range res.OutputStates {
		sink.ApplyStatusDelta(StatusRecord{Output: &res.OutputStates[i]})
	}
	for i := range res.SensorStates {
		sink.ApplyStatusDelta(StatusRecord{BusSensor: &res.SensorStates[i]})
	}
	for i := range res.SystemStates {
		sink.ApplyStatusDelta(StatusRecord{System: &res.SystemStates[i]})
	}
}

// dispatchStatus routes a realtime change frame to the sink. The
// registration response flows through here too, seeding full state.
func (c *Client) dispatchStatus(set *StatusSet) {
	sink := c.opts.Sink
	if sink == nil {
		return
	}
	defer c.recoverCallback()

	for i := range set.Zones {
		sink.ApplyStatusDelta(StatusRecord{Zone: &set.Zones[i]})
	}
	for i := range set.Outputs {
		sink.ApplyStatusDelta(StatusRecord{Output: &set.Outputs[i]})
	}
	for i := range set.BusSensors {
		sink.ApplyStatusDelta(StatusRecord{BusSensor: &set.BusSensors[i]})
	}
	for i := range set.Scenarios {
		sink.ApplyStatusDelta(StatusRecord{Scenario: &set.Scenarios[i]})
	}
	for i := range set.System {
		sink.ApplyStatusDelta(StatusRecord{System: &set.System[i]})
	}
}

// write serialises msg and sends it as one text frame. All application
// writes funnel through one mutex; heartbeat control frames are safe
// alongside per the websocket library's concurrency contract.
func (c *Client) write(sess *session, msg *Message) error {
	raw, err := msg.Encode()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("%w: set write deadline: %w", ErrConnectionFailed, err)
	}
	if err := sess.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		werr := fmt.Errorf("%w: write: %w", ErrConnectionFailed, err)
		sess.fail(werr)
		return werr
	}

	c.framesTx.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// newMessage assembles an outbound envelope with the next correlation id.
func (c *Client) newMessage(cmd string, payload Payload) *Message {
	return &Message{
		Sender:      c.opts.Sender,
		Cmd:         cmd,
		ID:          strconv.FormatUint(c.nextID.Add(1), 10),
		PayloadType: payload.PayloadType(),
		Payload:     payload,
		Timestamp:   time.Now().Unix(),
	}
}

func (c *Client) sessionToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.idLogin
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

func (c *Client) notifyConnected() {
	for _, l := range c.snapshotListeners() {
		func() {
			defer c.recoverCallback()
			l.Connected()
		}()
	}
}

func (c *Client) notifyDisconnected(err error) {
	for _, l := range c.snapshotListeners() {
		func() {
			defer c.recoverCallback()
			l.Disconnected(err)
		}()
	}
}

func (c *Client) snapshotListeners() []ConnectionListener {
	c.listenerMu.RLock()
	defer c.listenerMu.RUnlock()
	out := make([]ConnectionListener, len(c.listeners))
	copy(out, c.listeners)
	return out
}

// recoverCallback keeps a panicking sink or listener from killing the
// client's goroutines.
func (c *Client) recoverCallback() {
	if r := recover(); r != nil {
		c.logger.Error("callback panic recovered", "panic", r)
	}
}
