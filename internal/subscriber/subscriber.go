// StudyPulse - Real-time Course Activity Tracking
// Copyright 2026 J. Whitfield (jwhitfield)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jwhitfield/studypulse

// Package subscriber is the client side of the realtime channel: a
// reconnecting websocket consumer that multiplexes typed event handlers
// over a single connection. It dials the server's websocket endpoint,
// retries with exponential backoff when the connection drops, and replays
// the current subscription set after every reconnect.
//
// Rejections carrying an authentication or authorization close code are
// terminal: the subscriber stops retrying until Connect is called again
// with a fresh credential.
package subscriber

import (
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/jwhitfield/studypulse/internal/identity"
	"github.com/jwhitfield/studypulse/internal/logging"
	"github.com/jwhitfield/studypulse/internal/realtime"
)

// Event is a change notification as seen by the client. The payload stays
// raw; each handler decodes the shape it expects.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Scope   *realtime.Scope `json:"scope"`
}

// Handler consumes events of a subscribed type. Handlers run on the read
// goroutine; blocking ones stall delivery.
type Handler func(Event)

// Ready is the server greeting delivered after each successful handshake.
type Ready struct {
	UserID            string
	OrgID             string
	Role              string
	HeartbeatInterval time.Duration
}

// Options configures a Subscriber. Zero retry fields get the defaults
// below.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://host:port/api/v1/ws.
	URL string

	// DialTimeout bounds each connection attempt. Default 10s.
	DialTimeout time.Duration

	// InitialRetry is the first reconnect delay. Default 1s.
	InitialRetry time.Duration

	// MaxRetry caps the reconnect delay. Default 30s.
	MaxRetry time.Duration

	// RetryMultiplier grows the delay between attempts. Default 1.5.
	RetryMultiplier float64

	// OnConnect fires after each successful handshake with the server
	// greeting, including the first one and every reconnect.
	OnConnect func(Ready)

	// OnDisconnect fires when an established connection is lost, with the
	// close code when one was received and 0 otherwise.
	OnDisconnect func(code int)
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.InitialRetry <= 0 {
		o.InitialRetry = time.Second
	}
	if o.MaxRetry <= 0 {
		o.MaxRetry = 30 * time.Second
	}
	if o.RetryMultiplier < 1 {
		o.RetryMultiplier = 1.5
	}
	return o
}

// readyFrame is the wire shape of the server greeting payload.
type readyFrame struct {
	UserID              string `json:"userId"`
	OrgID               string `json:"organizationId"`
	Role                string `json:"role"`
	HeartbeatIntervalMs int64  `json:"heartbeatIntervalMs"`
}

// subscribeFrame is the client-to-server subscription replacement message.
type subscribeFrame struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

// Subscriber maintains one resilient websocket connection to the realtime
// endpoint. All exported methods are safe for concurrent use.
//
// The gen counter invalidates the goroutines and retry timers of a
// superseded connection lifecycle: every asynchronous continuation carries
// the gen it was started under and becomes a no-op once Connect or
// Disconnect advances it.
type Subscriber struct {
	opts Options

	mu          sync.Mutex
	token       string
	conn        *websocket.Conn
	gen         uint64
	active      bool
	authBlocked bool
	retry       *backoff
	retryTimer  *time.Timer
	handlers    map[string]map[uint64]Handler
	handlerSeq  uint64
}

// New creates a subscriber. No connection is made until Connect.
func New(opts Options) *Subscriber {
	opts = opts.withDefaults()
	return &Subscriber{
		opts:     opts,
		retry:    newBackoff(opts.InitialRetry, opts.MaxRetry, opts.RetryMultiplier),
		handlers: make(map[string]map[uint64]Handler),
	}
}

// Connect starts the connection lifecycle with the given credential and
// returns immediately; dialing and retrying happen in the background.
//
// Calling Connect again with the same credential while the lifecycle is
// healthy is a no-op. A different credential, a terminal rejection, or a
// prior Disconnect starts a fresh lifecycle: the old connection is torn
// down, the terminal-rejection latch is cleared, and the retry delay
// resets.
func (s *Subscriber) Connect(token string) error {
	if token == "" {
		return fmt.Errorf("subscriber: %w", identity.ErrUnauthenticated)
	}

	s.mu.Lock()
	if s.active && !s.authBlocked && s.token == token {
		s.mu.Unlock()
		return nil
	}

	s.gen++
	gen := s.gen
	s.token = token
	s.active = true
	s.authBlocked = false
	s.retry.Reset()
	s.stopRetryTimerLocked()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	go s.dial(gen)
	return nil
}

// Disconnect tears the connection down and suppresses reconnection until
// the next Connect. Safe to call when not connected.
func (s *Subscriber) Disconnect() {
	s.mu.Lock()
	s.gen++
	s.active = false
	s.stopRetryTimerLocked()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}
}

// Close implements io.Closer.
func (s *Subscriber) Close() error {
	s.Disconnect()
	return nil
}

// IsConnected reports whether a websocket connection is currently open.
func (s *Subscriber) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// On registers a handler for the given event type and returns a function
// that unregisters it. Each registration change recomputes the channel
// list and, when a connection is open, resends the subscription set so the
// server only delivers what some handler wants.
func (s *Subscriber) On(eventType string, h Handler) func() {
	s.mu.Lock()
	s.handlerSeq++
	seq := s.handlerSeq
	if s.handlers[eventType] == nil {
		s.handlers[eventType] = make(map[uint64]Handler)
	}
	s.handlers[eventType][seq] = h
	s.sendSubscribeLocked()
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.handlers[eventType], seq)
			if len(s.handlers[eventType]) == 0 {
				delete(s.handlers, eventType)
			}
			s.sendSubscribeLocked()
			s.mu.Unlock()
		})
	}
}

// stale reports whether gen belongs to a superseded lifecycle. Callers
// hold s.mu.
func (s *Subscriber) staleLocked(gen uint64) bool {
	return gen != s.gen || !s.active
}

func (s *Subscriber) stopRetryTimerLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

// channelsLocked returns the sorted list of event types with at least one
// handler. Callers hold s.mu.
func (s *Subscriber) channelsLocked() []string {
	channels := make([]string, 0, len(s.handlers))
	for t := range s.handlers {
		channels = append(channels, t)
	}
	sort.Strings(channels)
	return channels
}

// sendSubscribeLocked pushes the current channel list to the server when a
// connection is open. Callers hold s.mu.
func (s *Subscriber) sendSubscribeLocked() {
	if s.conn == nil {
		return
	}
	frame, err := json.Marshal(subscribeFrame{
		Type:     realtime.MessageTypeSubscribe,
		Channels: s.channelsLocked(),
	})
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal subscribe frame")
		return
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.DialTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		logging.Debug().Err(err).Msg("subscribe write failed")
	}
}

// dialURL appends the credential to the endpoint.
func (s *Subscriber) dialURL(token string) (string, error) {
	u, err := url.Parse(s.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse websocket url: %w", err)
	}
	q := u.Query()
	q.Set(identity.TokenQueryParam, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// dial runs one connection attempt for the given lifecycle generation.
func (s *Subscriber) dial(gen uint64) {
	s.mu.Lock()
	if s.staleLocked(gen) {
		s.mu.Unlock()
		return
	}
	token := s.token
	s.mu.Unlock()

	wsURL, err := s.dialURL(token)
	if err != nil {
		logging.Error().Err(err).Str("url", s.opts.URL).Msg("invalid websocket endpoint")
		return
	}

	dialer := websocket.Dialer{HandshakeTimeout: s.opts.DialTimeout}
	conn, resp, err := dialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		logging.Debug().Err(err).Msg("websocket dial failed")
		s.scheduleRetry(gen)
		return
	}

	s.mu.Lock()
	if s.staleLocked(gen) {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	go s.readLoop(conn, gen)
}

// scheduleRetry arms the next dial attempt unless the lifecycle has been
// superseded.
func (s *Subscriber) scheduleRetry(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staleLocked(gen) || s.authBlocked {
		return
	}
	delay := s.retry.Next()
	logging.Debug().Dur("delay", delay).Msg("scheduling websocket reconnect")
	s.retryTimer = time.AfterFunc(delay, func() { s.dial(gen) })
}

// terminalCloseCode reports close codes that must not trigger a retry.
func terminalCloseCode(code int) bool {
	switch code {
	case realtime.CloseUnauthenticated, realtime.CloseOrgInactive, realtime.CloseOrgNotFound:
		return true
	}
	return false
}

// readLoop consumes frames until the connection fails, then classifies the
// failure: terminal rejections latch the subscriber closed, anything else
// re-enters the backoff sequence.
func (s *Subscriber) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleDisconnect(conn, gen, err)
			return
		}

		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			logging.Debug().Err(err).Msg("discarding malformed server frame")
			continue
		}

		switch evt.Type {
		case realtime.MessageTypeReady:
			s.handleReady(evt, gen)
		case realtime.MessageTypeSubscriptions, realtime.MessageTypePong:
			// Acknowledgements carry no client-visible state.
		default:
			s.dispatch(evt)
		}
	}
}

// handleReady resets the retry sequence, replays the subscription set, and
// notifies the application.
func (s *Subscriber) handleReady(evt Event, gen uint64) {
	var frame readyFrame
	if err := json.Unmarshal(evt.Payload, &frame); err != nil {
		logging.Debug().Err(err).Msg("discarding malformed ready payload")
		return
	}

	s.mu.Lock()
	if s.staleLocked(gen) {
		s.mu.Unlock()
		return
	}
	s.retry.Reset()
	if len(s.handlers) > 0 {
		s.sendSubscribeLocked()
	}
	s.mu.Unlock()

	logging.Info().
		Str("user_id", frame.UserID).
		Str("org_id", frame.OrgID).
		Msg("realtime subscription established")

	if s.opts.OnConnect != nil {
		s.opts.OnConnect(Ready{
			UserID:            frame.UserID,
			OrgID:             frame.OrgID,
			Role:              frame.Role,
			HeartbeatInterval: time.Duration(frame.HeartbeatIntervalMs) * time.Millisecond,
		})
	}
}

// dispatch fans an event out to the handlers registered for its type.
func (s *Subscriber) dispatch(evt Event) {
	s.mu.Lock()
	hs := make([]Handler, 0, len(s.handlers[evt.Type]))
	for _, h := range s.handlers[evt.Type] {
		hs = append(hs, h)
	}
	s.mu.Unlock()

	for _, h := range hs {
		h(evt)
	}
}

// handleDisconnect tears down a failed connection and decides whether to
// reconnect.
func (s *Subscriber) handleDisconnect(conn *websocket.Conn, gen uint64, err error) {
	_ = conn.Close()

	code := 0
	if closeErr, ok := err.(*websocket.CloseError); ok {
		code = closeErr.Code
	}
	terminal := terminalCloseCode(code)

	s.mu.Lock()
	if s.staleLocked(gen) {
		s.mu.Unlock()
		return
	}
	if s.conn == conn {
		s.conn = nil
	}
	if terminal {
		s.authBlocked = true
	}
	s.mu.Unlock()

	if terminal {
		logging.Warn().Int("close_code", code).Msg("realtime subscription rejected, not retrying")
	} else {
		logging.Info().Int("close_code", code).Msg("realtime connection lost, reconnecting")
	}

	if s.opts.OnDisconnect != nil {
		s.opts.OnDisconnect(code)
	}
	if !terminal {
		s.scheduleRetry(gen)
	}
}
