package ringcentral

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	backoffMin      = 5 * time.Second
	backoffMax      = 300 * time.Second
	rateLimitFloor  = 60 * time.Second
	watchdogPeriod  = 30 * time.Second
	watchdogDrift   = 10 * time.Second
	inboundStaleAge = 5 * time.Minute
)

// subscriptionEventFilters is the fixed server-side filter set: post
// and group events only.
var subscriptionEventFilters = []string{
	"/restapi/v1.0/glip/posts",
	"/restapi/v1.0/glip/groups",
}

// ErrAuthFatal wraps an authentication failure that must stop the
// subscription loop instead of scheduling a reconnect.
var ErrAuthFatal = errors.New("authentication failed")

// Status is the per-account health snapshot forwarded to the sink.
type Status struct {
	AccountID       string
	Connected       bool
	TotalReconnects int
	LastReconnectAt time.Time
	LastInboundAt   time.Time
	LastOutboundAt  time.Time
}

// StatusSink receives a copy of Status on every change.
type StatusSink func(Status)

// InboundEvent is one push notification handed to the pipeline.
type InboundEvent struct {
	EventPath string
	EventType string
	Post      Post
}

// EventHandler consumes inbound events. Each call runs in its own
// goroutine; a panic or error inside the handler must not reach the
// read loop.
type EventHandler func(ctx context.Context, ev InboundEvent)

// Subscriber owns the single websocket and server-side subscription of
// one account. Reconnects use exponential backoff with jitter; a
// watchdog detects host sleep, dead sockets and inbound staleness.
type Subscriber struct {
	client    *RestClient
	accountID string
	logger    *slog.Logger
	handler   EventHandler
	sink      StatusSink
	rng       *rand.Rand

	mu                   sync.Mutex
	conn                 *websocket.Conn
	subscriptionID       string
	attempt              int
	totalReconnects      int
	lastReconnectAt      time.Time
	lastInboundAt        time.Time
	lastOutboundAt       time.Time
	everReceived         bool
	nextAllowedConnectAt time.Time
	reconnecting         bool
}

// NewSubscriber wires a subscriber for one account. sink may be nil.
func NewSubscriber(client *RestClient, accountID string, handler EventHandler, sink StatusSink, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		client:    client,
		accountID: accountID,
		handler:   handler,
		sink:      sink,
		logger:    logger,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run drives the connect/serve/reconnect loop until ctx is cancelled
// or a fatal auth error occurs. It blocks.
func (s *Subscriber) Run(ctx context.Context) error {
	defer s.teardown()

	for {
		if err := s.waitConnectGate(ctx); err != nil {
			return err
		}

		err := s.connectAndServe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrAuthFatal) || IsAuthError(err) {
			s.logger.Error("subscription auth failed, stopping", "account", s.accountID, "error", err)
			return fmt.Errorf("%w: %v", ErrAuthFatal, err)
		}

		s.scheduleReconnect(err)
	}
}

// waitConnectGate sleeps until nextAllowedConnectAt.
func (s *Subscriber) waitConnectGate(ctx context.Context) error {
	s.mu.Lock()
	gate := s.nextAllowedConnectAt
	s.mu.Unlock()

	wait := time.Until(gate)
	if wait <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// scheduleReconnect computes the next backoff window. Idempotent under
// the reconnecting guard so concurrent failure paths (read loop,
// watchdog) book at most one reconnect.
func (s *Subscriber) scheduleReconnect(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reconnecting {
		return
	}
	s.reconnecting = true
	s.totalReconnects++
	s.lastReconnectAt = time.Now()

	var delay time.Duration
	if IsRateLimited(cause) {
		delay = rateLimitFloor
		if ra := RetryAfterSeconds(cause); ra > 0 {
			if d := time.Duration(ra) * time.Second; d > delay {
				delay = d
			}
		}
	} else {
		delay = backoffDelay(s.attempt, s.rng)
		s.attempt++
	}

	s.nextAllowedConnectAt = time.Now().Add(delay)
	s.logger.Warn("subscription reconnect scheduled",
		"account", s.accountID,
		"delay", delay.Round(time.Millisecond),
		"attempt", s.attempt,
		"total_reconnects", s.totalReconnects,
		"cause", errString(cause))
	s.publishStatusLocked(false)
}

// backoffDelay is clamp(min*2^attempt, min, max) with 25% jitter.
func backoffDelay(attempt int, rng *rand.Rand) time.Duration {
	d := backoffMin
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= backoffMax {
			d = backoffMax
			break
		}
	}
	jitter := 0.75 + rng.Float64()*0.5
	out := time.Duration(float64(d) * jitter)
	if out < time.Duration(float64(backoffMin)*0.75) {
		out = backoffMin
	}
	if out > backoffMax {
		out = backoffMax
	}
	return out
}

// connectAndServe performs one full session: websocket token, dial,
// subscription create, then the read loop plus watchdog until failure.
func (s *Subscriber) connectAndServe(ctx context.Context) error {
	s.mu.Lock()
	s.reconnecting = false
	s.mu.Unlock()

	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}

	sessCtx, cancelSess := context.WithCancel(ctx)
	defer cancelSess()

	s.mu.Lock()
	s.conn = conn
	s.attempt = 0
	s.publishStatusLocked(true)
	s.mu.Unlock()

	if err := s.subscribe(ctx, sessCtx, conn); err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return err
	}
	s.logger.Info("subscription established", "account", s.accountID)

	watchdogDone := make(chan struct{})
	go func() {
		defer close(watchdogDone)
		s.watchdog(sessCtx, conn, cancelSess)
	}()

	err = s.readLoop(ctx, sessCtx, conn)
	cancelSess()
	<-watchdogDone

	s.mu.Lock()
	s.conn = nil
	s.publishStatusLocked(false)
	s.mu.Unlock()

	conn.Close(websocket.StatusNormalClosure, "session over")
	return err
}

// dial obtains a websocket ticket and opens the gateway connection.
func (s *Subscriber) dial(ctx context.Context) (*websocket.Conn, error) {
	var ticket struct {
		URI           string `json:"uri"`
		WSAccessToken string `json:"ws_access_token"`
	}
	if err := s.client.doJSON(ctx, http.MethodPost, "/restapi/oauth/wstoken", nil, &ticket); err != nil {
		return nil, fmt.Errorf("websocket ticket: %w", err)
	}
	if ticket.URI == "" {
		return nil, errors.New("websocket ticket missing uri")
	}

	wsURL := ticket.URI
	if ticket.WSAccessToken != "" {
		sep := "?"
		if strings.Contains(wsURL, "?") {
			sep = "&"
		}
		wsURL += sep + "access_token=" + ticket.WSAccessToken
	}

	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

// wsMeta is the first element of every gateway frame.
type wsMeta struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId,omitempty"`
	Status    int    `json:"status,omitempty"`
}

// subscribe sends the subscription-create request over the socket and
// waits for its response. Server notifications arriving before the
// create-response are dispatched, not discarded.
func (s *Subscriber) subscribe(runCtx, sessCtx context.Context, conn *websocket.Conn) error {
	msgID := uuid.NewString()
	frame := []interface{}{
		map[string]interface{}{
			"type":      "ClientRequest",
			"messageId": msgID,
			"method":    "POST",
			"path":      "/restapi/v1.0/subscription",
		},
		map[string]interface{}{
			"eventFilters": subscriptionEventFilters,
			"deliveryMode": map[string]string{"transportType": "WebSocket"},
		},
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if err := conn.Write(sessCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("subscription create write: %w", err)
	}

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		readCtx, cancel := context.WithDeadline(sessCtx, deadline)
		_, raw, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("subscription create read: %w", err)
		}

		meta, body, err := splitFrame(raw)
		if err != nil {
			continue
		}
		if meta.Type == "ServerNotification" {
			s.dispatchNotification(runCtx, body)
			continue
		}
		if meta.Type == "ConnectionDetails" {
			continue
		}
		if meta.MessageID != msgID {
			continue
		}
		if meta.Status == 429 {
			return &APIError{HTTPStatus: 429, AccountID: s.accountID, Message: "Request rate exceeded"}
		}
		if meta.Status == 401 {
			return &APIError{HTTPStatus: 401, AccountID: s.accountID, Message: "subscription unauthorized"}
		}
		if meta.Status != 0 && (meta.Status < 200 || meta.Status >= 300) {
			return &APIError{HTTPStatus: meta.Status, AccountID: s.accountID, Message: "subscription create failed"}
		}

		var sub struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(body, &sub); err == nil && sub.ID != "" {
			s.mu.Lock()
			s.subscriptionID = sub.ID
			s.mu.Unlock()
		}
		return nil
	}
	return errors.New("subscription create timed out")
}

// readLoop reads gateway frames until the socket dies. Notifications
// are dispatched in their own goroutines so a slow pipeline never
// stalls the socket. Reads use the session context; dispatch uses the
// run context so a reconnect never cancels an in-flight pipeline.
func (s *Subscriber) readLoop(runCtx, sessCtx context.Context, conn *websocket.Conn) error {
	for {
		_, raw, err := conn.Read(sessCtx)
		if err != nil {
			if sessCtx.Err() != nil {
				return sessCtx.Err()
			}
			return fmt.Errorf("websocket read: %w", err)
		}

		meta, body, err := splitFrame(raw)
		if err != nil {
			s.logger.Debug("unparseable gateway frame", "account", s.accountID, "error", err)
			continue
		}
		if meta.Type != "ServerNotification" {
			continue
		}
		s.dispatchNotification(runCtx, body)
	}
}

// dispatchNotification stamps inbound health and hands one notification
// to the pipeline in its own goroutine.
func (s *Subscriber) dispatchNotification(ctx context.Context, body json.RawMessage) {
	s.mu.Lock()
	s.lastInboundAt = time.Now()
	s.everReceived = true
	s.publishStatusLocked(true)
	s.mu.Unlock()

	var notif struct {
		Event string          `json:"event"`
		Body  json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(body, &notif); err != nil {
		s.logger.Debug("unparseable notification", "account", s.accountID, "error", err)
		return
	}

	ev := InboundEvent{EventPath: notif.Event}
	if len(notif.Body) > 0 {
		var pb struct {
			Post
			EventType string `json:"eventType,omitempty"`
		}
		if err := json.Unmarshal(notif.Body, &pb); err == nil {
			ev.Post = pb.Post
			ev.EventType = pb.EventType
		}
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("inbound handler panic", "account", s.accountID, "panic", r)
			}
		}()
		s.handler(ctx, ev)
	}()
}

// splitFrame decodes the [meta, body] frame shape of the gateway.
func splitFrame(raw []byte) (wsMeta, json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return wsMeta{}, nil, err
	}
	if len(parts) == 0 {
		return wsMeta{}, nil, errors.New("empty frame")
	}
	var meta wsMeta
	if err := json.Unmarshal(parts[0], &meta); err != nil {
		return wsMeta{}, nil, err
	}
	var body json.RawMessage
	if len(parts) > 1 {
		body = parts[1]
	}
	return meta, body, nil
}

// watchdog checks session health every 30 seconds. Timer drift beyond
// 10 seconds means the host slept; inbound silence beyond 5 minutes on
// a chatty account means the socket is dead even if it looks open.
func (s *Subscriber) watchdog(ctx context.Context, conn *websocket.Conn, cancelSess context.CancelFunc) {
	ticker := time.NewTicker(watchdogPeriod)
	defer ticker.Stop()

	lastTick := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now()
		elapsed := now.Sub(lastTick)
		lastTick = now

		if elapsed > watchdogPeriod+watchdogDrift {
			s.logger.Warn("watchdog timer drift, forcing reconnect",
				"account", s.accountID, "elapsed", elapsed.Round(time.Second))
			cancelSess()
			return
		}

		if pingErr := conn.Ping(ctx); pingErr != nil && ctx.Err() == nil {
			s.logger.Warn("watchdog ping failed, forcing reconnect",
				"account", s.accountID, "error", pingErr)
			cancelSess()
			return
		}

		s.mu.Lock()
		stale := s.everReceived && !s.lastInboundAt.IsZero() && now.Sub(s.lastInboundAt) > inboundStaleAge
		if stale {
			s.lastInboundAt = now
		}
		s.mu.Unlock()

		if stale {
			s.logger.Warn("watchdog inbound staleness, forcing reconnect", "account", s.accountID)
			cancelSess()
			return
		}
	}
}

// MarkOutbound stamps lastOutboundAt and forwards status.
func (s *Subscriber) MarkOutbound() {
	s.mu.Lock()
	s.lastOutboundAt = time.Now()
	s.publishStatusLocked(s.conn != nil)
	s.mu.Unlock()
}

// StatusSnapshot returns the current health counters.
func (s *Subscriber) StatusSnapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		AccountID:       s.accountID,
		Connected:       s.conn != nil,
		TotalReconnects: s.totalReconnects,
		LastReconnectAt: s.lastReconnectAt,
		LastInboundAt:   s.lastInboundAt,
		LastOutboundAt:  s.lastOutboundAt,
	}
}

func (s *Subscriber) publishStatusLocked(connected bool) {
	if s.sink == nil {
		return
	}
	s.sink(Status{
		AccountID:       s.accountID,
		Connected:       connected,
		TotalReconnects: s.totalReconnects,
		LastReconnectAt: s.lastReconnectAt,
		LastInboundAt:   s.lastInboundAt,
		LastOutboundAt:  s.lastOutboundAt,
	})
}

// teardown revokes the server-side subscription and closes the socket.
// Runs on loop exit with a fresh short-lived context since the run
// context is already cancelled.
func (s *Subscriber) teardown() {
	s.mu.Lock()
	subID := s.subscriptionID
	conn := s.conn
	s.subscriptionID = ""
	s.conn = nil
	s.mu.Unlock()

	if subID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.client.RevokeSubscription(ctx, subID); err != nil {
			s.logger.Debug("subscription revoke failed", "account", s.accountID, "error", err)
		}
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "shutdown")
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
