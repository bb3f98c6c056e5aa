// Package conn owns the single websocket connection shared by all
// subscribed devices: join/dispatch, reconnect with capped exponential
// backoff, token renewal, and outbound command delivery.
package conn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/openrent/smartrent-go/api"
	"github.com/openrent/smartrent-go/internal/auth"
	"github.com/openrent/smartrent-go/internal/frames"
	"github.com/openrent/smartrent-go/internal/metrics"
	"github.com/openrent/smartrent-go/internal/registry"
)

// DefaultWebsocketURL is the production socket endpoint. The single
// format verb receives the access token.
const DefaultWebsocketURL = "wss://control.smartrent.com/socket/websocket?token=%s&vsn=2.0.0"

// DefaultFetchInterval is how often the periodic HTTP fetch refreshes
// fields the socket never pushes (online, battery).
const DefaultFetchInterval = 600 * time.Second

// ErrInvalidSession indicates the socket rejected a request because the
// session token is stale. SendCommand refreshes and retries once on it.
var ErrInvalidSession = errors.New("conn: invalid session")

// Config tunes a Manager. The zero value selects production defaults.
type Config struct {
	// WebsocketURL is a format string with one %s verb for the token.
	WebsocketURL string

	// FetchInterval is the period of the background full-state fetch.
	FetchInterval time.Duration

	// Backoff overrides the reconnect delay schedule. Tests shrink it.
	Backoff func(retries int) time.Duration

	// Dialer overrides the websocket dialer.
	Dialer *websocket.Dialer
}

// Manager drives the shared websocket for every subscribed device.
// There is exactly one Manager, one read loop and one periodic fetcher
// per session regardless of subscriber count.
type Manager struct {
	cfg      Config
	tokens   api.TokenProvider
	client   *api.Client
	registry *registry.Registry
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	// writeMu serializes writes; gorilla permits one concurrent writer.
	writeMu sync.Mutex

	mu         sync.Mutex
	subscribed map[int]struct{}
	state      State
	conn       *websocket.Conn
	retries    int
	cancel     context.CancelFunc
	wg         *sync.WaitGroup
}

// NewManager wires a Manager to its collaborators. The manager is idle
// until the first Subscribe.
func NewManager(tokens api.TokenProvider, client *api.Client, reg *registry.Registry, m *metrics.Metrics, logger zerolog.Logger, cfg Config) *Manager {
	if cfg.WebsocketURL == "" {
		cfg.WebsocketURL = DefaultWebsocketURL
	}
	if cfg.FetchInterval <= 0 {
		cfg.FetchInterval = DefaultFetchInterval
	}
	if cfg.Backoff == nil {
		cfg.Backoff = Backoff
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Manager{
		cfg:        cfg,
		tokens:     tokens,
		client:     client,
		registry:   reg,
		metrics:    m,
		logger:     logger,
		subscribed: make(map[int]struct{}),
		state:      StateDisconnected,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribed returns the currently subscribed device ids.
func (m *Manager) Subscribed() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.subscribed))
	for id := range m.subscribed {
		ids = append(ids, id)
	}
	return ids
}

// Subscribe registers a device for push updates. The first subscriber
// starts the connection and fetch loops; later subscribers on a live
// socket get an incremental join frame without a reconnect.
func (m *Manager) Subscribe(deviceID int) error {
	m.mu.Lock()
	if _, ok := m.subscribed[deviceID]; ok {
		m.mu.Unlock()
		return nil
	}
	m.subscribed[deviceID] = struct{}{}

	if m.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		wg := &sync.WaitGroup{}
		m.wg = wg
		wg.Add(2)
		go m.runSocketLoop(ctx, wg)
		go m.runFetchLoop(ctx, wg)
		m.mu.Unlock()
		m.logger.Info().Int("device_id", deviceID).Msg("First subscriber, starting updater")
		return nil
	}

	conn := m.conn
	// A duplicate join during the Joining window is harmless; missing
	// one is not.
	canJoin := m.state == StateLive || m.state == StateJoining
	m.mu.Unlock()

	if canJoin && conn != nil {
		data, err := frames.EncodeJoin(deviceID)
		if err != nil {
			return err
		}
		m.logger.Info().Int("device_id", deviceID).Msg("Joining topic on live socket")
		return m.writeFrame(conn, data)
	}
	return nil
}

// Unsubscribe deregisters a device. When the last subscriber leaves,
// the socket is closed and both background loops are cancelled and
// awaited; no orphaned work survives.
func (m *Manager) Unsubscribe(deviceID int) {
	m.mu.Lock()
	if _, ok := m.subscribed[deviceID]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.subscribed, deviceID)
	if len(m.subscribed) > 0 {
		m.mu.Unlock()
		return
	}
	cancel, wg := m.cancel, m.wg
	m.cancel = nil
	m.wg = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	m.logger.Info().Msg("Device list empty, stopping updater")
	cancel()
	wg.Wait()

	m.mu.Lock()
	m.state = StateDisconnected
	m.conn = nil
	m.retries = 0
	m.mu.Unlock()
}

// SendCommand sends an update_attributes frame for the device. If the
// socket rejects the request with an invalid-session error, the token is
// refreshed and the command retried exactly once; a second failure is
// returned to the caller.
func (m *Manager) SendCommand(ctx context.Context, deviceID int, name, value string) error {
	data, err := frames.EncodeCommand(deviceID, name, value)
	if err != nil {
		return err
	}

	m.logger.Info().Int("device_id", deviceID).Str("name", name).Str("value", value).Msg("Sending command")
	err = m.sendFrame(ctx, deviceID, data)
	if err == nil || !errors.Is(err, ErrInvalidSession) {
		return err
	}

	m.logger.Debug().Err(err).Msg("Invalid session on command send, refreshing token and retrying")
	m.metrics.CommandRetries.Inc()
	m.tokens.Invalidate()
	if err := m.tokens.EnsureFresh(ctx); err != nil {
		return err
	}
	return m.sendFrame(ctx, deviceID, data)
}

// sendFrame prefers the live shared socket and falls back to a one-shot
// connection when no socket is live.
func (m *Manager) sendFrame(ctx context.Context, deviceID int, data []byte) error {
	m.mu.Lock()
	conn := m.conn
	live := m.state == StateLive
	m.mu.Unlock()

	if live && conn != nil {
		return m.writeFrame(conn, data)
	}
	return m.sendOneShot(ctx, deviceID, data)
}

// sendOneShot dials a dedicated socket, joins the device topic, writes
// the frame and closes. A rejected handshake maps to ErrInvalidSession.
func (m *Manager) sendOneShot(ctx context.Context, deviceID int, data []byte) error {
	conn, err := m.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	join, err := frames.EncodeJoin(deviceID)
	if err != nil {
		return err
	}
	if err := m.writeFrame(conn, join); err != nil {
		return err
	}
	return m.writeFrame(conn, data)
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	url := fmt.Sprintf(m.cfg.WebsocketURL, m.tokens.AccessToken())
	conn, resp, err := m.cfg.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: handshake status %d", ErrInvalidSession, resp.StatusCode)
		}
		return nil, fmt.Errorf("conn: dial: %w", err)
	}
	return conn, nil
}

func (m *Manager) writeFrame(conn *websocket.Conn, data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// runSocketLoop is the reconnect state machine: Connecting -> Joining ->
// Live, any failure -> Backoff -> Connecting. Only cancellation or an
// unrecoverable authentication failure ends the loop.
func (m *Manager) runSocketLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		err := m.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrTwoFactorRequired) {
			m.logger.Error().Err(err).Msg("Authentication failed, stopping reconnect loop")
			return
		}

		m.mu.Lock()
		m.state = StateBackoff
		retries := m.retries
		m.retries++
		m.mu.Unlock()

		delay := m.cfg.Backoff(retries)
		m.logger.Warn().Err(err).Dur("delay", delay).Int("retries", retries).Msg("Websocket down, backing off")
		m.metrics.Reconnects.Inc()

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// connectAndRead performs one full connection cycle: fresh token, dial,
// join every subscribed topic, close the outage gap if reconnecting, then
// read frames until the socket dies.
func (m *Manager) connectAndRead(ctx context.Context) error {
	m.setState(StateConnecting)

	if err := m.tokens.EnsureFresh(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	wasOutage := m.retries > 0
	m.mu.Unlock()

	logger := m.logger.With().Str("conn_id", uuid.NewString()).Logger()
	logger.Info().Msg("Connecting to websocket")

	conn, err := m.dial(ctx)
	if err != nil {
		if errors.Is(err, ErrInvalidSession) {
			// Stale token at handshake; invalidate so the next cycle
			// refreshes before dialing again.
			m.tokens.Invalidate()
		}
		return err
	}

	m.mu.Lock()
	m.conn = conn
	m.state = StateJoining
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.mu.Unlock()
		conn.Close()
	}()

	// Unblock the read loop when the context is cancelled.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchDone:
		}
	}()

	for _, id := range m.Subscribed() {
		join, err := frames.EncodeJoin(id)
		if err != nil {
			return err
		}
		if err := m.writeFrame(conn, join); err != nil {
			return fmt.Errorf("conn: join devices:%d: %w", id, err)
		}
		logger.Info().Int("device_id", id).Msg("Joined topic")
	}

	// Events may have been missed while the socket was down; trust
	// pushes again only after a full snapshot of every subscriber.
	if wasOutage {
		logger.Info().Msg("Reconnected after outage, re-fetching device state")
		if err := m.fetchAll(ctx); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.retries = 0
	m.state = StateLive
	m.mu.Unlock()
	m.metrics.ConnectionUp.Set(1)
	defer m.metrics.ConnectionUp.Set(0)
	logger.Info().Msg("Websocket live")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("conn: read: %w", err)
		}
		m.route(ctx, logger, data)
	}
}

// route demultiplexes one inbound frame by its device topic. Malformed
// frames are logged and dropped without disturbing the connection.
func (m *Manager) route(ctx context.Context, logger zerolog.Logger, data []byte) {
	frame, err := frames.Decode(data)
	if err != nil {
		m.metrics.FramesDropped.Inc()
		logger.Warn().Err(err).Msg("Dropping malformed frame")
		return
	}

	ev, err := frame.AttributeEvent()
	if err != nil || ev.Type == "" {
		// Control frames (phx_reply etc.) are logged only.
		m.metrics.FramesDropped.Inc()
		logger.Debug().RawJSON("frame", data).Msg("Control frame")
		return
	}

	deviceID, err := frames.DeviceID(frame.Topic)
	if err != nil {
		m.metrics.FramesDropped.Inc()
		logger.Warn().Err(err).Msg("Dropping frame with bad topic")
		return
	}

	m.mu.Lock()
	_, subscribed := m.subscribed[deviceID]
	m.mu.Unlock()
	if !subscribed {
		logger.Debug().Int("device_id", deviceID).Msg("Event for unsubscribed device")
		return
	}

	logger.Debug().
		Int("device_id", deviceID).
		Str("type", ev.Type).
		Str("name", ev.Name).
		Str("last_read_state", ev.LastReadState).
		Msg("Attribute event")

	m.registry.ApplyEvent(ctx, deviceID, ev.Name, ev.LastReadState)
	m.metrics.FramesRouted.Inc()
}

// runFetchLoop re-fetches every subscribed device over HTTP on a fixed
// interval, picking up fields the socket never pushes. It runs beside
// the read loop and never blocks it.
func (m *Manager) runFetchLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(m.cfg.FetchInterval)
	defer ticker.Stop()

	if err := m.fetchAll(ctx); err != nil && ctx.Err() == nil {
		m.logger.Warn().Err(err).Msg("Initial device fetch failed")
	}

	for {
		select {
		case <-ticker.C:
			if err := m.fetchAll(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warn().Err(err).Dur("retry_in", m.cfg.FetchInterval).Msg("Periodic device fetch failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// fetchAll snapshots every subscribed device over HTTP in parallel and
// applies the results to the registry.
func (m *Manager) fetchAll(ctx context.Context) error {
	ids := m.Subscribed()
	if len(ids) == 0 {
		return nil
	}

	m.logger.Info().Int("devices", len(ids)).Msg("Fetching current status for all devices")
	m.metrics.FetchCycles.Inc()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			snap, err := m.client.GetDevice(gctx, id)
			if err != nil {
				return err
			}
			m.registry.ApplySnapshot(gctx, snap)
			return nil
		})
	}
	return g.Wait()
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}
