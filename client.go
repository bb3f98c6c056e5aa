// Package smartrent is a client for the SmartRent resident cloud API.
// It authenticates an account, discovers its devices, and keeps their
// state fresh over a shared websocket with automatic reconnection and
// token renewal.
package smartrent

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/openrent/smartrent-go/api"
	"github.com/openrent/smartrent-go/internal/auth"
	"github.com/openrent/smartrent-go/internal/conn"
	"github.com/openrent/smartrent-go/internal/metrics"
	"github.com/openrent/smartrent-go/internal/registry"
)

type options struct {
	logger        zerolog.Logger
	httpClient    *http.Client
	baseURL       string
	websocketURL  string
	fetchInterval time.Duration
	tfaCode       string
	codeProvider  func(ctx context.Context) (string, error)
	registerer    prometheus.Registerer
}

// Option configures Login.
type Option func(*options)

// WithLogger sets the structured logger shared by all components.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithBaseURL points the client at a different API root. Used by tests.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// WithWebsocketURL overrides the socket endpoint; the value must carry
// one %s format verb for the access token.
func WithWebsocketURL(u string) Option {
	return func(o *options) { o.websocketURL = u }
}

// WithFetchInterval changes the period of the background HTTP fetch
// that refreshes fields the socket never pushes. Default 600s.
func WithFetchInterval(d time.Duration) Option {
	return func(o *options) { o.fetchInterval = d }
}

// WithTFACode supplies a static two-factor code for login.
func WithTFACode(code string) Option {
	return func(o *options) { o.tfaCode = code }
}

// WithTFACodeProvider supplies a callback invoked when login hits a
// two-factor challenge and no static code is configured.
func WithTFACodeProvider(fn func(ctx context.Context) (string, error)) Option {
	return func(o *options) { o.codeProvider = fn }
}

// WithMetrics registers the connection lifecycle collectors against the
// given registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// Client is a logged-in session with its discovered devices. One Client
// owns one websocket regardless of how many devices subscribe.
type Client struct {
	logger   zerolog.Logger
	tokens   *auth.TokenStore
	api      *api.Client
	registry *registry.Registry
	conn     *conn.Manager
	devices  []Device
}

// Login authenticates the account and discovers its devices.
// Authentication failures (bad credentials, missing two-factor code)
// are fatal and never retried automatically.
func Login(ctx context.Context, email, password string, opts ...Option) (*Client, error) {
	o := options{
		logger:  zerolog.Nop(),
		baseURL: api.DefaultBaseURL,
	}
	for _, opt := range opts {
		opt(&o)
	}

	tokens := auth.NewTokenStore(auth.Config{
		Credential: auth.Credential{
			Email:        email,
			Password:     password,
			TFACode:      o.tfaCode,
			CodeProvider: o.codeProvider,
		},
		BaseURL:    o.baseURL,
		HTTPClient: o.httpClient,
		Logger:     o.logger,
	})
	if err := tokens.EnsureFresh(ctx); err != nil {
		return nil, err
	}

	apiOpts := []api.Option{api.WithBaseURL(o.baseURL), api.WithLogger(o.logger)}
	if o.httpClient != nil {
		apiOpts = append(apiOpts, api.WithHTTPClient(o.httpClient))
	}
	apiClient := api.NewClient(tokens, apiOpts...)

	reg := registry.New(o.logger)
	mets := metrics.New(o.registerer)
	manager := conn.NewManager(tokens, apiClient, reg, mets, o.logger, conn.Config{
		WebsocketURL:  o.websocketURL,
		FetchInterval: o.fetchInterval,
	})

	c := &Client{
		logger:   o.logger,
		tokens:   tokens,
		api:      apiClient,
		registry: reg,
		conn:     manager,
	}
	if err := c.Discover(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Discover re-fetches the account's hubs and devices and rebuilds the
// typed device list. Called once by Login.
func (c *Client) Discover(ctx context.Context) error {
	c.logger.Info().Msg("Fetching devices")
	snaps, err := c.api.ListDevices(ctx)
	if err != nil {
		return err
	}

	devices := make([]Device, 0, len(snaps))
	for _, snap := range snaps {
		c.registry.ApplySnapshot(ctx, snap)
		devices = append(devices, c.newDevice(snap.ID, snap.Type))
	}
	c.devices = devices
	return nil
}

// Devices returns every discovered device in hub order.
func (c *Client) Devices() []Device {
	return append([]Device(nil), c.devices...)
}

// Device returns the discovered device with the given id.
func (c *Client) Device(id int) (Device, bool) {
	for _, d := range c.devices {
		if d.ID() == id {
			return d, true
		}
	}
	return nil, false
}

// Locks returns the discovered door locks.
func (c *Client) Locks() []*Lock {
	var out []*Lock
	for _, d := range c.devices {
		if l, ok := d.(*Lock); ok {
			out = append(out, l)
		}
	}
	return out
}

// Thermostats returns the discovered thermostats.
func (c *Client) Thermostats() []*Thermostat {
	var out []*Thermostat
	for _, d := range c.devices {
		if t, ok := d.(*Thermostat); ok {
			out = append(out, t)
		}
	}
	return out
}

// BinarySwitches returns the discovered on/off switches.
func (c *Client) BinarySwitches() []*BinarySwitch {
	var out []*BinarySwitch
	for _, d := range c.devices {
		if s, ok := d.(*BinarySwitch); ok {
			out = append(out, s)
		}
	}
	return out
}

// MultilevelSwitches returns the discovered dimmer switches.
func (c *Client) MultilevelSwitches() []*MultilevelSwitch {
	var out []*MultilevelSwitch
	for _, d := range c.devices {
		if s, ok := d.(*MultilevelSwitch); ok {
			out = append(out, s)
		}
	}
	return out
}

// LeakSensors returns the discovered leak sensors.
func (c *Client) LeakSensors() []*LeakSensor {
	var out []*LeakSensor
	for _, d := range c.devices {
		if s, ok := d.(*LeakSensor); ok {
			out = append(out, s)
		}
	}
	return out
}

// ConnectionState reports the shared websocket state, e.g. "live".
func (c *Client) ConnectionState() string {
	return c.conn.State().String()
}

// Close stops background updates for every device and releases the
// socket.
func (c *Client) Close() {
	for _, d := range c.devices {
		c.conn.Unsubscribe(d.ID())
	}
}

func (c *Client) newDevice(id int, kind string) Device {
	base := device{id: id, kind: kind, client: c}
	switch kind {
	case KindLock:
		return &Lock{base}
	case KindThermostat:
		return &Thermostat{base}
	case KindBinarySwitch:
		return &BinarySwitch{base}
	case KindMultilevelSwitch:
		return &MultilevelSwitch{base}
	case KindLeakSensor:
		return &LeakSensor{base}
	default:
		c.logger.Debug().Int("device_id", id).Str("type", kind).Msg("Unknown device type, using generic wrapper")
		return &GenericDevice{base}
	}
}
