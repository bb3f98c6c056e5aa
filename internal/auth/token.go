// Package auth owns the session tokens for a single SmartRent account:
// password and refresh-token grants, the optional two-factor round trip,
// and expiry tracking with a safety margin.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/openrent/smartrent-go/api"
)

// expiryMargin is how long before actual expiry a token is treated as
// stale. Matches the server-side session grace window.
const expiryMargin = 60 * time.Second

const defaultTimeout = 30 * time.Second

var (
	// ErrInvalidCredentials is a fatal authentication failure: bad
	// email/password, bad two-factor code, or a rejected grant. Never
	// retried automatically.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrTwoFactorRequired is returned when the account requires a
	// two-factor code and neither a static code nor a CodeProvider was
	// configured.
	ErrTwoFactorRequired = errors.New("auth: two-factor code required")

	// errRefreshRejected signals that the refresh-token grant came back
	// unauthorized and the store should fall back to the password grant.
	errRefreshRejected = errors.New("auth: refresh token rejected")
)

// Credential identifies the account. Immutable for the process lifetime.
type Credential struct {
	Email    string
	Password string

	// TFACode is a pre-supplied six-digit two-factor code. If empty and
	// the account requires two-factor auth, CodeProvider is consulted.
	TFACode string

	// CodeProvider is called to obtain a two-factor code when the
	// password grant returns a challenge. Optional.
	CodeProvider func(ctx context.Context) (string, error)
}

// TokenState is the current session token set.
type TokenState struct {
	AccessToken  string
	RefreshToken string
	Expires      time.Time
}

// Config configures a TokenStore.
type Config struct {
	Credential Credential
	BaseURL    string       // defaults to api.DefaultBaseURL
	HTTPClient *http.Client // defaults to a 30s-timeout client
	Logger     zerolog.Logger

	// Now is a clock override for tests.
	Now func() time.Time
}

// TokenStore holds the account token set and refreshes it on demand.
// Safe for concurrent use; concurrent refreshes collapse into a single
// network round trip.
type TokenStore struct {
	cred       Credential
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time

	group singleflight.Group

	mu    sync.RWMutex
	token TokenState
}

// NewTokenStore creates a TokenStore for the given account.
func NewTokenStore(cfg Config) *TokenStore {
	s := &TokenStore{
		cred:       cfg.Credential,
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
	if s.baseURL == "" {
		s.baseURL = api.DefaultBaseURL
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// EnsureFresh refreshes the token set if it is missing or expires within
// the safety margin; otherwise it is a no-op. Concurrent callers share a
// single in-flight refresh.
func (s *TokenStore) EnsureFresh(ctx context.Context) error {
	if s.fresh() {
		return nil
	}

	_, err, _ := s.group.Do("refresh", func() (any, error) {
		// Another caller may have completed the refresh while this one
		// was queueing on the flight group.
		if s.fresh() {
			return nil, nil
		}
		return nil, s.refresh(ctx)
	})
	return err
}

// Refresh unconditionally performs a token refresh.
func (s *TokenStore) Refresh(ctx context.Context) error {
	_, err, _ := s.group.Do("refresh", func() (any, error) {
		return nil, s.refresh(ctx)
	})
	return err
}

// AccessToken returns the current access token, or "" if none is held.
func (s *TokenStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token.AccessToken
}

// Token returns a copy of the current token state.
func (s *TokenStore) Token() TokenState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Invalidate marks the access token as expired so the next EnsureFresh
// performs a refresh. The refresh token is kept for the grant.
func (s *TokenStore) Invalidate() {
	s.mu.Lock()
	s.token.Expires = time.Time{}
	s.mu.Unlock()
}

func (s *TokenStore) fresh() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token.AccessToken != "" && s.token.Expires.After(s.now().Add(expiryMargin))
}

// grantResponse is the body of both POST sessions and POST tokens.
// Expiry is epoch seconds.
type grantResponse struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	Expires      int64      `json:"expires"`
	TFAAPIToken  string     `json:"tfa_api_token"`
	Errors       []apiError `json:"errors"`
}

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (s *TokenStore) refresh(ctx context.Context) error {
	s.mu.RLock()
	refreshToken := s.token.RefreshToken
	s.mu.RUnlock()

	var (
		resp *grantResponse
		err  error
	)
	if refreshToken != "" {
		resp, err = s.refreshGrant(ctx, refreshToken)
		if errors.Is(err, errRefreshRejected) {
			s.logger.Warn().Msg("Refresh token rejected, falling back to password grant")
			resp, err = s.passwordGrant(ctx)
		}
	} else {
		resp, err = s.passwordGrant(ctx)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.token = TokenState{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		Expires:      time.Unix(resp.Expires, 0),
	}
	s.mu.Unlock()

	s.logger.Info().Time("expires", time.Unix(resp.Expires, 0)).Msg("Tokens refreshed")
	return nil
}

// passwordGrant performs the email/password grant, completing the
// two-factor challenge if the server issues one.
func (s *TokenStore) passwordGrant(ctx context.Context) (*grantResponse, error) {
	s.logger.Info().Str("email", s.cred.Email).Msg("Refreshing tokens with email")

	resp, err := s.postJSON(ctx, s.baseURL+"sessions", map[string]string{
		"email":    s.cred.Email,
		"password": s.cred.Password,
	}, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, describe(resp.Errors))
	}

	if resp.TFAAPIToken != "" {
		return s.twoFactorGrant(ctx, resp.TFAAPIToken)
	}
	return resp, nil
}

// twoFactorGrant completes a password grant that returned a challenge
// token, using the configured static code or CodeProvider.
func (s *TokenStore) twoFactorGrant(ctx context.Context, tfaToken string) (*grantResponse, error) {
	code := s.cred.TFACode
	if code == "" && s.cred.CodeProvider != nil {
		var err error
		code, err = s.cred.CodeProvider(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: code provider: %w", ErrTwoFactorRequired, err)
		}
	}
	if code == "" {
		return nil, ErrTwoFactorRequired
	}

	s.logger.Info().Msg("Completing two-factor challenge")
	resp, err := s.postJSON(ctx, s.baseURL+"sessions", map[string]string{
		"tfa_api_token": tfaToken,
		"token":         code,
	}, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, describe(resp.Errors))
	}
	return resp, nil
}

// refreshGrant exchanges the held refresh token for a new token set. An
// unauthorized error code means the refresh token is dead and the caller
// should fall back to the password grant.
func (s *TokenStore) refreshGrant(ctx context.Context, refreshToken string) (*grantResponse, error) {
	s.logger.Info().Msg("Refreshing tokens with refresh token")

	resp, err := s.postJSON(ctx, s.baseURL+"tokens", nil, map[string]string{
		"authorization-x-refresh": refreshToken,
	})
	if err != nil {
		return nil, err
	}
	for _, e := range resp.Errors {
		if e.Code == "unauthorized" {
			return nil, fmt.Errorf("%w: %s", errRefreshRejected, describe(resp.Errors))
		}
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, describe(resp.Errors))
	}
	return resp, nil
}

func (s *TokenStore) postJSON(ctx context.Context, url string, body any, headers map[string]string) (*grantResponse, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", url, err)
	}

	var grant grantResponse
	if err := json.Unmarshal(data, &grant); err != nil {
		return nil, fmt.Errorf("POST %s: %w: %v", url, api.ErrMalformedResponse, err)
	}
	return &grant, nil
}

func describe(errs []apiError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Code)
	}
	return fmt.Sprintf("%v", parts)
}
