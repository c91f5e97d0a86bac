// Package smartconnect is a thin Angel One SmartAPI client: TOTP session
// management, order placement, and the live tick feed. Only the endpoints
// the engine needs are wired.
package smartconnect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pquerna/otp/totp"
)

const (
	defaultRoot    = "https://apiconnect.angelone.in"
	defaultTimeout = 7 * time.Second

	routeLogin    = "/rest/auth/angelbroking/user/v1/loginByPassword"
	routeLogout   = "/rest/secure/angelbroking/user/v1/logout"
	routeRefresh  = "/rest/auth/angelbroking/jwt/v1/generateTokens"
	routeOrder    = "/rest/secure/angelbroking/order/v1/placeOrder"
	routeCancel   = "/rest/secure/angelbroking/order/v1/cancelOrder"
	routePosition = "/rest/secure/angelbroking/order/v1/getPosition"
)

// Config identifies the API application and the trading account.
type Config struct {
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string

	RootURL string        // default apiconnect.angelone.in
	Timeout time.Duration // per request, default 7s
}

// Client holds a SmartAPI session. Safe for concurrent use; tokens are
// refreshed in place.
type Client struct {
	cfg  Config
	rest *resty.Client
	log  *slog.Logger

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	feedToken    string
}

// apiResponse is the common SmartAPI envelope.
type apiResponse struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	Data      json.RawMessage `json:"data"`
}

// New builds a client. Call Login before issuing authenticated requests.
func New(cfg Config, log *slog.Logger) *Client {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := &Client{cfg: cfg, log: log.With("component", "smartconnect")}
	c.rest = resty.New().
		SetBaseURL(cfg.RootURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("X-UserType", "USER").
		SetHeader("X-SourceID", "WEB").
		SetHeader("X-PrivateKey", cfg.APIKey)
	return c
}

// Login generates a TOTP code and opens a session, storing the JWT, refresh
// and feed tokens.
func (c *Client) Login(ctx context.Context) error {
	code, err := totp.GenerateCode(c.cfg.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("smartconnect: totp: %w", err)
	}

	var out apiResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		// The API intermittently answers JSON without a Content-Type;
		// unmarshal results regardless.
		ForceContentType("application/json").
		SetBody(map[string]string{
			"clientcode": c.cfg.ClientCode,
			"password":   c.cfg.Password,
			"totp":       code,
		}).
		SetResult(&out).
		Post(routeLogin)
	if err != nil {
		return fmt.Errorf("smartconnect: login: %w", err)
	}
	if resp.IsError() || !out.Status {
		return fmt.Errorf("smartconnect: login refused: %s (%s)", out.Message, out.ErrorCode)
	}

	var tokens struct {
		JWTToken     string `json:"jwtToken"`
		RefreshToken string `json:"refreshToken"`
		FeedToken    string `json:"feedToken"`
	}
	if err := json.Unmarshal(out.Data, &tokens); err != nil {
		return fmt.Errorf("smartconnect: login payload: %w", err)
	}

	c.mu.Lock()
	c.accessToken = tokens.JWTToken
	c.refreshToken = tokens.RefreshToken
	c.feedToken = tokens.FeedToken
	c.mu.Unlock()
	c.log.Info("session established", "client", c.cfg.ClientCode)
	return nil
}

// Refresh exchanges the refresh token for a new JWT.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.RLock()
	refresh := c.refreshToken
	c.mu.RUnlock()

	var out apiResponse
	resp, err := c.request(ctx).
		SetBody(map[string]string{"refreshToken": refresh}).
		SetResult(&out).
		Post(routeRefresh)
	if err != nil {
		return fmt.Errorf("smartconnect: refresh: %w", err)
	}
	if resp.IsError() || !out.Status {
		return fmt.Errorf("smartconnect: refresh refused: %s (%s)", out.Message, out.ErrorCode)
	}

	var tokens struct {
		JWTToken  string `json:"jwtToken"`
		FeedToken string `json:"feedToken"`
	}
	if err := json.Unmarshal(out.Data, &tokens); err != nil {
		return fmt.Errorf("smartconnect: refresh payload: %w", err)
	}
	c.mu.Lock()
	if tokens.JWTToken != "" {
		c.accessToken = tokens.JWTToken
	}
	if tokens.FeedToken != "" {
		c.feedToken = tokens.FeedToken
	}
	c.mu.Unlock()
	return nil
}

// Logout terminates the session.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.request(ctx).
		SetBody(map[string]string{"clientcode": c.cfg.ClientCode}).
		Post(routeLogout)
	return err
}

// FeedToken returns the current market data feed token.
func (c *Client) FeedToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feedToken
}

// AccessToken returns the current session JWT.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// ClientCode returns the configured account identifier.
func (c *Client) ClientCode() string { return c.cfg.ClientCode }

// APIKey returns the configured application key.
func (c *Client) APIKey() string { return c.cfg.APIKey }

// request returns a request carrying the session bearer token.
func (c *Client) request(ctx context.Context) *resty.Request {
	c.mu.RLock()
	token := c.accessToken
	c.mu.RUnlock()
	return c.rest.R().SetContext(ctx).ForceContentType("application/json").SetAuthToken(token)
}
