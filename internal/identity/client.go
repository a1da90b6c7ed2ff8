package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/mitchellh/mapstructure"
	"golang.org/x/oauth2"

	"github.com/chartwellhealth/provider-portal/internal/app"
)

// Sentinel errors classify IdP failures so callers can distinguish a rejected
// token from an outage.
var (
	ErrTokenRejected = errors.New("identity: token rejected")
	ErrUnavailable   = errors.New("identity: provider unavailable")
	ErrNonceMismatch = errors.New("identity: nonce mismatch")
)

// Token is the result of exchanging an authorization code.
type Token struct {
	AccessToken string
	Subject     string
	Email       string
	ExpiresAt   time.Time
}

// Service describes the IdP operations the registration flow depends on.
type Service interface {
	AuthorizeURL(state, nonce string) string
	Exchange(ctx context.Context, code, nonce string) (*Token, error)
	FetchClaims(ctx context.Context, accessToken string) (*Claims, error)
}

// Client talks to a login.gov style OIDC identity provider.
type Client struct {
	oauthConfig      *oauth2.Config
	verifier         *oidc.IDTokenVerifier
	userInfoEndpoint string
	acrValues        string
	httpClient       *http.Client
	timeout          time.Duration
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for discovery, token exchange
// and userinfo requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient performs OIDC discovery against the configured issuer and builds
// an identity client. Misconfiguration surfaces at startup.
func NewClient(cfg app.IdPConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("identity: issuer is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("identity: client id is required")
	}
	if strings.TrimSpace(cfg.RedirectURL) == "" {
		return nil, errors.New("identity: redirect url is required")
	}

	client := &Client{
		acrValues:  cfg.ACRValues,
		httpClient: http.DefaultClient,
		timeout:    cfg.Timeout,
	}
	if client.timeout <= 0 {
		client.timeout = 10 * time.Second
	}
	for _, opt := range opts {
		opt(client)
	}

	ctx := oidc.ClientContext(context.Background(), client.httpClient)
	ctx, cancel := context.WithTimeout(ctx, client.timeout)
	defer cancel()

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("identity: discovery failed: %w", err)
	}

	var discovered struct {
		UserInfoEndpoint string `json:"userinfo_endpoint"`
	}
	if err := provider.Claims(&discovered); err != nil {
		return nil, fmt.Errorf("identity: decode discovery document: %w", err)
	}
	if discovered.UserInfoEndpoint == "" {
		return nil, errors.New("identity: issuer does not advertise a userinfo endpoint")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}

	client.oauthConfig = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
	}
	client.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	client.userInfoEndpoint = discovered.UserInfoEndpoint

	return client, nil
}

// AuthorizeURL builds the IdP authorization redirect carrying the proofing
// level, nonce and anti-CSRF state.
func (c *Client) AuthorizeURL(state, nonce string) string {
	authOpts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("nonce", nonce),
	}
	if c.acrValues != "" {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("acr_values", c.acrValues))
	}
	return c.oauthConfig.AuthCodeURL(state, authOpts...)
}

// Exchange swaps the authorization code for tokens and verifies the ID token
// against the expected nonce.
func (c *Client) Exchange(ctx context.Context, code, nonce string) (*Token, error) {
	if strings.TrimSpace(code) == "" {
		return nil, errors.New("identity: authorization code is required")
	}

	ctx = oidc.ClientContext(ctx, c.httpClient)
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	token, err := c.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("identity: exchange failed: %w", errors.Join(ErrUnavailable, err))
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("%w: id token missing", ErrTokenRejected)
	}

	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenRejected, err)
	}
	if nonce != "" && idToken.Nonce != nonce {
		return nil, ErrNonceMismatch
	}

	var idClaims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&idClaims); err != nil {
		return nil, fmt.Errorf("identity: decode id token claims: %w", err)
	}

	return &Token{
		AccessToken: token.AccessToken,
		Subject:     idToken.Subject,
		Email:       idClaims.Email,
		ExpiresAt:   token.Expiry,
	}, nil
}

// FetchClaims retrieves the verified attributes for the supplied access
// token from the userinfo endpoint.
func (c *Client) FetchClaims(ctx context.Context, accessToken string) (*Claims, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, fmt.Errorf("%w: access token missing", ErrTokenRejected)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoEndpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrTokenRejected
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: userinfo returned %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("identity: userinfo returned unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("identity: decode userinfo payload: %w", err)
	}

	return decodeClaims(raw)
}

func decodeClaims(raw map[string]any) (*Claims, error) {
	var claims Claims
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &claims,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("identity: decode userinfo claims: %w", err)
	}
	return &claims, nil
}
