package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chartwellhealth/provider-portal/internal/app"
)

func newFakeIdP(t *testing.T, userinfo http.HandlerFunc) *httptest.Server {
	t.Helper()

	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/openid-configuration":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"issuer":                 server.URL,
				"authorization_endpoint": server.URL + "/authorize",
				"token_endpoint":         server.URL + "/token",
				"jwks_uri":               server.URL + "/jwks",
				"userinfo_endpoint":      server.URL + "/userinfo",
			})
		case "/jwks":
			_ = json.NewEncoder(w).Encode(map[string]any{"keys": []any{}})
		case "/userinfo":
			userinfo(w, r)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()

	client, err := NewClient(app.IdPConfig{
		Issuer:      server.URL,
		ClientID:    "portal-client",
		RedirectURL: "https://portal.example.com/callback",
		ACRValues:   "http://idmanagement.gov/ns/assurance/ial/2",
		Scopes:      []string{"openid", "email", "all_emails", "profile", "phone", "social_security_number"},
		Timeout:     time.Second,
	}, WithHTTPClient(server.Client()))
	require.NoError(t, err)
	return client
}

func TestNewClientValidatesConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  app.IdPConfig
	}{
		{name: "issuer", cfg: app.IdPConfig{}},
		{name: "client id", cfg: app.IdPConfig{Issuer: "https://idp"}},
		{name: "redirect url", cfg: app.IdPConfig{Issuer: "https://idp", ClientID: "abc"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewClient(tc.cfg)
			require.Error(t, err)
		})
	}
}

func TestAuthorizeURLCarriesProofingParams(t *testing.T) {
	server := newFakeIdP(t, func(w http.ResponseWriter, r *http.Request) {})
	client := newTestClient(t, server)

	raw := client.AuthorizeURL("state-123", "nonce-456")
	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	query := parsed.Query()
	require.Equal(t, "state-123", query.Get("state"))
	require.Equal(t, "nonce-456", query.Get("nonce"))
	require.Equal(t, "http://idmanagement.gov/ns/assurance/ial/2", query.Get("acr_values"))
	require.Equal(t, "portal-client", query.Get("client_id"))
	require.Contains(t, query.Get("scope"), "social_security_number")
	require.Contains(t, query.Get("scope"), "all_emails")
}

func TestFetchClaimsDecodesUserInfo(t *testing.T) {
	server := newFakeIdP(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer token-abc", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sub":                    "subject-1",
			"given_name":             "Pat",
			"family_name":            "Rivera",
			"email":                  "pat@clinic.example.com",
			"all_emails":             []string{"pat@clinic.example.com", "pat.alt@example.com"},
			"phone":                  "+15551234567",
			"social_security_number": "900-11-2222",
		})
	})
	client := newTestClient(t, server)

	claims, err := client.FetchClaims(context.Background(), "token-abc")
	require.NoError(t, err)
	require.Equal(t, "subject-1", claims.Subject)
	require.Equal(t, "Pat", claims.GivenName)
	require.Equal(t, "Rivera", claims.FamilyName)
	require.Equal(t, "+15551234567", claims.Phone)
	require.Equal(t, "900-11-2222", claims.SocialSecurityNumber)
	require.Len(t, claims.AllEmails, 2)
}

func TestFetchClaimsClassifiesRejectedToken(t *testing.T) {
	server := newFakeIdP(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	client := newTestClient(t, server)

	_, err := client.FetchClaims(context.Background(), "expired-token")
	require.ErrorIs(t, err, ErrTokenRejected)
}

func TestFetchClaimsClassifiesOutage(t *testing.T) {
	server := newFakeIdP(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	client := newTestClient(t, server)

	_, err := client.FetchClaims(context.Background(), "token-abc")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestFetchClaimsRequiresToken(t *testing.T) {
	server := newFakeIdP(t, func(w http.ResponseWriter, r *http.Request) {})
	client := newTestClient(t, server)

	_, err := client.FetchClaims(context.Background(), "")
	require.ErrorIs(t, err, ErrTokenRejected)
}

func TestKnownEmailsDeduplicates(t *testing.T) {
	claims := &Claims{
		Email:     "Pat@clinic.example.com",
		AllEmails: []string{"pat@clinic.example.com", "pat.alt@example.com", ""},
	}
	require.Equal(t, []string{"Pat@clinic.example.com", "pat.alt@example.com"}, claims.KnownEmails())
}
