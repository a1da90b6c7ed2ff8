package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 3100, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.False(t, cfg.Server.TestEndpoints)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "http://idmanagement.gov/ns/assurance/ial/2", cfg.IdP.ACRValues)
	require.Contains(t, cfg.IdP.Scopes, "social_security_number")
	require.Equal(t, 10*time.Second, cfg.Gateway.Timeout)
	require.Equal(t, "portal_session", cfg.Auth.Session.CookieName)
	require.Equal(t, 30*time.Minute, cfg.Auth.Session.FlowTTL)
	require.False(t, cfg.Email.SMTP.Enabled)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	raw := `
server:
  port: 4000
  test_endpoints: true
idp:
  issuer: https://idp.example.com
  client_id: urn:portal:test
  redirect_url: https://portal.example.com/callback
gateway:
  base_url: https://gateway.example.com
  timeout: 3s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(raw), 0o600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	require.Equal(t, 4000, cfg.Server.Port)
	require.True(t, cfg.Server.TestEndpoints)
	require.Equal(t, "https://idp.example.com", cfg.IdP.Issuer)
	require.Equal(t, "urn:portal:test", cfg.IdP.ClientID)
	require.Equal(t, 3*time.Second, cfg.Gateway.Timeout)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("PORTAL_SERVER_PORT", "5000")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 5000, cfg.Server.Port)
}
