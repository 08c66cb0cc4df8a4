package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	for _, k := range []string{"SK_API_URL", "SK_API_TIMEOUT", "SK_ENVIRONMENT", "SK_VAULT_PATH", "SK_ENABLE_ANALYTICS"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	return dir
}

func TestLoadClient_Defaults(t *testing.T) {
	dir := isolate(t)

	c, err := LoadClient("", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", c.APIURL)
	assert.Equal(t, 10*time.Second, c.APITimeout)
	assert.Equal(t, EnvDevelopment, c.Environment)
	assert.Equal(t, filepath.Join(dir, "sessionkit", "vault.yaml"), c.VaultPath)
}

func TestLoadClient_FileEnvFlagPrecedence(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_url: http://file.local\napi_timeout: 3s\nenvironment: staging\n"), 0o600))

	c, err := LoadClient(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://file.local", c.APIURL)
	assert.Equal(t, 3*time.Second, c.APITimeout)
	assert.Equal(t, EnvStaging, c.Environment)

	t.Setenv("SK_API_URL", "http://env.local")
	c, err = LoadClient(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://env.local", c.APIURL)

	fs := pflag.NewFlagSet("t", pflag.ContinueOnError)
	fs.String("api-url", "http://default.flag", "")
	fs.Duration("api-timeout", time.Second, "")
	require.NoError(t, fs.Parse([]string{"--api-url", "http://flag.local"}))
	c, err = LoadClient(path, fs)
	require.NoError(t, err)
	assert.Equal(t, "http://flag.local", c.APIURL)
	// unset flag does not override the file
	assert.Equal(t, 3*time.Second, c.APITimeout)
}

func TestLoadClient_ExplicitMissingFile(t *testing.T) {
	dir := isolate(t)
	_, err := LoadClient(filepath.Join(dir, "nope.yaml"), nil)
	require.Error(t, err)
}

func TestClientValidate(t *testing.T) {
	c := DefaultClient()
	require.NoError(t, c.Validate())

	bad := c
	bad.APIURL = "ftp://x"
	assert.Error(t, bad.Validate())

	bad = c
	bad.APITimeout = 0
	assert.Error(t, bad.Validate())

	bad = c
	bad.Environment = "qa"
	assert.Error(t, bad.Validate())
}

func TestFlags(t *testing.T) {
	c := DefaultClient()
	c.Environment = EnvProduction
	f := c.Flags()
	assert.True(t, f.CrashReporting)
	assert.False(t, f.NewUI)
	assert.False(t, f.BetaFeatures)
	assert.True(t, f.DarkMode)
	assert.True(t, f.BiometricAuth)

	c.Environment = EnvDevelopment
	c.EnableAnalytics = true
	f = c.Flags()
	assert.False(t, f.CrashReporting)
	assert.True(t, f.NewUI)
	assert.True(t, f.BetaFeatures)
	assert.True(t, f.Analytics)
}

func TestWriteClient(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "sub", "config.yaml")

	want := DefaultClient()
	want.APIURL = "http://written.local"
	require.NoError(t, WriteClient(path, want))
	require.ErrorIs(t, WriteClient(path, want), ErrExists)

	got, err := LoadClient(path, nil)
	require.NoError(t, err)
	assert.Equal(t, want.APIURL, got.APIURL)
	assert.Equal(t, want.APITimeout, got.APITimeout)
}

func TestLoadServer(t *testing.T) {
	t.Setenv("SKD_JWT_KEY", "")
	os.Unsetenv("SKD_JWT_KEY")
	_, err := LoadServer("", nil)
	require.Error(t, err, "jwt key is required")

	t.Setenv("SKD_JWT_KEY", "secret")
	t.Setenv("SKD_ADDR", ":9999")
	s, err := LoadServer("", nil)
	require.NoError(t, err)
	assert.Equal(t, ":9999", s.Addr)
	assert.Equal(t, "secret", s.JWTKey)
	assert.Equal(t, 15*time.Minute, s.AccessTTL)
	assert.Equal(t, 5, s.Limiter.MaxFails)
	assert.False(t, s.RequireEmailVerification)

	t.Setenv("SKD_REQUIRE_EMAIL_VERIFICATION", "true")
	s, err = LoadServer("", nil)
	require.NoError(t, err)
	assert.True(t, s.RequireEmailVerification)
}

func TestServerValidate(t *testing.T) {
	var s Server
	s.JWTKey, s.DSN, s.Store = "k", "postgres://x", StoreMemory
	s.AccessTTL, s.RefreshTTL, s.ResetTTL = time.Minute, time.Hour, time.Hour
	s.Limiter.MaxFails = 3
	require.NoError(t, s.Validate())

	bad := s
	bad.Store = "sqlite"
	assert.Error(t, bad.Validate())

	bad = s
	bad.TLSCert = "cert.pem"
	assert.Error(t, bad.Validate())
}
