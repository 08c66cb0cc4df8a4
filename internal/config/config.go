// Package config loads client and server configuration.
//
// Sources, lowest precedence first: built-in defaults, an optional YAML file,
// environment variables (SK_ for the client, SKD_ for the server, dots become
// underscores), then explicitly set command-line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Environment names.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Dir returns the per-user configuration directory.
func Dir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "sessionkit")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "sessionkit")
}

// Client is the configuration of the client-side stack.
type Client struct {
	APIURL      string        `mapstructure:"api_url" yaml:"api_url"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Environment string        `mapstructure:"environment" yaml:"environment"`
	VaultPath   string        `mapstructure:"vault_path" yaml:"vault_path"`
	PrefsPath   string        `mapstructure:"prefs_path" yaml:"prefs_path"`
	LogLevel    string        `mapstructure:"log_level" yaml:"log_level"`

	// GRPCAddr is the server's gRPC listener; empty disables "sk ping".
	GRPCAddr     string `mapstructure:"grpc_addr" yaml:"grpc_addr,omitempty"`
	GRPCInsecure bool   `mapstructure:"grpc_insecure" yaml:"grpc_insecure,omitempty"`

	EnableAnalytics         bool `mapstructure:"enable_analytics" yaml:"enable_analytics"`
	EnablePushNotifications bool `mapstructure:"enable_push_notifications" yaml:"enable_push_notifications"`
}

// DefaultClient returns the built-in client defaults.
func DefaultClient() Client {
	dir := Dir()
	return Client{
		APIURL:      "https://api.example.com",
		APITimeout:  10 * time.Second,
		Environment: EnvDevelopment,
		VaultPath:   filepath.Join(dir, "vault.yaml"),
		PrefsPath:   filepath.Join(dir, "prefs.yaml"),
		LogLevel:    "warn",
	}
}

// DefaultClientPath is the config file read when no path is given.
func DefaultClientPath() string { return filepath.Join(Dir(), "config.yaml") }

// LoadClient reads the client config. A missing file at the default path is
// not an error; a missing file at an explicit path is.
func LoadClient(path string, flags *pflag.FlagSet) (Client, error) {
	def := DefaultClient()
	v := viper.New()
	v.SetDefault("api_url", def.APIURL)
	v.SetDefault("api_timeout", def.APITimeout)
	v.SetDefault("environment", def.Environment)
	v.SetDefault("vault_path", def.VaultPath)
	v.SetDefault("prefs_path", def.PrefsPath)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("grpc_addr", "")
	v.SetDefault("grpc_insecure", false)
	v.SetDefault("enable_analytics", false)
	v.SetDefault("enable_push_notifications", false)

	if err := read(v, "SK", path, DefaultClientPath()); err != nil {
		return Client{}, err
	}
	if err := bindFlags(v, flags, map[string]string{
		"api-url":     "api_url",
		"api-timeout": "api_timeout",
		"vault":       "vault_path",
		"log-level":   "log_level",
		"grpc-addr":   "grpc_addr",
	}); err != nil {
		return Client{}, err
	}

	var c Client
	if err := v.Unmarshal(&c); err != nil {
		return Client{}, err
	}
	return c, c.Validate()
}

// Validate checks required values.
func (c Client) Validate() error {
	if c.APIURL == "" {
		return errors.New("missing required setting: api_url")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api_url must be an http(s) URL, got %q", c.APIURL)
	}
	if c.APITimeout <= 0 {
		return fmt.Errorf("api_timeout must be positive, got %s", c.APITimeout)
	}
	switch c.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("unknown environment %q", c.Environment)
	}
	return nil
}

// FeatureFlags are derived from the client configuration.
type FeatureFlags struct {
	Analytics         bool
	CrashReporting    bool
	PushNotifications bool
	DarkMode          bool
	BiometricAuth     bool
	NewUI             bool
	BetaFeatures      bool
}

// Flags computes the feature flags for c.
func (c Client) Flags() FeatureFlags {
	return FeatureFlags{
		Analytics:         c.EnableAnalytics,
		CrashReporting:    c.Environment == EnvProduction,
		PushNotifications: c.EnablePushNotifications,
		DarkMode:          true,
		BiometricAuth:     true,
		NewUI:             c.Environment != EnvProduction,
		BetaFeatures:      c.Environment == EnvDevelopment,
	}
}

func read(v *viper.Viper, envPrefix, path, defaultPath string) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = defaultPath
	}
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// bindFlags binds only flags the user actually set, so flag defaults never
// shadow file or environment values.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, names map[string]string) error {
	if flags == nil {
		return nil
	}
	for flagName, key := range names {
		f := flags.Lookup(flagName)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}
