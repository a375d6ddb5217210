// Package config loads the runtime broker configuration from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Provider selects which runtime backs editor sessions.
type Provider string

const (
	// ProviderWebcontainer is the legacy in-browser runtime. The broker does
	// not serve remote sessions in this mode.
	ProviderWebcontainer Provider = "webcontainer"

	// ProviderDokploy is the remote compose runtime served by this broker.
	ProviderDokploy Provider = "dokploy"
)

// Defaults for tunable knobs.
const (
	DefaultSessionIdleMinutes = 15
	DefaultHeartbeatSeconds   = 30
)

// Config holds all environment-driven settings.
type Config struct {
	Provider                 Provider
	EnableWebcontainerLegacy bool

	DokployBaseURL        string
	DokployAPIKey         string
	DokployServerID       string
	DokployCanaryServerID string
	CanaryRolloutPercent  int

	SessionIdleMinutes int
	HeartbeatSeconds   int

	TokenSecret   string
	CleanupSecret string
}

// RemoteEnabled reports whether the broker serves remote runtime sessions.
func (c *Config) RemoteEnabled() bool {
	return c.Provider == ProviderDokploy
}

// IdleTTLSeconds returns the session idle TTL in seconds.
func (c *Config) IdleTTLSeconds() int {
	return c.SessionIdleMinutes * 60
}

// Load reads configuration from the environment. It does not validate;
// callers that require remote mode must call Validate.
func Load() *Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("RUNTIME_PROVIDER", string(ProviderWebcontainer))
	v.SetDefault("DOKPLOY_CANARY_ROLLOUT_PERCENT", 0)
	v.SetDefault("RUNTIME_SESSION_IDLE_MIN", DefaultSessionIdleMinutes)
	v.SetDefault("RUNTIME_HEARTBEAT_SEC", DefaultHeartbeatSeconds)

	provider := Provider(strings.ToLower(strings.TrimSpace(v.GetString("RUNTIME_PROVIDER"))))

	// The legacy runtime stays available unless the remote provider is active,
	// in which case it must be opted into explicitly.
	legacy := provider != ProviderDokploy
	if v.IsSet("ENABLE_WEBCONTAINER_LEGACY") {
		legacy = v.GetBool("ENABLE_WEBCONTAINER_LEGACY")
	}

	return &Config{
		Provider:                 provider,
		EnableWebcontainerLegacy: legacy,
		DokployBaseURL:           strings.TrimRight(v.GetString("DOKPLOY_BASE_URL"), "/"),
		DokployAPIKey:            v.GetString("DOKPLOY_API_KEY"),
		DokployServerID:          v.GetString("DOKPLOY_SERVER_ID"),
		DokployCanaryServerID:    v.GetString("DOKPLOY_CANARY_SERVER_ID"),
		CanaryRolloutPercent:     v.GetInt("DOKPLOY_CANARY_ROLLOUT_PERCENT"),
		SessionIdleMinutes:       v.GetInt("RUNTIME_SESSION_IDLE_MIN"),
		HeartbeatSeconds:         v.GetInt("RUNTIME_HEARTBEAT_SEC"),
		TokenSecret:              v.GetString("RUNTIME_TOKEN_SECRET"),
		CleanupSecret:            v.GetString("RUNTIME_CLEANUP_SECRET"),
	}
}

// Validate checks the configuration, failing fast on anything that would
// break at request time. Remote-mode requirements only apply when the
// dokploy provider is selected.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderWebcontainer, ProviderDokploy:
	default:
		return fmt.Errorf("unknown RUNTIME_PROVIDER %q", c.Provider)
	}

	if c.CanaryRolloutPercent < 0 || c.CanaryRolloutPercent > 100 {
		return fmt.Errorf("DOKPLOY_CANARY_ROLLOUT_PERCENT must be in [0,100], got %d", c.CanaryRolloutPercent)
	}
	if c.SessionIdleMinutes < 1 {
		return fmt.Errorf("RUNTIME_SESSION_IDLE_MIN must be >= 1, got %d", c.SessionIdleMinutes)
	}
	if c.HeartbeatSeconds < 5 {
		return fmt.Errorf("RUNTIME_HEARTBEAT_SEC must be >= 5, got %d", c.HeartbeatSeconds)
	}

	if !c.RemoteEnabled() {
		return nil
	}

	if c.DokployBaseURL == "" {
		return fmt.Errorf("DOKPLOY_BASE_URL is required when RUNTIME_PROVIDER=dokploy")
	}
	if c.DokployAPIKey == "" {
		return fmt.Errorf("DOKPLOY_API_KEY is required when RUNTIME_PROVIDER=dokploy")
	}
	if c.TokenSecret == "" {
		return fmt.Errorf("RUNTIME_TOKEN_SECRET is required when RUNTIME_PROVIDER=dokploy")
	}
	if c.CanaryRolloutPercent > 0 && c.DokployCanaryServerID == "" {
		return fmt.Errorf("DOKPLOY_CANARY_SERVER_ID is required when DOKPLOY_CANARY_ROLLOUT_PERCENT > 0")
	}

	return nil
}
