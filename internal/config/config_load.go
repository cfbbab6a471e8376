package config

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Workspace: "~/.ringclaw/workspace",
		},
		Sessions: SessionsConfig{
			Storage: "~/.ringclaw/sessions",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults (env-only setups).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.Channels.RingCentral.normalize()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.Channels.RingCentral.normalize()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	rc := &c.Channels.RingCentral
	if os.Getenv("RINGCENTRAL_CLIENT_ID") != "" {
		if rc.Credentials == nil {
			rc.Credentials = &RingCentralCredentials{}
		}
		envStr("RINGCENTRAL_CLIENT_ID", &rc.Credentials.ClientID)
		envStr("RINGCENTRAL_CLIENT_SECRET", &rc.Credentials.ClientSecret)
		envStr("RINGCENTRAL_JWT", &rc.Credentials.JWT)
		envStr("RINGCENTRAL_SERVER", &rc.Credentials.Server)
		rc.Enabled = true
	}

	envStr("RINGCLAW_WORKSPACE", &c.Agent.Workspace)
	envStr("RINGCLAW_SESSIONS_STORAGE", &c.Sessions.Storage)
	envStr("RINGCLAW_AGENT_NAME", &c.Agent.Name)
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
