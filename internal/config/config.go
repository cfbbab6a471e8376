package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the ringclaw bridge.
type Config struct {
	Agent    AgentConfig    `json:"agent"`
	Channels ChannelsConfig `json:"channels"`
	Sessions SessionsConfig `json:"sessions"`
	mu       sync.RWMutex
}

// AgentConfig names the bot and anchors its workspace.
type AgentConfig struct {
	Name      string `json:"name,omitempty"`      // bot display name (thinking post)
	Workspace string `json:"workspace"`           // root for memory/, chats/, media/
}

// ChannelsConfig contains per-channel configuration.
type ChannelsConfig struct {
	RingCentral RingCentralConfig `json:"ringcentral"`
}

// SessionsConfig controls session metadata storage.
type SessionsConfig struct {
	Storage string `json:"storage"` // directory for session meta files
}

// DisplayName returns the bot display name, falling back to "OpenClaw".
func (c *Config) DisplayName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Agent.Name != "" {
		return c.Agent.Name
	}
	return "OpenClaw"
}

// WorkspacePath returns the expanded workspace path.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Agent.Workspace)
}
