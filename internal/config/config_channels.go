package config

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// RingCentralConfig configures the RingCentral Team Messaging bridge.
// Multiple accounts run independent subscriptions; the channel-level
// credential shorthand is folded into accounts["default"] at load time.
type RingCentralConfig struct {
	Enabled  bool                              `json:"enabled"`
	Accounts map[string]*RingCentralAccount    `json:"accounts,omitempty"`

	// Single-account shorthand (merged into accounts["default"]).
	Credentials *RingCentralCredentials `json:"credentials,omitempty"`
	RingCentralAccountOptions
}

// RingCentralCredentials identify one bot extension.
type RingCentralCredentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	JWT          string `json:"jwt"`
	Server       string `json:"server,omitempty"` // default https://platform.ringcentral.com
}

// RingCentralDM is the preferred nested form of the DM policy options.
type RingCentralDM struct {
	Policy    string              `json:"policy,omitempty"` // "pairing" (default), "allowlist", "open", "disabled"
	AllowFrom FlexibleStringSlice `json:"allow_from,omitempty"`
}

// RingCentralGroupRule is a per-group override keyed by chat id, chat
// name, or "*".
type RingCentralGroupRule struct {
	Enabled        *bool               `json:"enabled,omitempty"`
	Allow          *bool               `json:"allow,omitempty"`
	RequireMention *bool               `json:"require_mention,omitempty"`
	Users          FlexibleStringSlice `json:"users,omitempty"`
	SystemPrompt   string              `json:"system_prompt,omitempty"`
}

// RingCentralAccountOptions are the policy knobs shared by the account
// form and the channel-level shorthand.
type RingCentralAccountOptions struct {
	DM             *RingCentralDM                   `json:"dm,omitempty"`
	DMPolicy       string                           `json:"dm_policy,omitempty"` // legacy flat form
	AllowFrom      FlexibleStringSlice              `json:"allow_from,omitempty"`
	GroupPolicy    string                           `json:"group_policy,omitempty"` // "allowlist" (default), "open", "disabled"
	GroupAllowFrom FlexibleStringSlice              `json:"group_allow_from,omitempty"`
	Groups         map[string]*RingCentralGroupRule `json:"groups,omitempty"`
	RequireMention *bool                            `json:"require_mention,omitempty"` // group default (true)
	MediaMaxMB     int                              `json:"media_max_mb,omitempty"`    // default 20
	TextChunkLimit int                              `json:"text_chunk_limit,omitempty"`// default 4000
	ChunkMode      string                           `json:"chunk_mode,omitempty"`      // "length" (default), "newline"
	SelfOnly       *bool                            `json:"self_only,omitempty"`       // default true
	BotExtensionID string                           `json:"bot_extension_id,omitempty"`
	Workspace      string                           `json:"workspace,omitempty"`       // per-account override
	Name           string                           `json:"name,omitempty"`            // bot display name override
}

// RingCentralAccount is one configured identity.
type RingCentralAccount struct {
	Enabled     *bool                    `json:"enabled,omitempty"` // default true
	Credentials *RingCentralCredentials  `json:"credentials,omitempty"`
	RingCentralAccountOptions
}

const (
	DefaultRingCentralServer = "https://platform.ringcentral.com"
	DefaultMediaMaxMB        = 20
	DefaultTextChunkLimit    = 4000
)

// IsEnabled reports whether the account is enabled (default true).
func (a *RingCentralAccount) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// Server returns the API server URL with the default applied.
func (c *RingCentralCredentials) ServerOrDefault() string {
	if c == nil || c.Server == "" {
		return DefaultRingCentralServer
	}
	return strings.TrimRight(c.Server, "/")
}

// EffectiveDMPolicy resolves the nested form over the legacy flat form,
// defaulting to "pairing".
func (o *RingCentralAccountOptions) EffectiveDMPolicy() string {
	if o.DM != nil && o.DM.Policy != "" {
		return o.DM.Policy
	}
	if o.DMPolicy != "" {
		return o.DMPolicy
	}
	return "pairing"
}

// EffectiveDMAllowFrom merges nested and legacy allow lists.
func (o *RingCentralAccountOptions) EffectiveDMAllowFrom() []string {
	var out []string
	if o.DM != nil {
		out = append(out, o.DM.AllowFrom...)
	}
	out = append(out, o.AllowFrom...)
	return out
}

// EffectiveGroupPolicy defaults to "allowlist".
func (o *RingCentralAccountOptions) EffectiveGroupPolicy() string {
	if o.GroupPolicy != "" {
		return o.GroupPolicy
	}
	return "allowlist"
}

// EffectiveSelfOnly defaults to true.
func (o *RingCentralAccountOptions) EffectiveSelfOnly() bool {
	return o.SelfOnly == nil || *o.SelfOnly
}

// EffectiveRequireMention is the account-level group default (true).
func (o *RingCentralAccountOptions) EffectiveRequireMention() bool {
	return o.RequireMention == nil || *o.RequireMention
}

// EffectiveMediaMaxMB applies the 20 MB default.
func (o *RingCentralAccountOptions) EffectiveMediaMaxMB() int {
	if o.MediaMaxMB > 0 {
		return o.MediaMaxMB
	}
	return DefaultMediaMaxMB
}

// EffectiveTextChunkLimit applies the 4000-char default.
func (o *RingCentralAccountOptions) EffectiveTextChunkLimit() int {
	if o.TextChunkLimit > 0 {
		return o.TextChunkLimit
	}
	return DefaultTextChunkLimit
}

// Fingerprint identifies the account credential set. A changed
// fingerprint means the subscription manager must be rebuilt from
// scratch (fresh auth, discarded caches).
func (c *RingCentralCredentials) Fingerprint() string {
	if c == nil {
		return ""
	}
	jwtPrefix := c.JWT
	if len(jwtPrefix) > 12 {
		jwtPrefix = jwtPrefix[:12]
	}
	h := sha256.Sum256([]byte(c.ClientID + "\x00" + c.ServerOrDefault() + "\x00" + jwtPrefix))
	return fmt.Sprintf("%x", h[:8])
}

// normalize folds the single-account shorthand into accounts["default"]
// and drops accounts without credentials.
func (rc *RingCentralConfig) normalize() {
	if rc.Accounts == nil {
		rc.Accounts = make(map[string]*RingCentralAccount)
	}
	if rc.Credentials != nil && rc.Credentials.ClientID != "" {
		if _, exists := rc.Accounts["default"]; !exists {
			rc.Accounts["default"] = &RingCentralAccount{
				Credentials:               rc.Credentials,
				RingCentralAccountOptions: rc.RingCentralAccountOptions,
			}
		}
	}
	for id, acct := range rc.Accounts {
		if acct == nil || acct.Credentials == nil || acct.Credentials.ClientID == "" {
			delete(rc.Accounts, id)
		}
	}
}
