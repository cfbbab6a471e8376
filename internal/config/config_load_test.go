package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadJSON5(t *testing.T) {
	path := writeConfig(t, `{
  // comments and trailing commas are fine
  agent: { name: "lobster", workspace: "/tmp/ws" },
  channels: {
    ringcentral: {
      enabled: true,
      credentials: { client_id: "cid", client_secret: "sec", jwt: "jwt-token" },
      allow_from: [886644002, "alice"],
    },
  },
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DisplayName() != "lobster" {
		t.Errorf("name %q", cfg.DisplayName())
	}
	rc := cfg.Channels.RingCentral
	if !rc.Enabled {
		t.Error("channel not enabled")
	}

	// channel-level shorthand folds into accounts["default"]
	acct, ok := rc.Accounts["default"]
	if !ok {
		t.Fatal("shorthand not folded into default account")
	}
	if acct.Credentials.ClientID != "cid" {
		t.Errorf("credentials %+v", acct.Credentials)
	}
	got := acct.EffectiveDMAllowFrom()
	if len(got) != 2 || got[0] != "886644002" || got[1] != "alice" {
		t.Errorf("allow_from %v (numeric ids must coerce to strings)", got)
	}
}

func TestLoadMissingFileUsesEnv(t *testing.T) {
	t.Setenv("RINGCENTRAL_CLIENT_ID", "env-cid")
	t.Setenv("RINGCENTRAL_CLIENT_SECRET", "env-sec")
	t.Setenv("RINGCENTRAL_JWT", "env-jwt")
	t.Setenv("RINGCENTRAL_SERVER", "https://platform.devtest.ringcentral.com")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	rc := cfg.Channels.RingCentral
	if !rc.Enabled {
		t.Error("env credentials must enable the channel")
	}
	acct, ok := rc.Accounts["default"]
	if !ok {
		t.Fatal("env credentials not folded into default account")
	}
	if acct.Credentials.ClientID != "env-cid" || acct.Credentials.JWT != "env-jwt" {
		t.Errorf("credentials %+v", acct.Credentials)
	}
	if got := acct.Credentials.ServerOrDefault(); got != "https://platform.devtest.ringcentral.com" {
		t.Errorf("server %q", got)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{
  channels: { ringcentral: { credentials: { client_id: "file-cid", client_secret: "s", jwt: "j" } } },
}`)
	t.Setenv("RINGCENTRAL_CLIENT_ID", "env-cid")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Channels.RingCentral.Credentials.ClientID; got != "env-cid" {
		t.Errorf("client id %q, env must win over file", got)
	}
}

func TestNormalizeDropsCredentialless(t *testing.T) {
	path := writeConfig(t, `{
  channels: {
    ringcentral: {
      accounts: {
        work: { credentials: { client_id: "w", client_secret: "s", jwt: "j" } },
        broken: { dm_policy: "open" },
      },
    },
  },
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	accounts := cfg.Channels.RingCentral.Accounts
	if _, ok := accounts["work"]; !ok {
		t.Error("work account dropped")
	}
	if _, ok := accounts["broken"]; ok {
		t.Error("credential-less account kept")
	}
}

func TestAccountDefaults(t *testing.T) {
	var o RingCentralAccountOptions
	if o.EffectiveDMPolicy() != "pairing" {
		t.Errorf("dm policy %q", o.EffectiveDMPolicy())
	}
	if o.EffectiveGroupPolicy() != "allowlist" {
		t.Errorf("group policy %q", o.EffectiveGroupPolicy())
	}
	if !o.EffectiveSelfOnly() || !o.EffectiveRequireMention() {
		t.Error("self_only and require_mention default to true")
	}
	if o.EffectiveMediaMaxMB() != 20 || o.EffectiveTextChunkLimit() != 4000 {
		t.Errorf("media %d chunk %d", o.EffectiveMediaMaxMB(), o.EffectiveTextChunkLimit())
	}

	nested := RingCentralAccountOptions{
		DM:       &RingCentralDM{Policy: "open"},
		DMPolicy: "allowlist",
	}
	if nested.EffectiveDMPolicy() != "open" {
		t.Error("nested dm form must win over the legacy flat form")
	}
}

func TestFingerprint(t *testing.T) {
	a := &RingCentralCredentials{ClientID: "cid", ClientSecret: "s1", JWT: "jwt-aaaa-bbbb-cccc"}
	b := &RingCentralCredentials{ClientID: "cid", ClientSecret: "s2", JWT: "jwt-aaaa-bbbb-dddd"}
	c := &RingCentralCredentials{ClientID: "cid2", ClientSecret: "s1", JWT: "jwt-aaaa-bbbb-cccc"}

	if a.Fingerprint() == "" || len(a.Fingerprint()) != 16 {
		t.Errorf("fingerprint %q", a.Fingerprint())
	}
	// secret and deep-JWT changes do not rotate the fingerprint
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("fingerprint must ignore the secret and the JWT tail")
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("client id change must rotate the fingerprint")
	}
	var nilCreds *RingCentralCredentials
	if nilCreds.Fingerprint() != "" {
		t.Error("nil credentials have no fingerprint")
	}
}
