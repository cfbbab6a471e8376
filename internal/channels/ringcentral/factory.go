package ringcentral

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/ringclaw/internal/bus"
	"github.com/nextlevelbuilder/ringclaw/internal/channels"
	"github.com/nextlevelbuilder/ringclaw/internal/config"
	"github.com/nextlevelbuilder/ringclaw/internal/sessions"
	"github.com/nextlevelbuilder/ringclaw/internal/store"
)

// Bridge owns every per-account channel of the RingCentral bridge and
// their registration with the channel manager. A credential change
// detected on reload tears the affected account down and rebuilds it
// from scratch (fresh auth, discarded caches).
type Bridge struct {
	bus     *bus.MessageBus
	manager *channels.Manager
	meta    *sessions.MetaStore
	pairing store.PairingStore
	sink    StatusSink
	logger  *slog.Logger

	mu       sync.Mutex
	accounts map[string]*Channel
}

// NewBridge wires the bridge against shared runtime collaborators.
func NewBridge(msgBus *bus.MessageBus, manager *channels.Manager, meta *sessions.MetaStore, pairing store.PairingStore, sink StatusSink, logger *slog.Logger) *Bridge {
	return &Bridge{
		bus:      msgBus,
		manager:  manager,
		meta:     meta,
		pairing:  pairing,
		sink:     sink,
		logger:   logger,
		accounts: make(map[string]*Channel),
	}
}

// Configure builds channels for every enabled account and registers
// them with the manager. Safe to call before StartAll.
func (b *Bridge) Configure(cfg *config.Config) error {
	rc := &cfg.Channels.RingCentral
	if !rc.Enabled {
		b.logger.Debug("ringcentral channel disabled")
		return nil
	}
	if len(rc.Accounts) == 0 {
		return fmt.Errorf("ringcentral enabled but no account has credentials")
	}

	workspace := cfg.WorkspacePath()
	botName := cfg.DisplayName()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, accountID := range sortedAccountIDs(rc.Accounts) {
		acct := rc.Accounts[accountID]
		if !acct.IsEnabled() {
			b.logger.Info("ringcentral account disabled", "account", accountID)
			continue
		}
		ch := NewChannel(accountID, acct, workspace, ChannelDeps{
			Bus:     b.bus,
			Meta:    b.meta,
			Pairing: b.pairing,
			Sink:    b.sink,
			Logger:  b.logger,
			BotName: botName,
		})
		b.accounts[accountID] = ch
		b.manager.RegisterChannel(ch.Name(), ch)
	}
	return nil
}

// ReloadCredentials compares credential fingerprints against a freshly
// loaded config and restarts the accounts whose credentials changed.
// Unchanged accounts keep their live subscription.
func (b *Bridge) ReloadCredentials(ctx context.Context, cfg *config.Config) {
	rc := &cfg.Channels.RingCentral
	workspace := cfg.WorkspacePath()
	botName := cfg.DisplayName()

	b.mu.Lock()
	defer b.mu.Unlock()

	for accountID, acct := range rc.Accounts {
		if !acct.IsEnabled() {
			continue
		}
		old, exists := b.accounts[accountID]
		if exists && old.Fingerprint() == acct.Credentials.Fingerprint() {
			continue
		}

		if exists {
			b.logger.Info("ringcentral credentials changed, restarting account", "account", accountID)
			if err := old.Stop(ctx); err != nil {
				b.logger.Warn("account stop failed", "account", accountID, "error", err)
			}
			b.manager.UnregisterChannel(old.Name())
		}

		ch := NewChannel(accountID, acct, workspace, ChannelDeps{
			Bus:     b.bus,
			Meta:    b.meta,
			Pairing: b.pairing,
			Sink:    b.sink,
			Logger:  b.logger,
			BotName: botName,
		})
		b.accounts[accountID] = ch
		b.manager.RegisterChannel(ch.Name(), ch)
		if err := ch.Start(ctx); err != nil {
			b.logger.Error("account restart failed", "account", accountID, "error", err)
		}
	}

	// Accounts removed from config stop too.
	for accountID, ch := range b.accounts {
		if acct, ok := rc.Accounts[accountID]; ok && acct.IsEnabled() {
			continue
		}
		b.logger.Info("ringcentral account removed, stopping", "account", accountID)
		if err := ch.Stop(ctx); err != nil {
			b.logger.Warn("account stop failed", "account", accountID, "error", err)
		}
		b.manager.UnregisterChannel(ch.Name())
		delete(b.accounts, accountID)
	}
}

// Account returns the channel for an account id.
func (b *Bridge) Account(accountID string) (*Channel, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.accounts[accountID]
	return ch, ok
}

// Statuses returns a health snapshot per account, sorted by account id.
func (b *Bridge) Statuses() []Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Status, 0, len(b.accounts))
	for _, ch := range b.accounts {
		out = append(out, ch.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

// RefreshCache rebuilds the chat cache of one account and returns the
// chat count.
func (b *Bridge) RefreshCache(ctx context.Context, accountID string) (int, error) {
	ch, ok := b.Account(accountID)
	if !ok {
		return 0, fmt.Errorf("unknown ringcentral account %q", accountID)
	}
	return ch.Cache().Refresh(ctx)
}

func sortedAccountIDs(accounts map[string]*config.RingCentralAccount) []string {
	ids := make([]string, 0, len(accounts))
	for id := range accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
