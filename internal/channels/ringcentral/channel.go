// Package ringcentral bridges RingCentral Team Messaging into the agent
// runtime: one websocket subscription per account, an inbound
// filter/policy pipeline, and chunked outbound delivery with echo
// suppression.
package ringcentral

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/ringclaw/internal/bus"
	"github.com/nextlevelbuilder/ringclaw/internal/channels"
	"github.com/nextlevelbuilder/ringclaw/internal/config"
	"github.com/nextlevelbuilder/ringclaw/internal/sessions"
	"github.com/nextlevelbuilder/ringclaw/internal/store"
)

// ChannelName is the canonical channel identifier.
const ChannelName = "ringcentral"

const ownerRetryDelay = 60 * time.Second

// Channel is one account's bridge instance. It owns the subscription,
// the chat cache, the sent ledger and the group log; inbound events run
// through the pipeline in inbound.go, replies through outbound.go.
type Channel struct {
	*channels.BaseChannel

	accountID string
	opts      *config.RingCentralAccountOptions
	creds     *config.RingCentralCredentials
	botName   string
	workspace string

	client     *RestClient
	subscriber *Subscriber
	cache      *ChatCache
	ledger     *SentLedger
	chatLog    *ChatLog
	meta       *sessions.MetaStore
	pairing    store.PairingStore
	logger     *slog.Logger

	// typing post ids by chat id, consumed by the first reply delivery
	typingPosts sync.Map

	mu      sync.Mutex
	ownerID string
	cancel  context.CancelFunc
	done    chan struct{}
}

// ChannelDeps are the shared collaborators injected by the factory.
type ChannelDeps struct {
	Bus     *bus.MessageBus
	Meta    *sessions.MetaStore
	Pairing store.PairingStore
	Sink    StatusSink
	Logger  *slog.Logger
	BotName string
}

// NewChannel builds one account's channel. The channel name is suffixed
// with the account id so multiple accounts register independently.
func NewChannel(accountID string, acct *config.RingCentralAccount, workspace string, deps ChannelDeps) *Channel {
	creds := acct.Credentials
	client := NewRestClient(accountID, creds.ServerOrDefault(), creds.ClientID, creds.ClientSecret, creds.JWT)

	name := ChannelName
	if accountID != "default" && accountID != "" {
		name = ChannelName + ":" + accountID
	}

	logger := deps.Logger.With("channel", ChannelName, "account", accountID)
	if acct.Workspace != "" {
		workspace = config.ExpandHome(acct.Workspace)
	}
	botName := acct.Name
	if botName == "" {
		botName = deps.BotName
	}

	ch := &Channel{
		BaseChannel: channels.NewBaseChannel(name, deps.Bus, acct.EffectiveDMAllowFrom()),
		accountID:   accountID,
		opts:        &acct.RingCentralAccountOptions,
		creds:       creds,
		botName:     botName,
		workspace:   workspace,
		client:      client,
		cache:       NewChatCache(client, workspace, logger),
		ledger:      NewSentLedger(),
		chatLog:     NewChatLog(workspace, logger),
		meta:        deps.Meta,
		pairing:     deps.Pairing,
		logger:      logger,
	}
	ch.subscriber = NewSubscriber(client, accountID, ch.handleEvent, deps.Sink, logger)
	return ch
}

// AccountID returns the bridge account id.
func (c *Channel) AccountID() string { return c.accountID }

// Client exposes the REST client (pairing CLI, cache refresh command).
func (c *Channel) Client() *RestClient { return c.client }

// Cache exposes the chat cache.
func (c *Channel) Cache() *ChatCache { return c.cache }

// Fingerprint returns the credential fingerprint this channel was built
// with. The factory compares it on config reload.
func (c *Channel) Fingerprint() string { return c.creds.Fingerprint() }

// Status returns the subscription health snapshot.
func (c *Channel) Status() Status { return c.subscriber.StatusSnapshot() }

// Start restores the chat cache, kicks off owner resolution and runs
// the subscription loop in the background.
func (c *Channel) Start(ctx context.Context) error {
	if c.IsRunning() {
		return fmt.Errorf("ringcentral channel %s already running", c.accountID)
	}

	if err := c.cache.Restore(); err != nil {
		c.logger.Warn("chat cache restore failed", "error", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go c.resolveOwner(runCtx)

	go func() {
		defer close(done)
		defer c.SetRunning(false)
		if err := c.subscriber.Run(runCtx); err != nil && runCtx.Err() == nil {
			c.logger.Error("subscription loop exited", "error", err)
		}
	}()

	c.SetRunning(true)
	c.logger.Info("ringcentral channel started",
		"server", c.creds.ServerOrDefault(),
		"self_only", c.opts.EffectiveSelfOnly(),
		"dm_policy", c.opts.EffectiveDMPolicy(),
		"group_policy", c.opts.EffectiveGroupPolicy())
	return nil
}

// Stop cancels the subscription loop and waits for teardown.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.SetRunning(false)
	c.logger.Info("ringcentral channel stopped")
	return nil
}

// OwnerID returns the resolved owner extension id, "" if unknown.
func (c *Channel) OwnerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ownerID
}

func (c *Channel) setOwnerID(id string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	c.ownerID = id
	c.mu.Unlock()
	c.cache.SetOwnerID(id)
}

// resolveOwner determines the extension id the bridge posts as:
// configured bot_extension_id, else the first DM allow_from entry, else
// the current-extension endpoint. A rate-limited lookup leaves the
// owner unknown (self-echo filtering degrades, pipeline still runs) and
// retries after at least 60 seconds.
func (c *Channel) resolveOwner(ctx context.Context) {
	if c.opts.BotExtensionID != "" {
		c.setOwnerID(c.opts.BotExtensionID)
		return
	}
	if allow := c.opts.EffectiveDMAllowFrom(); len(allow) > 0 {
		if id := NormalizeTarget(allow[0]); id != "" && id != "*" {
			c.setOwnerID(id)
			return
		}
	}
	if cached := c.cache.OwnerID(); cached != "" {
		c.setOwnerID(cached)
		return
	}

	for {
		ext, err := c.client.GetCurrentExtension(ctx)
		if err == nil {
			c.setOwnerID(ext.ID.String())
			c.logger.Info("owner extension resolved", "owner", ext.ID.String())
			return
		}
		if ctx.Err() != nil {
			return
		}
		if !IsRateLimited(err) {
			c.logger.Warn("owner extension lookup failed", "error", err)
			return
		}

		delay := ownerRetryDelay
		if ra := RetryAfterSeconds(err); ra > 60 {
			delay = time.Duration(ra) * time.Second
		}
		c.logger.Warn("owner extension lookup rate limited, continuing without owner",
			"retry_in", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// displayName resolves the bot name shown in the thinking post.
func (c *Channel) displayName() string {
	if c.botName != "" {
		return c.botName
	}
	return "OpenClaw"
}
