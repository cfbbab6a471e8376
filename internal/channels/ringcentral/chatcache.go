package ringcentral

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	chatCacheFile     = "ringcentral-chat-cache.json"
	chatListLimit     = 250
	resolverBatchSize = 3
	resolverBatchGap  = 200 * time.Millisecond
)

// CachedChat is the persisted form of one conversation.
type CachedChat struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	Type    string   `json:"type,omitempty"`
	Members []string `json:"members,omitempty"`
}

type chatCacheFileBody struct {
	UpdatedAt string       `json:"updatedAt"`
	OwnerID   string       `json:"ownerId,omitempty"`
	Chats     []CachedChat `json:"chats"`
}

// ChatCache is a disk-backed snapshot of all conversations for one
// account. It restores from disk on start and only hits the network on
// an explicit Refresh; the platform's auth endpoint is too rate-limited
// for periodic background sync.
type ChatCache struct {
	client *RestClient
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	chats   map[string]CachedChat
	ownerID string
}

// NewChatCache creates a cache persisting under {workspace}/memory.
func NewChatCache(client *RestClient, workspace string, logger *slog.Logger) *ChatCache {
	return &ChatCache{
		client: client,
		path:   filepath.Join(workspace, "memory", chatCacheFile),
		logger: logger,
		chats:  make(map[string]CachedChat),
	}
}

// Restore loads the snapshot from disk. A missing file is not an error.
func (cc *ChatCache) Restore() error {
	data, err := os.ReadFile(cc.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read chat cache: %w", err)
	}
	var body chatCacheFileBody
	if err := json.Unmarshal(data, &body); err != nil {
		return fmt.Errorf("decode chat cache: %w", err)
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.ownerID = body.OwnerID
	cc.chats = make(map[string]CachedChat, len(body.Chats))
	for _, c := range body.Chats {
		if c.ID != "" {
			cc.chats[c.ID] = c
		}
	}
	return nil
}

// OwnerID returns the cached owner extension id, if known.
func (cc *ChatCache) OwnerID() string {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return cc.ownerID
}

// SetOwnerID records the owner extension id resolved elsewhere.
func (cc *ChatCache) SetOwnerID(id string) {
	if id == "" {
		return
	}
	cc.mu.Lock()
	cc.ownerID = id
	cc.mu.Unlock()
}

// Get returns a cached chat by id.
func (cc *ChatCache) Get(chatID string) (CachedChat, bool) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	c, ok := cc.chats[chatID]
	return c, ok
}

// Put inserts or updates one chat and persists if anything changed.
func (cc *ChatCache) Put(chat CachedChat) {
	if chat.ID == "" {
		return
	}
	cc.mu.Lock()
	old, ok := cc.chats[chat.ID]
	changed := !ok || old.Name != chat.Name || old.Type != chat.Type
	cc.chats[chat.ID] = chat
	cc.mu.Unlock()
	if changed {
		if err := cc.persist(); err != nil {
			cc.logger.Warn("chat cache persist failed", "error", err)
		}
	}
}

// Count returns the number of cached chats.
func (cc *ChatCache) Count() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.chats)
}

// All returns a snapshot of cached chats sorted by id.
func (cc *ChatCache) All() []CachedChat {
	cc.mu.RLock()
	out := make([]CachedChat, 0, len(cc.chats))
	for _, c := range cc.chats {
		out = append(out, c)
	}
	cc.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindDirectChatByMember returns the DM chat shared with memberId.
// With a known owner the match is exact on the member pair; otherwise
// best effort on any Direct chat containing the member.
func (cc *ChatCache) FindDirectChatByMember(memberID string) (CachedChat, bool) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	owner := cc.ownerID
	for _, c := range cc.chats {
		if c.Type != ChatTypeDirect {
			continue
		}
		if owner != "" {
			if len(c.Members) == 2 && containsString(c.Members, owner) && containsString(c.Members, memberID) {
				return c, true
			}
			continue
		}
		if containsString(c.Members, memberID) {
			return c, true
		}
	}
	return CachedChat{}, false
}

// Refresh rebuilds the snapshot from the platform and returns the chat
// count. Chat types are fetched in parallel alongside the current
// extension; direct chats without a name get peer names resolved in
// rate-limited batches.
func (cc *ChatCache) Refresh(ctx context.Context) (int, error) {
	types := []string{ChatTypePersonal, ChatTypeDirect, ChatTypeGroup, ChatTypeTeam, ChatTypeEveryone}

	var (
		byType = make([][]Chat, len(types))
		ext    *Extension
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e, err := cc.client.GetCurrentExtension(gctx)
		if err != nil {
			// Owner resolution is best-effort; the fetch still counts.
			cc.logger.Warn("current extension lookup failed", "error", err)
			return nil
		}
		ext = e
		return nil
	})
	for i, ct := range types {
		i, ct := i, ct
		g.Go(func() error {
			chats, err := cc.client.ListChats(gctx, ct, chatListLimit)
			if err != nil {
				return fmt.Errorf("list %s chats: %w", ct, err)
			}
			byType[i] = chats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	ownerID := cc.OwnerID()
	if ext != nil && ext.ID.String() != "" {
		ownerID = ext.ID.String()
	}

	fresh := make(map[string]CachedChat)
	var needResolve []string // ids of nameless Direct chats
	for _, chats := range byType {
		for _, chat := range chats {
			cached := CachedChat{
				ID:      chat.ID,
				Name:    chat.Name,
				Type:    chat.Type,
				Members: chat.MemberIDs(),
			}
			if cached.Type == ChatTypePersonal && cached.Name == "" {
				cached.Name = "(Personal)"
			}
			if cached.Type == ChatTypeDirect && cached.Name == "" {
				needResolve = append(needResolve, cached.ID)
			}
			fresh[cached.ID] = cached
		}
	}

	cc.resolvePeerNames(ctx, fresh, needResolve, ownerID)

	cc.mu.Lock()
	changed := cacheDiffers(cc.chats, fresh) || cc.ownerID != ownerID
	cc.chats = fresh
	if ownerID != "" {
		cc.ownerID = ownerID
	}
	count := len(cc.chats)
	cc.mu.Unlock()

	if changed {
		if err := cc.persist(); err != nil {
			cc.logger.Warn("chat cache persist failed", "error", err)
		}
	}
	cc.logger.Info("chat cache refreshed", "chats", count, "changed", changed)
	return count, nil
}

// resolvePeerNames fills in names of direct chats from the peer's
// person record, batches of 3 with a 200ms gap between batches.
func (cc *ChatCache) resolvePeerNames(ctx context.Context, fresh map[string]CachedChat, ids []string, ownerID string) {
	for start := 0; start < len(ids); start += resolverBatchSize {
		end := start + resolverBatchSize
		if end > len(ids) {
			end = len(ids)
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, id := range ids[start:end] {
			chat, ok := fresh[id]
			if !ok {
				continue
			}
			peerID := firstOtherMember(chat.Members, ownerID)
			if peerID == "" {
				continue
			}
			wg.Add(1)
			go func(chatID, peerID string) {
				defer wg.Done()
				name := peerID
				if p, err := cc.client.GetPerson(ctx, peerID); err == nil {
					name = p.DisplayName()
				}
				mu.Lock()
				c := fresh[chatID]
				c.Name = name
				fresh[chatID] = c
				mu.Unlock()
			}(id, peerID)
		}
		wg.Wait()

		if end < len(ids) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(resolverBatchGap):
			}
		}
	}
}

// persist writes the snapshot atomically (tmp file + rename).
func (cc *ChatCache) persist() error {
	cc.mu.RLock()
	body := chatCacheFileBody{
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		OwnerID:   cc.ownerID,
		Chats:     make([]CachedChat, 0, len(cc.chats)),
	}
	for _, c := range cc.chats {
		body.Chats = append(body.Chats, c)
	}
	cc.mu.RUnlock()

	sort.Slice(body.Chats, func(i, j int) bool { return body.Chats[i].ID < body.Chats[j].ID })

	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return fmt.Errorf("encode chat cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cc.path), 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp := cc.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write chat cache: %w", err)
	}
	return os.Rename(tmp, cc.path)
}

// cacheDiffers reports whether the chat id set or any name changed.
func cacheDiffers(old, fresh map[string]CachedChat) bool {
	if len(old) != len(fresh) {
		return true
	}
	for id, f := range fresh {
		o, ok := old[id]
		if !ok || o.Name != f.Name {
			return true
		}
	}
	return false
}

// firstOtherMember returns the first member id that is not ownerID.
func firstOtherMember(members []string, ownerID string) string {
	for _, m := range members {
		if m != "" && m != ownerID {
			return m
		}
	}
	return ""
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
