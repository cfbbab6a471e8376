package ringcentral

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/ringclaw/internal/bus"
	"github.com/nextlevelbuilder/ringclaw/internal/channels"
	"github.com/nextlevelbuilder/ringclaw/internal/sessions"
)

// attachmentPlaceholder substitutes for the body of a text-less
// attachment post.
const attachmentPlaceholder = "<media:attachment>"

// handleEvent runs the full inbound pipeline for one push notification.
// Every drop is silent apart from a debug log entry; an event-level
// failure never reaches the subscription read loop.
func (c *Channel) handleEvent(ctx context.Context, ev InboundEvent) {
	if !isPostEvent(ev) {
		return
	}

	post := ev.Post
	chatID := post.GroupID
	senderID := post.CreatorID

	rawBody := post.Text
	if rawBody == "" && len(post.Attachments) > 0 {
		rawBody = attachmentPlaceholder
	}
	if chatID == "" || rawBody == "" {
		return
	}

	// Own echo by id.
	if c.ledger.Contains(post.ID) {
		c.logger.Debug("drop own echo", "post", post.ID)
		return
	}

	// Structural bot artefacts must never loop back in.
	if marker := DetectLoopMarker(rawBody); marker != MarkerNone {
		c.logger.Debug("drop loop marker", "marker", string(marker), "post", post.ID)
		return
	}
	if IsAttachmentPlaceholder(rawBody) && len(post.Attachments) == 0 {
		return
	}

	ownerID := c.OwnerID()
	selfOnly := c.opts.EffectiveSelfOnly()
	if selfOnly && ownerID != "" && senderID != ownerID {
		c.logger.Debug("drop non-owner in selfOnly mode", "sender", senderID)
		return
	}

	chat := c.lookupChat(ctx, chatID)
	chatType := chat.Type
	isDM := isDirectType(chatType)
	isGroup := !isDM

	// Configured-group prefilter: with any groups configured, only
	// listed groups (or a wildcard) pass.
	if isGroup && len(c.opts.Groups) > 0 {
		if c.groupRule(chatID, chat.Name) == nil {
			c.logger.Debug("drop unconfigured group", "chat", chatID)
			return
		}
	}

	peerKind := sessions.PeerKindFromGroup(isGroup)
	peerID := chatID
	if isDM {
		peerID = dmPeerID(chat.Members, ownerID, senderID, chatID)
	}
	sessionKey := sessions.BuildSessionKey(sessions.DefaultAgentID, ChannelName, c.accountID, peerKind, peerID)

	// selfOnly admits the owner's Personal chat only.
	if selfOnly && !strings.EqualFold(chatType, ChatTypePersonal) {
		c.logger.Debug("drop non-personal chat in selfOnly mode", "chat", chatID, "type", chatType)
		return
	}

	var rule *groupRuleResolved
	if isGroup {
		rule = c.admitGroup(ctx, chatID, chat, senderID, rawBody, sessionKey)
		if rule == nil {
			return
		}
	} else if !selfOnly {
		if !c.admitDM(senderID) {
			c.logger.Debug("drop DM by policy", "sender", senderID, "policy", c.opts.EffectiveDMPolicy())
			return
		}
	}

	hasCommand := channels.HasControlCommand(rawBody)
	commandAuthorized := c.commandAuthorized(senderID, isGroup, rule)
	if isGroup && hasCommand && !commandAuthorized {
		c.logger.Debug("drop unauthorized control command", "sender", senderID, "chat", chatID)
		return
	}

	wasMentioned, hasAnyMention := mentionState(post.Mentions, ownerID)
	if isGroup {
		requireMention := c.opts.EffectiveRequireMention()
		if rule != nil && rule.requireMention != nil {
			requireMention = *rule.requireMention
		}
		skip := channels.ShouldSkipMentionGate(channels.MentionGateInput{
			RequireMention:    requireMention,
			WasMentioned:      wasMentioned,
			HasAnyMention:     hasAnyMention,
			HasControlCommand: hasCommand,
			CommandAuthorized: commandAuthorized,
		})
		if skip {
			c.logger.Debug("drop by mention gate", "chat", chatID)
			return
		}
	}

	mediaPath, mediaType := c.intakeAttachment(ctx, post.Attachments)

	c.recordSessionMeta(sessionKey, chatID, chat, rule)

	wireKind := "group"
	if strings.EqualFold(chatType, ChatTypeTeam) {
		wireKind = "channel"
	}
	from := "ringcentral:" + senderID
	to := "ringcentral:" + chatID
	if isGroup {
		from = fmt.Sprintf("ringcentral:%s:%s", wireKind, chatID)
		to = from
	}

	msg := bus.InboundMessage{
		// The registered channel name ("ringcentral:<account>" for
		// non-default accounts) so replies route back through the same
		// account's credentials.
		Channel:    c.Name(),
		AccountID:  c.accountID,
		SenderID:   senderID,
		ChatID:     chatID,
		Content:    c.frameBody(post, chat, senderID),
		RawContent: rawBody,
		PeerKind:   string(peerKind),
		SessionKey: sessionKey,
		MessageID:  post.ID,
		From:       from,
		To:         to,
		Metadata: map[string]string{
			"provider":           ChannelName,
			"chat_type":          chatType,
			"was_mentioned":      fmt.Sprintf("%t", wasMentioned),
			"command_authorized": fmt.Sprintf("%t", commandAuthorized),
		},
	}
	if mediaPath != "" {
		msg.Media = []string{mediaPath}
		msg.MediaType = mediaType
	}
	if label := c.conversationLabel(ctx, chatID, chat); label != "" {
		msg.Metadata["conversation_label"] = label
	}
	if rule != nil && rule.systemPrompt != "" {
		msg.Metadata["group_system_prompt"] = rule.systemPrompt
	}
	if isGroup {
		msg.Metadata["group_subject"] = chat.Name
	}

	// Thinking post before dispatch; its id feeds both the ledger and
	// the first reply delivery. A leftover id from a message that never
	// got a reply is an orphaned placeholder; remove it.
	if typingID := c.postThinking(ctx, chatID); typingID != "" {
		if prev, ok := c.typingPosts.Swap(chatID, typingID); ok {
			if err := c.client.DeletePost(ctx, chatID, prev.(string)); err != nil {
				c.logger.Debug("stale thinking post delete failed", "chat", chatID, "error", err)
			}
		}
	}

	c.Bus().PublishInbound(msg)
}

// isPostEvent keeps only post-like notifications.
func isPostEvent(ev InboundEvent) bool {
	if strings.Contains(ev.EventPath, "/glip/posts") || strings.Contains(ev.EventPath, "/team-messaging") {
		return true
	}
	return ev.EventType == "PostAdded"
}

// isDirectType classifies DM chat types, case-insensitively.
func isDirectType(chatType string) bool {
	switch strings.ToLower(chatType) {
	case "personal", "personalchat", "direct":
		return true
	}
	return false
}

// dmPeerID picks the DM session peer: the other chat member, falling
// back to the sender (when not the owner), then the chat id.
func dmPeerID(members []string, ownerID, senderID, chatID string) string {
	for _, m := range members {
		if m != "" && m != ownerID {
			return m
		}
	}
	if senderID != "" && senderID != ownerID {
		return senderID
	}
	return chatID
}

// lookupChat fetches chat metadata, falling back to the cache when the
// platform call fails. The fetched record refreshes the cache.
func (c *Channel) lookupChat(ctx context.Context, chatID string) CachedChat {
	if chat, err := c.client.GetChat(ctx, chatID); err == nil {
		cached := CachedChat{
			ID:      chat.ID,
			Name:    chat.Name,
			Type:    chat.Type,
			Members: chat.MemberIDs(),
		}
		c.cache.Put(cached)
		return cached
	} else if !IsNotFound(err) {
		c.logger.Debug("chat lookup failed", "chat", chatID, "error", err)
	}
	if cached, ok := c.cache.Get(chatID); ok {
		return cached
	}
	return CachedChat{ID: chatID}
}

// groupRuleResolved is the effective per-group configuration.
type groupRuleResolved struct {
	requireMention *bool
	users          []string
	systemPrompt   string
}

// groupRule finds the configured rule for a group by id, name or
// lowercased name, with "*" as wildcard. Disabled rules return nil.
func (c *Channel) groupRule(chatID, chatName string) *groupRuleResolved {
	if len(c.opts.Groups) == 0 {
		return &groupRuleResolved{}
	}
	rule, ok := c.opts.Groups[chatID]
	if !ok && chatName != "" {
		if rule, ok = c.opts.Groups[chatName]; !ok {
			rule, ok = c.opts.Groups[strings.ToLower(chatName)]
		}
	}
	if !ok {
		rule, ok = c.opts.Groups["*"]
	}
	if !ok {
		return nil
	}
	if rule == nil {
		return &groupRuleResolved{}
	}
	if rule.Enabled != nil && !*rule.Enabled {
		return nil
	}
	if rule.Allow != nil && !*rule.Allow {
		return nil
	}
	return &groupRuleResolved{
		requireMention: rule.RequireMention,
		users:          rule.Users,
		systemPrompt:   rule.SystemPrompt,
	}
}

// admitGroup applies the group policy. On admission the message is
// appended to the group log and the session label refreshed; the
// resolved rule is returned. nil means drop.
func (c *Channel) admitGroup(ctx context.Context, chatID string, chat CachedChat, senderID, rawBody, sessionKey string) *groupRuleResolved {
	switch c.opts.EffectiveGroupPolicy() {
	case string(channels.GroupPolicyDisabled):
		return nil
	case string(channels.GroupPolicyOpen):
		// fall through to per-group user checks
	default: // allowlist
		if !c.groupAllowed(chatID, chat.Name) {
			c.logger.Debug("drop group not on allowlist", "chat", chatID)
			return nil
		}
	}

	rule := c.groupRule(chatID, chat.Name)
	if rule == nil {
		if len(c.opts.Groups) > 0 {
			return nil
		}
		rule = &groupRuleResolved{}
	}
	if len(rule.users) > 0 && !IsSenderAllowed(senderID, rule.users) {
		c.logger.Debug("drop group sender not allowed", "chat", chatID, "sender", senderID)
		return nil
	}

	// Admission recorded before mention gating: presence in the log
	// means the group is monitored, not that the bot replied.
	c.chatLog.Append(chatID, chat.Name, senderID, rawBody)

	if label := c.conversationLabel(ctx, chatID, chat); label != "" {
		if err := c.meta.SetLabelIfBetter(sessionKey, label, chatID); err != nil {
			c.logger.Debug("session label update failed", "error", err)
		}
	}
	return rule
}

// groupAllowed evaluates the allowlist by configured group entries and
// the flat group_allow_from list.
func (c *Channel) groupAllowed(chatID, chatName string) bool {
	if len(c.opts.Groups) > 0 && c.groupRule(chatID, chatName) != nil {
		return true
	}
	for _, entry := range c.opts.GroupAllowFrom {
		e := strings.TrimSpace(entry)
		if e == "" {
			continue
		}
		if e == "*" || NormalizeTarget(e) == chatID ||
			strings.EqualFold(e, chatName) {
			return true
		}
	}
	return false
}

// admitDM applies the DM policy against the union of configured
// allow_from and the pairing store.
func (c *Channel) admitDM(senderID string) bool {
	switch c.opts.EffectiveDMPolicy() {
	case string(channels.DMPolicyOpen):
		return true
	case string(channels.DMPolicyDisabled):
		return false
	}
	// pairing and allowlist both check the effective allow list;
	// pairing additionally honors store approvals.
	return IsSenderAllowed(senderID, c.effectiveDMAllowFrom())
}

// effectiveDMAllowFrom merges config and pairing approvals.
func (c *Channel) effectiveDMAllowFrom() []string {
	allow := c.opts.EffectiveDMAllowFrom()
	if c.pairing != nil {
		allow = append(allow, c.pairing.List(ChannelName)...)
	}
	return allow
}

// commandAuthorized decides whether senderID may issue control
// commands in this conversation.
func (c *Channel) commandAuthorized(senderID string, isGroup bool, rule *groupRuleResolved) bool {
	if isGroup {
		if rule != nil && len(rule.users) > 0 {
			return IsSenderAllowed(senderID, rule.users)
		}
		return IsSenderAllowed(senderID, c.effectiveDMAllowFrom())
	}
	return IsSenderAllowed(senderID, c.effectiveDMAllowFrom())
}

// mentionState scans post mentions for the owner.
func mentionState(mentions []PostMention, ownerID string) (wasMentioned, hasAnyMention bool) {
	for _, m := range mentions {
		if m.Type != "" && !strings.EqualFold(m.Type, "person") {
			continue
		}
		hasAnyMention = true
		if ownerID != "" && m.ID == ownerID {
			wasMentioned = true
		}
	}
	return wasMentioned, hasAnyMention
}

// intakeAttachment downloads the first attachment under the media
// budget. Oversized or failed downloads drop the attachment only; the
// text still flows.
func (c *Channel) intakeAttachment(ctx context.Context, atts []PostAttachment) (path, mediaType string) {
	if len(atts) == 0 {
		return "", ""
	}
	att := atts[0]
	if att.ContentURI == "" {
		return "", ""
	}

	maxBytes := int64(c.opts.EffectiveMediaMaxMB())
	if maxBytes < 1 {
		maxBytes = 1
	}
	maxBytes *= 1 << 20

	res, err := c.client.Download(ctx, att.ContentURI, maxBytes)
	if err != nil {
		if errors.Is(err, channels.ErrPayloadTooLarge) {
			c.logger.Warn("attachment over media budget, skipping", "attachment", att.ID)
		} else {
			c.logger.Warn("attachment download failed", "attachment", att.ID, "error", err)
		}
		return "", ""
	}

	contentType := res.ContentType
	if contentType == "" {
		contentType = att.ContentType
	}
	saved, err := channels.SaveInboundMedia(c.workspace, res.Data, contentType)
	if err != nil {
		c.logger.Warn("attachment save failed", "error", err)
		return "", ""
	}
	return saved, contentType
}

// conversationLabel derives a human label: the chat name, else up to
// three member first names, else "chat:<id>".
func (c *Channel) conversationLabel(ctx context.Context, chatID string, chat CachedChat) string {
	if chat.Name != "" {
		return chat.Name
	}
	var names []string
	owner := c.OwnerID()
	for _, m := range chat.Members {
		if len(names) == 3 {
			break
		}
		if m == "" || m == owner {
			continue
		}
		if p, err := c.client.GetPerson(ctx, m); err == nil && p.FirstName != "" {
			names = append(names, p.FirstName)
		}
	}
	if len(names) > 0 {
		return strings.Join(names, ", ")
	}
	return "chat:" + chatID
}

// recordSessionMeta persists per-session annotations, rewriting weak
// fallback labels once a real chat name is known.
func (c *Channel) recordSessionMeta(sessionKey, chatID string, chat CachedChat, rule *groupRuleResolved) {
	err := c.meta.Update(sessionKey, func(m *sessions.Meta) {
		m.Channel = ChannelName
		if rule != nil && rule.systemPrompt != "" {
			m.SystemPrompt = rule.systemPrompt
		}
		if chat.Name != "" {
			m.GroupSpace = chat.Name
			if m.Label == "" || sessions.IsWeakLabel(m.Label, chatID) {
				m.Label = chat.Name
			}
		}
	})
	if err != nil {
		c.logger.Debug("session meta update failed", "error", err)
	}
}

// frameBody prepends channel, conversation and timestamp context for
// the agent runtime.
func (c *Channel) frameBody(post Post, chat CachedChat, senderID string) string {
	ts := post.CreationTime
	if ts == "" {
		ts = time.Now().UTC().Format(time.RFC3339)
	}
	source := chat.Name
	if source == "" {
		source = chat.ID
	}
	body := post.Text
	if body == "" {
		body = attachmentPlaceholder
	}
	return fmt.Sprintf("[ringcentral %s] %s %s: %s", source, ts, senderID, body)
}

// postThinking creates the transient placeholder post and tracks its
// id in the ledger so its own echo is suppressed.
func (c *Channel) postThinking(ctx context.Context, chatID string) string {
	text := fmt.Sprintf("> 🦞 %s is thinking...", c.displayName())
	post, err := c.client.CreatePost(ctx, chatID, text, nil)
	if err != nil {
		c.logger.Debug("thinking post failed", "chat", chatID, "error", err)
		return ""
	}
	c.ledger.Track(post.ID)
	return post.ID
}
