package bus

import "context"

// InboundMessage is the normalized envelope a channel hands to the agent
// runtime. Typed fields cover routing; channel-specific details travel in
// Metadata (e.g. "was_mentioned", "group_system_prompt").
type InboundMessage struct {
	Channel    string            `json:"channel"`
	AccountID  string            `json:"account_id,omitempty"`
	SenderID   string            `json:"sender_id"`
	ChatID     string            `json:"chat_id"`
	Content    string            `json:"content"`
	RawContent string            `json:"raw_content,omitempty"` // unframed body, for command parsing
	Media      []string          `json:"media,omitempty"`        // local paths of downloaded attachments
	MediaType  string            `json:"media_type,omitempty"`
	PeerKind   string            `json:"peer_kind,omitempty"` // "direct" or "group"
	SessionKey string            `json:"session_key"`
	MessageID  string            `json:"message_id,omitempty"`
	From       string            `json:"from,omitempty"`
	To         string            `json:"to,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is a reply to be delivered by a channel.
type OutboundMessage struct {
	Channel   string            `json:"channel"`
	AccountID string            `json:"account_id,omitempty"`
	ChatID    string            `json:"chat_id"`
	Content   string            `json:"content"`
	Media     []MediaAttachment `json:"media,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// MediaAttachment is a media item attached to an outbound message.
type MediaAttachment struct {
	URL         string `json:"url"`                    // file path or remote URL
	ContentType string `json:"content_type,omitempty"` // MIME type
	Caption     string `json:"caption,omitempty"`
}

// Event is a server-side event broadcast to subscribers (status sink,
// embedding gateways).
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// MessageRouter abstracts inbound/outbound message routing between
// channels and the agent runtime.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}
