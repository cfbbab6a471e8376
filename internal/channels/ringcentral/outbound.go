package ringcentral

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nextlevelbuilder/ringclaw/internal/bus"
	"github.com/nextlevelbuilder/ringclaw/internal/channels"
)

const (
	answerHeader = "> --------answer--------"
	answerFooter = "> ---------end----------"
)

// Send delivers one reply to a chat. Replies with media take the media
// branch (typing post deleted, one post per attachment); text replies
// are wrapped, chunked, and the first chunk edits the typing post. Per
// chunk and per attachment errors are logged but never abort the rest
// of the delivery.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID := NormalizeTarget(msg.ChatID)
	if chatID == "" {
		return fmt.Errorf("outbound message without chat id")
	}

	typingID := c.takeTypingPost(chatID)

	if len(msg.Media) > 0 {
		c.sendMedia(ctx, chatID, msg, typingID)
		c.subscriber.MarkOutbound()
		return nil
	}

	if strings.TrimSpace(msg.Content) == "" {
		// Nothing to deliver; clean up the placeholder.
		if typingID != "" {
			if err := c.client.DeletePost(ctx, chatID, typingID); err != nil {
				c.logger.Debug("typing post delete failed", "error", err)
			}
		}
		return nil
	}

	c.sendText(ctx, chatID, msg.Content, typingID)
	c.subscriber.MarkOutbound()
	return nil
}

// takeTypingPost consumes the pending thinking-post id for a chat. The
// first delivery gets it, later deliveries start fresh.
func (c *Channel) takeTypingPost(chatID string) string {
	if v, ok := c.typingPosts.LoadAndDelete(chatID); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// sendText wraps, chunks and posts the reply text.
func (c *Channel) sendText(ctx context.Context, chatID, text, typingID string) {
	wrapped := answerHeader + "\n" + text + "\n" + answerFooter
	chunks := channels.ChunkText(wrapped, c.opts.EffectiveTextChunkLimit(), c.opts.ChunkMode)

	for i, chunk := range chunks {
		var (
			post *Post
			err  error
		)
		if i == 0 && typingID != "" {
			post, err = c.client.UpdatePost(ctx, chatID, typingID, chunk)
			if err == nil && post != nil && post.ID == "" {
				post.ID = typingID
			}
		} else {
			post, err = c.client.CreatePost(ctx, chatID, chunk, nil)
		}
		if err != nil {
			c.logger.Error("reply chunk send failed", "chat", chatID, "chunk", i, "error", err)
			continue
		}
		if post != nil {
			c.ledger.Track(post.ID)
		}
	}
}

// sendMedia uploads each attachment in order and posts it. Only the
// first post may carry the reply text as caption.
func (c *Channel) sendMedia(ctx context.Context, chatID string, msg bus.OutboundMessage, typingID string) {
	captionSuppressed := false
	if typingID != "" {
		if err := c.client.DeletePost(ctx, chatID, typingID); err != nil {
			// Could not remove the placeholder; repurpose it as the
			// caption so the chat is not left with a stale indicator.
			fallback := strings.TrimSpace(msg.Content)
			if fallback == "" {
				fallback = "Sent attachment(s)."
			}
			if post, editErr := c.client.UpdatePost(ctx, chatID, typingID, fallback); editErr == nil {
				if post != nil && post.ID != "" {
					c.ledger.Track(post.ID)
				} else {
					c.ledger.Track(typingID)
				}
				captionSuppressed = true
			} else {
				c.logger.Debug("typing post cleanup failed", "error", editErr)
			}
		}
	}

	for i, att := range msg.Media {
		data, contentType, name, err := c.loadOutboundMedia(ctx, att)
		if err != nil {
			c.logger.Error("outbound media load failed", "chat", chatID, "media", i, "error", err)
			continue
		}

		upload, err := c.client.UploadFile(ctx, chatID, name, data, contentType)
		if err != nil {
			c.logger.Error("outbound media upload failed", "chat", chatID, "media", i, "error", err)
			continue
		}

		caption := ""
		if i == 0 && !captionSuppressed {
			caption = strings.TrimSpace(msg.Content)
		}
		if att.Caption != "" && caption == "" && i == 0 && !captionSuppressed {
			caption = att.Caption
		}

		post, err := c.client.CreatePost(ctx, chatID, caption, []string{upload.ID})
		if err != nil {
			c.logger.Error("attachment post failed", "chat", chatID, "media", i, "error", err)
			continue
		}
		c.ledger.Track(post.ID)
	}
}

// loadOutboundMedia reads an attachment from a local path or fetches a
// remote URL under the media budget.
func (c *Channel) loadOutboundMedia(ctx context.Context, att bus.MediaAttachment) ([]byte, string, string, error) {
	maxBytes := int64(c.opts.EffectiveMediaMaxMB()) << 20

	if strings.HasPrefix(att.URL, "http://") || strings.HasPrefix(att.URL, "https://") {
		res, err := channels.FetchRemoteMedia(ctx, att.URL, maxBytes)
		if err != nil {
			return nil, "", "", err
		}
		contentType := res.ContentType
		if att.ContentType != "" {
			contentType = att.ContentType
		}
		name := filepath.Base(att.URL)
		if idx := strings.IndexAny(name, "?#"); idx >= 0 {
			name = name[:idx]
		}
		if name == "" || name == "." || name == "/" {
			name = "attachment" + channels.ExtensionForMime(contentType)
		}
		return res.Data, contentType, name, nil
	}

	info, err := os.Stat(att.URL)
	if err != nil {
		return nil, "", "", fmt.Errorf("stat media file: %w", err)
	}
	if info.Size() > maxBytes {
		return nil, "", "", fmt.Errorf("media file %d bytes over limit %d: %w",
			info.Size(), maxBytes, channels.ErrPayloadTooLarge)
	}
	data, err := os.ReadFile(att.URL)
	if err != nil {
		return nil, "", "", fmt.Errorf("read media file: %w", err)
	}
	contentType := att.ContentType
	if contentType == "" {
		contentType = channels.MimeForPath(att.URL)
	}
	return data, contentType, filepath.Base(att.URL), nil
}
