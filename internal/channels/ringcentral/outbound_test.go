package ringcentral

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/ringclaw/internal/bus"
	"github.com/nextlevelbuilder/ringclaw/internal/config"
)

func TestSendTextChunksAndEditsTypingPost(t *testing.T) {
	fp := newFakePlatform(t)
	ch, _, _ := newTestChannel(t, fp, func(a *config.RingCentralAccount) {
		a.TextChunkLimit = 100
	})
	ch.typingPosts.Store("G", "typ-1")

	reply := strings.Repeat("a", 350)
	err := ch.Send(t.Context(), bus.OutboundMessage{Channel: ch.Name(), ChatID: "G", Content: reply})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	patched := fp.patchedPosts()
	created := fp.createdPosts()
	if len(patched) != 1 || patched[0].PostID != "typ-1" {
		t.Fatalf("first chunk must edit the typing post, got %+v", patched)
	}
	if !strings.HasPrefix(patched[0].Text, answerHeader) {
		t.Errorf("first chunk missing answer header: %q", patched[0].Text[:40])
	}
	// wrapped text is 400 bytes, limit 100: chunk 1 edits, 3 more posts
	if len(created) != 3 {
		t.Fatalf("got %d fresh posts, want 3", len(created))
	}
	last := created[len(created)-1]
	if !strings.HasSuffix(strings.TrimSpace(last.Text), answerFooter) {
		t.Errorf("last chunk missing footer: %q", last.Text)
	}

	// Every produced id suppresses its own echo.
	if !ch.ledger.Contains("typ-1") {
		t.Error("edited typing post id not in ledger")
	}
	for _, p := range created {
		if !ch.ledger.Contains(p.ID) {
			t.Errorf("post %s not in ledger", p.ID)
		}
	}

	// Typing post id is consumed by the first delivery only.
	if _, ok := ch.typingPosts.Load("G"); ok {
		t.Error("typing post id not consumed")
	}
}

func TestSendTextWithoutTypingPost(t *testing.T) {
	fp := newFakePlatform(t)
	ch, _, _ := newTestChannel(t, fp, nil)

	if err := ch.Send(t.Context(), bus.OutboundMessage{ChatID: "G", Content: "short reply"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	created := fp.createdPosts()
	if len(created) != 1 {
		t.Fatalf("got %d posts", len(created))
	}
	want := answerHeader + "\nshort reply\n" + answerFooter
	if created[0].Text != want {
		t.Errorf("wrapped text:\n got %q\nwant %q", created[0].Text, want)
	}
	if len(fp.patchedPosts()) != 0 {
		t.Error("nothing should be edited without a typing post")
	}
}

func TestSendNormalizesTarget(t *testing.T) {
	fp := newFakePlatform(t)
	ch, _, _ := newTestChannel(t, fp, nil)

	if err := ch.Send(t.Context(), bus.OutboundMessage{ChatID: "ringcentral:chat:42", Content: "x"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	created := fp.createdPosts()
	if len(created) != 1 || created[0].ChatID != "42" {
		t.Errorf("target not normalized: %+v", created)
	}

	if err := ch.Send(t.Context(), bus.OutboundMessage{ChatID: "  ", Content: "x"}); err == nil {
		t.Error("empty chat id must error")
	}
}

func TestSendMediaDeletesTypingPost(t *testing.T) {
	fp := newFakePlatform(t)
	ch, _, workspace := newTestChannel(t, fp, nil)
	ch.typingPosts.Store("G", "typ-1")

	mediaPath := filepath.Join(workspace, "out.png")
	if err := os.WriteFile(mediaPath, []byte("png-bytes"), 0600); err != nil {
		t.Fatal(err)
	}

	err := ch.Send(t.Context(), bus.OutboundMessage{
		ChatID:  "G",
		Content: "here you go",
		Media:   []bus.MediaAttachment{{URL: mediaPath, ContentType: "image/png"}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if deleted := fp.deletedPosts(); len(deleted) != 1 || deleted[0] != "typ-1" {
		t.Errorf("typing post not deleted: %v", deleted)
	}
	created := fp.createdPosts()
	if len(created) != 1 {
		t.Fatalf("got %d posts", len(created))
	}
	if created[0].Text != "here you go" || created[0].Attachments != 1 {
		t.Errorf("attachment post wrong: %+v", created[0])
	}
	if !ch.ledger.Contains(created[0].ID) {
		t.Error("attachment post id not in ledger")
	}
}

func TestSendMediaCaptionOnFirstOnly(t *testing.T) {
	fp := newFakePlatform(t)
	ch, _, workspace := newTestChannel(t, fp, nil)

	var paths []bus.MediaAttachment
	for _, name := range []string{"a.png", "b.png"} {
		p := filepath.Join(workspace, name)
		if err := os.WriteFile(p, []byte("data"), 0600); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, bus.MediaAttachment{URL: p})
	}

	err := ch.Send(t.Context(), bus.OutboundMessage{ChatID: "G", Content: "caption", Media: paths})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	created := fp.createdPosts()
	if len(created) != 2 {
		t.Fatalf("got %d posts", len(created))
	}
	if created[0].Text != "caption" {
		t.Errorf("first post caption %q", created[0].Text)
	}
	if created[1].Text != "" {
		t.Errorf("second post must not repeat the caption, got %q", created[1].Text)
	}
}

func TestSendEmptyDeletesStaleTypingPost(t *testing.T) {
	fp := newFakePlatform(t)
	ch, _, _ := newTestChannel(t, fp, nil)
	ch.typingPosts.Store("G", "typ-1")

	if err := ch.Send(t.Context(), bus.OutboundMessage{ChatID: "G", Content: "   "}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if deleted := fp.deletedPosts(); len(deleted) != 1 || deleted[0] != "typ-1" {
		t.Errorf("stale typing post not removed: %v", deleted)
	}
	if len(fp.createdPosts()) != 0 {
		t.Error("empty reply must not post")
	}
}
