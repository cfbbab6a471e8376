package ringcentral

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/ringclaw/internal/bus"
	"github.com/nextlevelbuilder/ringclaw/internal/channels"
	"github.com/nextlevelbuilder/ringclaw/internal/config"
	"github.com/nextlevelbuilder/ringclaw/internal/sessions"
	"github.com/nextlevelbuilder/ringclaw/internal/store"
)

// fakePlatform is an httptest double of the Team Messaging API,
// recording every post mutation.
type fakePlatform struct {
	t *testing.T

	mu      sync.Mutex
	nextID  int
	chats   map[string]Chat
	created []createdPost
	patched []patchedPost
	deleted []string
	uploads int

	srv *httptest.Server
}

type createdPost struct {
	ChatID      string
	Text        string
	Attachments int
	ID          string
}

type patchedPost struct {
	ChatID string
	PostID string
	Text   string
	ID     string
}

func newFakePlatform(t *testing.T) *fakePlatform {
	fp := &fakePlatform{t: t, chats: make(map[string]Chat)}

	mux := http.NewServeMux()
	mux.HandleFunc(tokenEndpoint, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "tok", "expires_in": 3600})
	})
	mux.HandleFunc("/", fp.handle)
	fp.srv = httptest.NewServer(mux)
	t.Cleanup(fp.srv.Close)
	return fp
}

func (fp *fakePlatform) handle(w http.ResponseWriter, r *http.Request) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(path, tmRoot+"/chats/") && !strings.Contains(strings.TrimPrefix(path, tmRoot+"/chats/"), "/"):
		id := strings.TrimPrefix(path, tmRoot+"/chats/")
		chat, ok := fp.chats[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"errorCode":"CMN-102","message":"Resource not found"}`)
			return
		}
		json.NewEncoder(w).Encode(chat)

	case r.Method == http.MethodPost && strings.HasSuffix(path, "/posts"):
		chatID := strings.TrimSuffix(strings.TrimPrefix(path, tmRoot+"/chats/"), "/posts")
		var body struct {
			Text        string                   `json:"text"`
			Attachments []map[string]interface{} `json:"attachments"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		fp.nextID++
		id := fmt.Sprintf("post-%d", fp.nextID)
		fp.created = append(fp.created, createdPost{ChatID: chatID, Text: body.Text, Attachments: len(body.Attachments), ID: id})
		json.NewEncoder(w).Encode(Post{ID: id, GroupID: chatID, Text: body.Text})

	case r.Method == http.MethodPatch && strings.Contains(path, "/posts/"):
		parts := strings.Split(strings.TrimPrefix(path, tmRoot+"/chats/"), "/posts/")
		var body struct {
			Text string `json:"text"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		fp.patched = append(fp.patched, patchedPost{ChatID: parts[0], PostID: parts[1], Text: body.Text, ID: parts[1]})
		json.NewEncoder(w).Encode(Post{ID: parts[1], GroupID: parts[0], Text: body.Text})

	case r.Method == http.MethodDelete && strings.Contains(path, "/posts/"):
		parts := strings.Split(path, "/posts/")
		fp.deleted = append(fp.deleted, parts[1])
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodPost && strings.HasSuffix(path, "/files"):
		fp.uploads++
		fmt.Fprintf(w, `{"records":[{"id":"file-%d"}]}`, fp.uploads)

	case strings.HasPrefix(path, tmRoot+"/persons/"):
		id := strings.TrimPrefix(path, tmRoot+"/persons/")
		json.NewEncoder(w).Encode(Person{ID: id, FirstName: "User", LastName: id})

	case strings.HasPrefix(path, "/content/"):
		if strings.Contains(path, "big") {
			w.Header().Set("Content-Length", "2000000")
			w.WriteHeader(http.StatusOK)
			w.Write(make([]byte, 2000000))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("tiny-image"))

	default:
		fp.t.Logf("fake platform: unhandled %s %s", r.Method, path)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"errorCode":"CMN-102","message":"Resource not found"}`)
	}
}

func (fp *fakePlatform) addChat(chat Chat) {
	fp.mu.Lock()
	fp.chats[chat.ID] = chat
	fp.mu.Unlock()
}

func (fp *fakePlatform) createdPosts() []createdPost {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return append([]createdPost(nil), fp.created...)
}

func (fp *fakePlatform) patchedPosts() []patchedPost {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return append([]patchedPost(nil), fp.patched...)
}

func (fp *fakePlatform) deletedPosts() []string {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return append([]string(nil), fp.deleted...)
}

// newTestChannel builds a channel against the fake platform.
func newTestChannel(t *testing.T, fp *fakePlatform, mutate func(*config.RingCentralAccount)) (*Channel, *bus.MessageBus, string) {
	t.Helper()
	return newTestAccountChannel(t, fp, "default", mutate)
}

func newTestAccountChannel(t *testing.T, fp *fakePlatform, accountID string, mutate func(*config.RingCentralAccount)) (*Channel, *bus.MessageBus, string) {
	t.Helper()
	workspace := t.TempDir()

	acct := &config.RingCentralAccount{
		Credentials: &config.RingCentralCredentials{
			ClientID:     "cid",
			ClientSecret: "secret",
			JWT:          "jwt",
			Server:       fp.srv.URL,
		},
	}
	if mutate != nil {
		mutate(acct)
	}

	msgBus := bus.NewMessageBus()
	meta, err := sessions.NewMetaStore(filepath.Join(workspace, "sessions"))
	if err != nil {
		t.Fatal(err)
	}
	pairing, err := store.NewFilePairingStore(filepath.Join(workspace, "pairing.json"))
	if err != nil {
		t.Fatal(err)
	}

	ch := NewChannel(accountID, acct, workspace, ChannelDeps{
		Bus:     msgBus,
		Meta:    meta,
		Pairing: pairing,
		Logger:  slog.Default(),
		BotName: "TestBot",
	})
	return ch, msgBus, workspace
}

// consumeInbound waits briefly for a published inbound message.
func consumeInbound(t *testing.T, msgBus *bus.MessageBus) (bus.InboundMessage, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	return msgBus.ConsumeInbound(ctx)
}

func postEvent(post Post) InboundEvent {
	return InboundEvent{EventPath: "/restapi/v1.0/glip/posts", Post: post}
}

func TestPipelineSelfOnlyPersonal(t *testing.T) {
	fp := newFakePlatform(t)
	fp.addChat(Chat{ID: "G", Type: ChatTypePersonal, Members: []ChatMember{{ID: "A"}}})

	ch, msgBus, _ := newTestChannel(t, fp, nil)
	ch.setOwnerID("A")

	ch.handleEvent(t.Context(), postEvent(Post{ID: "in-1", GroupID: "G", CreatorID: "A", Text: "hi"}))

	msg, ok := consumeInbound(t, msgBus)
	if !ok {
		t.Fatal("expected inbound message")
	}
	if msg.SessionKey != "agent:default:ringcentral:default:direct:G" {
		t.Errorf("session key %q", msg.SessionKey)
	}
	if msg.RawContent != "hi" || msg.SenderID != "A" || msg.PeerKind != "direct" {
		t.Errorf("message fields: %+v", msg)
	}

	created := fp.createdPosts()
	if len(created) != 1 || created[0].Text != "> 🦞 TestBot is thinking..." {
		t.Fatalf("thinking post wrong: %+v", created)
	}
	if !ch.ledger.Contains(created[0].ID) {
		t.Error("thinking post id not in ledger")
	}
	if v, ok := ch.typingPosts.Load("G"); !ok || v.(string) != created[0].ID {
		t.Error("typing post id not retained for delivery")
	}
}

func TestPipelineDropsNonOwnerInSelfOnly(t *testing.T) {
	fp := newFakePlatform(t)
	ch, msgBus, _ := newTestChannel(t, fp, nil)
	ch.setOwnerID("A")

	ch.handleEvent(t.Context(), postEvent(Post{ID: "in-1", GroupID: "G", CreatorID: "B", Text: "hi"}))

	if _, ok := consumeInbound(t, msgBus); ok {
		t.Fatal("non-owner message must be dropped in selfOnly mode")
	}
	if len(fp.createdPosts()) != 0 {
		t.Error("no outbound expected")
	}
}

func TestPipelineDropsLoopMarkers(t *testing.T) {
	fp := newFakePlatform(t)
	ch, msgBus, _ := newTestChannel(t, fp, nil)
	ch.setOwnerID("A")

	markers := []string{
		"> 🦞 Bot is thinking...",
		"> --------answer--------",
		"> ---------end----------",
		"2 queued messages while agent was busy",
		"Queued #7",
		"<media:attachment>",
	}
	for _, text := range markers {
		ch.handleEvent(t.Context(), postEvent(Post{ID: "in-x", GroupID: "G", CreatorID: "A", Text: text}))
	}

	if _, ok := consumeInbound(t, msgBus); ok {
		t.Fatal("loop marker leaked into the pipeline")
	}
	if len(fp.createdPosts()) != 0 {
		t.Error("loop marker triggered outbound")
	}
}

func TestPipelineDropsOwnEcho(t *testing.T) {
	fp := newFakePlatform(t)
	fp.addChat(Chat{ID: "G", Type: ChatTypePersonal, Members: []ChatMember{{ID: "A"}}})
	ch, msgBus, _ := newTestChannel(t, fp, nil)
	ch.setOwnerID("A")
	ch.ledger.Track("echo-1")

	ch.handleEvent(t.Context(), postEvent(Post{ID: "echo-1", GroupID: "G", CreatorID: "A", Text: "reply text"}))

	if _, ok := consumeInbound(t, msgBus); ok {
		t.Fatal("own echo must be dropped")
	}
}

func boolPtr(b bool) *bool { return &b }

func TestPipelineGroupAllowlistMiss(t *testing.T) {
	fp := newFakePlatform(t)
	fp.addChat(Chat{ID: "222", Type: ChatTypeTeam, Name: "Other", Members: []ChatMember{{ID: "A"}, {ID: "B"}}})

	ch, msgBus, workspace := newTestChannel(t, fp, func(a *config.RingCentralAccount) {
		a.SelfOnly = boolPtr(false)
		a.Groups = map[string]*config.RingCentralGroupRule{"111": {}}
	})
	ch.setOwnerID("A")

	ch.handleEvent(t.Context(), postEvent(Post{ID: "in-1", GroupID: "222", CreatorID: "B", Text: "hello"}))

	if _, ok := consumeInbound(t, msgBus); ok {
		t.Fatal("unlisted group must be dropped")
	}
	// No log file for a group that never passed the allow list.
	if _, err := os.Stat(filepath.Join(workspace, "memory", "chats")); err == nil {
		t.Error("log dir created for dropped group")
	}
}

func TestPipelineGroupMentionGate(t *testing.T) {
	fp := newFakePlatform(t)
	fp.addChat(Chat{ID: "111", Type: ChatTypeTeam, Name: "Ops", Members: []ChatMember{{ID: "A"}, {ID: "B"}}})

	newCh := func(t *testing.T) (*Channel, *bus.MessageBus, string) {
		return newTestChannel(t, fp, func(a *config.RingCentralAccount) {
			a.SelfOnly = boolPtr(false)
			a.Groups = map[string]*config.RingCentralGroupRule{"111": {RequireMention: boolPtr(true)}}
		})
	}

	t.Run("not mentioned drops after logging", func(t *testing.T) {
		ch, msgBus, workspace := newCh(t)
		ch.setOwnerID("A")

		ch.handleEvent(t.Context(), postEvent(Post{ID: "in-1", GroupID: "111", CreatorID: "B", Text: "hello"}))

		if _, ok := consumeInbound(t, msgBus); ok {
			t.Fatal("unmentioned group message must be dropped")
		}
		// The group passed the allow list, so the log entry exists even
		// though the mention gate dropped the message.
		day := time.Now().In(chatLogZone).Format("2006-01-02")
		logPath := filepath.Join(workspace, "memory", "chats", day, "111.md")
		if _, err := os.Stat(logPath); err != nil {
			t.Errorf("group log missing despite admission: %v", err)
		}
	})

	t.Run("mentioned passes", func(t *testing.T) {
		ch, msgBus, _ := newCh(t)
		ch.setOwnerID("A")

		ch.handleEvent(t.Context(), postEvent(Post{
			ID: "in-2", GroupID: "111", CreatorID: "B", Text: "hello bot",
			Mentions: []PostMention{{ID: "A", Type: "Person"}},
		}))

		msg, ok := consumeInbound(t, msgBus)
		if !ok {
			t.Fatal("mentioned group message must pass")
		}
		if msg.PeerKind != "group" || msg.Metadata["was_mentioned"] != "true" {
			t.Errorf("message fields: %+v", msg)
		}
		if msg.From != "ringcentral:channel:111" || msg.To != msg.From {
			t.Errorf("from/to: %q %q", msg.From, msg.To)
		}
	})
}

func TestPipelineDMPolicy(t *testing.T) {
	fp := newFakePlatform(t)
	fp.addChat(Chat{ID: "D", Type: ChatTypeDirect, Members: []ChatMember{{ID: "A"}, {ID: "886"}}})

	newCh := func(t *testing.T) (*Channel, *bus.MessageBus) {
		ch, msgBus, _ := newTestChannel(t, fp, func(a *config.RingCentralAccount) {
			a.SelfOnly = boolPtr(false)
			a.DM = &config.RingCentralDM{Policy: "allowlist", AllowFrom: []string{"886"}}
		})
		ch.setOwnerID("A")
		return ch, msgBus
	}

	t.Run("allowed sender passes", func(t *testing.T) {
		ch, msgBus := newCh(t)
		ch.handleEvent(t.Context(), postEvent(Post{ID: "in-1", GroupID: "D", CreatorID: "886", Text: "hi"}))

		msg, ok := consumeInbound(t, msgBus)
		if !ok {
			t.Fatal("allowed DM must pass")
		}
		if msg.SessionKey != "agent:default:ringcentral:default:direct:886" {
			t.Errorf("session key %q", msg.SessionKey)
		}
		if msg.From != "ringcentral:886" || msg.To != "ringcentral:D" {
			t.Errorf("from/to: %q %q", msg.From, msg.To)
		}
	})

	t.Run("unknown sender drops", func(t *testing.T) {
		ch, msgBus := newCh(t)
		ch.handleEvent(t.Context(), postEvent(Post{ID: "in-2", GroupID: "D", CreatorID: "999", Text: "hi"}))
		if _, ok := consumeInbound(t, msgBus); ok {
			t.Fatal("unlisted DM sender must be dropped")
		}
	})

	t.Run("paired sender passes", func(t *testing.T) {
		ch, msgBus := newCh(t)
		if err := ch.pairing.Approve("999", ChannelName); err != nil {
			t.Fatal(err)
		}
		ch.handleEvent(t.Context(), postEvent(Post{ID: "in-3", GroupID: "D", CreatorID: "999", Text: "hi"}))
		if _, ok := consumeInbound(t, msgBus); !ok {
			t.Fatal("paired sender must pass")
		}
	})
}

func TestPipelineEnvelopeRoutesPerAccount(t *testing.T) {
	fp := newFakePlatform(t)
	fp.addChat(Chat{ID: "G", Type: ChatTypePersonal, Members: []ChatMember{{ID: "A"}}})

	t.Run("non-default account", func(t *testing.T) {
		ch, msgBus, _ := newTestAccountChannel(t, fp, "work", nil)
		ch.setOwnerID("A")

		mgr := channels.NewManager(msgBus)
		mgr.RegisterChannel(ch.Name(), ch)

		ch.handleEvent(t.Context(), postEvent(Post{ID: "in-1", GroupID: "G", CreatorID: "A", Text: "hi"}))

		msg, ok := consumeInbound(t, msgBus)
		if !ok {
			t.Fatal("expected inbound message")
		}
		if msg.Channel != "ringcentral:work" {
			t.Errorf("envelope channel %q, want the registered name", msg.Channel)
		}
		// A reply addressed by the envelope must reach this account.
		if _, found := mgr.GetChannel(msg.Channel); !found {
			t.Errorf("no channel registered under %q", msg.Channel)
		}
		if msg.AccountID != "work" {
			t.Errorf("account id %q", msg.AccountID)
		}
		if msg.SessionKey != "agent:default:ringcentral:work:direct:G" {
			t.Errorf("session key %q", msg.SessionKey)
		}
	})

	t.Run("default account keeps the bare name", func(t *testing.T) {
		ch, msgBus, _ := newTestChannel(t, fp, nil)
		ch.setOwnerID("A")

		ch.handleEvent(t.Context(), postEvent(Post{ID: "in-2", GroupID: "G", CreatorID: "A", Text: "hi"}))

		msg, ok := consumeInbound(t, msgBus)
		if !ok {
			t.Fatal("expected inbound message")
		}
		if msg.Channel != ChannelName {
			t.Errorf("envelope channel %q", msg.Channel)
		}
	})
}

func TestPipelineReplacesStaleTypingPost(t *testing.T) {
	fp := newFakePlatform(t)
	fp.addChat(Chat{ID: "G", Type: ChatTypePersonal, Members: []ChatMember{{ID: "A"}}})

	ch, msgBus, _ := newTestChannel(t, fp, nil)
	ch.setOwnerID("A")

	// First message gets a thinking post but never a reply.
	ch.handleEvent(t.Context(), postEvent(Post{ID: "in-1", GroupID: "G", CreatorID: "A", Text: "first"}))
	if _, ok := consumeInbound(t, msgBus); !ok {
		t.Fatal("first message must pass")
	}
	created := fp.createdPosts()
	if len(created) != 1 {
		t.Fatalf("got %d posts", len(created))
	}
	stale := created[0].ID

	// The next message in the same chat replaces the orphan.
	ch.handleEvent(t.Context(), postEvent(Post{ID: "in-2", GroupID: "G", CreatorID: "A", Text: "second"}))
	if _, ok := consumeInbound(t, msgBus); !ok {
		t.Fatal("second message must pass")
	}

	if deleted := fp.deletedPosts(); len(deleted) != 1 || deleted[0] != stale {
		t.Errorf("stale thinking post not removed: %v", deleted)
	}
	created = fp.createdPosts()
	if len(created) != 2 {
		t.Fatalf("got %d posts", len(created))
	}
	if v, ok := ch.typingPosts.Load("G"); !ok || v.(string) != created[1].ID {
		t.Error("typing post id not replaced by the fresh placeholder")
	}
}

func TestPipelineAttachmentOverLimit(t *testing.T) {
	fp := newFakePlatform(t)
	fp.addChat(Chat{ID: "G", Type: ChatTypePersonal, Members: []ChatMember{{ID: "A"}}})

	ch, msgBus, _ := newTestChannel(t, fp, func(a *config.RingCentralAccount) {
		a.MediaMaxMB = 1
	})
	ch.setOwnerID("A")

	ch.handleEvent(t.Context(), postEvent(Post{
		ID: "in-1", GroupID: "G", CreatorID: "A", Text: "look",
		Attachments: []PostAttachment{{ID: "att-1", ContentURI: "/content/big"}},
	}))

	msg, ok := consumeInbound(t, msgBus)
	if !ok {
		t.Fatal("text must still flow when the attachment is oversized")
	}
	if len(msg.Media) != 0 {
		t.Errorf("oversized attachment leaked: %v", msg.Media)
	}
	if msg.RawContent != "look" {
		t.Errorf("raw content %q", msg.RawContent)
	}
}

func TestPipelineAttachmentIntake(t *testing.T) {
	fp := newFakePlatform(t)
	fp.addChat(Chat{ID: "G", Type: ChatTypePersonal, Members: []ChatMember{{ID: "A"}}})

	ch, msgBus, workspace := newTestChannel(t, fp, nil)
	ch.setOwnerID("A")

	ch.handleEvent(t.Context(), postEvent(Post{
		ID: "in-1", GroupID: "G", CreatorID: "A",
		Attachments: []PostAttachment{{ID: "att-1", ContentURI: "/content/small"}},
	}))

	msg, ok := consumeInbound(t, msgBus)
	if !ok {
		t.Fatal("attachment-only post must pass with placeholder body")
	}
	if msg.RawContent != attachmentPlaceholder {
		t.Errorf("raw content %q", msg.RawContent)
	}
	if len(msg.Media) != 1 || msg.MediaType != "image/png" {
		t.Fatalf("media not recorded: %+v", msg)
	}
	if !strings.HasPrefix(msg.Media[0], filepath.Join(workspace, "media", "inbound")) {
		t.Errorf("media saved outside workspace: %q", msg.Media[0])
	}
	data, err := os.ReadFile(msg.Media[0])
	if err != nil || string(data) != "tiny-image" {
		t.Errorf("media content %q %v", data, err)
	}
}
