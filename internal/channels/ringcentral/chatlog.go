package ringcentral

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// chatLogZone pins log timestamps to the operators' timezone.
var chatLogZone = mustLoadZone("Asia/Shanghai")

func mustLoadZone(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ChatLog appends admitted group messages to per-day markdown files at
// {workspace}/memory/chats/YYYY-MM-DD/{safeChatId}.md. Appending
// happens after the allow-list check and before mention gating, so a
// file's existence reflects group admissibility, not reply decisions.
type ChatLog struct {
	root   string
	logger *slog.Logger
	now    func() time.Time
}

// NewChatLog creates a log rooted at the account workspace.
func NewChatLog(workspace string, logger *slog.Logger) *ChatLog {
	return &ChatLog{
		root:   filepath.Join(workspace, "memory", "chats"),
		logger: logger,
		now:    time.Now,
	}
}

// Append records one group message. Failures are logged and swallowed;
// logging must never block the pipeline.
func (cl *ChatLog) Append(chatID, chatName, senderID, text string) {
	if chatID == "" || text == "" {
		return
	}

	now := cl.now().In(chatLogZone)
	dir := filepath.Join(cl.root, now.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		cl.logger.Warn("chat log mkdir failed", "error", err)
		return
	}

	path := filepath.Join(dir, SanitizeChatID(chatID)+".md")

	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		cl.logger.Warn("chat log open failed", "error", err)
		return
	}
	defer f.Close()

	if isNew {
		title := chatName
		if title == "" {
			title = "chat:" + chatID
		}
		fmt.Fprintf(f, "# %s (%s)\n\n", title, chatID)
	}
	fmt.Fprintf(f, "## %s - %s\n%s\n\n---\n\n", now.Format("15:04"), senderID, text)
}
