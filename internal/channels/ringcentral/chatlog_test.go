package ringcentral

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testChatLog(t *testing.T) (*ChatLog, string) {
	t.Helper()
	dir := t.TempDir()
	cl := NewChatLog(dir, slog.Default())
	cl.now = func() time.Time {
		return time.Date(2026, 8, 24, 6, 30, 0, 0, time.UTC) // 14:30 Asia/Shanghai
	}
	return cl, dir
}

func TestChatLogAppend(t *testing.T) {
	cl, dir := testChatLog(t)

	cl.Append("1447783938", "Ops Room", "886644002", "first message")
	cl.Append("1447783938", "Ops Room", "886644002", "second message")

	path := filepath.Join(dir, "memory", "chats", "2026-08-24", "1447783938.md")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file missing: %v", err)
	}
	content := string(data)

	if !strings.HasPrefix(content, "# Ops Room (1447783938)\n") {
		t.Errorf("missing header: %q", content[:60])
	}
	if strings.Count(content, "# Ops Room") != 1 {
		t.Error("header written more than once")
	}
	if !strings.Contains(content, "## 14:30 - 886644002\nfirst message\n\n---\n\n") {
		t.Errorf("entry format wrong:\n%s", content)
	}
	if !strings.Contains(content, "second message") {
		t.Error("second entry missing")
	}
}

func TestChatLogHeaderFallback(t *testing.T) {
	cl, dir := testChatLog(t)
	cl.Append("42", "", "7", "hi")

	data, err := os.ReadFile(filepath.Join(dir, "memory", "chats", "2026-08-24", "42.md"))
	if err != nil {
		t.Fatalf("log file missing: %v", err)
	}
	if !strings.HasPrefix(string(data), "# chat:42 (42)\n") {
		t.Errorf("fallback header wrong: %q", string(data))
	}
}

func TestChatLogSanitizesPath(t *testing.T) {
	cl, dir := testChatLog(t)
	cl.Append("../../../escape", "evil", "7", "hi")

	base := filepath.Join(dir, "memory", "chats", "2026-08-24")
	entries, err := os.ReadDir(base)
	if err != nil {
		t.Fatalf("day dir missing: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one log file, got %d", len(entries))
	}
	name := entries[0].Name()
	if strings.ContainsAny(strings.TrimSuffix(name, ".md"), "./\\") {
		t.Errorf("unsafe log filename %q", name)
	}
	// Nothing may land outside the workspace.
	if _, err := os.Stat(filepath.Join(dir, "..", "escape.md")); err == nil {
		t.Error("log escaped the workspace")
	}
}

func TestChatLogSkipsEmpty(t *testing.T) {
	cl, dir := testChatLog(t)
	cl.Append("", "name", "7", "text")
	cl.Append("42", "name", "7", "")

	if _, err := os.Stat(filepath.Join(dir, "memory", "chats")); err == nil {
		t.Error("no file should be created for empty input")
	}
}
