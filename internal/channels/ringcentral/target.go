package ringcentral

import "strings"

// targetPrefixes are stripped iteratively from chat/user references so
// "ringcentral:chat:123", "rc:123" and "123" all address the same chat.
var targetPrefixes = []string{
	"ringcentral:", "rc:", "chat:", "user:", "group:", "team:",
}

// NormalizeTarget trims raw and iteratively strips known prefixes.
// Returns "" when nothing is left.
func NormalizeTarget(raw string) string {
	s := strings.TrimSpace(raw)
	for {
		stripped := false
		lower := strings.ToLower(s)
		for _, p := range targetPrefixes {
			if strings.HasPrefix(lower, p) {
				s = strings.TrimSpace(s[len(p):])
				stripped = true
				break
			}
		}
		if !stripped {
			return s
		}
	}
}

// TargetKind classifies a send target.
type TargetKind string

const (
	TargetChat    TargetKind = "chat"
	TargetUser    TargetKind = "user"
	TargetUnknown TargetKind = "unknown"
)

// ParseTarget classifies raw into (kind, id). Explicit chat:/group:/team:
// prefixes map to chats, user: to users, a bare numeric id defaults to a
// chat, anything else is unknown.
func ParseTarget(raw string) (TargetKind, string) {
	s := strings.TrimSpace(raw)
	lower := strings.ToLower(s)
	lower = strings.TrimPrefix(lower, "ringcentral:")
	lower = strings.TrimPrefix(lower, "rc:")
	s = s[len(s)-len(lower):]

	for _, p := range []string{"chat:", "group:", "team:"} {
		if strings.HasPrefix(lower, p) {
			return TargetChat, NormalizeTarget(s[len(p):])
		}
	}
	if strings.HasPrefix(lower, "user:") {
		return TargetUser, NormalizeTarget(s[len("user:"):])
	}
	if s != "" && isNumeric(s) {
		return TargetChat, s
	}
	if s == "" {
		return TargetUnknown, ""
	}
	return TargetUnknown, raw
}

// IsSenderAllowed evaluates senderID against an allow list. A "*" entry
// allows everyone; entries and the sender are compared
// case-insensitively after trimming and after stripping one of the
// ringcentral:/rc:/user: prefixes; empty entries are ignored.
func IsSenderAllowed(senderID string, allowFrom []string) bool {
	sender := strings.TrimSpace(senderID)
	senderBare := stripSenderPrefix(sender)

	for _, entry := range allowFrom {
		e := strings.TrimSpace(entry)
		if e == "" {
			continue
		}
		if e == "*" {
			return true
		}
		bare := stripSenderPrefix(e)
		if strings.EqualFold(e, sender) ||
			strings.EqualFold(bare, sender) ||
			strings.EqualFold(e, senderBare) ||
			strings.EqualFold(bare, senderBare) {
			return true
		}
	}
	return false
}

func stripSenderPrefix(s string) string {
	lower := strings.ToLower(s)
	for _, p := range []string{"ringcentral:", "rc:", "user:"} {
		if strings.HasPrefix(lower, p) {
			return strings.TrimSpace(s[len(p):])
		}
	}
	return s
}

// SanitizeChatID maps a chat id to a filesystem-safe token: every
// character outside [A-Za-z0-9_-] becomes "_". Dots and path separators
// included, which rules out traversal when the result is joined into a
// path.
func SanitizeChatID(chatID string) string {
	if chatID == "" {
		return "_"
	}
	out := make([]byte, len(chatID))
	for i := 0; i < len(chatID); i++ {
		c := chatID[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
