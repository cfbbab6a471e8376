// Package sessions provides the session key builder and the session
// metadata store.
//
// Session keys follow the OpenClaw canonical format:
//
//	agent:{agentId}:{rest}
//
// Where {rest} for channel conversations is:
//
//	DM:    {channel}:{accountId}:direct:{peerId}
//	Group: {channel}:{accountId}:group:{chatId}
//
// Examples:
//
//	agent:default:ringcentral:default:direct:886644002
//	agent:default:ringcentral:work:group:1447783938
//
// The peer id of a DM is the *other participant*, never the chat id of
// the bot's own Personal chat, so distinct DMs never collapse into one
// session.
package sessions

import (
	"fmt"
	"strings"
)

// PeerKind distinguishes DM from group conversations.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// DefaultAgentID is used when no agent routing is configured.
const DefaultAgentID = "default"

// BuildSessionKey builds the canonical session key for a channel
// conversation scoped to one account.
func BuildSessionKey(agentID, channel, accountID string, kind PeerKind, peerID string) string {
	if agentID == "" {
		agentID = DefaultAgentID
	}
	if accountID == "" {
		accountID = "default"
	}
	return fmt.Sprintf("agent:%s:%s:%s:%s:%s", agentID, channel, accountID, kind, peerID)
}

// ParseSessionKey extracts the agentID and rest from a canonical key.
// Returns ("", "") if the key is not in the expected format.
func ParseSessionKey(key string) (agentID, rest string) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != "agent" {
		return "", ""
	}
	return parts[1], parts[2]
}

// PeerKindFromGroup returns PeerGroup if isGroup is true, PeerDirect otherwise.
func PeerKindFromGroup(isGroup bool) PeerKind {
	if isGroup {
		return PeerGroup
	}
	return PeerDirect
}
