package channels

// MentionGateInput collects everything the group mention gate needs.
// Keeping the inputs explicit makes the decision a pure function.
type MentionGateInput struct {
	RequireMention    bool // effective per-group setting
	WasMentioned      bool // bot explicitly addressed
	HasAnyMention     bool // message mentions someone (possibly not the bot)
	HasControlCommand bool // message starts with a control command ("/...")
	CommandAuthorized bool // sender may issue control commands here
}

// ShouldSkipMentionGate decides whether a group message is dropped by
// mention gating. Authorized control commands always pass; an explicit
// mention of the bot always passes; everything else passes only when
// mentions are not required.
func ShouldSkipMentionGate(in MentionGateInput) bool {
	if in.WasMentioned {
		return false
	}
	if in.HasControlCommand && in.CommandAuthorized {
		return false
	}
	if !in.RequireMention {
		// No mention required, but a message explicitly addressed to
		// someone else is still not for the bot.
		return in.HasAnyMention
	}
	return true
}

// HasControlCommand reports whether body starts with a slash command.
// Leading whitespace is ignored; a bare "/" is not a command.
func HasControlCommand(body string) bool {
	i := 0
	for i < len(body) && (body[i] == ' ' || body[i] == '\t' || body[i] == '\n' || body[i] == '\r') {
		i++
	}
	return i < len(body)-1 && body[i] == '/' && body[i+1] != '/' && body[i+1] != ' '
}
