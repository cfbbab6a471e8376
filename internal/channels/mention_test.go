package channels

import "testing"

func TestShouldSkipMentionGate(t *testing.T) {
	tests := []struct {
		name string
		in   MentionGateInput
		skip bool
	}{
		{
			name: "mentioned always passes",
			in:   MentionGateInput{RequireMention: true, WasMentioned: true},
			skip: false,
		},
		{
			name: "not mentioned with requirement drops",
			in:   MentionGateInput{RequireMention: true},
			skip: true,
		},
		{
			name: "authorized command bypasses requirement",
			in:   MentionGateInput{RequireMention: true, HasControlCommand: true, CommandAuthorized: true},
			skip: false,
		},
		{
			name: "unauthorized command does not bypass",
			in:   MentionGateInput{RequireMention: true, HasControlCommand: true},
			skip: true,
		},
		{
			name: "no requirement passes plain text",
			in:   MentionGateInput{},
			skip: false,
		},
		{
			name: "no requirement but addressed to someone else drops",
			in:   MentionGateInput{HasAnyMention: true},
			skip: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldSkipMentionGate(tt.in); got != tt.skip {
				t.Errorf("got %v, want %v", got, tt.skip)
			}
		})
	}
}

func TestHasControlCommand(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{"/status", true},
		{"  /reset now", true},
		{"\n\t/help", true},
		{"hello /status", false},
		{"/", false},
		{"// comment", false},
		{"/ spaced", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := HasControlCommand(tt.body); got != tt.want {
			t.Errorf("HasControlCommand(%q) = %v, want %v", tt.body, got, tt.want)
		}
	}
}
