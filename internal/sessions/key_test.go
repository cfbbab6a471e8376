package sessions

import "testing"

func TestBuildSessionKey(t *testing.T) {
	tests := []struct {
		name    string
		agentID string
		channel string
		account string
		kind    PeerKind
		peerID  string
		want    string
	}{
		{"dm", "default", "ringcentral", "default", PeerDirect, "886644002",
			"agent:default:ringcentral:default:direct:886644002"},
		{"group", "default", "ringcentral", "work", PeerGroup, "1447783938",
			"agent:default:ringcentral:work:group:1447783938"},
		{"empty agent falls back", "", "ringcentral", "default", PeerDirect, "1",
			"agent:default:ringcentral:default:direct:1"},
		{"empty account falls back", "a1", "ringcentral", "", PeerGroup, "2",
			"agent:a1:ringcentral:default:group:2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildSessionKey(tt.agentID, tt.channel, tt.account, tt.kind, tt.peerID)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseSessionKey(t *testing.T) {
	agent, rest := ParseSessionKey("agent:default:ringcentral:default:direct:886")
	if agent != "default" || rest != "ringcentral:default:direct:886" {
		t.Errorf("got %q %q", agent, rest)
	}
	if a, r := ParseSessionKey("bogus"); a != "" || r != "" {
		t.Errorf("malformed key parsed: %q %q", a, r)
	}
}

func TestPeerKindFromGroup(t *testing.T) {
	if PeerKindFromGroup(true) != PeerGroup || PeerKindFromGroup(false) != PeerDirect {
		t.Error("mapping wrong")
	}
}
