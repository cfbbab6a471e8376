// Package store holds the bridge's persistence interfaces and the
// file-backed implementations used in standalone mode.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// PairingStore tracks senders approved to DM the bot on a given channel.
// It supplements the static allow_from config: the effective DM allow
// list is the union of both.
type PairingStore interface {
	IsPaired(senderID, channel string) bool
	Approve(senderID, channel string) error
	List(channel string) []string
}

type pairingEntry struct {
	SenderID string    `json:"sender_id"`
	Channel  string    `json:"channel"`
	Approved time.Time `json:"approved"`
}

// FilePairingStore persists approvals to a single JSON file.
type FilePairingStore struct {
	path string
	mu   sync.Mutex
}

// NewFilePairingStore loads (or lazily creates) the pairing file.
func NewFilePairingStore(path string) (*FilePairingStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create pairing dir: %w", err)
	}
	return &FilePairingStore{path: path}, nil
}

// IsPaired reports whether senderID was approved for channel.
func (s *FilePairingStore) IsPaired(senderID, channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.read() {
		if e.Channel == channel && e.SenderID == senderID {
			return true
		}
	}
	return false
}

// Approve records an approval. Idempotent.
func (s *FilePairingStore) Approve(senderID, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.read()
	for _, e := range entries {
		if e.Channel == channel && e.SenderID == senderID {
			return nil
		}
	}
	entries = append(entries, pairingEntry{
		SenderID: senderID,
		Channel:  channel,
		Approved: time.Now(),
	})
	return s.write(entries)
}

// List returns the approved sender ids for a channel.
func (s *FilePairingStore) List(channel string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, e := range s.read() {
		if e.Channel == channel {
			out = append(out, e.SenderID)
		}
	}
	return out
}

func (s *FilePairingStore) read() []pairingEntry {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}
	var entries []pairingEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil
	}
	return entries
}

func (s *FilePairingStore) write(entries []pairingEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write pairing store: %w", err)
	}
	return os.Rename(tmp, s.path)
}

var _ PairingStore = (*FilePairingStore)(nil)
