package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Meta is the per-session metadata the bridge maintains for the agent
// runtime: a human-readable conversation label plus optional channel
// annotations (group system prompt, chat space name).
type Meta struct {
	Key          string    `json:"key"`
	Label        string    `json:"label,omitempty"`
	Channel      string    `json:"channel,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	GroupSpace   string    `json:"group_space,omitempty"`
	Updated      time.Time `json:"updated"`
}

// MetaStore persists session metadata as one JSON file per session key.
type MetaStore struct {
	dir string
	mu  sync.Mutex
	// in-memory view, loaded lazily per key
	cache map[string]*Meta
}

// NewMetaStore creates a metadata store rooted at dir.
func NewMetaStore(dir string) (*MetaStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &MetaStore{dir: dir, cache: make(map[string]*Meta)}, nil
}

// Get returns the metadata for key, loading from disk on first access.
func (s *MetaStore) Get(key string) *Meta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(key)
}

// Update applies fn to the metadata for key and persists the result.
func (s *MetaStore) Update(key string, fn func(*Meta)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.load(key)
	fn(m)
	m.Updated = time.Now()
	return s.save(m)
}

// SetLabelIfBetter sets the label when the current one is empty or a
// weak fallback (a bare id dressed up). Real names never get replaced
// by weaker ones.
func (s *MetaStore) SetLabelIfBetter(key, label, chatID string) error {
	if label == "" {
		return nil
	}
	return s.Update(key, func(m *Meta) {
		if m.Label == "" || IsWeakLabel(m.Label, chatID) {
			m.Label = label
		}
	})
}

// IsWeakLabel reports whether label is one of the fallback forms derived
// from the chat id ("chat:<id>", "ringcentral:group:<id>", bare "<id>",
// each with an optional trailing " id:<id>").
func IsWeakLabel(label, chatID string) bool {
	l := strings.TrimSpace(label)
	l = strings.TrimSuffix(l, " id:"+chatID)
	l = strings.TrimSpace(l)
	switch l {
	case "", chatID, "chat:" + chatID, "ringcentral:group:" + chatID:
		return true
	}
	return false
}

func (s *MetaStore) load(key string) *Meta {
	if m, ok := s.cache[key]; ok {
		return m
	}
	m := &Meta{Key: key}
	data, err := os.ReadFile(s.path(key))
	if err == nil {
		_ = json.Unmarshal(data, m)
		m.Key = key
	}
	s.cache[key] = m
	return m
}

func (s *MetaStore) save(m *Meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	path := s.path(m.Key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write session meta: %w", err)
	}
	return os.Rename(tmp, path)
}

// path maps a session key to a filename; colons are not portable.
func (s *MetaStore) path(key string) string {
	name := strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(key)
	return filepath.Join(s.dir, name+".json")
}
