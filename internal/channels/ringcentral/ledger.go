package ringcentral

import (
	"sync"
	"time"
)

// ledgerTTL bounds how long a sent post id suppresses its own echo.
// Platform push delivery is near-immediate; 60s covers retries.
const ledgerTTL = 60 * time.Second

// SentLedger is a time-bounded set of post ids produced by this bridge.
// Inbound events whose message id is present are own-echoes and must be
// dropped. Safe for concurrent use.
type SentLedger struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewSentLedger creates an empty ledger.
func NewSentLedger() *SentLedger {
	return &SentLedger{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Track records a post id this bridge produced.
func (l *SentLedger) Track(postID string) {
	if postID == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked()
	l.entries[postID] = l.now().Add(ledgerTTL)
}

// Contains reports whether postID was produced by this bridge within
// the TTL window.
func (l *SentLedger) Contains(postID string) bool {
	if postID == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.entries[postID]
	if !ok {
		return false
	}
	if l.now().After(exp) {
		delete(l.entries, postID)
		return false
	}
	return true
}

// Len returns the number of live entries (sweeps expired ones first).
func (l *SentLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked()
	return len(l.entries)
}

func (l *SentLedger) sweepLocked() {
	now := l.now()
	for id, exp := range l.entries {
		if now.After(exp) {
			delete(l.entries, id)
		}
	}
}
