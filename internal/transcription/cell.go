package transcription

import (
	"strings"
	"sync"
)

// TranscriptCell holds the latest transcript of one session. Recognizer callbacks and file transcription
// write it; TranscribeFile and clients read it.
type TranscriptCell struct {
	mu        sync.RWMutex
	finalized string
	live      string
	sealed    bool
}

// Update stores the finalized text and the finalized+interim caption. It is ignored once the cell is sealed.
func (c *TranscriptCell) Update(finalized, live string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		return
	}
	c.finalized = strings.TrimSpace(finalized)
	c.live = strings.TrimSpace(live)
}

// Set replaces the transcript with a final value.
func (c *TranscriptCell) Set(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sealed = false
	c.finalized = strings.TrimSpace(text)
	c.live = c.finalized
}

// Seal promotes the interim caption to finalized text and freezes the cell until the next Set or Reset.
func (c *TranscriptCell) Seal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live != "" {
		c.finalized = c.live
	}
	c.sealed = true
}

// Text returns the finalized transcript, or the live caption when nothing was finalized yet.
func (c *TranscriptCell) Text() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.finalized != "" {
		return c.finalized
	}
	return c.live
}

// Live returns the finalized+interim caption.
func (c *TranscriptCell) Live() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.live
}

// Reopen lets recognizer updates through again after Seal.
func (c *TranscriptCell) Reopen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sealed = false
}

// Reset clears both values.
func (c *TranscriptCell) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalized, c.live, c.sealed = "", "", false
}
