package correlate

import "sync"

// Prefs holds the per-chat voice preference. Unset chats default to false.
type Prefs struct {
	mu    sync.RWMutex
	voice map[string]bool
}

// NewPrefs creates an empty preference map.
func NewPrefs() *Prefs {
	return &Prefs{voice: make(map[string]bool)}
}

// SetVoice records whether replies for chatID should prefer voice rendering.
func (p *Prefs) SetVoice(chatID string, on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if on {
		p.voice[chatID] = true
	} else {
		delete(p.voice, chatID)
	}
}

// Voice returns the voice preference for chatID.
func (p *Prefs) Voice(chatID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.voice[chatID]
}
