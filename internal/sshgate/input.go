package sshgate

import "sync"

const maxInputRunes = 1024

// inputLine is the line being typed. The read loop edits it while the delivery
// goroutine redraws it, so every access is locked.
type inputLine struct {
	mu    sync.RWMutex
	runes []rune
	limit int
}

func newInputLine(limit int) *inputLine {
	if limit <= 0 {
		limit = maxInputRunes
	}
	return &inputLine{
		runes: make([]rune, 0, 128),
		limit: limit,
	}
}

// Append adds r and reports false once the line is full.
func (l *inputLine) Append(r rune) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.runes) >= l.limit {
		return false
	}
	l.runes = append(l.runes, r)
	return true
}

func (l *inputLine) Backspace() {
	l.mu.Lock()
	if n := len(l.runes); n > 0 {
		l.runes = l.runes[:n-1]
	}
	l.mu.Unlock()
}

func (l *inputLine) Clear() {
	l.mu.Lock()
	l.runes = l.runes[:0]
	l.mu.Unlock()
}

// Take returns the line and clears it.
func (l *inputLine) Take() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	text := string(l.runes)
	l.runes = l.runes[:0]
	return text
}

func (l *inputLine) String() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return string(l.runes)
}
