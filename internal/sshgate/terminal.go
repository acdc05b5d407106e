package sshgate

import (
	"io"
	"sync"
)

const (
	escSaveCursor    = "\0337\033[s"
	escRestoreCursor = "\033[u\0338"
	escHome          = "\033[H"
	escEraseLine     = "\033[2K"
	escEraseToEnd    = "\033[K"
	escInsertLine    = "\033[1L"
	escEraseScreen   = "\033[2J"
)

// terminal draws the chat view on a session: a status bar on the first row,
// the scrolling transcript, and the input prompt on the current row.
// Writes from the read loop and the delivery goroutine are serialised.
type terminal struct {
	mu sync.Mutex
	w  io.Writer

	statusReserved bool
}

func newTerminal(w io.Writer) *terminal {
	return &terminal{w: w}
}

func (t *terminal) Reset() error {
	return t.write(escEraseScreen + escHome)
}

// Println replaces the prompt row with line and moves to a fresh row.
func (t *terminal) Println(line string) error {
	return t.write("\r" + escEraseToEnd + line + "\r\n")
}

// Prompt redraws the status bar and the input row.
func (t *terminal) Prompt(status, input string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var seq string
	if !t.statusReserved {
		seq = escSaveCursor + escHome + escInsertLine + escRestoreCursor
		t.statusReserved = true
	}
	seq += escSaveCursor + escHome + escEraseLine + status + escRestoreCursor
	seq += "\r> " + input + escEraseToEnd

	_, err := io.WriteString(t.w, seq)
	return err
}

func (t *terminal) write(s string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, err := io.WriteString(t.w, s)
	return err
}
