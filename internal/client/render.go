package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/gookit/color"

	"github.com/ledzpl/wschat/internal/relay"
)

// Renderer formats relayed messages for a terminal, keeping one color per username.
type Renderer struct {
	picker ColorPicker
	now    func() time.Time

	mu     sync.Mutex
	colors map[string]color.Color
}

// NewRenderer uses picker to assign colors; nil picks randomly from the default palette.
func NewRenderer(picker ColorPicker) *Renderer {
	if picker == nil {
		picker = NewRandomColorPicker(nil)
	}
	return &Renderer{
		picker: picker,
		now:    time.Now,
		colors: make(map[string]color.Color),
	}
}

// Render returns "[hh:mm:ss] username: content" with the username colored.
func (r *Renderer) Render(m relay.ChatMessage) string {
	name := r.colorFor(m.Username).Sprint(m.Username)
	return fmt.Sprintf("[%s] %s: %s", r.now().Format("15:04:05"), name, m.Content)
}

func (r *Renderer) colorFor(username string) color.Color {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.colors[username]
	if !ok {
		c = r.picker.Next()
		r.colors[username] = c
	}
	return c
}
