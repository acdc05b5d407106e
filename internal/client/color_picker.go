package client

import (
	"math/rand"
	"sync"
	"time"

	"github.com/gookit/color"
)

// ColorPicker represents a strategy for choosing a display color for new usernames.
type ColorPicker interface {
	Next() color.Color
}

var defaultPalette = []color.Color{
	color.FgRed,
	color.FgGreen,
	color.FgYellow,
	color.FgBlue,
	color.FgMagenta,
	color.FgCyan,
}

// NewRandomColorPicker picks uniformly from palette, or the default palette when empty.
func NewRandomColorPicker(palette []color.Color) ColorPicker {
	if len(palette) == 0 {
		palette = defaultPalette
	}
	return &randomColorPicker{
		palette: append([]color.Color(nil), palette...),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

type randomColorPicker struct {
	mu      sync.Mutex
	palette []color.Color
	rng     *rand.Rand
}

func (p *randomColorPicker) Next() color.Color {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.palette[p.rng.Intn(len(p.palette))]
}
