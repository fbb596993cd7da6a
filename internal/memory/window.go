package memory

import "time"

// Turn is one utterance/response pair.
type Turn struct {
	Index      int       `json:"index"`
	Utterance  string    `json:"utterance"`
	Response   string    `json:"response"`
	Intent     string    `json:"intent,omitempty"`
	Confidence float64   `json:"confidence"`
	At         time.Time `json:"at"`
}

// Window is a fixed-capacity ring of recent turns. When full, the oldest
// turn is overwritten.
type Window struct {
	buf  []Turn
	head int // next write position
	full bool
}

// NewWindow creates a window holding up to size turns.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = 20
	}
	return &Window{buf: make([]Turn, size)}
}

// Add appends a turn, evicting the oldest when full.
func (w *Window) Add(t Turn) {
	w.buf[w.head] = t
	w.head = (w.head + 1) % len(w.buf)
	if w.head == 0 {
		w.full = true
	}
}

// Turns returns the stored turns oldest first.
func (w *Window) Turns() []Turn {
	if !w.full {
		out := make([]Turn, w.head)
		copy(out, w.buf[:w.head])
		return out
	}
	out := make([]Turn, 0, len(w.buf))
	out = append(out, w.buf[w.head:]...)
	out = append(out, w.buf[:w.head]...)
	return out
}

// Last returns up to n most recent turns, oldest first.
func (w *Window) Last(n int) []Turn {
	all := w.Turns()
	if n >= len(all) || n <= 0 {
		return all
	}
	return all[len(all)-n:]
}

// Len returns the number of stored turns.
func (w *Window) Len() int {
	if w.full {
		return len(w.buf)
	}
	return w.head
}

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.buf) }

// Clear drops every turn.
func (w *Window) Clear() {
	w.buf = make([]Turn, len(w.buf))
	w.head = 0
	w.full = false
}
