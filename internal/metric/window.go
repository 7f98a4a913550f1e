package metric

// Window is a fixed-capacity ring of raw float readings, the smaller
// sibling of Buffer for single-series estimators (iris offsets, pitch
// history, sway positions). Same single-writer discipline as Buffer.
type Window struct {
	values []float64
	pos    int
	filled int
}

// NewWindow creates a window holding at most capacity readings.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = MinWindow
	}
	return &Window{values: make([]float64, capacity)}
}

// Push appends a reading, evicting the oldest when full.
func (w *Window) Push(v float64) {
	w.values[w.pos] = v
	w.pos = (w.pos + 1) % len(w.values)
	if w.filled < len(w.values) {
		w.filled++
	}
}

// Len returns the number of readings currently held.
func (w *Window) Len() int {
	return w.filled
}

// Values returns the readings oldest-first in a fresh slice.
func (w *Window) Values() []float64 {
	out := make([]float64, 0, w.filled)
	for i := 0; i < w.filled; i++ {
		idx := (w.pos - w.filled + i + len(w.values)) % len(w.values)
		out = append(out, w.values[idx])
	}
	return out
}

// Reset discards all readings.
func (w *Window) Reset() {
	w.pos = 0
	w.filled = 0
}
