package metric

// Buffer is a fixed-capacity FIFO ring of metric samples. Pushing into
// a full buffer evicts the oldest sample. Buffers are owned by a single
// session goroutine and carry no locking; the session's run-to-completion
// loop is the only writer.
type Buffer struct {
	samples []Sample
	pos     int // next write position
	filled  int // number of slots in use, up to len(samples)
}

// DefaultCapacity is about three seconds of samples at 30 fps, the
// window the temporal stage and the cross-validation layer both use.
const DefaultCapacity = 90

// NewBuffer creates a ring buffer holding at most capacity samples.
// Non-positive capacities fall back to DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{samples: make([]Sample, capacity)}
}

// Push appends a sample, evicting the oldest when full.
func (b *Buffer) Push(s Sample) {
	b.samples[b.pos] = s
	b.pos = (b.pos + 1) % len(b.samples)
	if b.filled < len(b.samples) {
		b.filled++
	}
}

// Len returns the number of samples currently buffered.
func (b *Buffer) Len() int {
	return b.filled
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int {
	return len(b.samples)
}

// FillRatio returns Len/Cap in 0..1.
func (b *Buffer) FillRatio() float64 {
	return float64(b.filled) / float64(len(b.samples))
}

// Snapshot returns the buffered samples oldest-first. The returned
// slice is freshly allocated and safe to keep.
func (b *Buffer) Snapshot() []Sample {
	out := make([]Sample, 0, b.filled)
	for i := 0; i < b.filled; i++ {
		idx := (b.pos - b.filled + i + len(b.samples)) % len(b.samples)
		out = append(out, b.samples[idx])
	}
	return out
}

// Series extracts one named metric oldest-first across the buffer.
// Samples that do not carry the name contribute 0.
func (b *Buffer) Series(name string) []float64 {
	out := make([]float64, 0, b.filled)
	for i := 0; i < b.filled; i++ {
		idx := (b.pos - b.filled + i + len(b.samples)) % len(b.samples)
		out = append(out, b.samples[idx].Get(name))
	}
	return out
}

// Reset discards all buffered samples. Called at session start, end
// and abort so no state leaks between screenings.
func (b *Buffer) Reset() {
	b.pos = 0
	b.filled = 0
	for i := range b.samples {
		b.samples[i] = Sample{}
	}
}
