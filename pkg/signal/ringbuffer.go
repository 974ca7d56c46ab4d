package signal

// ringBuffer is a fixed-capacity FIFO of scalar samples. Appending beyond
// capacity evicts the oldest sample. Each channel owns exactly one buffer;
// buffers are never shared.
type ringBuffer struct {
	data  []float64
	start int
	size  int
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{data: make([]float64, capacity)}
}

// Append adds one sample, evicting the oldest when full.
func (b *ringBuffer) Append(v float64) {
	if b.size < len(b.data) {
		b.data[(b.start+b.size)%len(b.data)] = v
		b.size++
		return
	}
	b.data[b.start] = v
	b.start = (b.start + 1) % len(b.data)
}

// Len returns the number of buffered samples.
func (b *ringBuffer) Len() int { return b.size }

// Cap returns the buffer capacity.
func (b *ringBuffer) Cap() int { return len(b.data) }

// Values returns the buffered samples oldest-first as a fresh slice.
func (b *ringBuffer) Values() []float64 {
	out := make([]float64, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.data[(b.start+i)%len(b.data)]
	}
	return out
}

// Last returns the most recent sample, or 0 when empty.
func (b *ringBuffer) Last() float64 {
	if b.size == 0 {
		return 0
	}
	return b.data[(b.start+b.size-1)%len(b.data)]
}
