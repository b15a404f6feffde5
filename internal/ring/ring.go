// Package ring provides the bounded single-producer/single-consumer
// buffer bridging the audio render activity and the per-frame feature
// extractor. The audio thread is the only writer, the extractor the
// only reader; the write index is published atomically after the
// samples land, so no lock sits on the audio path.
package ring

import "sync/atomic"

// Buffer is a mono float64 sample ring. Capacity is rounded up to a
// power of two.
type Buffer struct {
	data []float64
	mask uint64
	wpos atomic.Uint64 // total samples written, published after the write
}

func New(capacity int) *Buffer {
	n := 1
	for n < capacity {
		n <<= 1
	}
	return &Buffer{data: make([]float64, n), mask: uint64(n) - 1}
}

// Cap returns the usable capacity in samples.
func (b *Buffer) Cap() int { return len(b.data) }

// Write appends samples. Producer side only.
func (b *Buffer) Write(samples []float64) {
	pos := b.wpos.Load()
	for i, s := range samples {
		b.data[(pos+uint64(i))&b.mask] = s
	}
	b.wpos.Store(pos + uint64(len(samples)))
}

// WriteStereoF32 mixes an interleaved stereo float32 block to mono and
// appends it. This is the hook the audio stream tap calls.
func (b *Buffer) WriteStereoF32(block []float32) {
	pos := b.wpos.Load()
	n := uint64(0)
	for i := 0; i+1 < len(block); i += 2 {
		b.data[(pos+n)&b.mask] = (float64(block[i]) + float64(block[i+1])) * 0.5
		n++
	}
	b.wpos.Store(pos + n)
}

// Snapshot copies the most recent len(dst) samples into dst, oldest
// first, and returns the total-write position they end at. A position
// equal to the previous call's means no new audio arrived (underrun
// from the consumer's point of view). Short reads zero-fill the front.
func (b *Buffer) Snapshot(dst []float64) uint64 {
	pos := b.wpos.Load()
	want := uint64(len(dst))
	avail := pos
	if avail > uint64(len(b.data)) {
		avail = uint64(len(b.data))
	}
	n := want
	if n > avail {
		n = avail
	}
	for i := uint64(0); i < want-n; i++ {
		dst[i] = 0
	}
	start := pos - n
	for i := uint64(0); i < n; i++ {
		dst[want-n+i] = b.data[(start+i)&b.mask]
	}
	return pos
}
