package speech

import "time"

// AudioBuffer accumulates the samples of the current utterance. Once full it
// keeps only the most recent samples.
type AudioBuffer struct {
	samples    []float32
	sampleRate int
	limit      int
}

// NewAudioBuffer creates a buffer holding at most maxDur of audio.
func NewAudioBuffer(sampleRate int, maxDur time.Duration) *AudioBuffer {
	limit := int(maxDur.Seconds() * float64(sampleRate))
	return &AudioBuffer{
		samples:    make([]float32, 0, limit),
		sampleRate: sampleRate,
		limit:      limit,
	}
}

// Append adds samples, discarding the oldest ones beyond capacity.
func (b *AudioBuffer) Append(samples []float32) {
	b.samples = append(b.samples, samples...)
	if over := len(b.samples) - b.limit; b.limit > 0 && over > 0 {
		n := copy(b.samples, b.samples[over:])
		b.samples = b.samples[:n]
	}
}

// Snapshot returns a copy of the buffered samples without clearing them.
func (b *AudioBuffer) Snapshot() []float32 {
	if len(b.samples) == 0 {
		return nil
	}
	out := make([]float32, len(b.samples))
	copy(out, b.samples)
	return out
}

// Extract returns a copy of the buffered samples and clears the buffer.
func (b *AudioBuffer) Extract() []float32 {
	out := b.Snapshot()
	b.Clear()
	return out
}

// Clear empties the buffer.
func (b *AudioBuffer) Clear() {
	b.samples = b.samples[:0]
}

// Len returns the number of buffered samples.
func (b *AudioBuffer) Len() int {
	return len(b.samples)
}

// Duration returns how much audio is buffered.
func (b *AudioBuffer) Duration() time.Duration {
	if b.sampleRate == 0 {
		return 0
	}
	return time.Duration(len(b.samples)) * time.Second / time.Duration(b.sampleRate)
}
