package speech

import (
	"math"
	"time"
)

// EventType is what the detector observed in one chunk.
type EventType int

const (
	EventNone EventType = iota
	EventSpeechStart
	EventSpeechContinue
	EventSpeechEnd
	EventSpeechMaxDuration // a segment ran longer than the max speech duration
)

func (t EventType) String() string {
	switch t {
	case EventNone:
		return "none"
	case EventSpeechStart:
		return "start"
	case EventSpeechContinue:
		return "continue"
	case EventSpeechEnd:
		return "end"
	case EventSpeechMaxDuration:
		return "max-duration"
	default:
		return "unknown"
	}
}

// VADResult is the outcome of processing one chunk.
type VADResult struct {
	Type EventType
	// Duration of the speech so far, set for end and max-duration events.
	Duration time.Duration
	// Transcribe is set when the buffered audio should be recognised.
	Transcribe bool
}

// VAD is an RMS voice activity detector. Time is passed in by the caller
// so the detector is deterministic. It is not safe for concurrent use.
type VAD struct {
	threshold float32

	minSpeech       time.Duration
	maxSpeech       time.Duration
	silence         time.Duration
	transcribeDelay time.Duration

	inSpeech       bool
	speechStart    time.Time
	segmentStart   time.Time // start of the audio not yet previewed
	lastSpeech     time.Time
	lastTranscribe time.Time
}

// NewVAD creates a detector.
func NewVAD(threshold float32, minSpeech, maxSpeech, silence, delay time.Duration) *VAD {
	return &VAD{
		threshold:       threshold,
		minSpeech:       minSpeech,
		maxSpeech:       maxSpeech,
		silence:         silence,
		transcribeDelay: delay,
	}
}

// Process classifies samples captured at now.
func (v *VAD) Process(samples []float32, now time.Time) VADResult {
	var result VADResult

	if calculateRMS(samples) > v.threshold {
		if !v.inSpeech {
			v.inSpeech = true
			v.speechStart = now
			v.segmentStart = now
			result.Type = EventSpeechStart
		} else {
			result.Type = EventSpeechContinue
		}
		v.lastSpeech = now
	}

	if !v.inSpeech {
		return result
	}

	speech := now.Sub(v.speechStart)
	var trigger EventType
	switch {
	case now.Sub(v.lastSpeech) > v.silence && speech > v.minSpeech:
		trigger = EventSpeechEnd
	case now.Sub(v.segmentStart) > v.maxSpeech:
		trigger = EventSpeechMaxDuration
	default:
		return result
	}

	if !v.lastTranscribe.IsZero() && now.Sub(v.lastTranscribe) < v.transcribeDelay {
		return result
	}

	v.lastTranscribe = now
	switch trigger {
	case EventSpeechEnd:
		v.inSpeech = false
	case EventSpeechMaxDuration:
		// Long speech keeps going; the next preview is due a full
		// max-duration later.
		v.segmentStart = now
	}
	result.Type = trigger
	result.Duration = speech
	result.Transcribe = true
	return result
}

// Reset clears the detector state.
func (v *VAD) Reset() {
	v.inSpeech = false
	v.speechStart = time.Time{}
	v.segmentStart = time.Time{}
	v.lastSpeech = time.Time{}
	v.lastTranscribe = time.Time{}
}

// InSpeech reports whether a speech segment is open.
func (v *VAD) InSpeech() bool {
	return v.inSpeech
}

func calculateRMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(samples))))
}
