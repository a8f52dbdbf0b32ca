// Package speech turns microphone audio into interim and final transcripts.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.aimuz.me/slidemark/stt"
	"k8s.io/utils/clock"
)

// Kind identifies a recogniser event.
type Kind int

const (
	KindInterim Kind = iota
	KindFinal
	KindEnd
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindInterim:
		return "interim"
	case KindFinal:
		return "final"
	case KindEnd:
		return "end"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one recogniser output.
type Event struct {
	Kind    Kind
	Text    string
	Session string
	// Err is set for error events, and for end events caused by a failure.
	Err error
}

// Recognizer produces transcripts from live audio.
type Recognizer interface {
	Start(ctx context.Context) error
	Stop() error
	// Events is replaced on each Start and closed by Stop.
	Events() <-chan Event
}

// Config holds the detector and recogniser settings.
type Config struct {
	Language        string
	VADThreshold    float32
	MinSpeechDur    time.Duration
	MaxSpeechDur    time.Duration
	SilenceDur      time.Duration
	TranscribeDelay time.Duration
	// MaxBuffer bounds a single utterance.
	MaxBuffer time.Duration
	Clock     clock.PassiveClock
}

// DefaultConfig returns detector settings tuned for short spoken commands.
func DefaultConfig() Config {
	return Config{
		Language:        "en",
		VADThreshold:    0.015,
		MinSpeechDur:    300 * time.Millisecond,
		MaxSpeechDur:    2 * time.Second,
		SilenceDur:      400 * time.Millisecond,
		TranscribeDelay: 300 * time.Millisecond,
		MaxBuffer:       30 * time.Second,
	}
}

type jobKind int

const (
	jobInterim jobKind = iota
	jobFinal
	jobEnd
)

type job struct {
	kind  jobKind
	audio []float32
	err   error
}

// Service is a Recognizer built from an AudioSource, a voice activity
// detector and an stt.Provider.
type Service struct {
	cfg      Config
	source   AudioSource
	provider stt.Provider

	mu      sync.Mutex
	vad     *VAD
	buffer  *AudioBuffer
	running bool
	session string
	ctx     context.Context
	cancel  context.CancelFunc
	jobs    chan job
	events  chan Event

	watch  sync.WaitGroup
	worker sync.WaitGroup
}

// NewService creates a stopped recogniser.
func NewService(cfg Config, source AudioSource, provider stt.Provider) *Service {
	def := DefaultConfig()
	if cfg.VADThreshold == 0 {
		cfg.VADThreshold = def.VADThreshold
	}
	if cfg.MinSpeechDur == 0 {
		cfg.MinSpeechDur = def.MinSpeechDur
	}
	if cfg.MaxSpeechDur == 0 {
		cfg.MaxSpeechDur = def.MaxSpeechDur
	}
	if cfg.SilenceDur == 0 {
		cfg.SilenceDur = def.SilenceDur
	}
	if cfg.TranscribeDelay == 0 {
		cfg.TranscribeDelay = def.TranscribeDelay
	}
	if cfg.MaxBuffer == 0 {
		cfg.MaxBuffer = def.MaxBuffer
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}

	return &Service{
		cfg:      cfg,
		source:   source,
		provider: provider,
		vad: NewVAD(
			cfg.VADThreshold,
			cfg.MinSpeechDur,
			cfg.MaxSpeechDur,
			cfg.SilenceDur,
			cfg.TranscribeDelay,
		),
		buffer: NewAudioBuffer(source.SampleRate(), cfg.MaxBuffer),
		events: closedEvents(),
	}
}

// Start begins recognition. It returns once audio is flowing.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	if s.provider == nil || !s.provider.IsReady() {
		s.mu.Unlock()
		return fmt.Errorf("start recognizer: %w", stt.ErrNotReady)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.session = uuid.NewString()
	s.vad.Reset()
	s.buffer.Clear()
	s.jobs = make(chan job, 8)
	s.events = make(chan Event, 16)
	s.running = true
	session := s.session
	s.mu.Unlock()

	s.worker.Add(1)
	go s.transcribeLoop(s.ctx, s.jobs, s.events, session)

	if err := s.source.Start(s.handleAudio); err != nil {
		_ = s.Stop()
		return fmt.Errorf("start audio source: %w", err)
	}

	s.watch.Add(1)
	go s.watchSource()

	slog.Info("speech recognition started", "session", session, "provider", s.provider.Name())
	return nil
}

// Stop ends recognition and closes the current Events channel. Stopping a
// stopped recogniser does nothing.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	session := s.session
	s.mu.Unlock()

	if err := s.source.Stop(); err != nil {
		slog.Error("stop audio source", "error", err)
	}
	s.watch.Wait()

	close(s.jobs)
	s.worker.Wait()
	close(s.events)

	slog.Info("speech recognition stopped", "session", session)
	return nil
}

// Events returns the current session's event channel.
func (s *Service) Events() <-chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// Session returns the id of the current or last session.
func (s *Service) Session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// IsRunning reports whether a session is active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Service) handleAudio(samples []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}

	wasInSpeech := s.vad.InSpeech()
	result := s.vad.Process(samples, s.cfg.Clock.Now())
	if wasInSpeech || s.vad.InSpeech() {
		s.buffer.Append(samples)
	}
	if !result.Transcribe {
		return
	}

	switch result.Type {
	case EventSpeechEnd:
		s.enqueue(job{kind: jobFinal, audio: s.buffer.Extract()})
	case EventSpeechMaxDuration:
		s.enqueue(job{kind: jobInterim, audio: s.buffer.Snapshot()})
	}
}

// watchSource turns the end of the audio stream into an end event.
func (s *Service) watchSource() {
	defer s.watch.Done()
	err := s.source.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if s.vad.InSpeech() && s.buffer.Len() > 0 {
		s.enqueue(job{kind: jobFinal, audio: s.buffer.Extract()})
	}
	s.vad.Reset()
	s.enqueue(job{kind: jobEnd, err: err})
}

// enqueue must be called with s.mu held while running.
func (s *Service) enqueue(j job) {
	if j.kind != jobEnd && len(j.audio) == 0 {
		return
	}
	select {
	case s.jobs <- j:
	default:
		slog.Warn("transcription queue full, dropping audio", "kind", j.kind, "samples", len(j.audio))
	}
}

func (s *Service) transcribeLoop(ctx context.Context, jobs <-chan job, events chan<- Event, session string) {
	defer s.worker.Done()

	for j := range jobs {
		if j.kind == jobEnd {
			send(events, Event{Kind: KindEnd, Session: session, Err: j.err})
			continue
		}

		start := time.Now()
		res, err := s.provider.Transcribe(ctx, j.audio, s.cfg.Language)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				continue
			}
			slog.Error("transcription failed", "error", err)
			send(events, Event{Kind: KindError, Session: session, Err: err})
			continue
		}

		text := strings.TrimSpace(res.Text)
		if text == "" {
			continue
		}
		kind := KindInterim
		if j.kind == jobFinal {
			kind = KindFinal
		}
		slog.Debug("transcript", "kind", kind, "text", text, "took", time.Since(start))
		send(events, Event{Kind: kind, Text: text, Session: session})
	}
}

// send delivers ev without blocking.
func send(events chan<- Event, ev Event) {
	select {
	case events <- ev:
	default:
		slog.Warn("speech event channel full", "kind", ev.Kind)
	}
}

func closedEvents() chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}
