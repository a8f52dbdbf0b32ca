package app

import (
	"context"
	"errors"
	"log/slog"

	"go.aimuz.me/slidemark/internal/types"
	"go.aimuz.me/slidemark/speech"
	"go.aimuz.me/slidemark/tracker"
)

// Sensor sessions. A session belongs to one generation; bumping s.gen on
// teardown makes everything the old session still has in flight stale.

// startSession brings up the sensor for m in the background. The loop
// hears back through sessionStarted.
func (s *Service) startSession(m types.Modality, gen uint64) {
	var start func(ctx context.Context) error
	switch m {
	case types.ModalityGesture:
		if s.tracker == nil {
			s.notice("error", "Hand tracking is not available")
			return
		}
		start = s.tracker.Start
	case types.ModalityVoice:
		if s.recognizer == nil {
			s.notice("error", "Speech recognition is not available")
			return
		}
		start = s.recognizer.Start
	default:
		s.active = true
		return
	}

	s.starting = true
	if s.inflight[m] {
		// An earlier start of the same sensor is still running; its result
		// is adopted by this generation.
		slog.Debug("await in-flight start", "modality", m, "gen", gen)
		return
	}
	s.inflight[m] = true
	slog.Info("start session", "modality", m, "gen", gen)
	ctx := s.ctx
	go func() {
		err := start(ctx)
		s.post(func() { s.sessionStarted(m, gen, err) })
	}()
}

func (s *Service) sessionStarted(m types.Modality, gen uint64, err error) {
	s.inflight[m] = false
	if gen != s.gen {
		if !s.starting || s.st.Modality != m {
			// The modality changed while the sensor was starting.
			if err == nil {
				slog.Debug("stop stale session", "modality", m, "gen", gen)
				s.stopSensor(m)
			}
			return
		}
		gen = s.gen
	}
	s.starting = false

	if err != nil {
		slog.Error("start session", "modality", m, "error", err)
		if isPermissionDenied(err) {
			s.permissionDenied(m)
			return
		}
		s.notice("error", "Could not start "+m.String()+" input: "+err.Error())
		return
	}

	s.active = true
	slog.Info("session started", "modality", m, "gen", gen)
	switch m {
	case types.ModalityGesture:
		go s.forwardTracker(gen, s.tracker.Results(), s.tracker.Errors())
	case types.ModalityVoice:
		go s.forwardSpeech(gen, s.recognizer.Events())
	}
}

// forwardTracker posts hand results without blocking; when the loop is
// behind, frames are dropped rather than queued.
func (s *Service) forwardTracker(gen uint64, results <-chan tracker.Result, errs <-chan error) {
	for results != nil || errs != nil {
		select {
		case r, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			if !s.tryPost(func() { s.handleHands(gen, r) }) {
				s.droppedFrames.Add(1)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.post(func() { s.sessionFailed(types.ModalityGesture, gen, err) })
		}
	}
}

func (s *Service) forwardSpeech(gen uint64, events <-chan speech.Event) {
	for ev := range events {
		s.post(func() { s.handleSpeech(gen, ev) })
	}
}

// sessionFailed handles a sensor failure after startup.
func (s *Service) sessionFailed(m types.Modality, gen uint64, err error) {
	if gen != s.gen || s.st.Modality != m {
		return
	}
	slog.Error("session failed", "modality", m, "error", err)
	if isPermissionDenied(err) {
		s.permissionDenied(m)
		return
	}
	s.teardown()
	s.notice("error", m.String()+" input stopped: "+err.Error())
}

// permissionDenied falls back to the pointer.
func (s *Service) permissionDenied(m types.Modality) {
	device := "Camera"
	if m == types.ModalityVoice {
		device = "Microphone"
	}
	s.notice("warn", device+" permission denied, switching to pointer")
	s.setModality(types.ModalityPointer)
}

// teardown stops the current session and resets every interpreter.
func (s *Service) teardown() {
	s.gen++
	if s.startTimer != nil {
		s.startTimer.Stop()
		s.startTimer = nil
	}
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	if s.active {
		s.stopSensor(s.st.Modality)
	}
	s.active = false
	s.starting = false

	s.arbiter.Reset()
	s.interp.Reset()
	s.ptr.Reset()
	s.hidePointer()
	s.st.ResetStroke()
	if s.st.DrawMode != types.DrawNone {
		s.st.DrawMode = types.DrawNone
		s.emit(EventDrawMode, types.DrawNone.String())
	}
}

func (s *Service) stopSensor(m types.Modality) {
	var err error
	switch m {
	case types.ModalityGesture:
		err = s.tracker.Stop()
	case types.ModalityVoice:
		err = s.recognizer.Stop()
	}
	if err != nil {
		slog.Error("stop session", "modality", m, "error", err)
	}
}

func isPermissionDenied(err error) bool {
	return errors.Is(err, tracker.ErrPermissionDenied) || errors.Is(err, speech.ErrPermissionDenied)
}
