package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"go.aimuz.me/slidemark/annotate"
	"go.aimuz.me/slidemark/config"
	"go.aimuz.me/slidemark/document"
	"go.aimuz.me/slidemark/gesture"
	"go.aimuz.me/slidemark/internal/state"
	"go.aimuz.me/slidemark/internal/types"
	"go.aimuz.me/slidemark/pointer"
	"go.aimuz.me/slidemark/render"
	"go.aimuz.me/slidemark/speech"
	"go.aimuz.me/slidemark/tracker"
	"go.aimuz.me/slidemark/voice"
	"k8s.io/utils/clock"
)

// ErrStopped is returned by calls made after Run has returned.
var ErrStopped = errors.New("app: stopped")

// eventQueue is the depth of the loop's event channel.
const eventQueue = 256

// Overlay is the annotation layer: a drawing surface that follows the page size.
type Overlay interface {
	annotate.Surface
	Resize(width, height int)
}

// Deps are the collaborators of a Service. Tracker, Recognizer and Pointer
// may be nil; the matching modality then reports itself unavailable.
type Deps struct {
	Base       render.Base
	Overlay    Overlay
	Tracker    tracker.Tracker
	Recognizer speech.Recognizer
	Pointer    pointer.Source
	// Clock defaults to the real clock.
	Clock    clock.WithDelayedExecution
	Listener Listener
}

// Service coordinates the input modalities, annotation and page rendering.
// All state is owned by the goroutine running Run; producers only post.
type Service struct {
	cfg      *config.Config
	st       *state.State
	clock    clock.WithDelayedExecution
	listener Listener

	overlay Overlay
	engine  *annotate.Engine
	sched   *render.Scheduler
	arbiter *gesture.Arbiter
	interp  *voice.Interpreter
	ptr     *pointer.Handler

	tracker    tracker.Tracker
	recognizer speech.Recognizer
	pointerSrc pointer.Source

	events chan func()
	quit   chan struct{}
	ctx    context.Context

	// Session bookkeeping
	gen          uint64
	active       bool
	starting     bool
	inflight     map[types.Modality]bool
	startTimer   clock.Timer
	restartTimer clock.Timer
	pointerShown bool

	droppedFrames atomic.Uint64
}

// New creates a coordinator. Call Run to start it.
func New(cfg *config.Config, deps Deps) (*Service, error) {
	if deps.Base == nil || deps.Overlay == nil {
		return nil, errors.New("app: base and overlay layers are required")
	}
	modality, ok := types.ParseModality(cfg.Modality)
	if !ok {
		return nil, fmt.Errorf("invalid modality: %q", cfg.Modality)
	}
	tool, ok := types.ParseDrawMode(cfg.Pointer.Tool)
	if !ok || tool == types.DrawNone {
		return nil, fmt.Errorf("invalid pointer tool: %q", cfg.Pointer.Tool)
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}

	s := &Service{
		cfg:        cfg,
		st:         state.New(),
		clock:      deps.Clock,
		listener:   deps.Listener,
		overlay:    deps.Overlay,
		engine:     annotate.New(deps.Overlay),
		tracker:    deps.Tracker,
		recognizer: deps.Recognizer,
		pointerSrc: deps.Pointer,
		events:     make(chan func(), eventQueue),
		quit:       make(chan struct{}),
		ctx:        context.Background(),
		inflight:   make(map[types.Modality]bool),
	}
	s.st.Modality = modality
	s.st.Tool = tool

	s.arbiter = gesture.NewArbiter(gesture.Config{
		Stability:    cfg.Gesture.Stability.Duration,
		NavCooldown:  cfg.Gesture.NavCooldown.Duration,
		DrawInterval: cfg.Gesture.DrawInterval.Duration,
		Thresholds: gesture.Thresholds{
			SwipeOffset:   cfg.Gesture.SwipeOffset,
			PinchDistance: cfg.Gesture.PinchDistance,
		},
	}, s.st, gestureSink{s})
	s.interp = voice.NewInterpreter(voice.Config{
		DedupWindow:  cfg.Voice.DedupWindow.Duration,
		InterimEvery: cfg.Voice.InterimEvery.Duration,
	}, s.st, voiceSink{s})
	s.ptr = pointer.NewHandler(pointer.Config{
		DoubleTap: cfg.Pointer.DoubleTap.Duration,
	}, s.st, pointerSink{s})

	s.sched = render.New(render.Config{
		Debounce:       cfg.Render.Debounce.Duration,
		ResizeDebounce: cfg.Render.ResizeDebounce.Duration,
		Clock:          s.clock,
		Post:           s.post,
		OnRendered:     s.pageRendered,
		OnError:        s.renderFailed,
	}, deps.Base, overlayLayer{s})
	s.sched.SetContainer(cfg.Display.Width, cfg.Display.Height)
	s.viewport(deps.Overlay.Size())

	return s, nil
}

// Run drives the event loop until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	s.ctx = ctx
	defer close(s.quit)

	if s.pointerSrc != nil {
		ch, err := s.pointerSrc.Start()
		if err != nil {
			slog.Error("start pointer source", "error", err)
		} else {
			go s.forwardPointer(ch)
		}
	}

	slog.Info("presentation started", "modality", s.st.Modality)
	s.emit(EventModalityChanged, s.st.Modality.String())
	s.startSession(s.st.Modality, s.gen)

	for {
		select {
		case f := <-s.events:
			f()
		case <-ctx.Done():
			s.shutdown()
			return nil
		}
	}
}

func (s *Service) shutdown() {
	s.teardown()
	s.sched.Cancel()
	if s.pointerSrc != nil {
		s.pointerSrc.Stop()
	}
	slog.Info("presentation stopped", "dropped_frames", s.droppedFrames.Load())
}

// post queues f for the loop, blocking until it is accepted or Run has
// returned.
func (s *Service) post(f func()) {
	select {
	case s.events <- f:
	case <-s.quit:
	}
}

// tryPost queues f unless the loop is behind.
func (s *Service) tryPost(f func()) bool {
	select {
	case s.events <- f:
		return true
	default:
		return false
	}
}

// call runs f on the loop and waits for it.
func (s *Service) call(f func()) error {
	done := make(chan struct{})
	select {
	case s.events <- func() { f(); close(done) }:
	case <-s.quit:
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-s.quit:
		return ErrStopped
	}
}

// emit is a safe wrapper around the listener.
func (s *Service) emit(name string, data any) {
	if s.listener != nil {
		s.listener(name, data)
	}
}

func (s *Service) notice(level, text string) {
	switch level {
	case "error":
		slog.Error("notice", "text", text)
	case "warn":
		slog.Warn("notice", "text", text)
	default:
		slog.Info("notice", "text", text)
	}
	s.emit(EventNotice, types.Notice{Text: text, Level: level})
}

func (s *Service) announce(msg string) {
	if msg == "" {
		return
	}
	s.emit(EventAnnounce, msg)
}

// ─────────────────────────────────────────────────────────────────────────────
// Public API
// ─────────────────────────────────────────────────────────────────────────────

// SetModality switches the active input modality.
func (s *Service) SetModality(m types.Modality) error {
	return s.call(func() { s.setModality(m) })
}

// SetTool selects the pointer tool.
func (s *Service) SetTool(tool types.DrawMode) error {
	var err error
	if cerr := s.call(func() { err = s.ptr.SetTool(tool) }); cerr != nil {
		return cerr
	}
	return err
}

// NextPage advances one page.
func (s *Service) NextPage() error { return s.call(s.nextPage) }

// PrevPage goes back one page.
func (s *Service) PrevPage() error { return s.call(s.prevPage) }

// LastPage jumps to the final page.
func (s *Service) LastPage() error { return s.call(s.lastPage) }

// GotoPage jumps to page n. Out-of-range pages are ignored.
func (s *Service) GotoPage(n int) error {
	return s.call(func() { s.gotoPage(n) })
}

// ClearAnnotations wipes the overlay.
func (s *Service) ClearAnnotations() error { return s.call(s.clearAnnotations) }

// LoadDocument shows doc from its first page.
func (s *Service) LoadDocument(doc document.Document) error {
	var err error
	if cerr := s.call(func() { err = s.loadDocument(doc) }); cerr != nil {
		return cerr
	}
	return err
}

// Resize sets the container size; the page re-renders once resizing settles.
func (s *Service) Resize(width, height int) error {
	return s.call(func() { s.sched.RequestResize(width, height) })
}

// PointerEvent feeds a pointer event from the shell.
func (s *Service) PointerEvent(ev pointer.Event) error {
	return s.call(func() { s.handlePointer(ev) })
}

// Status returns a snapshot of the presentation.
func (s *Service) Status() (types.Status, error) {
	var st types.Status
	err := s.call(func() {
		st = s.st.Snapshot()
		st.SessionActive = s.active
		st.Dictating = s.interp.Dictating()
		st.RenderState = s.sched.State().String()
	})
	return st, err
}

// ─────────────────────────────────────────────────────────────────────────────
// Loop-side operations
// ─────────────────────────────────────────────────────────────────────────────

func (s *Service) setModality(m types.Modality) {
	if m == s.st.Modality {
		return
	}
	prev := s.st.Modality
	s.teardown()
	s.st.Modality = m
	slog.Info("modality changed", "from", prev, "to", m)
	s.emit(EventModalityChanged, m.String())

	gen := s.gen
	s.startTimer = s.clock.AfterFunc(s.cfg.Display.ModalityStartDelay.Duration, func() {
		s.post(func() {
			if gen != s.gen {
				return
			}
			s.startTimer = nil
			s.startSession(m, gen)
		})
	})
}

func (s *Service) loadDocument(doc document.Document) error {
	n := doc.NumPages()
	if n < 1 {
		return fmt.Errorf("load document: %w", document.ErrPageRange)
	}
	s.sched.SetSource(doc)
	s.engine.Clear()
	s.st.SetDocument(n)
	slog.Info("document loaded", "pages", n)
	s.pageChanged()
	return nil
}

func (s *Service) nextPage() {
	if s.st.NextPage() {
		s.pageChanged()
	}
}

func (s *Service) prevPage() {
	if s.st.PrevPage() {
		s.pageChanged()
	}
}

func (s *Service) lastPage() {
	if s.st.LastPage() {
		s.pageChanged()
	}
}

func (s *Service) gotoPage(n int) {
	if s.st.SetPage(n) {
		s.pageChanged()
	}
}

func (s *Service) pageChanged() {
	s.emit(EventPageChanged, PageChanged{Page: s.st.Page, PageCount: s.st.PageCount})
	s.sched.Request(s.st.Page)
}

func (s *Service) clearAnnotations() {
	s.engine.Clear()
	slog.Debug("annotations cleared")
}

func (s *Service) pageRendered(r render.Result) {
	s.emit(EventPageRendered, PageRendered{
		JobID:     r.JobID,
		Page:      r.Page,
		Scale:     r.Scale,
		Width:     r.Width,
		Height:    r.Height,
		ElapsedMS: r.Elapsed.Milliseconds(),
	})
}

func (s *Service) renderFailed(page int, err error) {
	s.emit(EventRenderError, RenderError{Page: page, Error: err.Error()})
	s.notice("error", fmt.Sprintf("Could not render page %d", page))
}

// viewport propagates the overlay size to everything that maps input
// coordinates onto it.
func (s *Service) viewport(width, height int) {
	s.arbiter.SetViewport(width, height)
	s.ptr.SetWidth(width)
	if b, ok := s.pointerSrc.(interface{ SetBounds(w, h int) }); ok {
		b.SetBounds(width, height)
	}
}

func (s *Service) showPointer(p types.Point) {
	s.pointerShown = true
	s.emit(EventPointer, types.PointerIndicator{Visible: true, X: p.X, Y: p.Y})
}

func (s *Service) hidePointer() {
	if !s.pointerShown {
		return
	}
	s.pointerShown = false
	s.emit(EventPointer, types.PointerIndicator{})
}

func (s *Service) paint(from, to types.Point, mode types.DrawMode) {
	s.engine.PaintSegment(from, to, annotate.Context{Modality: s.st.Modality, Mode: mode})
}

// ─────────────────────────────────────────────────────────────────────────────
// Modality input
// ─────────────────────────────────────────────────────────────────────────────

func (s *Service) forwardPointer(ch <-chan pointer.Event) {
	for ev := range ch {
		if ev.Kind == pointer.Move {
			s.tryPost(func() { s.handlePointer(ev) })
			continue
		}
		s.post(func() { s.handlePointer(ev) })
	}
}

func (s *Service) handlePointer(ev pointer.Event) {
	if s.st.Modality != types.ModalityPointer {
		return
	}
	if ev.At.IsZero() {
		ev.At = s.clock.Now()
	}
	s.ptr.Dispatch(ev)
}

func (s *Service) handleHands(gen uint64, r tracker.Result) {
	if gen != s.gen || s.st.Modality != types.ModalityGesture {
		return
	}
	at := r.Timestamp
	if at.IsZero() {
		at = s.clock.Now()
	}
	s.arbiter.Process(gesture.Frame{Hands: r.Hands, Timestamp: at})
}

func (s *Service) handleSpeech(gen uint64, ev speech.Event) {
	if gen != s.gen || s.st.Modality != types.ModalityVoice {
		return
	}
	now := s.clock.Now()
	switch ev.Kind {
	case speech.KindInterim:
		s.interp.HandleInterim(ev.Text, now)
	case speech.KindFinal:
		s.interp.HandleFinal(ev.Text, now)
	case speech.KindError:
		if isPermissionDenied(ev.Err) {
			s.permissionDenied(types.ModalityVoice)
			return
		}
		slog.Warn("speech error", "session", ev.Session, "error", ev.Err)
	case speech.KindEnd:
		if isPermissionDenied(ev.Err) {
			s.permissionDenied(types.ModalityVoice)
			return
		}
		s.restartVoice()
	}
}

// restartVoice brings the recogniser back after it ends on its own.
func (s *Service) restartVoice() {
	slog.Debug("speech session ended, restarting", "delay", s.cfg.Voice.RestartDelay.Duration)
	s.gen++
	s.stopSensor(types.ModalityVoice)
	s.active = false

	gen := s.gen
	s.restartTimer = s.clock.AfterFunc(s.cfg.Voice.RestartDelay.Duration, func() {
		s.post(func() {
			if gen != s.gen || s.st.Modality != types.ModalityVoice {
				return
			}
			s.restartTimer = nil
			s.startSession(types.ModalityVoice, gen)
		})
	})
}

// overlayLayer resizes the overlay for the scheduler and keeps input
// mapping in step with it.
type overlayLayer struct{ s *Service }

func (o overlayLayer) Resize(width, height int) {
	o.s.overlay.Resize(width, height)
	o.s.viewport(width, height)
}
