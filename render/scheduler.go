// Package render debounces page render requests and keeps at most one
// render job in flight.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

// State is the scheduler's lifecycle state.
type State int

const (
	StateIdle State = iota
	StatePending
	StateRendering
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRendering:
		return "rendering"
	default:
		return "idle"
	}
}

// Source produces page rasters. document.Document implements it.
type Source interface {
	PageSize(page int) (w, h float64, err error)
	Render(ctx context.Context, page int, scale float64) (image.Image, error)
}

// Layer is a surface that follows the page size.
type Layer interface {
	Resize(width, height int)
}

// Base is the layer rendered pages are drawn on.
type Base interface {
	Layer
	DrawImage(img image.Image)
}

// Result describes a completed render.
type Result struct {
	JobID   string
	Page    int
	Scale   float64
	Width   int
	Height  int
	Elapsed time.Duration
}

// Config configures a Scheduler.
type Config struct {
	Debounce       time.Duration
	ResizeDebounce time.Duration

	// Clock defaults to the real clock.
	Clock clock.WithDelayedExecution
	// Post runs f on the owner's goroutine. Timer callbacks and job
	// completions go through it. It defaults to calling f directly, which
	// is only valid with the real clock.
	Post func(f func())

	OnRendered func(Result)
	OnError    func(page int, err error)
}

// DefaultConfig returns the stock debounce windows.
func DefaultConfig() Config {
	return Config{
		Debounce:       80 * time.Millisecond,
		ResizeDebounce: 100 * time.Millisecond,
	}
}

type job struct {
	id      string
	page    int
	scale   float64
	started time.Time
	cancel  context.CancelFunc
}

// Scheduler coalesces render requests. Its methods must be called from the
// goroutine Post delivers to.
type Scheduler struct {
	cfg     Config
	clock   clock.WithDelayedExecution
	src     Source
	base    Base
	overlay Layer

	state       State
	page        int
	containerW  int
	containerH  int
	seq         uint64
	timer       clock.Timer
	resizeSeq   uint64
	resizeTimer clock.Timer
	job         *job
}

// New creates a scheduler drawing onto base and resizing overlay alongside it.
func New(cfg Config, base Base, overlay Layer) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Post == nil {
		cfg.Post = func(f func()) { f() }
	}
	return &Scheduler{
		cfg:     cfg,
		clock:   cfg.Clock,
		base:    base,
		overlay: overlay,
	}
}

// SetSource replaces the page source and drops all pending work.
func (s *Scheduler) SetSource(src Source) {
	s.Cancel()
	s.src = src
}

// SetContainer sets the area pages are fitted into.
func (s *Scheduler) SetContainer(width, height int) {
	s.containerW, s.containerH = width, height
}

// State returns the current state.
func (s *Scheduler) State() State {
	return s.state
}

// Page returns the most recently requested page.
func (s *Scheduler) Page() int {
	return s.page
}

// Request schedules page to render once requests stop arriving for the
// debounce window.
func (s *Scheduler) Request(page int) {
	s.page = page
	s.state = StatePending
	s.seq++
	if s.timer != nil {
		s.timer.Stop()
	}
	seq := s.seq
	s.timer = s.clock.AfterFunc(s.cfg.Debounce, func() {
		s.cfg.Post(func() { s.fire(seq) })
	})
}

// RequestResize records a new container size and re-renders the current
// page once resizing settles.
func (s *Scheduler) RequestResize(width, height int) {
	s.SetContainer(width, height)
	s.resizeSeq++
	if s.resizeTimer != nil {
		s.resizeTimer.Stop()
	}
	seq := s.resizeSeq
	s.resizeTimer = s.clock.AfterFunc(s.cfg.ResizeDebounce, func() {
		s.cfg.Post(func() {
			if seq != s.resizeSeq {
				return
			}
			s.resizeTimer = nil
			if s.page > 0 {
				s.Request(s.page)
			}
		})
	})
}

// Cancel drops any pending request and cancels the job in flight. It is
// safe to call repeatedly.
func (s *Scheduler) Cancel() {
	s.seq++
	s.resizeSeq++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.resizeTimer != nil {
		s.resizeTimer.Stop()
		s.resizeTimer = nil
	}
	if s.job != nil {
		slog.Debug("cancel render", "job", s.job.id, "page", s.job.page)
		s.job.cancel()
		s.job = nil
	}
	s.state = StateIdle
}

func (s *Scheduler) fire(seq uint64) {
	if seq != s.seq || s.state != StatePending {
		return
	}
	// The timer has already fired; it only needs forgetting.
	s.timer = nil

	if s.job != nil {
		slog.Debug("supersede render", "job", s.job.id, "page", s.job.page)
		s.job.cancel()
		s.job = nil
	}

	page := s.page
	if s.src == nil {
		s.state = StateIdle
		return
	}
	scale, w, h, err := s.fit(page)
	if err != nil {
		s.state = StateIdle
		s.fail(page, err)
		return
	}
	s.base.Resize(w, h)
	s.overlay.Resize(w, h)

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		id:      uuid.NewString(),
		page:    page,
		scale:   scale,
		started: s.clock.Now(),
		cancel:  cancel,
	}
	s.job = j
	s.state = StateRendering
	slog.Debug("render page", "job", j.id, "page", page, "scale", scale, "width", w, "height", h)

	src := s.src
	go func() {
		img, err := src.Render(ctx, j.page, j.scale)
		s.cfg.Post(func() { s.complete(j, img, err, w, h) })
	}()
}

// fit returns the scale that fits page into the container and the
// resulting pixel size.
func (s *Scheduler) fit(page int) (float64, int, int, error) {
	pw, ph, err := s.src.PageSize(page)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("page size: %w", err)
	}
	if pw <= 0 || ph <= 0 {
		return 0, 0, 0, fmt.Errorf("page %d has empty size %vx%v", page, pw, ph)
	}
	scale := 1.0
	if s.containerW > 0 && s.containerH > 0 {
		scale = math.Min(float64(s.containerW)/pw, float64(s.containerH)/ph)
	}
	w := max(int(math.Round(pw*scale)), 1)
	h := max(int(math.Round(ph*scale)), 1)
	return scale, w, h, nil
}

func (s *Scheduler) complete(j *job, img image.Image, err error, w, h int) {
	if s.job != j {
		slog.Debug("drop superseded render", "job", j.id, "page", j.page)
		return
	}
	s.job = nil
	j.cancel()
	if s.state == StateRendering {
		s.state = StateIdle
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Debug("render cancelled", "job", j.id, "page", j.page)
			return
		}
		s.fail(j.page, err)
		return
	}

	s.base.DrawImage(img)
	res := Result{
		JobID:   j.id,
		Page:    j.page,
		Scale:   j.scale,
		Width:   w,
		Height:  h,
		Elapsed: s.clock.Since(j.started),
	}
	slog.Debug("page rendered", "job", j.id, "page", j.page, "elapsed", res.Elapsed)
	if s.cfg.OnRendered != nil {
		s.cfg.OnRendered(res)
	}
}

func (s *Scheduler) fail(page int, err error) {
	slog.Warn("render failed", "page", page, "error", err)
	if s.cfg.OnError != nil {
		s.cfg.OnError(page, err)
	}
}
