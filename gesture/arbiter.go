package gesture

import (
	"log/slog"
	"time"

	"go.aimuz.me/slidemark/internal/state"
	"go.aimuz.me/slidemark/internal/types"
)

// Sink receives the side effects of gesture arbitration.
// Embed NopSink to implement only the methods you need.
type Sink interface {
	NextPage()
	PrevPage()
	Announce(msg string)
	ModeChanged(mode types.DrawMode)
	ShowPointer(p types.Point)
	HidePointer()
	PaintSegment(from, to types.Point)
	FinishStroke()
}

// NopSink ignores every side effect.
type NopSink struct{}

func (NopSink) NextPage()                     {}
func (NopSink) PrevPage()                     {}
func (NopSink) Announce(string)               {}
func (NopSink) ModeChanged(types.DrawMode)    {}
func (NopSink) ShowPointer(types.Point)       {}
func (NopSink) HidePointer()                  {}
func (NopSink) PaintSegment(_, _ types.Point) {}
func (NopSink) FinishStroke()                 {}

// Config holds arbiter timings and classifier thresholds.
type Config struct {
	// Stability is how long a symbol must stay the candidate before it
	// selects a mode.
	Stability time.Duration
	// NavCooldown is the minimum gap between accepted swipes.
	NavCooldown time.Duration
	// DrawInterval throttles stroke segments.
	DrawInterval time.Duration
	Thresholds   Thresholds
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		Stability:    300 * time.Millisecond,
		NavCooldown:  800 * time.Millisecond,
		DrawInterval: 16 * time.Millisecond,
		Thresholds:   DefaultThresholds(),
	}
}

// Frame is one tracker result: the detected hands and when they were seen.
type Frame struct {
	Hands     []types.Hand
	Timestamp time.Time
}

// Arbiter filters per-frame gesture symbols into draw-mode transitions,
// navigation and strokes. It is not safe for concurrent use.
type Arbiter struct {
	cfg  Config
	st   *state.State
	sink Sink

	// Overlay size used to project normalised landmarks.
	width, height float64

	// Stability candidate
	hasCandidate   bool
	candidate      Symbol
	candidateSince time.Time

	lastNav      time.Time
	lastDraw     time.Time
	pointerShown bool
}

// NewArbiter creates an arbiter that mutates st and reports to sink.
func NewArbiter(cfg Config, st *state.State, sink Sink) *Arbiter {
	if sink == nil {
		sink = NopSink{}
	}
	return &Arbiter{cfg: cfg, st: st, sink: sink}
}

// SetViewport sets the overlay size in pixels.
func (a *Arbiter) SetViewport(width, height int) {
	a.width = float64(width)
	a.height = float64(height)
}

// Process handles one frame and returns the classified symbol.
func (a *Arbiter) Process(f Frame) Symbol {
	if len(f.Hands) == 0 || len(f.Hands[0]) < NumLandmark {
		a.hidePointer()
		a.endStroke()
		return None
	}

	sym := Classify(f.Hands, a.cfg.Thresholds)
	at := f.Timestamp

	// Open palm stops everything at once, bypassing the stability filter.
	if sym == Open && a.st.DrawMode != types.DrawNone {
		a.setMode(types.DrawNone)
		a.hidePointer()
		a.clearCandidate()
		a.endStroke()
		a.sink.Announce("Stopped")
		return sym
	}

	if a.st.DrawMode == types.DrawNone {
		a.navigate(sym, at)
		a.selectMode(sym, at)
	}

	tip := a.project(f.Hands[0][IndexTip])
	switch a.st.DrawMode {
	case types.DrawLaser:
		a.pointerShown = true
		a.sink.ShowPointer(tip)
	case types.DrawPen, types.DrawHighlight, types.DrawErase:
		a.hidePointer()
		a.stroke(sym, tip, at)
	default:
		a.hidePointer()
	}
	return sym
}

// Reset drops the candidate, cooldown and any stroke in progress.
func (a *Arbiter) Reset() {
	a.clearCandidate()
	a.lastNav = time.Time{}
	a.lastDraw = time.Time{}
	a.hidePointer()
	a.endStroke()
}

func (a *Arbiter) navigate(sym Symbol, at time.Time) {
	if sym != Left && sym != Right {
		return
	}
	if !a.lastNav.IsZero() && at.Sub(a.lastNav) < a.cfg.NavCooldown {
		return
	}
	a.lastNav = at
	if sym == Right {
		a.sink.NextPage()
	} else {
		a.sink.PrevPage()
	}
}

func (a *Arbiter) selectMode(sym Symbol, at time.Time) {
	if !a.hasCandidate || sym != a.candidate {
		a.hasCandidate = true
		a.candidate = sym
		a.candidateSince = at
		return
	}
	if at.Sub(a.candidateSince) < a.cfg.Stability {
		return
	}

	a.clearCandidate()
	mode, ok := modeFor(sym)
	if !ok {
		return
	}
	a.setMode(mode)
	a.sink.Announce(announcement(mode))
	slog.Debug("gesture mode selected", "symbol", sym, "mode", mode)
}

func (a *Arbiter) stroke(sym Symbol, p types.Point, at time.Time) {
	if sym != symbolFor(a.st.DrawMode) {
		a.endStroke()
		return
	}
	if !a.st.StrokeInProgress {
		a.st.BeginStroke(p)
		a.lastDraw = at
		return
	}
	if at.Sub(a.lastDraw) < a.cfg.DrawInterval {
		return
	}
	a.sink.PaintSegment(a.st.Cursor, p)
	a.st.MoveCursor(p)
	a.lastDraw = at
}

func (a *Arbiter) setMode(mode types.DrawMode) {
	if a.st.DrawMode == mode {
		return
	}
	a.st.DrawMode = mode
	a.sink.ModeChanged(mode)
}

func (a *Arbiter) endStroke() {
	if a.st.ResetStroke() {
		a.sink.FinishStroke()
	}
}

func (a *Arbiter) hidePointer() {
	if a.pointerShown {
		a.pointerShown = false
		a.sink.HidePointer()
	}
}

func (a *Arbiter) clearCandidate() {
	a.hasCandidate = false
	a.candidate = None
	a.candidateSince = time.Time{}
}

// project maps a landmark to overlay pixels. The camera image is mirrored
// relative to the document, so x is flipped.
func (a *Arbiter) project(lm types.Landmark) types.Point {
	return types.Point{
		X: (1 - lm.X) * a.width,
		Y: lm.Y * a.height,
	}
}

func modeFor(sym Symbol) (types.DrawMode, bool) {
	switch sym {
	case Index:
		return types.DrawPen, true
	case Pinch:
		return types.DrawHighlight, true
	case Fist:
		return types.DrawErase, true
	case Two:
		return types.DrawLaser, true
	}
	return types.DrawNone, false
}

// symbolFor returns the gesture that selected mode and keeps the pen down.
func symbolFor(mode types.DrawMode) Symbol {
	switch mode {
	case types.DrawPen:
		return Index
	case types.DrawHighlight:
		return Pinch
	case types.DrawErase:
		return Fist
	case types.DrawLaser:
		return Two
	}
	return None
}

func announcement(mode types.DrawMode) string {
	switch mode {
	case types.DrawPen:
		return "Draw"
	case types.DrawHighlight:
		return "Highlight"
	case types.DrawErase:
		return "Erase"
	case types.DrawLaser:
		return "Laser"
	}
	return ""
}
