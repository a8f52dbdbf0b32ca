// Package pointer implements the mouse/pen modality: strokes with the
// selected tool, a laser pointer, and double-tap page navigation.
package pointer

import (
	"fmt"
	"log/slog"
	"time"

	"go.aimuz.me/slidemark/internal/state"
	"go.aimuz.me/slidemark/internal/types"
)

// Sink receives the side effects of pointer input.
type Sink interface {
	NextPage()
	PrevPage()
	Announce(msg string)
	ShowPointer(p types.Point)
	HidePointer()
	PaintSegment(from, to types.Point)
	FinishStroke()
}

// Kind is a pointer event type.
type Kind int

const (
	Down Kind = iota
	Move
	Up
	Leave
)

func (k Kind) String() string {
	switch k {
	case Down:
		return "down"
	case Move:
		return "move"
	case Up:
		return "up"
	case Leave:
		return "leave"
	default:
		return "unknown"
	}
}

// Event is one pointer event in overlay coordinates.
type Event struct {
	Kind  Kind
	Point types.Point
	At    time.Time
}

// Config holds pointer timings.
type Config struct {
	// DoubleTap is the longest gap between two downs that counts as a
	// double tap.
	DoubleTap time.Duration
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{DoubleTap: 300 * time.Millisecond}
}

// Handler turns pointer events into strokes, laser updates and navigation.
// It is not safe for concurrent use.
type Handler struct {
	cfg  Config
	st   *state.State
	sink Sink

	width   float64
	lastTap time.Time
	laserOn bool
}

// NewHandler creates a handler that mutates st and reports to sink.
func NewHandler(cfg Config, st *state.State, sink Sink) *Handler {
	if cfg.DoubleTap <= 0 {
		cfg.DoubleTap = DefaultConfig().DoubleTap
	}
	return &Handler{cfg: cfg, st: st, sink: sink}
}

// SetWidth sets the overlay width used to split double taps into halves.
func (h *Handler) SetWidth(width int) {
	h.width = float64(width)
}

// SetTool selects the tool used by later strokes. DrawNone is rejected.
func (h *Handler) SetTool(tool types.DrawMode) error {
	if tool == types.DrawNone {
		return fmt.Errorf("invalid pointer tool: %s", tool)
	}
	if tool == h.st.Tool {
		return nil
	}
	h.endStroke()
	h.hidePointer()
	h.st.Tool = tool
	slog.Debug("pointer tool", "tool", tool)
	return nil
}

// Dispatch routes ev to the matching handler method.
func (h *Handler) Dispatch(ev Event) {
	switch ev.Kind {
	case Down:
		h.Down(ev.Point, ev.At)
	case Move:
		h.Move(ev.Point)
	case Up:
		h.Up()
	case Leave:
		h.Leave()
	}
}

// Down handles a press at p. A second press within the double-tap window
// navigates instead of drawing.
func (h *Handler) Down(p types.Point, at time.Time) {
	if !h.lastTap.IsZero() && at.Sub(h.lastTap) < h.cfg.DoubleTap {
		h.lastTap = time.Time{}
		h.endStroke()
		if p.X < h.width/2 {
			h.sink.PrevPage()
			h.sink.Announce("Previous")
		} else {
			h.sink.NextPage()
			h.sink.Announce("Next")
		}
		return
	}
	h.lastTap = at

	if h.st.Tool == types.DrawLaser {
		h.showPointer(p)
		return
	}
	h.st.BeginStroke(p)
}

// Move handles motion to p.
func (h *Handler) Move(p types.Point) {
	if h.st.Tool == types.DrawLaser {
		h.showPointer(p)
		return
	}
	if !h.st.StrokeInProgress {
		return
	}
	h.sink.PaintSegment(h.st.Cursor, p)
	h.st.MoveCursor(p)
}

// Up handles a release.
func (h *Handler) Up() {
	h.endStroke()
	h.hidePointer()
}

// Leave handles the pointer leaving the overlay.
func (h *Handler) Leave() {
	h.endStroke()
	h.hidePointer()
}

// Reset ends any stroke, hides the laser and forgets the last tap.
func (h *Handler) Reset() {
	h.lastTap = time.Time{}
	h.endStroke()
	h.hidePointer()
}

func (h *Handler) showPointer(p types.Point) {
	h.laserOn = true
	h.sink.ShowPointer(p)
}

func (h *Handler) hidePointer() {
	if h.laserOn {
		h.laserOn = false
		h.sink.HidePointer()
	}
}

func (h *Handler) endStroke() {
	if h.st.ResetStroke() {
		h.sink.FinishStroke()
	}
}
