package pointer

import (
	"log/slog"
	"sync"
	"time"

	hook "github.com/robotn/gohook"
	"go.aimuz.me/slidemark/internal/types"
)

// leftButton is the gohook code of the primary mouse button.
const leftButton = 1

// Source delivers pointer events.
type Source interface {
	Start() (<-chan Event, error)
	Stop()
}

// Hook is a Source fed by global mouse events. Screen coordinates are
// translated by the overlay origin, and motion outside the overlay becomes
// a single Leave.
type Hook struct {
	mu            sync.Mutex
	originX       int
	originY       int
	width, height int
	inside        bool
	pressed       bool

	events  chan Event
	done    chan struct{}
	stopped sync.WaitGroup
	running bool
}

// NewHook creates a stopped hook for an overlay whose top-left corner is at
// (originX, originY) on screen.
func NewHook(originX, originY, width, height int) *Hook {
	return &Hook{
		originX: originX,
		originY: originY,
		width:   width,
		height:  height,
	}
}

// SetBounds updates the overlay size after a resize.
func (h *Hook) SetBounds(width, height int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.width, h.height = width, height
}

// Start installs the global hook.
func (h *Hook) Start() (<-chan Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return h.events, nil
	}

	raw := hook.Start()
	h.events = make(chan Event, 64)
	h.done = make(chan struct{})
	h.running = true
	h.inside = false
	h.pressed = false

	h.stopped.Add(1)
	go h.loop(raw, h.events, h.done)
	slog.Info("pointer hook started", "origin_x", h.originX, "origin_y", h.originY)
	return h.events, nil
}

func (h *Hook) loop(raw chan hook.Event, out chan<- Event, done <-chan struct{}) {
	defer h.stopped.Done()
	defer close(out)
	for {
		select {
		case <-done:
			return
		case ev, ok := <-raw:
			if !ok {
				return
			}
			pe, ok := h.translate(ev)
			if !ok {
				continue
			}
			select {
			case out <- pe:
			default:
				if pe.Kind == Move {
					slog.Debug("pointer queue full, dropping move")
					continue
				}
				select {
				case out <- pe:
				case <-done:
					return
				}
			}
		}
	}
}

// translate maps a gohook event onto a pointer event in overlay pixels.
func (h *Hook) translate(ev hook.Event) (Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p := types.Point{
		X: float64(int(ev.X) - h.originX),
		Y: float64(int(ev.Y) - h.originY),
	}
	at := ev.When
	if at.IsZero() {
		at = time.Now()
	}
	in := p.X >= 0 && p.Y >= 0 && p.X < float64(h.width) && p.Y < float64(h.height)

	switch ev.Kind {
	case hook.MouseHold:
		if ev.Button != leftButton || !in {
			return Event{}, false
		}
		h.inside = true
		h.pressed = true
		return Event{Kind: Down, Point: p, At: at}, true
	case hook.MouseUp:
		if ev.Button != leftButton || !h.pressed {
			return Event{}, false
		}
		h.pressed = false
		return Event{Kind: Up, Point: p, At: at}, true
	case hook.MouseMove, hook.MouseDrag:
		if !in {
			if !h.inside {
				return Event{}, false
			}
			h.inside = false
			h.pressed = false
			return Event{Kind: Leave, Point: p, At: at}, true
		}
		h.inside = true
		return Event{Kind: Move, Point: p, At: at}, true
	}
	return Event{}, false
}

// Stop removes the global hook and closes the event channel.
func (h *Hook) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	close(h.done)
	h.mu.Unlock()

	hook.End()
	h.stopped.Wait()
	slog.Info("pointer hook stopped")
}
