package pointer

import (
	"testing"
	"time"

	hook "github.com/robotn/gohook"
	"go.aimuz.me/slidemark/internal/state"
	"go.aimuz.me/slidemark/internal/types"
)

type segment struct {
	from, to types.Point
}

type recordingSink struct {
	next, prev int
	announced  []string
	shown      []types.Point
	hidden     int
	segments   []segment
	finished   int
}

func (r *recordingSink) NextPage()                 { r.next++ }
func (r *recordingSink) PrevPage()                 { r.prev++ }
func (r *recordingSink) Announce(msg string)       { r.announced = append(r.announced, msg) }
func (r *recordingSink) ShowPointer(p types.Point) { r.shown = append(r.shown, p) }
func (r *recordingSink) HidePointer()              { r.hidden++ }
func (r *recordingSink) FinishStroke()             { r.finished++ }

func (r *recordingSink) PaintSegment(from, to types.Point) {
	r.segments = append(r.segments, segment{from, to})
}

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

func newTestHandler() (*Handler, *state.State, *recordingSink) {
	st := state.New()
	st.SetDocument(5)
	st.SetPage(3)
	sink := &recordingSink{}
	h := NewHandler(DefaultConfig(), st, sink)
	h.SetWidth(800)
	return h, st, sink
}

func TestHandler_DoubleTap(t *testing.T) {
	tests := []struct {
		name     string
		x        float64
		gap      int
		wantNext int
		wantPrev int
		wantSaid string
	}{
		{"right half", 600, 200, 1, 0, "Next"},
		{"left half", 100, 200, 0, 1, "Previous"},
		{"exact middle counts as right", 400, 100, 1, 0, "Next"},
		{"too slow", 600, 300, 0, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, sink := newTestHandler()
			p := types.Point{X: tt.x, Y: 50}

			h.Down(p, at(0))
			h.Up()
			h.Down(p, at(tt.gap))

			if sink.next != tt.wantNext || sink.prev != tt.wantPrev {
				t.Errorf("next/prev = %d/%d, want %d/%d", sink.next, sink.prev, tt.wantNext, tt.wantPrev)
			}
			if tt.wantSaid != "" && (len(sink.announced) != 1 || sink.announced[0] != tt.wantSaid) {
				t.Errorf("announced = %v, want [%s]", sink.announced, tt.wantSaid)
			}
		})
	}
}

func TestHandler_NoTripleTap(t *testing.T) {
	h, _, sink := newTestHandler()
	p := types.Point{X: 700, Y: 10}

	h.Down(p, at(0))
	h.Down(p, at(100))
	h.Down(p, at(200))

	if sink.next != 1 {
		t.Errorf("next = %d, want 1", sink.next)
	}
	h.Down(p, at(250))
	if sink.next != 2 {
		t.Errorf("next after fourth tap = %d, want 2", sink.next)
	}
}

func TestHandler_Stroke(t *testing.T) {
	h, st, sink := newTestHandler()

	h.Move(types.Point{X: 1, Y: 1})
	if len(sink.segments) != 0 {
		t.Fatal("move without a press painted")
	}

	h.Down(types.Point{X: 10, Y: 10}, at(0))
	h.Move(types.Point{X: 20, Y: 10})
	h.Move(types.Point{X: 30, Y: 15})
	h.Up()
	h.Move(types.Point{X: 40, Y: 40})

	want := []segment{
		{types.Point{X: 10, Y: 10}, types.Point{X: 20, Y: 10}},
		{types.Point{X: 20, Y: 10}, types.Point{X: 30, Y: 15}},
	}
	if len(sink.segments) != len(want) {
		t.Fatalf("segments = %v, want %v", sink.segments, want)
	}
	for i := range want {
		if sink.segments[i] != want[i] {
			t.Errorf("segment %d = %v, want %v", i, sink.segments[i], want[i])
		}
	}
	if sink.finished != 1 || st.StrokeInProgress {
		t.Errorf("finished = %d, in progress = %v", sink.finished, st.StrokeInProgress)
	}
	if sink.hidden != 0 {
		t.Errorf("hidden = %d for a pen stroke", sink.hidden)
	}
}

func TestHandler_LeaveEndsStroke(t *testing.T) {
	h, st, sink := newTestHandler()
	h.Down(types.Point{X: 10, Y: 10}, at(0))
	h.Leave()
	h.Move(types.Point{X: 20, Y: 20})

	if len(sink.segments) != 0 || sink.finished != 1 || st.StrokeInProgress {
		t.Errorf("segments = %v, finished = %d", sink.segments, sink.finished)
	}
}

func TestHandler_Laser(t *testing.T) {
	h, st, sink := newTestHandler()
	if err := h.SetTool(types.DrawLaser); err != nil {
		t.Fatal(err)
	}

	h.Move(types.Point{X: 5, Y: 5})
	h.Down(types.Point{X: 10, Y: 10}, at(0))
	h.Move(types.Point{X: 15, Y: 10})
	h.Up()
	h.Up()

	if len(sink.shown) != 3 {
		t.Errorf("shown = %v, want 3 updates", sink.shown)
	}
	if sink.hidden != 1 {
		t.Errorf("hidden = %d, want 1", sink.hidden)
	}
	if len(sink.segments) != 0 || st.StrokeInProgress {
		t.Error("laser painted a stroke")
	}
}

func TestHandler_SetTool(t *testing.T) {
	h, st, sink := newTestHandler()

	if err := h.SetTool(types.DrawNone); err == nil {
		t.Error("SetTool(none) succeeded")
	}

	h.Down(types.Point{X: 1, Y: 1}, at(0))
	if err := h.SetTool(types.DrawHighlight); err != nil {
		t.Fatal(err)
	}
	if st.Tool != types.DrawHighlight {
		t.Errorf("Tool = %v, want highlight", st.Tool)
	}
	if sink.finished != 1 || st.StrokeInProgress {
		t.Error("changing tool did not end the stroke")
	}
}

func TestHook_Translate(t *testing.T) {
	h := NewHook(100, 50, 800, 600)
	when := at(0)

	steps := []struct {
		name   string
		ev     hook.Event
		want   Kind
		wantOK bool
		wantP  types.Point
	}{
		{"press outside ignored", hook.Event{Kind: hook.MouseHold, Button: leftButton, X: 10, Y: 10, When: when}, 0, false, types.Point{}},
		{"move outside ignored", hook.Event{Kind: hook.MouseMove, X: 10, Y: 10, When: when}, 0, false, types.Point{}},
		{"move inside", hook.Event{Kind: hook.MouseMove, X: 150, Y: 60, When: when}, Move, true, types.Point{X: 50, Y: 10}},
		{"right button ignored", hook.Event{Kind: hook.MouseHold, Button: 2, X: 150, Y: 60, When: when}, 0, false, types.Point{}},
		{"press inside", hook.Event{Kind: hook.MouseHold, Button: leftButton, X: 200, Y: 100, When: when}, Down, true, types.Point{X: 100, Y: 50}},
		{"drag inside", hook.Event{Kind: hook.MouseDrag, Button: leftButton, X: 210, Y: 110, When: when}, Move, true, types.Point{X: 110, Y: 60}},
		{"drag out", hook.Event{Kind: hook.MouseDrag, Button: leftButton, X: 950, Y: 110, When: when}, Leave, true, types.Point{X: 850, Y: 60}},
		{"still outside", hook.Event{Kind: hook.MouseDrag, Button: leftButton, X: 960, Y: 110, When: when}, 0, false, types.Point{}},
		{"release after leave ignored", hook.Event{Kind: hook.MouseUp, Button: leftButton, X: 960, Y: 110, When: when}, 0, false, types.Point{}},
		{"press again", hook.Event{Kind: hook.MouseHold, Button: leftButton, X: 100, Y: 50, When: when}, Down, true, types.Point{X: 0, Y: 0}},
		{"release", hook.Event{Kind: hook.MouseUp, Button: leftButton, X: 101, Y: 51, When: when}, Up, true, types.Point{X: 1, Y: 1}},
	}

	for _, step := range steps {
		got, ok := h.translate(step.ev)
		if ok != step.wantOK {
			t.Errorf("%s: ok = %v, want %v", step.name, ok, step.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if got.Kind != step.want || got.Point != step.wantP || !got.At.Equal(when) {
			t.Errorf("%s: got %+v, want %v at %v", step.name, got, step.want, step.wantP)
		}
	}
}

func TestHook_SetBounds(t *testing.T) {
	h := NewHook(0, 0, 100, 100)
	if _, ok := h.translate(hook.Event{Kind: hook.MouseMove, X: 150, Y: 10}); ok {
		t.Fatal("move outside the overlay accepted")
	}
	h.SetBounds(200, 100)
	got, ok := h.translate(hook.Event{Kind: hook.MouseMove, X: 150, Y: 10})
	if !ok || got.Kind != Move || got.At.IsZero() {
		t.Errorf("after SetBounds got %+v, %v", got, ok)
	}
}
