package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"testing"
	"time"

	"go.aimuz.me/slidemark/config"
	"go.aimuz.me/slidemark/internal/types"
	"go.aimuz.me/slidemark/pointer"
	"go.aimuz.me/slidemark/speech"
	"go.aimuz.me/slidemark/surface"
	"go.aimuz.me/slidemark/tracker"
	testingclock "k8s.io/utils/clock/testing"
)

type fakeDoc struct {
	pages int
}

func (d *fakeDoc) NumPages() int { return d.pages }
func (d *fakeDoc) Close() error  { return nil }

func (d *fakeDoc) PageSize(page int) (float64, float64, error) {
	return 400, 300, nil
}

func (d *fakeDoc) Render(ctx context.Context, page int, scale float64) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, int(400*scale), int(300*scale))), nil
}

type fakeBase struct {
	mu    sync.Mutex
	drawn int
}

func (b *fakeBase) Resize(int, int) {}

func (b *fakeBase) DrawImage(image.Image) {
	b.mu.Lock()
	b.drawn++
	b.mu.Unlock()
}

type fakeRecognizer struct {
	mu     sync.Mutex
	err    error
	starts int
	stops  int
	events chan speech.Event
}

func (f *fakeRecognizer) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.err != nil {
		return f.err
	}
	f.events = make(chan speech.Event, 8)
	return nil
}

func (f *fakeRecognizer) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if f.events != nil {
		close(f.events)
		f.events = nil
	}
	return nil
}

func (f *fakeRecognizer) Events() <-chan speech.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events
}

func (f *fakeRecognizer) send(ev speech.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.events != nil {
		f.events <- ev
	}
}

func (f *fakeRecognizer) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

type fakeTracker struct {
	mu      sync.Mutex
	err     error
	starts  int
	stops   int
	results chan tracker.Result
	errs    chan error
}

func (f *fakeTracker) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.err != nil {
		return f.err
	}
	f.results = make(chan tracker.Result, 1)
	f.errs = make(chan error, 1)
	return nil
}

func (f *fakeTracker) Send(tracker.Frame) error { return nil }

func (f *fakeTracker) Results() <-chan tracker.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.results
}

func (f *fakeTracker) Errors() <-chan error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs
}

func (f *fakeTracker) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if f.results != nil {
		close(f.results)
		close(f.errs)
		f.results, f.errs = nil, nil
	}
	return nil
}

func (f *fakeTracker) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs != nil {
		f.errs <- err
	}
}

type recorded struct {
	name string
	data any
}

type harness struct {
	s     *Service
	clock *testingclock.FakeClock
	base  *fakeBase
	rec   *fakeRecognizer
	trk   *fakeTracker

	mu     sync.Mutex
	events []recorded
}

func newHarness(t *testing.T, modality string) *harness {
	t.Helper()
	h := &harness{
		clock: testingclock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		base:  &fakeBase{},
		rec:   &fakeRecognizer{},
		trk:   &fakeTracker{},
	}
	return h.start(t, modality)
}

func (h *harness) start(t *testing.T, modality string) *harness {
	t.Helper()
	overlay, err := surface.New(800, 600)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { overlay.Close() })

	cfg := config.DefaultConfig()
	cfg.Modality = modality
	s, err := New(cfg, Deps{
		Base:       h.base,
		Overlay:    overlay,
		Tracker:    h.trk,
		Recognizer: h.rec,
		Clock:      h.clock,
		Listener:   h.record,
	})
	if err != nil {
		t.Fatal(err)
	}
	h.s = s

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	})
	return h
}

func (h *harness) record(name string, data any) {
	h.mu.Lock()
	h.events = append(h.events, recorded{name, data})
	h.mu.Unlock()
}

func (h *harness) named(name string) []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []any
	for _, ev := range h.events {
		if ev.name == name {
			out = append(out, ev.data)
		}
	}
	return out
}

// waitEvent waits for an event called name whose payload satisfies match.
func (h *harness) waitEvent(t *testing.T, name string, match func(any) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, data := range h.named(name) {
			if match == nil || match(data) {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %s event; got %v", name, h.named(name))
}

// waitStatus polls Status until cond holds.
func (h *harness) waitStatus(t *testing.T, cond func(types.Status) bool) types.Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var st types.Status
	for time.Now().Before(deadline) {
		var err error
		st, err = h.s.Status()
		if err != nil {
			t.Fatal(err)
		}
		if cond(st) {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status never matched; last %+v", st)
	return st
}

func (h *harness) status(t *testing.T) types.Status {
	t.Helper()
	st, err := h.s.Status()
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func (h *harness) load(t *testing.T, pages int) {
	t.Helper()
	if err := h.s.LoadDocument(&fakeDoc{pages: pages}); err != nil {
		t.Fatal(err)
	}
}

func noticeWith(level, text string) func(any) bool {
	return func(data any) bool {
		n, ok := data.(types.Notice)
		return ok && n.Level == level && n.Text == text
	}
}

func TestService_New(t *testing.T) {
	overlay, err := surface.New(10, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer overlay.Close()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		deps   Deps
	}{
		{"missing layers", func(*config.Config) {}, Deps{}},
		{"bad modality", func(c *config.Config) { c.Modality = "telepathy" }, Deps{Base: &fakeBase{}, Overlay: overlay}},
		{"tool none", func(c *config.Config) { c.Pointer.Tool = "none" }, Deps{Base: &fakeBase{}, Overlay: overlay}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)
			if _, err := New(cfg, tt.deps); err == nil {
				t.Error("New succeeded")
			}
		})
	}
}

func TestService_Navigation(t *testing.T) {
	h := newHarness(t, "pointer")
	h.load(t, 3)

	if st := h.status(t); st.Page != 1 || st.PageCount != 3 || st.RenderState != "pending" {
		t.Fatalf("after load: %+v", st)
	}

	steps := []struct {
		name string
		do   func() error
		want int
	}{
		{"next", h.s.NextPage, 2},
		{"next", h.s.NextPage, 3},
		{"next at end", h.s.NextPage, 3},
		{"goto out of range", func() error { return h.s.GotoPage(9) }, 3},
		{"goto", func() error { return h.s.GotoPage(1) }, 1},
		{"prev at start", h.s.PrevPage, 1},
		{"last", h.s.LastPage, 3},
		{"prev", h.s.PrevPage, 2},
	}
	for _, step := range steps {
		if err := step.do(); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if got := h.status(t).Page; got != step.want {
			t.Errorf("%s: page = %d, want %d", step.name, got, step.want)
		}
	}

	// One event for the load and one per actual move.
	if got := len(h.named(EventPageChanged)); got != 6 {
		t.Errorf("page-changed events = %d, want 6", got)
	}

	h.clock.Step(80 * time.Millisecond)
	h.waitEvent(t, EventPageRendered, func(data any) bool {
		r := data.(PageRendered)
		return r.Page == 2 && r.Width == 960 && r.Height == 720
	})
	h.base.mu.Lock()
	drawn := h.base.drawn
	h.base.mu.Unlock()
	if drawn != 1 {
		t.Errorf("pages drawn = %d, want 1 after debouncing", drawn)
	}
}

func TestService_LoadEmptyDocument(t *testing.T) {
	h := newHarness(t, "pointer")
	if err := h.s.LoadDocument(&fakeDoc{}); err == nil {
		t.Fatal("empty document loaded")
	}
	if st := h.status(t); st.PageCount != 0 {
		t.Errorf("PageCount = %d", st.PageCount)
	}
}

func TestService_SetModality(t *testing.T) {
	h := newHarness(t, "pointer")

	if err := h.s.SetModality(types.ModalityVoice); err != nil {
		t.Fatal(err)
	}
	h.waitEvent(t, EventModalityChanged, func(data any) bool { return data == "voice" })

	h.clock.Step(99 * time.Millisecond)
	h.status(t)
	if starts, _ := h.rec.counts(); starts != 0 {
		t.Fatalf("recognizer started before the delay (%d)", starts)
	}

	h.clock.Step(time.Millisecond)
	h.waitStatus(t, func(st types.Status) bool { return st.SessionActive })
	if starts, _ := h.rec.counts(); starts != 1 {
		t.Fatalf("starts = %d, want 1", starts)
	}

	if err := h.s.SetModality(types.ModalityPointer); err != nil {
		t.Fatal(err)
	}
	st := h.status(t)
	if st.Modality != "pointer" || st.DrawMode != "none" {
		t.Errorf("after switch: %+v", st)
	}
	if _, stops := h.rec.counts(); stops != 1 {
		t.Errorf("stops = %d, want 1", stops)
	}
}

func TestService_QuickSwitchCancelsStart(t *testing.T) {
	h := newHarness(t, "pointer")

	h.s.SetModality(types.ModalityVoice)
	h.clock.Step(50 * time.Millisecond)
	h.s.SetModality(types.ModalityPointer)
	h.clock.Step(time.Second)
	h.status(t)

	if starts, _ := h.rec.counts(); starts != 0 {
		t.Errorf("recognizer started %d times after leaving voice", starts)
	}
}

func TestService_VoiceCommands(t *testing.T) {
	h := newHarness(t, "voice")
	h.load(t, 5)
	h.waitStatus(t, func(st types.Status) bool { return st.SessionActive })

	h.rec.send(speech.Event{Kind: speech.KindFinal, Text: "next slide"})
	h.waitStatus(t, func(st types.Status) bool { return st.Page == 2 })
	h.waitEvent(t, EventAnnounce, func(data any) bool { return data == "Next" })

	h.clock.Step(time.Second)
	h.rec.send(speech.Event{Kind: speech.KindFinal, Text: "page 4"})
	h.waitStatus(t, func(st types.Status) bool { return st.Page == 4 })

	h.clock.Step(time.Second)
	h.rec.send(speech.Event{Kind: speech.KindFinal, Text: "write hello"})
	h.waitStatus(t, func(st types.Status) bool { return st.Dictating })

	h.clock.Step(time.Second)
	h.rec.send(speech.Event{Kind: speech.KindFinal, Text: "switch to mouse"})
	st := h.waitStatus(t, func(st types.Status) bool { return st.Modality == "pointer" })
	if st.SessionActive || st.Dictating {
		t.Errorf("voice session survived the switch: %+v", st)
	}
	if _, stops := h.rec.counts(); stops != 1 {
		t.Errorf("stops = %d, want 1", stops)
	}
}

func TestService_StaleSpeechDropped(t *testing.T) {
	h := newHarness(t, "voice")
	h.load(t, 5)
	h.waitStatus(t, func(st types.Status) bool { return st.SessionActive })

	var gen uint64
	h.s.call(func() { gen = h.s.gen })

	h.rec.send(speech.Event{Kind: speech.KindEnd})
	h.waitStatus(t, func(st types.Status) bool { return !st.SessionActive })

	h.s.call(func() {
		h.s.handleSpeech(gen, speech.Event{Kind: speech.KindFinal, Text: "next"})
	})
	if st := h.status(t); st.Page != 1 {
		t.Errorf("stale transcript moved to page %d", st.Page)
	}
}

func TestService_VoiceRestart(t *testing.T) {
	h := newHarness(t, "voice")
	h.waitStatus(t, func(st types.Status) bool { return st.SessionActive })

	h.rec.send(speech.Event{Kind: speech.KindEnd})
	h.waitStatus(t, func(st types.Status) bool { return !st.SessionActive })
	if starts, stops := h.rec.counts(); starts != 1 || stops != 1 {
		t.Fatalf("starts/stops = %d/%d, want 1/1", starts, stops)
	}

	h.clock.Step(49 * time.Millisecond)
	h.status(t)
	if starts, _ := h.rec.counts(); starts != 1 {
		t.Fatalf("restarted before the delay")
	}
	h.clock.Step(time.Millisecond)
	h.waitStatus(t, func(st types.Status) bool { return st.SessionActive })
	if starts, _ := h.rec.counts(); starts != 2 {
		t.Errorf("starts = %d, want 2", starts)
	}
}

func TestService_PermissionDenied(t *testing.T) {
	tests := []struct {
		name     string
		modality string
		setup    func(h *harness)
		trigger  func(h *harness)
		want     string
	}{
		{
			name:     "microphone at start",
			modality: "voice",
			setup: func(h *harness) {
				h.rec.err = fmt.Errorf("start audio source: %w", speech.ErrPermissionDenied)
			},
			want: "Microphone permission denied, switching to pointer",
		},
		{
			name:     "camera at start",
			modality: "gesture",
			setup: func(h *harness) {
				h.trk.err = &tracker.WorkerError{Code: tracker.CodePermissionDenied, Message: "camera access denied"}
			},
			want: "Camera permission denied, switching to pointer",
		},
		{
			name:     "microphone revoked",
			modality: "voice",
			trigger: func(h *harness) {
				h.rec.send(speech.Event{Kind: speech.KindEnd, Err: speech.ErrPermissionDenied})
			},
			want: "Microphone permission denied, switching to pointer",
		},
		{
			name:     "camera revoked",
			modality: "gesture",
			trigger: func(h *harness) {
				h.trk.fail(fmt.Errorf("read frame: %w", tracker.ErrPermissionDenied))
			},
			want: "Camera permission denied, switching to pointer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &harness{
				clock: testingclock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
				base:  &fakeBase{},
				rec:   &fakeRecognizer{},
				trk:   &fakeTracker{},
			}
			if tt.setup != nil {
				tt.setup(h)
			}
			h.start(t, tt.modality)
			if tt.trigger != nil {
				h.waitStatus(t, func(st types.Status) bool { return st.SessionActive })
				tt.trigger(h)
			}

			h.waitEvent(t, EventNotice, noticeWith("warn", tt.want))
			st := h.waitStatus(t, func(st types.Status) bool { return st.Modality == "pointer" })
			if st.SessionActive {
				t.Errorf("session still active: %+v", st)
			}
		})
	}
}

func TestService_StartFailure(t *testing.T) {
	h := &harness{
		clock: testingclock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		base:  &fakeBase{},
		rec:   &fakeRecognizer{},
		trk:   &fakeTracker{err: errors.New("no model")},
	}
	h.start(t, "gesture")

	h.waitEvent(t, EventNotice, func(data any) bool {
		return data.(types.Notice).Level == "error"
	})
	st := h.status(t)
	if st.Modality != "gesture" || st.SessionActive {
		t.Errorf("after failed start: %+v", st)
	}
}

func TestService_TrackerFailure(t *testing.T) {
	h := newHarness(t, "gesture")
	h.waitStatus(t, func(st types.Status) bool { return st.SessionActive })

	h.trk.fail(errors.New("worker exited"))
	h.waitEvent(t, EventNotice, func(data any) bool {
		return data.(types.Notice).Level == "error"
	})
	st := h.waitStatus(t, func(st types.Status) bool { return !st.SessionActive })
	if st.Modality != "gesture" {
		t.Errorf("Modality = %s, want gesture", st.Modality)
	}
}

func TestService_PointerDoubleTap(t *testing.T) {
	h := newHarness(t, "pointer")
	h.load(t, 3)

	at := h.clock.Now()
	events := []pointer.Event{
		{Kind: pointer.Down, Point: types.Point{X: 700, Y: 100}, At: at},
		{Kind: pointer.Up, At: at.Add(50 * time.Millisecond)},
		{Kind: pointer.Down, Point: types.Point{X: 700, Y: 100}, At: at.Add(150 * time.Millisecond)},
		{Kind: pointer.Up, At: at.Add(200 * time.Millisecond)},
	}
	for _, ev := range events {
		if err := h.s.PointerEvent(ev); err != nil {
			t.Fatal(err)
		}
	}

	if st := h.status(t); st.Page != 2 {
		t.Errorf("Page = %d, want 2", st.Page)
	}
	h.waitEvent(t, EventAnnounce, func(data any) bool { return data == "Next" })
}

func TestService_PointerIgnoredInOtherModality(t *testing.T) {
	h := newHarness(t, "gesture")
	h.load(t, 3)

	at := h.clock.Now()
	for _, ev := range []pointer.Event{
		{Kind: pointer.Down, Point: types.Point{X: 700, Y: 100}, At: at},
		{Kind: pointer.Down, Point: types.Point{X: 700, Y: 100}, At: at.Add(100 * time.Millisecond)},
	} {
		h.s.PointerEvent(ev)
	}
	if st := h.status(t); st.Page != 1 {
		t.Errorf("pointer navigated in gesture modality to page %d", st.Page)
	}
}

func TestService_SetTool(t *testing.T) {
	h := newHarness(t, "pointer")

	if err := h.s.SetTool(types.DrawNone); err == nil {
		t.Error("SetTool(none) succeeded")
	}
	if err := h.s.SetTool(types.DrawHighlight); err != nil {
		t.Fatal(err)
	}
	if st := h.status(t); st.Tool != "highlight" {
		t.Errorf("Tool = %s", st.Tool)
	}
}

func TestService_Stopped(t *testing.T) {
	h := &harness{
		clock: testingclock.NewFakeClock(time.Now()),
		base:  &fakeBase{},
	}
	overlay, err := surface.New(100, 100)
	if err != nil {
		t.Fatal(err)
	}
	defer overlay.Close()
	s, err := New(config.DefaultConfig(), Deps{Base: h.base, Overlay: overlay, Clock: h.clock})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	if _, err := s.Status(); err != nil {
		t.Fatal(err)
	}
	cancel()
	<-done

	if err := s.NextPage(); !errors.Is(err, ErrStopped) {
		t.Errorf("NextPage after stop = %v, want ErrStopped", err)
	}
}
