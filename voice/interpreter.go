package voice

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.aimuz.me/slidemark/internal/state"
	"go.aimuz.me/slidemark/internal/types"
)

// Sink receives the side effects of voice commands.
// Embed NopSink to implement only the methods you need.
type Sink interface {
	NextPage()
	PrevPage()
	GotoPage(n int)
	LastPage()
	ClearAnnotations()
	SetModality(m types.Modality)
	RenderText(text string)
	FinishAnnotation()
	Announce(msg string)
}

// NopSink ignores every side effect.
type NopSink struct{}

func (NopSink) NextPage()                  {}
func (NopSink) PrevPage()                  {}
func (NopSink) GotoPage(int)               {}
func (NopSink) LastPage()                  {}
func (NopSink) ClearAnnotations()          {}
func (NopSink) SetModality(types.Modality) {}
func (NopSink) RenderText(string)          {}
func (NopSink) FinishAnnotation()          {}
func (NopSink) Announce(string)            {}

// Config holds the interpreter's timing windows.
type Config struct {
	// DedupWindow drops a final arriving this soon after the previous one.
	DedupWindow time.Duration
	// InterimEvery rate-limits dictation previews.
	InterimEvery time.Duration
}

// DefaultConfig returns the stock windows.
func DefaultConfig() Config {
	return Config{
		DedupWindow:  400 * time.Millisecond,
		InterimEvery: 200 * time.Millisecond,
	}
}

// Interpreter turns recogniser output into commands and dictation.
// It is not safe for concurrent use.
type Interpreter struct {
	cfg  Config
	st   *state.State
	sink Sink

	// Dictation
	dictating bool
	text      string
	lastText  time.Time

	lastCommand time.Time
}

// NewInterpreter creates an interpreter reading page bounds from st.
func NewInterpreter(cfg Config, st *state.State, sink Sink) *Interpreter {
	if sink == nil {
		sink = NopSink{}
	}
	return &Interpreter{cfg: cfg, st: st, sink: sink}
}

// Dictating reports whether a dictation session is active.
func (in *Interpreter) Dictating() bool {
	return in.dictating
}

// Text returns the committed dictation text.
func (in *Interpreter) Text() string {
	return in.text
}

// Reset ends dictation and forgets the dedup history.
func (in *Interpreter) Reset() {
	in.dictating = false
	in.text = ""
	in.lastText = time.Time{}
	in.lastCommand = time.Time{}
}

// HandleFinal interprets a final transcript received at at. It returns the
// command that was applied; duplicates inside the dedup window return a
// zero Command.
func (in *Interpreter) HandleFinal(transcript string, at time.Time) Command {
	if !in.lastCommand.IsZero() && at.Sub(in.lastCommand) < in.cfg.DedupWindow {
		slog.Debug("drop duplicate final", "text", transcript, "since", at.Sub(in.lastCommand))
		return Command{}
	}
	in.lastCommand = at

	cmd := Parse(transcript, in.dictating, in.st.PageCount)
	if cmd.Kind != KindNone {
		slog.Debug("voice command", "kind", cmd.Kind, "text", cmd.Text, "page", cmd.Page)
	}
	in.apply(cmd, at)
	return cmd
}

// HandleInterim previews an interim fragment while dictating, at most once
// per InterimEvery.
func (in *Interpreter) HandleInterim(fragment string, at time.Time) {
	if !in.dictating {
		return
	}
	frag := strings.TrimSpace(fragment)
	if frag == "" {
		return
	}
	if at.Sub(in.lastText) < in.cfg.InterimEvery {
		return
	}
	in.lastText = at
	in.sink.RenderText(in.text + " " + frag)
}

func (in *Interpreter) apply(cmd Command, at time.Time) {
	switch cmd.Kind {
	case KindStopDictation:
		in.dictating = false
		in.text = ""
		in.sink.FinishAnnotation()
		in.sink.Announce("Stopped")
	case KindDictate:
		in.dictating = true
		in.text = cmd.Text
		in.lastText = at
		in.sink.RenderText(in.text)
	case KindAppendText:
		in.text += " " + cmd.Text
		in.lastText = at
		in.sink.RenderText(in.text)
	case KindGotoPage:
		in.sink.GotoPage(cmd.Page)
		in.sink.Announce(fmt.Sprintf("Page %d", cmd.Page))
	case KindLastPage:
		in.sink.LastPage()
		in.sink.Announce("Last page")
	case KindNext:
		in.sink.NextPage()
		in.sink.Announce("Next")
	case KindPrevious:
		in.sink.PrevPage()
		in.sink.Announce("Back")
	case KindClear:
		in.sink.ClearAnnotations()
		in.sink.Announce("Cleared")
	case KindPointer:
		in.sink.SetModality(types.ModalityPointer)
		in.sink.Announce("Mouse")
	case KindGesture:
		in.sink.SetModality(types.ModalityGesture)
		in.sink.Announce("Gesture")
	}
}
