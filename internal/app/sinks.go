package app

import (
	"log/slog"

	"go.aimuz.me/slidemark/internal/types"
)

// Each modality's interpreter reports through its own sink so strokes are
// styled for that modality.

type gestureSink struct{ s *Service }

func (g gestureSink) NextPage()                 { g.s.nextPage() }
func (g gestureSink) PrevPage()                 { g.s.prevPage() }
func (g gestureSink) Announce(msg string)       { g.s.announce(msg) }
func (g gestureSink) ShowPointer(p types.Point) { g.s.showPointer(p) }
func (g gestureSink) HidePointer()              { g.s.hidePointer() }
func (g gestureSink) FinishStroke()             { slog.Debug("gesture stroke finished") }

func (g gestureSink) ModeChanged(mode types.DrawMode) {
	slog.Debug("draw mode", "mode", mode)
	g.s.emit(EventDrawMode, mode.String())
}

func (g gestureSink) PaintSegment(from, to types.Point) {
	g.s.paint(from, to, g.s.st.DrawMode)
}

type pointerSink struct{ s *Service }

func (p pointerSink) NextPage()                  { p.s.nextPage() }
func (p pointerSink) PrevPage()                  { p.s.prevPage() }
func (p pointerSink) Announce(msg string)        { p.s.announce(msg) }
func (p pointerSink) ShowPointer(pt types.Point) { p.s.showPointer(pt) }
func (p pointerSink) HidePointer()               { p.s.hidePointer() }
func (p pointerSink) FinishStroke()              {}

func (p pointerSink) PaintSegment(from, to types.Point) {
	p.s.paint(from, to, p.s.st.Tool)
}

type voiceSink struct{ s *Service }

func (v voiceSink) NextPage()                    { v.s.nextPage() }
func (v voiceSink) PrevPage()                    { v.s.prevPage() }
func (v voiceSink) GotoPage(n int)               { v.s.gotoPage(n) }
func (v voiceSink) LastPage()                    { v.s.lastPage() }
func (v voiceSink) ClearAnnotations()            { v.s.clearAnnotations() }
func (v voiceSink) SetModality(m types.Modality) { v.s.setModality(m) }
func (v voiceSink) RenderText(text string)       { v.s.engine.RenderWrappedText(text) }
func (v voiceSink) FinishAnnotation()            { slog.Debug("dictation finished") }
func (v voiceSink) Announce(msg string)          { v.s.announce(msg) }
