// Package state holds the presentation state shared by the input interpreters.
//
// A State is owned by the coordinator and handed by pointer to each
// interpreter. It carries no locking: every mutation happens on the
// coordinator's event loop.
package state

import "go.aimuz.me/slidemark/internal/types"

// State is the single source of truth for mode, page and stroke progress.
type State struct {
	Modality types.Modality
	// DrawMode is driven by the gesture arbiter.
	DrawMode types.DrawMode
	// Tool is the pointer modality's selected tool.
	Tool types.DrawMode

	Page      int
	PageCount int

	StrokeInProgress bool
	Cursor           types.Point
}

// New returns the initial state: pointer modality, draw tool, no document.
func New() *State {
	return &State{
		Modality: types.ModalityPointer,
		DrawMode: types.DrawNone,
		Tool:     types.DrawPen,
	}
}

// Loaded reports whether a document with at least one page is loaded.
func (s *State) Loaded() bool {
	return s.PageCount > 0
}

// SetDocument installs a new page count and moves to page 1.
func (s *State) SetDocument(pageCount int) {
	s.PageCount = pageCount
	if pageCount > 0 {
		s.Page = 1
	} else {
		s.Page = 0
	}
}

// SetPage moves to page n when it is within bounds and differs from the
// current page. It reports whether the page changed.
func (s *State) SetPage(n int) bool {
	if !s.Loaded() || n < 1 || n > s.PageCount || n == s.Page {
		return false
	}
	s.Page = n
	return true
}

// NextPage advances one page if possible.
func (s *State) NextPage() bool { return s.SetPage(s.Page + 1) }

// PrevPage goes back one page if possible.
func (s *State) PrevPage() bool { return s.SetPage(s.Page - 1) }

// LastPage jumps to the final page.
func (s *State) LastPage() bool { return s.SetPage(s.PageCount) }

// BeginStroke marks a stroke as started at p.
func (s *State) BeginStroke(p types.Point) {
	s.StrokeInProgress = true
	s.Cursor = p
}

// MoveCursor records p as the last stroke point.
func (s *State) MoveCursor(p types.Point) {
	s.Cursor = p
}

// ResetStroke ends any stroke in progress. It reports whether one was active.
func (s *State) ResetStroke() bool {
	was := s.StrokeInProgress
	s.StrokeInProgress = false
	return was
}

// Snapshot returns the exported view of the state.
func (s *State) Snapshot() types.Status {
	return types.Status{
		Modality:  s.Modality.String(),
		DrawMode:  s.DrawMode.String(),
		Tool:      s.Tool.String(),
		Page:      s.Page,
		PageCount: s.PageCount,
	}
}
