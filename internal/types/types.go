// Package types provides shared type definitions for the application.
package types

import "math"

// Modality is the input channel currently driving annotation.
type Modality int

const (
	ModalityPointer Modality = iota
	ModalityGesture
	ModalityVoice
)

func (m Modality) String() string {
	switch m {
	case ModalityPointer:
		return "pointer"
	case ModalityGesture:
		return "gesture"
	case ModalityVoice:
		return "voice"
	default:
		return "unknown"
	}
}

// ParseModality maps a config or CLI value to a Modality.
func ParseModality(s string) (Modality, bool) {
	switch s {
	case "pointer", "mouse":
		return ModalityPointer, true
	case "gesture", "hand":
		return ModalityGesture, true
	case "voice":
		return ModalityVoice, true
	}
	return ModalityPointer, false
}

// DrawMode is the current annotation behaviour.
// The pointer modality reuses the same values for its tool selection.
type DrawMode int

const (
	DrawNone DrawMode = iota
	DrawPen
	DrawHighlight
	DrawErase
	DrawLaser
)

func (d DrawMode) String() string {
	switch d {
	case DrawNone:
		return "none"
	case DrawPen:
		return "draw"
	case DrawHighlight:
		return "highlight"
	case DrawErase:
		return "erase"
	case DrawLaser:
		return "laser"
	default:
		return "unknown"
	}
}

// ParseDrawMode maps a tool name to a DrawMode.
func ParseDrawMode(s string) (DrawMode, bool) {
	switch s {
	case "none":
		return DrawNone, true
	case "draw", "pen":
		return DrawPen, true
	case "highlight":
		return DrawHighlight, true
	case "erase":
		return DrawErase, true
	case "laser":
		return DrawLaser, true
	}
	return DrawNone, false
}

// Point is a position in overlay-surface pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Landmark is one normalised hand keypoint as reported by the tracker.
// X and Y are in [0, 1] relative to the camera frame.
type Landmark struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
	Z float64 `json:"z" msgpack:"z"`
}

// Hand is the 21 landmarks of one detected hand.
type Hand []Landmark

// Dist returns the planar distance between two landmarks.
func Dist(a, b Landmark) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// ─────────────────────────────────────────────────────────────────────────────
// Status Types
// ─────────────────────────────────────────────────────────────────────────────

// Status is a snapshot of the presentation for a shell to display.
type Status struct {
	Modality      string `json:"modality"`
	DrawMode      string `json:"drawMode"`
	Tool          string `json:"tool"`
	Page          int    `json:"page"`
	PageCount     int    `json:"pageCount"`
	SessionActive bool   `json:"sessionActive"` // gesture/voice sensor session running
	Dictating     bool   `json:"dictating"`
	RenderState   string `json:"renderState"`
}

// PointerIndicator describes the on-screen laser/pointer dot.
type PointerIndicator struct {
	Visible bool    `json:"visible"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

// Notice is a transient, user-visible message.
type Notice struct {
	Text  string `json:"text"`
	Level string `json:"level"` // "info", "warn", "error"
}
