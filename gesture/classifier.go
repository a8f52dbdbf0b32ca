// Package gesture turns hand landmarks into annotation modes and navigation.
package gesture

import "go.aimuz.me/slidemark/internal/types"

// Symbol is a discrete gesture recognised from one frame.
type Symbol int

const (
	None Symbol = iota // no recognised gesture
	Open
	Two
	Index
	Left
	Right
	Pinch
	Fist
)

func (s Symbol) String() string {
	switch s {
	case Open:
		return "open"
	case Two:
		return "two"
	case Index:
		return "index"
	case Left:
		return "left"
	case Right:
		return "right"
	case Pinch:
		return "pinch"
	case Fist:
		return "fist"
	default:
		return "none"
	}
}

// Landmark indices in the 21-point hand model.
const (
	Wrist       = 0
	ThumbTip    = 4
	IndexPIP    = 6
	IndexTip    = 8
	MiddlePIP   = 10
	MiddleTip   = 12
	RingPIP     = 14
	RingTip     = 16
	PinkyPIP    = 18
	PinkyTip    = 20
	NumLandmark = 21
)

// Thresholds are the geometric limits used by Classify, in normalised units.
type Thresholds struct {
	// SwipeOffset is the horizontal index-tip offset from the wrist that
	// turns a pointing finger into a left/right swipe.
	SwipeOffset float64
	// PinchDistance is the thumb-to-index distance below which the hand pinches.
	PinchDistance float64
}

// DefaultThresholds returns the stock limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SwipeOffset:   0.18,
		PinchDistance: 0.07,
	}
}

// Classify maps the first hand in hands to a gesture symbol.
// Zero hands, or a hand with too few landmarks, yields None.
func Classify(hands []types.Hand, th Thresholds) Symbol {
	if len(hands) == 0 || len(hands[0]) < NumLandmark {
		return None
	}
	lm := hands[0]

	index := extended(lm, IndexTip, IndexPIP)
	middle := extended(lm, MiddleTip, MiddlePIP)
	ring := extended(lm, RingTip, RingPIP)
	pinky := extended(lm, PinkyTip, PinkyPIP)

	// Open must be tested first: an open palm also fails every
	// "retracted" condition below.
	if index && middle && ring && pinky {
		return Open
	}
	if index && middle && !ring && !pinky {
		return Two
	}
	if index && !middle && !ring && !pinky {
		offset := lm[IndexTip].X - lm[Wrist].X
		switch {
		case offset > th.SwipeOffset:
			return Right
		case offset < -th.SwipeOffset:
			return Left
		default:
			return Index
		}
	}
	if types.Dist(lm[ThumbTip], lm[IndexTip]) < th.PinchDistance {
		return Pinch
	}
	if !index && !middle && !ring && !pinky {
		return Fist
	}
	return None
}

// extended reports whether the fingertip sits above its middle knuckle.
// Image y grows downward.
func extended(lm types.Hand, tip, pip int) bool {
	return lm[tip].Y < lm[pip].Y
}
