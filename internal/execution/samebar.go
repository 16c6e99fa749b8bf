package execution

import (
	"math"

	"backtest/internal/schema"
)

// SameBarOutcome names which protective level a bar triggered.
type SameBarOutcome uint8

const (
	SameBarNone SameBarOutcome = iota
	SameBarStop
	SameBarTarget
)

// String returns the outcome name.
func (o SameBarOutcome) String() string {
	switch o {
	case SameBarStop:
		return "stop"
	case SameBarTarget:
		return "target"
	default:
		return "none"
	}
}

// ResolveSameBar decides whether a position on side exits at stop or target
// within bar. A non-positive level is ignored. When the bar touches both, the
// intrabar mode breaks the tie: worst_case takes the stop, best_case the
// target, midpoint the level closer to the open (the stop on equal distance).
func ResolveSameBar(mode IntrabarMode, bar schema.Bar, side schema.Side, stop, target float64) (SameBarOutcome, float64) {
	var stopHit, targetHit bool
	switch side {
	case schema.SideBuy:
		stopHit = stop > 0 && bar.Low <= stop
		targetHit = target > 0 && bar.High >= target
	case schema.SideSell:
		stopHit = stop > 0 && bar.High >= stop
		targetHit = target > 0 && bar.Low <= target
	default:
		return SameBarNone, 0
	}

	switch {
	case stopHit && targetHit:
		switch mode {
		case IntrabarBestCase:
			return SameBarTarget, target
		case IntrabarMidpoint:
			if math.Abs(target-bar.Open) < math.Abs(stop-bar.Open) {
				return SameBarTarget, target
			}
			return SameBarStop, stop
		default:
			return SameBarStop, stop
		}
	case stopHit:
		return SameBarStop, stop
	case targetHit:
		return SameBarTarget, target
	default:
		return SameBarNone, 0
	}
}
