package canvas

import "math"

// SnapThresholdPx is the snap tolerance in *screen* pixels. The visual snap
// distance stays constant regardless of zoom, so the canvas-space tolerance
// is SnapThresholdPx / scale.
const SnapThresholdPx = 10.0

// Orientation of a snap guide line.
type Orientation string

const (
	Vertical   Orientation = "vertical"
	Horizontal Orientation = "horizontal"
)

// Guide is a transient alignment line shown while dragging. Guides are
// recomputed every move tick and cleared on pointer-up; they are never
// persisted.
type Guide struct {
	Orientation Orientation `json:"orientation"`
	Position    float64     `json:"position"`
}

// SnapResult carries the corrected position plus the guides for the current
// drag tick. At most one guide per axis.
type SnapResult struct {
	X      float64
	Y      float64
	Guides []Guide
}

// Snap computes the snapped position for a dragged asset. rawX/rawY is the
// pre-snap candidate position, others the alignment candidates (everything
// on the board except the dragged asset), scale the current zoom. With
// disabled true (Ctrl/Cmd held) the raw position passes through untouched
// and no guides are produced.
//
// Axes are independent: an asset can snap horizontally while staying free
// vertically. Per axis the three alignment offsets of the dragged asset
// (leading edge, center, trailing edge) are compared against the three
// alignment points of every other asset; the pair with the smallest |delta|
// strictly below the threshold wins, ties resolved by first-found order,
// which is stable because iteration follows insertion order.
func Snap(rawX, rawY, width, height float64, others []*Asset, scale float64, disabled bool) SnapResult {
	res := SnapResult{X: rawX, Y: rawY}
	if disabled || len(others) == 0 {
		return res
	}
	threshold := SnapThresholdPx / scale

	if corrected, guide, ok := snapAxis(rawX, width, others, Vertical, threshold); ok {
		res.X = corrected
		res.Guides = append(res.Guides, guide)
	}
	if corrected, guide, ok := snapAxis(rawY, height, others, Horizontal, threshold); ok {
		res.Y = corrected
		res.Guides = append(res.Guides, guide)
	}
	return res
}

func snapAxis(raw, size float64, others []*Asset, o Orientation, threshold float64) (float64, Guide, bool) {
	offsets := [3]float64{0, size / 2, size}

	bestDelta := math.Inf(1)
	bestPoint := 0.0
	found := false

	for _, ref := range others {
		var points [3]float64
		if o == Vertical {
			points = [3]float64{ref.X, ref.X + ref.Width/2, ref.X + ref.Width}
		} else {
			points = [3]float64{ref.Y, ref.Y + ref.Height/2, ref.Y + ref.Height}
		}
		for _, off := range offsets {
			for _, p := range points {
				delta := p - (raw + off)
				if math.Abs(delta) < threshold && math.Abs(delta) < math.Abs(bestDelta) {
					bestDelta = delta
					bestPoint = p
					found = true
				}
			}
		}
	}

	if !found {
		return raw, Guide{}, false
	}
	return raw + bestDelta, Guide{Orientation: o, Position: bestPoint}, true
}
