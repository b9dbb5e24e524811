// Package canvas implements the board state and placement engine behind the
// creative workspace: the pan/zoom transform, the asset registry with its
// lineage forest, snap-guide computation during drags, automatic placement of
// generated assets, and the pointer-interaction state machine.
//
// Everything here is plain geometry and bookkeeping; it knows nothing about
// HTTP, storage, or the generation backends.
package canvas

// Scale bounds applied to every transform mutation. Inputs outside the range
// are clamped, never rejected.
const (
	MinScale = 0.1
	MaxScale = 5.0
)

// Distinct fit ceilings: fitting the whole board must not zoom past 1.2x,
// while fitting a single small asset may go up to 2x.
const (
	fitPaddingPx     = 100.0
	maxFitScaleBoard = 1.2
	maxFitScaleAsset = 2.0
)

// Transform is the affine pan/zoom state applied to the content layer.
// X and Y are the screen-space translation, Scale the uniform zoom.
// Operations are value-based: each returns the successor state.
type Transform struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Scale float64 `json:"scale"`
}

// DefaultTransform is the initial board view: slightly offset from the
// viewport corner, zoomed out far enough to see a few generations at once.
func DefaultTransform() Transform {
	return Transform{X: 50, Y: 50, Scale: 0.2}
}

func clampScale(s float64) float64 {
	if s < MinScale {
		return MinScale
	}
	if s > MaxScale {
		return MaxScale
	}
	return s
}

// ToCanvas maps a screen-space point into canvas space:
// canvas = (screen - translation) / scale.
func (t Transform) ToCanvas(p Point) Point {
	return Point{X: (p.X - t.X) / t.Scale, Y: (p.Y - t.Y) / t.Scale}
}

// ToScreen is the inverse of ToCanvas.
func (t Transform) ToScreen(p Point) Point {
	return Point{X: p.X*t.Scale + t.X, Y: p.Y*t.Scale + t.Y}
}

// PanBy translates by a screen-space delta. Scale is untouched.
func (t Transform) PanBy(dx, dy float64) Transform {
	t.X += dx
	t.Y += dy
	return t
}

// ZoomAtPoint changes scale by delta while keeping the canvas point under
// the given screen point stationary. This is the zoom-toward-cursor
// contract: for any p, ToCanvas(p) is identical before and after as long as
// the clamp does not saturate.
func (t Transform) ZoomAtPoint(p Point, delta float64) Transform {
	newScale := clampScale(t.Scale + delta)
	ratio := newScale / t.Scale
	return Transform{
		X:     p.X - (p.X-t.X)*ratio,
		Y:     p.Y - (p.Y-t.Y)*ratio,
		Scale: newScale,
	}
}

// WithScale jumps to an absolute scale, anchored at the viewport center.
// Used by the discrete zoom-level controls.
func (t Transform) WithScale(scale float64, viewport Size) Transform {
	center := Point{X: viewport.Width / 2, Y: viewport.Height / 2}
	return t.ZoomAtPoint(center, clampScale(scale)-t.Scale)
}

// FitBoard centers and fits the full content bounds inside the viewport,
// leaving fitPaddingPx of breathing room. An empty bounds resets the view.
func FitBoard(bounds Rect, viewport Size) Transform {
	return fit(bounds, viewport, maxFitScaleBoard)
}

// FitAsset fits a single asset's geometry, with the tighter asset ceiling so
// a small thumbnail does not blow up to full screen.
func FitAsset(bounds Rect, viewport Size) Transform {
	return fit(bounds, viewport, maxFitScaleAsset)
}

func fit(bounds Rect, viewport Size, maxScale float64) Transform {
	if bounds.Width <= 0 || bounds.Height <= 0 {
		return Transform{X: 50, Y: 50, Scale: 1}
	}
	availW := viewport.Width - fitPaddingPx
	availH := viewport.Height - fitPaddingPx

	scale := min(availW/bounds.Width, availH/bounds.Height)
	if scale > maxScale {
		scale = maxScale
	}
	if scale < MinScale {
		scale = MinScale
	}

	center := bounds.Center()
	return Transform{
		X:     viewport.Width/2 - center.X*scale,
		Y:     viewport.Height/2 - center.Y*scale,
		Scale: scale,
	}
}
