package canvas

// Flow selects the auto-placement strategy for newly generated assets.
// Image boards stack derivatives vertically under their source; reel boards
// run each chain horizontally.
type Flow string

const (
	FlowVertical   Flow = "vertical"
	FlowHorizontal Flow = "horizontal"
)

// Layout gaps and tolerances, in canvas units.
const (
	columnGap       = 24.0 // vertical gap between a column's assets
	rootGapVertical = 40.0 // horizontal gap between root columns
	chainGap        = 40.0 // horizontal gap along a reel chain
	columnTolerance = 20.0 // |x - source.x| window that counts as "same column"
)

// Place computes where a new asset of the given size should land. sourceID
// is the asset it derives from, or empty for a fresh creation. Placement is
// purely additive: existing assets never move to make room.
func Place(reg *Registry, flow Flow, sourceID string, size Size) Point {
	if flow == FlowHorizontal {
		return placeHorizontal(reg, sourceID, size)
	}
	return placeVertical(reg, sourceID, size)
}

// placeVertical stacks derivatives under their source, aligned into the
// source's column; independent creations open new columns to the right of
// the first row.
func placeVertical(reg *Registry, sourceID string, size Size) Point {
	if sourceID != "" {
		if src := reg.Get(sourceID); src != nil {
			// The column is every asset whose x sits within tolerance of
			// the source's x, the source included. New work goes below the
			// column's lowest member.
			bottom := src.Y + src.Height
			for _, a := range reg.All() {
				if abs(a.X-src.X) < columnTolerance {
					if b := a.Y + a.Height; b > bottom {
						bottom = b
					}
				}
			}
			return Point{X: src.X, Y: bottom + columnGap}
		}
	}

	// Fresh creation: a new column right of the rightmost first-row root.
	var rightmost *Asset
	for _, a := range reg.All() {
		if a.isRoot() && a.Y == 0 {
			if rightmost == nil || a.X+a.Width > rightmost.X+rightmost.Width {
				rightmost = a
			}
		}
	}
	if rightmost == nil {
		return Point{X: 0, Y: 0}
	}
	return Point{X: rightmost.X + rightmost.Width + rootGapVertical, Y: 0}
}

// placeHorizontal continues a chain to the right of its source; without a
// source the new asset lands right of the rightmost asset on the board.
func placeHorizontal(reg *Registry, sourceID string, size Size) Point {
	if sourceID != "" {
		if src := reg.Get(sourceID); src != nil {
			return Point{X: src.X + src.Width + chainGap, Y: src.Y}
		}
	}

	var rightmost *Asset
	for _, a := range reg.All() {
		if rightmost == nil || a.X+a.Width > rightmost.X+rightmost.Width {
			rightmost = a
		}
	}
	if rightmost == nil {
		return Point{X: 50, Y: 50}
	}
	return Point{X: rightmost.X + rightmost.Width + chainGap, Y: 0}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
