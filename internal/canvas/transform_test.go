package canvas

import (
	"math"
	"testing"
)

func almostEq(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestToCanvasToScreenRoundTrip(t *testing.T) {
	tr := Transform{X: 120, Y: -40, Scale: 0.7}
	points := []Point{{0, 0}, {512, 384}, {-30, 991.5}}
	for _, p := range points {
		back := tr.ToScreen(tr.ToCanvas(p))
		if !almostEq(back.X, p.X) || !almostEq(back.Y, p.Y) {
			t.Errorf("round trip of %+v gave %+v", p, back)
		}
	}
}

func TestZoomAtPointKeepsFocalPointStationary(t *testing.T) {
	cases := []struct {
		name  string
		start Transform
		focus Point
		delta float64
	}{
		{"zoom in at origin", Transform{X: 50, Y: 50, Scale: 0.2}, Point{0, 0}, 0.1},
		{"zoom in at cursor", Transform{X: 50, Y: 50, Scale: 1}, Point{640, 360}, 0.5},
		{"zoom out at cursor", Transform{X: -200, Y: 90, Scale: 2.5}, Point{311, 47}, -1.0},
		{"tiny step", Transform{X: 0, Y: 0, Scale: 0.9}, Point{100, 200}, 0.01},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := tc.start.ToCanvas(tc.focus)
			next := tc.start.ZoomAtPoint(tc.focus, tc.delta)
			after := next.ToCanvas(tc.focus)
			if !almostEq(before.X, after.X) || !almostEq(before.Y, after.Y) {
				t.Errorf("focal point moved: before %+v after %+v", before, after)
			}
		})
	}
}

func TestZoomClampsScale(t *testing.T) {
	tr := Transform{X: 0, Y: 0, Scale: 4.9}
	if got := tr.ZoomAtPoint(Point{10, 10}, 3).Scale; got != MaxScale {
		t.Errorf("scale = %v, want clamp to %v", got, MaxScale)
	}
	tr = Transform{X: 0, Y: 0, Scale: 0.15}
	if got := tr.ZoomAtPoint(Point{10, 10}, -1).Scale; got != MinScale {
		t.Errorf("scale = %v, want clamp to %v", got, MinScale)
	}
}

func TestPanByPreservesScale(t *testing.T) {
	tr := Transform{X: 10, Y: 20, Scale: 0.4}
	got := tr.PanBy(-35, 12.5)
	if got.X != -25 || got.Y != 32.5 || got.Scale != 0.4 {
		t.Errorf("PanBy gave %+v", got)
	}
}

func TestWithScaleAnchorsViewportCenter(t *testing.T) {
	tr := Transform{X: 80, Y: -10, Scale: 0.5}
	vp := Size{Width: 1280, Height: 720}
	center := Point{X: vp.Width / 2, Y: vp.Height / 2}

	before := tr.ToCanvas(center)
	next := tr.WithScale(2, vp)
	after := next.ToCanvas(center)

	if next.Scale != 2 {
		t.Fatalf("scale = %v, want 2", next.Scale)
	}
	if !almostEq(before.X, after.X) || !almostEq(before.Y, after.Y) {
		t.Errorf("viewport center moved: before %+v after %+v", before, after)
	}
}

func TestFitBoard(t *testing.T) {
	vp := Size{Width: 1000, Height: 800}

	t.Run("empty bounds resets view", func(t *testing.T) {
		got := FitBoard(Rect{}, vp)
		want := Transform{X: 50, Y: 50, Scale: 1}
		if got != want {
			t.Errorf("got %+v, want %+v", got, want)
		}
	})

	t.Run("large content scales down with padding", func(t *testing.T) {
		bounds := Rect{X: 0, Y: 0, Width: 4500, Height: 1400}
		got := FitBoard(bounds, vp)
		// 900/4500 = 0.2 binds before 700/1400 = 0.5.
		if !almostEq(got.Scale, 0.2) {
			t.Fatalf("scale = %v, want 0.2", got.Scale)
		}
		center := got.ToScreen(bounds.Center())
		if !almostEq(center.X, vp.Width/2) || !almostEq(center.Y, vp.Height/2) {
			t.Errorf("content center at %+v, want viewport center", center)
		}
	})

	t.Run("small content capped at board ceiling", func(t *testing.T) {
		got := FitBoard(Rect{X: 10, Y: 10, Width: 100, Height: 100}, vp)
		if got.Scale != maxFitScaleBoard {
			t.Errorf("scale = %v, want %v", got.Scale, maxFitScaleBoard)
		}
	})
}

func TestFitAssetUsesHigherCeiling(t *testing.T) {
	vp := Size{Width: 1000, Height: 800}
	got := FitAsset(Rect{X: 0, Y: 0, Width: 100, Height: 100}, vp)
	if got.Scale != maxFitScaleAsset {
		t.Errorf("scale = %v, want %v", got.Scale, maxFitScaleAsset)
	}
}
