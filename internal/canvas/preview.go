package canvas

import (
	"bytes"
	"image/color"

	"github.com/fogleman/gg"
)

// Preview renderer colors. The board mirrors the client's dark workspace so
// shared thumbnails look like the real thing.
var (
	previewBackground = color.RGBA{R: 0x12, G: 0x12, B: 0x14, A: 0xff}
	previewFrame      = color.RGBA{R: 0x3a, G: 0x3a, B: 0x40, A: 0xff}
	previewFill       = color.RGBA{R: 0x1e, G: 0x1e, B: 0x24, A: 0xff}
	previewSelected   = color.RGBA{R: 0x7c, G: 0x5c, B: 0xff, A: 0xff}
	previewError      = color.RGBA{R: 0xe5, G: 0x48, B: 0x4d, A: 0xff}
	previewPending    = color.RGBA{R: 0xd6, G: 0xa4, B: 0x3c, A: 0xff}
	previewLink       = color.RGBA{R: 0x55, G: 0x55, B: 0x60, A: 0xff}
	previewGuide      = color.RGBA{R: 0x4c, G: 0x8d, B: 0xd4, A: 0xff}
)

// RenderPreview rasterizes a snapshot into a PNG of the given pixel size.
// The whole board is fitted into the frame with the standard fit math, so
// the thumbnail shows the same framing a fit-to-screen would. Assets render
// as placeholder cards tinted by status; actual media content is not
// fetched here.
func RenderPreview(snap Snapshot, width, height int) ([]byte, error) {
	dc := gg.NewContext(width, height)
	dc.SetColor(previewBackground)
	dc.Clear()

	if len(snap.Assets) == 0 {
		return encodePNG(dc)
	}

	bounds := snap.Assets[0].Geometry()
	for _, a := range snap.Assets[1:] {
		bounds = bounds.Union(a.Geometry())
	}
	t := FitBoard(bounds, Size{Width: float64(width), Height: float64(height)})

	// Lineage links first so cards draw over them.
	dc.SetColor(previewLink)
	dc.SetLineWidth(1)
	byID := make(map[string]Asset, len(snap.Assets))
	for _, a := range snap.Assets {
		byID[a.ID] = a
	}
	for _, a := range snap.Assets {
		if a.SourceID == "" {
			continue
		}
		src, ok := byID[a.SourceID]
		if !ok {
			continue
		}
		from := t.ToScreen(src.Geometry().Center())
		to := t.ToScreen(a.Geometry().Center())
		dc.DrawLine(from.X, from.Y, to.X, to.Y)
		dc.Stroke()
	}

	for _, a := range snap.Assets {
		topLeft := t.ToScreen(Point{X: a.X, Y: a.Y})
		w := a.Width * t.Scale
		h := a.Height * t.Scale

		dc.SetColor(previewFill)
		dc.DrawRoundedRectangle(topLeft.X, topLeft.Y, w, h, 4)
		dc.Fill()

		frame := previewFrame
		switch {
		case a.ID == snap.SelectedID:
			frame = previewSelected
		case a.Status == StatusError:
			frame = previewError
		case a.Status == StatusGenerating || a.Status == StatusSaving:
			frame = previewPending
		}
		dc.SetColor(frame)
		dc.SetLineWidth(2)
		dc.DrawRoundedRectangle(topLeft.X, topLeft.Y, w, h, 4)
		dc.Stroke()
	}

	// Alignment guides span the full frame, over the cards, the way the
	// editor overlays them.
	dc.SetColor(previewGuide)
	dc.SetLineWidth(1)
	for _, g := range snap.Guides {
		switch g.Orientation {
		case Vertical:
			x := t.ToScreen(Point{X: g.Position}).X
			dc.DrawLine(x, 0, x, float64(height))
		case Horizontal:
			y := t.ToScreen(Point{Y: g.Position}).Y
			dc.DrawLine(0, y, float64(width), y)
		}
		dc.Stroke()
	}

	return encodePNG(dc)
}

func encodePNG(dc *gg.Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
