package canvas

import (
	"bytes"
	"testing"
)

func previewBoard() Snapshot {
	return Snapshot{
		Assets: []Asset{
			{ID: "a", Kind: KindImage, X: 0, Y: 0, Width: 200, Height: 150, Status: StatusDone},
			{ID: "b", Kind: KindImage, X: 300, Y: 120, Width: 200, Height: 150, SourceID: "a", Status: StatusDone},
		},
	}
}

func TestRenderPreviewEmptyBoard(t *testing.T) {
	png, err := RenderPreview(Snapshot{}, 320, 240)
	if err != nil {
		t.Fatal(err)
	}
	if len(png) == 0 {
		t.Error("empty board produced no image")
	}
}

func TestRenderPreviewDrawsGuides(t *testing.T) {
	plain, err := RenderPreview(previewBoard(), 320, 240)
	if err != nil {
		t.Fatal(err)
	}

	guided := previewBoard()
	guided.Guides = []Guide{
		{Orientation: Vertical, Position: 100},
		{Orientation: Horizontal, Position: 75},
	}
	withGuides, err := RenderPreview(guided, 320, 240)
	if err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(plain, withGuides) {
		t.Error("active guides rendered identically to a board without them")
	}
}
