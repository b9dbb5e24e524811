package canvas

// Kind distinguishes the two asset media types on the board.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Status tracks an asset's lifecycle. Images land on the board already done;
// videos arrive with their content still being persisted and move
// saving -> done (or -> error if the upload fails).
type Status string

const (
	StatusGenerating Status = "generating"
	StatusSaving     Status = "saving"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// Asset is one generated (or imported) item on the board. Geometry lives in
// canvas space and mutates only through drags or the layout engine at
// creation time. SourceID, when set, points at the asset this one was
// derived from (edit, upscale, regenerate, background removal); it is fixed
// at creation and never reassigned, which is what keeps the lineage graph a
// forest.
type Asset struct {
	ID       string  `json:"id"`
	Kind     Kind    `json:"kind"`
	Src      string  `json:"src"`
	Prompt   string  `json:"prompt"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	SourceID string  `json:"sourceId,omitempty"`
	Status   Status  `json:"status"`
	ErrorMsg string  `json:"errorMsg,omitempty"`
}

// Geometry returns the asset's canvas-space rect.
func (a *Asset) Geometry() Rect {
	return Rect{X: a.X, Y: a.Y, Width: a.Width, Height: a.Height}
}

func (a *Asset) isRoot() bool { return a.SourceID == "" }
