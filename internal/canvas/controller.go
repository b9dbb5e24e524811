package canvas

import (
	"errors"
	"fmt"
	"sync"
)

// ToolMode is the active board tool. Select drags assets, Pan always pans,
// Chat leaves pointer input to the prompt surface.
type ToolMode string

const (
	ToolSelect ToolMode = "select"
	ToolPan    ToolMode = "pan"
	ToolChat   ToolMode = "chat"
)

// Mouse buttons as delivered by the client.
const (
	ButtonLeft   = 0
	ButtonMiddle = 1
)

var ErrUnknownAsset = errors.New("unknown asset")

// pointerPhase is the interaction state. Transitions only happen through
// Dispatch, so illegal sequences (a move without a down, a second down while
// dragging) degrade to no-ops instead of corrupting state.
type pointerPhase int

const (
	phaseIdle pointerPhase = iota
	phasePanning
	phaseDragging
)

type pointerState struct {
	phase pointerPhase

	// Dragging.
	assetID     string
	startScreen Point // pointer-down position, screen space
	startAsset  Point // asset position at pointer-down, canvas space

	// Panning.
	startTransform Transform
}

// Session is one user's live board: registry, view transform, tool, selection
// and in-flight pointer interaction. All access goes through Dispatch or the
// exported mutators, which serialize on an internal mutex; the orchestrator's
// fire-and-forget goroutines touch the same session as the request path.
type Session struct {
	mu sync.Mutex

	reg       *Registry
	transform Transform
	viewport  Size
	tool      ToolMode
	selected  string
	chatting  string
	pointer   pointerState
	guides    []Guide
}

func NewSession(viewport Size) *Session {
	return &Session{
		reg:       NewRegistry(),
		transform: DefaultTransform(),
		viewport:  viewport,
		tool:      ToolSelect,
	}
}

// Command is one board interaction. Commands mutate the session under its
// lock and the caller reads the result back through Snapshot, so a handler
// round-trip is always dispatch-then-snapshot with no state leaking between.
type Command interface {
	apply(s *Session) error
}

// Dispatch runs one command under the session lock.
func (s *Session) Dispatch(cmd Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cmd.apply(s)
}

// PointerDown begins a pan, an asset drag, or a selection change. AssetID is
// the asset under the pointer, empty over open board. The middle button
// always pans regardless of tool; in select and chat mode a background press
// clears the current target instead of panning.
type PointerDown struct {
	Screen  Point
	Button  int
	AssetID string
}

func (c PointerDown) apply(s *Session) error {
	if s.pointer.phase != phaseIdle {
		return nil
	}
	if c.Button == ButtonMiddle || s.tool == ToolPan {
		s.pointer = pointerState{
			phase:          phasePanning,
			startScreen:    c.Screen,
			startTransform: s.transform,
		}
		return nil
	}
	if c.AssetID == "" {
		s.selected = ""
		s.chatting = ""
		return nil
	}
	a := s.reg.Get(c.AssetID)
	if a == nil {
		return fmt.Errorf("pointer down on %q: %w", c.AssetID, ErrUnknownAsset)
	}
	if s.tool == ToolChat {
		// Chat target and selection are mutually exclusive.
		s.chatting = c.AssetID
		s.selected = ""
		return nil
	}
	s.selected = c.AssetID
	s.chatting = ""
	s.pointer = pointerState{
		phase:       phaseDragging,
		assetID:     c.AssetID,
		startScreen: c.Screen,
		startAsset:  Point{X: a.X, Y: a.Y},
	}
	return nil
}

// PointerMove advances the active pan or drag. DisableSnap carries the
// Ctrl/Cmd modifier. Moves while idle are ignored.
type PointerMove struct {
	Screen      Point
	DisableSnap bool
}

func (c PointerMove) apply(s *Session) error {
	switch s.pointer.phase {
	case phasePanning:
		dx := c.Screen.X - s.pointer.startScreen.X
		dy := c.Screen.Y - s.pointer.startScreen.Y
		s.transform = s.pointer.startTransform.PanBy(dx, dy)
	case phaseDragging:
		a := s.reg.Get(s.pointer.assetID)
		if a == nil {
			// Asset removed mid-drag; drop the interaction.
			s.pointer = pointerState{}
			s.guides = nil
			return nil
		}
		// Screen delta scaled into canvas space.
		rawX := s.pointer.startAsset.X + (c.Screen.X-s.pointer.startScreen.X)/s.transform.Scale
		rawY := s.pointer.startAsset.Y + (c.Screen.Y-s.pointer.startScreen.Y)/s.transform.Scale
		res := Snap(rawX, rawY, a.Width, a.Height, s.reg.NeighborsExcluding(a.ID), s.transform.Scale, c.DisableSnap)
		s.reg.UpdatePosition(a.ID, res.X, res.Y)
		s.guides = res.Guides
	}
	return nil
}

// PointerUp ends the current interaction and clears any guides.
type PointerUp struct{}

func (c PointerUp) apply(s *Session) error {
	s.pointer = pointerState{}
	s.guides = nil
	return nil
}

// Wheel zooms toward the pointer. Ignored while an asset drag is in
// progress so a stray scroll cannot shift the board under the drag.
type Wheel struct {
	Screen Point
	Delta  float64
}

func (c Wheel) apply(s *Session) error {
	if s.pointer.phase == phaseDragging {
		return nil
	}
	s.transform = s.transform.ZoomAtPoint(c.Screen, c.Delta)
	return nil
}

// SetTool switches the active tool. Switching mid-interaction cancels it.
type SetTool struct {
	Mode ToolMode
}

func (c SetTool) apply(s *Session) error {
	switch c.Mode {
	case ToolSelect, ToolPan, ToolChat:
	default:
		return fmt.Errorf("unknown tool mode %q", c.Mode)
	}
	s.tool = c.Mode
	s.pointer = pointerState{}
	s.guides = nil
	return nil
}

// SetScale jumps to an absolute zoom level, anchored at the viewport center.
type SetScale struct {
	Scale float64
}

func (c SetScale) apply(s *Session) error {
	s.transform = s.transform.WithScale(c.Scale, s.viewport)
	return nil
}

// FitView frames the whole board, or resets the view when it is empty.
type FitView struct{}

func (c FitView) apply(s *Session) error {
	bounds, ok := s.reg.Bounds()
	if !ok {
		s.transform = Transform{X: 50, Y: 50, Scale: 1}
		return nil
	}
	s.transform = FitBoard(bounds, s.viewport)
	return nil
}

// FocusAsset selects an asset and frames it.
type FocusAsset struct {
	ID string
}

func (c FocusAsset) apply(s *Session) error {
	a := s.reg.Get(c.ID)
	if a == nil {
		return fmt.Errorf("focus %q: %w", c.ID, ErrUnknownAsset)
	}
	s.selected = c.ID
	s.transform = FitAsset(a.Geometry(), s.viewport)
	return nil
}

// Select changes the selection without moving the view. An empty ID clears it.
type Select struct {
	ID string
}

func (c Select) apply(s *Session) error {
	if c.ID != "" && !s.reg.Has(c.ID) {
		return fmt.Errorf("select %q: %w", c.ID, ErrUnknownAsset)
	}
	s.selected = c.ID
	if c.ID != "" {
		s.chatting = ""
	}
	return nil
}

// SetViewport records a client resize so fit operations use current bounds.
type SetViewport struct {
	Viewport Size
}

func (c SetViewport) apply(s *Session) error {
	if c.Viewport.Width > 0 && c.Viewport.Height > 0 {
		s.viewport = c.Viewport
	}
	return nil
}

// InsertGenerated places and registers a newly generated asset. Position is
// computed by the flow layout unless the asset already carries one (imports
// land where the caller says).
func (s *Session) InsertGenerated(a Asset, flow Flow, placed bool) (Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !placed {
		p := Place(s.reg, flow, a.SourceID, Size{Width: a.Width, Height: a.Height})
		a.X, a.Y = p.X, p.Y
	}
	if err := s.reg.Insert(a); err != nil {
		return Asset{}, err
	}
	s.selected = a.ID
	return a, nil
}

// SetAssetStatus advances an asset's lifecycle from a background goroutine.
func (s *Session) SetAssetStatus(id string, status Status, src string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reg.SetStatus(id, status, src)
}

// SetAssetError marks an asset failed.
func (s *Session) SetAssetError(id, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reg.SetError(id, msg)
}

// Asset returns a copy of the asset with the given id.
func (s *Session) Asset(id string) (Asset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a := s.reg.Get(id); a != nil {
		return *a, true
	}
	return Asset{}, false
}

// SelectedID returns the current selection, empty if none.
func (s *Session) SelectedID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// ChattingID returns the on-board chat target, empty if none.
func (s *Session) ChattingID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatting
}

// Snapshot is an immutable view of the session for handlers and the preview
// renderer. Assets are copied; mutating a snapshot never touches the board.
type Snapshot struct {
	Transform  Transform `json:"transform"`
	Tool       ToolMode  `json:"tool"`
	SelectedID string    `json:"selectedId,omitempty"`
	ChattingID string    `json:"chattingId,omitempty"`
	Guides     []Guide   `json:"guides,omitempty"`
	Assets     []Asset   `json:"assets"`
	Series     []Series  `json:"series"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Transform:  s.transform,
		Tool:       s.tool,
		SelectedID: s.selected,
		ChattingID: s.chatting,
		Guides:     append([]Guide(nil), s.guides...),
	}
	for _, a := range s.reg.All() {
		snap.Assets = append(snap.Assets, *a)
	}
	for _, series := range s.reg.Series() {
		copied := Series{RootID: series.RootID, InitialPrompt: series.InitialPrompt}
		for _, a := range series.Assets {
			dup := *a
			copied.Assets = append(copied.Assets, &dup)
		}
		snap.Series = append(snap.Series, copied)
	}
	return snap
}
