package canvas

import (
	"errors"
	"fmt"
)

// Registry-level construction errors. A DuplicateIDError is a programmer
// error (ids carry timestamp + random entropy), not a runtime condition the
// caller is expected to recover from.
var (
	ErrEmptyID       = errors.New("asset id must not be empty")
	ErrSelfReference = errors.New("asset cannot be its own source")
	ErrUnknownSource = errors.New("source asset is not registered")
)

// DuplicateIDError reports an Insert with an id that is already present.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("asset %q already registered", e.ID)
}

// Registry owns the assets on one board, keyed by id. It is not safe for
// concurrent use; the owning Session serializes access.
//
// Lineage acyclicity is guaranteed by construction: Insert only admits a
// SourceID that is already registered and not the asset itself, and nothing
// mutates SourceID afterwards, so a source always predates its derivatives.
type Registry struct {
	assets map[string]*Asset
	order  []string // insertion order, for stable iteration
}

func NewRegistry() *Registry {
	return &Registry{assets: make(map[string]*Asset)}
}

// Insert registers a new asset. The asset is copied; callers keep ownership
// of their argument.
func (r *Registry) Insert(a Asset) error {
	if a.ID == "" {
		return ErrEmptyID
	}
	if _, ok := r.assets[a.ID]; ok {
		return &DuplicateIDError{ID: a.ID}
	}
	if a.SourceID != "" {
		if a.SourceID == a.ID {
			return ErrSelfReference
		}
		if _, ok := r.assets[a.SourceID]; !ok {
			return fmt.Errorf("asset %q: %w", a.ID, ErrUnknownSource)
		}
	}
	stored := a
	r.assets[a.ID] = &stored
	r.order = append(r.order, a.ID)
	return nil
}

// UpdatePosition moves an asset. A missing id is a benign no-op: a drag
// handler may race an asynchronous removal and that should not surface as an
// error.
func (r *Registry) UpdatePosition(id string, x, y float64) {
	if a, ok := r.assets[id]; ok {
		a.X = x
		a.Y = y
	}
}

// SetStatus advances an asset's lifecycle and optionally swaps its content
// reference (a video's src changes from operation URI to persisted URL).
// Missing ids are ignored like UpdatePosition.
func (r *Registry) SetStatus(id string, status Status, src string) {
	if a, ok := r.assets[id]; ok {
		a.Status = status
		if src != "" {
			a.Src = src
		}
		if status != StatusError {
			a.ErrorMsg = ""
		}
	}
}

// SetError marks an asset failed with a human-readable message.
func (r *Registry) SetError(id string, msg string) {
	if a, ok := r.assets[id]; ok {
		a.Status = StatusError
		a.ErrorMsg = msg
	}
}

// Get returns the asset with the given id, or nil.
func (r *Registry) Get(id string) *Asset {
	return r.assets[id]
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.assets[id]
	return ok
}

func (r *Registry) Len() int { return len(r.assets) }

// All returns every asset in insertion order.
func (r *Registry) All() []*Asset {
	out := make([]*Asset, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.assets[id])
	}
	return out
}

// NeighborsExcluding returns every asset except id, in insertion order.
// This is the candidate set the snap engine aligns against.
func (r *Registry) NeighborsExcluding(id string) []*Asset {
	out := make([]*Asset, 0, len(r.order))
	for _, aid := range r.order {
		if aid != id {
			out = append(out, r.assets[aid])
		}
	}
	return out
}

// ChildrenOf returns the assets derived directly from id.
func (r *Registry) ChildrenOf(id string) []*Asset {
	var out []*Asset
	for _, aid := range r.order {
		if a := r.assets[aid]; a.SourceID == id {
			out = append(out, a)
		}
	}
	return out
}

// Roots returns the assets with no source, i.e. the series heads.
func (r *Registry) Roots() []*Asset {
	var out []*Asset
	for _, aid := range r.order {
		if a := r.assets[aid]; a.isRoot() {
			out = append(out, a)
		}
	}
	return out
}

// Bounds returns the union rect of all assets and whether any exist.
func (r *Registry) Bounds() (Rect, bool) {
	var bounds Rect
	first := true
	for _, aid := range r.order {
		g := r.assets[aid].Geometry()
		if first {
			bounds = g
			first = false
			continue
		}
		bounds = bounds.Union(g)
	}
	return bounds, !first
}

// Series groups assets by lineage: one entry per root, holding the root and
// every transitive derivative in breadth-first order. Newest root first, so
// the sidebar shows the most recent chain of work on top.
type Series struct {
	RootID        string   `json:"rootId"`
	InitialPrompt string   `json:"initialPrompt"`
	Assets        []*Asset `json:"assets"`
}

func (r *Registry) Series() []Series {
	roots := r.Roots()
	out := make([]Series, 0, len(roots))
	for _, root := range roots {
		s := Series{RootID: root.ID, InitialPrompt: root.Prompt}
		queue := []string{root.ID}
		s.Assets = append(s.Assets, root)
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, child := range r.ChildrenOf(cur) {
				s.Assets = append(s.Assets, child)
				queue = append(queue, child.ID)
			}
		}
		out = append(out, s)
	}
	// Insertion order of roots is creation order; newest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
