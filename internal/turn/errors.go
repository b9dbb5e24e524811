// Package turn implements the prompt-to-asset pipeline: one submitted prompt
// drives one pass through classify, optionally await a user choice, generate,
// place on the board, and persist. The orchestrator owns the conversation
// transcript and the single-in-flight serialization per session.
package turn

import (
	"errors"
	"fmt"
)

// ErrBusy rejects a submission while a previous turn is still in flight.
// The transcript is untouched; the caller simply retries after the current
// turn settles.
var ErrBusy = errors.New("a turn is already in progress")

// ValidationError rejects malformed input before classification starts.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid turn: " + e.Reason }

// ClassifierError wraps a director failure. It never reaches the user: the
// orchestrator degrades to a fresh creation with the raw prompt instead.
type ClassifierError struct {
	Err error
}

func (e *ClassifierError) Error() string { return "classifier: " + e.Err.Error() }
func (e *ClassifierError) Unwrap() error { return e.Err }

// GenerationErrorClass partitions generation failures by how they surface to
// the user. Transparent retry of transient network errors happens below the
// orchestrator, inside the generation client; whatever arrives here is final
// for the turn.
type GenerationErrorClass string

const (
	GenRateLimited GenerationErrorClass = "rate_limited"
	GenSafetyBlock GenerationErrorClass = "safety_blocked"
	GenTimeout     GenerationErrorClass = "timeout"
	GenUnknown     GenerationErrorClass = "unknown"
)

// GenerationError is a terminal generation failure for one turn.
type GenerationError struct {
	Class GenerationErrorClass
	Model Model
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation (%s, model %s): %v", e.Class, e.Model, e.Err)
}
func (e *GenerationError) Unwrap() error { return e.Err }

// ClassOf extracts the generation error class, GenUnknown for anything else.
func ClassOf(err error) GenerationErrorClass {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Class
	}
	return GenUnknown
}

// PersistenceError reports a post-generation side effect failure: the asset
// is already on the board, so this is non-fatal and surfaces as a follow-up
// transcript message.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return "persist (" + e.Op + "): " + e.Err.Error() }
func (e *PersistenceError) Unwrap() error { return e.Err }
