// Package workflow drives the two-stage try-on flow: a person and a garment
// are composited (stage one) and the result is restyled with a persona
// (stage two).
//
// A Machine owns one State aggregate. Surfaces change it only through the
// Machine's operations; generation runs asynchronously and at most one stage
// is in flight at a time.
package workflow

import (
	"fmt"
	"time"

	"github.com/fpang/ai-virtual-stylist/internal/imagefile"
	"github.com/fpang/ai-virtual-stylist/internal/persona"
)

// Phase is the position of a machine in the workflow.
type Phase int

const (
	Idle Phase = iota
	CompositePending
	CompositeReady
	RestylePending
	RestyleReady
)

var phaseNames = map[Phase]string{
	Idle:             "idle",
	CompositePending: "composite_pending",
	CompositeReady:   "composite_ready",
	RestylePending:   "restyle_pending",
	RestyleReady:     "restyle_ready",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Pending reports whether a generation call is in flight.
func (p Phase) Pending() bool {
	return p == CompositePending || p == RestylePending
}

// MarshalText encodes the phase by name for JSON and log output.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ParsePhase is the inverse of Phase.String.
func ParsePhase(s string) (Phase, error) {
	for p, name := range phaseNames {
		if name == s {
			return p, nil
		}
	}
	return Idle, fmt.Errorf("unknown phase %q", s)
}

// Stage identifies one of the two generation calls.
type Stage string

const (
	StageComposite Stage = "composite"
	StageRestyle   Stage = "restyle"
)

// Labels shown while a stage is in flight.
const (
	LabelComposite = "Generating virtual try-on..."
	LabelRestyle   = "Applying model features..."
)

// State is the workflow aggregate. Values returned by Machine.Snapshot are
// copies; the image records they point to are immutable.
type State struct {
	Phase     Phase
	Character *imagefile.ImageRecord
	Garment   *imagefile.ImageRecord
	// Composite is the stage-one artifact.
	Composite imagefile.DataURL
	// Final is the stage-two artifact. Non-empty only when Composite and
	// Persona are set.
	Final   imagefile.DataURL
	Persona persona.Persona
	// ActiveStage is the label of the stage in flight, empty otherwise.
	ActiveStage string
	LastError   string
}

// HasImages reports whether both inputs for stage one are present.
func (s State) HasImages() bool {
	return s.Character != nil && s.Garment != nil
}

// Trigger names the event that caused a transition.
type Trigger string

const (
	TriggerSetCharacter      Trigger = "set_character"
	TriggerSetGarment        Trigger = "set_garment"
	TriggerSelectPersona     Trigger = "select_persona"
	TriggerStartComposite    Trigger = "start_composite"
	TriggerCompositeResolved Trigger = "composite_resolved"
	TriggerCompositeFailed   Trigger = "composite_failed"
	TriggerStartRestyle      Trigger = "start_restyle"
	TriggerRestyleResolved   Trigger = "restyle_resolved"
	TriggerRestyleFailed     Trigger = "restyle_failed"
)

// Resolution reports whether the trigger ends a stage, and which one.
func (t Trigger) Resolution() (Stage, bool) {
	switch t {
	case TriggerCompositeResolved, TriggerCompositeFailed:
		return StageComposite, true
	case TriggerRestyleResolved, TriggerRestyleFailed:
		return StageRestyle, true
	}
	return "", false
}

// Transition is reported to observers after every accepted trigger.
type Transition struct {
	// Seq numbers a machine's transitions from 1 in the order they happened.
	// Observers may receive them out of order.
	Seq     int64
	Trigger Trigger
	From    Phase
	To      Phase
	// State is a snapshot taken right after the transition.
	State State
	// Duration is the generation time for stage resolutions, zero otherwise.
	Duration time.Duration
	// Err is the stage error for failed resolutions.
	Err error
}

// Observer receives transitions. It is called outside the machine lock, from
// the goroutine that caused the transition.
type Observer func(Transition)
