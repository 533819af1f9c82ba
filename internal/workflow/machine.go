package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fpang/ai-virtual-stylist/internal/failure"
	"github.com/fpang/ai-virtual-stylist/internal/imagefile"
	"github.com/fpang/ai-virtual-stylist/internal/persona"
	"github.com/rs/zerolog/log"
)

// Generator performs the two remote generation calls.
// *chat.StylistClient satisfies it.
type Generator interface {
	Composite(ctx context.Context, person, garment imagefile.ImageRecord) (imagefile.DataURL, error)
	Restyle(ctx context.Context, base imagefile.ImageRecord, p persona.Persona) (imagefile.DataURL, error)
}

// Machine is the workflow state machine. It is safe for concurrent use.
type Machine struct {
	gen Generator

	mu        sync.Mutex
	state     State
	seq       int64
	observers []Observer
}

// New returns an Idle machine that generates with gen.
func New(gen Generator) *Machine {
	return &Machine{gen: gen}
}

// Observe registers fn to receive every subsequent transition.
func (m *Machine) Observe(fn Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetCharacter stores the person image. It returns false, leaving the state
// unchanged, while a stage is in flight or when rec is empty.
func (m *Machine) SetCharacter(rec imagefile.ImageRecord) bool {
	return m.setImage(TriggerSetCharacter, rec, func(s *State, r *imagefile.ImageRecord) { s.Character = r })
}

// SetGarment stores the garment image. Same rules as SetCharacter.
func (m *Machine) SetGarment(rec imagefile.ImageRecord) bool {
	return m.setImage(TriggerSetGarment, rec, func(s *State, r *imagefile.ImageRecord) { s.Garment = r })
}

func (m *Machine) setImage(trigger Trigger, rec imagefile.ImageRecord, assign func(*State, *imagefile.ImageRecord)) bool {
	if rec.IsZero() {
		return false
	}

	m.mu.Lock()
	if m.state.Phase.Pending() {
		m.mu.Unlock()
		log.Debug().Str("trigger", string(trigger)).Msg("Ignoring upload while a stage is in flight")
		return false
	}
	from := m.state.Phase
	assign(&m.state, &rec)
	// New input invalidates anything generated from the old one.
	if from == CompositeReady || from == RestyleReady {
		m.state.Phase = Idle
		m.state.Composite = ""
		m.state.Final = ""
		m.state.Persona = ""
	}
	t, observers := m.transitionLocked(trigger, from, 0, nil)
	m.mu.Unlock()

	notify(observers, t)
	return true
}

// SelectPersona stores the restyle target. Only legal once a stage-one
// artifact exists and no stage is in flight.
func (m *Machine) SelectPersona(p persona.Persona) bool {
	if !p.Valid() {
		return false
	}

	m.mu.Lock()
	from := m.state.Phase
	if from != CompositeReady && from != RestyleReady {
		m.mu.Unlock()
		return false
	}
	m.state.Persona = p
	t, observers := m.transitionLocked(TriggerSelectPersona, from, 0, nil)
	m.mu.Unlock()

	notify(observers, t)
	return true
}

// StartComposite launches stage one. It is ignored, returning (nil, false),
// while a stage is in flight or until both images are present.
//
// ctx is passed to the generator; the machine applies no timeout of its own.
func (m *Machine) StartComposite(ctx context.Context) (*Run, bool) {
	m.mu.Lock()
	if m.state.Phase.Pending() || !m.state.HasImages() {
		m.mu.Unlock()
		return nil, false
	}
	from := m.state.Phase
	person, garment := *m.state.Character, *m.state.Garment
	m.state.Phase = CompositePending
	m.state.ActiveStage = LabelComposite
	m.state.Composite = ""
	m.state.Final = ""
	m.state.Persona = ""
	m.state.LastError = ""
	t, observers := m.transitionLocked(TriggerStartComposite, from, 0, nil)
	m.mu.Unlock()

	notify(observers, t)

	run := newRun(StageComposite)
	go func() {
		url, err := callGenerator(func() (imagefile.DataURL, error) {
			return m.gen.Composite(ctx, person, garment)
		})
		m.resolve(run, url, err)
	}()
	return run, true
}

// StartRestyle launches stage two from the stage-one artifact and the
// selected persona. It is ignored, returning (nil, false), unless the machine
// is in CompositeReady or RestyleReady with both present.
func (m *Machine) StartRestyle(ctx context.Context) (*Run, bool) {
	m.mu.Lock()
	from := m.state.Phase
	if (from != CompositeReady && from != RestyleReady) || m.state.Composite == "" || !m.state.Persona.Valid() {
		m.mu.Unlock()
		return nil, false
	}
	composite, p := m.state.Composite, m.state.Persona
	m.state.Phase = RestylePending
	m.state.ActiveStage = LabelRestyle
	m.state.Final = ""
	m.state.LastError = ""
	t, observers := m.transitionLocked(TriggerStartRestyle, from, 0, nil)
	m.mu.Unlock()

	notify(observers, t)

	run := newRun(StageRestyle)
	go func() {
		url, err := callGenerator(func() (imagefile.DataURL, error) {
			base, err := imagefile.ParseDataURL(composite)
			if err != nil {
				return "", failure.Generation("failed to decode the try-on image", err)
			}
			return m.gen.Restyle(ctx, base, p)
		})
		m.resolve(run, url, err)
	}()
	return run, true
}

// resolve applies the outcome of a stage, notifies observers, then releases
// waiters.
func (m *Machine) resolve(run *Run, url imagefile.DataURL, err error) {
	if err == nil && url == "" {
		err = failure.Generation("generator returned no image", nil)
	}
	elapsed := time.Since(run.started)

	m.mu.Lock()
	from := m.state.Phase
	m.state.ActiveStage = ""
	var trigger Trigger
	switch run.stage {
	case StageComposite:
		if err != nil {
			trigger = TriggerCompositeFailed
			m.state.Phase = Idle
			m.state.LastError = err.Error()
		} else {
			trigger = TriggerCompositeResolved
			m.state.Phase = CompositeReady
			m.state.Composite = url
		}
	case StageRestyle:
		if err != nil {
			trigger = TriggerRestyleFailed
			m.state.Phase = CompositeReady
			m.state.LastError = err.Error()
		} else {
			trigger = TriggerRestyleResolved
			m.state.Phase = RestyleReady
			m.state.Final = url
		}
	}
	t, observers := m.transitionLocked(trigger, from, elapsed, err)
	m.mu.Unlock()

	evt := log.Info()
	if err != nil {
		evt = log.Warn().Err(err)
	}
	evt.Str("stage", string(run.stage)).
		Str("phase", t.To.String()).
		Dur("duration", elapsed).
		Msg("Stage resolved")

	notify(observers, t)
	run.finish(url, err)
}

// transitionLocked builds the transition record for the current state and
// copies the observer list. Callers hold m.mu.
func (m *Machine) transitionLocked(trigger Trigger, from Phase, d time.Duration, err error) (Transition, []Observer) {
	m.seq++
	t := Transition{
		Seq:      m.seq,
		Trigger:  trigger,
		From:     from,
		To:       m.state.Phase,
		State:    m.state,
		Duration: d,
		Err:      err,
	}
	observers := make([]Observer, len(m.observers))
	copy(observers, m.observers)
	return t, observers
}

func notify(observers []Observer, t Transition) {
	for _, fn := range observers {
		fn(t)
	}
}

// callGenerator turns a panicking generator into a stage failure so the
// machine never stays pending.
func callGenerator(fn func() (imagefile.DataURL, error)) (url imagefile.DataURL, err error) {
	defer func() {
		if r := recover(); r != nil {
			url = ""
			err = failure.Generation("image generation crashed", fmt.Errorf("panic: %v", r))
		}
	}()
	return fn()
}

// Run is a handle on one in-flight stage.
type Run struct {
	stage   Stage
	started time.Time
	done    chan struct{}
	url     imagefile.DataURL
	err     error
}

func newRun(stage Stage) *Run {
	return &Run{stage: stage, started: time.Now(), done: make(chan struct{})}
}

func (r *Run) finish(url imagefile.DataURL, err error) {
	if err == nil {
		r.url = url
	}
	r.err = err
	close(r.done)
}

// Stage returns which generation call this run performs.
func (r *Run) Stage() Stage {
	return r.stage
}

// Done is closed once the stage has resolved and observers have run.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Err returns the stage error. Only meaningful after Done is closed.
func (r *Run) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Result returns the artifact this run produced. It is empty until Done is
// closed, and stays empty when the stage failed. Later stages do not change it.
func (r *Run) Result() imagefile.DataURL {
	select {
	case <-r.done:
		return r.url
	default:
		return ""
	}
}

// Wait blocks until the stage resolves and returns its error, or returns
// ctx.Err() if ctx ends first. The stage itself keeps running in that case.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
