// Package recorder fans workflow transitions out to the history store,
// S3 artifact export, and EventBridge. Every sink is optional and every
// failure is logged rather than returned: recording never affects the
// workflow itself.
package recorder

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/ai-virtual-stylist/internal/events"
	"github.com/fpang/ai-virtual-stylist/internal/imagefile"
	"github.com/fpang/ai-virtual-stylist/internal/s3util"
	"github.com/fpang/ai-virtual-stylist/internal/session"
	"github.com/fpang/ai-virtual-stylist/internal/store"
	"github.com/fpang/ai-virtual-stylist/internal/workflow"
)

// Artifact names used for export keys and the HTTP artifact route.
const (
	ArtifactComposite = "composite"
	ArtifactFinal     = "final"
)

// ArtifactName maps a stage to the name of the artifact it produces.
func ArtifactName(stage workflow.Stage) string {
	if stage == workflow.StageRestyle {
		return ArtifactFinal
	}
	return ArtifactComposite
}

// StageNotifier receives resolved stages. *events.Emitter satisfies it.
type StageNotifier interface {
	StageResolved(ctx context.Context, ev events.StageEvent) error
}

// Options selects the sinks. Nil or empty fields disable the matching sink.
type Options struct {
	Store  store.HistoryStore
	S3     s3util.ObjectPutter
	Bucket string
	Events StageNotifier
	// Timeout bounds the work done for one transition. Zero means 30s.
	Timeout time.Duration
}

// Recorder observes machines on behalf of the configured sinks.
type Recorder struct {
	opts Options
}

// New returns a Recorder writing to the sinks in opts.
func New(opts Options) *Recorder {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Bucket == "" {
		opts.S3 = nil
	}
	return &Recorder{opts: opts}
}

// Hook attaches the recorder to every session created by a registry.
func (r *Recorder) Hook() session.Hook {
	return func(s *session.Session) {
		r.Attach(s.ID, s.Machine, s.CreatedAt)
	}
}

// Attach starts recording m's transitions under sessionID.
func (r *Recorder) Attach(sessionID string, m *workflow.Machine, createdAt time.Time) {
	t := &tracker{rec: r, sessionID: sessionID, createdAt: createdAt.Unix()}
	m.Observe(t.observe)
}

// tracker holds per-session bookkeeping. Observers can run concurrently and
// out of order (an export may still be uploading when the next transition
// arrives), so every field remembers the seq it was last set at and only a
// newer transition may change it.
type tracker struct {
	rec       *Recorder
	sessionID string
	createdAt int64

	mu        sync.Mutex
	latest    workflow.Transition
	composite artifactRef
	final     artifactRef
}

// artifactRef is the exported key of one artifact as of transition seq.
type artifactRef struct {
	key string
	seq int64
}

// update applies tr to the reference. present reports whether the machine
// held the artifact after tr; resolvedKey is the key tr exported, if any.
func (a *artifactRef) update(seq int64, present bool, resolvedKey string) {
	if seq <= a.seq {
		return
	}
	switch {
	case !present:
		*a = artifactRef{seq: seq}
	case resolvedKey != "":
		*a = artifactRef{key: resolvedKey, seq: seq}
	}
}

func (t *tracker) observe(tr workflow.Transition) {
	opts := t.rec.opts
	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	stage, resolved := tr.Trigger.Resolution()
	succeeded := resolved && tr.Err == nil

	var artifactKey string
	if succeeded && opts.S3 != nil {
		artifactKey = t.export(ctx, stage, tr.State)
	}

	t.record(ctx, tr, stage, succeeded, artifactKey)

	if resolved && opts.Events != nil {
		ev := events.StageEvent{
			SessionID:   t.sessionID,
			Stage:       string(stage),
			Phase:       tr.To.String(),
			Persona:     string(tr.State.Persona),
			ArtifactKey: artifactKey,
			DurationMs:  tr.Duration.Milliseconds(),
		}
		if tr.Err != nil {
			ev.Error = tr.Err.Error()
		}
		if err := opts.Events.StageResolved(ctx, ev); err != nil {
			log.Warn().Err(err).Str("sessionId", t.sessionID).Msg("Failed to publish stage event")
		}
	}
}

// record writes the transition and the session record built from the newest
// transition seen so far. t.mu is held across the writes so a stale session
// record never lands after a fresher one.
func (t *tracker) record(ctx context.Context, tr workflow.Transition, stage workflow.Stage, succeeded bool, artifactKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var compositeKey, finalKey string
	if succeeded && stage == workflow.StageComposite {
		compositeKey = artifactKey
	}
	if succeeded && stage == workflow.StageRestyle {
		finalKey = artifactKey
	}
	t.composite.update(tr.Seq, tr.State.Composite != "", compositeKey)
	t.final.update(tr.Seq, tr.State.Final != "", finalKey)
	if tr.Seq > t.latest.Seq {
		t.latest = tr
	}

	history := t.rec.opts.Store
	if history == nil {
		return
	}

	rec := &store.Transition{
		SessionID:   t.sessionID,
		Seq:         tr.Seq,
		Trigger:     string(tr.Trigger),
		From:        tr.From.String(),
		To:          tr.To.String(),
		Persona:     string(tr.State.Persona),
		DurationMs:  tr.Duration.Milliseconds(),
		ArtifactKey: artifactKey,
	}
	if tr.Err != nil {
		rec.Error = tr.Err.Error()
	}
	if err := history.PutTransition(ctx, rec); err != nil {
		log.Warn().Err(err).Str("sessionId", t.sessionID).Msg("Failed to record transition")
	}

	meta := &store.Session{
		ID:           t.sessionID,
		Phase:        t.latest.To.String(),
		Persona:      string(t.latest.State.Persona),
		LastError:    t.latest.State.LastError,
		CompositeKey: t.composite.key,
		FinalKey:     t.final.key,
		CreatedAt:    t.createdAt,
		UpdatedAt:    time.Now().Unix(),
	}
	if err := history.PutSession(ctx, meta); err != nil {
		log.Warn().Err(err).Str("sessionId", t.sessionID).Msg("Failed to record session")
	}
}

// export uploads the artifact the stage produced and returns its key, or ""
// when the upload failed.
func (t *tracker) export(ctx context.Context, stage workflow.Stage, s workflow.State) string {
	url := s.Composite
	if stage == workflow.StageRestyle {
		url = s.Final
	}
	img, err := imagefile.ParseDataURL(url)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", t.sessionID).Msg("Artifact is not a valid data URL; skipping export")
		return ""
	}
	key, err := s3util.UploadArtifact(ctx, t.rec.opts.S3, t.rec.opts.Bucket, t.sessionID, ArtifactName(stage), img)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", t.sessionID).Msg("Artifact export failed")
		return ""
	}
	return key
}
