package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fpang/ai-virtual-stylist/internal/events"
	"github.com/fpang/ai-virtual-stylist/internal/imagefile"
	"github.com/fpang/ai-virtual-stylist/internal/persona"
	"github.com/fpang/ai-virtual-stylist/internal/store"
	"github.com/fpang/ai-virtual-stylist/internal/workflow"
)

type stubGenerator struct {
	compositeErr error
}

func (g stubGenerator) Composite(context.Context, imagefile.ImageRecord, imagefile.ImageRecord) (imagefile.DataURL, error) {
	if g.compositeErr != nil {
		return "", g.compositeErr
	}
	return "data:image/png;base64,AAAA", nil
}

func (g stubGenerator) Restyle(context.Context, imagefile.ImageRecord, persona.Persona) (imagefile.DataURL, error) {
	return "data:image/jpeg;base64,BBBB", nil
}

type fakeS3 struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, *in.Key)
	return &s3.PutObjectOutput{}, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []events.StageEvent
}

func (f *fakeNotifier) StageResolved(_ context.Context, ev events.StageEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func runWorkflow(t *testing.T, m *workflow.Machine, restyle bool) {
	t.Helper()
	rec, err := imagefile.ParseDataURL("data:image/png;base64,AAAA")
	if err != nil {
		t.Fatal(err)
	}
	m.SetCharacter(rec)
	m.SetGarment(rec)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	run, ok := m.StartComposite(ctx)
	if !ok {
		t.Fatal("StartComposite() ignored")
	}
	if err := run.Wait(ctx); err != nil || !restyle {
		return
	}
	m.SelectPersona(persona.Korean)
	run, ok = m.StartRestyle(ctx)
	if !ok {
		t.Fatal("StartRestyle() ignored")
	}
	_ = run.Wait(ctx)
}

func TestRecorderFullRun(t *testing.T) {
	history := store.NewMemoryStore()
	bucket := &fakeS3{}
	notifier := &fakeNotifier{}
	r := New(Options{Store: history, S3: bucket, Bucket: "artifacts", Events: notifier})

	m := workflow.New(stubGenerator{})
	created := time.Unix(1700000000, 0)
	r.Attach("sess-1", m, created)
	runWorkflow(t, m, true)

	ctx := context.Background()
	list, err := history.ListTransitions(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 7 {
		t.Fatalf("recorded %d transitions, want 7", len(list))
	}
	last := list[len(list)-1]
	if last.Trigger != string(workflow.TriggerRestyleResolved) || last.To != "restyle_ready" || last.ArtifactKey != "sess-1/final.jpg" {
		t.Errorf("last transition = %+v", last)
	}
	for i, tr := range list {
		if tr.Seq != int64(i+1) {
			t.Errorf("transition %d has seq %d", i, tr.Seq)
		}
	}

	meta, err := history.GetSession(ctx, "sess-1")
	if err != nil || meta == nil {
		t.Fatalf("GetSession() = %v, %v", meta, err)
	}
	if meta.Phase != "restyle_ready" || meta.Persona != "Korean" || meta.CreatedAt != created.Unix() {
		t.Errorf("session = %+v", meta)
	}
	if meta.CompositeKey != "sess-1/composite.png" || meta.FinalKey != "sess-1/final.jpg" {
		t.Errorf("artifact keys = %q, %q", meta.CompositeKey, meta.FinalKey)
	}

	if len(bucket.keys) != 2 {
		t.Errorf("uploaded %v", bucket.keys)
	}
	if len(notifier.events) != 2 || notifier.events[0].Stage != "composite" || notifier.events[1].Stage != "restyle" {
		t.Errorf("events = %+v", notifier.events)
	}
}

func TestRecorderFailedStage(t *testing.T) {
	history := store.NewMemoryStore()
	bucket := &fakeS3{}
	notifier := &fakeNotifier{}
	r := New(Options{Store: history, S3: bucket, Bucket: "artifacts", Events: notifier})

	m := workflow.New(stubGenerator{compositeErr: errors.New("quota exhausted")})
	r.Attach("sess-2", m, time.Now())
	runWorkflow(t, m, false)

	if len(bucket.keys) != 0 {
		t.Errorf("failed stage exported %v", bucket.keys)
	}
	if len(notifier.events) != 1 || notifier.events[0].Error != "quota exhausted" {
		t.Fatalf("events = %+v", notifier.events)
	}

	meta, _ := history.GetSession(context.Background(), "sess-2")
	if meta.Phase != "idle" || meta.LastError != "quota exhausted" {
		t.Errorf("session = %+v", meta)
	}
}

func TestRecorderWithoutSinks(t *testing.T) {
	r := New(Options{S3: &fakeS3{}})
	m := workflow.New(stubGenerator{})
	r.Attach("sess-3", m, time.Now())
	runWorkflow(t, m, true)

	if m.Snapshot().Phase != workflow.RestyleReady {
		t.Errorf("Phase = %v", m.Snapshot().Phase)
	}
}

func TestArtifactName(t *testing.T) {
	if ArtifactName(workflow.StageComposite) != ArtifactComposite || ArtifactName(workflow.StageRestyle) != ArtifactFinal {
		t.Error("unexpected artifact names")
	}
}

// stallingS3 holds the first upload of key until release is closed.
type stallingS3 struct {
	key     string
	entered chan struct{}
	release chan struct{}

	mu      sync.Mutex
	stalled bool
}

func (f *stallingS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	stall := *in.Key == f.key && !f.stalled
	if stall {
		f.stalled = true
	}
	f.mu.Unlock()
	if stall {
		close(f.entered)
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &s3.PutObjectOutput{}, nil
}

// gatedRestyle answers the first restyle at once and blocks later ones on gate.
type gatedRestyle struct {
	stubGenerator
	gate chan struct{}

	mu    sync.Mutex
	calls int
}

func (g *gatedRestyle) Restyle(ctx context.Context, base imagefile.ImageRecord, p persona.Persona) (imagefile.DataURL, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.mu.Unlock()
	if n > 1 {
		<-g.gate
	}
	return g.stubGenerator.Restyle(ctx, base, p)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRecorderSlowExportKeepsOrder(t *testing.T) {
	history := store.NewMemoryStore()
	bucket := &stallingS3{key: "sess-4/final.jpg", entered: make(chan struct{}), release: make(chan struct{})}
	r := New(Options{Store: history, S3: bucket, Bucket: "artifacts"})

	gen := &gatedRestyle{gate: make(chan struct{})}
	m := workflow.New(gen)
	r.Attach("sess-4", m, time.Now())

	rec, err := imagefile.ParseDataURL("data:image/png;base64,AAAA")
	if err != nil {
		t.Fatal(err)
	}
	m.SetCharacter(rec)
	m.SetGarment(rec)
	ctx := context.Background()
	run, _ := m.StartComposite(ctx)
	if err := run.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	m.SelectPersona(persona.Korean)

	first, ok := m.StartRestyle(ctx)
	if !ok {
		t.Fatal("StartRestyle() ignored")
	}
	// The machine is ready while the final export is still uploading.
	<-bucket.entered
	waitFor(t, "restyle_ready", func() bool { return m.Snapshot().Phase == workflow.RestyleReady })

	second, ok := m.StartRestyle(ctx)
	if !ok {
		t.Fatal("second StartRestyle() ignored")
	}
	close(bucket.release)
	<-first.Done()

	list, err := history.ListTransitions(ctx, "sess-4")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 8 {
		t.Fatalf("recorded %d transitions, want 8", len(list))
	}
	if list[6].Trigger != string(workflow.TriggerRestyleResolved) || list[6].ArtifactKey != "sess-4/final.jpg" {
		t.Errorf("transition 7 = %+v", list[6])
	}
	if list[7].Trigger != string(workflow.TriggerStartRestyle) || list[7].To != "restyle_pending" {
		t.Errorf("transition 8 = %+v", list[7])
	}

	meta, _ := history.GetSession(ctx, "sess-4")
	if meta.Phase != "restyle_pending" || meta.FinalKey != "" {
		t.Errorf("session while pending = phase %q finalKey %q, want restyle_pending and no key", meta.Phase, meta.FinalKey)
	}
	if meta.CompositeKey != "sess-4/composite.png" {
		t.Errorf("compositeKey = %q", meta.CompositeKey)
	}

	close(gen.gate)
	if err := second.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	meta, _ = history.GetSession(ctx, "sess-4")
	if meta.Phase != "restyle_ready" || meta.FinalKey != "sess-4/final.jpg" {
		t.Errorf("session after second restyle = phase %q finalKey %q", meta.Phase, meta.FinalKey)
	}
}

func TestArtifactRefIgnoresStaleUpdates(t *testing.T) {
	tests := []struct {
		name     string
		start    artifactRef
		seq      int64
		present  bool
		resolved string
		want     artifactRef
	}{
		{"resolution sets key", artifactRef{seq: 3}, 4, true, "s/final.png", artifactRef{key: "s/final.png", seq: 4}},
		{"cleared artifact drops key", artifactRef{key: "s/final.png", seq: 4}, 5, false, "", artifactRef{seq: 5}},
		{"late resolution ignored", artifactRef{seq: 7}, 6, true, "s/final.png", artifactRef{seq: 7}},
		{"unrelated transition keeps key", artifactRef{key: "s/final.png", seq: 4}, 8, true, "", artifactRef{key: "s/final.png", seq: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.start
			got.update(tt.seq, tt.present, tt.resolved)
			if got != tt.want {
				t.Errorf("update() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
