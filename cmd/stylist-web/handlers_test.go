package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fpang/ai-virtual-stylist/internal/imagefile"
	"github.com/fpang/ai-virtual-stylist/internal/persona"
	"github.com/fpang/ai-virtual-stylist/internal/recorder"
	"github.com/fpang/ai-virtual-stylist/internal/session"
	"github.com/fpang/ai-virtual-stylist/internal/store"
)

// gatedGenerator blocks each call until release is closed.
type gatedGenerator struct {
	release chan struct{}
	err     error
}

func (g *gatedGenerator) wait(ctx context.Context) error {
	select {
	case <-g.release:
		return g.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gatedGenerator) Composite(ctx context.Context, _, _ imagefile.ImageRecord) (imagefile.DataURL, error) {
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	return "data:image/png;base64,AAAA", nil
}

func (g *gatedGenerator) Restyle(ctx context.Context, _ imagefile.ImageRecord, _ persona.Persona) (imagefile.DataURL, error) {
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	return "data:image/jpeg;base64,BBBB", nil
}

type testServer struct {
	*httptest.Server
	gen     *gatedGenerator
	srv     *server
	history *store.MemoryStore
}

func newTestServer(t *testing.T, released bool) *testServer {
	t.Helper()
	gen := &gatedGenerator{release: make(chan struct{})}
	if released {
		close(gen.release)
	}
	history := store.NewMemoryStore()
	srv := &server{history: history, maxUpload: 1 << 20}
	srv.registry = session.NewRegistry(gen, time.Hour, recorder.New(recorder.Options{Store: history}).Hook())

	ts := httptest.NewServer(newRouter(srv))
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, gen: gen, srv: srv, history: history}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func (ts *testServer) do(t *testing.T, method, path, contentType string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeSession(t *testing.T, resp *http.Response) sessionResponse {
	t.Helper()
	var out sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func (ts *testServer) createSession(t *testing.T) string {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/api/sessions", "", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	out := decodeSession(t, resp)
	if out.ID == "" || out.State.Phase != "idle" {
		t.Fatalf("create = %+v", out)
	}
	return out.ID
}

func (ts *testServer) upload(t *testing.T, id, slot string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPut, "/api/sessions/"+id+"/images/"+slot, "image/png", bytes.NewReader(pngBytes(t)))
}

// waitPhase polls the session until it reaches want.
func (ts *testServer) waitPhase(t *testing.T, id, want string) stateView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		out := decodeSession(t, ts.do(t, http.MethodGet, "/api/sessions/"+id, "", nil))
		if out.State.Phase == want {
			return out.State
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session never reached phase %q", want)
	return stateView{}
}

func TestHealthAndPersonas(t *testing.T) {
	ts := newTestServer(t, true)

	resp := ts.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodGet, "/api/personas", "", nil)
	var personas []personaView
	if err := json.NewDecoder(resp.Body).Decode(&personas); err != nil {
		t.Fatal(err)
	}
	if len(personas) != len(persona.All()) {
		t.Fatalf("got %d personas, want %d", len(personas), len(persona.All()))
	}
	if personas[0].Name != "Korean" {
		t.Errorf("first persona = %q, want Korean", personas[0].Name)
	}
}

func TestUnknownSession(t *testing.T) {
	ts := newTestServer(t, true)
	for _, path := range []string{
		"/api/sessions/not-a-uuid",
		"/api/sessions/3f1c3d9e-8f7e-4b1a-9c55-5a0b0a0e7b11",
	} {
		if resp := ts.do(t, http.MethodGet, path, "", nil); resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestFullWorkflow(t *testing.T) {
	ts := newTestServer(t, true)
	id := ts.createSession(t)

	for _, slot := range []string{"character", "garment"} {
		resp := ts.upload(t, id, slot)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("upload %s = %d", slot, resp.StatusCode)
		}
	}

	resp := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/composite", "", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("composite = %d, want 202", resp.StatusCode)
	}
	st := ts.waitPhase(t, id, "composite_ready")
	if st.CompositeImage != "data:image/png;base64,AAAA" {
		t.Errorf("compositeImage = %q", st.CompositeImage)
	}

	resp = ts.do(t, http.MethodPut, "/api/sessions/"+id+"/persona", "application/json", strings.NewReader(`{"persona":"Chinese"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("persona = %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodPost, "/api/sessions/"+id+"/restyle", "", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("restyle = %d, want 202", resp.StatusCode)
	}
	st = ts.waitPhase(t, id, "restyle_ready")
	if st.FinalImage != "data:image/jpeg;base64,BBBB" || st.Persona != "Chinese" {
		t.Errorf("final state = %+v", st)
	}

	resp = ts.do(t, http.MethodGet, "/api/sessions/"+id+"/artifacts/final", "", nil)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/jpeg" {
		t.Errorf("artifact = %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	// The last transition is recorded just after the phase changes.
	// set x2, start, resolved, persona, start, resolved
	var history struct {
		Transitions []transitionView `json:"transitions"`
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp = ts.do(t, http.MethodGet, "/api/sessions/"+id+"/history", "", nil)
		if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
			t.Fatal(err)
		}
		if len(history.Transitions) == 7 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(history.Transitions) != 7 {
		t.Fatalf("history has %d transitions, want 7", len(history.Transitions))
	}
	if last := history.Transitions[6]; last.Trigger != "restyle_resolved" || last.To != "restyle_ready" {
		t.Errorf("last transition = %+v", last)
	}
}

func TestMultipartUpload(t *testing.T) {
	ts := newTestServer(t, true)
	id := ts.createSession(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "person.png")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(pngBytes(t))
	mw.Close()

	resp := ts.do(t, http.MethodPut, "/api/sessions/"+id+"/images/character", mw.FormDataContentType(), &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("multipart upload = %d", resp.StatusCode)
	}
	if out := decodeSession(t, resp); !strings.HasPrefix(out.State.CharacterImage, "data:image/png;base64,") {
		t.Errorf("characterImage = %.40q", out.State.CharacterImage)
	}
}

func TestUploadErrors(t *testing.T) {
	ts := newTestServer(t, true)
	id := ts.createSession(t)

	tests := []struct {
		name string
		slot string
		body []byte
		want int
	}{
		{"not an image", "character", []byte("hello"), http.StatusBadRequest},
		{"empty body", "garment", nil, http.StatusBadRequest},
		{"too large", "character", bytes.Repeat([]byte{0}, (1<<20)+10), http.StatusBadRequest},
		{"unknown slot", "shoes", []byte("x"), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPut, "/api/sessions/"+id+"/images/"+tt.slot, "image/png", bytes.NewReader(tt.body))
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestConflicts(t *testing.T) {
	ts := newTestServer(t, false)
	id := ts.createSession(t)

	// Nothing uploaded yet.
	if resp := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/composite", "", nil); resp.StatusCode != http.StatusConflict {
		t.Errorf("composite without images = %d, want 409", resp.StatusCode)
	}
	if resp := ts.do(t, http.MethodPut, "/api/sessions/"+id+"/persona", "application/json", strings.NewReader(`{"persona":"Korean"}`)); resp.StatusCode != http.StatusConflict {
		t.Errorf("persona before composite = %d, want 409", resp.StatusCode)
	}
	if resp := ts.do(t, http.MethodPut, "/api/sessions/"+id+"/persona", "application/json", strings.NewReader(`{"persona":"Martian"}`)); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown persona = %d, want 400", resp.StatusCode)
	}

	ts.upload(t, id, "character")
	ts.upload(t, id, "garment")
	if resp := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/composite", "", nil); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("composite = %d, want 202", resp.StatusCode)
	}

	// Generation is gated, so the session stays pending.
	if resp := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/composite", "", nil); resp.StatusCode != http.StatusConflict {
		t.Errorf("second composite = %d, want 409", resp.StatusCode)
	}
	if resp := ts.upload(t, id, "garment"); resp.StatusCode != http.StatusConflict {
		t.Errorf("upload while pending = %d, want 409", resp.StatusCode)
	}

	close(ts.gen.release)
	ts.waitPhase(t, id, "composite_ready")
}

func TestCompositeFailureReported(t *testing.T) {
	ts := newTestServer(t, true)
	ts.gen.err = errors.New("model offline")
	id := ts.createSession(t)
	ts.upload(t, id, "character")
	ts.upload(t, id, "garment")

	ts.do(t, http.MethodPost, "/api/sessions/"+id+"/composite", "", nil)
	st := ts.waitPhase(t, id, "idle")
	if !strings.Contains(st.LastError, "model offline") {
		t.Errorf("lastError = %q", st.LastError)
	}
	if st.CompositeImage != "" {
		t.Errorf("compositeImage = %q, want empty", st.CompositeImage)
	}
}

func TestArtifactNotReady(t *testing.T) {
	ts := newTestServer(t, true)
	id := ts.createSession(t)

	for _, stage := range []string{"composite", "final", "thumbnail"} {
		if resp := ts.do(t, http.MethodGet, "/api/sessions/"+id+"/artifacts/"+stage, "", nil); resp.StatusCode != http.StatusNotFound {
			t.Errorf("artifact %s = %d, want 404", stage, resp.StatusCode)
		}
	}
}

func TestBundle(t *testing.T) {
	ts := newTestServer(t, true)
	id := ts.createSession(t)

	if resp := ts.do(t, http.MethodGet, "/api/sessions/"+id+"/bundle", "", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("empty bundle = %d, want 404", resp.StatusCode)
	}

	ts.upload(t, id, "character")
	ts.upload(t, id, "garment")
	ts.do(t, http.MethodPost, "/api/sessions/"+id+"/composite", "", nil)
	ts.waitPhase(t, id, "composite_ready")

	if resp := ts.do(t, http.MethodGet, "/api/sessions/"+id+"/bundle?compression=rar", "", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad compression = %d, want 400", resp.StatusCode)
	}

	resp := ts.do(t, http.MethodGet, "/api/sessions/"+id+"/bundle?compression=zstd", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bundle = %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	want := "person.png,garment.png,composite.png"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("bundle entries = %s, want %s", got, want)
	}
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, true)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/sessions", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("allow-origin = %q", got)
	}

	req, _ = http.NewRequest(http.MethodOptions, ts.URL+"/api/sessions", nil)
	req.Header.Set("Origin", "https://example.com")
	resp, err = ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}
