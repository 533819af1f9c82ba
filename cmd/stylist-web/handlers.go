package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/fpang/ai-virtual-stylist/internal/bundle"
	"github.com/fpang/ai-virtual-stylist/internal/failure"
	"github.com/fpang/ai-virtual-stylist/internal/imagefile"
	"github.com/fpang/ai-virtual-stylist/internal/persona"
	"github.com/fpang/ai-virtual-stylist/internal/recorder"
	"github.com/fpang/ai-virtual-stylist/internal/s3util"
	"github.com/fpang/ai-virtual-stylist/internal/session"
	"github.com/fpang/ai-virtual-stylist/internal/store"
	"github.com/fpang/ai-virtual-stylist/internal/workflow"
)

// presignExpiry bounds history artifact links.
const presignExpiry = 15 * time.Minute

type server struct {
	registry  *session.Registry
	history   store.HistoryStore
	maxUpload int64

	// Set only when S3 export is configured.
	presigner *s3.PresignClient
	bucket    string
}

// stateView is the JSON form of a workflow.State.
type stateView struct {
	Phase          string `json:"phase"`
	CharacterImage string `json:"characterImage,omitempty"`
	GarmentImage   string `json:"garmentImage,omitempty"`
	CompositeImage string `json:"compositeImage,omitempty"`
	FinalImage     string `json:"finalImage,omitempty"`
	Persona        string `json:"persona,omitempty"`
	ActiveStage    string `json:"activeStage,omitempty"`
	LastError      string `json:"lastError,omitempty"`
}

func viewOf(s workflow.State) stateView {
	v := stateView{
		Phase:          s.Phase.String(),
		CompositeImage: string(s.Composite),
		FinalImage:     string(s.Final),
		Persona:        string(s.Persona),
		ActiveStage:    s.ActiveStage,
		LastError:      s.LastError,
	}
	if s.Character != nil {
		v.CharacterImage = string(s.Character.DataURL())
	}
	if s.Garment != nil {
		v.GarmentImage = string(s.Garment.DataURL())
	}
	return v
}

type sessionResponse struct {
	ID    string    `json:"id"`
	State stateView `json:"state"`
}

func respondSession(w http.ResponseWriter, status int, sess *session.Session) {
	respondJSON(w, status, sessionResponse{ID: sess.ID, State: viewOf(sess.Machine.Snapshot())})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": s.registry.Len(),
	})
}

type personaView struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

func (s *server) handlePersonas(w http.ResponseWriter, r *http.Request) {
	var out []personaView
	for _, p := range persona.All() {
		out = append(out, personaView{Name: string(p), DisplayName: p.DisplayName()})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	respondSession(w, http.StatusCreated, s.registry.Create())
}

func (s *server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	respondSession(w, http.StatusOK, sessionFrom(r))
}

// handleUpload accepts either a multipart form with a "file" field or the
// raw image bytes as the request body.
func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	var set func(imagefile.ImageRecord) bool
	switch chi.URLParam(r, "slot") {
	case "character":
		set = sess.Machine.SetCharacter
	case "garment":
		set = sess.Machine.SetGarment
	default:
		httpError(w, http.StatusNotFound, "unknown image slot, expected character or garment")
		return
	}

	rec, err := s.readUpload(w, r)
	if err != nil {
		var fe *failure.Error
		if errors.As(err, &fe) {
			httpError(w, http.StatusBadRequest, fe.Message)
			return
		}
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !set(rec) {
		httpError(w, http.StatusConflict, "a generation is in progress")
		return
	}
	respondSession(w, http.StatusOK, sess)
}

func (s *server) readUpload(w http.ResponseWriter, r *http.Request) (imagefile.ImageRecord, error) {
	// One extra KiB for multipart framing.
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+1024)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			return imagefile.ImageRecord{}, failure.Intake("expected a multipart field named file", err)
		}
		defer file.Close()
		return imagefile.Read(file, header.Header.Get("Content-Type"), s.maxUpload)
	}
	return imagefile.Read(r.Body, r.Header.Get("Content-Type"), s.maxUpload)
}

type personaRequest struct {
	Persona string `json:"persona"`
}

func (s *server) handleSelectPersona(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	var req personaRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p, err := persona.Parse(req.Persona)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !sess.Machine.SelectPersona(p) {
		httpError(w, http.StatusConflict, "persona can be chosen only once a try-on image is ready")
		return
	}
	respondSession(w, http.StatusOK, sess)
}

func (s *server) handleStartComposite(w http.ResponseWriter, r *http.Request) {
	s.startStage(w, r, (*workflow.Machine).StartComposite, "a person and a garment image are required and no generation may be in progress")
}

func (s *server) handleStartRestyle(w http.ResponseWriter, r *http.Request) {
	s.startStage(w, r, (*workflow.Machine).StartRestyle, "a try-on image and a persona are required and no generation may be in progress")
}

func (s *server) startStage(w http.ResponseWriter, r *http.Request, start func(*workflow.Machine, context.Context) (*workflow.Run, bool), conflict string) {
	sess := sessionFrom(r)
	// The stage outlives the request that started it.
	run, ok := start(sess.Machine, context.WithoutCancel(r.Context()))
	if !ok {
		httpError(w, http.StatusConflict, conflict)
		return
	}
	log.Info().
		Str("sessionId", sess.ID).
		Str("stage", string(run.Stage())).
		Msg("Stage started")
	respondSession(w, http.StatusAccepted, sess)
}

// artifactOf returns the named artifact of the state, or "" if it is absent.
func artifactOf(st workflow.State, name string) (imagefile.DataURL, bool) {
	switch name {
	case recorder.ArtifactComposite:
		return st.Composite, true
	case recorder.ArtifactFinal:
		return st.Final, true
	}
	return "", false
}

func (s *server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	url, known := artifactOf(sess.Machine.Snapshot(), chi.URLParam(r, "stage"))
	if !known {
		httpError(w, http.StatusNotFound, "unknown artifact, expected composite or final")
		return
	}
	if url == "" {
		httpError(w, http.StatusNotFound, "artifact not generated yet")
		return
	}
	rec, err := imagefile.ParseDataURL(url)
	if err != nil {
		log.Error().Err(err).Str("sessionId", sess.ID).Msg("Stored artifact is not a valid data URL")
		httpError(w, http.StatusInternalServerError, "artifact is unreadable")
		return
	}
	w.Header().Set("Content-Type", rec.MIMEType())
	w.Header().Set("Content-Length", fmt.Sprint(rec.Size()))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(rec.Data())
}

// handleBundle streams every image the session holds as one ZIP archive.
func (s *server) handleBundle(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	method, err := bundle.ParseMethod(r.URL.Query().Get("compression"))
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	st := sess.Machine.Snapshot()
	var entries []bundle.Entry
	if st.Character != nil {
		entries = append(entries, bundle.Entry{Name: "person", Image: *st.Character})
	}
	if st.Garment != nil {
		entries = append(entries, bundle.Entry{Name: "garment", Image: *st.Garment})
	}
	for _, name := range []string{recorder.ArtifactComposite, recorder.ArtifactFinal} {
		url, _ := artifactOf(st, name)
		if url == "" {
			continue
		}
		rec, err := imagefile.ParseDataURL(url)
		if err != nil {
			log.Warn().Err(err).Str("sessionId", sess.ID).Str("artifact", name).Msg("Skipping unreadable artifact")
			continue
		}
		entries = append(entries, bundle.Entry{Name: name, Image: rec})
	}
	if len(entries) == 0 {
		httpError(w, http.StatusNotFound, "session has no images yet")
		return
	}

	// Build in memory so a failure can still become a JSON error.
	var buf bytes.Buffer
	if err := bundle.Write(&buf, entries, method, time.Now()); err != nil {
		log.Error().Err(err).Str("sessionId", sess.ID).Msg("Failed to build bundle")
		httpError(w, http.StatusInternalServerError, "failed to build bundle")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="stylist-%s.zip"`, sess.ID[:8]))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

type transitionView struct {
	Seq         int64  `json:"seq"`
	Trigger     string `json:"trigger"`
	From        string `json:"from"`
	To          string `json:"to"`
	Persona     string `json:"persona,omitempty"`
	Error       string `json:"error,omitempty"`
	DurationMs  int64  `json:"durationMs,omitempty"`
	ArtifactKey string `json:"artifactKey,omitempty"`
	ArtifactURL string `json:"artifactUrl,omitempty"`
	RecordedAt  string `json:"recordedAt"`
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	transitions, err := s.history.ListTransitions(r.Context(), sess.ID)
	if err != nil {
		log.Error().Err(err).Str("sessionId", sess.ID).Msg("Failed to list transitions")
		httpError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	out := make([]transitionView, 0, len(transitions))
	for _, t := range transitions {
		v := transitionView{
			Seq:         t.Seq,
			Trigger:     t.Trigger,
			From:        t.From,
			To:          t.To,
			Persona:     t.Persona,
			Error:       t.Error,
			DurationMs:  t.DurationMs,
			ArtifactKey: t.ArtifactKey,
			RecordedAt:  time.Unix(t.RecordedAt, 0).UTC().Format(time.RFC3339),
		}
		if t.ArtifactKey != "" && s.presigner != nil {
			url, err := s3util.GeneratePresignedURL(r.Context(), s.presigner, s.bucket, t.ArtifactKey, presignExpiry)
			if err != nil {
				log.Warn().Err(err).Str("key", t.ArtifactKey).Msg("Failed to presign artifact")
			} else {
				v.ArtifactURL = url
			}
		}
		out = append(out, v)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId":   sess.ID,
		"transitions": out,
	})
}
