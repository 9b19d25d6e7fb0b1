package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ytlive-orchestrator/internal/credentials"
	"ytlive-orchestrator/internal/provisioner"
	"ytlive-orchestrator/internal/store"
)

// ChannelAuthorizer runs the OAuth flow that adds channels to the credential cache.
type ChannelAuthorizer interface {
	AuthURL(state string) string
	Authorize(ctx context.Context, code string) (store.CredentialSummary, error)
}

// Handler exposes the orchestrator over HTTP using go-chi.
type Handler struct {
	svc  *Service
	auth ChannelAuthorizer
	log  *slog.Logger
}

// NewHandler returns a Handler. auth may be nil when no OAuth client is
// configured; the /auth routes then answer 503.
func NewHandler(svc *Service, auth ChannelAuthorizer, log *slog.Logger) *Handler {
	return &Handler{svc: svc, auth: auth, log: log}
}

// Register mounts the orchestrator routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/status", h.Status)
	r.Get("/events", h.Events)
	r.Get("/videos", h.Videos)
	r.Post("/videos", h.UploadVideo)
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.Sessions)
		r.Post("/", h.StartSession)
		r.Post("/stop", h.StopSession)
	})
	r.Route("/channels", func(r chi.Router) {
		r.Get("/", h.Channels)
		r.Post("/{name}/load", h.LoadChannel)
	})
	r.Route("/auth", func(r chi.Router) {
		r.Get("/url", h.AuthURL)
		r.Post("/exchange", h.Exchange)
		r.Get("/callback", h.Callback)
	})
}

type startBody struct {
	Video                string `json:"video"`
	Title                string `json:"title"`
	Description          string `json:"description"`
	Privacy              string `json:"privacy"`
	MadeForKids          bool   `json:"made_for_kids"`
	DurationLimitSeconds int    `json:"duration_limit_seconds"`
}

// StartSession handles POST /sessions.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var body startBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.log.Debug("invalid start body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	st, err := h.svc.StartSession(r.Context(), StartRequest{
		Video:         body.Video,
		Title:         body.Title,
		Description:   body.Description,
		Privacy:       body.Privacy,
		MadeForKids:   body.MadeForKids,
		DurationLimit: time.Duration(body.DurationLimitSeconds) * time.Second,
	})
	if err != nil {
		h.fail(w, "start session", err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// StopSession handles POST /sessions/stop.
func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.StopSession(r.Context())
	if err != nil {
		h.fail(w, "stop session", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Status handles GET /status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status(r.Context()))
}

// Sessions handles GET /sessions?limit=n.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, 20)
	if !ok {
		return
	}
	sessions, err := h.svc.Sessions(r.Context(), limit)
	if err != nil {
		h.fail(w, "list sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(sessions))
}

// Events handles GET /events?session=id&limit=n.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, store.DefaultEventLimit)
	if !ok {
		return
	}
	var (
		events []store.Event
		err    error
	)
	if id := r.URL.Query().Get("session"); id != "" {
		events, err = h.svc.SessionEvents(r.Context(), id, limit)
	} else {
		events, err = h.svc.RecentEvents(r.Context(), limit)
	}
	if err != nil {
		h.fail(w, "list events", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(events))
}

// Channels handles GET /channels.
func (h *Handler) Channels(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListSavedCredentials(r.Context())
	if err != nil {
		h.fail(w, "list channels", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

// LoadChannel handles POST /channels/{name}/load.
func (h *Handler) LoadChannel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "channel name is required")
		return
	}
	summary, err := h.svc.LoadCredential(r.Context(), name)
	if err != nil {
		h.fail(w, "load channel", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// AuthURL handles GET /auth/url?state=s.
func (h *Handler) AuthURL(w http.ResponseWriter, r *http.Request) {
	if h.auth == nil {
		h.fail(w, "auth url", credentials.ErrNotConfigured)
		return
	}
	state := r.URL.Query().Get("state")
	if state == "" {
		state = uuid.NewString()
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": h.auth.AuthURL(state), "state": state})
}

// Exchange handles POST /auth/exchange with body {"code": "..."}.
func (h *Handler) Exchange(w http.ResponseWriter, r *http.Request) {
	if h.auth == nil {
		h.fail(w, "auth exchange", credentials.ErrNotConfigured)
		return
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	summary, err := h.auth.Authorize(r.Context(), body.Code)
	if err != nil {
		h.fail(w, "auth exchange", err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

// Callback handles GET /auth/callback?code=c, the OAuth redirect target.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	if h.auth == nil {
		h.fail(w, "auth callback", credentials.ErrNotConfigured)
		return
	}
	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		writeError(w, http.StatusBadRequest, "authorization was not granted: "+reason)
		return
	}
	code := q.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	summary, err := h.auth.Authorize(r.Context(), code)
	if err != nil {
		h.fail(w, "auth callback", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// UploadVideo handles POST /videos, a multipart form whose "file" part is
// written into the media directory under its own file name.
func (h *Handler) UploadVideo(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart form with a file part is required")
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed multipart body")
			return
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}
		video, err := h.svc.SaveVideo(uploadName(part.Header.Get("Content-Disposition")), part)
		_ = part.Close()
		if err != nil {
			h.fail(w, "upload video", err)
			return
		}
		writeJSON(w, http.StatusCreated, video)
		return
	}
	writeError(w, http.StatusBadRequest, "multipart form with a file part is required")
}

// uploadName returns the filename parameter as sent. multipart.Part.FileName
// strips directories, which would hide names SaveVideo must reject.
func uploadName(disposition string) string {
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}

// Videos handles GET /videos.
func (h *Handler) Videos(w http.ResponseWriter, r *http.Request) {
	videos, err := h.svc.Videos()
	if err != nil {
		h.fail(w, "list videos", err)
		return
	}
	writeJSON(w, http.StatusOK, videos)
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	health := h.svc.Health()
	status := "ok"
	if !health.Healthy {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      status,
		"state":       h.svc.Status(r.Context()).State,
		"persistence": health,
	})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Error(op+" failed", slog.String("error", err.Error()))
	} else {
		h.log.Info(op+" rejected", slog.Int("status", code), slog.String("error", err.Error()))
	}
	writeError(w, code, err.Error())
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrAlreadyActive), errors.Is(err, ErrNotActive), errors.Is(err, ErrStoppedDuringProvisioning),
		errors.Is(err, ErrVideoExists):
		return http.StatusConflict
	case errors.Is(err, ErrUploadsDisabled):
		return http.StatusForbidden
	case errors.Is(err, provisioner.ErrAuth), errors.Is(err, credentials.ErrExchange), errors.Is(err, credentials.ErrBadToken):
		return http.StatusUnauthorized
	case errors.Is(err, provisioner.ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, provisioner.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, store.ErrNotFound), errors.Is(err, ErrVideoNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrNoChannel), errors.Is(err, credentials.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, credentials.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func parseLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
