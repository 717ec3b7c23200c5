package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/mailtrack/internal/pkg/httputil"
	"github.com/ignite/mailtrack/internal/service/tracks"
)

// TrackService is the management surface of *tracks.Service.
type TrackService interface {
	Create(ctx context.Context, in tracks.CreateInput) (*tracks.Track, error)
	CreateGroup(ctx context.Context, recipients []string, subject, notes string) ([]tracks.Track, error)
	List(ctx context.Context, f tracks.ListFilter) ([]tracks.Track, int, error)
	Get(ctx context.Context, id string) (*tracks.Detail, error)
	Opens(ctx context.Context, id string) ([]tracks.Open, error)
	Update(ctx context.Context, id string, u tracks.Update) (*tracks.Track, error)
	Delete(ctx context.Context, id string) error
	GetStats(ctx context.Context) (*tracks.Stats, error)
}

// TrackHandlers serves /api/tracks and /api/stats.
type TrackHandlers struct {
	svc TrackService
}

// NewTrackHandlers creates the management API handlers.
func NewTrackHandlers(svc TrackService) *TrackHandlers {
	return &TrackHandlers{svc: svc}
}

// Mount registers the handlers on an /api sub-router.
func (h *TrackHandlers) Mount(r chi.Router) {
	r.Route("/tracks", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Post("/group", h.HandleCreateGroup)
		r.Get("/", h.HandleList)
		r.Get("/{id}", h.HandleGet)
		r.Get("/{id}/opens", h.HandleOpens)
		r.Patch("/{id}", h.HandleUpdate)
		r.Delete("/{id}", h.HandleDelete)
	})
	r.Get("/stats", h.HandleStats)
}

type listResponse struct {
	Tracks []tracks.Track `json:"tracks"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

type groupRequest struct {
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Notes      string   `json:"notes"`
}

// HandleCreate creates one tracked message.
//
//	POST /api/tracks
func (h *TrackHandlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in tracks.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	t, err := h.svc.Create(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.Created(w, t)
}

// HandleCreateGroup creates one tracked message per recipient under a shared
// group ID.
//
//	POST /api/tracks/group
func (h *TrackHandlers) HandleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var in groupRequest
	if !httputil.Decode(w, r, &in) {
		return
	}
	ts, err := h.svc.CreateGroup(r.Context(), in.Recipients, in.Subject, in.Notes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.Created(w, map[string]any{"tracks": ts})
}

// HandleList lists tracks, pinned first and then newest first.
//
//	GET /api/tracks?group=&q=&limit=&offset=
func (h *TrackHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, ok := httputil.QueryInt(w, r, "limit", 50)
	if !ok {
		return
	}
	offset, ok := httputil.QueryInt(w, r, "offset", 0)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := tracks.ListFilter{
		GroupID: strings.TrimSpace(q.Get("group")),
		Search:  strings.TrimSpace(q.Get("q")),
		Limit:   limit,
		Offset:  offset,
	}
	ts, total, err := h.svc.List(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.OK(w, listResponse{Tracks: ts, Total: total, Limit: limit, Offset: offset})
}

// HandleGet returns a track with its opens.
//
//	GET /api/tracks/{id}
func (h *TrackHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.OK(w, d)
}

// HandleOpens returns only the opens of a track.
//
//	GET /api/tracks/{id}/opens
func (h *TrackHandlers) HandleOpens(w http.ResponseWriter, r *http.Request) {
	opens, err := h.svc.Opens(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.OK(w, map[string]any{"opens": opens})
}

// HandleUpdate edits notes and the pinned flag.
//
//	PATCH /api/tracks/{id}
func (h *TrackHandlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var u tracks.Update
	if !httputil.Decode(w, r, &u) {
		return
	}
	t, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), u)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.OK(w, t)
}

// HandleDelete removes a track and its opens.
//
//	DELETE /api/tracks/{id}
func (h *TrackHandlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.NoContent(w)
}

// HandleStats returns aggregate counts.
//
//	GET /api/stats
func (h *TrackHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetStats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.OK(w, st)
}

func (h *TrackHandlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tracks.ErrNotFound):
		httputil.NotFound(w, "track not found")
	case errors.Is(err, tracks.ErrInvalidInput):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalError(w, r, err)
	}
}
