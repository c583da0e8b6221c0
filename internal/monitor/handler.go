package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"replay-merge/internal/catalog"

	"github.com/go-chi/chi/v5"
)

// RecordingLister is the read side of a recording catalog.
type RecordingLister interface {
	List(ctx context.Context, archiveID string) ([]catalog.Descriptor, error)
}

// Handler exposes merge status endpoints using go-chi.
type Handler struct {
	board      *Board
	log        *slog.Logger
	recordings RecordingLister
}

// NewHandler returns a Handler reading from board.
func NewHandler(board *Board, log *slog.Logger) *Handler {
	return &Handler{board: board, log: log}
}

// WithRecordings enables GET /recordings backed by l.
func (h *Handler) WithRecordings(l RecordingLister) *Handler {
	h.recordings = l
	return h
}

// Routes mounts the handler on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/merges", func(r chi.Router) {
		r.Get("/", h.ListMerges)
		r.Get("/{merge_id}", h.GetMerge)
	})
	if h.recordings != nil {
		r.Get("/recordings", h.ListRecordings)
	}
}

// ListMerges handles GET /merges.
func (h *Handler) ListMerges(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.board.List())
}

// GetMerge handles GET /merges/{merge_id}.
func (h *Handler) GetMerge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "merge_id")
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	st, ok := h.board.Get(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h.writeJSON(w, st)
}

// ListRecordings handles GET /recordings[?archive_id=...].
func (h *Handler) ListRecordings(w http.ResponseWriter, r *http.Request) {
	list, err := h.recordings.List(r.Context(), r.URL.Query().Get("archive_id"))
	if err != nil {
		h.log.Error("list recordings failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []catalog.Descriptor{}
	}
	h.writeJSON(w, list)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encode response failed", slog.String("error", err.Error()))
	}
}
