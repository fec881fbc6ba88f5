package rides

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"cabshare/internal/model"
	"cabshare/pkg/jwt"
)

// Handler exposes ride HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler wires a handler to the ride service.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Routes returns a chi.Router with all ride routes. limit guards writes.
func (h *Handler) Routes(limit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListForUser)
	r.With(limit).Post("/", h.Create)
	r.Get("/search", h.Search)
	r.Get("/{id}", h.Get)
	return r
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	req.UserEmail = jwt.EmailOr(r.Context(), req.UserEmail)
	ride, err := h.svc.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (h *Handler) ListForUser(w http.ResponseWriter, r *http.Request) {
	rides, err := h.svc.ListForUser(r.Context(), viewerEmail(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rides)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ride, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"), viewerEmail(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := SearchParams{
		Source:      q.Get("source"),
		Destination: q.Get("destination"),
		Date:        q.Get("date"),
		ViewerEmail: viewerEmail(r),
	}
	var err error
	if v := q.Get("seats"); v != "" {
		if p.Seats, err = strconv.Atoi(v); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "seats must be a number"})
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		if p.Limit, err = strconv.Atoi(v); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a number"})
			return
		}
	}
	if v := q.Get("femaleOnly"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "femaleOnly must be true or false"})
			return
		}
		p.FemaleOnly = &b
	}

	rides, err := h.svc.Search(r.Context(), p)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rides)
}

// viewerEmail prefers the ?email= query parameter and falls back to the token.
func viewerEmail(r *http.Request) string {
	return jwt.EmailOr(r.Context(), r.URL.Query().Get("email"))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, model.ErrUserNotFound), errors.Is(err, model.ErrRideNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		h.logger.Error("rides request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
