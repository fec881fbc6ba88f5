package requests

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"cabshare/internal/model"
	"cabshare/internal/seats"
	"cabshare/pkg/jwt"
)

// Handler exposes the reservation workflow over HTTP.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler wires a handler to the workflow service.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Routes returns a chi.Router with all request routes. limit guards writes.
func (h *Handler) Routes(limit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/requests", h.List)

	r.Group(func(r chi.Router) {
		r.Use(limit)
		r.Post("/book", h.Book)
		r.Patch("/requests/{id}", h.Decide)
		r.Patch("/{id}/add-passenger", h.AddPassengers)
		r.Patch("/{id}/withdraw", h.Withdraw)
	})
	return r
}

func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	req.UserEmail = jwt.EmailOr(r.Context(), req.UserEmail)
	resp, err := h.svc.Book(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	detail, err := h.svc.Decide(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) AddPassengers(w http.ResponseWriter, r *http.Request) {
	var req AddPassengersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if req.UserID == "" {
		if c := jwt.GetClaims(r.Context()); c != nil {
			req.UserID = c.UserID
		}
	}
	ride, err := h.svc.AddPassengers(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	// The body is optional when a token identifies the user.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	req.UserEmail = jwt.EmailOr(r.Context(), req.UserEmail)
	ride, err := h.svc.Withdraw(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := ListParams{
		UserEmail: q.Get("userEmail"),
		Status:    model.RequestStatus(q.Get("status")),
	}
	if ids := q.Get("rideIds"); ids != "" {
		for _, id := range strings.Split(ids, ",") {
			if id = strings.TrimSpace(id); id != "" {
				p.RideIDs = append(p.RideIDs, id)
			}
		}
	}
	list, err := h.svc.List(r.Context(), p)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var capErr *seats.InsufficientCapacityError
	switch {
	case errors.As(err, &capErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": capErr.Error(), "seatsLeft": capErr.SeatsLeft})
	case errors.Is(err, model.ErrInvalidInput),
		errors.Is(err, model.ErrSelfBooking),
		errors.Is(err, model.ErrAlreadyJoined),
		errors.Is(err, model.ErrDuplicateRequest),
		errors.Is(err, model.ErrRequestAlreadyDecided),
		errors.Is(err, model.ErrCreatorCannotWithdraw):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, model.ErrRideNotFound),
		errors.Is(err, model.ErrUserNotFound),
		errors.Is(err, model.ErrRequestNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		h.logger.Error("request workflow failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
