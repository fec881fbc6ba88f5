package requests

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"cabshare/internal/model"
	"cabshare/pkg/jwt"
)

func newRouter(f *fixture) http.Handler {
	h := NewHandler(f.svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	r.Use(jwt.OptionalAuth)
	r.Mount("/request", h.Routes(func(next http.Handler) http.Handler { return next }))
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerWorkflow(t *testing.T) {
	f := newFixture(t, 3)
	h := newRouter(f)

	rec := do(t, h, http.MethodPost, "/request/book", BookRequest{RideID: f.ride.ID, UserEmail: "a@campus.edu", Seats: 2}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("book status = %d: %s", rec.Code, rec.Body)
	}
	var booked BookResponse
	if err := json.NewDecoder(rec.Body).Decode(&booked); err != nil {
		t.Fatal(err)
	}
	if booked.RequestID == "" || booked.Message != "Request sent for 2 seat(s)" {
		t.Fatalf("book response = %+v", booked)
	}

	rec = do(t, h, http.MethodPost, "/request/book", BookRequest{RideID: f.ride.ID, UserEmail: "creator@campus.edu"}, "")
	if rec.Code != http.StatusBadRequest || !bytes.Contains(rec.Body.Bytes(), []byte("Cannot request your own ride")) {
		t.Fatalf("self booking: %d %s", rec.Code, rec.Body)
	}
	rec = do(t, h, http.MethodPost, "/request/book", BookRequest{RideID: f.ride.ID, UserEmail: "a@campus.edu"}, "")
	if rec.Code != http.StatusBadRequest || !bytes.Contains(rec.Body.Bytes(), []byte("Request already sent")) {
		t.Fatalf("duplicate: %d %s", rec.Code, rec.Body)
	}
	rec = do(t, h, http.MethodPost, "/request/book", BookRequest{RideID: "nope", UserEmail: "a@campus.edu"}, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing ride status = %d", rec.Code)
	}

	rec = do(t, h, http.MethodPatch, "/request/requests/"+booked.RequestID, DecisionRequest{Status: model.StatusAccepted}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("decide status = %d: %s", rec.Code, rec.Body)
	}
	var detail model.RequestDetail
	if err := json.NewDecoder(rec.Body).Decode(&detail); err != nil {
		t.Fatal(err)
	}
	if detail.Status != model.StatusAccepted || detail.Ride == nil || detail.RequesterInfo == nil {
		t.Fatalf("detail = %+v", detail)
	}

	rec = do(t, h, http.MethodPatch, "/request/"+f.ride.ID+"/add-passenger", AddPassengersRequest{UserID: "a", Seats: 2}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("add status = %d: %s", rec.Code, rec.Body)
	}
	var ride model.RideView
	if err := json.NewDecoder(rec.Body).Decode(&ride); err != nil {
		t.Fatal(err)
	}
	if len(ride.Passengers) != 3 || ride.SeatsLeft != 0 {
		t.Fatalf("ride = %+v", ride)
	}

	rec = do(t, h, http.MethodPost, "/request/book", BookRequest{RideID: f.ride.ID, UserEmail: "b@campus.edu", Seats: 1}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("full ride status = %d", rec.Code)
	}
	var capBody struct {
		Error     string `json:"error"`
		SeatsLeft int    `json:"seatsLeft"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&capBody); err != nil {
		t.Fatal(err)
	}
	if capBody.Error != "Only 0 seats available" || capBody.SeatsLeft != 0 {
		t.Fatalf("capacity body = %+v", capBody)
	}

	rec = do(t, h, http.MethodGet, "/request/requests?rideIds="+f.ride.ID+",other&status=accepted", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list []model.RequestDetail
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != booked.RequestID {
		t.Fatalf("list = %+v", list)
	}
}

func TestHandlerUsesTokenEmail(t *testing.T) {
	if err := jwt.Init("requests-test-secret", time.Hour); err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, 3)
	h := newRouter(f)
	token, err := jwt.Generate("a", "a@campus.edu")
	if err != nil {
		t.Fatal(err)
	}

	rec := do(t, h, http.MethodPost, "/request/book", BookRequest{RideID: f.ride.ID}, token)
	if rec.Code != http.StatusCreated {
		t.Fatalf("book with token status = %d: %s", rec.Code, rec.Body)
	}
	rec = do(t, h, http.MethodPatch, "/request/"+f.ride.ID+"/withdraw", nil, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("withdraw with token status = %d: %s", rec.Code, rec.Body)
	}
	rec = do(t, h, http.MethodPatch, "/request/"+f.ride.ID+"/withdraw", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("withdraw without identity status = %d", rec.Code)
	}
}
