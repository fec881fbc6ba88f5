package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cabshare/internal/model"
	"cabshare/internal/storage"
)

func newChat(t *testing.T) (*Service, *storage.Memory) {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemory()
	for _, u := range []struct{ id, email string }{
		{"creator", "creator@campus.edu"},
		{"pax", "pax@campus.edu"},
		{"out", "out@campus.edu"},
	} {
		if err := store.CreateUser(ctx, &model.User{ID: u.id, Name: u.id, Email: u.email}); err != nil {
			t.Fatal(err)
		}
	}
	err := store.CreateRide(ctx, &model.Ride{
		ID: "r1", MaxCapacity: 3, CreatedBy: "creator", Email: "creator@campus.edu",
		Passengers: []string{"creator", "pax"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func TestPostMembership(t *testing.T) {
	svc, _ := newChat(t)
	ctx := context.Background()

	for _, email := range []string{"creator@campus.edu", "pax@campus.edu"} {
		if _, err := svc.Post(ctx, "r1", PostMessageRequest{UserEmail: email, Body: "hi"}); err != nil {
			t.Fatalf("%s: %v", email, err)
		}
	}
	if _, err := svc.Post(ctx, "r1", PostMessageRequest{UserEmail: "out@campus.edu", Body: "hi"}); !errors.Is(err, model.ErrNotRideMember) {
		t.Fatalf("outsider err = %v", err)
	}
	if _, err := svc.Post(ctx, "r1", PostMessageRequest{UserEmail: "pax@campus.edu", Body: "   "}); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("blank body err = %v", err)
	}
	long := strings.Repeat("x", MaxBodyLen+1)
	if _, err := svc.Post(ctx, "r1", PostMessageRequest{UserEmail: "pax@campus.edu", Body: long}); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("long body err = %v", err)
	}
	if _, err := svc.Post(ctx, "nope", PostMessageRequest{UserEmail: "pax@campus.edu", Body: "hi"}); !errors.Is(err, model.ErrRideNotFound) {
		t.Fatalf("missing ride err = %v", err)
	}
}

func TestListSince(t *testing.T) {
	svc, _ := newChat(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Minute) }

	first, _ := svc.Post(ctx, "r1", PostMessageRequest{UserEmail: "pax@campus.edu", Body: "one"})
	if err := svc.PostSystem(ctx, "r1", "Request accepted"); err != nil {
		t.Fatal(err)
	}

	all, err := svc.List(ctx, "r1", time.Time{}, 0)
	if err != nil || len(all) != 2 {
		t.Fatalf("all = %v, %v", all, err)
	}
	if all[0].Body != "one" || !all[1].System {
		t.Fatalf("order/system flag wrong: %+v", all)
	}

	newer, _ := svc.List(ctx, "r1", first.CreatedAt, 0)
	if len(newer) != 1 || newer[0].Body != "Request accepted" {
		t.Fatalf("since filter = %+v", newer)
	}
}

func TestHandlerStatus(t *testing.T) {
	svc, _ := newChat(t)
	router := NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).
		Routes(func(next http.Handler) http.Handler { return next })

	post := func(email string) int {
		b, _ := json.Marshal(PostMessageRequest{UserEmail: email, Body: "on my way"})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/r1/messages", bytes.NewReader(b)))
		return rec.Code
	}
	if code := post("pax@campus.edu"); code != http.StatusCreated {
		t.Fatalf("member post = %d", code)
	}
	if code := post("out@campus.edu"); code != http.StatusForbidden {
		t.Fatalf("outsider post = %d", code)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/r1/messages?since=yesterday", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad since = %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/r1/messages", nil))
	var msgs []model.Message
	if err := json.NewDecoder(rec.Body).Decode(&msgs); err != nil || len(msgs) != 1 {
		t.Fatalf("list = %v, %v", msgs, err)
	}
}
