package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cabshare/internal/model"
)

type captureMailer struct {
	to, body string
}

func (c *captureMailer) Send(_ context.Context, to, _, body string) error {
	c.to, c.body = to, body
	return nil
}

// code extracts the six digit code from the mailed body.
func (c *captureMailer) code(t *testing.T) string {
	t.Helper()
	i := strings.Index(c.body, "is ")
	if i < 0 || len(c.body) < i+9 {
		t.Fatalf("no code in %q", c.body)
	}
	return c.body[i+3 : i+9]
}

type pending struct {
	Name string `json:"name"`
}

func TestIssueVerifyConsumes(t *testing.T) {
	ctx := context.Background()
	m := &captureMailer{}
	svc := NewService(NewMemoryStore(), m, 10*time.Minute)

	if err := svc.Issue(ctx, "A@Example.com", PurposeSignup, pending{Name: "Asha"}); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if m.to != "A@Example.com" {
		t.Fatalf("mailed to %q", m.to)
	}
	code := m.code(t)

	var got pending
	if err := svc.Verify(ctx, "a@example.com", PurposeSignup, code, &got); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.Name != "Asha" {
		t.Fatalf("payload = %+v", got)
	}
	if err := svc.Verify(ctx, "a@example.com", PurposeSignup, code, nil); !errors.Is(err, model.ErrInvalidCode) {
		t.Fatalf("second verify err = %v, want ErrInvalidCode", err)
	}
}

func TestVerifyRejectsWrongPurposeAndCode(t *testing.T) {
	ctx := context.Background()
	m := &captureMailer{}
	svc := NewService(NewMemoryStore(), m, time.Minute)
	if err := svc.Issue(ctx, "b@example.com", PurposePasswordReset, nil); err != nil {
		t.Fatal(err)
	}
	code := m.code(t)

	if err := svc.Verify(ctx, "b@example.com", PurposeSignup, code, nil); !errors.Is(err, model.ErrInvalidCode) {
		t.Fatalf("wrong purpose err = %v", err)
	}
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	if err := svc.Verify(ctx, "b@example.com", PurposePasswordReset, wrong, nil); !errors.Is(err, model.ErrInvalidCode) {
		t.Fatalf("wrong code err = %v", err)
	}
	if err := svc.Verify(ctx, "b@example.com", PurposePasswordReset, code, nil); err != nil {
		t.Fatalf("a wrong guess must not consume the code: %v", err)
	}
}

func TestExpiredCode(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	m := &captureMailer{}
	svc := NewService(store, m, 5*time.Minute)
	svc.now = store.now

	if err := svc.Issue(ctx, "c@example.com", PurposeSignup, nil); err != nil {
		t.Fatal(err)
	}
	code := m.code(t)
	now = now.Add(5 * time.Minute)

	if err := svc.Verify(ctx, "c@example.com", PurposeSignup, code, nil); !errors.Is(err, model.ErrInvalidCode) {
		t.Fatalf("expired err = %v, want ErrInvalidCode", err)
	}
	if _, err := store.Get(ctx, "c@example.com", PurposeSignup); !errors.Is(err, ErrNoCode) {
		t.Fatalf("expired entry still stored: %v", err)
	}
}
