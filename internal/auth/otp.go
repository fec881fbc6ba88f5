// Package auth issues and verifies one-time codes for signup and password
// reset. Codes are stored per (email, purpose); issuing again replaces the
// previous code and a successful verify consumes it.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"cabshare/internal/model"
	rredis "cabshare/pkg/redis"
)

// Purpose scopes a code to one flow.
type Purpose string

const (
	PurposeSignup        Purpose = "signup"
	PurposePasswordReset Purpose = "password_reset"
)

// Entry is a stored code with an optional JSON payload.
type Entry struct {
	Code      string          `json:"code"`
	Purpose   Purpose         `json:"purpose"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// ErrNoCode is returned by Store.Get when nothing is stored.
var ErrNoCode = errors.New("auth: no code stored")

// Store keeps at most one Entry per (email, purpose).
type Store interface {
	Put(ctx context.Context, email string, e Entry) error
	Get(ctx context.Context, email string, p Purpose) (*Entry, error)
	Delete(ctx context.Context, email string, p Purpose) error
}

func storeKey(email string, p Purpose) string {
	return string(p) + ":" + strings.ToLower(strings.TrimSpace(email))
}

// MemoryStore is a mutex-guarded map. Expired entries are dropped on read.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry), now: time.Now}
}

func (m *MemoryStore) Put(_ context.Context, email string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[storeKey(email, e.Purpose)] = e
	return nil
}

func (m *MemoryStore) Get(_ context.Context, email string, p Purpose) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := storeKey(email, p)
	e, ok := m.entries[k]
	if !ok {
		return nil, ErrNoCode
	}
	if !m.now().Before(e.ExpiresAt) {
		delete(m.entries, k)
		return nil, ErrNoCode
	}
	return &e, nil
}

func (m *MemoryStore) Delete(_ context.Context, email string, p Purpose) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, storeKey(email, p))
	return nil
}

// RedisStore keeps entries as JSON strings whose Redis TTL matches ExpiresAt.
type RedisStore struct {
	rdb *rredis.Client
}

func NewRedisStore(rdb *rredis.Client) *RedisStore { return &RedisStore{rdb: rdb} }

func (s *RedisStore) Put(ctx context.Context, email string, e Entry) error {
	ttl := time.Until(e.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return s.rdb.SetJSON(ctx, "otp:"+storeKey(email, e.Purpose), e, ttl)
}

func (s *RedisStore) Get(ctx context.Context, email string, p Purpose) (*Entry, error) {
	var e Entry
	err := s.rdb.GetJSON(ctx, "otp:"+storeKey(email, p), &e)
	if errors.Is(err, rredis.ErrMiss) {
		return nil, ErrNoCode
	}
	if err != nil {
		return nil, err
	}
	if !time.Now().Before(e.ExpiresAt) {
		return nil, ErrNoCode
	}
	return &e, nil
}

func (s *RedisStore) Delete(ctx context.Context, email string, p Purpose) error {
	return s.rdb.Del(ctx, "otp:"+storeKey(email, p))
}

// Mailer delivers a code to a user.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer writes outgoing mail to the log instead of sending it.
type LogMailer struct{ Logger *slog.Logger }

func (m LogMailer) Send(_ context.Context, to, subject, body string) error {
	m.Logger.Info("mail", "to", to, "subject", subject, "body", body)
	return nil
}

// Service issues and verifies codes.
type Service struct {
	store  Store
	mailer Mailer
	ttl    time.Duration
	now    func() time.Time
}

func NewService(store Store, mailer Mailer, ttl time.Duration) *Service {
	return &Service{store: store, mailer: mailer, ttl: ttl, now: time.Now}
}

// Issue stores a fresh code for (email, purpose) with payload and mails it.
func (s *Service) Issue(ctx context.Context, email string, p Purpose, payload any) error {
	code, err := newCode()
	if err != nil {
		return err
	}
	e := Entry{Code: code, Purpose: p, ExpiresAt: s.now().Add(s.ttl)}
	if payload != nil {
		if e.Payload, err = json.Marshal(payload); err != nil {
			return err
		}
	}
	if err := s.store.Put(ctx, email, e); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}
	subject := "Your CabShare verification code"
	if p == PurposePasswordReset {
		subject = "Your CabShare password reset code"
	}
	body := fmt.Sprintf("Your code is %s. It expires in %d minutes.", code, int(s.ttl.Minutes()))
	return s.mailer.Send(ctx, email, subject, body)
}

// Verify checks code for (email, purpose), consumes it and decodes its
// payload into out when out is non-nil. Missing, expired or wrong codes
// yield model.ErrInvalidCode.
func (s *Service) Verify(ctx context.Context, email string, p Purpose, code string, out any) error {
	e, err := s.store.Get(ctx, email, p)
	if errors.Is(err, ErrNoCode) {
		return model.ErrInvalidCode
	}
	if err != nil {
		return fmt.Errorf("load otp: %w", err)
	}
	if !s.now().Before(e.ExpiresAt) || subtle.ConstantTimeCompare([]byte(e.Code), []byte(code)) != 1 {
		return model.ErrInvalidCode
	}
	if err := s.store.Delete(ctx, email, p); err != nil {
		return fmt.Errorf("consume otp: %w", err)
	}
	if out != nil && len(e.Payload) > 0 {
		return json.Unmarshal(e.Payload, out)
	}
	return nil
}

func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
