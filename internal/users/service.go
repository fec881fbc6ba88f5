package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"cabshare/internal/auth"
	"cabshare/internal/model"
	"cabshare/internal/storage"
	"cabshare/pkg/jwt"
	"cabshare/pkg/validation"
)

// Store is the slice of storage the user service needs.
type Store interface {
	CreateUser(ctx context.Context, u *model.User) error
	UserByID(ctx context.Context, id string) (*model.User, error)
	UserByEmail(ctx context.Context, email string) (*model.User, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
}

// Codes issues and checks one-time codes.
type Codes interface {
	Issue(ctx context.Context, email string, p auth.Purpose, payload any) error
	Verify(ctx context.Context, email string, p auth.Purpose, code string, out any) error
}

// Service contains user business logic.
type Service struct {
	store  Store
	codes  Codes
	cost   int
	logger *slog.Logger
}

// NewService creates a user service. cost is the bcrypt cost.
func NewService(store Store, codes Codes, cost int, logger *slog.Logger) *Service {
	return &Service{store: store, codes: codes, cost: cost, logger: logger.With("component", "users")}
}

// StartSignup validates the registration and mails a verification code.
// The account is only created once the code is verified.
func (s *Service) StartSignup(ctx context.Context, req SignupRequest) error {
	req.Email = strings.TrimSpace(req.Email)
	switch {
	case !validation.ValidateName(req.Name):
		return model.Invalid("name must be 2-200 characters")
	case !validation.ValidateEmail(req.Email):
		return model.Invalid("invalid email")
	case req.Phone != "" && !validation.ValidatePhone(req.Phone):
		return model.Invalid("invalid phone")
	case !validation.ValidateGender(req.Gender):
		return model.Invalid("gender must be male, female or other")
	case !validation.ValidatePassword(req.Password):
		return model.Invalid("password must be 6-72 characters")
	}

	if _, err := s.store.UserByEmail(ctx, req.Email); err == nil {
		return model.ErrEmailTaken
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return err
	}
	p := pendingSignup{
		Name:         strings.TrimSpace(req.Name),
		Email:        req.Email,
		Phone:        strings.TrimSpace(req.Phone),
		Gender:       strings.ToLower(strings.TrimSpace(req.Gender)),
		PasswordHash: string(hash),
	}
	if err := s.codes.Issue(ctx, req.Email, auth.PurposeSignup, p); err != nil {
		return fmt.Errorf("issue signup code: %w", err)
	}
	s.logger.Info("signup code issued", "email", req.Email)
	return nil
}

// CompleteSignup verifies the code, creates the account and returns a JWT.
func (s *Service) CompleteSignup(ctx context.Context, req VerifySignupRequest) (*AuthResponse, error) {
	if !validation.ValidateOTP(req.Code) {
		return nil, model.ErrInvalidCode
	}
	var p pendingSignup
	if err := s.codes.Verify(ctx, req.Email, auth.PurposeSignup, req.Code, &p); err != nil {
		return nil, err
	}

	u := &model.User{
		ID:           uuid.New().String(),
		Name:         p.Name,
		Email:        p.Email,
		Phone:        p.Phone,
		Gender:       p.Gender,
		PasswordHash: p.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, model.ErrEmailTaken
		}
		return nil, err
	}
	s.logger.Info("user created", "user_id", u.ID)
	return s.issueToken(u)
}

// Login authenticates a user and returns a JWT.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	u, err := s.store.UserByEmail(ctx, strings.TrimSpace(req.Email))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, model.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		return nil, model.ErrInvalidCredentials
	}
	return s.issueToken(u)
}

// ForgotPassword mails a reset code. Unknown addresses succeed silently.
func (s *Service) ForgotPassword(ctx context.Context, req ForgotPasswordRequest) error {
	u, err := s.store.UserByEmail(ctx, strings.TrimSpace(req.Email))
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Info("password reset for unknown email", "email", req.Email)
		return nil
	}
	if err != nil {
		return err
	}
	return s.codes.Issue(ctx, u.Email, auth.PurposePasswordReset, nil)
}

// ResetPassword verifies the reset code and stores a new password hash.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if !validation.ValidatePassword(req.NewPassword) {
		return model.Invalid("password must be 6-72 characters")
	}
	if !validation.ValidateOTP(req.Code) {
		return model.ErrInvalidCode
	}
	if err := s.codes.Verify(ctx, req.Email, auth.PurposePasswordReset, req.Code, nil); err != nil {
		return err
	}
	u, err := s.store.UserByEmail(ctx, strings.TrimSpace(req.Email))
	if errors.Is(err, storage.ErrNotFound) {
		return model.ErrUserNotFound
	}
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.cost)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePasswordHash(ctx, u.ID, string(hash)); err != nil {
		return err
	}
	s.logger.Info("password reset", "user_id", u.ID)
	return nil
}

// GetByID fetches a single user.
func (s *Service) GetByID(ctx context.Context, id string) (*model.User, error) {
	u, err := s.store.UserByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, model.ErrUserNotFound
	}
	return u, err
}

func (s *Service) issueToken(u *model.User) (*AuthResponse, error) {
	token, err := jwt.Generate(u.ID, u.Email)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{Token: token, User: u}, nil
}
