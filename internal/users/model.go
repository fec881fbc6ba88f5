package users

import "cabshare/internal/model"

// SignupRequest is the body for POST /users/signup.
type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Gender   string `json:"gender"`
	Password string `json:"password"`
}

// VerifySignupRequest is the body for POST /users/signup/verify.
type VerifySignupRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// LoginRequest is the body for POST /users/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ForgotPasswordRequest is the body for POST /users/password/forgot.
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest is the body for POST /users/password/reset.
type ResetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

// AuthResponse is returned on verified signup and login.
type AuthResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user,omitempty"`
}

// pendingSignup rides along with the signup code until it is verified.
type pendingSignup struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Gender       string `json:"gender"`
	PasswordHash string `json:"password_hash"`
}
