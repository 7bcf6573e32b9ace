package users

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrUserExists is returned when the username is already taken.
	ErrUserExists = errors.New("users: username already exists")
	// ErrEmailTaken is returned when another user already has the email.
	ErrEmailTaken = errors.New("users: email already in use")
	// ErrNotFound indicates the user does not exist.
	ErrNotFound = errors.New("users: not found")
)

// User represents a platform account.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	IsStaff      bool       `json:"is_staff"`
	IsSuperuser  bool       `json:"is_superuser"`
	IsActive     bool       `json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// DisplayName returns the full name or falls back to the username.
func (u User) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		return u.Username
	}
	return name
}

// CreateSuperuserInput carries the fields accepted by the bootstrap command.
type CreateSuperuserInput struct {
	Username  string `validate:"required,max=150,username"`
	Email     string `validate:"required,email,max=254"`
	Password  string `validate:"required,min=8,max=128"`
	FirstName string `validate:"max=150"`
	LastName  string `validate:"max=150"`
}

// Stats summarises the user base for the admin dashboard.
type Stats struct {
	Total      int `json:"total"`
	Active     int `json:"active"`
	Staff      int `json:"staff"`
	Superusers int `json:"superusers"`
}
