package auth

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/agrohub/agrohub/internal/platform/httpx"
	"github.com/agrohub/agrohub/internal/shared"
	"github.com/agrohub/agrohub/internal/users"
)

// UserLookup is the slice of the users service auth depends on.
type UserLookup interface {
	FindByUsername(ctx context.Context, username string) (users.User, error)
	TouchLastLogin(ctx context.Context, id int64) error
}

// Service wraps authentication business rules.
type Service struct {
	users  UserLookup
	repo   Repository
	audit  shared.AuditRecorder
	logger *slog.Logger
}

// NewService constructs a new Service. audit may be nil.
func NewService(lookup UserLookup, repo Repository, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: lookup, repo: repo, audit: audit, logger: logger}
}

// Authenticate validates username/password credentials. Unknown, inactive
// and mismatched accounts all yield shared.ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (users.User, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, users.ErrNotFound) {
			s.logger.Warn("auth lookup failed", slog.String("username", username), slog.Any("error", err))
		}
		return users.User{}, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return users.User{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return users.User{}, shared.ErrInvalidCredentials
	}
	return user, nil
}

// RecordLogin stores the session row, bumps last_login_at and writes an
// audit entry. Each step is best-effort; a failure is logged and skipped.
func (s *Service) RecordLogin(ctx context.Context, user users.User, sessionID string, expiresAt time.Time, ip, ua string) {
	httpx.SafeQuery(ctx, s.logger, "auth.register_session", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.repo.CreateSession(ctx, SessionRecord{
			ID:        sessionID,
			UserID:    user.ID,
			ExpiresAt: expiresAt,
			IP:        ip,
			UserAgent: ua,
		})
	})
	httpx.SafeQuery(ctx, s.logger, "users.touch_last_login", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.users.TouchLastLogin(ctx, user.ID)
	})
	if s.audit == nil {
		return
	}
	httpx.SafeQuery(ctx, s.logger, "audit.login", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.audit.Record(ctx, shared.AuditLog{
			ActorID:  user.ID,
			Action:   shared.AuditLogin,
			Entity:   "user",
			EntityID: strconv.FormatInt(user.ID, 10),
			Meta:     map[string]any{"ip": ip},
		})
	})
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}
