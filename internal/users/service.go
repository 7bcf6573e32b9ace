package users

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"

	"github.com/agrohub/agrohub/internal/access"
)

// usernamePattern allows ASCII letters, digits and @ . + - _.
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9@.+_-]+$`)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	FindByID(ctx context.Context, id int64) (User, error)
	FindByUsername(ctx context.Context, username string) (User, error)
	CreateIfAbsent(ctx context.Context, user User) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	Stats(ctx context.Context) (Stats, error)
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
}

// Service handles user business logic.
type Service struct {
	repo     RepositoryPort
	validate *validator.Validate
	loads    singleflight.Group
	hashCost int
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, validate: NewValidator(), hashCost: bcrypt.DefaultCost}
}

// NewValidator returns a validator with the user specific tags registered.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	return v
}

// NormalizeUsername trims the name and folds compatibility characters with
// NFKC so visually identical names map to one account.
func NormalizeUsername(username string) string {
	return norm.NFKC.String(strings.TrimSpace(username))
}

// CreateSuperuser creates a staff superuser unless the username already
// exists, in which case ErrUserExists is returned without side effects. Only
// the username is validated before that check. A clash on email returns
// ErrEmailTaken.
func (s *Service) CreateSuperuser(ctx context.Context, in CreateSuperuserInput) (User, error) {
	in.Username = NormalizeUsername(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	// An existing username makes the command a no-op, whatever else was passed.
	if err := s.validate.StructPartial(in, "Username"); err != nil {
		// Report every field, not just the username.
		return User{}, s.validate.Struct(in)
	}
	if _, err := s.repo.FindByUsername(ctx, in.Username); err == nil {
		return User{}, ErrUserExists
	} else if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}
	if err := s.validate.Struct(in); err != nil {
		return User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
	if err != nil {
		return User{}, err
	}
	return s.repo.CreateIfAbsent(ctx, User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: string(hash),
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		IsStaff:      true,
		IsSuperuser:  true,
		IsActive:     true,
	})
}

// LoadPrincipal resolves the access principal for a session user. Concurrent
// loads for the same user share one query.
func (s *Service) LoadPrincipal(ctx context.Context, id int64) (access.Principal, error) {
	v, err, _ := s.loads.Do(strconv.FormatInt(id, 10), func() (any, error) {
		user, err := s.repo.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return access.Principal{}, access.ErrUnknownPrincipal
			}
			return access.Principal{}, err
		}
		return PrincipalOf(user), nil
	})
	if err != nil {
		return access.Principal{}, err
	}
	return v.(access.Principal), nil
}

// PrincipalOf converts a user into an access principal.
func PrincipalOf(u User) access.Principal {
	return access.Principal{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName(),
		IsStaff:     u.IsStaff,
		IsSuperuser: u.IsSuperuser,
		IsActive:    u.IsActive,
	}
}

// FindByUsername returns a user for authentication.
func (s *Service) FindByUsername(ctx context.Context, username string) (User, error) {
	return s.repo.FindByUsername(ctx, NormalizeUsername(username))
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// Stats returns aggregate counts.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.repo.Stats(ctx)
}

// TouchLastLogin records a successful login time.
func (s *Service) TouchLastLogin(ctx context.Context, id int64) error {
	return s.repo.TouchLastLogin(ctx, id, time.Now())
}
