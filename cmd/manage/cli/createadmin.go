// Package cli implements the management subcommands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/agrohub/agrohub/internal/platform/httpx"
	"github.com/agrohub/agrohub/internal/shared"
	"github.com/agrohub/agrohub/internal/users"
)

// SuperuserCreator is satisfied by *users.Service.
type SuperuserCreator interface {
	CreateSuperuser(ctx context.Context, in users.CreateSuperuserInput) (users.User, error)
}

// AdminCLI bootstraps privileged accounts.
type AdminCLI struct {
	users SuperuserCreator
	audit shared.AuditRecorder
}

// NewAdminCLI constructs the helper. audit may be nil.
func NewAdminCLI(creator SuperuserCreator, audit shared.AuditRecorder) (*AdminCLI, error) {
	if creator == nil {
		return nil, errors.New("createadmin: user service required")
	}
	return &AdminCLI{users: creator, audit: audit}, nil
}

// CreateAdminOptions carries the createadmin flags.
type CreateAdminOptions struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Stdout    io.Writer
	Stderr    io.Writer
}

// CreateAdminCommand creates the superuser unless the username is taken and
// returns the process exit code. An existing user is reported, not an error.
func (c *AdminCLI) CreateAdminCommand(ctx context.Context, opts CreateAdminOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	user, err := c.users.CreateSuperuser(ctx, users.CreateSuperuserInput{
		Username:  opts.Username,
		Email:     opts.Email,
		Password:  opts.Password,
		FirstName: opts.FirstName,
		LastName:  opts.LastName,
	})
	var verrs validator.ValidationErrors
	switch {
	case err == nil:
	case errors.Is(err, users.ErrUserExists):
		_, _ = fmt.Fprintf(opts.Stdout, "User %q already exists; nothing to do.\n", opts.Username)
		return 0
	case errors.Is(err, users.ErrEmailTaken):
		_, _ = fmt.Fprintf(opts.Stderr, "email: A user with this email address already exists.\n")
		return 1
	case errors.As(err, &verrs):
		printFieldErrors(opts.Stderr, httpx.ValidationErrors(err))
		return 1
	default:
		_, _ = fmt.Fprintf(opts.Stderr, "createadmin: %v\n", err)
		return 1
	}

	if c.audit != nil {
		entry := shared.AuditLog{
			Action:   shared.AuditCreateSuperuser,
			Entity:   "users",
			EntityID: strconv.FormatInt(user.ID, 10),
			Meta:     map[string]any{"username": user.Username, "source": "createadmin"},
		}
		if err := c.audit.Record(ctx, entry); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "createadmin: audit log skipped: %v\n", err)
		}
	}
	_, _ = fmt.Fprintf(opts.Stdout, "Superuser %q created successfully.\n", user.Username)
	return 0
}

func printFieldErrors(w io.Writer, fields map[string][]string) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, msg := range fields[k] {
			_, _ = fmt.Fprintf(w, "%s: %s\n", k, msg)
		}
	}
}
