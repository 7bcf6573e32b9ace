package users

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestUniqueErrorMapsByConstraint(t *testing.T) {
	usernameClash := &pgconn.PgError{Code: uniqueViolation, ConstraintName: usernameConstraint}
	emailClash := &pgconn.PgError{Code: uniqueViolation, ConstraintName: emailConstraint}
	otherClash := &pgconn.PgError{Code: uniqueViolation, ConstraintName: "users_pkey"}
	notUnique := &pgconn.PgError{Code: "23503", ConstraintName: emailConstraint}
	plain := errors.New("connection reset")

	assert.ErrorIs(t, uniqueError(usernameClash), ErrUserExists)
	assert.ErrorIs(t, uniqueError(emailClash), ErrEmailTaken)

	err := uniqueError(otherClash)
	assert.NotErrorIs(t, err, ErrUserExists)
	assert.ErrorContains(t, err, "users_pkey")

	assert.Same(t, notUnique, uniqueError(notUnique))
	assert.Same(t, plain, uniqueError(plain))
}
