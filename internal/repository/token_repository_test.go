package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/device-inventory-api/internal/models"
)

func TestFindByToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "token", "expires_at", "created_at", "revoked", "revoked_at", "replaced_by", "ip_address", "user_agent"}).
		AddRow("rt1", "u1", "opaque", now.Add(time.Hour), now, false, nil, nil, "127.0.0.1", "test")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, token, expires_at, created_at, revoked, revoked_at, replaced_by, ip_address, user_agent FROM refresh_tokens WHERE token = $1 LIMIT 1")).
		WithArgs("opaque").
		WillReturnRows(rows)

	token, err := repo.FindByToken(context.Background(), "opaque")
	require.NoError(t, err)
	assert.Equal(t, "u1", token.UserID)
	assert.True(t, token.Active(now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateRevokesParentAndInsertsChild(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2, replaced_by = $3 WHERE id = $1 AND revoked = FALSE")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	child := &models.RefreshToken{UserID: "u1", Token: "next", ExpiresAt: time.Now().Add(time.Hour)}
	err := repo.Rotate(context.Background(), "rt1", child)
	require.NoError(t, err)
	assert.NotEmpty(t, child.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateLosesRace(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2, replaced_by = $3 WHERE id = $1 AND revoked = FALSE")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Rotate(context.Background(), "rt1", &models.RefreshToken{UserID: "u1", Token: "next", ExpiresAt: time.Now().Add(time.Hour)})
	require.ErrorIs(t, err, ErrTokenRotated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeByTokenIsIdempotent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE token = $1 AND revoked = FALSE")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RevokeByToken(context.Background(), "already-revoked", time.Now())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
