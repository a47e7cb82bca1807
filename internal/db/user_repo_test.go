package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"contracthub/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- UserRepository Tests ---

func TestUserRepository_Create_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Create(context.Background(), &types.User{
		ID:            "user_1",
		Email:         "alice@example.com",
		Name:          "Alice",
		ApplicantType: types.ApplicantIndividual,
		PasswordHash:  "$2a$12$hash",
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestUserRepository_Create_DuplicateEmail(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), &types.User{
		ID:    "user_2",
		Email: "alice@example.com",
	})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictEmail, appErr.Code)
}

func TestUserRepository_GetByEmail_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByEmail(context.Background(), "nobody@example.com")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundUser, appErr.Code)
}

func TestUserRepository_GetByEmail_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	company := "Acme Ltd"
	hash := "$2a$12$hash"

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{
			scanFn: func(dest ...any) error {
				*(dest[0].(*string)) = "user_1"
				*(dest[1].(*string)) = "alice@example.com"
				*(dest[2].(*string)) = "Alice"
				*(dest[3].(*types.ApplicantType)) = types.ApplicantOrganization
				*(dest[4].(**string)) = &company
				*(dest[5].(**string)) = &hash
				*(dest[6].(*bool)) = false
				*(dest[7].(*time.Time)) = created
				return nil
			},
		})

	u, err := repo.GetByEmail(context.Background(), "Alice@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "user_1", u.ID)
	assert.Equal(t, "Acme Ltd", u.CompanyName)
	assert.Equal(t, types.ApplicantOrganization, u.ApplicantType)
	assert.False(t, u.PasswordSetupRequired)
}

func TestUserRepository_SetPassword_ClearsSetupFlag(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.SetPassword(context.Background(), "user_1", "$2a$12$newhash")
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestUserRepository_SetPassword_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.SetPassword(context.Background(), "user_gone", "$2a$12$newhash")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundUser, appErr.Code)
}
