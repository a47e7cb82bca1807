package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"contracthub/internal/types"
)

// UserRepository provides data access for the users table.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository backed by the given
// database connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// userColumns defines the standard set of columns selected for user queries.
// Used consistently across all query methods to avoid column drift.
const userColumns = `u.id, u.email, u.name, u.applicant_type, u.company_name,
	u.password_hash, u.password_setup_required, u.created_at`

// scanUser scans a single user row into a types.User struct.
// The columns must match the order defined in userColumns.
// Uses nullable scan targets for columns that may be NULL in the database
// (company_name, password_hash).
func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	var (
		companyName  *string
		passwordHash *string
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.ApplicantType,
		&companyName,
		&passwordHash,
		&u.PasswordSetupRequired,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if companyName != nil {
		u.CompanyName = *companyName
	}
	if passwordHash != nil {
		u.PasswordHash = *passwordHash
	}
	return &u, nil
}

// Create inserts a new user record. Returns ErrCodeConflictEmail if a user
// with the same email already exists (unique index on lower(email)).
func (r *UserRepository) Create(ctx context.Context, user *types.User) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO users (id, email, name, applicant_type, company_name,
		 password_hash, password_setup_required, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`,
		user.ID,
		user.Email,
		user.Name,
		user.ApplicantType,
		nilIfEmpty(user.CompanyName),
		nilIfEmpty(user.PasswordHash),
		user.PasswordSetupRequired,
		nilIfZeroTime(user.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictEmail, "user already exists", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create user", err)
	}
	return nil
}

// GetByID retrieves a user by their ID.
// Returns ErrCodeNotFoundUser if no user exists.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.id = $1`,
		id,
	)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve user", err)
	}
	return u, nil
}

// GetByEmail retrieves a user by their email address, matched
// case-insensitively. Returns ErrCodeNotFoundUser if no user exists.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users u WHERE lower(u.email) = lower($1)`,
		email,
	)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve user by email", err)
	}
	return u, nil
}

// SetPassword stores a new password hash and clears the setup-required flag.
// Used both by signup-completion and by the password-setup flow for users
// auto-created during webhook reconciliation.
func (r *UserRepository) SetPassword(ctx context.Context, userID string, hash string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET password_hash = $1, password_setup_required = FALSE
		 WHERE id = $2`,
		hash,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set password", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}
