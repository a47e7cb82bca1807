// Package auth implements the identity verifier: credential login, signup,
// deferred password setup for users auto-created by reconciliation, and
// resolution of opaque session credentials into an authenticated identity.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"contracthub/internal/types"
)

// bcryptCost is the bcrypt cost factor used for password hashing.
const bcryptCost = 12

// UserRepo defines the data access methods needed by the Service for user
// operations.
type UserRepo interface {
	Create(ctx context.Context, user *types.User) error
	GetByID(ctx context.Context, id string) (*types.User, error)
	GetByEmail(ctx context.Context, email string) (*types.User, error)
	SetPassword(ctx context.Context, userID string, hash string) error
}

// SessionRepo defines the data access methods needed by the Service for
// session operations.
type SessionRepo interface {
	Create(ctx context.Context, idHash string, s *types.Session) error
	GetByIDHash(ctx context.Context, idHash string) (*types.Session, error)
	DeleteByIDHash(ctx context.Context, idHash string) error
}

// PasswordHasher abstracts bcrypt operations for testability.
type PasswordHasher interface {
	CompareHashAndPassword(hashedPassword, password string) error
	GenerateFromPassword(password string) (string, error)
}

// bcryptHasher is the production implementation of PasswordHasher.
type bcryptHasher struct{}

func (b *bcryptHasher) CompareHashAndPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

func (b *bcryptHasher) GenerateFromPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// IDGenerator produces new entity identifiers.
type IDGenerator func() string

// Service implements credential verification and account lifecycle.
type Service struct {
	users    UserRepo
	sessions SessionRepo
	hasher   PasswordHasher
	tokenGen TokenGenerator
	newID    IDGenerator
	ttl      time.Duration
	clock    types.Clock
	logger   *slog.Logger
}

// ServiceConfig holds the dependencies for creating a Service.
// Nil Hasher, TokenGen, Clock, and Logger fall back to production defaults.
type ServiceConfig struct {
	Users      UserRepo
	Sessions   SessionRepo
	Hasher     PasswordHasher
	TokenGen   TokenGenerator
	NewID      IDGenerator
	SessionTTL time.Duration
	Clock      types.Clock
	Logger     *slog.Logger
}

// NewService creates a new identity Service.
func NewService(cfg ServiceConfig) *Service {
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = &bcryptHasher{}
	}
	tokenGen := cfg.TokenGen
	if tokenGen == nil {
		tokenGen = NewCryptoTokenGenerator()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Service{
		users:    cfg.Users,
		sessions: cfg.Sessions,
		hasher:   hasher,
		tokenGen: tokenGen,
		newID:    cfg.NewID,
		ttl:      ttl,
		clock:    clock,
		logger:   logger,
	}
}

// SignupParams are the inputs to account creation.
type SignupParams struct {
	Email         string
	Name          string
	ApplicantType types.ApplicantType
	CompanyName   string
	Password      string
}

// Signup creates a new account with an immediately usable credential.
// Returns ErrCodeConflictEmail when the address is already registered.
func (s *Service) Signup(ctx context.Context, p SignupParams) (*types.User, error) {
	hash, err := s.hasher.GenerateFromPassword(p.Password)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to hash password", err)
	}

	user := &types.User{
		ID:                    s.newID(),
		Email:                 CanonicalizeEmail(p.Email),
		Name:                  p.Name,
		ApplicantType:         p.ApplicantType,
		CompanyName:           p.CompanyName,
		PasswordHash:          hash,
		PasswordSetupRequired: false,
		CreatedAt:             s.clock.Now(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user signed up", "user_id", user.ID)
	return user, nil
}

// Login verifies an email/password pair and issues a session. The raw
// session credential is returned once and never stored.
//
// A missing user and a wrong password produce the same error code, so the
// endpoint cannot be used to enumerate registered addresses.
func (s *Service) Login(ctx context.Context, email string, password string) (string, *types.User, error) {
	user, err := s.users.GetByEmail(ctx, CanonicalizeEmail(email))
	if err != nil {
		return "", nil, types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid email or password", nil)
	}

	if user.PasswordSetupRequired || user.PasswordHash == "" {
		return "", nil, types.NewAppError(
			types.ErrCodeAuthInvalidCreds,
			"password setup required before login",
			nil,
		)
	}

	if err := s.hasher.CompareHashAndPassword(user.PasswordHash, password); err != nil {
		return "", nil, types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid email or password", nil)
	}

	credential, err := s.issueSession(ctx, user.ID)
	if err != nil {
		return "", nil, err
	}

	s.logger.InfoContext(ctx, "user logged in", "user_id", user.ID)
	return credential, user, nil
}

// SetupPassword sets the initial credential for a user auto-created during
// webhook reconciliation. Rejects accounts that already have a working
// password; those must use a reset flow instead.
func (s *Service) SetupPassword(ctx context.Context, email string, password string) (*types.User, error) {
	user, err := s.users.GetByEmail(ctx, CanonicalizeEmail(email))
	if err != nil {
		return nil, err
	}

	if !user.PasswordSetupRequired {
		return nil, types.NewAppError(
			types.ErrCodeConflictConcurrent,
			"password already set for this account",
			nil,
		)
	}

	hash, err := s.hasher.GenerateFromPassword(password)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to hash password", err)
	}
	if err := s.users.SetPassword(ctx, user.ID, hash); err != nil {
		return nil, err
	}

	user.PasswordHash = hash
	user.PasswordSetupRequired = false
	s.logger.InfoContext(ctx, "password setup completed", "user_id", user.ID)
	return user, nil
}

// EmailStatus describes what the signup flow should do with an address.
type EmailStatus struct {
	Exists                bool `json:"exists"`
	PasswordSetupRequired bool `json:"password_setup_required"`
}

// CheckEmail reports whether an address is registered and whether it still
// needs its password set. Used by the checkout front door to route returning
// customers to login and auto-created ones to password setup.
func (s *Service) CheckEmail(ctx context.Context, email string) (EmailStatus, error) {
	user, err := s.users.GetByEmail(ctx, CanonicalizeEmail(email))
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundUser {
			return EmailStatus{}, nil
		}
		return EmailStatus{}, err
	}
	return EmailStatus{
		Exists:                true,
		PasswordSetupRequired: user.PasswordSetupRequired,
	}, nil
}

// Verify resolves an opaque session credential into an authenticated
// identity. Expired sessions are rejected with ErrCodeAuthTokenExpired.
func (s *Service) Verify(ctx context.Context, credential string) (types.Identity, error) {
	session, err := s.sessions.GetByIDHash(ctx, HashToken(credential))
	if err != nil {
		return types.Identity{}, err
	}

	if s.clock.Now().After(session.ExpiresAt) {
		return types.Identity{}, types.NewAppError(types.ErrCodeAuthTokenExpired, "session has expired", nil)
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		return types.Identity{}, types.NewAppError(types.ErrCodeAuthTokenInvalid, "session user no longer exists", err)
	}

	return types.Identity{SubjectID: user.ID, Email: user.Email}, nil
}

// Logout revokes a session credential. Idempotent.
func (s *Service) Logout(ctx context.Context, credential string) error {
	return s.sessions.DeleteByIDHash(ctx, HashToken(credential))
}

func (s *Service) issueSession(ctx context.Context, userID string) (string, error) {
	credential, err := s.tokenGen.GenerateSessionID()
	if err != nil {
		return "", err
	}

	now := s.clock.Now()
	session := &types.Session{
		UserID:         userID,
		ExpiresAt:      now.Add(s.ttl),
		LastActivityAt: now,
		CreatedAt:      now,
	}
	if err := s.sessions.Create(ctx, HashToken(credential), session); err != nil {
		return "", err
	}
	return credential, nil
}
