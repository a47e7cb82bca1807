package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"contracthub/internal/types"
)

// TokenGenerator abstracts entropy sources for testability.
type TokenGenerator interface {
	GenerateSessionID() (string, error)
}

// CryptoTokenGenerator is the production TokenGenerator backed by
// crypto/rand.
type CryptoTokenGenerator struct{}

// NewCryptoTokenGenerator creates a CryptoTokenGenerator.
func NewCryptoTokenGenerator() *CryptoTokenGenerator {
	return &CryptoTokenGenerator{}
}

// GenerateSessionID returns a new opaque session credential with 256 bits of
// entropy and a recognizable prefix.
func (g *CryptoTokenGenerator) GenerateSessionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to generate session ID", err)
	}
	return "sess_" + hex.EncodeToString(buf), nil
}

// HashToken produces a hex-encoded SHA-256 hash of a raw token string.
// Session credentials are stored hashed so a database leak does not yield
// usable tokens; SHA-256 keeps the hash searchable, unlike salted bcrypt.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// CanonicalizeEmail normalizes an email address for comparison and storage.
func CanonicalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
