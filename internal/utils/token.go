package utils // helper functions for token creation and hashing

import (
	"crypto/sha256" // SHA-256 hashing for backend auth tokens at rest
	"encoding/hex"  // hex encoding of hashes
	"time"          // expiration handling

	"github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
)

// NewInstitutionalToken builds and signs an HS256 JWT for an
// institutionally authenticated user. subject is the institution's user
// id, address the wallet address derived for that user. The token is what
// the SSO callback hands to the UI; every institutional route requires it.
func NewInstitutionalToken(secret, subject, address string, ttlMin int) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":     subject,
		"address": address,
		"exp":     now.Add(time.Duration(ttlMin) * time.Minute).Unix(),
		"iat":     now.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(secret))
}

// HashToken returns the hex SHA-256 of a token. Backend auth tokens are
// stored hashed only; the raw value never reaches the database.
func HashToken(raw string) string {
	if raw == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
