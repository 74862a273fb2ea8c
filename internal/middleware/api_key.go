// Package middleware provides the authentication, rate limiting and request
// logging layers shared by the cerebro HTTP and gRPC transports.
//
// API keys are presented as "Bearer <keyID>.<secret>". The key ID selects a
// stored bcrypt hash and the namespace the key is scoped to.
package middleware

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// SplitAPIKey splits a "keyID.secret" token. ok is false when either half
// is empty.
func SplitAPIKey(token string) (keyID, secret string, ok bool) {
	keyID, secret, found := strings.Cut(token, ".")
	if !found || keyID == "" || secret == "" {
		return "", "", false
	}
	return keyID, secret, true
}

// APIKeyMatchesHash reports whether secret matches a stored bcrypt hash.
func APIKeyMatchesHash(expectedHash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(expectedHash), []byte(secret)) == nil
}
