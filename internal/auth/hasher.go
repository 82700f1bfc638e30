package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"strings"
)

// KeyPrefixLength is the number of characters kept by MaskKey.
const KeyPrefixLength = 4

// hashKey returns the SHA-256 digest of key. Comparing digests keeps the
// comparison constant-time regardless of key length.
func hashKey(key string) [sha256.Size]byte {
	return sha256.Sum256([]byte(key))
}

// VerifyKey reports whether presented matches expected in constant time.
func VerifyKey(presented, expected string) bool {
	a, b := hashKey(presented), hashKey(expected)
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// MaskKey returns a masked version of the key for logging.
// Example: "sk-a...".
func MaskKey(key string) string {
	if len(key) <= KeyPrefixLength {
		return "..."
	}
	return key[:KeyPrefixLength] + "..."
}

// ParseAuthHeader extracts the token from "Bearer <token>".
func ParseAuthHeader(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("authorization header is empty")
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", fmt.Errorf("authorization scheme must be Bearer")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("bearer token is empty")
	}
	return token, nil
}
