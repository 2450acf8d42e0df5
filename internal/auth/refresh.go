package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// randomToken returns 32 random bytes as Base64URL
func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken returns SHA256 hex of a high-entropy token (refresh and verification tokens)
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func tokenMatches(token, hashHex string) bool {
	return subtle.ConstantTimeCompare([]byte(HashToken(token)), []byte(hashHex)) == 1
}
