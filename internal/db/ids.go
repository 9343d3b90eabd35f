package db

import (
	"crypto/rand"
	"encoding/hex"
)

const tokenRandomBytes = 16

// GenerateToken returns a 32-character hex session token.
func GenerateToken() (string, error) {
	b := make([]byte, tokenRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
