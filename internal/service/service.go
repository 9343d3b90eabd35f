// Package service implements the command handlers behind the control
// channel. Each service owns one command domain and registers its handlers
// on the router during bootstrap.
package service

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/caspian-yx/socket-chat-app/internal/protocol"
	"github.com/caspian-yx/socket-chat-app/internal/server"
)

// requireAuth returns the user bound to the connection, or the 401/1001
// error every authenticated command shares.
func requireAuth(c *server.Conn) (string, error) {
	userID := c.UserID()
	if userID == "" {
		return "", protocol.NewError(protocol.StatusUnauthorized, protocol.ErrCodeInvalidToken, "authentication required")
	}
	return userID, nil
}

// hashSecret is the stored form of room passwords. Account passwords arrive
// pre-hashed from the client and are compared as-is.
func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
