// Package deep implements the deep-search orchestrator: parent jobs fanned
// out into provider sub-tasks, dispatched over HTTP, driven to completion
// by authenticated callbacks, and aggregated back into one job status.
package deep

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// NewCallbackToken mints a one-time callback token and its persistable
// hash. Only the hash is stored; the token itself travels to the provider
// exactly once inside the dispatch payload.
func NewCallbackToken() (token, hash string) {
	token = fmt.Sprintf("%s%s", uuid.New().String(), uuid.New().String())
	return token, HashToken(token)
}

// HashToken returns the hex SHA-256 of a callback token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// VerifyToken compares a presented token against the persisted hash in
// constant time.
func VerifyToken(persistedHash, token string) bool {
	return subtle.ConstantTimeCompare([]byte(persistedHash), []byte(HashToken(token))) == 1
}
