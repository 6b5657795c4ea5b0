package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// ownerKeyBytes is how much of the digest names the directory.
const ownerKeyBytes = 16

// HashOwnerKey maps an account ID to the directory its blobs live under, so stored
// keys do not reveal account IDs.
func HashOwnerKey(accountID string) string {
	sum := sha256.Sum256([]byte(accountID))
	return hex.EncodeToString(sum[:ownerKeyBytes])
}
