package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken hashes a token string. Stores index credentials by this hash so
// the raw bearer value never becomes a storage key.
func HashToken(token string) string {
	hasher := sha256.New()
	hasher.Write([]byte(token))
	hashedBytes := hasher.Sum(nil)
	return hex.EncodeToString(hashedBytes)
}
