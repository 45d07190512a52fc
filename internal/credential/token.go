package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// KeyPrefix is prepended to every generated credential token.
const KeyPrefix = "sk-"

const randomLength = 32

const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Generate produces a new raw token of the form "sk-" followed by 32 random
// lowercase alphanumeric characters. The raw value is returned exactly once
// to the caller; only its hash is ever persisted.
func Generate() (string, error) {
	b := make([]byte, randomLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	out := make([]byte, randomLength)
	for i, v := range b {
		out[i] = alphabet[int(v)%len(alphabet)]
	}
	return KeyPrefix + string(out), nil
}

// Hash returns the hex-encoded SHA-256 digest of a raw token, the form
// persisted and compared against on every request.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix returns the first 7 characters of a raw token (e.g.
// "sk-a1b2"), kept alongside the hash so an admin can identify a credential
// without ever seeing it in full again.
func DisplayPrefix(raw string) string {
	if len(raw) >= 7 {
		return raw[:7]
	}
	return raw
}
