package cryptoutil

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// SHA256Hex computes the SHA-256 digest of data as 64 lowercase hex
// characters. This is the content-addressing hash every published asset
// is named by.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashEqual compares two hex-encoded hashes in constant time. Use it
// wherever a hash from an untrusted source is checked against a trusted
// one.
func HashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
