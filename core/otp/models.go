package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

const codeSpace = 1000000 // 000000 - 999999

// Challenge is a single issued one-time passcode awaiting verification.
// Only the SHA-256 hash of the code is kept.
type Challenge struct {
	ID         int64     `json:"id"`
	Email      string    `json:"email"`
	CodeHash   string    `json:"-"`
	ExpiresAt  time.Time `json:"expires_at"` // UTC
	IsVerified bool      `json:"is_verified"`
	CreatedAt  time.Time `json:"created_at"` // UTC
}

// IsExpired reports whether now is past the challenge's expiry.
func (c Challenge) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Matches compares code with the stored hash in constant time.
func (c Challenge) Matches(code string) bool {
	return subtle.ConstantTimeCompare([]byte(HashCode(code)), []byte(c.CodeHash)) == 1
}

// HashCode returns the hex encoded SHA-256 hash of code.
func HashCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// generateCode returns a uniformly random 6-digit code, leading zeros preserved.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpace))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
