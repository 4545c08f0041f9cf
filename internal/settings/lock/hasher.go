package lock

import (
	"crypto/subtle"
	"strconv"
	"unicode/utf16"

	"golang.org/x/crypto/bcrypt"
)

// PinHasher hashes and verifies PINs.
type PinHasher interface {
	Hash(pin string) (string, error)
	Verify(pin, hash string) bool
}

// WeakHasher is a 32-bit string hash rendered in hex. It is NOT a
// password hash: it exists for compatibility with stores written by
// older installations and for tests. Use BcryptHasher in production.
type WeakHasher struct{}

// Hash returns the hex rendering of the PIN's 31-multiplier hash over
// its UTF-16 code units.
func (WeakHasher) Hash(pin string) (string, error) {
	var h int32
	for _, u := range utf16.Encode([]rune(pin)) {
		h = 31*h + int32(u)
	}
	return strconv.FormatInt(int64(h), 16), nil
}

// Verify compares the PIN's hash with hash.
func (w WeakHasher) Verify(pin, hash string) bool {
	got, _ := w.Hash(pin)
	return subtle.ConstantTimeCompare([]byte(got), []byte(hash)) == 1
}

// BcryptHasher hashes PINs with bcrypt.
type BcryptHasher struct {
	// Cost is the bcrypt cost; zero means bcrypt.DefaultCost.
	Cost int
}

// Hash returns the bcrypt hash of pin.
func (b BcryptHasher) Hash(pin string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	out, err := bcrypt.GenerateFromPassword([]byte(pin), cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Verify reports whether pin matches the bcrypt hash.
func (BcryptHasher) Verify(pin, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil
}
