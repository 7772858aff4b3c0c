// Package credential hashes and verifies account passwords.
package credential

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// Cost is the bcrypt work factor. It keeps a single verification in the tens
// of milliseconds.
const Cost = 10

// Alphabet is the character set used for generated passwords.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*"

// MinPolicyLength is the shortest password MeetsPolicy accepts.
const MinPolicyLength = 6

// MaxLength is the longest plaintext bcrypt accepts, in bytes.
const MaxLength = 72

// ErrInvalidInput is returned by Hash for blank or oversized plaintext.
var ErrInvalidInput = errors.New("invalid password")

var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

// Hash returns a salted bcrypt hash of plaintext. Each call uses a fresh salt.
func Hash(plaintext string) (string, error) {
	if strings.TrimSpace(plaintext) == "" {
		return "", fmt.Errorf("%w: cannot be empty", ErrInvalidInput)
	}
	if len(plaintext) > MaxLength {
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidInput, MaxLength)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), Cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// Verify reports whether plaintext matches hash. Missing or oversized input,
// an unknown algorithm tag, a malformed hash and a mismatch all yield false.
// Oversized input is refused because bcrypt only reads the first MaxLength
// bytes.
func Verify(plaintext, hash string) bool {
	if plaintext == "" || len(plaintext) > MaxLength || hash == "" || !hasKnownTag(hash) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

func hasKnownTag(hash string) bool {
	for _, prefix := range bcryptPrefixes {
		if strings.HasPrefix(hash, prefix) {
			return true
		}
	}
	return false
}

// MeetsPolicy reports whether plaintext is at least MinPolicyLength characters
// long and contains both a letter and a digit.
func MeetsPolicy(plaintext string) bool {
	if utf8.RuneCountInString(plaintext) < MinPolicyLength {
		return false
	}
	var hasLetter, hasDigit bool
	for _, r := range plaintext {
		switch {
		case r < unicode.MaxASCII && unicode.IsLetter(r):
			hasLetter = true
		case r < unicode.MaxASCII && unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return hasLetter && hasDigit
}

// RandomPassword draws length characters uniformly from Alphabet. It is meant
// for system generated temporary passwords.
func RandomPassword(length int) string {
	if length <= 0 {
		return ""
	}
	max := big.NewInt(int64(len(Alphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the OS source is unavailable.
			panic(fmt.Sprintf("credential: read random source: %v", err))
		}
		b.WriteByte(Alphabet[n.Int64()])
	}
	return b.String()
}
