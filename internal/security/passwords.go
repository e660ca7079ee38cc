package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

// Hashes are written in the modular-crypt layout used by passlib's
// pbkdf2_sha256 so rows created before the Go rewrite keep verifying.
const (
	pbkdf2Scheme   = "pbkdf2-sha256"
	pbkdf2Rounds   = 29000
	pbkdf2SaltLen  = 16
	pbkdf2KeyLen   = 32
	bcryptPrefix2a = "$2a$"
	bcryptPrefix2b = "$2b$"
	bcryptPrefix2y = "$2y$"
)

// ErrEmptyPassword is returned by HashPassword for an empty input.
var ErrEmptyPassword = errors.New("password must be a non-empty string")

// passlib's "adapted base64": standard alphabet, '.' instead of '+', no padding.
var ab64 = base64.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789./").WithPadding(base64.NoPadding)

// HashPassword derives a salted PBKDF2-SHA256 hash of password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	salt := make([]byte, pbkdf2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	sum := pbkdf2.Key([]byte(password), salt, pbkdf2Rounds, pbkdf2KeyLen, sha256.New)
	return fmt.Sprintf("$%s$%d$%s$%s", pbkdf2Scheme, pbkdf2Rounds, ab64.EncodeToString(salt), ab64.EncodeToString(sum)), nil
}

// VerifyPassword reports whether password matches hash. Malformed hashes and
// empty inputs never match.
func VerifyPassword(password, hash string) bool {
	if password == "" || hash == "" {
		return false
	}
	switch {
	case strings.HasPrefix(hash, "$"+pbkdf2Scheme+"$"):
		return verifyPBKDF2(password, hash)
	case strings.HasPrefix(hash, bcryptPrefix2a),
		strings.HasPrefix(hash, bcryptPrefix2b),
		strings.HasPrefix(hash, bcryptPrefix2y):
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
	default:
		return false
	}
}

func verifyPBKDF2(password, hash string) bool {
	// "", scheme, rounds, salt, checksum
	parts := strings.Split(hash, "$")
	if len(parts) != 5 {
		return false
	}
	rounds, err := strconv.Atoi(parts[2])
	if err != nil || rounds <= 0 {
		return false
	}
	salt, err := ab64.DecodeString(parts[3])
	if err != nil {
		return false
	}
	want, err := ab64.DecodeString(parts[4])
	if err != nil || len(want) == 0 {
		return false
	}
	got := pbkdf2.Key([]byte(password), salt, rounds, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}
