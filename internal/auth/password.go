package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// argon2id cost parameters. 64 MiB, one pass, four lanes tracks the OWASP
// baseline for interactive logins.
const (
	argonMemoryKiB   = 64 * 1024
	argonIterations  = 1
	argonParallelism = 4
	argonSaltBytes   = 16
	argonKeyBytes    = 32
)

var (
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	ErrInvalidHash      = errors.New("invalid password hash format")
)

// DummyHash is verified in place of a real hash when the username is unknown,
// so a login probe costs the same whether or not the account exists. Derived
// from a throwaway password; matches nothing.
const DummyHash = "$argon2id$v=19$m=65536,t=1,p=4$fLQvNh0JA/UnKlDt1pk18Q$cg8VDHSJCRzGZmbwpHYDdz/BlNygxG/xFwEK0ccUfbY"

func ValidatePassword(password string) error {
	if len(password) < 8 {
		return ErrPasswordTooShort
	}
	return nil
}

// HashPassword derives an argon2id key from the password under a fresh random
// salt and encodes the result as a PHC string.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("reading salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, argonIterations, argonMemoryKiB, argonParallelism, argonKeyBytes)

	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argonMemoryKiB, argonIterations, argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// VerifyPassword re-derives the key using the cost parameters embedded in the
// stored PHC string and compares in constant time, so hashes written under
// older parameters keep verifying after a cost bump.
func VerifyPassword(password, phc string) (bool, error) {
	fields := strings.Split(phc, "$")
	if len(fields) != 6 || fields[1] != "argon2id" {
		return false, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, ErrInvalidHash
	}

	var memory, iterations uint32
	var lanes uint8
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &memory, &iterations, &lanes); err != nil {
		return false, fmt.Errorf("parsing cost parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(fields[4])
	if err != nil {
		return false, fmt.Errorf("decoding salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(fields[5])
	if err != nil {
		return false, fmt.Errorf("decoding key: %w", err)
	}

	got := argon2.IDKey([]byte(password), salt, iterations, memory, lanes, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
