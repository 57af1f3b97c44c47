package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword returns the bcrypt hash of the password using a cost that balances security and performance.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares the bcrypt hashed password with its possible plaintext equivalent.
func CheckPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidUsername allows 2-32 runes of letters (any script), digits, '-' and '_'.
func ValidUsername(s string) bool {
	if n := utf8.RuneCountInString(s); n < 2 || n > 32 {
		return false
	}
	for _, r := range s {
		if r == '-' || r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		return false
	}
	return true
}

// ValidPassword enforces 6-72 bytes (bcrypt ignores anything past 72) without whitespace.
func ValidPassword(s string) bool {
	if len(s) < 6 || len(s) > 72 {
		return false
	}
	return !strings.ContainsFunc(s, unicode.IsSpace)
}

// ValidEmail is a superficial shape check; delivery is not verified.
func ValidEmail(s string) bool {
	at := strings.LastIndex(s, "@")
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t\r\n") && len(s) <= 255
}
