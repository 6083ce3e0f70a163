package booking

import (
	"crypto/rand"
	"strings"
)

const (
	confirmationPrefix = "SB-"
	confirmationLength = 8
	// 32 symbols without 0/O and 1/I so codes survive being read aloud.
	confirmationAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// NewConfirmationCode returns a random code such as SB-7KQ2M9XD.
func NewConfirmationCode() (string, error) {
	buf := make([]byte, confirmationLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, confirmationLength)
	for i, b := range buf {
		out[i] = confirmationAlphabet[int(b)%len(confirmationAlphabet)]
	}
	return confirmationPrefix + string(out), nil
}

func NormalizeConfirmationCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

func ValidConfirmationCode(code string) bool {
	if len(code) != len(confirmationPrefix)+confirmationLength || !strings.HasPrefix(code, confirmationPrefix) {
		return false
	}
	for _, r := range code[len(confirmationPrefix):] {
		if !strings.ContainsRune(confirmationAlphabet, r) {
			return false
		}
	}
	return true
}
