package contracts

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// CheckPassphrase gates a protected submission. When a secure passphrase is
// set, the supplied passphrase must match it exactly.
func CheckPassphrase(in *Input) error {
	if in.SecurePassphrase == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(in.Passphrase), []byte(in.SecurePassphrase)) != 1 {
		return &SecurityError{Reason: "passphrase mismatch"}
	}
	return nil
}

// HashPassphrase returns the bcrypt hash stored on the record.
func HashPassphrase(p string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(p), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash passphrase: %w", err)
	}
	return string(h), nil
}

// VerifyPassphrase checks p against a stored hash.
func VerifyPassphrase(hash, p string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) == nil
}
