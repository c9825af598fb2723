package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 12

var ErrPasswordMismatch = errors.New("password does not match")

// dummyHash is compared against when the login identifier is unknown so that
// unknown and known accounts take the same time to reject.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("learnhub-timing-equalizer"), bcryptCost)

func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hashed), nil
}

// ComparePassword checks password against hash. An empty hash still burns a
// bcrypt comparison before failing.
func ComparePassword(hash, password string) error {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return ErrPasswordMismatch
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrPasswordMismatch
	}
	return nil
}
