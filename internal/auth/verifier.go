package auth

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/rowanvale/mise/internal/model"
	"github.com/rowanvale/mise/internal/store"
)

// dummyHash is compared against when the email is unknown, so a miss
// costs the same as a wrong password.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// Verifier checks email/password credentials against stored users.
type Verifier struct {
	users *store.UserStore
}

func NewVerifier(users *store.UserStore) *Verifier {
	return &Verifier{users: users}
}

// Verify returns the user for a correct email/password pair. Unknown
// emails and wrong passwords both fail with ErrInvalidCredentials;
// deactivated accounts fail with ErrAccountDisabled even when the
// password is right.
func (v *Verifier) Verify(email, password string) (*model.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, model.ErrValidation
	}

	user, err := v.users.GetByEmail(email)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, model.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, model.ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, model.ErrAccountDisabled
	}

	return user, nil
}

// HashPassword returns a bcrypt hash for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
