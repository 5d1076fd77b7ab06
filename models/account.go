package models

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rohanthewiz/serr"
	"golang.org/x/crypto/bcrypt"
)

// Account is a repository owner on the development record server.
// PasswordHash uses bcrypt and is never serialized.
type Account struct {
	Handle       string    `json:"handle"`
	DID          string    `json:"did"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// bcryptCost keeps local logins fast; the server is for development only.
const bcryptCost = bcrypt.DefaultCost

var handlePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,251}[a-z0-9]$`)

// NewAccount validates the handle and password and returns an account with
// a fresh did:plc identifier.
func NewAccount(handle, password string) (*Account, error) {
	handle = strings.ToLower(strings.TrimSpace(handle))
	if err := ValidateHandle(handle); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	return &Account{
		Handle:       handle,
		DID:          "did:plc:" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24],
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}, nil
}

// HashPassword creates a bcrypt hash of the plaintext password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", serr.Wrap(err, "failed to hash password")
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the account's hash.
func (a *Account) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) == nil
}

// ValidatePassword requires at least 8 characters.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return serr.New("password must be at least 8 characters")
	}
	return nil
}

// ValidateHandle accepts domain-like handles such as alice.test.
func ValidateHandle(handle string) error {
	if !handlePattern.MatchString(handle) || !strings.Contains(handle, ".") {
		return serr.New("handle must be a domain name like alice.test", "handle", handle)
	}
	return nil
}
