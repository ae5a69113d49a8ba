package auth

import (
	"errors"
	"regexp"
	"time"
)

// usernamePattern defines the valid format for usernames:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// IsValidUsername checks if a username meets format requirements.
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// User represents a registered human account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Identity is the result of verifying an access token: the minimal facts
// the gateway needs to key a user connection.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Domain errors for the auth package.
var (
	// ErrUserNotFound is returned when a user ID or username does not exist.
	ErrUserNotFound = errors.New("auth: user not found")

	// ErrUsernameExists is returned when registering a duplicate username.
	ErrUsernameExists = errors.New("auth: username already exists")

	// ErrTokenInvalid is returned when an access token fails verification
	// for any reason (bad signature, expired, malformed claims).
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrInvalidCredentials is returned when a login attempt fails.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)
