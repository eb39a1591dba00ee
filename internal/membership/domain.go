// internal/membership/domain.go
package membership

import (
	"errors"
	"time"
)

var ErrUserNotFound = errors.New("user not found")

// User is the local copy of an identity-provider account. Only the identity
// webhook writes it.
type User struct {
	ID        string    `json:"id" db:"id" validate:"required"`
	Name      string    `json:"name" db:"name" validate:"required"`
	Email     string    `json:"email" db:"email" validate:"required,email"`
	ImageURL  string    `json:"image_url" db:"image_url" validate:"omitempty,url"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// identityEvent is the body of an identity-provider webhook delivery.
type identityEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data User   `json:"data"`
}
