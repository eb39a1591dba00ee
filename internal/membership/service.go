// internal/membership/service.go
package membership

import (
	"context"
)

// Service defines the interface for the user directory.
type Service interface {
	Upsert(ctx context.Context, user *User) error
	Get(ctx context.Context, id string) (*User, error)
	// GetMany returns the users that exist among ids, keyed by id.
	GetMany(ctx context.Context, ids []string) (map[string]*User, error)
}
