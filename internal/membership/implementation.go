// internal/membership/implementation.go
package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const Schema = `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		image_url TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
`

// service implements the Service interface on Postgres.
type service struct {
	db *sqlx.DB
}

// NewService creates a new user directory backed by db.
func NewService(db *sqlx.DB) Service {
	return &service{db: db}
}

func (s *service) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}

func (s *service) Upsert(ctx context.Context, user *User) error {
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO users (id, name, email, image_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			image_url = EXCLUDED.image_url,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`, user.ID, user.Name, user.Email, user.ImageURL).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (s *service) Get(ctx context.Context, id string) (*User, error) {
	user := &User{}
	err := s.db.GetContext(ctx, user, `
		SELECT id, name, email, image_url, created_at, updated_at FROM users WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (s *service) GetMany(ctx context.Context, ids []string) (map[string]*User, error) {
	var users []*User
	err := s.db.SelectContext(ctx, &users, `
		SELECT id, name, email, image_url, created_at, updated_at FROM users WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	out := make(map[string]*User, len(users))
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

type memoryService struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryService creates an in-process user directory.
func NewMemoryService() Service {
	return &memoryService{users: make(map[string]User)}
}

func (s *memoryService) Upsert(ctx context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	user.CreatedAt = now
	if existing, ok := s.users[user.ID]; ok {
		user.CreatedAt = existing.CreatedAt
	}
	user.UpdatedAt = now
	s.users[user.ID] = *user
	return nil
}

func (s *memoryService) Get(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

func (s *memoryService) GetMany(ctx context.Context, ids []string) (map[string]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*User, len(ids))
	for _, id := range ids {
		if user, ok := s.users[id]; ok {
			u := user
			out[id] = &u
		}
	}
	return out, nil
}
