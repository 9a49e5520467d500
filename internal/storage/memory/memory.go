// Package memory is a process-local user store for local runs and tests.
// It enforces the same uniqueness rules as the postgres schema.
package memory

import (
	"context"
	"sync"
	"time"

	"msat_auth/internal/models"
	"msat_auth/internal/storage"
)

type MemoryRepo struct {
	mu         sync.RWMutex
	nextID     int64
	users      map[int64]models.User
	byUsername map[string]int64
	byEmail    map[string]int64
	now        func() time.Time
}

func New() *MemoryRepo {
	return &MemoryRepo{
		users:      make(map[int64]models.User),
		byUsername: make(map[string]int64),
		byEmail:    make(map[string]int64),
		now:        time.Now,
	}
}

func (r *MemoryRepo) SaveUser(ctx context.Context, username, email string, passHash []byte) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byUsername[username]; ok {
		return models.User{}, storage.ErrUsernameExists
	}
	if _, ok := r.byEmail[email]; ok {
		return models.User{}, storage.ErrEmailExists
	}

	r.nextID++
	now := r.now().UTC()

	u := models.User{
		ID:        r.nextID,
		Username:  username,
		Email:     email,
		PassHash:  append([]byte(nil), passHash...),
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.users[u.ID] = u
	r.byUsername[username] = u.ID
	r.byEmail[email] = u.ID

	return u, nil
}

func (r *MemoryRepo) UserByUsername(ctx context.Context, username string) (models.User, error) {
	return r.lookup(ctx, r.byUsername, username)
}

func (r *MemoryRepo) UserByEmail(ctx context.Context, email string) (models.User, error) {
	return r.lookup(ctx, r.byEmail, email)
}

func (r *MemoryRepo) UpdatePassword(ctx context.Context, userID int64, passHash []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}

	u.PassHash = append([]byte(nil), passHash...)
	u.UpdatedAt = r.now().UTC()
	r.users[userID] = u

	return nil
}

func (r *MemoryRepo) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *MemoryRepo) Close() {}

func (r *MemoryRepo) lookup(ctx context.Context, index map[string]int64, key string) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := index[key]
	if !ok {
		return models.User{}, storage.ErrUserNotFound
	}

	u := r.users[id]
	u.PassHash = append([]byte(nil), u.PassHash...)

	return u, nil
}
