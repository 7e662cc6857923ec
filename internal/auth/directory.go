package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/nerrad567/notify-core/internal/infrastructure/config"
)

// Directory resolves user identifiers to principals for the presence and
// notification paths. Broker webhooks arrive for every connect and
// disconnect, so lookups are served from an in-process cache when enabled.
//
// Only successful lookups are cached; an unknown ID is looked up again next
// time so users created after a miss resolve immediately.
type Directory struct {
	repo  UserRepository
	cache *ristretto.Cache // nil when caching is disabled
	ttl   time.Duration
}

// NewDirectory builds a Directory over repo sized by cfg.
func NewDirectory(repo UserRepository, cfg config.CacheConfig) (*Directory, error) {
	d := &Directory{repo: repo, ttl: time.Duration(cfg.TTL) * time.Second}
	if !cfg.Enabled || cfg.MaxUsers <= 0 {
		return d, nil
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxUsers * 10, // ristretto recommends 10x the item count
		MaxCost:     cfg.MaxUsers,
		BufferItems: 64,

		// Every entry costs 1 so MaxCost is a user count.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating user cache: %w", err)
	}
	d.cache = cache
	return d, nil
}

// Resolve returns the active user with the given ID. ErrUserNotFound
// means the principal does not exist or has been deactivated.
func (d *Directory) Resolve(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, ErrUserNotFound
	}

	if d.cache != nil {
		if v, ok := d.cache.Get(id); ok {
			if u, ok := v.(User); ok {
				return &u, nil
			}
		}
	}

	u, err := d.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrUserNotFound
	}

	if d.cache != nil {
		if d.cache.SetWithTTL(id, *u, 1, d.ttl) {
			d.cache.Wait()
		}
	}
	return u, nil
}

// Exists reports whether id names an active user. Lookup failures other than
// "not found" are returned.
func (d *Directory) Exists(ctx context.Context, id string) (bool, error) {
	_, err := d.Resolve(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrUserNotFound):
		return false, nil
	default:
		return false, err
	}
}

// AllUserIDs returns every active user's ID. It always reads through to
// the repository.
func (d *Directory) AllUserIDs(ctx context.Context) ([]string, error) {
	return d.repo.ListActiveIDs(ctx)
}

// Invalidate drops id from the cache after the user was modified.
func (d *Directory) Invalidate(id string) {
	if d.cache != nil {
		d.cache.Del(id)
	}
}

// Close releases the cache's background goroutines.
func (d *Directory) Close() {
	if d.cache != nil {
		d.cache.Close()
	}
}
