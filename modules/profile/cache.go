package profile

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/Elpepit0/site-tchat-visio/domain/user"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultLookupTTL is how long a resolved avatar stays cached.
	DefaultLookupTTL = 30 * time.Second

	lookupKeyPrefix = "tchat:avatar:"
	// Cached values carry a marker so an empty avatar is still a hit.
	cachedValueMarker = "v:"
)

// Finder resolves a public profile by username.
type Finder interface {
	FindUser(ctx context.Context, username string) (*domain.Profile, error)
}

// CachedDirectory answers avatar lookups for user_list. Concurrent lookups
// of one name share a single call, and results are kept in storage when
// one is configured.
type CachedDirectory struct {
	finder  Finder
	storage fiber.Storage
	ttl     time.Duration
	group   singleflight.Group
	logger  types.Logger
}

// NewCachedDirectory creates a directory over finder. storage may be nil.
func NewCachedDirectory(finder Finder, storage fiber.Storage, ttl time.Duration, logger types.Logger) *CachedDirectory {
	if ttl <= 0 {
		ttl = DefaultLookupTTL
	}
	return &CachedDirectory{
		finder:  finder,
		storage: storage,
		ttl:     ttl,
		logger:  logger,
	}
}

// LookupAvatar returns the avatar URL of username. Unknown users have no
// avatar and are not an error.
func (d *CachedDirectory) LookupAvatar(ctx context.Context, username string) (string, error) {
	if url, ok := d.cached(username); ok {
		return url, nil
	}

	v, err, _ := d.group.Do(username, func() (any, error) {
		profile, err := d.finder.FindUser(ctx, username)
		if errors.Is(err, ErrUserNotFound) {
			d.store(username, "")
			return "", nil
		}
		if err != nil {
			return "", err
		}
		d.store(username, profile.AvatarURL)
		return profile.AvatarURL, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate forgets the cached avatar of username.
func (d *CachedDirectory) Invalidate(_ context.Context, username string) {
	d.group.Forget(username)
	if d.storage == nil {
		return
	}
	if err := d.storage.Delete(lookupKeyPrefix + username); err != nil {
		d.logger.Warn("Failed to invalidate avatar cache", "username", username, "error", err)
	}
}

func (d *CachedDirectory) cached(username string) (string, bool) {
	if d.storage == nil {
		return "", false
	}
	raw, err := d.storage.Get(lookupKeyPrefix + username)
	if err != nil {
		d.logger.Warn("Avatar cache read failed", "username", username, "error", err)
		return "", false
	}
	value := string(raw)
	if !strings.HasPrefix(value, cachedValueMarker) {
		return "", false
	}
	return strings.TrimPrefix(value, cachedValueMarker), true
}

func (d *CachedDirectory) store(username, url string) {
	if d.storage == nil {
		return
	}
	if err := d.storage.Set(lookupKeyPrefix+username, []byte(cachedValueMarker+url), d.ttl); err != nil {
		d.logger.Warn("Avatar cache write failed", "username", username, "error", err)
	}
}
