package profiles

import (
	"context"
	"strings"
	"time"

	"github.com/c-pro/geche"
	"github.com/campussublets/subletd/internal/remote"
	"github.com/campussublets/subletd/internal/store"
	"go.uber.org/zap"
)

// Profiles rarely change; a short TTL keeps display names fresh enough
// without hitting the backend on every conversation render.
const profileTTL = 15 * time.Minute

// Fetcher loads a profile from the remote store.
type Fetcher interface {
	GetProfile(ctx context.Context, id string) (*remote.Profile, error)
}

// Cache resolves user profiles through a TTL memory cache backed by the
// remote store, writing every fetch through to the persistent profile
// table so display names survive restarts and outages.
type Cache struct {
	db      *store.DB
	fetcher Fetcher
	logger  *zap.Logger
	mem     geche.Geche[string, store.Profile]
}

// NewCache creates a profile cache. The context bounds the TTL janitor
// goroutine; cancel it at shutdown.
func NewCache(ctx context.Context, db *store.DB, fetcher Fetcher, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		db:      db,
		fetcher: fetcher,
		logger:  logger,
		mem:     geche.NewMapTTLCache[string, store.Profile](ctx, profileTTL, time.Minute),
	}
}

// Get resolves a profile: memory cache, then remote, then the persistent
// table as a stale fallback when the remote is unreachable.
func (c *Cache) Get(ctx context.Context, id string) (store.Profile, error) {
	if p, err := c.mem.Get(id); err == nil {
		return p, nil
	}

	rp, err := c.fetcher.GetProfile(ctx, id)
	if err != nil {
		if sp, derr := c.db.GetProfile(id); derr == nil && sp != nil {
			c.logger.Debug("serving stale profile", zap.String("user", id), zap.Error(err))
			return *sp, nil
		}
		return store.Profile{}, err
	}

	p := store.Profile{
		ID:        rp.ID,
		FirstName: rp.FirstName,
		LastName:  rp.LastName,
		Email:     rp.Email,
		CachedAt:  time.Now().UnixMilli(),
	}
	c.mem.Set(id, p)
	if err := c.db.UpsertProfile(&p); err != nil {
		c.logger.Warn("profile write-through failed", zap.String("user", id), zap.Error(err))
	}
	return p, nil
}

// DisplayName returns a human-readable name for a user id: full name if
// the profile has one, the email local part otherwise, the raw id when no
// profile can be resolved at all.
func (c *Cache) DisplayName(ctx context.Context, id string) string {
	p, err := c.Get(ctx, id)
	if err != nil {
		return id
	}
	return displayName(p, id)
}

func displayName(p store.Profile, fallback string) string {
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name != "" {
		return name
	}
	if at := strings.IndexByte(p.Email, '@'); at > 0 {
		return p.Email[:at]
	}
	return fallback
}

// Initials returns up to two uppercase initials for a display name, for
// avatar rendering.
func Initials(name string) string {
	fields := strings.Fields(name)
	switch len(fields) {
	case 0:
		return "?"
	case 1:
		r := []rune(fields[0])
		return strings.ToUpper(string(r[0]))
	default:
		first := []rune(fields[0])
		last := []rune(fields[len(fields)-1])
		return strings.ToUpper(string(first[0]) + string(last[0]))
	}
}
