package directory

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/golang-lru"
	"github.com/mudassirishfaq94/chat-app/globals"
	"github.com/mudassirishfaq94/chat-app/persistence"
	"github.com/mudassirishfaq94/chat-app/types"
)

const DefaultCacheSize = 1024

// Directory resolves user ids to display names for the "from" field of materialized messages. Names are cached in an
// ARC cache in front of the store; renames go through Rename so that the cache never serves a stale name.
type Directory struct {
	persister persistence.Persister
	cache     *lru.ARCCache
	logger    hclog.Logger
}

func New(persister persistence.Persister, size int) (*Directory, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.NewARC(size)
	if err != nil {
		return nil, err
	}
	return &Directory{
		persister: persister,
		cache:     cache,
		logger:    globals.AppLogger.Named("directory"),
	}, nil
}

// Remember caches the display name of a freshly upserted user.
func (d *Directory) Remember(user *types.User) {
	if user == nil {
		return
	}
	d.cache.Add(user.Id, user.DisplayName)
}

// DisplayName returns the current display name of userId, falling back to the id itself when the user is unknown or
// the store is unavailable.
func (d *Directory) DisplayName(ctx context.Context, userId string) string {
	if name, ok := d.cache.Get(userId); ok {
		return name.(string)
	}
	user, err := d.persister.GetUser(ctx, userId)
	if err != nil {
		d.logger.Warn("could not resolve display name", "user", userId, "error", err)
		return userId
	}
	d.cache.Add(user.Id, user.DisplayName)
	return user.DisplayName
}

// DisplayNames resolves several ids with at most one store round trip.
func (d *Directory) DisplayNames(ctx context.Context, userIds []string) map[string]string {
	names := make(map[string]string, len(userIds))
	missing := make([]string, 0)
	for _, id := range userIds {
		if _, ok := names[id]; ok {
			continue
		}
		if name, ok := d.cache.Get(id); ok {
			names[id] = name.(string)
			continue
		}
		names[id] = id
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return names
	}
	users, err := d.persister.GetUsers(ctx, missing)
	if err != nil {
		d.logger.Warn("could not resolve display names", "count", len(missing), "error", err)
		return names
	}
	for _, u := range users {
		d.cache.Add(u.Id, u.DisplayName)
		names[u.Id] = u.DisplayName
	}
	return names
}

// Rename persists the new display name and refreshes the cache.
func (d *Directory) Rename(ctx context.Context, userId, name string) error {
	if err := d.persister.RenameUser(ctx, userId, name); err != nil {
		return err
	}
	d.cache.Add(userId, name)
	return nil
}
