// Package rbac implements the per-request RBAC resolver and cache:
// effective permissions for (tenant, user) are the union of every assigned
// role's granted permissions plus any direct user grants, cached by
// (tenant_id, user_id) in Redis with eager invalidation for the affected
// user and a tenant-wide epoch bump for everyone else.
package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brightcampus/schoolcore/pkg/database"
	"github.com/brightcampus/schoolcore/pkg/logger"
	"github.com/brightcampus/schoolcore/pkg/rbac"
)

// ttl is the hard cap on how long a cache entry can be trusted without an
// epoch check.
const ttl = 5 * time.Minute

// hotTTL bounds the in-process hot layer in front of the Redis cache. Kept
// short: a hot entry only skips the Redis round trip, never the epoch
// check, so a few seconds is enough to absorb a request burst without
// widening the staleness window meaningfully.
const hotTTL = 5 * time.Second

// cacheEntry is the value stored per (tenant_id, user_id).
type cacheEntry struct {
	Permissions []string `json:"permissions"`
	Epoch       int64    `json:"epoch"`
}

// hotEntry is one in-process hot-layer slot.
type hotEntry struct {
	entry     cacheEntry
	fetchedAt time.Time
}

// Resolver computes and caches effective permission sets. Reads go through
// a small in-process hot layer, then the shared Redis cache, then the
// tenant schema.
type Resolver struct {
	db    *database.DB
	redis *redis.Client
	log   *logger.Logger

	mu  sync.RWMutex
	hot map[string]hotEntry
}

// New constructs a Resolver sharing the process-wide Redis client.
func New(db *database.DB, rdb *redis.Client, log *logger.Logger) *Resolver {
	return &Resolver{db: db, redis: rdb, log: log, hot: make(map[string]hotEntry)}
}

func cacheKey(tenantID, userID string) string {
	return fmt.Sprintf("rbac:perms:%s:%s", tenantID, userID)
}

func epochKey(tenantID string) string {
	return fmt.Sprintf("rbac:epoch:%s", tenantID)
}

// Resolve returns the effective Set for (tenantID/schema, userID), serving
// from cache when the cached epoch still matches the tenant's current epoch.
// The hot layer is consulted first; either cache hit still requires the
// entry's epoch to match, so a role edit invalidates both layers at once.
func (r *Resolver) Resolve(ctx context.Context, tenantID, schema, userID string) (rbac.Set, error) {
	currentEpoch, err := r.currentEpoch(ctx, schema)
	if err != nil {
		return rbac.Set{}, fmt.Errorf("rbac: reading epoch: %w", err)
	}

	if entry, ok := r.readHot(tenantID, userID); ok && entry.Epoch == currentEpoch {
		return rbac.NewSet(entry.Permissions...), nil
	}

	if entry, ok := r.readCache(ctx, tenantID, userID); ok && entry.Epoch == currentEpoch {
		r.writeHot(tenantID, userID, entry)
		return rbac.NewSet(entry.Permissions...), nil
	}

	perms, err := r.loadFromDB(ctx, schema, userID)
	if err != nil {
		return rbac.Set{}, err
	}

	entry := cacheEntry{Permissions: perms, Epoch: currentEpoch}
	r.writeCache(ctx, tenantID, userID, entry)
	r.writeHot(tenantID, userID, entry)
	return rbac.NewSet(perms...), nil
}

// loadFromDB computes the union of role-granted and directly-granted
// permissions for userID inside the tenant schema.
func (r *Resolver) loadFromDB(ctx context.Context, schema, userID string) ([]string, error) {
	var perms []string
	err := r.db.BindTenantSchema(ctx, schema, func(sctx context.Context) error {
		var rolePerms []string
		if err := r.db.SelectContext(sctx, &rolePerms, `
			SELECT DISTINCT rp.permission
			FROM user_roles ur
			JOIN role_permissions rp ON rp.role_id = ur.role_id
			WHERE ur.user_id = $1`, userID); err != nil {
			return fmt.Errorf("loading role permissions: %w", err)
		}

		var directPerms []string
		if err := r.db.SelectContext(sctx, &directPerms, `
			SELECT permission FROM user_permissions WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("loading direct permissions: %w", err)
		}

		seen := make(map[string]struct{}, len(rolePerms)+len(directPerms))
		for _, p := range append(rolePerms, directPerms...) {
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				perms = append(perms, p)
			}
		}
		return nil
	})
	return perms, err
}

// currentEpoch returns the tenant's current RBAC epoch, reading from a
// short-lived Redis cache first (so epoch checks don't add a DB round trip
// to every cache hit) and falling back to the tenant schema's rbac_epoch
// row on a cache miss.
func (r *Resolver) currentEpoch(ctx context.Context, schema string) (int64, error) {
	key := epochKey(schema)
	if r.redis != nil {
		if val, err := r.redis.Get(ctx, key).Int64(); err == nil {
			return val, nil
		}
	}

	var epoch int64
	err := r.db.BindTenantSchema(ctx, schema, func(sctx context.Context) error {
		return r.db.GetContext(sctx, &epoch, `SELECT epoch FROM rbac_epoch WHERE id = 1`)
	})
	if err != nil {
		return 0, err
	}
	if r.redis != nil {
		r.redis.Set(ctx, key, epoch, 30*time.Second)
	}
	return epoch, nil
}

// BumpEpoch increments the tenant's RBAC epoch, lazily invalidating every
// other user's cache entry (they'll see a stale epoch on next Resolve).
// Callers invoke this when a role's permission set is edited.
func (r *Resolver) BumpEpoch(ctx context.Context, schema string) error {
	err := r.db.BindTenantSchema(ctx, schema, func(sctx context.Context) error {
		_, err := r.db.ExecContext(sctx, `
			UPDATE rbac_epoch SET epoch = epoch + 1, bumped_at = now() WHERE id = 1`)
		return err
	})
	if err != nil {
		return err
	}
	if r.redis != nil {
		r.redis.Del(ctx, epochKey(schema))
	}
	return nil
}

// Invalidate eagerly evicts one user's cache entry from both layers: call
// this when a user's role assignments change or the user is deactivated.
func (r *Resolver) Invalidate(ctx context.Context, tenantID, userID string) error {
	r.mu.Lock()
	delete(r.hot, cacheKey(tenantID, userID))
	r.mu.Unlock()

	if r.redis == nil {
		return nil
	}
	return r.redis.Del(ctx, cacheKey(tenantID, userID)).Err()
}

// readHot returns a hot-layer entry younger than hotTTL. The epoch match
// happens in Resolve, not here.
func (r *Resolver) readHot(tenantID, userID string) (cacheEntry, bool) {
	r.mu.RLock()
	h, ok := r.hot[cacheKey(tenantID, userID)]
	r.mu.RUnlock()
	if !ok || time.Since(h.fetchedAt) > hotTTL {
		return cacheEntry{}, false
	}
	return h.entry, true
}

func (r *Resolver) writeHot(tenantID, userID string, entry cacheEntry) {
	r.mu.Lock()
	r.hot[cacheKey(tenantID, userID)] = hotEntry{entry: entry, fetchedAt: time.Now()}
	r.mu.Unlock()
}

func (r *Resolver) readCache(ctx context.Context, tenantID, userID string) (cacheEntry, bool) {
	if r.redis == nil {
		return cacheEntry{}, false
	}
	raw, err := r.redis.Get(ctx, cacheKey(tenantID, userID)).Bytes()
	if err != nil {
		return cacheEntry{}, false
	}
	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return cacheEntry{}, false
	}
	return entry, true
}

func (r *Resolver) writeCache(ctx context.Context, tenantID, userID string, entry cacheEntry) {
	if r.redis == nil {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := r.redis.Set(ctx, cacheKey(tenantID, userID), raw, ttl).Err(); err != nil {
		r.log.Warn().Err(err).Str("tenant_id", tenantID).Str("user_id", userID).Msg("rbac cache write failed")
	}
}
