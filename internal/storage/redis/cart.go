// Package redis persists cart state between sessions. Each session's cart is
// a redis hash mapping product ID to the serialized cart entry, so a returning
// visitor finds their cart as they left it.
package redis

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/avolkov/storefront/internal/domain/cart"
)

// NewClient creates a redis client from a URL such as
// "redis://localhost:6379/0" and verifies connectivity.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis ping")
	}
	return client, nil
}

// persistedEntry wraps a cart entry with its position so insertion order
// survives the round trip through an unordered hash.
type persistedEntry struct {
	cart.Entry
	Pos int `json:"pos"`
}

// Carts stores per-session cart entries.
type Carts struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCarts creates a Carts store. Persisted carts expire after ttl of
// inactivity; zero disables expiry.
func NewCarts(rdb *redis.Client, ttl time.Duration) *Carts {
	return &Carts{rdb: rdb, ttl: ttl}
}

func cartKey(sessionID string) string {
	return "cart:" + sessionID
}

// Save replaces the persisted cart for sessionID with the given entries.
// An empty entry list deletes the key.
func (c *Carts) Save(ctx context.Context, sessionID string, entries []cart.Entry) error {
	key := cartKey(sessionID)

	if len(entries) == 0 {
		if err := c.rdb.Del(ctx, key).Err(); err != nil {
			return errors.Wrap(err, "delete cart")
		}
		return nil
	}

	fields := make(map[string]interface{}, len(entries))
	for i, e := range entries {
		raw, err := json.Marshal(persistedEntry{Entry: e, Pos: i})
		if err != nil {
			return errors.Wrap(err, "marshal cart entry")
		}
		fields[e.ProductID] = raw
	}

	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields)
		if c.ttl > 0 {
			pipe.Expire(ctx, key, c.ttl)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "save cart")
	}
	return nil
}

// Load returns the persisted entries for sessionID in their original
// insertion order. A missing key yields an empty slice.
func (c *Carts) Load(ctx context.Context, sessionID string) ([]cart.Entry, error) {
	raw, err := c.rdb.HGetAll(ctx, cartKey(sessionID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}

	persisted := make([]persistedEntry, 0, len(raw))
	for _, v := range raw {
		var pe persistedEntry
		if err := json.Unmarshal([]byte(v), &pe); err != nil {
			return nil, errors.Wrap(err, "unmarshal cart entry")
		}
		persisted = append(persisted, pe)
	}
	sort.Slice(persisted, func(i, j int) bool { return persisted[i].Pos < persisted[j].Pos })

	entries := make([]cart.Entry, len(persisted))
	for i, pe := range persisted {
		entries[i] = pe.Entry
	}
	return entries, nil
}

// Delete removes the persisted cart for sessionID. Idempotent.
func (c *Carts) Delete(ctx context.Context, sessionID string) error {
	if err := c.rdb.Del(ctx, cartKey(sessionID)).Err(); err != nil {
		return errors.Wrap(err, "delete cart")
	}
	return nil
}

// ForSession binds the store to one session as a cart.Persister.
func (c *Carts) ForSession(sessionID string) cart.Persister {
	return cart.PersisterFunc(func(ctx context.Context, entries []cart.Entry) error {
		return c.Save(ctx, sessionID, entries)
	})
}
