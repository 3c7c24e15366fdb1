// Package statecache binds a random OAuth state token to the requesting user
// for the few minutes between the authorize redirect and the callback.
// Entries live in redis with a TTL, so abandoned handshakes self-clean.
package statecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/loopreach/social-sync/internal/model"
	"github.com/loopreach/social-sync/internal/redis"
)

// ErrNotFound is returned when a state token is unknown, expired or already
// consumed.
var ErrNotFound = errors.New("state not found")

// Entry is the payload bound to one state token.
type Entry struct {
	UserID       string         `json:"userId"`
	Provider     model.Provider `json:"provider"`
	CodeVerifier string         `json:"codeVerifier,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// consumeScript reads and deletes the entry in one round trip so a state
// value is single-use even under concurrent callback delivery.
var consumeScript = goredis.NewScript(`
local val = redis.call('GET', KEYS[1])
if val then
    redis.call('DEL', KEYS[1])
end
return val
`)

type Cache struct {
	client *goredis.Client
	ttl    time.Duration
}

func New(client *goredis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Put stores an entry under the state token with the configured TTL.
func (c *Cache) Put(ctx context.Context, state string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal state entry: %w", err)
	}
	if err := c.client.Set(ctx, redis.StateKey(state), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("store state entry: %w", err)
	}
	return nil
}

// Consume atomically fetches and deletes the entry for a state token.
// A second Consume for the same token returns ErrNotFound.
func (c *Cache) Consume(ctx context.Context, state string) (*Entry, error) {
	val, err := consumeScript.Run(ctx, c.client, []string{redis.StateKey(state)}).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume state entry: %w", err)
	}

	raw, ok := val.(string)
	if !ok {
		return nil, ErrNotFound
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("decode state entry: %w", err)
	}
	return &entry, nil
}
