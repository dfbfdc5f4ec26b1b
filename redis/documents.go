package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Documents stores values of T as JSON strings under prefix:key.
type Documents[T any] struct {
	client *Client
	prefix string
}

// NewDocuments returns a document set under prefix. An empty prefix uses
// bare keys.
func NewDocuments[T any](client *Client, prefix string) *Documents[T] {
	return &Documents[T]{client: client, prefix: prefix}
}

// Key is the Redis key holding the document id.
func (d *Documents[T]) Key(id string) string {
	if d.prefix == "" {
		return id
	}
	return d.prefix + ":" + id
}

// Get loads a document. A missing key reports ok=false with no error.
func (d *Documents[T]) Get(ctx context.Context, id string) (doc T, ok bool, err error) {
	raw, err := d.client.rdb.Get(ctx, d.Key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return doc, false, nil
	}
	if err != nil {
		return doc, false, fmt.Errorf("redis: get %s: %w", d.Key(id), err)
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, false, fmt.Errorf("redis: decode %s: %w", d.Key(id), err)
	}
	return doc, true, nil
}

// Put replaces a document in one SET. A zero ttl never expires.
func (d *Documents[T]) Put(ctx context.Context, id string, doc T, ttl time.Duration) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("redis: encode %s: %w", d.Key(id), err)
	}
	if err := d.client.rdb.Set(ctx, d.Key(id), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", d.Key(id), err)
	}
	return nil
}

// Delete removes a document; deleting a missing one succeeds.
func (d *Documents[T]) Delete(ctx context.Context, id string) error {
	if err := d.client.rdb.Del(ctx, d.Key(id)).Err(); err != nil {
		return fmt.Errorf("redis: del %s: %w", d.Key(id), err)
	}
	return nil
}
