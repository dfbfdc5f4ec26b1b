// Package rediscache stores cache entries in Redis as JSON documents keyed
// by fingerprint.
package rediscache

import (
	"context"
	"maps"
	"time"

	"github.com/kbukum/stepflow/artifact"
	"github.com/kbukum/stepflow/cache"
	"github.com/kbukum/stepflow/errors"
	"github.com/kbukum/stepflow/fingerprint"
	"github.com/kbukum/stepflow/redis"
)

// Index is a cache.Index backed by Redis. Each Record is a single SET, so
// concurrent writers race to a last-write-wins result without partial
// entries.
type Index struct {
	entries *redis.Documents[cache.Entry]
	ttl     time.Duration
}

var _ cache.Index = (*Index)(nil)

// New creates an index under keyPrefix. A zero ttl keeps entries forever.
func New(client *redis.Client, keyPrefix string, ttl time.Duration) *Index {
	return &Index{
		entries: redis.NewDocuments[cache.Entry](client, keyPrefix),
		ttl:     ttl,
	}
}

func (i *Index) Lookup(ctx context.Context, fp fingerprint.Fingerprint) (map[string]artifact.Ref, bool, error) {
	e, ok, err := i.entries.Get(ctx, string(fp))
	if err != nil {
		return nil, false, errors.CacheUnavailable("redis", err)
	}
	if !ok {
		return nil, false, nil
	}
	return maps.Clone(e.Outputs), true, nil
}

func (i *Index) Record(ctx context.Context, fp fingerprint.Fingerprint, entry cache.Entry) error {
	entry.Fingerprint = fp
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := i.entries.Put(ctx, string(fp), entry, i.ttl); err != nil {
		return errors.CacheUnavailable("redis", err)
	}
	return nil
}
