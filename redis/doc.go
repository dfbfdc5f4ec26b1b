// Package redis connects stepflow to Redis through go-redis.
//
// Component manages the connection for the application; Documents keeps
// JSON values under a key prefix and backs the Redis cache index:
//
//	entries := redis.NewDocuments[cache.Entry](client, "stepflow:cache")
//	err := entries.Put(ctx, string(fp), entry, 0)
package redis
