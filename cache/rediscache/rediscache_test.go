package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/kbukum/stepflow/artifact"
	"github.com/kbukum/stepflow/cache"
	"github.com/kbukum/stepflow/errors"
	"github.com/kbukum/stepflow/fingerprint"
	"github.com/kbukum/stepflow/logger"
	"github.com/kbukum/stepflow/redis"
)

const fp = fingerprint.Fingerprint("aa00000000000000000000000000000000000000000000000000000000000001")

func newIndex(t *testing.T, ttl time.Duration) (*Index, *miniredis.Miniredis) {
	t.Helper()
	mini, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mini.Close)

	client, err := redis.New(redis.Config{Enabled: true, Addr: mini.Addr()}, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	return New(client, "stepflow:cache", ttl), mini
}

func entry(run string) cache.Entry {
	return cache.Entry{
		Step:  "train",
		RunID: run,
		Outputs: map[string]artifact.Ref{
			"model": artifact.Pending("train", "model").Resolve("out-fp", artifact.Location("runs/"+run+"/train/model")),
		},
	}
}

func TestIndex_LookupRecord(t *testing.T) {
	idx, mini := newIndex(t, 0)
	ctx := context.Background()

	if _, hit, err := idx.Lookup(ctx, fp); hit || err != nil {
		t.Fatalf("empty: hit=%v err=%v", hit, err)
	}

	if err := idx.Record(ctx, fp, entry("r1")); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := idx.Record(ctx, fp, entry("r2")); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	refs, hit, err := idx.Lookup(ctx, fp)
	if err != nil || !hit {
		t.Fatalf("hit=%v err=%v", hit, err)
	}
	if got := refs["model"].Location; got != "runs/r2/train/model" {
		t.Errorf("Location = %q, want last write", got)
	}
	if refs["model"].Fingerprint != "out-fp" {
		t.Errorf("Fingerprint = %q", refs["model"].Fingerprint)
	}
	if !mini.Exists("stepflow:cache:" + string(fp)) {
		t.Error("expected prefixed key")
	}
}

func TestIndex_TTL(t *testing.T) {
	idx, mini := newIndex(t, time.Minute)
	ctx := context.Background()
	_ = idx.Record(ctx, fp, entry("r1"))

	mini.FastForward(2 * time.Minute)
	if _, hit, _ := idx.Lookup(ctx, fp); hit {
		t.Error("entry should have expired")
	}
}

func TestIndex_Unavailable(t *testing.T) {
	idx, mini := newIndex(t, 0)
	mini.Close()

	_, _, err := idx.Lookup(context.Background(), fp)
	appErr, ok := errors.AsAppError(err)
	if !ok || appErr.Code != errors.ErrCodeCacheUnavailable || !appErr.IsRetryable() {
		t.Errorf("Lookup() error = %v", err)
	}
}
