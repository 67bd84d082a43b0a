package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// AnonymousIDs hands out negative synthetic ids shared across service instances.
// The mapping lives at quiz:anon:{loginSession}; ids come from INCR quiz:anon:seq.
type AnonymousIDs struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAnonymousIDs(client *redis.Client, ttl time.Duration) *AnonymousIDs {
	return &AnonymousIDs{client: client, ttl: ttl}
}

func (a *AnonymousIDs) For(ctx context.Context, loginSession string) (int64, error) {
	key := "quiz:anon:" + loginSession
	if id, ok, err := a.lookup(ctx, key); err != nil || ok {
		return id, err
	}

	n, err := a.client.Incr(ctx, "quiz:anon:seq").Result()
	if err != nil {
		return 0, err
	}
	set, err := a.client.SetNX(ctx, key, -n, a.ttl).Result()
	if err != nil {
		return 0, err
	}
	if set {
		return -n, nil
	}
	// lost the race to a concurrent request for the same login session
	id, ok, err := a.lookup(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errors.New("anonymous id vanished for login session")
	}
	return id, nil
}

func (a *AnonymousIDs) lookup(ctx context.Context, key string) (int64, bool, error) {
	raw, err := a.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}
