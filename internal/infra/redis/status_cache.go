package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"live-quiz-service/internal/domain"
)

// StatusCache shares session status snapshots between service instances so polls skip the database.
// Snapshots are stored as a hash: HSET quiz:session:{id}:status status ... nextstart {unix ms}
// nextstart is absolute, so every instance computes the same countdown.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStatusCache(client *redis.Client, ttl time.Duration) *StatusCache {
	return &StatusCache{client: client, ttl: ttl}
}

// Put stores an open session's snapshot and clears the key of a closed one.
func (c *StatusCache) Put(ctx context.Context, snap domain.StatusSnapshot) error {
	key := c.key(snap.SessionID)
	if !snap.Open {
		return c.client.Del(ctx, key).Err()
	}
	var nextStart int64
	if !snap.NextStartTime.IsZero() {
		nextStart = snap.NextStartTime.UnixMilli()
	}
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, map[string]interface{}{
		"status":       string(snap.Status),
		"slot":         snap.CurrentSlot,
		"number":       snap.QuestionNumber,
		"questiontime": snap.QuestionTime,
		"nextstart":    nextStart,
		"last":         strconv.FormatBool(snap.LastQuestion),
		"history":      strconv.FormatBool(snap.ShowHistory),
	})
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (c *StatusCache) Get(ctx context.Context, sessionID int64) (domain.StatusSnapshot, bool, error) {
	fields, err := c.client.HGetAll(ctx, c.key(sessionID)).Result()
	if err != nil {
		return domain.StatusSnapshot{}, false, err
	}
	if len(fields) == 0 {
		return domain.StatusSnapshot{}, false, nil
	}
	snap := domain.StatusSnapshot{
		SessionID:      sessionID,
		Open:           true,
		Status:         domain.SessionStatus(fields["status"]),
		CurrentSlot:    atoi(fields["slot"]),
		QuestionNumber: atoi(fields["number"]),
		QuestionTime:   atoi(fields["questiontime"]),
	}
	snap.LastQuestion, _ = strconv.ParseBool(fields["last"])
	snap.ShowHistory, _ = strconv.ParseBool(fields["history"])
	if ms, err := strconv.ParseInt(fields["nextstart"], 10, 64); err == nil && ms > 0 {
		snap.NextStartTime = time.UnixMilli(ms)
	}
	return snap, true, nil
}

func (c *StatusCache) key(sessionID int64) string {
	return "quiz:session:" + strconv.FormatInt(sessionID, 10) + ":status"
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
