package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

// QuestionCache caches question definitions in Redis and falls back to a loader on a miss.
// Definitions are stored as JSON: SET quiz:question:{ref} {json} EX ttl
type QuestionCache struct {
	client *redis.Client
	loader memory.QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewQuestionCache(client *redis.Client, loader memory.QuestionLoader, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuestionCache) GetQuestion(ctx context.Context, ref string) (domain.QuestionDef, error) {
	if def, ok := c.cached(ctx, ref); ok {
		return def, nil
	}

	result, err, _ := c.sf.Do(ref, func() (interface{}, error) {
		// another caller may have filled it
		if def, ok := c.cached(ctx, ref); ok {
			return def, nil
		}
		def, err := c.loader.LoadQuestion(ctx, ref)
		if err != nil {
			return domain.QuestionDef{}, err
		}
		if raw, err := json.Marshal(def); err == nil {
			_ = c.client.Set(ctx, c.key(ref), raw, c.ttlWithJitter()).Err()
		}
		return def, nil
	})
	if err != nil {
		return domain.QuestionDef{}, err
	}
	return result.(domain.QuestionDef), nil
}

// cached reports a hit only for a readable entry; Redis errors degrade to a miss.
func (c *QuestionCache) cached(ctx context.Context, ref string) (domain.QuestionDef, bool) {
	raw, err := c.client.Get(ctx, c.key(ref)).Bytes()
	if err != nil {
		return domain.QuestionDef{}, false
	}
	var def domain.QuestionDef
	if err := json.Unmarshal(raw, &def); err != nil {
		return domain.QuestionDef{}, false
	}
	return def, true
}

// Invalidate drops a cached definition after the bank entry changed.
func (c *QuestionCache) Invalidate(ctx context.Context, ref string) error {
	return c.client.Del(ctx, c.key(ref)).Err()
}

func (c *QuestionCache) key(ref string) string {
	return "quiz:question:" + ref
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
