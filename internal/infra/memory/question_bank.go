package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"live-quiz-service/internal/domain"
)

// QuestionLoader fetches question definitions from a backing store.
type QuestionLoader interface {
	LoadQuestion(ctx context.Context, ref string) (domain.QuestionDef, error)
}

// QuestionBank caches question definitions with a TTL so repeated attempts do not hit the store.
type QuestionBank struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedQuestion
}

type cachedQuestion struct {
	def       domain.QuestionDef
	expiresAt time.Time
}

func NewQuestionBank(loader QuestionLoader, ttl time.Duration) *QuestionBank {
	return &QuestionBank{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedQuestion),
	}
}

func (b *QuestionBank) GetQuestion(ctx context.Context, ref string) (domain.QuestionDef, error) {
	if def, ok := b.lookup(ref, b.clock()); ok {
		return def, nil
	}

	result, err, _ := b.sf.Do(ref, func() (interface{}, error) {
		now := b.clock()
		if def, ok := b.lookup(ref, now); ok {
			return def, nil
		}
		def, err := b.loader.LoadQuestion(ctx, ref)
		if err != nil {
			return domain.QuestionDef{}, err
		}
		b.mu.Lock()
		// rnd is guarded by mu
		b.cache[ref] = cachedQuestion{def: def, expiresAt: now.Add(b.ttlWithJitter())}
		b.mu.Unlock()
		return def, nil
	})
	if err != nil {
		return domain.QuestionDef{}, err
	}
	return result.(domain.QuestionDef), nil
}

func (b *QuestionBank) lookup(ref string, now time.Time) (domain.QuestionDef, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.cache[ref]
	if !ok || !entry.expiresAt.After(now) {
		return domain.QuestionDef{}, false
	}
	return entry.def, true
}

func (b *QuestionBank) ttlWithJitter() time.Duration {
	if b.ttl <= 0 {
		return 0
	}
	// up to 10% jitter spreads expirations
	jitterMax := int64(b.ttl) / 10
	return b.ttl + time.Duration(b.rnd.Int63n(jitterMax+1))
}

// StaticQuestionLoader serves definitions from a map (tests, demos).
type StaticQuestionLoader struct {
	defs map[string]domain.QuestionDef
}

func NewStaticQuestionLoader(defs map[string]domain.QuestionDef) *StaticQuestionLoader {
	return &StaticQuestionLoader{defs: defs}
}

func (l *StaticQuestionLoader) LoadQuestion(_ context.Context, ref string) (domain.QuestionDef, error) {
	if def, ok := l.defs[ref]; ok {
		return def, nil
	}
	return domain.QuestionDef{}, domain.ErrQuestionNotFound
}
