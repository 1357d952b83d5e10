package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTikTokQuota is the monthly number of requests of the free RapidAPI plan.
const DefaultTikTokQuota = 150

// Quota limits paid API requests per calendar month (UTC).
type Quota interface {
	// Consume takes one request from the quota and reports whether it was available.
	Consume(ctx context.Context) (bool, error)
}

func period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

type MemoryQuota struct {
	mu     sync.Mutex
	limit  int
	used   int
	period string
	now    func() time.Time
}

func NewMemoryQuota(limit int) *MemoryQuota {
	return &MemoryQuota{
		limit: limit,
		now:   time.Now,
	}
}

func (q *MemoryQuota) Consume(context.Context) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if p := period(q.now()); p != q.period {
		q.period, q.used = p, 0
	}
	if q.used >= q.limit {
		return false, nil
	}
	q.used++
	return true, nil
}

var consumeScript = redis.NewScript(`
local used = redis.call("INCR", KEYS[1])
if used == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if used > tonumber(ARGV[1]) then
  redis.call("DECR", KEYS[1])
  return 0
end
return 1
`)

// RedisQuota shares the quota between bot instances.
type RedisQuota struct {
	client redis.UniversalClient
	prefix string
	limit  int
	now    func() time.Time
}

func NewRedisQuota(client redis.UniversalClient, prefix string, limit int) *RedisQuota {
	if prefix == "" {
		prefix = "groupbot:quota"
	}
	return &RedisQuota{
		client: client,
		prefix: prefix,
		limit:  limit,
		now:    time.Now,
	}
}

func (q *RedisQuota) Consume(ctx context.Context) (bool, error) {
	key := q.prefix + ":" + period(q.now())
	// Keys outlive their month a bit and then go away by themselves.
	ttl := int((32 * 24 * time.Hour).Seconds())

	ok, err := consumeScript.Run(ctx, q.client, []string{key}, q.limit, ttl).Int()
	if err != nil {
		return false, fmt.Errorf("failed to consume quota: %w", err)
	}
	return ok == 1, nil
}
