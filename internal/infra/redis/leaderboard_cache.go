package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quizarena/internal/domain"
)

// Ranker computes a ranked leaderboard view from storage.
type Ranker func(ctx context.Context, tournamentID uuid.UUID) ([]domain.RankedEntry, error)

// LeaderboardCache caches computed leaderboard views as JSON, one key per
// (tournament, mode). Singleflight collapses concurrent misses; the TTL is
// jittered so hot keys do not expire in lockstep. Submissions invalidate
// every mode of the tournament.
type LeaderboardCache struct {
	client *redis.Client
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewLeaderboardCache(client *redis.Client, ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{
		client: client,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Get returns the cached view for the tournament and mode, computing and
// caching it on miss. Redis failures fall through to the ranker so a cache
// outage degrades to slower reads, not errors.
func (c *LeaderboardCache) Get(ctx context.Context, tournamentID uuid.UUID, mode string, rank Ranker) ([]domain.RankedEntry, error) {
	key := c.key(tournamentID, mode)

	if entries, ok := c.lookup(ctx, key); ok {
		return entries, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check in case another goroutine filled it.
		if entries, ok := c.lookup(ctx, key); ok {
			return entries, nil
		}
		entries, err := rank(ctx, tournamentID)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(entries); err == nil {
			c.client.Set(ctx, key, raw, c.ttlWithJitter())
		}
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.RankedEntry), nil
}

// Invalidate drops every cached mode of the tournament.
func (c *LeaderboardCache) Invalidate(ctx context.Context, tournamentID uuid.UUID) error {
	iter := c.client.Scan(ctx, 0, "leaderboard:"+tournamentID.String()+":*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *LeaderboardCache) lookup(ctx context.Context, key string) ([]domain.RankedEntry, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var entries []domain.RankedEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false
	}
	return entries, true
}

func (c *LeaderboardCache) key(tournamentID uuid.UUID, mode string) string {
	return "leaderboard:" + tournamentID.String() + ":" + mode
}

func (c *LeaderboardCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
