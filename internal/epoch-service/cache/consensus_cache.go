package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/beliefmkt/belief-consensus-poc/pkg/contracts/events"
)

// ConsensusCache guarda no Redis o consenso corrente de cada belief,
// atualizado a cada commit de época (e refrescado em skips).
type ConsensusCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewConsensusCache(c *redis.Client, ttl time.Duration) *ConsensusCache {
	return &ConsensusCache{Client: c, TTL: ttl}
}

func key(beliefID string) string { return "consensus:current:" + beliefID }

// SetCurrent grava o consenso corrente do belief com TTL.
func (c *ConsensusCache) SetCurrent(ctx context.Context, u events.ConsensusUpdate) error {
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, key(u.BeliefID), b, c.TTL).Err()
}

// GetCurrent lê o consenso do cache; ok=false em cache miss.
func (c *ConsensusCache) GetCurrent(ctx context.Context, beliefID string) (events.ConsensusUpdate, bool, error) {
	var u events.ConsensusUpdate
	raw, err := c.Client.Get(ctx, key(beliefID)).Bytes()
	if err == redis.Nil {
		return u, false, nil
	}
	if err != nil {
		return u, false, err
	}
	if err := json.Unmarshal(raw, &u); err != nil {
		return u, false, err
	}
	return u, true, nil
}
