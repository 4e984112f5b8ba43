package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const statsKeyTmpl = "swarmfuzz:%s:stats:%s" // campaign, client

// RedisStatsSink mirrors per-client Stats events into a redis hash so the
// campaign's counters are visible outside the broker process. Best effort:
// redis trouble is logged, never propagated into the bus.
type RedisStatsSink struct {
	client   *redis.Client
	logger   *zap.Logger
	campaign string
}

func NewRedisStatsSink(client *redis.Client, logger *zap.Logger, campaign string) *RedisStatsSink {
	return &RedisStatsSink{client: client, logger: logger.Named("stats-sink"), campaign: campaign}
}

func (s *RedisStatsSink) Forward(ev *Event) {
	if ev.Kind != KindStats || ev.Stats == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	key := fmt.Sprintf(statsKeyTmpl, s.campaign, ev.Client)
	err := s.client.HSet(ctx, key,
		"execs", ev.Stats.Execs,
		"execs_per_sec", ev.Stats.ExecsPerSec,
		"corpus", ev.Stats.Corpus,
		"solutions", ev.Stats.Solutions,
		"edges_seen", ev.Stats.EdgesSeen,
		"updated_at", time.Now().Unix(),
	).Err()
	if err != nil {
		s.logger.Warn("failed to publish stats to redis", zap.Error(err))
	}
}
