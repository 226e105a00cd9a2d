package dedup

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/dealmungchi/snipedeal/logger"
	apperrors "github.com/dealmungchi/snipedeal/pkg/errors"
)

// RedisStore keeps one sorted set per campaign: member is the external id,
// score the first-seen unix time.
type RedisStore struct {
	client *redis.Client
	prefix string
	opts   options
	log    *logger.Logger
}

// NewRedisStore creates a Redis backed dedup store
func NewRedisStore(client *redis.Client, prefix string, log *logger.Logger, opts ...Option) *RedisStore {
	if log == nil {
		log = logger.ForDedup()
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		opts:   buildOptions(opts),
		log:    log,
	}
}

func (s *RedisStore) key(campaignID int64) string {
	return s.prefix + ":" + strconv.FormatInt(campaignID, 10)
}

// IsNew implements Store
func (s *RedisStore) IsNew(ctx context.Context, campaignID int64, externalID string) (bool, error) {
	err := s.client.ZScore(ctx, s.key(campaignID), externalID).Err()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, apperrors.NewPersistence("dedup", "seen lookup failed", err)
	}
	return false, nil
}

// MarkSeen implements Store
func (s *RedisStore) MarkSeen(ctx context.Context, campaignID int64, externalID string) error {
	err := s.client.ZAddNX(ctx, s.key(campaignID), redis.Z{
		Score:  float64(s.opts.now().Unix()),
		Member: externalID,
	}).Err()
	if err != nil {
		return apperrors.NewPersistence("dedup", "mark seen failed", err)
	}
	return nil
}

// EvictOlderThan implements Store
func (s *RedisStore) EvictOlderThan(ctx context.Context, days int) (int, error) {
	upper := strconv.FormatInt(cutoff(s.opts.now(), days).Unix()-1, 10)

	var (
		removed int64
		cursor  uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+":*", 100).Result()
		if err != nil {
			return int(removed), apperrors.NewPersistence("dedup", "scan seen keys failed", err)
		}
		for _, key := range keys {
			n, err := s.client.ZRemRangeByScore(ctx, key, "-inf", upper).Result()
			if err != nil {
				return int(removed), apperrors.NewPersistence("dedup", fmt.Sprintf("evict %s failed", key), err)
			}
			removed += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	s.log.Info().Int64("removed", removed).Int("days", days).Msg("Evicted seen ids")
	return int(removed), nil
}

// Reset implements Store
func (s *RedisStore) Reset(ctx context.Context, campaignID int64) error {
	if err := s.client.Del(ctx, s.key(campaignID)).Err(); err != nil {
		return apperrors.NewPersistence("dedup", "reset failed", err)
	}
	return nil
}
