package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// 소유자 토큰이 일치할 때만 지우는 compare-and-delete
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisProvider Redis SET NX 기반 락. 값은 소유자 토큰이다.
type RedisProvider struct {
	rdb    *redis.Client
	logger *logrus.Logger
}

func NewRedisProvider(rdb *redis.Client, logger *logrus.Logger) *RedisProvider {
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisProvider{rdb: rdb, logger: logger}
}

func (p *RedisProvider) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := p.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (p *RedisProvider) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, p.rdb, []string{key}, token).Err(); err != nil {
		p.logger.Warnf("Failed to release lock %s: %v", key, err)
		return err
	}
	return nil
}

var _ Provider = (*RedisProvider)(nil)
