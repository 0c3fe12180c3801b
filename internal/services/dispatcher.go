package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Job 비동기 디스패처 잡
type Job struct {
	Type  string                 `json:"type"`
	Data  map[string]interface{} `json:"data"`
	Delay time.Duration          `json:"delay,omitempty"`
}

// 잡 타입
const (
	JobSendMessage  = "send_message"
	JobNotification = "notification"
)

// Dispatcher 큐 우선 발신 전략의 큐 쪽 인터페이스. Enqueue 실패 시
// 호출측이 동기 전송으로 폴백한다.
type Dispatcher interface {
	Enqueue(ctx context.Context, job *Job) error
}

const (
	dispatchQueueKey        = "csflow:jobs"
	dispatchDelayedQueueKey = "csflow:jobs:delayed"
)

// RedisDispatcher Redis 리스트 기반 디스패처
type RedisDispatcher struct {
	rdb    *redis.Client
	logger *logrus.Logger
}

func NewRedisDispatcher(rdb *redis.Client, logger *logrus.Logger) *RedisDispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisDispatcher{rdb: rdb, logger: logger}
}

func (d *RedisDispatcher) Enqueue(ctx context.Context, job *Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	if job.Delay > 0 {
		score := float64(time.Now().Add(job.Delay).Unix())
		if err := d.rdb.ZAdd(ctx, dispatchDelayedQueueKey, redis.Z{Score: score, Member: b}).Err(); err != nil {
			return fmt.Errorf("enqueue delayed job: %w", err)
		}
		return nil
	}

	if err := d.rdb.LPush(ctx, dispatchQueueKey, b).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

var _ Dispatcher = (*RedisDispatcher)(nil)
