package biz

import (
	"context"
	"errors"
	"time"

	"media-dispatch-service/internal/conf"
	"media-dispatch-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
)

// ErrNotLeader 其它实例正在执行
var ErrNotLeader = errors.New("leader lock held by another instance")

// LeaderLock 多实例互斥执行
type LeaderLock interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (unlock func(), err error)
}

// RetrySweeper 定时重新派发到期的重试任务
type RetrySweeper struct {
	jobs      *JobUseCase
	leader    LeaderLock
	batchSize int
	lockTTL   time.Duration
	log       *log.Helper
}

// NewRetrySweeper 创建重试扫描器
func NewRetrySweeper(jobs *JobUseCase, leader LeaderLock, c *conf.Bootstrap, logger log.Logger) *RetrySweeper {
	s := &RetrySweeper{
		jobs:      jobs,
		leader:    leader,
		batchSize: 100,
		lockTTL:   50 * time.Second,
		log:       log.NewHelper(logger),
	}
	if c.Retry != nil {
		if c.Retry.BatchSize > 0 {
			s.batchSize = int(c.Retry.BatchSize)
		}
		if ttl := c.Retry.LockTtl.AsDuration(); ttl > 0 {
			s.lockTTL = ttl
		}
	}
	return s
}

// Sweep 执行一轮；未拿到 leader 锁时直接返回
func (s *RetrySweeper) Sweep(ctx context.Context) (dispatched, failed int, err error) {
	unlock, err := s.leader.TryLock(ctx, constants.RedisKeyRetrySweepLock, s.lockTTL)
	if err != nil {
		if errors.Is(err, ErrNotLeader) {
			s.log.WithContext(ctx).Debugf("skip retry sweep: %v", err)
			return 0, 0, nil
		}
		return 0, 0, err
	}
	defer unlock()

	return s.jobs.DispatchDueRetries(ctx, s.batchSize)
}
