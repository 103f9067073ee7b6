package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"media-dispatch-service/internal/biz"
	"media-dispatch-service/internal/constants"
	mediaErrors "media-dispatch-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"github.com/google/uuid"
)

// releaseScript 仅当 value 仍是自己的 token 时删除
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// ErrLockNotHeld 锁已过期或被他人持有
var ErrLockNotHeld = errors.New("lock not held")

type resourceLocker struct {
	data *Data
	log  *log.Helper
}

// NewResourceLocker 基于 Redis SET NX 的资源锁
func NewResourceLocker(data *Data, logger log.Logger) biz.ResourceLocker {
	return &resourceLocker{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// TryAcquire 原子 SET key token NX EX ttl
func (l *resourceLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (biz.ResourceLock, error) {
	if ttl <= 0 {
		ttl = constants.DefaultLockTTL
	}
	token := uuid.New().String()
	ok, err := l.data.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, mediaErrors.LockFailed(err)
	}
	if !ok {
		return nil, mediaErrors.LockConflict(key)
	}
	return &resourceLock{key: key, token: token, rdb: l.data.rdb}, nil
}

type resourceLock struct {
	key   string
	token string
	rdb   *redis.Client
}

func (l *resourceLock) Key() string {
	return l.key
}

func (l *resourceLock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

type leaderLock struct {
	rs *redsync.Redsync
}

// NewLeaderLock 基于 redsync 的 leader 锁（多实例 cron 只允许一个执行）
func NewLeaderLock(rs *redsync.Redsync) biz.LeaderLock {
	return &leaderLock{rs: rs}
}

func (l *leaderLock) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	mutex := l.rs.NewMutex(name, redsync.WithExpiry(ttl), redsync.WithTries(1))
	if err := mutex.TryLockContext(ctx); err != nil {
		// 被占用或 Redis 不可用都视为本轮不执行
		return nil, fmt.Errorf("%w: %v", biz.ErrNotLeader, err)
	}
	return func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_, _ = mutex.UnlockContext(unlockCtx)
	}, nil
}
