package biz

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"media-dispatch-service/internal/constants"
)

// ResourceLock 已持有的资源锁
type ResourceLock interface {
	Key() string
	// Release 仅当锁仍由自己持有时删除
	Release(ctx context.Context) error
}

// ResourceLocker 分布式资源锁
// TryAcquire 非阻塞，锁已被占用时返回 LockConflict 错误
type ResourceLocker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (ResourceLock, error)
}

// LockKey 生成资源锁 key
func LockKey(resourceID, mediaType string) string {
	return fmt.Sprintf(constants.RedisKeyResourceLockFormat, resourceID, mediaType)
}

// SceneResourceID 场景级资源标识
func SceneResourceID(sceneID int64) string {
	return strconv.FormatInt(sceneID, 10)
}

// StoryResourceID 故事级资源标识（整本音频、预览）
func StoryResourceID(storyID int64) string {
	return "story_" + strconv.FormatInt(storyID, 10)
}

// PreviewLockType 预览锁的媒体类型段
func PreviewLockType(kind string) string {
	return "preview_" + kind
}
