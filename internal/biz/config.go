package biz

import (
	"time"

	"media-dispatch-service/internal/conf"
	"media-dispatch-service/internal/constants"
)

// GenerationConfig 生成与派发配置
type GenerationConfig struct {
	LockTTL        time.Duration // 资源锁有效期
	MaxRetries     int           // 任务最大重试次数
	DefaultCredits int64         // 新账户默认积分
	SendTimeout    time.Duration // 队列发送超时
}

// NewGenerationConfig 从配置创建 GenerationConfig
func NewGenerationConfig(c *conf.Bootstrap) *GenerationConfig {
	config := &GenerationConfig{
		LockTTL:        constants.DefaultLockTTL,
		MaxRetries:     constants.DefaultMaxRetries,
		DefaultCredits: constants.DefaultCredits,
		SendTimeout:    constants.DefaultSendTimeout,
	}
	if c.Generation != nil {
		if ttl := c.Generation.LockTtl.AsDuration(); ttl > 0 {
			config.LockTTL = ttl
		}
		if c.Generation.MaxRetries > 0 {
			config.MaxRetries = int(c.Generation.MaxRetries)
		}
		if c.Generation.DefaultCredits > 0 {
			config.DefaultCredits = c.Generation.DefaultCredits
		}
	}
	if c.Queue != nil {
		if timeout := c.Queue.SendTimeout.AsDuration(); timeout > 0 {
			config.SendTimeout = timeout
		}
	}
	return config
}
