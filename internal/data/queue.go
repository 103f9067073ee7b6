package data

import (
	"fmt"

	"media-dispatch-service/internal/biz"
	"media-dispatch-service/internal/conf"
	"media-dispatch-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
)

// NewQueue 按 queue.driver 创建 worker 队列生产者
func NewQueue(c *conf.Bootstrap, logger log.Logger) (biz.Queue, func(), error) {
	if c.Queue == nil {
		return nil, nil, fmt.Errorf("queue config is nil")
	}
	switch c.Queue.Driver {
	case "", constants.QueueDriverRocketMQ:
		return newRocketMQQueue(c.Queue.Rocketmq, logger)
	case constants.QueueDriverSQS:
		return newSQSQueue(c.Queue.Sqs, logger)
	case constants.QueueDriverPubSub:
		return newPubSubQueue(c.Queue.Pubsub, logger)
	default:
		return nil, nil, fmt.Errorf("unsupported queue driver %q", c.Queue.Driver)
	}
}
