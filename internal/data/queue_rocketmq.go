package data

import (
	"context"
	"fmt"

	"media-dispatch-service/internal/biz"
	"media-dispatch-service/internal/conf"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/go-kratos/kratos/v2/log"
)

type rocketMQQueue struct {
	producer rocketmq.Producer
	topic    string
	log      *log.Helper
}

func newRocketMQQueue(c *conf.Queue_RocketMQ, logger log.Logger) (biz.Queue, func(), error) {
	if c == nil || len(c.NameServers) == 0 || c.Topic == "" {
		return nil, nil, fmt.Errorf("rocketmq queue config is incomplete")
	}
	opts := []producer.Option{
		producer.WithNsResolver(primitive.NewPassthroughResolver(c.NameServers)),
		producer.WithGroupName(c.GroupName),
	}
	if c.RetryTimes > 0 {
		opts = append(opts, producer.WithRetry(int(c.RetryTimes)))
	}
	p, err := rocketmq.NewProducer(opts...)
	if err != nil {
		return nil, nil, err
	}
	if err := p.Start(); err != nil {
		return nil, nil, err
	}

	helper := log.NewHelper(logger)
	cleanup := func() {
		if err := p.Shutdown(); err != nil {
			helper.Errorf("failed to shutdown rocketmq producer: %v", err)
		}
	}
	return &rocketMQQueue{producer: p, topic: c.Topic, log: helper}, cleanup, nil
}

// Send 同步发送，返回 RocketMQ MsgID
func (q *rocketMQQueue) Send(ctx context.Context, msg *biz.QueueMessage) (string, error) {
	m := primitive.NewMessage(q.topic, msg.Body)
	m.WithKeys([]string{msg.Key})
	for k, v := range msg.Attributes {
		m.WithProperty(k, v)
	}
	res, err := q.producer.SendSync(ctx, m)
	if err != nil {
		return "", err
	}
	if res.Status != primitive.SendOK {
		return "", fmt.Errorf("rocketmq send status %d", res.Status)
	}
	return res.MsgID, nil
}
