package data

import (
	"context"
	"fmt"

	"media-dispatch-service/internal/biz"
	"media-dispatch-service/internal/conf"

	"cloud.google.com/go/pubsub"
	"github.com/go-kratos/kratos/v2/log"
)

type pubSubQueue struct {
	topic *pubsub.Topic
	log   *log.Helper
}

func newPubSubQueue(c *conf.Queue_PubSub, logger log.Logger) (biz.Queue, func(), error) {
	if c == nil || c.ProjectId == "" || c.Topic == "" {
		return nil, nil, fmt.Errorf("pubsub project_id and topic are required")
	}
	client, err := pubsub.NewClient(context.Background(), c.ProjectId)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}
	topic := client.Topic(c.Topic)

	helper := log.NewHelper(logger)
	cleanup := func() {
		topic.Stop()
		if err := client.Close(); err != nil {
			helper.Errorf("failed to close pubsub client: %v", err)
		}
	}
	return &pubSubQueue{topic: topic, log: helper}, cleanup, nil
}

// Send 发布并等待服务端确认，返回 Pub/Sub message ID
func (q *pubSubQueue) Send(ctx context.Context, msg *biz.QueueMessage) (string, error) {
	attrs := make(map[string]string, len(msg.Attributes)+1)
	for k, v := range msg.Attributes {
		attrs[k] = v
	}
	attrs["job_id"] = msg.Key
	result := q.topic.Publish(ctx, &pubsub.Message{Data: msg.Body, Attributes: attrs})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to publish message to topic %s: %w", q.topic.ID(), err)
	}
	return id, nil
}
