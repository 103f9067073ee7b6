package server

import (
	"context"
	"encoding/json"

	"media-dispatch-service/internal/biz"
	"media-dispatch-service/internal/conf"
	mediaErrors "media-dispatch-service/internal/errors"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/go-kratos/kratos/v2/log"
)

// jobStatusEvent worker 回传的任务状态
type jobStatusEvent struct {
	JobID    string                 `json:"job_id"`
	Status   string                 `json:"status"`
	Response map[string]interface{} `json:"response"`
	Error    string                 `json:"error"`
	// RetryCount 派发消息中的 retry_count
	RetryCount *int `json:"retry_count"`
}

// JobReporter 应用 worker 上报结果
type JobReporter interface {
	ApplyReport(ctx context.Context, report *biz.WorkerReport) (*biz.Job, error)
}

// MQConsumerServer consumes worker job status events from RocketMQ
type MQConsumerServer struct {
	c       rocketmq.PushConsumer
	jobs    JobReporter
	conf    *conf.Data
	log     *log.Helper
	enabled bool
}

// NewMQConsumerServer creates a RocketMQ consumer server
func NewMQConsumerServer(c *conf.Data, jobs *biz.JobUseCase, logger log.Logger) *MQConsumerServer {
	helper := log.NewHelper(logger)
	if c == nil || c.Rocketmq == nil || !c.Rocketmq.Enabled {
		return &MQConsumerServer{jobs: jobs, log: helper, enabled: false}
	}

	r, err := rocketmq.NewPushConsumer(
		consumer.WithNsResolver(primitive.NewPassthroughResolver(c.Rocketmq.NameServers)),
		consumer.WithGroupName(c.Rocketmq.GroupName),
		consumer.WithRetry(int(c.Rocketmq.RetryTimes)),
		consumer.WithConsumeMessageBatchMaxSize(32),
	)
	if err != nil {
		helper.Errorf("init consumer error: %v", err)
		return &MQConsumerServer{jobs: jobs, log: helper, enabled: false}
	}

	return &MQConsumerServer{
		c:       r,
		jobs:    jobs,
		conf:    c,
		log:     helper,
		enabled: true,
	}
}

// Start starts the consumer
func (s *MQConsumerServer) Start(ctx context.Context) error {
	if !s.enabled {
		s.log.Infof("MQConsumerServer is disabled, skipping startup")
		return nil
	}

	if s.c == nil {
		s.log.Warnf("MQConsumerServer consumer is nil, skipping startup")
		return nil
	}

	s.log.Infof("Starting MQConsumerServer, topic: %s", s.conf.Rocketmq.Topic)

	err := s.c.Subscribe(s.conf.Rocketmq.Topic, consumer.MessageSelector{}, s.handler)
	if err != nil {
		s.log.Errorf("Failed to subscribe to topic %s: %v", s.conf.Rocketmq.Topic, err)
		// 不返回错误，worker 仍可走 HTTP 内部接口上报
		return nil
	}

	if err := s.c.Start(); err != nil {
		s.log.Errorf("Failed to start RocketMQ consumer: %v", err)
		return nil
	}

	return nil
}

// Stop stops the consumer
func (s *MQConsumerServer) Stop(ctx context.Context) error {
	if !s.enabled || s.c == nil {
		return nil
	}
	s.log.Info("Stopping MQConsumerServer")
	return s.c.Shutdown()
}

func (s *MQConsumerServer) handler(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
	for _, msg := range msgs {
		var event jobStatusEvent
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			s.log.Errorf("Unmarshal message failed: %v, body: %s", err, string(msg.Body))
			continue
		}
		if event.JobID == "" {
			s.log.Warnf("job status event without job_id, msg_id: %s", msg.MsgId)
			continue
		}

		_, err := s.jobs.ApplyReport(ctx, &biz.WorkerReport{
			JobID:      event.JobID,
			Status:     biz.JobStatus(event.Status),
			Response:   event.Response,
			Error:      event.Error,
			RetryCount: event.RetryCount,
		})
		switch {
		case err == nil:
		case mediaErrors.IsJobConflict(err):
			// 并发更新仍未消解，稍后重投
			s.log.Warnf("job status event conflicted, retry later: job=%s status=%s", event.JobID, event.Status)
			return consumer.ConsumeRetryLater, nil
		case mediaErrors.IsNotFound(err), mediaErrors.IsInvalidTransition(err), mediaErrors.IsValidation(err):
			// 重投也不会成功
			s.log.Warnf("drop job status event: job=%s status=%s err=%v", event.JobID, event.Status, err)
		default:
			s.log.Errorf("ApplyReport failed: job=%s err=%v", event.JobID, err)
			return consumer.ConsumeRetryLater, nil
		}
	}
	return consumer.ConsumeSuccess, nil
}
