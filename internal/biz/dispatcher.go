package biz

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"media-dispatch-service/internal/constants"
	mediaErrors "media-dispatch-service/internal/errors"
	"media-dispatch-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// QueueMessage 发往 worker 队列的消息
type QueueMessage struct {
	Key        string // 消息 key，取 job_id
	Body       []byte
	Attributes map[string]string
}

// Queue 外部 worker 队列（RocketMQ / SQS / Pub/Sub）
// Send 成功时返回队列分配的消息句柄
type Queue interface {
	Send(ctx context.Context, msg *QueueMessage) (string, error)
}

// Dispatcher 组装消息、投递到队列并记录句柄
type Dispatcher struct {
	queue   Queue
	jobs    JobRepo
	stories StoryRepo
	conf    *GenerationConfig
	log     *log.Helper
	metrics *metrics.DispatchMetrics
	now     func() time.Time
}

// NewDispatcher 创建 Dispatcher
func NewDispatcher(queue Queue, jobs JobRepo, stories StoryRepo, conf *GenerationConfig, logger log.Logger) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		jobs:    jobs,
		stories: stories,
		conf:    conf,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
		now:     time.Now,
	}
}

// Action 任务对应的 worker 动作
func (j *Job) Action() string {
	if j.JobType == JobTypeGenerateMedia {
		if j.MediaType == constants.MediaTypeAudio {
			return constants.ActionGenerateAudio
		}
		return constants.ActionGenerateImage
	}
	return string(j.JobType)
}

// Dispatch 投递 pending 任务
// 成功：记录消息句柄并置为 processing，worker 已抢先回报时返回库中的最新任务
// 失败：置为 failed 并返回 EnqueueFailure，由调用方补偿积分
func (d *Dispatcher) Dispatch(ctx context.Context, job *Job, request, extra map[string]interface{}) (*Job, error) {
	if job.Status != JobStatusPending {
		return nil, job.invalid(JobStatusProcessing)
	}
	startTime := time.Now()

	message := d.buildMessage(ctx, job, request, extra)
	body, err := json.Marshal(message)
	if err != nil {
		return d.fail(ctx, job, fmt.Errorf("encode message: %w", err))
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.conf.SendTimeout)
	defer cancel()
	messageID, err := d.queue.Send(sendCtx, &QueueMessage{
		Key:  job.ID,
		Body: body,
		Attributes: map[string]string{
			"job_type":    string(job.JobType),
			"action":      job.Action(),
			"retry_count": strconv.Itoa(job.RetryCount),
		},
	})
	if d.metrics != nil {
		d.metrics.DispatchDuration.WithLabelValues(string(job.JobType)).Observe(time.Since(startTime).Seconds())
	}
	if err != nil {
		return d.fail(ctx, job, err)
	}

	// 消息已发出，之后的落库失败不能再走补偿，只记录
	// worker 可能在这之前就已回报，句柄单独写入，状态推进带守卫
	if err := d.jobs.SetMessageID(ctx, job.ID, messageID); err != nil {
		d.log.WithContext(ctx).Errorf("job %s dispatched as %s but handle not persisted: %v", job.ID, messageID, err)
	}
	if d.metrics != nil {
		d.metrics.DispatchTotal.WithLabelValues(string(job.JobType), constants.DispatchResultSuccess).Inc()
	}

	job.MessageID = messageID
	if err := job.MarkAsProcessing(d.now()); err != nil {
		return nil, err
	}
	if err := d.jobs.UpdateJob(ctx, job, JobStatusPending); err != nil {
		if !mediaErrors.IsJobConflict(err) {
			d.log.WithContext(ctx).Errorf("job %s dispatched as %s but not persisted: %v", job.ID, messageID, err)
		}
		current, getErr := d.jobs.GetJob(ctx, job.ID)
		if getErr != nil {
			d.log.WithContext(ctx).Errorf("reload job %s: %v", job.ID, getErr)
			return job, nil
		}
		d.log.WithContext(ctx).Infof("job dispatched: job_id=%s, message_id=%s, already %s", job.ID, messageID, current.Status)
		return current, nil
	}
	if d.metrics != nil {
		d.metrics.JobTransitionTotal.WithLabelValues(string(JobStatusProcessing)).Inc()
	}
	d.log.WithContext(ctx).Infof("job dispatched: job_id=%s, type=%s, message_id=%s", job.ID, job.JobType, messageID)
	return job, nil
}

func (d *Dispatcher) fail(ctx context.Context, job *Job, cause error) (*Job, error) {
	d.log.WithContext(ctx).Errorf("dispatch job %s failed: %v", job.ID, cause)
	if d.metrics != nil {
		d.metrics.DispatchTotal.WithLabelValues(string(job.JobType), constants.DispatchResultFailed).Inc()
	}
	if err := job.MarkAsFailed(fmt.Sprintf("enqueue failed: %v", cause), d.now()); err == nil {
		if err := d.jobs.UpdateJob(ctx, job, JobStatusPending); err != nil {
			d.log.WithContext(ctx).Errorf("persist failed job %s: %v", job.ID, err)
		} else if d.metrics != nil {
			d.metrics.JobTransitionTotal.WithLabelValues(string(JobStatusFailed)).Inc()
		}
	}
	return job, mediaErrors.EnqueueFailure(job.ID, cause)
}

// buildMessage 请求数据 < 额外上下文 < 任务字段
func (d *Dispatcher) buildMessage(ctx context.Context, job *Job, request, extra map[string]interface{}) map[string]interface{} {
	message := make(map[string]interface{}, len(request)+len(extra)+10)
	for k, v := range request {
		message[k] = v
	}
	for k, v := range extra {
		message[k] = v
	}
	if _, ok := message["media_id"]; !ok {
		message["media_id"] = nil
	}
	message["job_id"] = job.ID
	message["job_type"] = string(job.JobType)
	message["user_id"] = job.UserID
	message["action"] = job.Action()
	message["retry_count"] = job.RetryCount
	if job.StoryID != nil {
		message["story_id"] = *job.StoryID
	}
	if job.SceneID != nil {
		message["scene_id"] = *job.SceneID
	}
	if job.MediaType != "" {
		message["media_type"] = job.MediaType
	}

	if job.JobType == JobTypeGenerateMedia && job.MediaType == constants.MediaTypeAudio &&
		job.StoryID != nil && job.SceneID != nil {
		previous, next, err := d.stitchingHints(ctx, *job.StoryID, *job.SceneID, job.ID)
		if err != nil {
			// 拼接提示缺失时 worker 仍可单独生成
			d.log.WithContext(ctx).Warnf("load stitching hints for job %s: %v", job.ID, err)
		} else {
			message["previous_request_ids"] = previous
			message["next_request_ids"] = next
		}
	}
	return message
}

// stitchingHints 同一故事中其它场景最新的音频任务句柄，按场景顺序分为前后两组
func (d *Dispatcher) stitchingHints(ctx context.Context, storyID, sceneID int64, jobID string) ([]string, []string, error) {
	scenes, err := d.stories.ListActiveScenes(ctx, storyID)
	if err != nil {
		return nil, nil, err
	}
	order := make(map[int64]int, len(scenes))
	for _, s := range scenes {
		order[s.ID] = s.Order
	}
	target, ok := order[sceneID]
	if !ok {
		return []string{}, []string{}, nil
	}

	handles, err := d.jobs.ListActiveAudioHandles(ctx, storyID)
	if err != nil {
		return nil, nil, err
	}
	latest := make(map[int64]*AudioHandle)
	for _, h := range handles {
		if h.SceneID == sceneID || h.JobID == jobID || h.MessageID == "" {
			continue
		}
		if _, active := order[h.SceneID]; !active {
			continue
		}
		if cur, seen := latest[h.SceneID]; !seen || h.CreatedAt.After(cur.CreatedAt) {
			latest[h.SceneID] = h
		}
	}

	sceneIDs := make([]int64, 0, len(latest))
	for id := range latest {
		sceneIDs = append(sceneIDs, id)
	}
	sort.Slice(sceneIDs, func(i, k int) bool {
		if order[sceneIDs[i]] != order[sceneIDs[k]] {
			return order[sceneIDs[i]] < order[sceneIDs[k]]
		}
		return sceneIDs[i] < sceneIDs[k]
	})

	previous, next := []string{}, []string{}
	for _, id := range sceneIDs {
		if order[id] < target || (order[id] == target && id < sceneID) {
			previous = append(previous, latest[id].MessageID)
		} else {
			next = append(next, latest[id].MessageID)
		}
	}
	return previous, next, nil
}
