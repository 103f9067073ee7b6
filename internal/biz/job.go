package biz

import (
	"context"
	"time"

	"media-dispatch-service/internal/constants"
	mediaErrors "media-dispatch-service/internal/errors"
)

// JobType 任务类型
type JobType string

const (
	JobTypeGenerateMedia        JobType = "generate_media"
	JobTypeGenerateEntireAudio  JobType = "generate_entire_audio"
	JobTypeGeneratePDFPreview   JobType = "generate_pdf_preview"
	JobTypeGenerateAudioPreview JobType = "generate_audio_preview"
	JobTypeGenerateVideoPreview JobType = "generate_video_preview"
)

// PreviewJobType 预览类型对应的任务类型
func PreviewJobType(kind string) (JobType, bool) {
	switch kind {
	case constants.PreviewPDF:
		return JobTypeGeneratePDFPreview, true
	case constants.PreviewAudio:
		return JobTypeGenerateAudioPreview, true
	case constants.PreviewVideo:
		return JobTypeGenerateVideoPreview, true
	}
	return "", false
}

// JobStatus 任务状态
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Job 一次异步生成任务
type Job struct {
	ID           string
	JobType      JobType
	Status       JobStatus
	UserID       int64
	StoryID      *int64
	SceneID      *int64
	MediaType    string
	RequestData  map[string]interface{}
	ResponseData map[string]interface{}
	ErrorMessage string

	MessageID           string // 队列返回的消息句柄，未派发时为空
	CreditCost          int64
	CreditTransactionID string
	RefundTransactionID string
	RateVersion         string

	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time

	Version int64 // 乐观锁版本，每次 UpdateJob 加一
}

// AudioHandle 已派发音频任务的消息句柄（用于旁白拼接）
type AudioHandle struct {
	JobID     string
	SceneID   int64
	MessageID string
	CreatedAt time.Time
}

// JobRepo 任务数据层接口
type JobRepo interface {
	CreateJob(ctx context.Context, job *Job) error
	// GetJob 不存在时返回 NotFound
	GetJob(ctx context.Context, jobID string) (*Job, error)
	// UpdateJob 乐观锁：仅当库中状态仍为 from 且版本未变时更新，否则返回 JobConflict
	UpdateJob(ctx context.Context, job *Job, from JobStatus) error
	// SetMessageID 无状态守卫地写入消息句柄，与 worker 回报的先后顺序无关
	SetMessageID(ctx context.Context, jobID, messageID string) error
	// ListActiveAudioHandles 故事下未终止失败且已派发的场景音频任务，按创建时间倒序
	ListActiveAudioHandles(ctx context.Context, storyID int64) ([]*AudioHandle, error)
	// ListDueRetries 到期待重试的任务
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*Job, error)
}

func (j *Job) invalid(to JobStatus) error {
	return mediaErrors.InvalidTransition(j.ID, string(j.Status), string(to))
}

// IsTerminal 是否终态
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusCancelled:
		return true
	case JobStatusFailed:
		return j.RetryCount >= j.MaxRetries
	}
	return false
}

// awaitingRetry 上一轮失败后排队等待重新派发
func (j *Job) awaitingRetry() bool {
	return j.Status == JobStatusPending && j.NextRetryAt != nil
}

// MarkAsProcessing pending -> processing
func (j *Job) MarkAsProcessing(now time.Time) error {
	if j.Status != JobStatusPending {
		return j.invalid(JobStatusProcessing)
	}
	j.Status = JobStatusProcessing
	j.StartedAt = &now
	j.NextRetryAt = nil
	return nil
}

// MarkAsCompleted processing -> completed
func (j *Job) MarkAsCompleted(response map[string]interface{}, now time.Time) error {
	if j.Status != JobStatusProcessing {
		return j.invalid(JobStatusCompleted)
	}
	j.Status = JobStatusCompleted
	j.ResponseData = response
	j.CompletedAt = &now
	return nil
}

// MarkAsFailed pending|processing -> failed
func (j *Job) MarkAsFailed(errMsg string, now time.Time) error {
	if j.Status != JobStatusPending && j.Status != JobStatusProcessing {
		return j.invalid(JobStatusFailed)
	}
	j.Status = JobStatusFailed
	j.ErrorMessage = errMsg
	j.CompletedAt = &now
	return nil
}

// ScheduleRetry failed -> pending
// 返回是否真正安排了重试；次数耗尽时保持 failed
func (j *Job) ScheduleRetry(now time.Time) (bool, error) {
	if j.Status != JobStatusFailed {
		return false, j.invalid(JobStatusPending)
	}
	if j.RetryCount >= j.MaxRetries {
		return false, nil
	}
	j.RetryCount++
	next := now.Add(RetryDelay(j.RetryCount))
	j.NextRetryAt = &next
	j.Status = JobStatusPending
	j.CompletedAt = nil
	return true, nil
}

// Cancel pending|processing -> cancelled，仅本地状态，不通知 worker
func (j *Job) Cancel(now time.Time) error {
	if j.Status != JobStatusPending && j.Status != JobStatusProcessing {
		return j.invalid(JobStatusCancelled)
	}
	j.Status = JobStatusCancelled
	j.CompletedAt = &now
	j.NextRetryAt = nil
	return nil
}

// RetryDelay 第 n 次重试的等待时间：5, 15, 45 … 分钟，最长 RetryMaxDelay
func RetryDelay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	delay := constants.RetryBaseDelay
	for i := 1; i < retryCount; i++ {
		if delay >= constants.RetryMaxDelay/constants.RetryMultiplier {
			return constants.RetryMaxDelay
		}
		delay *= constants.RetryMultiplier
	}
	return delay
}
