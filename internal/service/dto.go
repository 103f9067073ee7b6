package service

import (
	"time"

	"media-dispatch-service/internal/biz"
)

// GenerateSceneImageRequest 单场景图片生成
type GenerateSceneImageRequest struct {
	StoryID int64                  `json:"-" validate:"gt=0"`
	SceneID int64                  `json:"-" validate:"gt=0"`
	MediaID string                 `json:"media_id"`
	Params  map[string]interface{} `json:"params"`
}

// GenerateSceneAudioRequest 单场景音频生成
type GenerateSceneAudioRequest struct {
	StoryID int64                  `json:"-" validate:"gt=0"`
	SceneID int64                  `json:"-" validate:"gt=0"`
	VoiceID string                 `json:"voice_id" validate:"required"`
	MediaID string                 `json:"media_id"`
	Params  map[string]interface{} `json:"params"`
}

// GenerateBulkImageRequest 整个故事的图片
type GenerateBulkImageRequest struct {
	StoryID int64                  `json:"-" validate:"gt=0"`
	Params  map[string]interface{} `json:"params"`
}

// GenerateBulkAudioRequest 整个故事的音频
type GenerateBulkAudioRequest struct {
	StoryID int64                  `json:"-" validate:"gt=0"`
	VoiceID string                 `json:"voice_id" validate:"required"`
	Params  map[string]interface{} `json:"params"`
}

type PreviewRequest struct {
	StoryID int64  `json:"-" validate:"gt=0"`
	Kind    string `json:"-" validate:"oneof=pdf audio video"`
}

type PreviewStatusRequest struct {
	StoryID int64  `json:"-" validate:"gt=0"`
	JobID   string `json:"-" validate:"required"`
}

type JobRequest struct {
	JobID string `json:"-" validate:"required"`
}

type ListTransactionsRequest struct {
	Page     int `json:"page" validate:"gte=0"`
	PageSize int `json:"page_size" validate:"gte=0,lte=100"`
}

// OpenAccountRequest 注册后开户
type OpenAccountRequest struct {
	UserID         int64 `json:"user_id" validate:"gt=0"`
	InitialBalance int64 `json:"initial_balance" validate:"gte=0"`
}

// GrantCreditsRequest 充值/推荐奖励
type GrantCreditsRequest struct {
	UserID int64  `json:"user_id" validate:"gt=0"`
	Amount int64  `json:"amount" validate:"gt=0"`
	Reason string `json:"reason" validate:"omitempty,oneof=top_up referral"`
}

// ReportJobStatusRequest worker 上报任务结果
type ReportJobStatusRequest struct {
	JobID    string                 `json:"job_id" validate:"required"`
	Status   string                 `json:"status" validate:"oneof=processing completed failed"`
	Response map[string]interface{} `json:"response"`
	Error    string                 `json:"error"`
	// RetryCount 消息中携带的 retry_count，原样回传
	RetryCount *int `json:"retry_count" validate:"omitempty,gte=0"`
}

type JobReply struct {
	ID           string                 `json:"id"`
	JobType      string                 `json:"job_type"`
	Status       string                 `json:"status"`
	UserID       int64                  `json:"user_id"`
	StoryID      *int64                 `json:"story_id,omitempty"`
	SceneID      *int64                 `json:"scene_id,omitempty"`
	MediaType    string                 `json:"media_type,omitempty"`
	RequestData  map[string]interface{} `json:"request_data,omitempty"`
	ResponseData map[string]interface{} `json:"response_data,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	CreditCost   int64                  `json:"credit_cost"`
	RetryCount   int                    `json:"retry_count"`
	MaxRetries   int                    `json:"max_retries"`
	NextRetryAt  *time.Time             `json:"next_retry_at,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

type GenerateReply struct {
	Message          string      `json:"message"`
	JobID            string      `json:"job_id,omitempty"`
	Jobs             []*JobReply `json:"jobs"`
	CreditsCharged   int64       `json:"credits_charged"`
	CreditsRemaining int64       `json:"credits_remaining"`
	RateVersion      string      `json:"rate_version,omitempty"`
}

type PreviewReply struct {
	Message string    `json:"message"`
	JobID   string    `json:"job_id"`
	Job     *JobReply `json:"job"`
}

type BalanceReply struct {
	UserID  int64 `json:"user_id"`
	Balance int64 `json:"balance"`
}

type AccountReply struct {
	UserID   int64 `json:"user_id"`
	Balance  int64 `json:"balance"`
	IsActive bool  `json:"is_active"`
	Created  bool  `json:"created"`
}

type TransactionReply struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	Reason       string    `json:"reason"`
	JobID        string    `json:"job_id,omitempty"`
	SceneID      *int64    `json:"scene_id,omitempty"`
	RateVersion  string    `json:"rate_version,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type ListTransactionsReply struct {
	Total        int64               `json:"total"`
	Page         int                 `json:"page"`
	PageSize     int                 `json:"page_size"`
	Transactions []*TransactionReply `json:"transactions"`
}

func toJobReply(j *biz.Job) *JobReply {
	return &JobReply{
		ID:           j.ID,
		JobType:      string(j.JobType),
		Status:       string(j.Status),
		UserID:       j.UserID,
		StoryID:      j.StoryID,
		SceneID:      j.SceneID,
		MediaType:    j.MediaType,
		RequestData:  j.RequestData,
		ResponseData: j.ResponseData,
		ErrorMessage: j.ErrorMessage,
		CreditCost:   j.CreditCost,
		RetryCount:   j.RetryCount,
		MaxRetries:   j.MaxRetries,
		NextRetryAt:  j.NextRetryAt,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
		UpdatedAt:    j.UpdatedAt,
	}
}

func toJobReplies(jobs []*biz.Job) []*JobReply {
	replies := make([]*JobReply, 0, len(jobs))
	for _, j := range jobs {
		replies = append(replies, toJobReply(j))
	}
	return replies
}

func toTransactionReply(t *biz.CreditTransaction) *TransactionReply {
	return &TransactionReply{
		ID:           t.ID,
		Type:         t.Type,
		Amount:       t.Amount,
		BalanceAfter: t.BalanceAfter,
		Reason:       t.Reason,
		JobID:        t.JobID,
		SceneID:      t.SceneID,
		RateVersion:  t.RateVersion,
		CreatedAt:    t.CreatedAt,
	}
}
