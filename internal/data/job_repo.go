package data

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"media-dispatch-service/internal/biz"
	"media-dispatch-service/internal/constants"
	"media-dispatch-service/internal/data/model"
	mediaErrors "media-dispatch-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type jobRepo struct {
	data *Data
	log  *log.Helper
}

// NewJobRepo 创建任务 repo
func NewJobRepo(data *Data, logger log.Logger) biz.JobRepo {
	return &jobRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// CreateJob 创建任务
func (r *jobRepo) CreateJob(ctx context.Context, job *biz.Job) error {
	m, err := toJobModel(job)
	if err != nil {
		return err
	}
	if err := r.data.DB(ctx).Create(m).Error; err != nil {
		return mediaErrors.Database(err)
	}
	job.CreatedAt = m.CreatedAt
	job.UpdatedAt = m.UpdatedAt
	return nil
}

// GetJob 获取任务
func (r *jobRepo) GetJob(ctx context.Context, jobID string) (*biz.Job, error) {
	var m model.Job
	if err := r.data.DB(ctx).Where("id = ?", jobID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, mediaErrors.NotFound("job %s not found", jobID)
		}
		return nil, mediaErrors.Database(err)
	}
	return toBizJob(&m)
}

// UpdateJob 乐观锁更新：UPDATE ... WHERE id = ? AND status = ? AND version = ?
func (r *jobRepo) UpdateJob(ctx context.Context, job *biz.Job, from biz.JobStatus) error {
	response, err := marshalJSON(job.ResponseData)
	if err != nil {
		return err
	}
	now := time.Now()
	updates := map[string]interface{}{
		"status":                string(job.Status),
		"response_data":         response,
		"error_message":         job.ErrorMessage,
		"credit_transaction_id": optionalString(job.CreditTransactionID),
		"refund_transaction_id": optionalString(job.RefundTransactionID),
		"retry_count":           job.RetryCount,
		"next_retry_at":         job.NextRetryAt,
		"started_at":            job.StartedAt,
		"completed_at":          job.CompletedAt,
		"updated_at":            now,
		"version":               gorm.Expr("version + 1"),
	}
	// 句柄只由 SetMessageID 写入，这里不能用旧快照把它清空
	if job.MessageID != "" {
		updates["message_id"] = job.MessageID
	}
	result := r.data.DB(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ? AND version = ?", job.ID, string(from), job.Version).
		Updates(updates)
	if result.Error != nil {
		return mediaErrors.Database(result.Error)
	}
	if result.RowsAffected == 0 {
		return mediaErrors.JobConflict(job.ID)
	}
	job.UpdatedAt = now
	job.Version++
	return nil
}

// SetMessageID 写入队列消息句柄：UPDATE ... WHERE id = ?
func (r *jobRepo) SetMessageID(ctx context.Context, jobID, messageID string) error {
	result := r.data.DB(ctx).Model(&model.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"message_id": messageID,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return mediaErrors.Database(result.Error)
	}
	if result.RowsAffected == 0 {
		return mediaErrors.NotFound("job %s not found", jobID)
	}
	return nil
}

// ListActiveAudioHandles 故事下已派发且未失败/取消的场景音频任务
func (r *jobRepo) ListActiveAudioHandles(ctx context.Context, storyID int64) ([]*biz.AudioHandle, error) {
	var rows []*model.Job
	err := r.data.DB(ctx).
		Select("id", "scene_id", "message_id", "created_at").
		Where("story_id = ? AND job_type = ? AND media_type = ?", storyID, string(biz.JobTypeGenerateMedia), constants.MediaTypeAudio).
		Where("scene_id IS NOT NULL AND message_id IS NOT NULL").
		Where("status IN ?", []string{
			string(biz.JobStatusPending),
			string(biz.JobStatusProcessing),
			string(biz.JobStatusCompleted),
		}).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, mediaErrors.Database(err)
	}

	handles := make([]*biz.AudioHandle, 0, len(rows))
	for _, m := range rows {
		handles = append(handles, &biz.AudioHandle{
			JobID:     m.ID,
			SceneID:   *m.SceneID,
			MessageID: *m.MessageID,
			CreatedAt: m.CreatedAt,
		})
	}
	return handles, nil
}

// ListDueRetries 到期的重试任务
func (r *jobRepo) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*biz.Job, error) {
	var rows []*model.Job
	err := r.data.DB(ctx).
		Where("status = ? AND retry_count > 0 AND next_retry_at <= ?", string(biz.JobStatusPending), now).
		Order("next_retry_at").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, mediaErrors.Database(err)
	}

	jobs := make([]*biz.Job, 0, len(rows))
	for _, m := range rows {
		job, err := toBizJob(m)
		if err != nil {
			r.log.WithContext(ctx).Errorf("decode job %s: %v", m.ID, err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func toJobModel(job *biz.Job) (*model.Job, error) {
	request, err := marshalJSON(job.RequestData)
	if err != nil {
		return nil, err
	}
	response, err := marshalJSON(job.ResponseData)
	if err != nil {
		return nil, err
	}
	return &model.Job{
		ID:                  job.ID,
		JobType:             string(job.JobType),
		Status:              string(job.Status),
		UserID:              job.UserID,
		StoryID:             job.StoryID,
		SceneID:             job.SceneID,
		MediaType:           job.MediaType,
		RequestData:         request,
		ResponseData:        response,
		ErrorMessage:        job.ErrorMessage,
		MessageID:           optionalString(job.MessageID),
		CreditCost:          job.CreditCost,
		CreditTransactionID: optionalString(job.CreditTransactionID),
		RefundTransactionID: optionalString(job.RefundTransactionID),
		RateVersion:         job.RateVersion,
		RetryCount:          job.RetryCount,
		MaxRetries:          job.MaxRetries,
		NextRetryAt:         job.NextRetryAt,
		StartedAt:           job.StartedAt,
		CompletedAt:         job.CompletedAt,
		Version:             job.Version,
	}, nil
}

func toBizJob(m *model.Job) (*biz.Job, error) {
	request, err := unmarshalJSON(m.RequestData)
	if err != nil {
		return nil, err
	}
	response, err := unmarshalJSON(m.ResponseData)
	if err != nil {
		return nil, err
	}
	return &biz.Job{
		ID:                  m.ID,
		JobType:             biz.JobType(m.JobType),
		Status:              biz.JobStatus(m.Status),
		UserID:              m.UserID,
		StoryID:             m.StoryID,
		SceneID:             m.SceneID,
		MediaType:           m.MediaType,
		RequestData:         request,
		ResponseData:        response,
		ErrorMessage:        m.ErrorMessage,
		MessageID:           derefString(m.MessageID),
		CreditCost:          m.CreditCost,
		CreditTransactionID: derefString(m.CreditTransactionID),
		RefundTransactionID: derefString(m.RefundTransactionID),
		RateVersion:         m.RateVersion,
		RetryCount:          m.RetryCount,
		MaxRetries:          m.MaxRetries,
		NextRetryAt:         m.NextRetryAt,
		CreatedAt:           m.CreatedAt,
		StartedAt:           m.StartedAt,
		CompletedAt:         m.CompletedAt,
		UpdatedAt:           m.UpdatedAt,
		Version:             m.Version,
	}, nil
}

func marshalJSON(v map[string]interface{}) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, mediaErrors.Internal(err)
	}
	return datatypes.JSON(b), nil
}

func unmarshalJSON(b datatypes.JSON) (map[string]interface{}, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var v map[string]interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, mediaErrors.Internal(err)
	}
	return v, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
