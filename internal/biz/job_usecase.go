package biz

import (
	"context"
	"time"

	"media-dispatch-service/internal/constants"
	mediaErrors "media-dispatch-service/internal/errors"
	"media-dispatch-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// WorkerReport worker 回报的任务状态
type WorkerReport struct {
	JobID    string
	Status   JobStatus // processing/completed/failed
	Response map[string]interface{}
	Error    string
	// RetryCount 回报对应的派发轮次（消息中的 retry_count），为空时不校验
	RetryCount *int
}

// JobUseCase 任务查询、取消、worker 回报与重试
type JobUseCase struct {
	jobs       JobRepo
	ledger     *CreditUseCase
	dispatcher *Dispatcher
	tx         Transaction
	log        *log.Helper
	metrics    *metrics.DispatchMetrics
	now        func() time.Time
}

// NewJobUseCase 创建任务 UseCase
func NewJobUseCase(jobs JobRepo, ledger *CreditUseCase, dispatcher *Dispatcher, tx Transaction, logger log.Logger) *JobUseCase {
	return &JobUseCase{
		jobs:       jobs,
		ledger:     ledger,
		dispatcher: dispatcher,
		tx:         tx,
		log:        log.NewHelper(logger),
		metrics:    metrics.GetMetrics(),
		now:        time.Now,
	}
}

// GetJob 查询任务，仅所有者可见
func (uc *JobUseCase) GetJob(ctx context.Context, userID int64, jobID string) (*Job, error) {
	job, err := uc.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, mediaErrors.Forbidden("you do not own this job")
	}
	return job, nil
}

// GetPreviewStatus 查询某故事的预览任务
func (uc *JobUseCase) GetPreviewStatus(ctx context.Context, userID, storyID int64, jobID string) (*Job, error) {
	job, err := uc.GetJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	switch job.JobType {
	case JobTypeGeneratePDFPreview, JobTypeGenerateAudioPreview, JobTypeGenerateVideoPreview:
	default:
		return nil, mediaErrors.NotFound("preview job %s not found", jobID)
	}
	if job.StoryID == nil || *job.StoryID != storyID {
		return nil, mediaErrors.NotFound("preview job %s not found", jobID)
	}
	return job, nil
}

// CancelJob 取消任务，仅修改本地状态，不通知 worker，不退款
func (uc *JobUseCase) CancelJob(ctx context.Context, userID int64, jobID string) (*Job, error) {
	job, err := uc.GetJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	from := job.Status
	if err := job.Cancel(uc.now()); err != nil {
		return nil, err
	}
	if err := uc.jobs.UpdateJob(ctx, job, from); err != nil {
		return nil, err
	}
	uc.recordTransition(job)
	uc.log.WithContext(ctx).Infof("job cancelled: job_id=%s, user=%d, from=%s", job.ID, userID, from)
	return job, nil
}

// ApplyReport 应用 worker 回报
// 重复投递的 processing/completed 视为幂等；failed 触发重试，次数耗尽时退款
// 与派发或取消并发更新冲突时重新读取后再应用一次
func (uc *JobUseCase) ApplyReport(ctx context.Context, report *WorkerReport) (*Job, error) {
	job, err := uc.applyReport(ctx, report)
	if mediaErrors.IsJobConflict(err) {
		uc.log.WithContext(ctx).Infof("job %s changed while applying %s report, retrying", report.JobID, report.Status)
		job, err = uc.applyReport(ctx, report)
	}
	return job, err
}

func (uc *JobUseCase) applyReport(ctx context.Context, report *WorkerReport) (*Job, error) {
	job, err := uc.jobs.GetJob(ctx, report.JobID)
	if err != nil {
		return nil, err
	}
	// 带轮次的回报只作用于当前轮次；不带轮次时，等待重试的任务收到的 processing/failed 视为上一轮的迟到回报
	stale := job.awaitingRetry()
	if report.RetryCount != nil {
		if *report.RetryCount != job.RetryCount {
			uc.log.WithContext(ctx).Warnf("ignore stale report: job=%s status=%s attempt=%d current=%d",
				job.ID, report.Status, *report.RetryCount, job.RetryCount)
			return job, nil
		}
		stale = false
	}
	from := job.Status
	now := uc.now()

	switch report.Status {
	case JobStatusProcessing:
		if job.Status == JobStatusProcessing || stale {
			return job, nil
		}
		if err := job.MarkAsProcessing(now); err != nil {
			return nil, err
		}
	case JobStatusCompleted:
		if job.Status == JobStatusCompleted {
			return job, nil
		}
		// worker 可能跳过 processing 回报
		if job.Status == JobStatusPending {
			if err := job.MarkAsProcessing(now); err != nil {
				return nil, err
			}
		}
		if err := job.MarkAsCompleted(report.Response, now); err != nil {
			return nil, err
		}
	case JobStatusFailed:
		// 重复投递
		if job.Status == JobStatusFailed || stale {
			return job, nil
		}
		if err := job.MarkAsFailed(report.Error, now); err != nil {
			return nil, err
		}
		return uc.retryOrRefund(ctx, job, from)
	default:
		return nil, mediaErrors.Validation("unsupported report status %q", report.Status)
	}

	if err := uc.jobs.UpdateJob(ctx, job, from); err != nil {
		return nil, err
	}
	uc.recordTransition(job)
	return job, nil
}

// retryOrRefund 对 failed 任务安排重试；次数耗尽时在同一事务内退款并落库
func (uc *JobUseCase) retryOrRefund(ctx context.Context, job *Job, from JobStatus) (*Job, error) {
	scheduled, err := job.ScheduleRetry(uc.now())
	if err != nil {
		return nil, err
	}
	if scheduled {
		if err := uc.jobs.UpdateJob(ctx, job, from); err != nil {
			return nil, err
		}
		if uc.metrics != nil {
			uc.metrics.JobRetryTotal.WithLabelValues("scheduled").Inc()
		}
		uc.recordTransition(job)
		uc.log.WithContext(ctx).Infof("job %s retry %d/%d scheduled at %s", job.ID, job.RetryCount, job.MaxRetries, job.NextRetryAt.Format(time.RFC3339))
		return job, nil
	}

	if uc.metrics != nil {
		uc.metrics.JobRetryTotal.WithLabelValues("exhausted").Inc()
	}
	err = uc.tx.InTx(ctx, func(ctx context.Context) error {
		if job.CreditCost > 0 && job.CreditTransactionID != "" && job.RefundTransactionID == "" {
			refund, err := uc.ledger.Credit(ctx, &LedgerEntry{
				UserID:      job.UserID,
				Amount:      job.CreditCost,
				Reason:      constants.ReasonRefund,
				JobID:       job.ID,
				SceneID:     job.SceneID,
				RateVersion: job.RateVersion,
			})
			if err != nil {
				return err
			}
			job.RefundTransactionID = refund.ID
		}
		return uc.jobs.UpdateJob(ctx, job, from)
	})
	if err != nil {
		job.RefundTransactionID = ""
		return nil, err
	}
	uc.recordTransition(job)
	uc.log.WithContext(ctx).Warnf("job %s failed permanently after %d retries: %s", job.ID, job.RetryCount, job.ErrorMessage)
	return job, nil
}

// DispatchDueRetries 重新派发到期的重试任务，返回成功与失败数
func (uc *JobUseCase) DispatchDueRetries(ctx context.Context, limit int) (int, int, error) {
	jobs, err := uc.jobs.ListDueRetries(ctx, uc.now(), limit)
	if err != nil {
		return 0, 0, err
	}
	dispatched, failed := 0, 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return dispatched, failed, ctx.Err()
		}
		if _, err := uc.dispatcher.Dispatch(ctx, job, job.RequestData, nil); err != nil {
			failed++
			if !mediaErrors.IsEnqueueFailure(err) {
				uc.log.WithContext(ctx).Errorf("redispatch job %s: %v", job.ID, err)
				continue
			}
			if _, err := uc.retryOrRefund(ctx, job, JobStatusFailed); err != nil {
				uc.log.WithContext(ctx).Errorf("reschedule job %s: %v", job.ID, err)
			}
			continue
		}
		dispatched++
	}
	return dispatched, failed, nil
}

func (uc *JobUseCase) recordTransition(job *Job) {
	if uc.metrics != nil {
		uc.metrics.JobTransitionTotal.WithLabelValues(string(job.Status)).Inc()
	}
}
