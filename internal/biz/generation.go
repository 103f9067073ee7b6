package biz

import (
	"context"
	"strings"
	"time"

	"media-dispatch-service/internal/constants"
	mediaErrors "media-dispatch-service/internal/errors"
	"media-dispatch-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// compensationTimeout 补偿/释放锁的独立超时，不受请求 ctx 取消影响
const compensationTimeout = 10 * time.Second

// GenerateMediaRequest 媒体生成请求
type GenerateMediaRequest struct {
	UserID    int64
	StoryID   int64
	SceneID   int64 // 故事级请求为 0
	MediaType string
	VoiceID   string
	MediaID   string                 // 被替换的媒体 id
	Params    map[string]interface{} // 透传给 worker 的字段
}

// GenerateResult 生成结果
type GenerateResult struct {
	Jobs             []*Job
	CreditsCharged   int64
	CreditsRemaining int64
	RateVersion      string
}

// GenerationUseCase 积分计费的生成任务派发（组合 UseCase）
// 顺序：校验鉴权 -> 资源锁 -> 计价 -> 单事务预扣+建任务 -> 提交后派发 -> 失败补偿并释放锁
type GenerationUseCase struct {
	stories    StoryRepo
	jobs       JobRepo
	ledger     *CreditUseCase
	locker     ResourceLocker
	tx         Transaction
	dispatcher *Dispatcher
	pricing    *CostCalculator
	conf       *GenerationConfig
	log        *log.Helper
	metrics    *metrics.DispatchMetrics
	now        func() time.Time
}

// NewGenerationUseCase 创建生成 UseCase
func NewGenerationUseCase(
	stories StoryRepo,
	jobs JobRepo,
	ledger *CreditUseCase,
	locker ResourceLocker,
	tx Transaction,
	dispatcher *Dispatcher,
	pricing *CostCalculator,
	conf *GenerationConfig,
	logger log.Logger,
) *GenerationUseCase {
	return &GenerationUseCase{
		stories:    stories,
		jobs:       jobs,
		ledger:     ledger,
		locker:     locker,
		tx:         tx,
		dispatcher: dispatcher,
		pricing:    pricing,
		conf:       conf,
		log:        log.NewHelper(logger),
		metrics:    metrics.GetMetrics(),
		now:        time.Now,
	}
}

// GenerateSceneMedia 为单个场景生成图片或音频
func (uc *GenerationUseCase) GenerateSceneMedia(ctx context.Context, req *GenerateMediaRequest) (*GenerateResult, error) {
	if err := validateMedia(req.MediaType, req.VoiceID); err != nil {
		return nil, err
	}
	_, scene, err := uc.authorizeScene(ctx, req.UserID, req.StoryID, req.SceneID)
	if err != nil {
		return nil, err
	}
	if req.MediaType == constants.MediaTypeAudio && strings.TrimSpace(scene.Content) == "" {
		return nil, mediaErrors.Validation("scene %d has no narration content", scene.ID)
	}

	lock, err := uc.acquire(ctx, LockKey(SceneResourceID(scene.ID), req.MediaType))
	if err != nil {
		return nil, err
	}

	quote, err := uc.pricing.Quote(req.MediaType, scene.Content)
	if err != nil {
		uc.release(ctx, lock)
		return nil, err
	}

	job := uc.newJob(JobTypeGenerateMedia, req.UserID, req.StoryID, &scene.ID, req.MediaType, uc.requestData(req), quote.Cost, quote.RateVersion)
	remaining, err := uc.reserveAndCreate(ctx, req.UserID, quote.Cost, req.MediaType, quote.RateVersion, &scene.ID, []*Job{job})
	if err != nil {
		uc.release(ctx, lock)
		return nil, err
	}

	dispatched, err := uc.dispatcher.Dispatch(ctx, job, job.RequestData, nil)
	if err != nil {
		uc.compensate(ctx, job)
		uc.release(ctx, lock)
		return nil, err
	}

	uc.log.WithContext(ctx).Infof("scene %s generation dispatched: user=%d, scene=%d, job=%s, cost=%d",
		req.MediaType, req.UserID, scene.ID, job.ID, quote.Cost)
	return &GenerateResult{
		Jobs:             []*Job{dispatched},
		CreditsCharged:   quote.Cost,
		CreditsRemaining: remaining,
		RateVersion:      quote.RateVersion,
	}, nil
}

// GenerateStoryImages 为故事每个激活场景生成图片，每个场景一条消息
// 部分派发失败时逐个补偿并释放对应场景锁；全部失败才返回错误
func (uc *GenerationUseCase) GenerateStoryImages(ctx context.Context, req *GenerateMediaRequest) (*GenerateResult, error) {
	req.MediaType = constants.MediaTypeImage
	if _, err := uc.authorizeStory(ctx, req.UserID, req.StoryID); err != nil {
		return nil, err
	}
	scenes, err := uc.stories.ListActiveScenes(ctx, req.StoryID)
	if err != nil {
		return nil, err
	}
	if len(scenes) == 0 {
		return nil, mediaErrors.Validation("story %d has no active scenes", req.StoryID)
	}

	locks := make(map[int64]ResourceLock, len(scenes))
	releaseAll := func() {
		for _, l := range locks {
			uc.release(ctx, l)
		}
	}
	for _, scene := range scenes {
		lock, err := uc.acquire(ctx, LockKey(SceneResourceID(scene.ID), constants.MediaTypeImage))
		if err != nil {
			releaseAll()
			return nil, err
		}
		locks[scene.ID] = lock
	}

	var (
		total   int64
		version string
		jobs    = make([]*Job, 0, len(scenes))
	)
	for _, scene := range scenes {
		quote, err := uc.pricing.Quote(constants.MediaTypeImage, scene.Content)
		if err != nil {
			releaseAll()
			return nil, err
		}
		total += quote.Cost
		version = quote.RateVersion
		sceneID := scene.ID
		jobs = append(jobs, uc.newJob(JobTypeGenerateMedia, req.UserID, req.StoryID, &sceneID,
			constants.MediaTypeImage, uc.requestData(req), quote.Cost, quote.RateVersion))
	}

	remaining, err := uc.reserveAndCreate(ctx, req.UserID, total, constants.MediaTypeImage, version, nil, jobs)
	if err != nil {
		releaseAll()
		return nil, err
	}

	charged := total
	var firstErr error
	failed := 0
	for i, job := range jobs {
		dispatched, err := uc.dispatcher.Dispatch(ctx, job, job.RequestData, nil)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			if refund := uc.compensate(ctx, job); refund != nil {
				charged -= refund.Amount
				remaining = refund.BalanceAfter
			}
			uc.release(ctx, locks[*job.SceneID])
			continue
		}
		jobs[i] = dispatched
	}
	if failed == len(jobs) {
		return nil, firstErr
	}
	if failed > 0 {
		uc.log.WithContext(ctx).Warnf("story %d bulk image: %d of %d jobs failed to dispatch", req.StoryID, failed, len(jobs))
	}
	return &GenerateResult{
		Jobs:             jobs,
		CreditsCharged:   charged,
		CreditsRemaining: remaining,
		RateVersion:      version,
	}, nil
}

// GenerateStoryAudio 为整个故事生成连续旁白，单条 generate_entire_audio 消息
// 费用为各场景音频费用（各自向上取整）之和
func (uc *GenerationUseCase) GenerateStoryAudio(ctx context.Context, req *GenerateMediaRequest) (*GenerateResult, error) {
	req.MediaType = constants.MediaTypeAudio
	if err := validateMedia(req.MediaType, req.VoiceID); err != nil {
		return nil, err
	}
	if _, err := uc.authorizeStory(ctx, req.UserID, req.StoryID); err != nil {
		return nil, err
	}
	scenes, err := uc.stories.ListActiveScenes(ctx, req.StoryID)
	if err != nil {
		return nil, err
	}
	sceneIDs := make([]int64, 0, len(scenes))
	for _, scene := range scenes {
		if strings.TrimSpace(scene.Content) != "" {
			sceneIDs = append(sceneIDs, scene.ID)
		}
	}
	if len(sceneIDs) == 0 {
		return nil, mediaErrors.Validation("story %d has no narration content", req.StoryID)
	}

	lock, err := uc.acquire(ctx, LockKey(StoryResourceID(req.StoryID), constants.MediaTypeAudio))
	if err != nil {
		return nil, err
	}

	var total int64
	version := uc.pricing.ActiveVersion()
	for _, scene := range scenes {
		if strings.TrimSpace(scene.Content) == "" {
			continue
		}
		quote, err := uc.pricing.Quote(constants.MediaTypeAudio, scene.Content)
		if err != nil {
			uc.release(ctx, lock)
			return nil, err
		}
		total += quote.Cost
	}

	request := uc.requestData(req)
	request["scene_ids"] = sceneIDs
	job := uc.newJob(JobTypeGenerateEntireAudio, req.UserID, req.StoryID, nil, constants.MediaTypeAudio, request, total, version)
	remaining, err := uc.reserveAndCreate(ctx, req.UserID, total, constants.MediaTypeAudio, version, nil, []*Job{job})
	if err != nil {
		uc.release(ctx, lock)
		return nil, err
	}

	dispatched, err := uc.dispatcher.Dispatch(ctx, job, job.RequestData, nil)
	if err != nil {
		uc.compensate(ctx, job)
		uc.release(ctx, lock)
		return nil, err
	}
	return &GenerateResult{
		Jobs:             []*Job{dispatched},
		CreditsCharged:   total,
		CreditsRemaining: remaining,
		RateVersion:      version,
	}, nil
}

// RequestPreview 生成 pdf/audio/video 预览，不计费
func (uc *GenerationUseCase) RequestPreview(ctx context.Context, userID, storyID int64, kind string) (*Job, error) {
	jobType, ok := PreviewJobType(kind)
	if !ok {
		return nil, mediaErrors.Validation("unsupported preview type %q", kind)
	}
	if _, err := uc.authorizeStory(ctx, userID, storyID); err != nil {
		return nil, err
	}

	lock, err := uc.acquire(ctx, LockKey(StoryResourceID(storyID), PreviewLockType(kind)))
	if err != nil {
		return nil, err
	}

	job := uc.newJob(jobType, userID, storyID, nil, "", map[string]interface{}{"preview": kind}, 0, "")
	if err := uc.jobs.CreateJob(ctx, job); err != nil {
		uc.release(ctx, lock)
		return nil, err
	}
	dispatched, err := uc.dispatcher.Dispatch(ctx, job, job.RequestData, nil)
	if err != nil {
		uc.release(ctx, lock)
		return nil, err
	}
	return dispatched, nil
}

func validateMedia(mediaType, voiceID string) error {
	switch mediaType {
	case constants.MediaTypeImage:
		return nil
	case constants.MediaTypeAudio:
		if strings.TrimSpace(voiceID) == "" {
			return mediaErrors.Validation("voice_id is required for audio generation")
		}
		return nil
	default:
		return mediaErrors.Validation("unsupported media type %q", mediaType)
	}
}

// authorizeStory 故事存在、激活且调用者为作者
func (uc *GenerationUseCase) authorizeStory(ctx context.Context, userID, storyID int64) (*Story, error) {
	story, err := uc.stories.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if !story.IsActive {
		return nil, mediaErrors.NotFound("story %d not found", storyID)
	}
	if story.AuthorID != userID {
		return nil, mediaErrors.Forbidden("you do not own this story")
	}
	return story, nil
}

func (uc *GenerationUseCase) authorizeScene(ctx context.Context, userID, storyID, sceneID int64) (*Story, *Scene, error) {
	story, err := uc.authorizeStory(ctx, userID, storyID)
	if err != nil {
		return nil, nil, err
	}
	scene, err := uc.stories.GetScene(ctx, storyID, sceneID)
	if err != nil {
		return nil, nil, err
	}
	if !scene.IsActive || scene.StoryID != storyID {
		return nil, nil, mediaErrors.NotFound("scene %d not found", sceneID)
	}
	return story, scene, nil
}

func (uc *GenerationUseCase) acquire(ctx context.Context, key string) (ResourceLock, error) {
	startTime := time.Now()
	lock, err := uc.locker.TryAcquire(ctx, key, uc.conf.LockTTL)
	if uc.metrics != nil {
		uc.metrics.LockAcquireDuration.Observe(time.Since(startTime).Seconds())
		result := constants.LockResultAcquired
		if err != nil {
			result = constants.LockResultError
			if mediaErrors.IsLockConflict(err) {
				result = constants.LockResultConflict
			}
		}
		uc.metrics.LockAcquireTotal.WithLabelValues(result).Inc()
	}
	if err != nil {
		if !mediaErrors.IsLockConflict(err) {
			uc.log.WithContext(ctx).Errorf("acquire lock %s: %v", key, err)
		}
		return nil, err
	}
	return lock, nil
}

func (uc *GenerationUseCase) release(ctx context.Context, lock ResourceLock) {
	if lock == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	if err := lock.Release(ctx); err != nil {
		// 释放失败时锁按 TTL 过期
		uc.log.WithContext(ctx).Warnf("release lock %s: %v", lock.Key(), err)
		return
	}
	if uc.metrics != nil {
		uc.metrics.LockReleaseTotal.Inc()
	}
}

func (uc *GenerationUseCase) requestData(req *GenerateMediaRequest) map[string]interface{} {
	data := make(map[string]interface{}, len(req.Params)+2)
	for k, v := range req.Params {
		data[k] = v
	}
	if req.VoiceID != "" {
		data["voice_id"] = req.VoiceID
	}
	if req.MediaID != "" {
		data["media_id"] = req.MediaID
	}
	return data
}

func (uc *GenerationUseCase) newJob(jobType JobType, userID, storyID int64, sceneID *int64, mediaType string,
	request map[string]interface{}, cost int64, rateVersion string) *Job {
	now := uc.now()
	return &Job{
		ID:          uuid.NewString(),
		JobType:     jobType,
		Status:      JobStatusPending,
		UserID:      userID,
		StoryID:     &storyID,
		SceneID:     sceneID,
		MediaType:   mediaType,
		RequestData: request,
		CreditCost:  cost,
		RateVersion: rateVersion,
		MaxRetries:  uc.conf.MaxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// reserveAndCreate 同一事务内预扣积分并创建任务，返回剩余积分
func (uc *GenerationUseCase) reserveAndCreate(ctx context.Context, userID, amount int64, mediaType, rateVersion string,
	sceneID *int64, jobs []*Job) (int64, error) {
	var remaining int64
	err := uc.tx.InTx(ctx, func(ctx context.Context) error {
		if amount > 0 {
			entry := &LedgerEntry{
				UserID:      userID,
				Amount:      amount,
				Reason:      constants.ReasonGeneration,
				SceneID:     sceneID,
				RateVersion: rateVersion,
			}
			if len(jobs) == 1 {
				entry.JobID = jobs[0].ID
			}
			txn, err := uc.ledger.Reserve(ctx, entry, mediaType)
			if err != nil {
				return err
			}
			remaining = txn.BalanceAfter
			for _, job := range jobs {
				job.CreditTransactionID = txn.ID
			}
		} else {
			account, err := uc.ledger.GetBalance(ctx, userID)
			if err != nil {
				return err
			}
			remaining = account.Balance
		}
		for _, job := range jobs {
			if err := uc.jobs.CreateJob(ctx, job); err != nil {
				return err
			}
		}
		return nil
	})
	return remaining, err
}

// compensate 派发失败后退回该任务的预扣积分
func (uc *GenerationUseCase) compensate(ctx context.Context, job *Job) *CreditTransaction {
	if job.CreditCost <= 0 || job.CreditTransactionID == "" || job.RefundTransactionID != "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	refund, err := uc.ledger.Credit(ctx, &LedgerEntry{
		UserID:      job.UserID,
		Amount:      job.CreditCost,
		Reason:      constants.ReasonCompensation,
		JobID:       job.ID,
		SceneID:     job.SceneID,
		RateVersion: job.RateVersion,
	})
	if err != nil {
		uc.log.WithContext(ctx).Errorf("compensate job %s (user=%d, amount=%d) failed: %v", job.ID, job.UserID, job.CreditCost, err)
		return nil
	}
	// 积分已退回，任务记录失败只影响审计字段
	job.RefundTransactionID = refund.ID
	if err := uc.jobs.UpdateJob(ctx, job, job.Status); err != nil {
		uc.log.WithContext(ctx).Errorf("record refund %s on job %s: %v", refund.ID, job.ID, err)
	}
	uc.log.WithContext(ctx).Infof("job %s compensated: user=%d, amount=%d", job.ID, job.UserID, job.CreditCost)
	return refund
}
