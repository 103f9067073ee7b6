package service

import (
	"context"
	"fmt"

	"media-dispatch-service/internal/biz"
	"media-dispatch-service/internal/constants"
	mediaErrors "media-dispatch-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-playground/validator/v10"
)

// MediaService 面向前端的生成、任务与积分接口
type MediaService struct {
	generation *biz.GenerationUseCase
	jobs       *biz.JobUseCase
	credits    *biz.CreditUseCase
	validate   *validator.Validate
	log        *log.Helper
}

// NewMediaService 创建 MediaService
func NewMediaService(
	generation *biz.GenerationUseCase,
	jobs *biz.JobUseCase,
	credits *biz.CreditUseCase,
	validate *validator.Validate,
	logger log.Logger,
) *MediaService {
	return &MediaService{
		generation: generation,
		jobs:       jobs,
		credits:    credits,
		validate:   validate,
		log:        log.NewHelper(logger),
	}
}

func (s *MediaService) check(req interface{}) error {
	if err := s.validate.Struct(req); err != nil {
		return mediaErrors.Validation("%s", err.Error())
	}
	return nil
}

// GenerateSceneImage 生成场景图片
func (s *MediaService) GenerateSceneImage(ctx context.Context, req *GenerateSceneImageRequest) (*GenerateReply, error) {
	userID, err := CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.check(req); err != nil {
		return nil, err
	}
	result, err := s.generation.GenerateSceneMedia(ctx, &biz.GenerateMediaRequest{
		UserID:    userID,
		StoryID:   req.StoryID,
		SceneID:   req.SceneID,
		MediaType: constants.MediaTypeImage,
		MediaID:   req.MediaID,
		Params:    req.Params,
	})
	if err != nil {
		s.log.WithContext(ctx).Warnf("GenerateSceneImage failed: user=%d scene=%d err=%v", userID, req.SceneID, err)
		return nil, err
	}
	return toGenerateReply("image generation request sent successfully", result), nil
}

// GenerateSceneAudio 生成场景音频
func (s *MediaService) GenerateSceneAudio(ctx context.Context, req *GenerateSceneAudioRequest) (*GenerateReply, error) {
	userID, err := CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.check(req); err != nil {
		return nil, err
	}
	result, err := s.generation.GenerateSceneMedia(ctx, &biz.GenerateMediaRequest{
		UserID:    userID,
		StoryID:   req.StoryID,
		SceneID:   req.SceneID,
		MediaType: constants.MediaTypeAudio,
		VoiceID:   req.VoiceID,
		MediaID:   req.MediaID,
		Params:    req.Params,
	})
	if err != nil {
		s.log.WithContext(ctx).Warnf("GenerateSceneAudio failed: user=%d scene=%d err=%v", userID, req.SceneID, err)
		return nil, err
	}
	return toGenerateReply("audio generation request sent successfully", result), nil
}

// GenerateBulkImage 为故事所有激活场景生成图片
func (s *MediaService) GenerateBulkImage(ctx context.Context, req *GenerateBulkImageRequest) (*GenerateReply, error) {
	userID, err := CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.check(req); err != nil {
		return nil, err
	}
	result, err := s.generation.GenerateStoryImages(ctx, &biz.GenerateMediaRequest{
		UserID:    userID,
		StoryID:   req.StoryID,
		MediaType: constants.MediaTypeImage,
		Params:    req.Params,
	})
	if err != nil {
		s.log.WithContext(ctx).Warnf("GenerateBulkImage failed: user=%d story=%d err=%v", userID, req.StoryID, err)
		return nil, err
	}
	return toGenerateReply(fmt.Sprintf("image generation requested for %d scenes", len(result.Jobs)), result), nil
}

// GenerateBulkAudio 整个故事合成一条音频
func (s *MediaService) GenerateBulkAudio(ctx context.Context, req *GenerateBulkAudioRequest) (*GenerateReply, error) {
	userID, err := CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.check(req); err != nil {
		return nil, err
	}
	result, err := s.generation.GenerateStoryAudio(ctx, &biz.GenerateMediaRequest{
		UserID:    userID,
		StoryID:   req.StoryID,
		MediaType: constants.MediaTypeAudio,
		VoiceID:   req.VoiceID,
		Params:    req.Params,
	})
	if err != nil {
		s.log.WithContext(ctx).Warnf("GenerateBulkAudio failed: user=%d story=%d err=%v", userID, req.StoryID, err)
		return nil, err
	}
	return toGenerateReply("audio generation request sent successfully", result), nil
}

// RequestPreview pdf/audio/video 预览
func (s *MediaService) RequestPreview(ctx context.Context, req *PreviewRequest) (*PreviewReply, error) {
	userID, err := CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.check(req); err != nil {
		return nil, err
	}
	job, err := s.generation.RequestPreview(ctx, userID, req.StoryID, req.Kind)
	if err != nil {
		s.log.WithContext(ctx).Warnf("RequestPreview failed: user=%d story=%d kind=%s err=%v", userID, req.StoryID, req.Kind, err)
		return nil, err
	}
	return &PreviewReply{
		Message: fmt.Sprintf("%s preview request sent successfully", req.Kind),
		JobID:   job.ID,
		Job:     toJobReply(job),
	}, nil
}

// GetPreviewStatus 查询预览任务
func (s *MediaService) GetPreviewStatus(ctx context.Context, req *PreviewStatusRequest) (*JobReply, error) {
	userID, err := CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.check(req); err != nil {
		return nil, err
	}
	job, err := s.jobs.GetPreviewStatus(ctx, userID, req.StoryID, req.JobID)
	if err != nil {
		return nil, err
	}
	return toJobReply(job), nil
}

// GetJob 查询任务
func (s *MediaService) GetJob(ctx context.Context, req *JobRequest) (*JobReply, error) {
	userID, err := CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.check(req); err != nil {
		return nil, err
	}
	job, err := s.jobs.GetJob(ctx, userID, req.JobID)
	if err != nil {
		return nil, err
	}
	return toJobReply(job), nil
}

// CancelJob 取消任务（仅本地状态）
func (s *MediaService) CancelJob(ctx context.Context, req *JobRequest) (*JobReply, error) {
	userID, err := CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.check(req); err != nil {
		return nil, err
	}
	job, err := s.jobs.CancelJob(ctx, userID, req.JobID)
	if err != nil {
		return nil, err
	}
	return toJobReply(job), nil
}

// GetBalance 当前积分
func (s *MediaService) GetBalance(ctx context.Context, _ *struct{}) (*BalanceReply, error) {
	userID, err := CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	account, err := s.credits.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &BalanceReply{UserID: userID, Balance: account.Balance}, nil
}

// ListTransactions 积分流水
func (s *MediaService) ListTransactions(ctx context.Context, req *ListTransactionsRequest) (*ListTransactionsReply, error) {
	userID, err := CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.check(req); err != nil {
		return nil, err
	}
	page, pageSize := req.Page, req.PageSize
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = constants.DefaultPageSize
	}

	txns, total, err := s.credits.ListTransactions(ctx, userID, page, pageSize)
	if err != nil {
		s.log.WithContext(ctx).Errorf("ListTransactions failed: %v", err)
		return nil, err
	}
	reply := &ListTransactionsReply{
		Total:        total,
		Page:         page,
		PageSize:     pageSize,
		Transactions: make([]*TransactionReply, 0, len(txns)),
	}
	for _, t := range txns {
		reply.Transactions = append(reply.Transactions, toTransactionReply(t))
	}
	return reply, nil
}

func toGenerateReply(message string, result *biz.GenerateResult) *GenerateReply {
	reply := &GenerateReply{
		Message:          message,
		Jobs:             toJobReplies(result.Jobs),
		CreditsCharged:   result.CreditsCharged,
		CreditsRemaining: result.CreditsRemaining,
		RateVersion:      result.RateVersion,
	}
	if len(result.Jobs) == 1 {
		reply.JobID = result.Jobs[0].ID
	}
	return reply
}
