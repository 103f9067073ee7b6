package service

import (
	"context"

	"media-dispatch-service/internal/biz"
	mediaErrors "media-dispatch-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-playground/validator/v10"
)

// MediaInternalService 面向内部服务（注册、支付、worker）的接口
type MediaInternalService struct {
	jobs     *biz.JobUseCase
	credits  *biz.CreditUseCase
	validate *validator.Validate
	log      *log.Helper
}

// NewMediaInternalService 创建 MediaInternalService
func NewMediaInternalService(jobs *biz.JobUseCase, credits *biz.CreditUseCase, validate *validator.Validate, logger log.Logger) *MediaInternalService {
	return &MediaInternalService{
		jobs:     jobs,
		credits:  credits,
		validate: validate,
		log:      log.NewHelper(logger),
	}
}

// OpenAccount 用户注册后开户，重复调用返回已有账户
func (s *MediaInternalService) OpenAccount(ctx context.Context, req *OpenAccountRequest) (*AccountReply, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, mediaErrors.Validation("%s", err.Error())
	}
	account, created, err := s.credits.OpenAccount(ctx, req.UserID, req.InitialBalance)
	if err != nil {
		s.log.WithContext(ctx).Errorf("OpenAccount failed: user=%d err=%v", req.UserID, err)
		return nil, err
	}
	return &AccountReply{
		UserID:   account.UserID,
		Balance:  account.Balance,
		IsActive: account.IsActive,
		Created:  created,
	}, nil
}

// GrantCredits 充值或推荐奖励
func (s *MediaInternalService) GrantCredits(ctx context.Context, req *GrantCreditsRequest) (*TransactionReply, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, mediaErrors.Validation("%s", err.Error())
	}
	txn, err := s.credits.Grant(ctx, req.UserID, req.Amount, req.Reason)
	if err != nil {
		s.log.WithContext(ctx).Errorf("GrantCredits failed: user=%d amount=%d err=%v", req.UserID, req.Amount, err)
		return nil, err
	}
	return toTransactionReply(txn), nil
}

// ReportJobStatus worker 上报执行结果
func (s *MediaInternalService) ReportJobStatus(ctx context.Context, req *ReportJobStatusRequest) (*JobReply, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, mediaErrors.Validation("%s", err.Error())
	}
	job, err := s.jobs.ApplyReport(ctx, &biz.WorkerReport{
		JobID:      req.JobID,
		Status:     biz.JobStatus(req.Status),
		Response:   req.Response,
		Error:      req.Error,
		RetryCount: req.RetryCount,
	})
	if err != nil {
		return nil, err
	}
	return toJobReply(job), nil
}
