package biz

import (
	"context"
	"time"

	"media-dispatch-service/internal/constants"
	mediaErrors "media-dispatch-service/internal/errors"
	"media-dispatch-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// CreditAccount 积分账户
type CreditAccount struct {
	ID        int64
	UserID    int64
	Balance   int64
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreditTransaction 积分流水（只追加）
type CreditTransaction struct {
	ID           string
	UserID       int64
	AccountID    int64
	Type         string // debit/credit
	Amount       int64  // 恒为正数
	BalanceAfter int64
	Reason       string
	JobID        string
	SceneID      *int64
	RateVersion  string
	CreatedAt    time.Time
}

// SignedAmount 带符号金额，debit 为负
func (t *CreditTransaction) SignedAmount() int64 {
	if t.Type == constants.TransactionTypeDebit {
		return -t.Amount
	}
	return t.Amount
}

// LedgerEntry 一次记账请求
type LedgerEntry struct {
	UserID      int64
	Amount      int64
	Reason      string
	JobID       string
	SceneID     *int64
	RateVersion string
}

// CreditRepo 积分数据层接口
// Debit/Credit 必须在同一数据库事务中锁定账户行并追加流水；ctx 中已有事务时加入该事务
type CreditRepo interface {
	// OpenAccount 幂等开户，已存在激活账户时返回该账户与 false
	OpenAccount(ctx context.Context, userID, initialBalance int64) (*CreditAccount, bool, error)
	GetActiveAccount(ctx context.Context, userID int64) (*CreditAccount, error)
	// Debit 余额不足返回 InsufficientCredits，无激活账户返回 NoActiveAccount
	Debit(ctx context.Context, entry *LedgerEntry) (*CreditTransaction, error)
	Credit(ctx context.Context, entry *LedgerEntry) (*CreditTransaction, error)
	ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*CreditTransaction, int64, error)
	// SumTransactions 流水带符号求和（对账）
	SumTransactions(ctx context.Context, userID int64) (int64, error)
}

// CreditUseCase 积分账本
type CreditUseCase struct {
	repo    CreditRepo
	conf    *GenerationConfig
	log     *log.Helper
	metrics *metrics.DispatchMetrics
}

// NewCreditUseCase 创建积分 UseCase
func NewCreditUseCase(repo CreditRepo, conf *GenerationConfig, logger log.Logger) *CreditUseCase {
	return &CreditUseCase{
		repo:    repo,
		conf:    conf,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// OpenAccount 注册时开户，初始积分为 0 时使用默认值
func (uc *CreditUseCase) OpenAccount(ctx context.Context, userID, initialBalance int64) (*CreditAccount, bool, error) {
	if userID <= 0 {
		return nil, false, mediaErrors.Validation("user_id is required")
	}
	if initialBalance < 0 {
		return nil, false, mediaErrors.InvalidAmount(initialBalance)
	}
	if initialBalance == 0 {
		initialBalance = uc.conf.DefaultCredits
	}
	account, created, err := uc.repo.OpenAccount(ctx, userID, initialBalance)
	if err != nil {
		return nil, false, err
	}
	if created {
		uc.log.WithContext(ctx).Infof("credit account opened: user=%d, balance=%d", userID, account.Balance)
	}
	return account, created, nil
}

// GetBalance 查询激活账户
func (uc *CreditUseCase) GetBalance(ctx context.Context, userID int64) (*CreditAccount, error) {
	return uc.repo.GetActiveAccount(ctx, userID)
}

// Reserve 校验并扣减积分
func (uc *CreditUseCase) Reserve(ctx context.Context, entry *LedgerEntry, mediaType string) (*CreditTransaction, error) {
	if entry.Amount <= 0 {
		return nil, mediaErrors.InvalidAmount(entry.Amount)
	}
	if entry.Reason == "" {
		entry.Reason = constants.ReasonGeneration
	}
	txn, err := uc.repo.Debit(ctx, entry)
	if err != nil {
		result := "error"
		if mediaErrors.IsInsufficientCredits(err) {
			result = "insufficient"
		}
		if uc.metrics != nil {
			uc.metrics.CreditReserveTotal.WithLabelValues(result).Inc()
		}
		return nil, err
	}
	if uc.metrics != nil {
		uc.metrics.CreditReserveTotal.WithLabelValues("success").Inc()
		uc.metrics.CreditReserveAmount.WithLabelValues(mediaType).Add(float64(entry.Amount))
	}
	return txn, nil
}

// Credit 增加积分（退款、补偿、充值），不做余额检查
func (uc *CreditUseCase) Credit(ctx context.Context, entry *LedgerEntry) (*CreditTransaction, error) {
	if entry.Amount <= 0 {
		return nil, mediaErrors.InvalidAmount(entry.Amount)
	}
	txn, err := uc.repo.Credit(ctx, entry)
	if err != nil {
		return nil, err
	}
	if uc.metrics != nil && (entry.Reason == constants.ReasonCompensation || entry.Reason == constants.ReasonRefund) {
		uc.metrics.CreditRefundTotal.WithLabelValues(entry.Reason).Inc()
		uc.metrics.CreditRefundAmount.Add(float64(entry.Amount))
	}
	return txn, nil
}

// Grant 运营/推荐奖励等外部入账
func (uc *CreditUseCase) Grant(ctx context.Context, userID, amount int64, reason string) (*CreditTransaction, error) {
	switch reason {
	case constants.ReasonTopUp, constants.ReasonReferral:
	case "":
		reason = constants.ReasonTopUp
	default:
		return nil, mediaErrors.Validation("unsupported grant reason %q", reason)
	}
	return uc.Credit(ctx, &LedgerEntry{UserID: userID, Amount: amount, Reason: reason})
}

// ListTransactions 分页查询流水
func (uc *CreditUseCase) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*CreditTransaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > constants.MaxPageSize {
		pageSize = constants.DefaultPageSize
	}
	return uc.repo.ListTransactions(ctx, userID, page, pageSize)
}
