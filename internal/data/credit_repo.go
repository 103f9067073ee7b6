package data

import (
	"context"
	"errors"

	"media-dispatch-service/internal/biz"
	"media-dispatch-service/internal/constants"
	"media-dispatch-service/internal/data/model"
	mediaErrors "media-dispatch-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type creditRepo struct {
	data *Data
	log  *log.Helper
}

// NewCreditRepo 创建积分 repo
func NewCreditRepo(data *Data, logger log.Logger) biz.CreditRepo {
	return &creditRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// OpenAccount 幂等开户，初始积分记为一条 opening 流水
func (r *creditRepo) OpenAccount(ctx context.Context, userID, initialBalance int64) (*biz.CreditAccount, bool, error) {
	var (
		account *biz.CreditAccount
		created bool
	)
	err := r.data.InTx(ctx, func(ctx context.Context) error {
		db := r.data.DB(ctx)
		var existing model.CreditAccount
		err := db.Where("active_user_id = ?", userID).First(&existing).Error
		if err == nil {
			account = toBizAccount(&existing)
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		m := &model.CreditAccount{
			UserID:       userID,
			ActiveUserID: &userID,
			Balance:      initialBalance,
			IsActive:     true,
		}
		if err := db.Create(m).Error; err != nil {
			return err
		}
		if initialBalance > 0 {
			if _, err := r.appendTransaction(db, m, constants.TransactionTypeCredit, &biz.LedgerEntry{
				UserID: userID,
				Amount: initialBalance,
				Reason: constants.ReasonOpening,
			}); err != nil {
				return err
			}
		}
		account = toBizAccount(m)
		created = true
		return nil
	})
	if err != nil {
		// 并发开户时唯一索引冲突，读取已存在的账户
		if existing, getErr := r.GetActiveAccount(ctx, userID); getErr == nil {
			return existing, false, nil
		}
		return nil, false, mediaErrors.Database(err)
	}
	return account, created, nil
}

// GetActiveAccount 获取激活账户
func (r *creditRepo) GetActiveAccount(ctx context.Context, userID int64) (*biz.CreditAccount, error) {
	var m model.CreditAccount
	if err := r.data.DB(ctx).Where("active_user_id = ?", userID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, mediaErrors.NoActiveAccount(userID)
		}
		return nil, mediaErrors.Database(err)
	}
	return toBizAccount(&m), nil
}

// Debit 锁定账户行，校验余额后扣减并追加流水
func (r *creditRepo) Debit(ctx context.Context, entry *biz.LedgerEntry) (*biz.CreditTransaction, error) {
	return r.apply(ctx, constants.TransactionTypeDebit, entry)
}

// Credit 锁定账户行，增加余额并追加流水
func (r *creditRepo) Credit(ctx context.Context, entry *biz.LedgerEntry) (*biz.CreditTransaction, error) {
	return r.apply(ctx, constants.TransactionTypeCredit, entry)
}

func (r *creditRepo) apply(ctx context.Context, typ string, entry *biz.LedgerEntry) (*biz.CreditTransaction, error) {
	var txn *biz.CreditTransaction
	err := r.data.InTx(ctx, func(ctx context.Context) error {
		db := r.data.DB(ctx)

		// SELECT ... FOR UPDATE，同一用户的余额运算串行化
		var account model.CreditAccount
		err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("active_user_id = ?", entry.UserID).
			First(&account).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return mediaErrors.NoActiveAccount(entry.UserID)
		}
		if err != nil {
			return mediaErrors.Database(err)
		}

		if typ == constants.TransactionTypeDebit {
			if account.Balance < entry.Amount {
				return mediaErrors.InsufficientCredits(entry.Amount, account.Balance)
			}
			account.Balance -= entry.Amount
		} else {
			account.Balance += entry.Amount
		}

		if err := db.Model(&model.CreditAccount{}).
			Where("id = ?", account.ID).
			Update("balance", account.Balance).Error; err != nil {
			return mediaErrors.Database(err)
		}

		txn, err = r.appendTransaction(db, &account, typ, entry)
		if err != nil {
			return mediaErrors.Database(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (r *creditRepo) appendTransaction(db *gorm.DB, account *model.CreditAccount, typ string, entry *biz.LedgerEntry) (*biz.CreditTransaction, error) {
	m := &model.CreditTransaction{
		CreditTransactionID: uuid.New().String(),
		AccountID:           account.ID,
		UserID:              account.UserID,
		Type:                typ,
		Amount:              entry.Amount,
		BalanceAfter:        account.Balance,
		Reason:              entry.Reason,
		SceneID:             entry.SceneID,
		RateVersion:         entry.RateVersion,
	}
	if entry.JobID != "" {
		jobID := entry.JobID
		m.JobID = &jobID
	}
	if err := db.Create(m).Error; err != nil {
		return nil, err
	}
	return toBizTransaction(m), nil
}

// ListTransactions 分页查询流水，按时间倒序
func (r *creditRepo) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*biz.CreditTransaction, int64, error) {
	var (
		rows  []*model.CreditTransaction
		total int64
	)
	db := r.data.DB(ctx).Model(&model.CreditTransaction{}).Where("user_id = ?", userID)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, mediaErrors.Database(err)
	}
	if err := db.Order("created_at DESC").Order("credit_transaction_id").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, mediaErrors.Database(err)
	}

	result := make([]*biz.CreditTransaction, 0, len(rows))
	for _, m := range rows {
		result = append(result, toBizTransaction(m))
	}
	return result, total, nil
}

// SumTransactions 流水带符号求和
func (r *creditRepo) SumTransactions(ctx context.Context, userID int64) (int64, error) {
	var sum struct {
		Total int64
	}
	err := r.data.DB(ctx).Model(&model.CreditTransaction{}).
		Select("COALESCE(SUM(CASE WHEN type = ? THEN -amount ELSE amount END), 0) AS total", constants.TransactionTypeDebit).
		Where("user_id = ?", userID).
		Scan(&sum).Error
	if err != nil {
		return 0, mediaErrors.Database(err)
	}
	return sum.Total, nil
}

func toBizAccount(m *model.CreditAccount) *biz.CreditAccount {
	return &biz.CreditAccount{
		ID:        m.ID,
		UserID:    m.UserID,
		Balance:   m.Balance,
		IsActive:  m.IsActive,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func toBizTransaction(m *model.CreditTransaction) *biz.CreditTransaction {
	t := &biz.CreditTransaction{
		ID:           m.CreditTransactionID,
		UserID:       m.UserID,
		AccountID:    m.AccountID,
		Type:         m.Type,
		Amount:       m.Amount,
		BalanceAfter: m.BalanceAfter,
		Reason:       m.Reason,
		SceneID:      m.SceneID,
		RateVersion:  m.RateVersion,
		CreatedAt:    m.CreatedAt,
	}
	if m.JobID != nil {
		t.JobID = *m.JobID
	}
	return t
}
