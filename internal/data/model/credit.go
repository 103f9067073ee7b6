package model

import (
	"time"
)

// CreditAccount 积分账户表
// ActiveUserID 仅激活账户非空，唯一索引保证每个用户至多一个激活账户
type CreditAccount struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	UserID       int64     `gorm:"not null;index"`
	ActiveUserID *int64    `gorm:"uniqueIndex"`
	Balance      int64     `gorm:"not null;default:0;check:chk_credit_account_balance,balance >= 0"`
	IsActive     bool      `gorm:"not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (CreditAccount) TableName() string {
	return "credit_account"
}

// CreditTransaction 积分流水表（只追加）
type CreditTransaction struct {
	CreditTransactionID string    `gorm:"primaryKey;size:36"`
	AccountID           int64     `gorm:"not null;index"`
	UserID              int64     `gorm:"not null;index:idx_credit_txn_user_created,priority:1"`
	Type                string    `gorm:"size:16;not null"` // debit/credit
	Amount              int64     `gorm:"not null;check:chk_credit_transaction_amount,amount > 0"`
	BalanceAfter        int64     `gorm:"not null"`
	Reason              string    `gorm:"size:32;not null"`
	JobID               *string   `gorm:"size:36;index"`
	SceneID             *int64    `gorm:"index"`
	RateVersion         string    `gorm:"size:32"`
	CreatedAt           time.Time `gorm:"autoCreateTime;index:idx_credit_txn_user_created,priority:2"`
}

// TableName 指定表名
func (CreditTransaction) TableName() string {
	return "credit_transaction"
}
