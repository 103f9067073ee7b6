package biz

import (
	"context"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewGenerationConfig,
	NewCostCalculator,
	NewCreditUseCase,
	NewDispatcher,
	NewJobUseCase,
	NewRetrySweeper,
	NewGenerationUseCase, // 组合 UseCase
)

// Transaction 跨 repo 事务（由 data 层实现，事务通过 ctx 传递）
type Transaction interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
