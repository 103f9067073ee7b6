//go:build wireinject
// +build wireinject

package main

import (
	"media-dispatch-service/internal/biz"
	"media-dispatch-service/internal/conf"
	"media-dispatch-service/internal/data"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp 初始化应用
func wireApp(*conf.Bootstrap, log.Logger) (*CronApp, func(), error) {
	panic(wire.Build(
		// Data 层
		data.ProviderSet,

		// Biz 层（重试扫描依赖 JobUseCase 与 leader 锁）
		biz.ProviderSet,

		// App 结构
		wire.Struct(new(CronApp), "*"),
	))
}
