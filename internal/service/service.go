package service

import (
	"github.com/go-playground/validator/v10"
	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewValidator, NewMediaService, NewMediaInternalService)

// NewValidator 请求参数校验器
func NewValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}
