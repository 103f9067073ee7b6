package server

import (
	"context"
	"crypto/subtle"

	"media-dispatch-service/internal/constants"
	mediaErrors "media-dispatch-service/internal/errors"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
)

// ErrorSanitizer 5xx 错误完整记录日志；非业务错误统一替换为不透明的 INTERNAL，
// debug 模式下在 metadata 中附带原始错误
func ErrorSanitizer(debug bool, logger log.Logger) middleware.Middleware {
	helper := log.NewHelper(logger)
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			reply, err := handler(ctx, req)
			if err == nil {
				return reply, nil
			}
			se := errors.FromError(err)
			if se.Code < 500 {
				return reply, err
			}

			operation := ""
			if tr, ok := transport.FromServerContext(ctx); ok {
				operation = tr.Operation()
			}
			helper.WithContext(ctx).Errorf("operation %s failed: %+v", operation, err)

			if _, ok := se.Metadata[mediaErrors.MetadataCode]; !ok {
				se = mediaErrors.Internal(err)
			} else {
				se = errors.Clone(se)
			}
			if debug {
				se.Metadata["debug"] = err.Error()
			}
			return reply, se
		}
	}
}

// InternalToken 校验内部调用的共享令牌
func InternalToken(token string) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			tr, ok := transport.FromServerContext(ctx)
			if !ok {
				return nil, mediaErrors.Unauthenticated("missing transport")
			}
			got := tr.RequestHeader().Get(constants.HeaderInternalToken)
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				return nil, mediaErrors.Unauthenticated("invalid internal token")
			}
			return handler(ctx, req)
		}
	}
}
