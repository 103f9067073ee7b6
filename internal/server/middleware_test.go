package server

import (
	"context"
	"errors"
	"testing"

	mediaErrors "media-dispatch-service/internal/errors"

	kratosErrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
)

func failing(err error) func(context.Context, interface{}) (interface{}, error) {
	return func(context.Context, interface{}) (interface{}, error) {
		return nil, err
	}
}

func TestErrorSanitizer(t *testing.T) {
	ctx := context.Background()
	leak := errors.New("dial tcp 10.0.0.3:3306: password=hunter2")

	_, err := ErrorSanitizer(false, log.DefaultLogger)(failing(leak))(ctx, nil)
	se := kratosErrors.FromError(err)
	assert.Equal(t, int32(500), se.Code)
	assert.Equal(t, mediaErrors.ReasonInternal, se.Reason)
	assert.NotContains(t, se.Message, "hunter2")
	assert.NotContains(t, se.Metadata, "debug")

	_, err = ErrorSanitizer(true, log.DefaultLogger)(failing(leak))(ctx, nil)
	se = kratosErrors.FromError(err)
	assert.Contains(t, se.Metadata["debug"], "hunter2")

	// 业务错误保持原样
	business := mediaErrors.InsufficientCredits(50, 10)
	_, err = ErrorSanitizer(false, log.DefaultLogger)(failing(business))(ctx, nil)
	assert.Equal(t, business, err)

	enqueue := mediaErrors.EnqueueFailure("job-1", leak)
	_, err = ErrorSanitizer(false, log.DefaultLogger)(failing(enqueue))(ctx, nil)
	se = kratosErrors.FromError(err)
	assert.Equal(t, mediaErrors.ReasonEnqueueFailure, se.Reason)
	assert.Equal(t, "job-1", se.Metadata["job_id"])
	assert.NotContains(t, se.Message, "hunter2")
}
