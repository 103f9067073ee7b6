package errors

import (
	"fmt"
	"strconv"

	"github.com/go-kratos/kratos/v2/errors"
)

// Media Dispatch Service 错误码定义
// 错误码格式：SSMMEE (6位数字)
//   SS: 服务标识，固定为 20
//   MM: 模块标识
//   EE: 模块内错误序号
//
// 模块划分：
//   00: 通用模块
//   01: 资源锁模块
//   02: 积分模块
//   03: 任务模块
//   04: 派发模块

// 通用错误码 (200000-200099)
const (
	ErrCodeInternal        = 200001
	ErrCodeUnauthenticated = 200002
	ErrCodeForbidden       = 200003
	ErrCodeNotFound        = 200004
	ErrCodeValidation      = 200005
	ErrCodeDatabase        = 200006
)

// 资源锁模块错误码 (200100-200199)
const (
	ErrCodeLockConflict = 200101
	ErrCodeLockFailed   = 200102
)

// 积分模块错误码 (200200-200299)
const (
	ErrCodeInsufficientCredits = 200201
	ErrCodeNoActiveAccount     = 200202
	ErrCodeInvalidAmount       = 200203
)

// 任务模块错误码 (200300-200399)
const (
	ErrCodeInvalidTransition = 200301
	ErrCodeJobConflict       = 200302
)

// 派发模块错误码 (200400-200499)
const (
	ErrCodeEnqueueFailure = 200401
	ErrCodeUnknownPricing = 200402
)

// 机器可读的 reason
const (
	ReasonInternal            = "INTERNAL"
	ReasonUnauthenticated     = "UNAUTHORIZED"
	ReasonForbidden           = "FORBIDDEN"
	ReasonNotFound            = "NOT_FOUND"
	ReasonValidation          = "VALIDATION"
	ReasonLockConflict        = "LOCK_CONFLICT"
	ReasonInsufficientCredits = "INSUFFICIENT_CREDITS"
	ReasonNoActiveAccount     = "NO_ACTIVE_ACCOUNT"
	ReasonInvalidTransition   = "INVALID_TRANSITION"
	ReasonEnqueueFailure      = "ENQUEUE_FAILURE"
	ReasonJobConflict         = "JOB_CONFLICT"
)

// MetadataCode 错误元数据中的数字错误码
const MetadataCode = "code"

func newError(httpCode, bizCode int, reason, message string) *errors.Error {
	return errors.New(httpCode, reason, message).WithMetadata(map[string]string{
		MetadataCode: strconv.Itoa(bizCode),
	})
}

// LockConflict 同一资源已有生成任务在进行
func LockConflict(key string) *errors.Error {
	e := newError(409, ErrCodeLockConflict, ReasonLockConflict, "generation already in progress")
	e.Metadata["lock_key"] = key
	return e
}

// LockFailed 锁服务不可用
func LockFailed(cause error) *errors.Error {
	return newError(500, ErrCodeLockFailed, ReasonInternal, "resource lock unavailable").WithCause(cause)
}

// Unauthenticated 未认证
func Unauthenticated(message string) *errors.Error {
	return newError(401, ErrCodeUnauthenticated, ReasonUnauthenticated, message)
}

// Forbidden 非资源所有者
func Forbidden(message string) *errors.Error {
	return newError(403, ErrCodeForbidden, ReasonForbidden, message)
}

// NotFound 资源不存在
func NotFound(format string, args ...interface{}) *errors.Error {
	return newError(404, ErrCodeNotFound, ReasonNotFound, fmt.Sprintf(format, args...))
}

// Validation 参数校验失败
func Validation(format string, args ...interface{}) *errors.Error {
	return newError(400, ErrCodeValidation, ReasonValidation, fmt.Sprintf(format, args...))
}

// InsufficientCredits 积分不足，附带剩余积分
func InsufficientCredits(needed, remaining int64) *errors.Error {
	e := newError(402, ErrCodeInsufficientCredits, ReasonInsufficientCredits,
		fmt.Sprintf("insufficient credits: you need %d credits for this operation", needed))
	e.Metadata["credits_remaining"] = strconv.FormatInt(remaining, 10)
	e.Metadata["credits_needed"] = strconv.FormatInt(needed, 10)
	return e
}

// NoActiveAccount 用户没有激活的积分账户（数据完整性问题）
func NoActiveAccount(userID int64) *errors.Error {
	e := newError(500, ErrCodeNoActiveAccount, ReasonNoActiveAccount, "no active credit account found")
	e.Metadata["user_id"] = strconv.FormatInt(userID, 10)
	return e
}

// InvalidAmount 金额非法
func InvalidAmount(amount int64) *errors.Error {
	return newError(400, ErrCodeInvalidAmount, ReasonValidation, fmt.Sprintf("invalid credit amount: %d", amount))
}

// InvalidTransition 任务状态迁移非法
func InvalidTransition(jobID, from, to string) *errors.Error {
	e := newError(409, ErrCodeInvalidTransition, ReasonInvalidTransition,
		fmt.Sprintf("job %s cannot transition from %s to %s", jobID, from, to))
	e.Metadata["from"] = from
	e.Metadata["to"] = to
	return e
}

// JobConflict 任务已被并发修改
func JobConflict(jobID string) *errors.Error {
	return newError(409, ErrCodeJobConflict, ReasonJobConflict, fmt.Sprintf("job %s was modified concurrently", jobID))
}

// EnqueueFailure 外部队列不可达或拒绝消息
func EnqueueFailure(jobID string, cause error) *errors.Error {
	e := newError(500, ErrCodeEnqueueFailure, ReasonEnqueueFailure, "failed to dispatch generation job")
	e.Metadata["job_id"] = jobID
	return e.WithCause(cause)
}

// UnknownPricing 费率表版本不存在
func UnknownPricing(version string) *errors.Error {
	return newError(500, ErrCodeUnknownPricing, ReasonInternal, fmt.Sprintf("unknown pricing version %q", version))
}

// Database 数据库错误
func Database(cause error) *errors.Error {
	return newError(500, ErrCodeDatabase, ReasonInternal, "database error").WithCause(cause)
}

// Internal 不透明的内部错误
func Internal(cause error) *errors.Error {
	return newError(500, ErrCodeInternal, ReasonInternal, "internal error").WithCause(cause)
}

func IsLockConflict(err error) bool {
	return errors.Reason(err) == ReasonLockConflict
}

func IsInsufficientCredits(err error) bool {
	return errors.Reason(err) == ReasonInsufficientCredits
}

func IsNoActiveAccount(err error) bool {
	return errors.Reason(err) == ReasonNoActiveAccount
}

func IsEnqueueFailure(err error) bool {
	return errors.Reason(err) == ReasonEnqueueFailure
}

// IsJobConflict 并发更新冲突，重新读取后可重试
func IsJobConflict(err error) bool {
	return errors.Reason(err) == ReasonJobConflict
}

func IsInvalidTransition(err error) bool {
	return errors.Reason(err) == ReasonInvalidTransition
}

func IsNotFound(err error) bool {
	return errors.Reason(err) == ReasonNotFound
}

func IsValidation(err error) bool {
	return errors.Reason(err) == ReasonValidation
}
