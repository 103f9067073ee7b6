package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DispatchMetrics 生成任务派发指标
type DispatchMetrics struct {
	// 资源锁
	LockAcquireTotal    *prometheus.CounterVec // 锁获取总数（按结果 acquired/conflict/error）
	LockAcquireDuration prometheus.Histogram   // 锁获取耗时
	LockReleaseTotal    prometheus.Counter     // 主动释放次数

	// 积分
	CreditReserveTotal  *prometheus.CounterVec // 预扣总数（按结果）
	CreditReserveAmount *prometheus.CounterVec // 预扣积分（按媒体类型）
	CreditRefundTotal   *prometheus.CounterVec // 退款总数（按原因 compensation/refund）
	CreditRefundAmount  prometheus.Counter     // 退款积分

	// 派发
	DispatchTotal    *prometheus.CounterVec   // 派发总数（按任务类型、结果）
	DispatchDuration *prometheus.HistogramVec // 队列发送耗时

	// 任务状态
	JobTransitionTotal *prometheus.CounterVec // 状态迁移（按目标状态）
	JobRetryTotal      *prometheus.CounterVec // 重试调度（scheduled/exhausted）
}

// NewDispatchMetrics 创建派发指标
func NewDispatchMetrics() *DispatchMetrics {
	return &DispatchMetrics{
		LockAcquireTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "media_lock_acquire_total",
				Help: "Total number of resource lock acquisition attempts",
			},
			[]string{"result"},
		),
		LockAcquireDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "media_lock_acquire_duration_seconds",
				Help:    "Duration of resource lock acquisition",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0}, // 毫秒级
			},
		),
		LockReleaseTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "media_lock_release_total",
				Help: "Total number of explicit resource lock releases",
			},
		),

		CreditReserveTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "media_credit_reserve_total",
				Help: "Total number of credit reservations",
			},
			[]string{"result"}, // result: success/insufficient/error
		),
		CreditReserveAmount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "media_credit_reserve_amount_total",
				Help: "Total credits reserved",
			},
			[]string{"media_type"},
		),
		CreditRefundTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "media_credit_refund_total",
				Help: "Total number of compensating credits",
			},
			[]string{"reason"},
		),
		CreditRefundAmount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "media_credit_refund_amount_total",
				Help: "Total credits refunded",
			},
		),

		DispatchTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "media_dispatch_total",
				Help: "Total number of jobs handed to the worker queue",
			},
			[]string{"job_type", "result"},
		),
		DispatchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "media_dispatch_duration_seconds",
				Help:    "Duration of queue send operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job_type"},
		),

		JobTransitionTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "media_job_transition_total",
				Help: "Total number of job state transitions",
			},
			[]string{"status"},
		),
		JobRetryTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "media_job_retry_total",
				Help: "Total number of retry scheduling decisions",
			},
			[]string{"result"}, // result: scheduled/exhausted
		),
	}
}

var (
	defaultMetrics *DispatchMetrics
	once           sync.Once
)

// GetMetrics 获取全局指标实例（promauto 只能注册一次）
func GetMetrics() *DispatchMetrics {
	once.Do(func() {
		defaultMetrics = NewDispatchMetrics()
	})
	return defaultMetrics
}
