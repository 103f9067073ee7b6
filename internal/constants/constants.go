package constants

import "time"

// Redis Key 常量
const (
	// RedisKeyResourceLockFormat 生成资源锁 key：resource:{resource_id}:{media_type}:lock
	RedisKeyResourceLockFormat = "resource:%s:%s:lock"
	// RedisKeyRetrySweepLock 重试扫描 leader 锁
	RedisKeyRetrySweepLock = "media:retry:sweep:lock"
)

// 默认值
const (
	// DefaultLockTTL 资源锁默认有效期
	DefaultLockTTL = 300 * time.Second
	// DefaultMaxRetries 任务默认最大重试次数
	DefaultMaxRetries = 3
	// DefaultCredits 新账户默认积分
	DefaultCredits = 300
	// DefaultSendTimeout 队列发送超时
	DefaultSendTimeout = 5 * time.Second
	// DefaultTxTimeout 数据库事务超时
	DefaultTxTimeout = 5 * time.Second
	// DefaultPageSize 流水分页默认大小
	DefaultPageSize = 20
	// MaxPageSize 流水分页上限
	MaxPageSize = 100
	// RetryBaseDelay 重试基础间隔（5, 15, 45 分钟 …）
	RetryBaseDelay = 5 * time.Minute
	// RetryMultiplier 每次重试的间隔倍数
	RetryMultiplier = 3
	// RetryMaxDelay 单次重试间隔上限
	RetryMaxDelay = 24 * time.Hour
)

// 媒体类型
const (
	MediaTypeImage = "image"
	MediaTypeAudio = "audio"
)

// 预览类型
const (
	PreviewPDF   = "pdf"
	PreviewAudio = "audio"
	PreviewVideo = "video"
)

// 积分流水类型
const (
	TransactionTypeDebit  = "debit"
	TransactionTypeCredit = "credit"
)

// 积分流水原因
const (
	ReasonGeneration   = "generation"
	ReasonCompensation = "compensation"
	ReasonRefund       = "refund"
	ReasonOpening      = "opening"
	ReasonTopUp        = "top_up"
	ReasonReferral     = "referral"
)

// 消息 action
const (
	ActionGenerateImage = "generate_image"
	ActionGenerateAudio = "generate_audio"
)

// 锁获取结果（用于指标）
const (
	LockResultAcquired = "acquired"
	LockResultConflict = "conflict"
	LockResultError    = "error"
)

// 派发结果（用于指标）
const (
	DispatchResultSuccess = "success"
	DispatchResultFailed  = "failed"
)

// 队列驱动
const (
	QueueDriverRocketMQ = "rocketmq"
	QueueDriverSQS      = "sqs"
	QueueDriverPubSub   = "pubsub"
)

// 数据库驱动
const (
	DBDriverMySQL    = "mysql"
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

// HTTP Header
const (
	HeaderInternalToken = "X-Internal-Token"
)
