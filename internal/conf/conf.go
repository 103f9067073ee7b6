package conf

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bootstrap 服务启动配置（对应 configs/config.yaml）
type Bootstrap struct {
	Server     *Server     `json:"server"`
	Data       *Data       `json:"data"`
	Queue      *Queue      `json:"queue"`
	Pricing    *Pricing    `json:"pricing"`
	Generation *Generation `json:"generation"`
	Auth       *Auth       `json:"auth"`
	Retry      *Retry      `json:"retry"`
}

// Server 传输层配置
type Server struct {
	Http  *Server_HTTP `json:"http"`
	Grpc  *Server_GRPC `json:"grpc"`
	Debug bool         `json:"debug"` // 为 true 时内部错误详情返回给调用方
	Cors  *Server_CORS `json:"cors"`
}

type Server_HTTP struct {
	Network string    `json:"network"`
	Addr    string    `json:"addr"`
	Timeout *Duration `json:"timeout"`
}

type Server_GRPC struct {
	Network string    `json:"network"`
	Addr    string    `json:"addr"`
	Timeout *Duration `json:"timeout"`
}

type Server_CORS struct {
	AllowedOrigins []string `json:"allowed_origins"`
}

// Data 存储配置
type Data struct {
	Database *Data_Database `json:"database"`
	Redis    *Data_Redis    `json:"redis"`
	Rocketmq *Data_RocketMQ `json:"rocketmq"` // worker 状态回报消费者
}

type Data_Database struct {
	Driver      string    `json:"driver"` // mysql | postgres | sqlite
	Source      string    `json:"source"`
	AutoMigrate bool      `json:"auto_migrate"`
	TxTimeout   *Duration `json:"tx_timeout"`
}

type Data_Redis struct {
	Addr         string    `json:"addr"`
	Password     string    `json:"password"`
	Db           int       `json:"db"`
	ReadTimeout  *Duration `json:"read_timeout"`
	WriteTimeout *Duration `json:"write_timeout"`
}

type Data_RocketMQ struct {
	Enabled     bool     `json:"enabled"`
	NameServers []string `json:"name_servers"`
	GroupName   string   `json:"group_name"`
	Topic       string   `json:"topic"`
	RetryTimes  int32    `json:"retry_times"`
}

// Queue 外部任务队列（worker 消费）
type Queue struct {
	Driver      string          `json:"driver"` // rocketmq | sqs | pubsub
	SendTimeout *Duration       `json:"send_timeout"`
	Rocketmq    *Queue_RocketMQ `json:"rocketmq"`
	Sqs         *Queue_SQS      `json:"sqs"`
	Pubsub      *Queue_PubSub   `json:"pubsub"`
}

type Queue_RocketMQ struct {
	NameServers []string `json:"name_servers"`
	GroupName   string   `json:"group_name"`
	Topic       string   `json:"topic"`
	RetryTimes  int32    `json:"retry_times"`
}

type Queue_SQS struct {
	Region          string `json:"region"`
	QueueUrl        string `json:"queue_url"`
	AccessKeyId     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Endpoint        string `json:"endpoint"`
}

type Queue_PubSub struct {
	ProjectId string `json:"project_id"`
	Topic     string `json:"topic"`
}

// Pricing 计费费率表，多版本并存，active_version 指定当前生效版本
type Pricing struct {
	ActiveVersion string              `json:"active_version"`
	Rates         []*Pricing_RateTable `json:"rates"`
}

type Pricing_RateTable struct {
	Version      string `json:"version"`
	ImageFlat    int64  `json:"image_flat"`
	AudioPerChar string `json:"audio_per_char"` // 十进制字符串，避免二进制浮点误差
}

// Generation 生成请求相关配置
type Generation struct {
	LockTtl        *Duration `json:"lock_ttl"`
	MaxRetries     int32     `json:"max_retries"`
	DefaultCredits int64     `json:"default_credits"`
}

// Auth 调用方身份
type Auth struct {
	JwtSecret     string `json:"jwt_secret"`
	InternalToken string `json:"internal_token"`
}

// Retry 重试扫描（cmd/cron）
type Retry struct {
	Spec      string    `json:"spec"`
	BatchSize int32     `json:"batch_size"`
	LockTtl   *Duration `json:"lock_ttl"`
}

// Duration 支持 "5s" 字符串或秒数
type Duration struct {
	time.Duration
}

// AsDuration 返回 time.Duration，nil 安全
func (d *Duration) AsDuration() time.Duration {
	if d == nil {
		return 0
	}
	return d.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value * float64(time.Second))
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}
