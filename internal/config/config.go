package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Channels    ChannelsConfig    `yaml:"channels"`
	AI          AIConfig          `yaml:"ai"`
	Translation TranslationConfig `yaml:"translation"`
	Lock        LockConfig        `yaml:"lock"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Security    SecurityConfig    `yaml:"security"`
	Log         LogConfig         `yaml:"log"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
}

// SecurityConfig 수신 엔드포인트 보호 설정
type SecurityConfig struct {
	RateLimiting RateLimitingConfig `yaml:"rate_limiting"`
}

type RateLimitingConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns"`
}

// ChannelsConfig 플랫폼별 웹훅 시크릿. 서브 플랫폼이 별도 앱인 경우가 있어
// 플랫폼당 여러 시크릿을 허용한다.
type ChannelsConfig struct {
	Line      PlatformConfig `yaml:"line"`
	Meta      PlatformConfig `yaml:"meta"` // facebook, instagram, whatsapp 공용
	Kakao     PlatformConfig `yaml:"kakao"`
	WeChat    PlatformConfig `yaml:"wechat"`
	ProfileTimeout time.Duration `yaml:"profile_timeout"`
}

type PlatformConfig struct {
	Secrets     []string `yaml:"secrets"`
	VerifyToken string   `yaml:"verify_token"` // GET 구독 핸드셰이크용
	APIBaseURL  string   `yaml:"api_base_url"`
	AccessToken string   `yaml:"access_token"`
}

// AIConfig AI 파이프라인 연동 설정. 파이프라인 내부는 외부 협력자로 취급한다.
type AIConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

type TranslationConfig struct {
	Endpoint        string        `yaml:"endpoint"`
	APIKey          string        `yaml:"api_key"`
	Timeout         time.Duration `yaml:"timeout"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	WorkingLanguage string        `yaml:"working_language"` // 상담원 작업 언어, 기본 ko
}

type LockConfig struct {
	TTL time.Duration `yaml:"ttl"` // 웹훅 멱등성 락 TTL
}

// PipelineConfig 인바운드 처리 정책
type PipelineConfig struct {
	ReopenResolved bool `yaml:"reopen_resolved"` // resolved 대화를 새 인바운드로 재개할지
}

type SchedulerConfig struct {
	Enabled            bool   `yaml:"enabled"`
	SLACheckSpec       string `yaml:"sla_check_spec"`       // cron 표현식
	SweepSpec          string `yaml:"sweep_spec"`           // cron 표현식
	SweepThresholdMins int    `yaml:"sweep_threshold_mins"` // 미응답 판정 기준(분)
	SweepBatchSize     int    `yaml:"sweep_batch_size"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json, text
	Output     string `yaml:"output"` // stdout, file, both
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"`    // MB
	MaxAge     int    `yaml:"max_age"`     // days
	MaxBackups int    `yaml:"max_backups"` // number of backup files
	Compress   bool   `yaml:"compress"`    // compress backup files
}

type MonitoringConfig struct {
	Enabled bool          `yaml:"enabled"`
	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig OpenTelemetry 추적 설정
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP gRPC 엔드포인트, 예: http://otel-collector:4317
	Insecure    bool    `yaml:"insecure"`     // 평문 사용 여부(로컬/개발)
	SampleRatio float64 `yaml:"sample_ratio"` // 샘플링 비율 0.0~1.0
	ServiceName string  `yaml:"service_name"` // 기본값 "csflow"
}

func Load() *Config {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(err)
	}
	return &config
}

// GetDefaultConfig 기본 설정 반환
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "password",
			Name:            "csflow",
			MaxOpenConns:    100,
			MaxIdleConns:    10,
			ConnMaxLifetime: 3600 * time.Second,
		},
		Redis: RedisConfig{
			Host:         "localhost",
			Port:         6379,
			Password:     "",
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 5,
		},
		Channels: ChannelsConfig{
			Line:           PlatformConfig{APIBaseURL: "https://api.line.me"},
			Meta:           PlatformConfig{APIBaseURL: "https://graph.facebook.com/v19.0"},
			Kakao:          PlatformConfig{APIBaseURL: "https://kapi.kakao.com"},
			WeChat:         PlatformConfig{APIBaseURL: "https://api.weixin.qq.com"},
			ProfileTimeout: 5 * time.Second,
		},
		AI: AIConfig{
			Endpoint: "http://localhost:9100/v1/process",
			Timeout:  30 * time.Second,
		},
		Translation: TranslationConfig{
			Endpoint:        "http://localhost:9200",
			Timeout:         10 * time.Second,
			CacheTTL:        24 * time.Hour,
			WorkingLanguage: "ko",
		},
		Lock: LockConfig{
			TTL: 300 * time.Second,
		},
		Pipeline: PipelineConfig{
			ReopenResolved: true,
		},
		Scheduler: SchedulerConfig{
			Enabled:            true,
			SLACheckSpec:       "*/5 * * * *",
			SweepSpec:          "0 * * * *",
			SweepThresholdMins: 60,
			SweepBatchSize:     50,
		},
		Security: SecurityConfig{
			RateLimiting: RateLimitingConfig{
				Enabled:           false,
				RequestsPerMinute: 600,
				Burst:             100,
			},
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "both",
			FilePath:   "./logs/csflow.log",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
			Compress:   true,
		},
		Monitoring: MonitoringConfig{
			Enabled: true,
			Tracing: TracingConfig{
				Enabled:     false,
				Endpoint:    "http://localhost:4317",
				Insecure:    true,
				SampleRatio: 0.1,
				ServiceName: "csflow",
			},
		},
	}
}
