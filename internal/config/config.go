// Package config は環境変数（と任意の設定ファイル）からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Server
	ServerPort string
	AdminToken string

	// Logging
	LogLevel string

	// Fetch
	FetchTimeout  time.Duration
	FetchMaxSize  int64
	ScrapeTimeout time.Duration

	// Scheduler
	SchedulerInterval  time.Duration
	SchedulerBatchSize int

	// Queue workers
	FetchConcurrency   int
	ProcessConcurrency int
	PublishConcurrency int
	FetchJobTimeout    time.Duration
	ProcessJobTimeout  time.Duration
	JobRetention       time.Duration

	// Cache
	CategoryCacheTTL time.Duration

	// AI
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	AITimeout     time.Duration
	AIRateLimit   float64

	// Research
	ResearchEnabled  bool
	ResearchEndpoint string

	// Seed
	SourcesFile string
}

// defaults は任意項目の既定値。キーは環境変数名を小文字にしたもの。
var defaults = map[string]any{
	"redis_addr":           "localhost:6379",
	"redis_password":       "",
	"redis_db":             0,
	"server_port":          "8080",
	"admin_token":          "",
	"log_level":            "info",
	"fetch_timeout":        10 * time.Second,
	"fetch_max_size":       int64(5242880),
	"scrape_timeout":       15 * time.Second,
	"scheduler_interval":   30 * time.Minute,
	"scheduler_batch_size": 5,
	"fetch_concurrency":    5,
	"process_concurrency":  3,
	"publish_concurrency":  10,
	"fetch_job_timeout":    2 * time.Minute,
	"process_job_timeout":  5 * time.Minute,
	"job_retention":        24 * time.Hour,
	"category_cache_ttl":   time.Hour,
	"openai_api_key":       "",
	"openai_base_url":      "",
	"openai_model":         "gpt-4o-mini",
	"ai_timeout":           30 * time.Second,
	"ai_rate_limit":        1.0,
	"research_enabled":     false,
	"research_endpoint":    "https://api.duckduckgo.com/",
	"sources_file":         "sources.yaml",
}

// requiredKeys は未設定の場合に起動を止める項目。
var requiredKeys = []string{"database_url"}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	return load(newViper())
}

// LoadFile はYAML等の設定ファイルを読み込んだうえで、環境変数で上書きしたConfigを返す。
// ファイル内のキーは環境変数名を小文字にしたもの（例: database_url）。
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}
	return load(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

func load(v *viper.Viper) (*Config, error) {
	var missing []string
	for _, key := range requiredKeys {
		if strings.TrimSpace(v.GetString(key)) == "" {
			missing = append(missing, strings.ToUpper(key))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg := &Config{
		DatabaseURL:        v.GetString("database_url"),
		RedisAddr:          v.GetString("redis_addr"),
		RedisPassword:      v.GetString("redis_password"),
		RedisDB:            v.GetInt("redis_db"),
		ServerPort:         v.GetString("server_port"),
		AdminToken:         v.GetString("admin_token"),
		LogLevel:           strings.ToLower(v.GetString("log_level")),
		FetchTimeout:       duration(v, "fetch_timeout"),
		FetchMaxSize:       int64(positiveInt(v, "fetch_max_size")),
		ScrapeTimeout:      duration(v, "scrape_timeout"),
		SchedulerInterval:  duration(v, "scheduler_interval"),
		SchedulerBatchSize: positiveInt(v, "scheduler_batch_size"),
		FetchConcurrency:   positiveInt(v, "fetch_concurrency"),
		ProcessConcurrency: positiveInt(v, "process_concurrency"),
		PublishConcurrency: positiveInt(v, "publish_concurrency"),
		FetchJobTimeout:    duration(v, "fetch_job_timeout"),
		ProcessJobTimeout:  duration(v, "process_job_timeout"),
		JobRetention:       duration(v, "job_retention"),
		CategoryCacheTTL:   duration(v, "category_cache_ttl"),
		OpenAIAPIKey:       v.GetString("openai_api_key"),
		OpenAIBaseURL:      v.GetString("openai_base_url"),
		OpenAIModel:        v.GetString("openai_model"),
		AITimeout:          duration(v, "ai_timeout"),
		AIRateLimit:        v.GetFloat64("ai_rate_limit"),
		ResearchEnabled:    v.GetBool("research_enabled"),
		ResearchEndpoint:   v.GetString("research_endpoint"),
		SourcesFile:        v.GetString("sources_file"),
	}
	if cfg.AIRateLimit <= 0 {
		cfg.AIRateLimit = defaults["ai_rate_limit"].(float64)
	}

	return cfg, nil
}

// duration は期間として解釈できない値や0以下の値を既定値に置き換える。
func duration(v *viper.Viper, key string) time.Duration {
	if d := v.GetDuration(key); d > 0 {
		return d
	}
	return defaults[key].(time.Duration)
}

// positiveInt は整数として解釈できない値や0以下の値を既定値に置き換える。
func positiveInt(v *viper.Viper, key string) int {
	if n := v.GetInt(key); n > 0 {
		return n
	}
	switch d := defaults[key].(type) {
	case int64:
		return int(d)
	default:
		return d.(int)
	}
}
