package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/hitoshi/newsdesk/internal/ai"
	"github.com/hitoshi/newsdesk/internal/config"
	"github.com/hitoshi/newsdesk/internal/content"
	"github.com/hitoshi/newsdesk/internal/database"
	"github.com/hitoshi/newsdesk/internal/dedup"
	"github.com/hitoshi/newsdesk/internal/enrich"
	"github.com/hitoshi/newsdesk/internal/feed"
	"github.com/hitoshi/newsdesk/internal/handler"
	"github.com/hitoshi/newsdesk/internal/httpfetch"
	"github.com/hitoshi/newsdesk/internal/metrics"
	"github.com/hitoshi/newsdesk/internal/queue"
	"github.com/hitoshi/newsdesk/internal/repository"
	"github.com/hitoshi/newsdesk/internal/scrape"
	"github.com/hitoshi/newsdesk/internal/security"
	"github.com/hitoshi/newsdesk/internal/worker/cleanup"
	"github.com/hitoshi/newsdesk/internal/worker/fetch"
	"github.com/hitoshi/newsdesk/internal/worker/process"
	"github.com/hitoshi/newsdesk/internal/worker/publish"
)

// userAgent は外部サイトへのリクエストに付けるUser-Agent。
const userAgent = "newsdesk/1.0 (+https://github.com/hitoshi/newsdesk)"

// connections はDBとRedisの接続。
type connections struct {
	db  *sql.DB
	rdb *redis.Client
}

// openConnections はDBとRedisに接続し、疎通を確認する。
func openConnections(ctx context.Context, cfg *config.Config) (*connections, error) {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		db.Close()
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("redis connection established", slog.String("addr", cfg.RedisAddr))

	return &connections{db: db, rdb: rdb}, nil
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.FetchConcurrency + cfg.ProcessConcurrency + cfg.PublishConcurrency + 5,
		MaxIdleConns:    cfg.ProcessConcurrency + 2,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

func (c *connections) healthChecks() []handler.HealthCheck {
	return []handler.HealthCheck{
		{Name: "postgres", Check: c.db.PingContext},
		{Name: "redis", Check: func(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }},
	}
}

// Close は接続を閉じる。
func (c *connections) Close() {
	c.rdb.Close()
	c.db.Close()
}

// newRegistry はプロセス・ランタイムのメトリクスを登録したレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// queueSet はステージ別のキュー。
type queueSet struct {
	fetch   *queue.Queue
	process *queue.Queue
	publish *queue.Queue
}

func newQueues(rdb redis.UniversalClient) *queueSet {
	return &queueSet{
		fetch:   queue.New(rdb, queue.QueueFetch, queue.DefaultPolicies[queue.QueueFetch]),
		process: queue.New(rdb, queue.QueueProcess, queue.DefaultPolicies[queue.QueueProcess]),
		publish: queue.New(rdb, queue.QueuePublish, queue.DefaultPolicies[queue.QueuePublish]),
	}
}

func (s *queueSet) jobQueues() []handler.JobQueue {
	return []handler.JobQueue{s.fetch, s.process, s.publish}
}

func (s *queueSet) cleaners() []cleanup.JobCleaner {
	return []cleanup.JobCleaner{s.fetch, s.process, s.publish}
}

// pipeline はワーカープロセスで実行する3ステージ。
type pipeline struct {
	queues  *queueSet
	sources repository.SourceRepository
	metrics *metrics.Collector

	fetchStage   *fetch.Stage
	processStage *process.Stage
	publishStage *publish.Stage
}

// newPipeline はステージとその依存関係を組み立てる。
func newPipeline(cfg *config.Config, conns *connections, reg prometheus.Registerer, logger *slog.Logger) *pipeline {
	collector := metrics.NewCollector(reg)
	queues := newQueues(conns.rdb)

	// リポジトリ
	sourceRepo := repository.NewPostgresSourceRepo(conns.db)
	articleRepo := repository.NewPostgresArticleRepo(conns.db)
	categoryRepo := repository.NewCachedCategoryRepo(
		repository.NewPostgresCategoryRepo(conns.db), conns.rdb, cfg.CategoryCacheTTL, logger,
	)

	// 外部取得
	urlGuard := security.NewURLGuard(security.DefaultFetchPolicy)
	feedClient := httpfetch.NewClient(urlGuard, cfg.FetchTimeout, cfg.FetchMaxSize, userAgent)
	scrapeClient := httpfetch.NewClient(urlGuard, cfg.ScrapeTimeout, cfg.FetchMaxSize, userAgent)

	// AI
	summarizer, classifier := newAIServices(cfg, logger)
	var researcher ai.Researcher
	if cfg.ResearchEnabled {
		researcher = ai.NewResearchClient(
			urlGuard.NewSafeClient(cfg.AITimeout, cfg.FetchMaxSize),
			cfg.ResearchEndpoint,
			rate.Limit(cfg.AIRateLimit),
			logger,
		)
	}

	return &pipeline{
		queues:  queues,
		sources: sourceRepo,
		metrics: collector,
		fetchStage: fetch.NewStage(
			sourceRepo,
			feed.NewParser(feedClient, logger),
			scrape.NewScraper(scrapeClient, logger),
			dedup.NewDeduplicator(articleRepo, logger),
			content.NewGate(logger),
			queues.process,
			logger,
			collector,
		),
		processStage: process.NewStage(
			security.NewContentSanitizer(),
			enrich.NewSummarizer(summarizer, logger),
			enrich.NewCategoryClassifier(classifier, logger),
			researcher,
			categoryRepo,
			articleRepo,
			logger,
			collector,
		),
		publishStage: publish.NewStage(articleRepo, logger),
	}
}

// newAIServices はOpenAI互換クライアントを返す。APIキー未設定または設定不備の場合はai.Disabledを返す。
func newAIServices(cfg *config.Config, logger *slog.Logger) (ai.Summarizer, ai.Classifier) {
	if cfg.OpenAIAPIKey == "" {
		logger.Info("OPENAI_API_KEY が未設定のため要約・分類はフォールバックで行います")
		return ai.Disabled{}, ai.Disabled{}
	}
	client, err := ai.NewOpenAI(ai.Config{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
		Timeout: cfg.AITimeout,
		Rate:    rate.Limit(cfg.AIRateLimit),
	}, logger)
	if err != nil {
		logger.Warn("AIクライアントの初期化に失敗しました。フォールバックで処理します",
			slog.String("error", err.Error()),
		)
		return ai.Disabled{}, ai.Disabled{}
	}
	return client, client
}

// workers はステージごとのキューワーカーを返す。
func (p *pipeline) workers(cfg *config.Config, logger *slog.Logger) []*queue.Worker {
	return []*queue.Worker{
		queue.NewWorker(p.queues.fetch, p.fetchStage.Handle, queue.WorkerConfig{
			Concurrency: cfg.FetchConcurrency,
			JobTimeout:  cfg.FetchJobTimeout,
		}, logger, p.metrics),
		queue.NewWorker(p.queues.process, p.processStage.Handle, queue.WorkerConfig{
			Concurrency: cfg.ProcessConcurrency,
			JobTimeout:  cfg.ProcessJobTimeout,
		}, logger, p.metrics),
		queue.NewWorker(p.queues.publish, p.publishStage.Handle, queue.WorkerConfig{
			Concurrency: cfg.PublishConcurrency,
			JobTimeout:  30 * time.Second,
		}, logger, p.metrics),
	}
}
