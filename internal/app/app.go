// Package app はnewsdeskのサブコマンドと依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/newsdesk/internal/config"
	"github.com/hitoshi/newsdesk/internal/database"
	"github.com/hitoshi/newsdesk/internal/dedup"
	"github.com/hitoshi/newsdesk/internal/handler"
	"github.com/hitoshi/newsdesk/internal/logger"
	"github.com/hitoshi/newsdesk/internal/metrics"
	"github.com/hitoshi/newsdesk/internal/middleware"
	"github.com/hitoshi/newsdesk/internal/repository"
	"github.com/hitoshi/newsdesk/internal/worker/cleanup"
	"github.com/hitoshi/newsdesk/internal/worker/fetch"
)

// cleanupInterval はジョブ削除の実行間隔。
const cleanupInterval = time.Hour

// Init はアプリケーションの初期化を行う。
// 設定を読み込み、設定のログレベルでJSON構造化ログをセットアップする。
// configFileが空の場合は環境変数のみから読み込む。
func Init(w io.Writer, configFile string) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, "info")

	// 2. 設定を読み込む
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, cfg.LogLevel)
	return cfg, nil
}

// Runner はサブコマンドの実行状態を保持する。
type Runner struct {
	w             io.Writer
	configFile    string
	sourcesFile   string
	migrateDown   int
	migrateStatus bool
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMを受信すると実行中のコマンドを停止する。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(&Runner{w: w})
	root.SetArgs(args)
	root.SetOut(w)
	root.SetErr(w)
	return root.ExecuteContext(ctx)
}

// execute は設定を読み込んでからコマンドを実行する。
func (r *Runner) execute(cmd *cobra.Command, command Command) error {
	cfg, err := Init(r.w, r.configFile)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(command)),
		slog.String("port", cfg.ServerPort),
	)

	ctx := cmd.Context()
	switch command {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg, r.migrateDown, r.migrateStatus)
	case CommandSeedSources:
		path := r.sourcesFile
		if path == "" {
			path = cfg.SourcesFile
		}
		return runSeedSources(ctx, cfg, path)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はオペレーターAPIサーバーモードで起動する。
// コンテキストがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	conns, err := openConnections(ctx, cfg)
	if err != nil {
		return err
	}
	defer conns.Close()

	log := slog.Default()
	queues := newQueues(conns.rdb)
	articleRepo := repository.NewPostgresArticleRepo(conns.db)
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	defer rateLimiter.Stop()

	if cfg.AdminToken == "" {
		log.Warn("ADMIN_TOKEN が未設定のため管理APIは認証なしで公開されます")
	}

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:       log,
		AdminToken:   cfg.AdminToken,
		RateLimiter:  rateLimiter,
		HealthChecks: conns.healthChecks(),
		Gatherer:     newRegistry(),
		Queues:       queues.jobQueues(),
		Sources:      repository.NewPostgresSourceRepo(conns.db),
		FetchQueue:   queues.fetch,
		Articles:     articleRepo,
		Similar:      dedup.NewDeduplicator(articleRepo, log),
		PublishQueue: queues.publish,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return serveUntilDone(ctx, server, "API server")
}

// runWorker はワーカーモードで起動する。
// 3つのキューワーカー、フェッチスケジューラ、ジョブ削除、メトリクス用HTTPサーバーを並行して実行する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	conns, err := openConnections(ctx, cfg)
	if err != nil {
		return err
	}
	defer conns.Close()

	log := slog.Default()
	reg := newRegistry()
	p := newPipeline(cfg, conns, reg, log)

	scheduler := fetch.NewScheduler(p.sources, p.queues.fetch, log, p.metrics, cfg.SchedulerBatchSize)

	cleanupJob := cleanup.NewCleanupJob(p.queues.cleaners(), log)
	cleanupJob.Retention = cfg.JobRetention

	mux := metrics.SetupMetricsRoute(reg)
	mux.Handle("/health", handler.NewHealthHandler(conns.healthChecks()...))
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info("worker starting",
		slog.Duration("scheduler_interval", cfg.SchedulerInterval),
		slog.Int("scheduler_batch_size", cfg.SchedulerBatchSize),
		slog.Int("fetch_concurrency", cfg.FetchConcurrency),
		slog.Int("process_concurrency", cfg.ProcessConcurrency),
		slog.Int("publish_concurrency", cfg.PublishConcurrency),
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, w := range p.workers(cfg, log) {
		w := w
		g.Go(func() error { return w.Run(ctx) })
	}
	g.Go(func() error {
		scheduler.Start(ctx, cfg.SchedulerInterval)
		return nil
	})
	g.Go(func() error {
		cleanupJob.Start(ctx, cleanupInterval)
		return nil
	})
	g.Go(func() error { return serveUntilDone(ctx, server, "worker metrics server") })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// downが正の場合はその数だけ戻し、statusの場合は適用済みバージョンを記録するだけで変更しない。
func runMigrate(cfg *config.Config, down int, status bool) error {
	dbURL := maskDatabaseURL(cfg.DatabaseURL)

	switch {
	case status:
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("migration status failed: %w", err)
		}
		slog.Info("database migration status",
			slog.String("database_url", dbURL),
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
		return nil

	case down > 0:
		slog.Info("rolling back database migrations",
			slog.String("database_url", dbURL),
			slog.Int("steps", down),
		)
		if err := database.RollbackMigrations(cfg.DatabaseURL, down); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		slog.Info("database migrations rolled back successfully")
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", dbURL),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runSeedSources はYAMLファイルのソースをURLをキーに登録・更新する。
func runSeedSources(ctx context.Context, cfg *config.Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("ソースファイルを開けません: %w", err)
	}
	defer f.Close()

	sources, err := LoadSources(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := repository.NewPostgresSourceRepo(db)
	for _, s := range sources {
		if err := repo.Upsert(ctx, s); err != nil {
			return fmt.Errorf("ソース %q の登録に失敗: %w", s.URL, err)
		}
		slog.Info("ソースを登録しました",
			slog.String("source_id", s.ID),
			slog.String("name", s.Name),
			slog.String("type", string(s.Type)),
		)
	}

	slog.Info("ソースの登録が完了しました",
		slog.String("file", path),
		slog.Int("count", len(sources)),
	)
	return nil
}

// serveUntilDone はコンテキストがキャンセルされるまでHTTPサーバーを実行し、停止時はグレースフルシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}
	slog.Info(name + " stopped gracefully")
	return nil
}

// healthcheckPort はSERVER_PORTを返す。healthcheckは設定全体を読み込まない。
func healthcheckPort() string {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		return port
	}
	return "8080"
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
