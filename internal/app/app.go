package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	tclient "go.temporal.io/sdk/client"
	"golang.org/x/time/rate"

	"github.com/hitoshi/sitewatch/internal/config"
	"github.com/hitoshi/sitewatch/internal/content"
	"github.com/hitoshi/sitewatch/internal/database"
	"github.com/hitoshi/sitewatch/internal/handler"
	"github.com/hitoshi/sitewatch/internal/logger"
	"github.com/hitoshi/sitewatch/internal/metrics"
	"github.com/hitoshi/sitewatch/internal/middleware"
	"github.com/hitoshi/sitewatch/internal/repository"
	"github.com/hitoshi/sitewatch/internal/rss"
	"github.com/hitoshi/sitewatch/internal/security"
	"github.com/hitoshi/sitewatch/internal/sitemap"
	"github.com/hitoshi/sitewatch/internal/state"
	"github.com/hitoshi/sitewatch/internal/storage"
	"github.com/hitoshi/sitewatch/internal/worker/cleanup"
	"github.com/hitoshi/sitewatch/internal/worker/runner"
	"github.com/hitoshi/sitewatch/internal/workflow"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandSync:
		return runSyncOnce(cfg, args[1:])
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、接続プールを設定して疎通確認する。
func openDatabase(cfg *config.Config) (*sql.DB, database.Engine, error) {
	engine := database.DetectEngine(cfg.DatabaseURL)

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, engine, fmt.Errorf("failed to open database: %w", err)
	}
	database.ConfigurePool(db, engine, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, engine, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, engine, nil
}

// newStateService はエンジンに応じたリポジトリで状態追跡サービスを組み立てる。
func newStateService(db *sql.DB, engine database.Engine) *state.Service {
	if engine == database.EnginePostgres {
		return state.NewService(
			repository.NewPostgresSiteStateRepo(db),
			repository.NewPostgresURLStateRepo(db),
		)
	}
	return state.NewService(
		repository.NewSQLiteSiteStateRepo(db),
		repository.NewSQLiteURLStateRepo(db),
	)
}

// newStorageProvider は設定に応じてS3/R2またはローカルのストレージを返す。
func newStorageProvider(cfg *config.Config) (storage.Provider, error) {
	if cfg.UseS3() {
		return storage.NewS3Provider(
			cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey,
			cfg.S3Bucket, cfg.S3Region, cfg.S3PublicBaseURL,
			slog.Default(),
		)
	}
	return storage.NewLocalProvider(cfg.OutputDir, slog.Default()), nil
}

// syncDeps は同期処理の組み立て済み依存一式。
// cronパイプラインとTemporalアクティビティの両方が同じ実体を使う。
type syncDeps struct {
	fetcher  *sitemap.Fetcher
	batch    *content.BatchAnalyzer
	pipeline *runner.Pipeline
}

// newSyncDeps は同期パイプラインの全依存を組み立てる。
// ANTHROPIC_API_KEYが未設定の場合はヒューリスティック分析にフォールバックする。
func newSyncDeps(cfg *config.Config, stateService *state.Service) (*syncDeps, error) {
	ssrfGuard := security.NewSSRFGuard()
	fetcher := sitemap.NewFetcher(
		ssrfGuard, slog.Default(),
		cfg.UserAgent, cfg.FetchTimeout, cfg.FetchMaxSize, cfg.FetchRatePerSec,
	)

	extractor := content.NewExtractor(
		ssrfGuard, security.NewTextSanitizer(), slog.Default(),
		cfg.UserAgent, cfg.FetchTimeout, cfg.FetchMaxSize, cfg.FetchRatePerSec,
	)
	var analyzer content.Analyzer
	if cfg.AnthropicAPIKey != "" {
		analyzer = content.NewClaudeAnalyzer(cfg.AnthropicAPIKey, cfg.AnthropicModel, slog.Default())
	} else {
		slog.Info("ANTHROPIC_API_KEY not set, falling back to heuristic analyzer")
		analyzer = content.NewHeuristicAnalyzer()
	}
	batch := content.NewBatchAnalyzer(extractor, analyzer, slog.Default(), content.BatchConfig{
		BatchSize:     cfg.AnalyzeBatchSize,
		BatchDelay:    cfg.AnalyzeBatchDelay,
		MaxConcurrent: cfg.FetchMaxConcurrent,
		MinChars:      cfg.AnalyzeMinChars,
		MaxPerRun:     cfg.AnalyzeMaxPerRun,
	})

	store, err := newStorageProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	pipeline := runner.NewPipeline(
		fetcher, stateService, batch, rss.NewGenerator(slog.Default()), store, slog.Default(),
	)
	return &syncDeps{fetcher: fetcher, batch: batch, pipeline: pipeline}, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, engine, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established", slog.String("engine", string(engine)))

	// 2. サイト定義の読み込み
	sites, err := config.LoadSites(cfg.SitesConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load site definitions: %w", err)
	}

	// 3. 状態追跡サービスとメトリクス
	stateService := newStateService(db, engine)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	metrics.NewStateExporter(stateService, slog.Default(), reg)

	// 4. 同期トリガーのバックエンド
	// Temporal構成時はワークフロー起動、それ以外はプロセス内実行。
	var syncRunner handler.SyncRunner
	if cfg.UseTemporal() {
		temporalClient, err := tclient.Dial(tclient.Options{
			HostPort:  cfg.TemporalAddress,
			Namespace: cfg.TemporalNamespace,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to temporal: %w", err)
		}
		defer temporalClient.Close()

		syncRunner = workflow.NewOrchestrator(
			temporalClient, sites, cfg.TemporalTaskQueue, cfg.AnalyzeMaxPerRun, slog.Default(),
		)
		slog.Info("sync triggers dispatch to temporal",
			slog.String("address", cfg.TemporalAddress),
			slog.String("task_queue", cfg.TemporalTaskQueue),
		)
	} else {
		deps, err := newSyncDeps(cfg, stateService)
		if err != nil {
			return err
		}
		syncRunner = runner.NewRunner(sites, deps.pipeline, slog.Default(), collector, cfg.FetchMaxConcurrent)
	}

	// 5. ルーターの構築
	// configのRateLimitGeneralはreq/min単位なのでreq/secに変換する
	rateCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rateCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rateCfg.GeneralBurst = cfg.RateLimitGeneral
	}

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       middleware.NewRateLimiter(rateCfg),
		StateService:      stateService,
		SyncRunner:        syncRunner,
		DB:                db,
		Sites:             sites,
		FeedDir:           cfg.OutputDir,
		Metrics:           metrics.Handler(reg),
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.Int("sites", len(sites)),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// cronスケジューラと保持期間クリーンアップを起動する。Temporal構成時は
// cronスケジューラの代わりにTemporalワーカーとしてタスクキューを消費する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, engine, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)", slog.String("engine", string(engine)))

	// 2. サイト定義の読み込み
	sites, err := config.LoadSites(cfg.SitesConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load site definitions: %w", err)
	}

	// 3. 状態追跡サービスと同期パイプライン
	stateService := newStateService(db, engine)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	metrics.NewStateExporter(stateService, slog.Default(), reg)

	deps, err := newSyncDeps(cfg, stateService)
	if err != nil {
		return err
	}

	// 4. 運用エンドポイント
	// 同期実行のメトリクスはワーカープロセスでしか観測できないため、
	// /metricsと/healthzだけの軽量リスナーを立てる。
	obsMux := http.NewServeMux()
	obsMux.Handle("/metrics", metrics.Handler(reg))
	obsMux.HandleFunc("/healthz", handler.NewHealthHandler(db).Healthz)
	obsServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      obsMux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		slog.Info("worker observability endpoint starting", slog.String("addr", obsServer.Addr))
		if err := obsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("observability listen error", slog.String("error", err.Error()))
		}
	}()

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	// 5. 保持期間クリーンアップを定期実行
	retention := cleanup.NewRetentionJob(stateService, slog.Default(), collector)
	retention.RetentionDays = cfg.RetentionDays

	go func() {
		// 起動直後に1回実行
		if err := retention.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := retention.Run(ctx); err != nil {
					slog.Error("cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// 6. 同期実行基盤をメインgoroutineで実行（ブロッキング）
	if cfg.UseTemporal() {
		err = runTemporalWorker(ctx, cfg, stateService, deps)
	} else {
		syncRunner := runner.NewRunner(sites, deps.pipeline, slog.Default(), collector, cfg.FetchMaxConcurrent)
		scheduler := runner.NewScheduler(syncRunner, sites, slog.Default(), cfg.DefaultSchedule, cfg.SyncOnStart)

		slog.Info("worker starting",
			slog.String("default_schedule", cfg.DefaultSchedule),
			slog.Int("sites", len(sites)),
			slog.Bool("sync_on_start", cfg.SyncOnStart),
		)
		err = scheduler.Start(ctx)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if shutdownErr := obsServer.Shutdown(shutdownCtx); shutdownErr != nil {
		slog.Error("observability endpoint shutdown failed", slog.String("error", shutdownErr.Error()))
	}

	if err != nil {
		return err
	}
	slog.Info("worker stopped gracefully")
	return nil
}

// runTemporalWorker はTemporalワーカーとしてアクティビティとワークフローを実行する。
// サイトごとのスケジュール起動はTemporal側（スケジュール機能または外部トリガー）に委ねる。
func runTemporalWorker(ctx context.Context, cfg *config.Config, stateService *state.Service, deps *syncDeps) error {
	c, err := tclient.Dial(tclient.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to temporal: %w", err)
	}
	defer c.Close()

	acts := workflow.NewSyncActivities(deps.fetcher, stateService, deps.batch, deps.pipeline, slog.Default())
	w := workflow.RegisterSyncWorker(c, cfg.TemporalTaskQueue, acts)

	slog.Info("temporal worker starting",
		slog.String("address", cfg.TemporalAddress),
		slog.String("namespace", cfg.TemporalNamespace),
		slog.String("task_queue", cfg.TemporalTaskQueue),
	)

	stopCh := make(chan interface{})
	go func() {
		<-ctx.Done()
		close(stopCh)
	}()

	if err := w.Run(stopCh); err != nil {
		return fmt.Errorf("temporal worker failed: %w", err)
	}
	return nil
}

// runSyncOnce は1サイト分の同期を1回だけ実行して終了する。
// --baseline指定時は現在のURLを処理済みとして登録するだけで、
// 分析もアーティファクト生成も行わない。
func runSyncOnce(cfg *config.Config, args []string) error {
	flags, err := ParseSyncFlags(args)
	if err != nil {
		return fmt.Errorf("invalid sync arguments: %w", err)
	}

	db, engine, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	sites, err := config.LoadSites(cfg.SitesConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load site definitions: %w", err)
	}
	if flags.Full {
		for i := range sites {
			if sites[i].Name == flags.Site {
				sites[i].FullReprocess = true
			}
		}
	}

	stateService := newStateService(db, engine)
	deps, err := newSyncDeps(cfg, stateService)
	if err != nil {
		return err
	}
	syncRunner := runner.NewRunner(sites, deps.pipeline, slog.Default(), nil, cfg.FetchMaxConcurrent)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if flags.Baseline {
		inserted, err := syncRunner.RunBaseline(ctx, flags.Site)
		if err != nil {
			return fmt.Errorf("baseline failed: %w", err)
		}
		slog.Info("baseline completed",
			slog.String("site", flags.Site),
			slog.Int("inserted", inserted),
		)
		return nil
	}

	outcome, err := syncRunner.RunSync(ctx, flags.Site)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	slog.Info("sync completed",
		slog.String("site", outcome.Site),
		slog.Int("new", len(outcome.Changes.NewURLs)),
		slog.Int("pending", len(outcome.Changes.PendingURLs)),
		slog.Int("analyzed", outcome.Analyzed),
		slog.Int("failed", outcome.Failed),
		slog.Int("deleted", outcome.Result.DeletedURLs),
		slog.Int("artifacts", len(outcome.Artifacts)),
	)
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
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
