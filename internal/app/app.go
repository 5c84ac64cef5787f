package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/pagegate/internal/activity"
	"github.com/hitoshi/pagegate/internal/auth"
	"github.com/hitoshi/pagegate/internal/config"
	"github.com/hitoshi/pagegate/internal/database"
	"github.com/hitoshi/pagegate/internal/handler"
	"github.com/hitoshi/pagegate/internal/idp"
	"github.com/hitoshi/pagegate/internal/lifecycle"
	"github.com/hitoshi/pagegate/internal/logger"
	"github.com/hitoshi/pagegate/internal/metrics"
	"github.com/hitoshi/pagegate/internal/middleware"
	"github.com/hitoshi/pagegate/internal/pages"
	"github.com/hitoshi/pagegate/internal/repository"
	"github.com/hitoshi/pagegate/internal/worker"
)

const (
	// activityWorkers はアクティビティ書き込みの同時実行数。
	activityWorkers = 8

	// initInitialBackoff はIdP初期化リトライの初回待機時間。
	initInitialBackoff = time.Second

	dbConnectTimeout = 10 * time.Second
	shutdownTimeout  = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

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
		slog.String("environment", cfg.Environment),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// gateway はserveモードで組み立てた依存関係一式。
type gateway struct {
	handler     http.Handler
	initializer *lifecycle.Initializer
	pool        *worker.Pool
	rateLimiter *middleware.RateLimiter
	resolver    *pages.Resolver
}

// newGateway はIdPクライアント・DB・メトリクスからルーターまでをワイヤリングする。
// ページの許可リストや公開ディレクトリが不正な場合はmodel.ErrConfigurationFatalをラップしたエラーを返す。
func newGateway(cfg *config.Config, db *sql.DB, provider idp.Provider, collector *metrics.Collector, gatherer prometheus.Gatherer) (*gateway, error) {
	resolver, err := pages.NewResolver(cfg.PublicDir, cfg.PrivateDir, cfg.ProtectedPages)
	if err != nil {
		return nil, fmt.Errorf("failed to set up pages: %w", err)
	}

	pool := worker.NewPool(slog.Default(), activityWorkers)

	activityRepo := repository.NewPostgresActivityRepo(db)
	activityService := activity.NewService(activityRepo, pool, collector, activity.DefaultConfig())

	authService := auth.NewService(provider, activityService, collector, auth.ServiceConfig{
		SessionLifetime: cfg.SessionMaxAge,
		CheckRevoked:    cfg.CheckRevoked,
		ProviderTimeout: cfg.IdPTimeout,
	})

	initializer := lifecycle.New(
		provider.Warmup,
		worker.Backoff{Initial: initInitialBackoff, Max: cfg.InitMaxBackoff},
		collector,
		slog.Default(),
	)

	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitLogin),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(gatherer),
		Readiness:         initializer,
		SessionVerifier:   authService,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieSecure: cfg.CookieSecure,
			LandingPath:  landingPath(cfg.ProtectedPages),
		},

		ActivityService: activityService,
		Pages:           resolver,
		HealthChecker:   activityService,
	})

	return &gateway{
		handler:     router,
		initializer: initializer,
		pool:        pool,
		rateLimiter: rateLimiter,
		resolver:    resolver,
	}, nil
}

// landingPath はフォームログイン後の遷移先として、設定順で最初の認証必須ページを返す。
func landingPath(protected []string) string {
	if len(protected) == 0 {
		return "/"
	}
	return "/" + protected[0]
}

// close は実行中のアクティビティ書き込みを待ち、保持しているリソースを解放する。
func (g *gateway) close(ctx context.Context) error {
	g.rateLimiter.Stop()
	waitErr := g.pool.Wait(ctx)
	if err := g.resolver.Close(); err != nil {
		return errors.Join(waitErr, fmt.Errorf("failed to close page roots: %w", err))
	}
	return waitErr
}

// newRegistry はプロセスとランタイムのコレクターを登録済みのレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はゲートウェイサーバーモードで起動する。
// HTTPサーバーを先に起動し、IdPの初期化はバックグラウンドで行う。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
// 初期化が設定起因で失敗した場合はサーバーを停止してエラーを返す。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL, database.DefaultPoolConfig(), dbConnectTimeout)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 3. IdPクライアント
	provider, err := idp.NewFirebaseClient(idp.FirebaseConfig{
		ProjectID:   cfg.FirebaseProjectID,
		ClientEmail: cfg.FirebaseClientEmail,
		PrivateKey:  cfg.FirebasePrivateKey,
		HTTPClient:  &http.Client{Timeout: cfg.IdPTimeout},
		Observer:    collector,
	})
	if err != nil {
		return fmt.Errorf("failed to create identity provider client: %w", err)
	}

	// 4. ワイヤリング
	gw, err := newGateway(cfg, db, provider, collector, reg)
	if err != nil {
		return err
	}

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      gw.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("gateway server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	gw.initializer.Start(ctx)

	runErr := waitForExit(ctx, gw.initializer, serveErr)

	slog.Info("shutting down gateway server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("server shutdown failed: %w", err))
	}
	if err := gw.close(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("failed to drain background tasks: %w", err))
	}

	if runErr != nil {
		return runErr
	}

	slog.Info("gateway server stopped gracefully")
	return nil
}

// waitForExit はシグナル受信、サーバーの異常終了、初期化の恒久的な失敗のいずれかまで待つ。
// シグナルによる終了の場合はnilを返す。
func waitForExit(ctx context.Context, initializer *lifecycle.Initializer, serveErr <-chan error) error {
	initDone := initializer.Done()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-serveErr:
			return fmt.Errorf("server listen error: %w", err)
		case <-initDone:
			if initializer.State() == lifecycle.StateFailed {
				return fmt.Errorf("identity provider initialization failed: %w", initializer.Err())
			}
			// Ready以降は初期化を監視しない
			initDone = nil
		}
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
	)
	return nil
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
