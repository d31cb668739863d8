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

	"github.com/hitoshi/rentwatch/internal/config"
	"github.com/hitoshi/rentwatch/internal/database"
	"github.com/hitoshi/rentwatch/internal/handler"
	"github.com/hitoshi/rentwatch/internal/logger"
	"github.com/hitoshi/rentwatch/internal/worker/scrape"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. 設定読み込み前にもログを使えるようにする
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, logger.SetupDefault(w, cfg.LogLevel), nil
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

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandBackfill:
		var sources []string
		if len(args) > 1 {
			sources = args[1:]
		}
		return runBackfill(cfg, log, sources)
	case CommandMigrate:
		return runMigrate(cfg, log)
	default:
		return runWorker(cfg, log)
	}
}

// runWorker はスクレイプジョブの定期実行と運用HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信すると、スケジューラ停止とキュー処理の完了待ち、
// バックグラウンドのマッチング完了待ち、HTTPサーバー停止の順に終了する。
func runWorker(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer p.Close()

	// 1. スクレイプスケジューラ
	scheduler := scrape.NewScheduler(p.runner, scrape.Config{
		Concurrency: cfg.WorkerConcurrency,
		QueueSize:   cfg.JobQueueSize,
		MaxAttempts: cfg.JobMaxAttempts,
		BaseDelay:   cfg.JobRetryBaseDelay,
	}, p.collector, log)
	for _, spec := range p.specs {
		if err := scheduler.Schedule(spec); err != nil {
			return err
		}
	}

	// 2. 運用HTTPサーバー
	server := &http.Server{
		Addr: ":" + cfg.ServerPort,
		Handler: handler.NewRouter(&handler.RouterDeps{
			DB:       p.db,
			Gatherer: p.registry,
			Logger:   log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// スクレイプはシグナルではなくStopの期限切れでのみ中断する
	jobsCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	scheduler.Start(jobsCtx)

	log.Info("worker started",
		slog.Int("jobs", len(p.specs)),
		slog.Int("concurrency", cfg.WorkerConcurrency),
		slog.String("browser", cfg.ScrapeBrowser),
	)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down worker...")
	case runErr = <-serverErr:
		log.Error("server error", slog.String("error", runErr.Error()))
	}

	return shutdown(cfg.ShutdownTimeout, log, scheduler, p, server, runErr)
}

// shutdown は停止処理を順に行う。各段階のエラーはまとめて返す。
func shutdown(timeout time.Duration, log *slog.Logger, scheduler *scrape.Scheduler, p *pipeline, server *http.Server, runErr error) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	errs := []error{runErr}

	if err := scheduler.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}
	if err := p.upsert.Drain(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("background matches: %w", err))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}

	err := errors.Join(errs...)
	if err == nil {
		log.Info("worker stopped gracefully")
	}
	return err
}

// runBackfill は全ジョブ（sources指定時はそのソースのみ）を1回ずつ実行して終了する。
func runBackfill(cfg *config.Config, log *slog.Logger, sources []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer p.Close()

	specs := filterSpecs(p.specs, sources)
	if len(specs) == 0 {
		return fmt.Errorf("no scrape jobs match sources %v", sources)
	}

	results := scrape.RunAll(ctx, p.runner, specs, log)

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := p.upsert.Drain(drainCtx); err != nil {
		log.Warn("background matches did not finish", slog.String("error", err.Error()))
	}

	var failed, found, saved int
	for _, r := range results {
		if r.Err != nil {
			failed++
			continue
		}
		found += r.Result.Found
		saved += r.Result.Saved
	}
	log.Info("backfill finished",
		slog.Int("jobs", len(results)),
		slog.Int("failed", failed),
		slog.Int("found", found),
		slog.Int("saved", saved),
	)

	if failed > 0 {
		return fmt.Errorf("backfill: %d of %d jobs failed", failed, len(results))
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	log.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	result, err := database.RunMigrations(cfg.DatabaseURL, log)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(result.To)),
		slog.Bool("applied", result.Applied),
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
