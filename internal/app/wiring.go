package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/rentwatch/internal/cache"
	"github.com/hitoshi/rentwatch/internal/config"
	"github.com/hitoshi/rentwatch/internal/database"
	"github.com/hitoshi/rentwatch/internal/listing"
	"github.com/hitoshi/rentwatch/internal/match"
	"github.com/hitoshi/rentwatch/internal/metrics"
	"github.com/hitoshi/rentwatch/internal/notify"
	"github.com/hitoshi/rentwatch/internal/repository"
	"github.com/hitoshi/rentwatch/internal/scraper"
	"github.com/hitoshi/rentwatch/internal/security"
	"github.com/hitoshi/rentwatch/internal/worker/cleanup"
	"github.com/hitoshi/rentwatch/internal/worker/scrape"
)

// pipeline はスクレイプからの通知までの依存関係をまとめたもの。
type pipeline struct {
	db        *sql.DB
	redis     *redis.Client
	registry  *prometheus.Registry
	collector *metrics.Collector
	upsert    *listing.UpsertService
	runner    *scrape.Runner
	specs     []scrape.JobSpec
}

// Close はDBとRedisの接続を閉じる。
func (p *pipeline) Close() {
	if p.redis != nil {
		p.redis.Close()
	}
	if p.db != nil {
		p.db.Close()
	}
}

// buildPipeline は設定から全コンポーネントを生成して結線する。
func buildPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pipeline, error) {
	jobs, err := config.LoadJobs(cfg.ScrapeJobsFile)
	if err != nil {
		return nil, err
	}

	// 1. DB接続
	pool := database.DefaultPoolConfig()
	pool.MaxOpenConns = cfg.DBMaxConns
	db, err := database.Open(cfg.DatabaseURL, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	p := &pipeline{db: db}

	if err := database.Ping(ctx, db, 5*time.Second); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info("database connection established")

	// 2. メトリクス
	p.registry = prometheus.NewRegistry()
	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	p.collector = metrics.NewCollector(p.registry)

	// 3. リポジトリ
	propertyRepo := repository.NewPostgresPropertyRepo(db)
	matchRepo := repository.NewPostgresMatchRepo(db)
	notificationRepo := repository.NewPostgresNotificationRepo(db)
	userRepo := repository.NewPostgresUserRepo(db)

	var profiles repository.ProfileRepository = repository.NewPostgresProfileRepo(db)
	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.redis = client
		profiles = cache.NewProfileCache(client, profiles, cfg.ProfileCacheTTL, logger)
		logger.Info("profile cache enabled", slog.Duration("ttl", cfg.ProfileCacheTTL))
	}

	// 4. 通知
	senders, err := buildSenders(ctx, cfg, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	dispatcher := notify.NewDispatcher(
		userRepo, notificationRepo, notify.NewContentBuilder(cfg.AppBaseURL), senders, logger,
		notify.WithRateLimit(cfg.NotifyRateLimit, cfg.NotifyRateWindow),
		notify.WithMetrics(p.collector),
	)

	// 5. マッチングと保存
	engine := match.NewEngine(profiles, matchRepo, dispatcher, p.collector, logger, cfg.MatchThreshold)
	p.upsert = listing.NewUpsertService(propertyRepo, security.NewTextSanitizer(), engine, p.collector, logger)
	p.upsert.SetMatchTimeout(cfg.MatchTimeout)

	// 6. スクレイパー
	registry := scraper.NewDefaultRegistry(
		newBrowser(cfg),
		scraper.PacingConfig{
			RequestsPerSecond: cfg.ScrapeRPS,
			MinDelay:          cfg.ScrapeDelayMin,
			MaxDelay:          cfg.ScrapeDelayMax,
		},
		feedSources(jobs.Feeds),
		logger,
	)
	p.runner = scrape.NewRunner(registry, p.upsert, p.collector, logger)
	p.runner.SetDeactivator(cleanup.NewDeactivator(db, p.collector, logger))

	p.specs, err = jobSpecs(jobs, registry.Names())
	if err != nil {
		p.Close()
		return nil, err
	}

	return p, nil
}

// newBrowser はSCRAPE_BROWSERに応じたBrowserを返す。
func newBrowser(cfg *config.Config) scraper.Browser {
	if cfg.ScrapeBrowser == "chrome" {
		return scraper.NewChromeBrowser(cfg.ScrapeTimeout, cfg.ScrapeHeadless)
	}
	// 掲載サイトとフィードはジョブ定義で増えるため、許可ドメインは絞らずプライベートIPのみ拒否する
	return scraper.NewHTTPBrowser(security.NewURLGuard(), cfg.ScrapeTimeout)
}

// buildSenders は設定済みのチャネルの送信者を生成する。
// 未設定のチャネルへの通知はunsupported channelとして記録される。
func buildSenders(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]notify.Sender, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	snsClient := sns.NewFromConfig(awsCfg)
	senders := []notify.Sender{
		notify.NewSMSSender(snsClient, cfg.SMSSenderID),
		notify.NewPushSender(snsClient),
	}

	if cfg.SESFromEmail != "" {
		senders = append(senders, notify.NewEmailSender(ses.NewFromConfig(awsCfg), cfg.SESFromEmail))
	} else {
		logger.Warn("SES_FROM_EMAIL is not set; email notifications are disabled")
	}

	if cfg.TelegramBotToken != "" {
		client := security.NewURLGuard("telegram.org").NewSafeClient(10 * time.Second)
		senders = append(senders, notify.NewTelegramSender(client, cfg.TelegramBotToken, logger))
	}

	return senders, nil
}

func feedSources(feeds []config.FeedEntry) []scraper.FeedSource {
	out := make([]scraper.FeedSource, 0, len(feeds))
	for _, f := range feeds {
		out = append(out, scraper.FeedSource{Name: f.Name, URLTemplate: f.URL})
	}
	return out
}

// jobSpecs はジョブ定義をスケジューラ用に変換する。登録されていないソースはエラーにする。
func jobSpecs(jobs *config.JobsFile, known []string) ([]scrape.JobSpec, error) {
	specs := make([]scrape.JobSpec, 0, len(jobs.Jobs))
	for _, j := range jobs.Jobs {
		if !slices.Contains(known, j.Source) {
			return nil, fmt.Errorf("unknown scrape source %q (available: %v)", j.Source, known)
		}
		specs = append(specs, scrape.JobSpec{
			Source:   j.Source,
			City:     j.City,
			MaxPages: j.MaxPages,
			Interval: j.Interval,
		})
	}
	return specs, nil
}

// filterSpecs はsourcesに含まれるソースのジョブだけを返す。sourcesが空の場合はすべて返す。
func filterSpecs(specs []scrape.JobSpec, sources []string) []scrape.JobSpec {
	if len(sources) == 0 {
		return specs
	}
	var out []scrape.JobSpec
	for _, s := range specs {
		if slices.Contains(sources, s.Source) {
			out = append(out, s)
		}
	}
	return out
}
