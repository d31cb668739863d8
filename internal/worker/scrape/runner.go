package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/rentwatch/internal/listing"
	"github.com/hitoshi/rentwatch/internal/metrics"
	"github.com/hitoshi/rentwatch/internal/model"
	"github.com/hitoshi/rentwatch/internal/scraper"
)

// ScraperFactory はソース名から新しいScraperを生成する。
type ScraperFactory interface {
	New(name string) (scraper.Scraper, error)
}

// Upserter はスクレイプ結果を保存する。
type Upserter interface {
	Upsert(ctx context.Context, l model.ScrapedListing) listing.Outcome
}

// Deactivator は一覧から消えた物件を非公開にする。
type Deactivator interface {
	DeactivateMissing(ctx context.Context, source, city string, seenIDs []string) (int64, error)
}

// JobRunner はスクレイプジョブ1回分を実行する。
type JobRunner interface {
	Run(ctx context.Context, job *model.ScrapeJob) (model.JobResult, error)
}

// Runner はスクレイパーを生成して実行し、取得した物件を1件ずつ保存する。
type Runner struct {
	scrapers ScraperFactory
	upserter Upserter
	metrics  metrics.MetricsCollector
	logger   *slog.Logger

	deactivator Deactivator
}

// NewRunner はRunnerを生成する。
func NewRunner(scrapers ScraperFactory, upserter Upserter, collector metrics.MetricsCollector, logger *slog.Logger) *Runner {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Runner{
		scrapers: scrapers,
		upserter: upserter,
		metrics:  collector,
		logger:   logger,
	}
}

// SetDeactivator は一覧の末尾まで取得できたジョブの後に、消えた物件を非公開にする処理を設定する。
func (r *Runner) SetDeactivator(d Deactivator) {
	r.deactivator = d
}

// Run はジョブを実行して取得件数と保存件数を返す。
// スクレイパー内のpanicはエラーに変換する。保存の失敗は件数に含めないだけで継続する。
func (r *Runner) Run(ctx context.Context, job *model.ScrapeJob) (result model.JobResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("ジョブ実行中にpanicが発生しました: %v", rec)
		}
	}()

	s, err := r.scrapers.New(job.Source)
	if err != nil {
		return result, err
	}

	start := time.Now()
	listings, err := scraper.Run(ctx, s, scraper.Options{City: job.City, MaxPages: job.MaxPages}, r.logger)
	r.metrics.RecordScrapeLatency(job.Source, time.Since(start))
	if err != nil {
		return result, err
	}

	result.Found = len(listings)
	for _, l := range listings {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if out := r.upserter.Upsert(ctx, l); out.Saved() {
			result.Saved++
		}
	}

	if scraper.ReachedEnd(s) {
		r.deactivateMissing(ctx, job, listings)
	}
	return result, nil
}

// deactivateMissing は今回の一覧に含まれなかった物件を非公開にする。
// 失敗はログに記録するだけで、ジョブの成否には影響させない。
func (r *Runner) deactivateMissing(ctx context.Context, job *model.ScrapeJob, listings []model.ScrapedListing) {
	if r.deactivator == nil {
		return
	}

	seen := make([]string, 0, len(listings))
	for _, l := range listings {
		seen = append(seen, l.ExternalID)
	}
	if _, err := r.deactivator.DeactivateMissing(ctx, job.Source, scraper.NormalizeCity(job.City), seen); err != nil {
		r.logger.Warn("掲載終了物件の非公開化に失敗しました",
			slog.String("source", job.Source),
			slog.String("city", job.City),
			slog.String("error", err.Error()),
		)
	}
}
