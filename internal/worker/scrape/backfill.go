package scrape

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/rentwatch/internal/model"
)

// BackfillResult は1組の(source, city)に対する実行結果。
type BackfillResult struct {
	Source string
	City   string
	Result model.JobResult
	Err    error
}

// RunAll は全ジョブを順番に1回ずつ実行する。リトライは行わない。
// ctxがキャンセルされた時点で残りのジョブは実行しない。
func RunAll(ctx context.Context, runner JobRunner, specs []JobSpec, logger *slog.Logger) []BackfillResult {
	results := make([]BackfillResult, 0, len(specs))

	for _, spec := range specs {
		if ctx.Err() != nil {
			break
		}

		job := &model.ScrapeJob{
			ID:          "backfill-" + spec.key(),
			Source:      spec.Source,
			City:        spec.City,
			MaxPages:    spec.MaxPages,
			Attempt:     1,
			State:       model.JobStateRunning,
			ScheduledAt: time.Now(),
		}

		start := time.Now()
		res, err := runner.Run(ctx, job)
		results = append(results, BackfillResult{Source: spec.Source, City: spec.City, Result: res, Err: err})

		if err != nil {
			logger.Error("バックフィルに失敗しました",
				slog.String("source", spec.Source),
				slog.String("city", spec.City),
				slog.String("error", err.Error()),
			)
			continue
		}
		logger.Info("バックフィルが完了しました",
			slog.String("source", spec.Source),
			slog.String("city", spec.City),
			slog.Int("found", res.Found),
			slog.Int("saved", res.Saved),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	}

	return results
}
