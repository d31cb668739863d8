// Package cleanup は掲載が終了した物件を非公開にする処理を提供する。
// 一覧を最後のページまで取得できたスクレイプの後で、その(source, city)の有効な物件のうち
// 今回の取得結果に含まれなかったものを非公開にする。物件は削除しない。
// 再び取得された物件はアップサート時に有効に戻る。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/rentwatch/internal/metrics"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Deactivator は一覧から消えた物件を非公開にする。
type Deactivator struct {
	db      Executor
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewDeactivator は新しいDeactivatorを生成する。
func NewDeactivator(db Executor, collector metrics.MetricsCollector, logger *slog.Logger) *Deactivator {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Deactivator{
		db:      db,
		metrics: collector,
		logger:  logger,
	}
}

// DeactivateMissing はsourceとcityの有効な物件のうち、seenIDsに含まれないものを非公開にし、件数を返す。
// 取得結果が0件の場合はブロック画面等の可能性があるため何もしない。
// 既に非公開の物件は対象外のため、繰り返し実行しても結果は変わらない。
func (d *Deactivator) DeactivateMissing(ctx context.Context, source, city string, seenIDs []string) (int64, error) {
	if len(seenIDs) == 0 {
		return 0, nil
	}
	start := time.Now()

	query := `UPDATE properties SET is_active = false, updated_at = now()
	          WHERE source = $1 AND city = $2 AND is_active AND NOT (external_id = ANY($3))`
	result, err := d.db.ExecContext(ctx, query, source, city, pq.Array(seenIDs))
	if err != nil {
		d.logger.Error("物件の非公開化に失敗しました",
			slog.String("source", source),
			slog.String("city", city),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("物件の非公開化に失敗: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		d.logger.Error("更新件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("更新件数の取得に失敗: %w", err)
	}

	d.metrics.RecordStaleDeactivated(int(count))
	d.logger.Info("掲載が終了した物件を非公開にしました",
		slog.String("source", source),
		slog.String("city", city),
		slog.Int("seen_count", len(seenIDs)),
		slog.Int64("deactivated_count", count),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	return count, nil
}
