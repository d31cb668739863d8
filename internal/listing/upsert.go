// Package listing はスクレイプ結果の正規化、重複排除、保存を提供する。
package listing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/rentwatch/internal/metrics"
	"github.com/hitoshi/rentwatch/internal/model"
	"github.com/hitoshi/rentwatch/internal/repository"
	"github.com/hitoshi/rentwatch/internal/security"
)

// DefaultMatchTimeout はバックグラウンドのマッチング1回あたりの既定タイムアウト。
const DefaultMatchTimeout = 2 * time.Minute

// Action はアップサートで行われた処理を表す。
type Action string

const (
	ActionInserted  Action = "inserted"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
	ActionFailed    Action = "failed"
)

// Outcome はアップサート1件の結果。
// 失敗時はPropertyIDが空文字列になる。
type Outcome struct {
	PropertyID string
	Action     Action
}

// Saved は物件IDが確定したかどうかを返す。
func (o Outcome) Saved() bool {
	return o.PropertyID != ""
}

// MatchTrigger は新規物件のマッチングを実行する。
type MatchTrigger interface {
	MatchProperty(ctx context.Context, property *model.Property) error
}

// UpsertService は(source, external_id)をキーに物件を保存する。
// 新規作成時のみマッチングをバックグラウンドで起動する。
type UpsertService struct {
	repo         repository.PropertyRepository
	sanitizer    security.TextSanitizer
	matcher      MatchTrigger
	metrics      metrics.MetricsCollector
	logger       *slog.Logger
	matchTimeout time.Duration

	now   func() time.Time
	newID func() string

	wg sync.WaitGroup
}

// NewUpsertService はUpsertServiceを生成する。
// matcherがnilの場合はマッチングを起動しない。
func NewUpsertService(
	repo repository.PropertyRepository,
	sanitizer security.TextSanitizer,
	matcher MatchTrigger,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *UpsertService {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &UpsertService{
		repo:         repo,
		sanitizer:    sanitizer,
		matcher:      matcher,
		metrics:      collector,
		logger:       logger,
		matchTimeout: DefaultMatchTimeout,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// SetMatchTimeout はバックグラウンドマッチングのタイムアウトを変更する。
func (s *UpsertService) SetMatchTimeout(d time.Duration) {
	if d > 0 {
		s.matchTimeout = d
	}
}

// Upsert はスクレイプ結果を保存する。
// 永続化の失敗はログに記録し、PropertyIDが空のOutcomeとして返す（エラーは返さない）。
func (s *UpsertService) Upsert(ctx context.Context, listing model.ScrapedListing) Outcome {
	out := s.upsert(ctx, listing)
	s.metrics.RecordUpsert(string(out.Action))
	return out
}

func (s *UpsertService) upsert(ctx context.Context, listing model.ScrapedListing) Outcome {
	incoming := s.normalize(listing)

	existing, err := s.repo.FindByKey(ctx, incoming.Source, incoming.ExternalID)
	if err != nil {
		return s.fail("find", incoming, err)
	}

	if existing == nil {
		err := s.repo.Insert(ctx, incoming)
		switch {
		case err == nil:
			s.logger.Info("新しい物件を保存しました",
				slog.String("property_id", incoming.ID),
				slog.String("source", incoming.Source),
				slog.String("external_id", incoming.ExternalID),
				slog.String("city", incoming.City),
				slog.Int("price", incoming.Price),
			)
			s.triggerMatch(incoming)
			return Outcome{PropertyID: incoming.ID, Action: ActionInserted}
		case errors.Is(err, repository.ErrDuplicateKey):
			// 並行ジョブが先に作成したため比較処理へ回す
			existing, err = s.repo.FindByKey(ctx, incoming.Source, incoming.ExternalID)
			if err != nil {
				return s.fail("find", incoming, err)
			}
			if existing == nil {
				return s.fail("insert", incoming, errors.New("重複キーの物件が見つかりません"))
			}
		default:
			return s.fail("insert", incoming, err)
		}
	}

	if !hasChanged(existing, incoming) {
		return Outcome{PropertyID: existing.ID, Action: ActionUnchanged}
	}

	updated := applyChanges(existing, incoming)
	if err := s.repo.Update(ctx, updated); err != nil {
		return s.fail("update", incoming, err)
	}

	s.logger.Info("物件を更新しました",
		slog.String("property_id", updated.ID),
		slog.String("source", updated.Source),
		slog.String("external_id", updated.ExternalID),
		slog.Int("old_price", existing.Price),
		slog.Int("new_price", updated.Price),
		slog.Bool("reactivated", !existing.IsActive),
	)
	// 価格変更で予算内に入っても再マッチングは行わない（新規作成時のみ）
	return Outcome{PropertyID: updated.ID, Action: ActionUpdated}
}

// Drain はバックグラウンドのマッチングがすべて終わるか、ctxが終了するまで待つ。
func (s *UpsertService) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("マッチング処理の完了待ちが中断されました: %w", ctx.Err())
	}
}

// triggerMatch はマッチングを呼び出し元のキャンセルから切り離して起動する。
// 失敗やpanicはログに記録するだけで呼び出し元には伝えない。
func (s *UpsertService) triggerMatch(p *model.Property) {
	if s.matcher == nil {
		return
	}

	snapshot := *p
	snapshot.Photos = slices.Clone(p.Photos)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("マッチング処理でpanicが発生しました",
					slog.String("property_id", snapshot.ID),
					slog.Any("panic", rec),
				)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.matchTimeout)
		defer cancel()

		start := time.Now()
		if err := s.matcher.MatchProperty(ctx, &snapshot); err != nil {
			merr := model.NewMatchTriggerError(snapshot.ID, err)
			s.logger.Error("マッチング処理に失敗しました",
				slog.String("property_id", snapshot.ID),
				slog.String("error", merr.Error()),
			)
			return
		}
		s.logger.Debug("マッチング処理が完了しました",
			slog.String("property_id", snapshot.ID),
			slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		)
	}()
}

func (s *UpsertService) fail(op string, p *model.Property, err error) Outcome {
	perr := model.NewPersistenceError("property."+op, err)
	s.logger.Error("物件の保存に失敗しました",
		slog.String("source", p.Source),
		slog.String("external_id", p.ExternalID),
		slog.String("error", perr.Error()),
	)
	return Outcome{Action: ActionFailed}
}

// normalize はスクレイプ結果を新規作成用のPropertyへ変換する。
func (s *UpsertService) normalize(l model.ScrapedListing) *model.Property {
	now := s.now()
	description := l.Description
	if s.sanitizer != nil {
		description = s.sanitizer.PlainText(description)
	}

	return &model.Property{
		ID:            s.newID(),
		Source:        l.Source,
		ExternalID:    l.ExternalID,
		SourceURL:     l.SourceURL,
		Title:         strings.Join(strings.Fields(l.Title), " "),
		Description:   description,
		City:          strings.ToLower(strings.TrimSpace(l.City)),
		Neighborhood:  strings.TrimSpace(l.Neighborhood),
		Price:         l.Price,
		Bedrooms:      l.Bedrooms,
		SquareMeters:  l.SquareMeters,
		Photos:        dedupePhotos(l.Photos),
		LandlordType:  l.LandlordType,
		PropertyType:  l.PropertyType,
		Furnished:     l.Furnished,
		PetsAllowed:   l.PetsAllowed,
		IsActive:      true,
		ScrapedAt:     now,
		LastCheckedAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// hasChanged は価格、写真の集合、有効フラグのいずれかが異なるかを返す。
func hasChanged(existing, incoming *model.Property) bool {
	return existing.Price != incoming.Price ||
		!samePhotoSet(existing.Photos, incoming.Photos) ||
		!existing.IsActive
}

// applyChanges は既存物件に新しい内容を反映したコピーを返す。
// ID、ソースキー、作成日時は維持する。
func applyChanges(existing, incoming *model.Property) *model.Property {
	u := *existing
	u.SourceURL = incoming.SourceURL
	u.Title = incoming.Title
	u.Description = incoming.Description
	u.Neighborhood = incoming.Neighborhood
	u.Price = incoming.Price
	u.Bedrooms = incoming.Bedrooms
	u.SquareMeters = incoming.SquareMeters
	u.Photos = incoming.Photos
	u.LandlordType = incoming.LandlordType
	u.PropertyType = incoming.PropertyType
	u.Furnished = incoming.Furnished
	u.PetsAllowed = incoming.PetsAllowed
	u.IsActive = true
	u.LastCheckedAt = incoming.LastCheckedAt
	u.UpdatedAt = incoming.UpdatedAt
	return &u
}

// samePhotoSet は順序を無視して2つの写真URL集合が等しいかを返す。
func samePhotoSet(a, b []string) bool {
	a, b = dedupePhotos(a), dedupePhotos(b)
	if len(a) != len(b) {
		return false
	}
	sa := slices.Clone(a)
	sb := slices.Clone(b)
	slices.Sort(sa)
	slices.Sort(sb)
	return slices.Equal(sa, sb)
}

// dedupePhotos は空文字列と重複を除いた写真URLを出現順で返す。
func dedupePhotos(photos []string) []string {
	out := make([]string, 0, len(photos))
	seen := make(map[string]struct{}, len(photos))
	for _, p := range photos {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
