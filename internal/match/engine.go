// Package match は新規物件と検索条件の照合、マッチの記録、通知の起動を提供する。
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/rentwatch/internal/metrics"
	"github.com/hitoshi/rentwatch/internal/model"
	"github.com/hitoshi/rentwatch/internal/repository"
)

// DefaultThreshold はマッチとみなすスコアの既定しきい値（このスコアを超えた場合にマッチ）。
const DefaultThreshold = 50

// スコアの配点
const (
	locationCredit  = 30
	budgetCredit    = 25
	bedroomsCredit  = 15
	furnishedCredit = 10
	petsCredit      = 10
	keywordCredit   = 5
	keywordCap      = 10
	maxScore        = 100
)

// AlertSender はマッチした物件の通知を送信する。
type AlertSender interface {
	SendPropertyAlert(ctx context.Context, alert model.PropertyAlert) []model.NotificationResult
}

// Engine は物件を有効な検索条件すべてと照合する。
type Engine struct {
	profiles  repository.ProfileRepository
	matches   repository.MatchRepository
	notifier  AlertSender
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	threshold int

	now   func() time.Time
	newID func() string
}

// NewEngine はEngineを生成する。thresholdが0以下の場合はDefaultThresholdを使用する。
func NewEngine(
	profiles repository.ProfileRepository,
	matches repository.MatchRepository,
	notifier AlertSender,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	threshold int,
) *Engine {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Engine{
		profiles:  profiles,
		matches:   matches,
		notifier:  notifier,
		metrics:   collector,
		logger:    logger,
		threshold: threshold,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// MatchProperty は物件を有効な検索条件すべてと照合し、しきい値を超えたものを記録して通知する。
// 検索条件ごとの失敗はまとめて返し、残りの検索条件の評価は継続する。
func (e *Engine) MatchProperty(ctx context.Context, p *model.Property) error {
	profiles, err := e.profiles.ListActiveNotifiable(ctx)
	if err != nil {
		return fmt.Errorf("検索条件の取得に失敗: %w", err)
	}

	var errs []error
	matched := 0
	for _, profile := range profiles {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		score := Score(p, profile)
		if score <= e.threshold {
			continue
		}

		ok, err := e.recordMatch(ctx, p, profile, score)
		if err != nil {
			e.logger.Error("マッチの処理に失敗しました",
				slog.String("property_id", p.ID),
				slog.String("search_profile_id", profile.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("profile %s: %w", profile.ID, err))
			continue
		}
		if ok {
			matched++
		}
	}

	e.logger.Info("物件の照合が完了しました",
		slog.String("property_id", p.ID),
		slog.Int("profiles", len(profiles)),
		slog.Int("matched", matched),
	)

	return errors.Join(errs...)
}

// recordMatch はマッチを保存して通知を送信する。既に記録済みのペアは通知しない。
func (e *Engine) recordMatch(ctx context.Context, p *model.Property, profile *model.SearchProfile, score int) (bool, error) {
	m := &model.PropertyMatch{
		ID:              e.newID(),
		PropertyID:      p.ID,
		SearchProfileID: profile.ID,
		UserID:          profile.UserID,
		MatchScore:      score,
		MatchedAt:       e.now(),
	}

	created, err := e.matches.Create(ctx, m)
	if err != nil {
		return false, model.NewPersistenceError("property_match.create", err)
	}
	if !created {
		return false, nil
	}
	e.metrics.RecordMatchCreated()

	channels := profile.NotificationChannels
	if len(channels) == 0 {
		channels = []model.Channel{model.ChannelEmail}
	}

	results := e.notifier.SendPropertyAlert(ctx, model.PropertyAlert{
		UserID:     profile.UserID,
		PropertyID: p.ID,
		Property:   p,
		MatchScore: score,
		Channels:   channels,
	})

	delivered := 0
	for _, r := range results {
		if r.Success {
			delivered++
		}
	}
	e.logger.Info("マッチを記録しました",
		slog.String("property_id", p.ID),
		slog.String("search_profile_id", profile.ID),
		slog.String("user_id", profile.UserID),
		slog.Int("score", score),
		slog.Int("channels", len(channels)),
		slog.Int("delivered", delivered),
	)
	return true, nil
}

// Score は物件と検索条件の一致度を0〜100で返す。
// 都市が含まれない場合と、価格が予算上限を超える場合は0。
func Score(p *model.Property, s *model.SearchProfile) int {
	if !containsCity(s.Cities, p.City) {
		return 0
	}
	if p.Price > s.BudgetMax {
		return 0
	}

	score := locationCredit

	if p.Price >= s.BudgetMin && p.Price <= s.BudgetMax {
		score += budgetCredit
	}
	if s.BedroomsMin != nil && p.Bedrooms >= *s.BedroomsMin {
		score += bedroomsCredit
	}
	if s.Furnished != nil && p.Furnished != nil && *s.Furnished == *p.Furnished {
		score += furnishedCredit
	}
	if s.PetsAllowed != nil && *s.PetsAllowed && p.PetsAllowed != nil && *p.PetsAllowed {
		score += petsCredit
	}
	score += keywordScore(s.Keywords, p.Title+" "+p.Description)

	return min(max(score, 0), maxScore)
}

func containsCity(cities []string, city string) bool {
	city = strings.TrimSpace(city)
	for _, c := range cities {
		if strings.EqualFold(strings.TrimSpace(c), city) {
			return true
		}
	}
	return false
}

// keywordScore は本文に含まれるキーワード1種類につき5点、最大10点を返す。
func keywordScore(keywords []string, text string) int {
	text = strings.ToLower(text)
	seen := make(map[string]struct{}, len(keywords))
	score := 0
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		if strings.Contains(text, kw) {
			score += keywordCredit
		}
	}
	return min(score, keywordCap)
}
