// Package notify はマッチした物件の通知をチャネルごとに送信し、送信記録を保存する。
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/rentwatch/internal/metrics"
	"github.com/hitoshi/rentwatch/internal/model"
	"github.com/hitoshi/rentwatch/internal/repository"
)

const (
	// DefaultRateLimit はユーザーごとの通知上限（ウィンドウ内の送信記録数）。
	DefaultRateLimit = 10
	// DefaultRateWindow はレート制限のウィンドウ。
	DefaultRateWindow = time.Hour
	// rateLimitedMessage はレート制限時の結果に設定するエラー文言。
	rateLimitedMessage = "rate limited"
)

// Sender は1つのチャネルの送信処理。
type Sender interface {
	Channel() model.Channel
	// Send は送信してプロバイダのメッセージIDを返す。
	Send(ctx context.Context, contact *model.UserContact, content Content) (string, error)
}

// Dispatcher はユーザーごとのレート制限を適用し、要求されたチャネルへ並行に送信する。
type Dispatcher struct {
	users   repository.UserRepository
	records repository.NotificationRepository
	builder *ContentBuilder
	senders map[model.Channel]Sender
	metrics metrics.MetricsCollector
	logger  *slog.Logger

	limit  int
	window time.Duration
	locks  userLocks

	now   func() time.Time
	newID func() string
}

// DispatcherOption はDispatcherの設定を変更する。
type DispatcherOption func(*Dispatcher)

// WithRateLimit はウィンドウ内の通知上限を設定する。
func WithRateLimit(limit int, window time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if limit > 0 {
			d.limit = limit
		}
		if window > 0 {
			d.window = window
		}
	}
}

// WithMetrics はメトリクスの記録先を設定する。
func WithMetrics(c metrics.MetricsCollector) DispatcherOption {
	return func(d *Dispatcher) {
		if c != nil {
			d.metrics = c
		}
	}
}

// NewDispatcher はDispatcherを生成する。sendersに含まれないチャネルは送信失敗として記録される。
func NewDispatcher(
	users repository.UserRepository,
	records repository.NotificationRepository,
	builder *ContentBuilder,
	senders []Sender,
	logger *slog.Logger,
	opts ...DispatcherOption,
) *Dispatcher {
	d := &Dispatcher{
		users:   users,
		records: records,
		builder: builder,
		senders: make(map[model.Channel]Sender, len(senders)),
		metrics: metrics.Nop{},
		logger:  logger,
		limit:   DefaultRateLimit,
		window:  DefaultRateWindow,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, s := range senders {
		d.senders[s.Channel()] = s
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SendPropertyAlert はアラートを要求された各チャネルへ送信し、結果をすべて記録する。
// ユーザーが見つからない場合は空の結果を返す。
// レート制限に達している場合はchannel=allの失敗結果を1件だけ返し、何も記録しない。
func (d *Dispatcher) SendPropertyAlert(ctx context.Context, alert model.PropertyAlert) []model.NotificationResult {
	contact, err := d.users.FindContact(ctx, alert.UserID)
	if err != nil {
		d.logger.Error("ユーザー連絡先の取得に失敗しました",
			slog.String("user_id", alert.UserID),
			slog.String("error", err.Error()),
		)
		return []model.NotificationResult{}
	}
	if contact == nil {
		d.logger.Warn("通知先のユーザーが見つかりません",
			slog.String("user_id", alert.UserID),
			slog.String("property_id", alert.PropertyID),
		)
		return []model.NotificationResult{}
	}

	// 件数の確認から記録の保存までをユーザー単位で直列化し、並行するマッチングが
	// 同じ件数を読んで上限を超えないようにする（同一プロセス内のみ）
	unlock := d.locks.lock(alert.UserID)
	defer unlock()

	if result, limited := d.checkRateLimit(ctx, alert.UserID); limited {
		return []model.NotificationResult{result}
	}

	content, err := d.builder.Build(alert)
	if err != nil {
		d.logger.Error("通知本文の生成に失敗しました",
			slog.String("property_id", alert.PropertyID),
			slog.String("error", err.Error()),
		)
		return []model.NotificationResult{}
	}

	channels := uniqueChannels(alert.Channels)
	results := make([]model.NotificationResult, len(channels))

	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = d.send(ctx, ch, contact, content)
		}()
	}
	wg.Wait()

	sentAt := d.now()
	for _, r := range results {
		d.metrics.RecordNotification(string(r.Channel), r.Success)
		d.persist(ctx, alert, r, sentAt)
	}

	d.logger.Info("通知を送信しました",
		slog.String("user_id", alert.UserID),
		slog.String("property_id", alert.PropertyID),
		slog.Int("channels", len(results)),
		slog.Int("delivered", countDelivered(results)),
	)
	return results
}

// checkRateLimit は直近ウィンドウ内の送信記録数を確認する。
// 件数の取得に失敗した場合も送信しない。
// 送信失敗の記録も件数に含む（失敗した送信を上限に数えるかは未決のため現状維持）。
func (d *Dispatcher) checkRateLimit(ctx context.Context, userID string) (model.NotificationResult, bool) {
	since := d.now().Add(-d.window)
	count, err := d.records.CountByUserSince(ctx, userID, since)
	if err != nil {
		d.logger.Error("通知件数の取得に失敗したため送信をスキップします",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		d.metrics.RecordRateLimited()
		return model.NotificationResult{
			Channel: model.ChannelAll,
			Error:   fmt.Sprintf("rate limit check failed: %v", err),
		}, true
	}

	if count >= d.limit {
		d.logger.Warn("通知のレート制限に達しました",
			slog.String("user_id", userID),
			slog.Int("count", count),
			slog.Int("limit", d.limit),
			slog.Float64("window_minutes", d.window.Minutes()),
		)
		d.metrics.RecordRateLimited()
		return model.NotificationResult{
			Channel: model.ChannelAll,
			Error:   rateLimitedMessage,
		}, true
	}

	return model.NotificationResult{}, false
}

// send は1チャネルへ送信する。エラーとpanicは失敗結果に変換する。
func (d *Dispatcher) send(ctx context.Context, ch model.Channel, contact *model.UserContact, content Content) (result model.NotificationResult) {
	result.Channel = ch

	defer func() {
		if rec := recover(); rec != nil {
			err := model.NewChannelDeliveryError(ch, fmt.Errorf("panic: %v", rec))
			d.logger.Error("通知チャネルでpanicが発生しました",
				slog.String("channel", string(ch)),
				slog.String("user_id", contact.UserID),
				slog.String("error", err.Error()),
			)
			result = model.NotificationResult{Channel: ch, Error: err.Error()}
		}
	}()

	sender, ok := d.senders[ch]
	if !ok {
		result.Error = fmt.Sprintf("unsupported channel: %s", ch)
		return result
	}

	messageID, err := sender.Send(ctx, contact, content)
	if err != nil {
		derr := model.NewChannelDeliveryError(ch, err)
		d.logger.Warn("通知の送信に失敗しました",
			slog.String("channel", string(ch)),
			slog.String("user_id", contact.UserID),
			slog.String("error", derr.Error()),
		)
		result.Error = err.Error()
		return result
	}

	result.Success = true
	result.MessageID = messageID
	return result
}

func (d *Dispatcher) persist(ctx context.Context, alert model.PropertyAlert, r model.NotificationResult, sentAt time.Time) {
	record := &model.NotificationRecord{
		ID:         d.newID(),
		UserID:     alert.UserID,
		PropertyID: alert.PropertyID,
		Channel:    r.Channel,
		Delivered:  r.Success,
		MessageID:  r.MessageID,
		Error:      r.Error,
		SentAt:     sentAt,
	}
	if err := d.records.Create(ctx, record); err != nil {
		d.logger.Error("通知記録の保存に失敗しました",
			slog.String("user_id", alert.UserID),
			slog.String("channel", string(r.Channel)),
			slog.String("error", err.Error()),
		)
	}
}

// userLocks はユーザーIDごとのミューテックス。使われなくなったエントリは削除する。
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// lock はuserIDのロックを取得し、解放する関数を返す。
func (l *userLocks) lock(userID string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*userLock)
	}
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}

// uniqueChannels は重複を除いたチャネルを出現順で返す。
func uniqueChannels(channels []model.Channel) []model.Channel {
	seen := make(map[model.Channel]struct{}, len(channels))
	out := make([]model.Channel, 0, len(channels))
	for _, ch := range channels {
		if _, ok := seen[ch]; ok {
			continue
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	return out
}

func countDelivered(results []model.NotificationResult) int {
	n := 0
	for _, r := range results {
		if r.Success {
			n++
		}
	}
	return n
}
