// Package cache はRedisを使用した検索条件キャッシュを提供する。
// 新規物件ごとに全検索条件を読み込むため、DBへの問い合わせをTTLの間まとめる。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/rentwatch/internal/model"
	"github.com/hitoshi/rentwatch/internal/repository"
)

const (
	// activeProfilesKey は有効な検索条件一覧のキャッシュキー。
	activeProfilesKey = "rentwatch:profiles:active_notifiable"
	// defaultTTL はキャッシュの既定有効期間。
	// 検索条件の無効化や通知停止が反映されるまでの最大遅延になる。
	defaultTTL = time.Minute
)

// NewRedisClient はredis:// 形式のURLからクライアントを生成し、疎通を確認する。
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// ProfileCache はProfileRepositoryの読み取り結果をRedisにキャッシュする。
// Redisの障害時はリポジトリの結果をそのまま返す。
type ProfileCache struct {
	client *redis.Client
	repo   repository.ProfileRepository
	ttl    time.Duration
	logger *slog.Logger
}

// NewProfileCache はProfileCacheを生成する。ttlが0以下の場合は1分を使用する。
func NewProfileCache(client *redis.Client, repo repository.ProfileRepository, ttl time.Duration, logger *slog.Logger) *ProfileCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &ProfileCache{
		client: client,
		repo:   repo,
		ttl:    ttl,
		logger: logger,
	}
}

// ListActiveNotifiable はキャッシュ済みの検索条件一覧を返す。
// キャッシュミス時はリポジトリから読み込んで保存する。
// 検索条件の変更はこのプロセスからは通知されないため、無効化・通知停止された検索条件が
// 最大でttlの間マッチング対象に残る。即時に反映する場合は変更側でInvalidateを呼ぶ。
func (c *ProfileCache) ListActiveNotifiable(ctx context.Context) ([]*model.SearchProfile, error) {
	val, err := c.client.Get(ctx, activeProfilesKey).Result()
	switch {
	case err == nil:
		var profiles []*model.SearchProfile
		jsonErr := json.Unmarshal([]byte(val), &profiles)
		if jsonErr == nil {
			return profiles, nil
		}
		c.logger.Warn("検索条件キャッシュの復元に失敗しました",
			slog.String("error", jsonErr.Error()),
		)
	case errors.Is(err, redis.Nil):
		// キャッシュミス
	default:
		c.logger.Warn("検索条件キャッシュの取得に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	profiles, err := c.repo.ListActiveNotifiable(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(profiles)
	if err != nil {
		return profiles, nil
	}
	if err := c.client.Set(ctx, activeProfilesKey, data, c.ttl).Err(); err != nil {
		c.logger.Warn("検索条件キャッシュの保存に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	return profiles, nil
}

// Invalidate はキャッシュを破棄する。
func (c *ProfileCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, activeProfilesKey).Err(); err != nil {
		return fmt.Errorf("検索条件キャッシュの破棄に失敗: %w", err)
	}
	return nil
}
