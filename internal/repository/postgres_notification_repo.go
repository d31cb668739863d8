package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/rentwatch/internal/model"
)

// PostgresNotificationRepo はPostgreSQLを使用した通知記録リポジトリ。
type PostgresNotificationRepo struct {
	db *sql.DB
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db *sql.DB) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

// Create は通知記録を1件追加する。
func (r *PostgresNotificationRepo) Create(ctx context.Context, rec *model.NotificationRecord) error {
	var propertyID sql.NullString
	if rec.PropertyID != "" {
		propertyID = sql.NullString{String: rec.PropertyID, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notification_records (id, user_id, property_id, channel, delivered, message_id, error, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.UserID, propertyID, string(rec.Channel), rec.Delivered, rec.MessageID, rec.Error, rec.SentAt,
	)
	if err != nil {
		return fmt.Errorf("通知記録の作成に失敗しました: %w", err)
	}
	return nil
}

// CountByUserSince はsince以降のユーザーの通知記録件数を返す。
func (r *PostgresNotificationRepo) CountByUserSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM notification_records WHERE user_id = $1 AND sent_at >= $2`,
		userID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("通知記録件数の取得に失敗しました: %w", err)
	}
	return count, nil
}
