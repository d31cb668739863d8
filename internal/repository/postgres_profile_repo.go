package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/rentwatch/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用した検索条件リポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// ListActiveNotifiable は有効かつ通知が有効な検索条件をすべて返す。
func (r *PostgresProfileRepo) ListActiveNotifiable(ctx context.Context) ([]*model.SearchProfile, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, name, cities, budget_min, budget_max, bedrooms_min,
		        furnished, pets_allowed, keywords, notification_channels,
		        active, notifications_enabled, created_at, updated_at
		 FROM search_profiles
		 WHERE active AND notifications_enabled
		 ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("検索条件一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var profiles []*model.SearchProfile
	for rows.Next() {
		s := &model.SearchProfile{}
		var bedroomsMin sql.NullInt64
		var furnished, petsAllowed sql.NullBool
		var channels []string

		if err := rows.Scan(
			&s.ID, &s.UserID, &s.Name, pq.Array(&s.Cities), &s.BudgetMin, &s.BudgetMax, &bedroomsMin,
			&furnished, &petsAllowed, pq.Array(&s.Keywords), pq.Array(&channels),
			&s.Active, &s.NotificationsEnabled, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("検索条件のスキャンに失敗しました: %w", err)
		}

		if bedroomsMin.Valid {
			s.BedroomsMin = model.IntPtr(int(bedroomsMin.Int64))
		}
		s.Furnished = nullBoolPtr(furnished)
		s.PetsAllowed = nullBoolPtr(petsAllowed)
		// 未知のチャネル名もそのまま渡し、送信時に失敗として記録する
		for _, c := range channels {
			s.NotificationChannels = append(s.NotificationChannels, model.Channel(c))
		}

		profiles = append(profiles, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("検索条件一覧の読み取りに失敗しました: %w", err)
	}

	return profiles, nil
}
