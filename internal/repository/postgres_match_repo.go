package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/rentwatch/internal/model"
)

// PostgresMatchRepo はPostgreSQLを使用したマッチ記録リポジトリ。
type PostgresMatchRepo struct {
	db *sql.DB
}

// NewPostgresMatchRepo はPostgresMatchRepoを生成する。
func NewPostgresMatchRepo(db *sql.DB) *PostgresMatchRepo {
	return &PostgresMatchRepo{db: db}
}

// Create はマッチを作成する。既に同じペアが存在する場合はfalseを返す。
func (r *PostgresMatchRepo) Create(ctx context.Context, m *model.PropertyMatch) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO property_matches (id, property_id, search_profile_id, user_id, match_score, matched_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (property_id, search_profile_id) DO NOTHING`,
		m.ID, m.PropertyID, m.SearchProfileID, m.UserID, m.MatchScore, m.MatchedAt,
	)
	if err != nil {
		return false, fmt.Errorf("マッチの作成に失敗しました: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("作成件数の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}
