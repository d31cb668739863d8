package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/rentwatch/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザー連絡先リポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindContact は指定ユーザーの連絡先を取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindContact(ctx context.Context, userID string) (*model.UserContact, error) {
	c := &model.UserContact{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, phone, device_token, chat_id FROM users WHERE id = $1`,
		userID,
	).Scan(&c.UserID, &c.Email, &c.Phone, &c.DeviceToken, &c.ChatID)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザー連絡先の取得に失敗しました: %w", err)
	}
	return c, nil
}
