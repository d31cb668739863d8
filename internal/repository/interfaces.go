// Package repository はデータ永続化のインターフェースとPostgreSQL実装を定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/rentwatch/internal/model"
)

// ErrDuplicateKey は一意キーが既に存在する場合に返される。
var ErrDuplicateKey = errors.New("一意キーが既に存在します")

// PropertyRepository は正規化済み物件の永続化インターフェース。
type PropertyRepository interface {
	// FindByKey は(source, external_id)で物件を検索する。見つからない場合はnilを返す。
	FindByKey(ctx context.Context, source, externalID string) (*model.Property, error)

	// Insert は物件を作成する。
	// 同じ(source, external_id)が既に存在する場合はErrDuplicateKeyを返す。
	Insert(ctx context.Context, property *model.Property) error

	// Update は物件の可変項目とlast_checked_at、is_activeを更新する。
	Update(ctx context.Context, property *model.Property) error
}

// ProfileRepository は検索条件の読み取りインターフェース。
type ProfileRepository interface {
	// ListActiveNotifiable は有効かつ通知が有効な検索条件をすべて返す。
	ListActiveNotifiable(ctx context.Context) ([]*model.SearchProfile, error)
}

// MatchRepository はマッチ記録の永続化インターフェース。
type MatchRepository interface {
	// Create はマッチを作成する。
	// 同じ(property_id, search_profile_id)が既に存在する場合は何もせずfalseを返す。
	Create(ctx context.Context, match *model.PropertyMatch) (bool, error)
}

// NotificationRepository は通知記録の永続化インターフェース。
type NotificationRepository interface {
	// Create は通知記録を1件追加する。
	Create(ctx context.Context, record *model.NotificationRecord) error

	// CountByUserSince はsince以降にユーザーへ記録された通知の件数を返す。
	// 送信失敗も件数に含まれる。
	CountByUserSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// UserRepository はユーザー連絡先の読み取りインターフェース。
type UserRepository interface {
	// FindContact は指定ユーザーの連絡先を取得する。見つからない場合はnilを返す。
	FindContact(ctx context.Context, userID string) (*model.UserContact, error)
}
