package model

import "time"

// SearchProfile はユーザーが登録した検索条件を表す。
// 任意項目（BedroomsMin, Furnished, PetsAllowed）はnilのとき未指定として扱う。
type SearchProfile struct {
	ID                   string
	UserID               string
	Name                 string
	Cities               []string
	BudgetMin            int
	BudgetMax            int
	BedroomsMin          *int
	Furnished            *bool
	PetsAllowed          *bool
	Keywords             []string
	NotificationChannels []Channel
	Active               bool
	NotificationsEnabled bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// UserContact は通知送信に必要なユーザーの連絡先を表す。
// 各項目は空文字列のとき未登録。
type UserContact struct {
	UserID      string
	Email       string
	Phone       string // E.164形式
	DeviceToken string // SNSプラットフォームエンドポイントARN
	ChatID      string // チャットボットの連携先ID
}

// PropertyMatch は物件と検索条件の一致記録を表す。
// (PropertyID, SearchProfileID) ごとに1件のみ作成される。
type PropertyMatch struct {
	ID              string
	PropertyID      string
	SearchProfileID string
	UserID          string
	MatchScore      int // 0〜100
	MatchedAt       time.Time
}
