// Package model はドメインモデルを定義する。
package model

import "time"

// PropertyType は物件種別を表す。
type PropertyType string

const (
	PropertyTypeApartment PropertyType = "apartment"
	PropertyTypeStudio    PropertyType = "studio"
	PropertyTypeRoom      PropertyType = "room"
	PropertyTypeHouse     PropertyType = "house"
	PropertyTypeUnknown   PropertyType = "unknown"
)

// LandlordType は貸主の種別を表す。
type LandlordType string

const (
	LandlordTypeAgency  LandlordType = "agency"
	LandlordTypePrivate LandlordType = "private"
	LandlordTypeUnknown LandlordType = "unknown"
)

// Property は正規化済みの物件を表す。
// (Source, ExternalID) で一意であり、物理削除はされず IsActive で無効化される。
type Property struct {
	ID            string
	Source        string
	ExternalID    string
	SourceURL     string
	Title         string
	Description   string // タグ除去済みのプレーンテキスト
	City          string
	Neighborhood  string
	Price         int // ユーロ/月
	Bedrooms      int
	SquareMeters  int
	Photos        []string
	LandlordType  LandlordType
	PropertyType  PropertyType
	Furnished     *bool
	PetsAllowed   *bool
	IsActive      bool
	ScrapedAt     time.Time
	LastCheckedAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ScrapedListing はスクレイパーが1枚のカードから取り出した未保存の物件データを表す。
// 直接永続化されることはなく、UpsertServiceに渡されてPropertyへ反映される。
type ScrapedListing struct {
	Source       string
	ExternalID   string
	SourceURL    string
	Title        string
	Description  string
	City         string
	Neighborhood string
	Price        int
	Bedrooms     int
	SquareMeters int
	Photos       []string
	LandlordType LandlordType
	PropertyType PropertyType
	Furnished    *bool
	PetsAllowed  *bool
}

// BoolPtr はbool値のポインタを返す。
func BoolPtr(v bool) *bool {
	return &v
}

// IntPtr はint値のポインタを返す。
func IntPtr(v int) *int {
	return &v
}
