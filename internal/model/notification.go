package model

import "time"

// Channel は通知チャネルを表す。
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
	ChannelChat  Channel = "chat"
	// ChannelAll はレート制限などバッチ全体に対する結果にのみ使用する。
	ChannelAll Channel = "all"
)

// ParseChannel は文字列をChannelに変換する。未知の値の場合はfalseを返す。
func ParseChannel(s string) (Channel, bool) {
	switch Channel(s) {
	case ChannelEmail, ChannelPush, ChannelSMS, ChannelChat:
		return Channel(s), true
	default:
		return "", false
	}
}

// PropertyAlert は1件のマッチに対する通知要求を表す。
type PropertyAlert struct {
	UserID     string
	PropertyID string
	Property   *Property
	MatchScore int
	Channels   []Channel
}

// NotificationResult は1チャネルへの送信結果を表す。
type NotificationResult struct {
	Channel   Channel
	Success   bool
	MessageID string
	Error     string
}

// NotificationRecord は送信試行の監査ログを表す。追記のみ。
// 直近1時間の件数がユーザーごとのレート制限に使用される。
type NotificationRecord struct {
	ID         string
	UserID     string
	PropertyID string
	Channel    Channel
	Delivered  bool
	MessageID  string
	Error      string
	SentAt     time.Time
}
