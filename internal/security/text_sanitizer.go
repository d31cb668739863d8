package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はスクレイプしたHTML断片をプレーンテキストへ変換する。
type TextSanitizer interface {
	// PlainText は全タグを除去し、エンティティを復元し、空白を1つにまとめる。
	PlainText(raw string) string
}

// strictSanitizer はbluemondayのStrictPolicyでタグをすべて除去する。
// Policyはゴルーチンセーフ。
type strictSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *strictSanitizer {
	return &strictSanitizer{policy: bluemonday.StrictPolicy()}
}

// PlainText はタグ除去後のテキストを返す。空入力には空文字列を返す。
func (s *strictSanitizer) PlainText(raw string) string {
	if raw == "" {
		return ""
	}
	// ブロック要素の境界で単語が連結しないよう、タグの前後に空白を入れる
	spaced := strings.NewReplacer("<", " <", ">", "> ").Replace(raw)
	stripped := s.policy.Sanitize(spaced)
	return strings.Join(strings.Fields(html.UnescapeString(stripped)), " ")
}
