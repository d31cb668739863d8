package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/hitoshi/rentwatch/internal/model"
)

// Content は1件のアラートに対する各チャネル向けの本文。
type Content struct {
	Subject string
	HTML    string
	Text    string
	Push    PushPayload
}

// PushPayload はプッシュ通知のデータ部。
type PushPayload struct {
	PropertyID  string `json:"propertyId"`
	DeepLinkURL string `json:"deepLinkUrl"`
}

type contentData struct {
	Property   *model.Property
	City       string
	Price      int
	MatchScore int
	DeepLink   string
}

var emailTemplate = htmltemplate.Must(htmltemplate.New("email").Parse(`<!DOCTYPE html>
<html><body style="font-family:sans-serif">
<h2>{{.Property.Title}}</h2>
<p><strong>€{{.Price}}</strong> per month &middot; {{.City}}{{with .Property.Neighborhood}} ({{.}}){{end}}</p>
<ul>
{{- if .Property.Bedrooms}}<li>{{.Property.Bedrooms}} bedrooms</li>{{end}}
{{- if .Property.SquareMeters}}<li>{{.Property.SquareMeters}} m²</li>{{end}}
<li>Match score: {{.MatchScore}}/100</li>
</ul>
{{with .Property.Photos}}<p><img src="{{index . 0}}" alt="" width="480"></p>{{end}}
<p><a href="{{.DeepLink}}">View property</a>{{with .Property.SourceURL}} &middot; <a href="{{.}}">Original listing</a>{{end}}</p>
</body></html>`))

var textTemplate = texttemplate.Must(texttemplate.New("text").Parse(
	`New match ({{.MatchScore}}/100): {{.Property.Title}} - €{{.Price}}/month in {{.City}}` +
		`{{if .Property.Bedrooms}}, {{.Property.Bedrooms}} bedrooms{{end}}` +
		`{{if .Property.SquareMeters}}, {{.Property.SquareMeters}} m²{{end}}` +
		"\n{{.DeepLink}}"))

// ContentBuilder は物件情報から通知本文を組み立てる。
type ContentBuilder struct {
	baseURL string
}

// NewContentBuilder はContentBuilderを生成する。baseURLはディープリンクの基点。
func NewContentBuilder(baseURL string) *ContentBuilder {
	return &ContentBuilder{baseURL: strings.TrimRight(baseURL, "/")}
}

// DeepLink は物件詳細画面へのリンクを返す。
func (b *ContentBuilder) DeepLink(propertyID string) string {
	return fmt.Sprintf("%s/properties/%s", b.baseURL, propertyID)
}

// Build はアラートから全チャネル分の本文を生成する。
func (b *ContentBuilder) Build(alert model.PropertyAlert) (Content, error) {
	p := alert.Property
	if p == nil {
		p = &model.Property{ID: alert.PropertyID}
	}
	data := contentData{
		Property:   p,
		City:       p.City,
		Price:      p.Price,
		MatchScore: alert.MatchScore,
		DeepLink:   b.DeepLink(alert.PropertyID),
	}

	var html, text bytes.Buffer
	if err := emailTemplate.Execute(&html, data); err != nil {
		return Content{}, fmt.Errorf("メール本文の生成に失敗: %w", err)
	}
	if err := textTemplate.Execute(&text, data); err != nil {
		return Content{}, fmt.Errorf("テキスト本文の生成に失敗: %w", err)
	}

	return Content{
		Subject: fmt.Sprintf("New Property Alert: %s - €%d", p.City, p.Price),
		HTML:    html.String(),
		Text:    text.String(),
		Push: PushPayload{
			PropertyID:  alert.PropertyID,
			DeepLinkURL: data.DeepLink,
		},
	}, nil
}
