package scraper

import (
	"log/slog"
	"time"
)

// PacingConfig はソースごとのPacerに共通の設定。
type PacingConfig struct {
	RequestsPerSecond float64
	MinDelay          time.Duration
	MaxDelay          time.Duration
}

// FeedSource はRSS/Atomソースの名前とURLテンプレート。
type FeedSource struct {
	Name        string
	URLTemplate string
}

// NewDefaultRegistry は組み込みのHTMLソースと指定されたフィードソースを登録したRegistryを返す。
// Pacerはソースごとに1つ生成し、そのソースの全インスタンスで共有する。
func NewDefaultRegistry(browser Browser, pacing PacingConfig, feeds []FeedSource, logger *slog.Logger) *Registry {
	reg := NewRegistry()

	for _, parser := range []CardParser{
		NewParariusParser(),
		NewFundaParser(),
		NewKamernetParser(),
	} {
		pacer := NewPacer(pacing.RequestsPerSecond, pacing.MinDelay, pacing.MaxDelay)
		reg.Register(parser.Source(), func() Scraper {
			return NewHTMLScraper(parser, browser, pacer, logger)
		})
	}

	for _, fs := range feeds {
		pacer := NewPacer(pacing.RequestsPerSecond, pacing.MinDelay, pacing.MaxDelay)
		reg.Register(fs.Name, func() Scraper {
			return NewFeedScraper(fs.Name, fs.URLTemplate, browser, pacer, logger)
		})
	}

	return reg
}
