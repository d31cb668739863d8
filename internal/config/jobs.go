package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 既定のジョブ設定。
const (
	DefaultJobInterval = 30 * time.Minute
	DefaultMaxPages    = 3
)

// JobsFile はスクレイプ対象を定義するYAMLファイルの内容。
//
//	defaults:
//	  interval: 30m
//	  max_pages: 3
//	jobs:
//	  - source: pararius
//	    city: amsterdam
//	feeds:
//	  - name: huurstunt
//	    url: https://www.huurstunt.nl/rss/{city}
type JobsFile struct {
	Defaults JobDefaults `mapstructure:"defaults"`
	Jobs     []JobEntry  `mapstructure:"jobs" validate:"required,min=1,dive"`
	Feeds    []FeedEntry `mapstructure:"feeds" validate:"dive"`
}

// JobDefaults は各ジョブで省略された値の既定値。
type JobDefaults struct {
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
	MaxPages int           `mapstructure:"max_pages" validate:"gte=0,lte=50"`
}

// JobEntry は1組の(source, city)の定期スクレイプ。
type JobEntry struct {
	Source   string        `mapstructure:"source" validate:"required"`
	City     string        `mapstructure:"city" validate:"required"`
	MaxPages int           `mapstructure:"max_pages" validate:"gte=0,lte=50"`
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
}

// FeedEntry はRSS/Atomで物件を配信するソース。URLの{city}は都市名に置き換えられる。
type FeedEntry struct {
	Name string `mapstructure:"name" validate:"required,lowercase"`
	URL  string `mapstructure:"url" validate:"required,url"`
}

// LoadJobs はYAMLファイルを読み込み、既定値を補完して検証する。
func LoadJobs(path string) (*JobsFile, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("defaults.interval", DefaultJobInterval.String())
	v.SetDefault("defaults.max_pages", DefaultMaxPages)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("ジョブ定義の読み込みに失敗しました: %w", err)
	}

	var f JobsFile
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("ジョブ定義の解析に失敗しました: %w", err)
	}

	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("ジョブ定義が不正です: %w", err)
	}
	if err := f.normalize(); err != nil {
		return nil, err
	}

	return &f, nil
}

// normalize は既定値を補完し、重複と{city}の欠落を検出する。
func (f *JobsFile) normalize() error {
	if f.Defaults.Interval <= 0 {
		f.Defaults.Interval = DefaultJobInterval
	}
	if f.Defaults.MaxPages <= 0 {
		f.Defaults.MaxPages = DefaultMaxPages
	}

	seen := make(map[string]bool, len(f.Jobs))
	for i := range f.Jobs {
		j := &f.Jobs[i]
		j.Source = strings.ToLower(strings.TrimSpace(j.Source))
		j.City = strings.ToLower(strings.TrimSpace(j.City))
		if j.Interval <= 0 {
			j.Interval = f.Defaults.Interval
		}
		if j.MaxPages <= 0 {
			j.MaxPages = f.Defaults.MaxPages
		}

		key := j.Source + "/" + j.City
		if seen[key] {
			return fmt.Errorf("ジョブが重複しています: %s", key)
		}
		seen[key] = true
	}

	for _, feed := range f.Feeds {
		if !strings.Contains(feed.URL, "{city}") {
			return fmt.Errorf("フィード %s のURLに{city}が含まれていません", feed.Name)
		}
	}
	return nil
}
