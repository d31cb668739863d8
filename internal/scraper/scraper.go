// Package scraper は物件掲載サイトのページ取得とカード解析を提供する。
// サイトごとの実装はScraperインターフェースを満たし、Registryから名前で生成される。
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hitoshi/rentwatch/internal/model"
)

// Options はスクレイプ1回分の指定。
type Options struct {
	City     string
	MaxPages int
}

// Scraper は1つの掲載サイトのスクレイパー。
// Initializeで確保したセッションはCleanupで必ず解放する（Runを使うこと）。
type Scraper interface {
	// Name はソース名を返す（例: "pararius"）。
	Name() string
	// Initialize はブラウザセッション等のリソースを確保する。
	Initialize(ctx context.Context) error
	// ScrapeListings は1〜MaxPagesページを順に取得し、カードを解析して返す。
	// カードが0件のページに達した時点でページ送りを終了する。
	ScrapeListings(ctx context.Context, opts Options) ([]model.ScrapedListing, error)
	// Cleanup はInitializeで確保したリソースを解放する。複数回呼ばれても安全であること。
	Cleanup() error
}

// CompletionReporter は直前のScrapeListingsが一覧の末尾まで到達したかを報告する。
// MaxPagesで打ち切られた場合はfalseを返す。
type CompletionReporter interface {
	ReachedEnd() bool
}

// ReachedEnd はsがCompletionReporterを実装し、一覧の末尾まで到達していればtrueを返す。
func ReachedEnd(s Scraper) bool {
	r, ok := s.(CompletionReporter)
	return ok && r.ReachedEnd()
}

// Run はInitialize→ScrapeListings→Cleanupを実行する。
// Cleanupはエラーやpanicを含むすべての経路で呼ばれる。
func Run(ctx context.Context, s Scraper, opts Options, logger *slog.Logger) (listings []model.ScrapedListing, err error) {
	if err := s.Initialize(ctx); err != nil {
		// 途中まで確保されたリソースも解放する
		if cerr := s.Cleanup(); cerr != nil {
			logger.Warn("セッションの解放に失敗しました",
				slog.String("source", s.Name()),
				slog.String("error", cerr.Error()),
			)
		}
		return nil, fmt.Errorf("%s の初期化に失敗: %w", s.Name(), err)
	}
	defer func() {
		if cerr := s.Cleanup(); cerr != nil {
			logger.Warn("セッションの解放に失敗しました",
				slog.String("source", s.Name()),
				slog.String("error", cerr.Error()),
			)
		}
	}()

	return s.ScrapeListings(ctx, opts)
}

// Factory はジョブごとに新しいScraperを生成する。
type Factory func() Scraper

// Registry はソース名からScraperを生成するレジストリ。
// 同一ソースの並行ジョブがセッションを共有しないよう、取得のたびに新しいインスタンスを返す。
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register はソース名にFactoryを登録する。同名の再登録は上書きする。
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New は指定ソースの新しいScraperを返す。
func (r *Registry) New(name string) (Scraper, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown scraper source: %q", name)
	}
	return f(), nil
}

// Names は登録済みのソース名を昇順で返す。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
