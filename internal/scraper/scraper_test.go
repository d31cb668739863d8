package scraper

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/hitoshi/rentwatch/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// fakeBrowser はURLごとに固定のHTMLを返すBrowser。
type fakeBrowser struct {
	mu       sync.Mutex
	pages    map[string]string
	errs     map[string]error
	newErr   error
	fetched  []string
	sessions int
	closed   int
}

func (b *fakeBrowser) NewSession(_ context.Context) (Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.newErr != nil {
		return nil, b.newErr
	}
	b.sessions++
	return &fakeSession{b: b}, nil
}

type fakeSession struct {
	b *fakeBrowser
}

func (s *fakeSession) Fetch(_ context.Context, pageURL string) (string, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.fetched = append(s.b.fetched, pageURL)
	if err := s.b.errs[pageURL]; err != nil {
		return "", err
	}
	return s.b.pages[pageURL], nil
}

func (s *fakeSession) Close() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.closed++
	return nil
}

// stubScraper はRunのライフサイクル検証用。
type stubScraper struct {
	initErr   error
	scrapeErr error
	panicMsg  string
	cleanups  int
}

func (s *stubScraper) Name() string { return "stub" }

func (s *stubScraper) Initialize(_ context.Context) error { return s.initErr }

func (s *stubScraper) ScrapeListings(_ context.Context, _ Options) ([]model.ScrapedListing, error) {
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.scrapeErr != nil {
		return nil, s.scrapeErr
	}
	return []model.ScrapedListing{{Source: "stub", ExternalID: "1"}}, nil
}

func (s *stubScraper) Cleanup() error {
	s.cleanups++
	return nil
}

func TestRun_CleanupOnSuccess(t *testing.T) {
	var buf bytes.Buffer
	s := &stubScraper{}

	listings, err := Run(context.Background(), s, Options{City: "amsterdam"}, newTestLogger(&buf))
	if err != nil {
		t.Fatalf("Run がエラーを返した: %v", err)
	}
	if len(listings) != 1 {
		t.Errorf("件数 = %d, want 1", len(listings))
	}
	if s.cleanups != 1 {
		t.Errorf("Cleanup回数 = %d, want 1", s.cleanups)
	}
}

func TestRun_CleanupOnInitializeError(t *testing.T) {
	var buf bytes.Buffer
	s := &stubScraper{initErr: errors.New("chrome not found")}

	_, err := Run(context.Background(), s, Options{}, newTestLogger(&buf))
	if err == nil {
		t.Fatal("初期化失敗時はエラーを返すべき")
	}
	if s.cleanups != 1 {
		t.Errorf("初期化失敗時もCleanupが呼ばれるべき: got %d", s.cleanups)
	}
}

func TestRun_CleanupOnScrapeError(t *testing.T) {
	var buf bytes.Buffer
	s := &stubScraper{scrapeErr: errors.New("timeout")}

	if _, err := Run(context.Background(), s, Options{}, newTestLogger(&buf)); err == nil {
		t.Fatal("スクレイプ失敗時はエラーを返すべき")
	}
	if s.cleanups != 1 {
		t.Errorf("Cleanup回数 = %d, want 1", s.cleanups)
	}
}

func TestRun_CleanupOnPanic(t *testing.T) {
	var buf bytes.Buffer
	s := &stubScraper{panicMsg: "boom"}

	func() {
		defer func() {
			if recover() == nil {
				t.Error("panicは呼び出し元へ伝播するべき")
			}
		}()
		Run(context.Background(), s, Options{}, newTestLogger(&buf))
	}()

	if s.cleanups != 1 {
		t.Errorf("panic時もCleanupが呼ばれるべき: got %d", s.cleanups)
	}
}

func TestRegistry_NewReturnsFreshInstances(t *testing.T) {
	reg := NewRegistry()
	reg.Register("stub", func() Scraper { return &stubScraper{} })

	a, err := reg.New("stub")
	if err != nil {
		t.Fatalf("New がエラーを返した: %v", err)
	}
	b, _ := reg.New("stub")
	if a == b {
		t.Error("New は呼び出しごとに新しいインスタンスを返すべき")
	}

	if _, err := reg.New("unknown"); err == nil {
		t.Error("未登録のソースはエラーになるべき")
	}
}

func TestNewDefaultRegistry_Names(t *testing.T) {
	var buf bytes.Buffer
	reg := NewDefaultRegistry(&fakeBrowser{}, PacingConfig{}, []FeedSource{
		{Name: "huurwoningen", URLTemplate: "https://example.nl/rss/{city}"},
	}, newTestLogger(&buf))

	want := []string{"funda", "huurwoningen", "kamernet", "pararius"}
	got := reg.Names()
	if len(got) != len(want) {
		t.Fatalf("Names = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
