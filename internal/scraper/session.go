package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/chromedp/chromedp"
	"golang.org/x/net/publicsuffix"

	"github.com/hitoshi/rentwatch/internal/model"
	"github.com/hitoshi/rentwatch/internal/security"
)

const (
	// DefaultNavigationTimeout はページ遷移1回あたりの既定タイムアウト。
	DefaultNavigationTimeout = 30 * time.Second
	// defaultMaxBodySize はHTTPセッションで読み込むレスポンスの上限（5MB）。
	defaultMaxBodySize = 5 * 1024 * 1024
	defaultUserAgent   = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Browser はセッションを生成する。
type Browser interface {
	NewSession(ctx context.Context) (Session, error)
}

// Session はスクレイプ1回分の閲覧セッション（Cookieやタブを保持する）。
type Session interface {
	// Fetch はURLへ遷移し、本文の描画を待ってからページのHTMLを返す。
	// 存在しないページ（404/410）は空文字列を返す。
	Fetch(ctx context.Context, pageURL string) (string, error)
	Close() error
}

// --- ヘッドレスChrome ---

// ChromeBrowser はchromedpでヘッドレスChromeを起動するBrowser。
type ChromeBrowser struct {
	timeout   time.Duration
	headless  bool
	userAgent string
}

// NewChromeBrowser はChromeBrowserを生成する。timeoutが0以下の場合は30秒を使用する。
func NewChromeBrowser(timeout time.Duration, headless bool) *ChromeBrowser {
	if timeout <= 0 {
		timeout = DefaultNavigationTimeout
	}
	return &ChromeBrowser{timeout: timeout, headless: headless, userAgent: defaultUserAgent}
}

// NewSession はChromeプロセスを起動する。
// 最初のRunに渡したコンテキストがブラウザの寿命になるため、起動にはタイムアウト付きのコンテキストを使わず、
// 起動期限とctxのキャンセルはタイマーで監視する。プロセスの寿命はSession.Closeで管理する。
func (b *ChromeBrowser) NewSession(ctx context.Context) (Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(b.userAgent),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	s := &chromeSession{
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
		timeout:       b.timeout,
	}

	abort := func() {
		cancelBrowser()
		cancelAlloc()
	}
	timer := time.AfterFunc(b.timeout, abort)
	stop := context.AfterFunc(ctx, abort)

	// アクションなしのRunでブラウザを起動する
	err := chromedp.Run(browserCtx)
	timerStopped := timer.Stop()
	ctxStopped := stop()
	if err == nil && (!timerStopped || !ctxStopped) {
		// 起動完了と同時に期限切れまたはキャンセルが発生した
		err = fmt.Errorf("browser start interrupted: %w", context.Canceled)
	}
	if err != nil {
		s.Close()
		return nil, model.NewTransientNetworkError("chrome.start", fmt.Errorf("failed to start browser: %w", err))
	}

	return s, nil
}

type chromeSession struct {
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	timeout       time.Duration
}

// Fetch はページごとに新しいタブを開き、body描画後のHTMLを取得する。
func (s *chromeSession) Fetch(ctx context.Context, pageURL string) (string, error) {
	tab, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()

	tabCtx, cancel := context.WithTimeout(tab, s.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", model.NewTransientNetworkError("chrome.fetch "+pageURL, err)
	}
	return html, nil
}

// Close はブラウザとChromeプロセスを終了する。
func (s *chromeSession) Close() error {
	if s.cancelBrowser != nil {
		s.cancelBrowser()
		s.cancelBrowser = nil
	}
	if s.cancelAlloc != nil {
		s.cancelAlloc()
		s.cancelAlloc = nil
	}
	return nil
}

// --- HTTP ---

// HTTPBrowser はJavaScriptを実行せずにHTMLを取得するBrowser。
// セッションごとにCookie Jar付きのSSRF防止クライアントを生成する。
type HTTPBrowser struct {
	guard       security.URLGuard
	newClient   func() *http.Client
	userAgent   string
	maxBodySize int64
}

// NewHTTPBrowser はHTTPBrowserを生成する。timeoutが0以下の場合は30秒を使用する。
func NewHTTPBrowser(guard security.URLGuard, timeout time.Duration) *HTTPBrowser {
	if timeout <= 0 {
		timeout = DefaultNavigationTimeout
	}
	return &HTTPBrowser{
		guard:       guard,
		newClient:   func() *http.Client { return guard.NewSafeClient(timeout) },
		userAgent:   defaultUserAgent,
		maxBodySize: defaultMaxBodySize,
	}
}

// NewSession はCookie Jar付きのクライアントを生成する。
func (b *HTTPBrowser) NewSession(_ context.Context) (Session, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	client := b.newClient()
	client.Jar = jar

	return &httpSession{
		client:      client,
		guard:       b.guard,
		userAgent:   b.userAgent,
		maxBodySize: b.maxBodySize,
	}, nil
}

type httpSession struct {
	client      *http.Client
	guard       security.URLGuard
	userAgent   string
	maxBodySize int64
}

// Fetch はGETでページを取得する。
// 429/5xxを含む2xx以外は一時的なネットワークエラーとして返す。
func (s *httpSession) Fetch(ctx context.Context, pageURL string) (string, error) {
	if s.guard != nil {
		if err := s.guard.ValidateURL(pageURL); err != nil {
			return "", fmt.Errorf("URL validation failed: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "nl-NL,nl;q=0.9,en;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", model.NewTransientNetworkError("http.fetch "+pageURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return "", nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", model.NewTransientNetworkError("http.fetch "+pageURL,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBodySize))
	if err != nil {
		return "", model.NewTransientNetworkError("http.read "+pageURL, err)
	}
	return string(body), nil
}

// Close はアイドル接続を閉じる。
func (s *httpSession) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
