package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/rentwatch/internal/model"
)

// CardParser はサイト固有のURL組み立てとカード解析を担う。
type CardParser interface {
	// Source はソース名を返す。
	Source() string
	// PageURL は都市とページ番号（1始まり）から一覧ページのURLを返す。
	PageURL(city string, page int) string
	// CardSelector は一覧ページ内のカード要素のCSSセレクタを返す。
	CardSelector() string
	// ParseCard はカード1枚を解析する。
	ParseCard(card *goquery.Selection, pageURL, city string) (model.ScrapedListing, error)
}

// HTMLScraper はCardParserとBrowserを組み合わせたScraper実装。
type HTMLScraper struct {
	parser  CardParser
	browser Browser
	pacer   *Pacer
	logger  *slog.Logger
	session Session

	reachedEnd bool
}

// NewHTMLScraper はHTMLScraperを生成する。
func NewHTMLScraper(parser CardParser, browser Browser, pacer *Pacer, logger *slog.Logger) *HTMLScraper {
	return &HTMLScraper{
		parser:  parser,
		browser: browser,
		pacer:   pacer,
		logger:  logger,
	}
}

// Name はソース名を返す。
func (s *HTMLScraper) Name() string {
	return s.parser.Source()
}

// Initialize はブラウザセッションを開始する。
func (s *HTMLScraper) Initialize(ctx context.Context) error {
	sess, err := s.browser.NewSession(ctx)
	if err != nil {
		return err
	}
	s.session = sess
	return nil
}

// ReachedEnd は直前の取得がカードのないページで終わったかを返す。
func (s *HTMLScraper) ReachedEnd() bool {
	return s.reachedEnd
}

// Cleanup はセッションを閉じる。
func (s *HTMLScraper) Cleanup() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Close()
	s.session = nil
	return err
}

// ScrapeListings はページを順に取得して全カードを解析する。
// ページ取得の失敗はジョブの失敗として返し、カード単位の失敗はスキップする。
func (s *HTMLScraper) ScrapeListings(ctx context.Context, opts Options) ([]model.ScrapedListing, error) {
	s.reachedEnd = false
	if s.session == nil {
		return nil, errors.New("scraper is not initialized")
	}

	city := NormalizeCity(opts.City)
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}

	var listings []model.ScrapedListing
	for page := 1; page <= maxPages; page++ {
		pageURL := s.parser.PageURL(city, page)

		if err := s.pacer.WaitTurn(ctx); err != nil {
			return nil, err
		}
		html, err := s.session.Fetch(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		if err := s.pacer.Jitter(ctx); err != nil {
			return nil, err
		}

		cards, parsed, err := s.parsePage(html, pageURL, city)
		if err != nil {
			return nil, err
		}
		if cards == 0 {
			s.logger.Info("カードのないページに到達したためページ送りを終了します",
				slog.String("source", s.Name()),
				slog.String("city", city),
				slog.Int("page", page),
			)
			s.reachedEnd = true
			break
		}

		s.logger.Info("ページを解析しました",
			slog.String("source", s.Name()),
			slog.String("city", city),
			slog.Int("page", page),
			slog.Int("cards", cards),
			slog.Int("parsed", len(parsed)),
		)
		listings = append(listings, parsed...)
	}

	return listings, nil
}

// parsePage はページ内のカード数と解析に成功した物件を返す。
func (s *HTMLScraper) parsePage(html, pageURL, city string) (int, []model.ScrapedListing, error) {
	if strings.TrimSpace(html) == "" {
		return 0, nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0, nil, model.NewParseError(s.Name()+".page", err)
	}

	cards := doc.Find(s.parser.CardSelector())
	var parsed []model.ScrapedListing
	cards.Each(func(i int, card *goquery.Selection) {
		listing, err := s.parseCard(card, pageURL, city)
		if err != nil {
			s.logger.Warn("カードの解析に失敗したためスキップします",
				slog.String("source", s.Name()),
				slog.String("page_url", pageURL),
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
			return
		}
		parsed = append(parsed, listing)
	})

	return cards.Length(), parsed, nil
}

// parseCard はカード1枚を解析し、panicもParseErrorに変換する。
func (s *HTMLScraper) parseCard(card *goquery.Selection, pageURL, city string) (listing model.ScrapedListing, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = model.NewParseError(s.Name()+".card", fmt.Errorf("panic: %v", rec))
		}
	}()

	listing, err = s.parser.ParseCard(card, pageURL, city)
	if err != nil {
		return listing, model.NewParseError(s.Name()+".card", err)
	}
	if listing.ExternalID == "" {
		return listing, model.NewParseError(s.Name()+".card", errors.New("missing external id"))
	}
	// 「価格は応相談」等で家賃が読めない物件は予算判定ができないため保存しない
	if listing.Price <= 0 {
		return listing, model.NewParseError(s.Name()+".card", fmt.Errorf("listing %s has no price", listing.ExternalID))
	}

	listing.Source = s.Name()
	if listing.City == "" {
		listing.City = city
	}
	if listing.PropertyType == "" {
		listing.PropertyType = InferPropertyType(listing.Title)
	}
	if listing.LandlordType == "" {
		listing.LandlordType = model.LandlordTypeUnknown
	}
	return listing, nil
}
