package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/rentwatch/internal/model"
)

// FeedScraper はRSS/Atomで新着物件を配信するサイト向けのScraper。
// フィードはページ送りを持たないため、1ページ目のみ取得する。
type FeedScraper struct {
	name        string
	urlTemplate string // "{city}" を都市名で置換する
	browser     Browser
	pacer       *Pacer
	logger      *slog.Logger
	session     Session
	reachedEnd  bool
}

// NewFeedScraper はFeedScraperを生成する。
func NewFeedScraper(name, urlTemplate string, browser Browser, pacer *Pacer, logger *slog.Logger) *FeedScraper {
	return &FeedScraper{
		name:        name,
		urlTemplate: urlTemplate,
		browser:     browser,
		pacer:       pacer,
		logger:      logger,
	}
}

func (s *FeedScraper) Name() string { return s.name }

func (s *FeedScraper) Initialize(ctx context.Context) error {
	sess, err := s.browser.NewSession(ctx)
	if err != nil {
		return err
	}
	s.session = sess
	return nil
}

// ReachedEnd はフィードを最後まで解析できたかを返す。フィードは常に全件を含む。
func (s *FeedScraper) ReachedEnd() bool { return s.reachedEnd }

func (s *FeedScraper) Cleanup() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Close()
	s.session = nil
	return err
}

// FeedURL は都市名を埋め込んだフィードURLを返す。
func (s *FeedScraper) FeedURL(city string) string {
	return strings.ReplaceAll(s.urlTemplate, "{city}", url.QueryEscape(city))
}

// ScrapeListings はフィードを取得して各エントリを物件に変換する。
func (s *FeedScraper) ScrapeListings(ctx context.Context, opts Options) ([]model.ScrapedListing, error) {
	s.reachedEnd = false
	if s.session == nil {
		return nil, errors.New("scraper is not initialized")
	}

	city := NormalizeCity(opts.City)
	feedURL := s.FeedURL(city)

	if err := s.pacer.WaitTurn(ctx); err != nil {
		return nil, err
	}
	body, err := s.session.Fetch(ctx, feedURL)
	if err != nil {
		return nil, err
	}
	if err := s.pacer.Jitter(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(body) == "" {
		// 404等でフィード自体が得られない場合は末尾に到達したとはみなさない
		return nil, nil
	}

	feed, err := gofeed.NewParser().ParseString(body)
	if err != nil {
		return nil, model.NewParseError(s.name+".feed", err)
	}

	listings := make([]model.ScrapedListing, 0, len(feed.Items))
	for i, item := range feed.Items {
		listing, err := s.convertItem(item, feedURL, city)
		if err != nil {
			s.logger.Warn("フィードエントリの変換に失敗したためスキップします",
				slog.String("source", s.name),
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
			continue
		}
		listings = append(listings, listing)
	}

	s.reachedEnd = true
	s.logger.Info("フィードを解析しました",
		slog.String("source", s.name),
		slog.String("city", city),
		slog.Int("entries", len(feed.Items)),
		slog.Int("parsed", len(listings)),
	)
	return listings, nil
}

// convertItem はgofeedのエントリを物件に変換する。
// IDはGUID、なければリンクを使用する。
func (s *FeedScraper) convertItem(item *gofeed.Item, feedURL, city string) (model.ScrapedListing, error) {
	if item == nil {
		return model.ScrapedListing{}, model.NewParseError(s.name+".item", errors.New("nil item"))
	}

	externalID := strings.TrimSpace(item.GUID)
	link := strings.TrimSpace(item.Link)
	if externalID == "" {
		externalID = link
	}
	if externalID == "" {
		return model.ScrapedListing{}, model.NewParseError(s.name+".item", fmt.Errorf("entry %q has no guid or link", item.Title))
	}
	if link == "" && (strings.HasPrefix(externalID, "http://") || strings.HasPrefix(externalID, "https://")) {
		link = externalID
	}

	description := item.Description
	if description == "" {
		description = item.Content
	}
	text := item.Title + " " + description

	price := ParsePrice(text)
	if price <= 0 {
		return model.ScrapedListing{}, model.NewParseError(s.name+".item", fmt.Errorf("entry %s has no price", externalID))
	}

	var photos []string
	seen := make(map[string]struct{})
	addPhoto := func(raw string) {
		if raw == "" {
			return
		}
		u := ResolveURL(feedURL, raw)
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		photos = append(photos, u)
	}
	if item.Image != nil {
		addPhoto(item.Image.URL)
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			addPhoto(enc.URL)
		}
	}

	listingCity := city
	if cats := item.Categories; len(cats) > 0 && strings.TrimSpace(cats[0]) != "" {
		listingCity = NormalizeCity(cats[0])
	}

	return model.ScrapedListing{
		Source:       s.name,
		ExternalID:   externalID,
		SourceURL:    ResolveURL(feedURL, link),
		Title:        cleanText(item.Title),
		Description:  description,
		City:         listingCity,
		Price:        price,
		Bedrooms:     ParseFirstInt(extractAfter(text, "bedrooms", "slaapkamers")),
		Photos:       photos,
		LandlordType: InferLandlordType("", text),
		PropertyType: InferPropertyType(item.Title),
		Furnished:    InferFurnished(text),
		PetsAllowed:  InferPetsAllowed(text),
	}, nil
}

// extractAfter は "2 slaapkamers" のように数値の直後にキーワードが続く部分を返す。
// 見つからない場合は空文字列。
func extractAfter(text string, keywords ...string) string {
	fields := strings.Fields(strings.ToLower(text))
	for i := 1; i < len(fields); i++ {
		for _, kw := range keywords {
			if strings.HasPrefix(fields[i], kw) {
				return fields[i-1]
			}
		}
	}
	return ""
}
