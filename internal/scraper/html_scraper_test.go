package scraper

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/rentwatch/internal/model"
)

const parariusPage1 = `<html><body><ul class="search-list">
<li class="search-list__item search-list__item--listing">
  <h2><a class="listing-search-item__link listing-search-item__link--title"
         href="/apartment-for-rent/amsterdam/abc123/keizersgracht">Appartement Keizersgracht</a></h2>
  <div class="listing-search-item__sub-title">1015 AB Amsterdam (Grachtengordel)</div>
  <div class="listing-search-item__price">€ 1.850 per month</div>
  <ul class="illustrated-features">
    <li class="illustrated-features__item illustrated-features__item--surface-area">70 m²</li>
    <li class="illustrated-features__item illustrated-features__item--number-of-rooms">3 rooms</li>
    <li class="illustrated-features__item">Furnished</li>
  </ul>
  <div class="listing-search-item__info"><a href="/makelaar/abc">Rental Agency BV</a></div>
  <img class="picture__image" src="https://casco.pararius.com/1.jpg">
</li>
<li class="search-list__item search-list__item--listing">
  <div class="listing-search-item__price">€ 900</div>
</li>
</ul></body></html>`

const emptyResultsPage = `<html><body><ul class="search-list"></ul></body></html>`

func newParariusScraper(b *fakeBrowser) (*HTMLScraper, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewHTMLScraper(NewParariusParser(), b, NewPacer(0, 0, 0), newTestLogger(&buf)), &buf
}

func TestHTMLScraper_ParsesCardsAndStopsOnEmptyPage(t *testing.T) {
	b := &fakeBrowser{pages: map[string]string{
		"https://www.pararius.com/apartments/amsterdam":        parariusPage1,
		"https://www.pararius.com/apartments/amsterdam/page-2": emptyResultsPage,
	}}
	s, _ := newParariusScraper(b)

	listings, err := Run(context.Background(), s, Options{City: "Amsterdam", MaxPages: 5}, newTestLogger(&bytes.Buffer{}))
	if err != nil {
		t.Fatalf("Run がエラーを返した: %v", err)
	}

	if len(b.fetched) != 2 {
		t.Errorf("取得ページ数 = %d, want 2 (空ページで停止): %v", len(b.fetched), b.fetched)
	}
	if b.closed != 1 {
		t.Errorf("セッションのClose回数 = %d, want 1", b.closed)
	}

	// 2枚目のカードはリンクがないためスキップされる
	if len(listings) != 1 {
		t.Fatalf("件数 = %d, want 1", len(listings))
	}
	l := listings[0]
	if l.Source != "pararius" {
		t.Errorf("Source = %s, want pararius", l.Source)
	}
	if l.ExternalID != "abc123" {
		t.Errorf("ExternalID = %s, want abc123", l.ExternalID)
	}
	if l.SourceURL != "https://www.pararius.com/apartment-for-rent/amsterdam/abc123/keizersgracht" {
		t.Errorf("SourceURL = %s", l.SourceURL)
	}
	if l.City != "amsterdam" {
		t.Errorf("City = %s, want amsterdam", l.City)
	}
	if l.Price != 1850 {
		t.Errorf("Price = %d, want 1850", l.Price)
	}
	if l.SquareMeters != 70 || l.Bedrooms != 3 {
		t.Errorf("SquareMeters/Bedrooms = %d/%d, want 70/3", l.SquareMeters, l.Bedrooms)
	}
	if l.PropertyType != model.PropertyTypeApartment {
		t.Errorf("PropertyType = %s, want apartment", l.PropertyType)
	}
	if l.LandlordType != model.LandlordTypeAgency {
		t.Errorf("LandlordType = %s, want agency", l.LandlordType)
	}
	if l.Furnished == nil || !*l.Furnished {
		t.Errorf("Furnished = %v, want true", l.Furnished)
	}
	if len(l.Photos) != 1 {
		t.Errorf("Photos = %v, want 1件", l.Photos)
	}
}

func TestHTMLScraper_FirstPageEmpty(t *testing.T) {
	b := &fakeBrowser{pages: map[string]string{
		"https://www.pararius.com/apartments/utrecht": emptyResultsPage,
	}}
	s, _ := newParariusScraper(b)

	listings, err := Run(context.Background(), s, Options{City: "utrecht", MaxPages: 3}, newTestLogger(&bytes.Buffer{}))
	if err != nil {
		t.Fatalf("Run がエラーを返した: %v", err)
	}
	if len(listings) != 0 {
		t.Errorf("件数 = %d, want 0", len(listings))
	}
	if len(b.fetched) != 1 {
		t.Errorf("取得ページ数 = %d, want 1", len(b.fetched))
	}
}

func TestHTMLScraper_MaxPagesBound(t *testing.T) {
	b := &fakeBrowser{pages: map[string]string{
		"https://www.pararius.com/apartments/amsterdam":        parariusPage1,
		"https://www.pararius.com/apartments/amsterdam/page-2": parariusPage1,
	}}
	s, _ := newParariusScraper(b)

	listings, err := Run(context.Background(), s, Options{City: "amsterdam", MaxPages: 2}, newTestLogger(&bytes.Buffer{}))
	if err != nil {
		t.Fatalf("Run がエラーを返した: %v", err)
	}
	if len(b.fetched) != 2 {
		t.Errorf("取得ページ数 = %d, want 2", len(b.fetched))
	}
	if len(listings) != 2 {
		t.Errorf("件数 = %d, want 2", len(listings))
	}
}

func TestHTMLScraper_FetchErrorFailsJob(t *testing.T) {
	fetchErr := model.NewTransientNetworkError("http.fetch", errors.New("timeout"))
	b := &fakeBrowser{errs: map[string]error{
		"https://www.pararius.com/apartments/amsterdam": fetchErr,
	}}
	s, _ := newParariusScraper(b)

	_, err := Run(context.Background(), s, Options{City: "amsterdam", MaxPages: 1}, newTestLogger(&bytes.Buffer{}))
	if !errors.Is(err, model.ErrTransientNetwork) {
		t.Errorf("エラー種別 = %v, want TRANSIENT_NETWORK", err)
	}
	if b.closed != 1 {
		t.Errorf("失敗時もセッションが閉じられるべき: closed=%d", b.closed)
	}
}

func TestHTMLScraper_NotInitialized(t *testing.T) {
	s, _ := newParariusScraper(&fakeBrowser{})
	if _, err := s.ScrapeListings(context.Background(), Options{City: "amsterdam"}); err == nil {
		t.Error("未初期化のScrapeListingsはエラーになるべき")
	}
}

func TestParariusParser_PageURL(t *testing.T) {
	p := NewParariusParser()
	if got := p.PageURL("den-haag", 1); got != "https://www.pararius.com/apartments/den-haag" {
		t.Errorf("page1 = %s", got)
	}
	if got := p.PageURL("den-haag", 3); got != "https://www.pararius.com/apartments/den-haag/page-3" {
		t.Errorf("page3 = %s", got)
	}
}

func TestFundaParser_ParseCard(t *testing.T) {
	page := `<html><body>
<div data-test-id="search-result-item">
  <a data-test-id="object-image-link" href="/detail/huur/utrecht/appartement-oudegracht-12/43210987/">
    <img src="https://cloud.funda.nl/valentina_media/1.jpg">
  </a>
  <h2 data-test-id="street-name-house-number">Oudegracht 12</h2>
  <div data-test-id="postal-code-city">3511 AB Utrecht</div>
  <p data-test-id="price-rent">€ 1.450 /maand</p>
  <ul data-test-id="kenmerken">
    <li data-test-id="living-area">55 m²</li>
    <li data-test-id="bedrooms">2</li>
    <li>Gemeubileerd</li>
  </ul>
  <div data-test-id="agent-name">Utrecht Makelaardij</div>
</div>
</body></html>`
	pageURL := NewFundaParser().PageURL("utrecht", 1)
	b := &fakeBrowser{pages: map[string]string{pageURL: page}}
	s := NewHTMLScraper(NewFundaParser(), b, NewPacer(0, 0, 0), newTestLogger(&bytes.Buffer{}))

	listings, err := Run(context.Background(), s, Options{City: "utrecht", MaxPages: 1}, newTestLogger(&bytes.Buffer{}))
	if err != nil {
		t.Fatalf("Run がエラーを返した: %v", err)
	}
	if len(listings) != 1 {
		t.Fatalf("件数 = %d, want 1", len(listings))
	}
	l := listings[0]
	if l.ExternalID != "43210987" {
		t.Errorf("ExternalID = %s, want 43210987", l.ExternalID)
	}
	if l.Price != 1450 || l.Bedrooms != 2 || l.SquareMeters != 55 {
		t.Errorf("Price/Bedrooms/m2 = %d/%d/%d", l.Price, l.Bedrooms, l.SquareMeters)
	}
	if l.LandlordType != model.LandlordTypeAgency {
		t.Errorf("LandlordType = %s, want agency", l.LandlordType)
	}
	if l.Furnished == nil || !*l.Furnished {
		t.Errorf("Furnished = %v, want true", l.Furnished)
	}
}

func TestKamernetParser_ParseCard(t *testing.T) {
	page := `<html><body>
<a class="listing-card" href="/en/for-rent/room-groningen/vismarkt/room-2215432">
  <img src="https://resources.kamernet.nl/image/1.jpg">
  <span class="listing-card__title">Room Vismarkt</span>
  <span class="listing-card__location">Centrum</span>
  <span class="listing-card__price">€ 550</span>
  <span class="listing-card__surface">14 m²</span>
  <span class="listing-card__details">Unfurnished, no pets</span>
</a>
</body></html>`
	pageURL := NewKamernetParser().PageURL("groningen", 1)
	b := &fakeBrowser{pages: map[string]string{pageURL: page}}
	s := NewHTMLScraper(NewKamernetParser(), b, NewPacer(0, 0, 0), newTestLogger(&bytes.Buffer{}))

	listings, err := Run(context.Background(), s, Options{City: "groningen", MaxPages: 1}, newTestLogger(&bytes.Buffer{}))
	if err != nil {
		t.Fatalf("Run がエラーを返した: %v", err)
	}
	if len(listings) != 1 {
		t.Fatalf("件数 = %d, want 1", len(listings))
	}
	l := listings[0]
	if l.ExternalID != "2215432" {
		t.Errorf("ExternalID = %s, want 2215432", l.ExternalID)
	}
	if l.PropertyType != model.PropertyTypeRoom {
		t.Errorf("PropertyType = %s, want room", l.PropertyType)
	}
	if l.LandlordType != model.LandlordTypePrivate {
		t.Errorf("LandlordType = %s, want private", l.LandlordType)
	}
	if l.Furnished == nil || *l.Furnished {
		t.Errorf("Furnished = %v, want false", l.Furnished)
	}
	if l.PetsAllowed == nil || *l.PetsAllowed {
		t.Errorf("PetsAllowed = %v, want false", l.PetsAllowed)
	}
}

// TestHTMLScraper_SkipsCardsWithoutPrice は家賃が読めないカードをスキップし、同じページの他のカードは残ることを検証する。
func TestHTMLScraper_SkipsCardsWithoutPrice(t *testing.T) {
	tests := []struct {
		name   string
		parser CardParser
		city   string
		page   string
		wantID string
	}{
		{
			name:   "pararius",
			parser: NewParariusParser(),
			city:   "amsterdam",
			page: `<html><body><ul class="search-list">
<li class="search-list__item search-list__item--listing">
  <h2><a class="listing-search-item__link listing-search-item__link--title"
         href="/apartment-for-rent/amsterdam/nop111/prinsengracht">Appartement Prinsengracht</a></h2>
  <div class="listing-search-item__price">Prijs op aanvraag</div>
</li>
<li class="search-list__item search-list__item--listing">
  <h2><a class="listing-search-item__link listing-search-item__link--title"
         href="/apartment-for-rent/amsterdam/ok222/herengracht">Appartement Herengracht</a></h2>
  <div class="listing-search-item__price">€ 1.700 per month</div>
</li>
</ul></body></html>`,
			wantID: "ok222",
		},
		{
			name:   "funda",
			parser: NewFundaParser(),
			city:   "utrecht",
			page: `<html><body>
<div data-test-id="search-result-item">
  <a data-test-id="object-image-link" href="/detail/huur/utrecht/appartement-lange-nieuwstraat-3/11111111/"></a>
  <h2 data-test-id="street-name-house-number">Lange Nieuwstraat</h2>
  <p data-test-id="price-rent">Huurprijs op aanvraag</p>
</div>
<div data-test-id="search-result-item">
  <a data-test-id="object-image-link" href="/detail/huur/utrecht/appartement-oudegracht-12/43210987/"></a>
  <h2 data-test-id="street-name-house-number">Oudegracht 12</h2>
  <p data-test-id="price-rent">€ 1.450 /maand</p>
</div>
</body></html>`,
			wantID: "43210987",
		},
		{
			name:   "kamernet",
			parser: NewKamernetParser(),
			city:   "groningen",
			page: `<html><body>
<a class="listing-card" href="/en/for-rent/room-groningen/vismarkt/room-1000001">
  <span class="listing-card__title">Room Vismarkt</span>
  <span class="listing-card__price">Prijs op aanvraag</span>
</a>
<a class="listing-card" href="/en/for-rent/room-groningen/vismarkt/room-2215432">
  <span class="listing-card__title">Room Vismarkt</span>
  <span class="listing-card__price">€ 550</span>
</a>
</body></html>`,
			wantID: "2215432",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			b := &fakeBrowser{pages: map[string]string{tt.parser.PageURL(tt.city, 1): tt.page}}
			s := NewHTMLScraper(tt.parser, b, NewPacer(0, 0, 0), newTestLogger(&buf))

			listings, err := Run(context.Background(), s, Options{City: tt.city, MaxPages: 1}, newTestLogger(&bytes.Buffer{}))
			if err != nil {
				t.Fatalf("Run がエラーを返した: %v", err)
			}
			if len(listings) != 1 {
				t.Fatalf("件数 = %d, want 1 (価格のないカードはスキップ)", len(listings))
			}
			if listings[0].ExternalID != tt.wantID {
				t.Errorf("ExternalID = %s, want %s", listings[0].ExternalID, tt.wantID)
			}
			if listings[0].Price <= 0 {
				t.Errorf("Price = %d, want > 0", listings[0].Price)
			}
			if !bytes.Contains(buf.Bytes(), []byte("has no price")) {
				t.Errorf("スキップ理由がログに出力されていない: %s", buf.String())
			}
		})
	}
}

func TestHTMLScraper_ReachedEnd(t *testing.T) {
	pages := map[string]string{
		"https://www.pararius.com/apartments/amsterdam":        parariusPage1,
		"https://www.pararius.com/apartments/amsterdam/page-2": emptyResultsPage,
	}

	s, _ := newParariusScraper(&fakeBrowser{pages: pages})
	if _, err := Run(context.Background(), s, Options{City: "amsterdam", MaxPages: 5}, newTestLogger(&bytes.Buffer{})); err != nil {
		t.Fatalf("Run がエラーを返した: %v", err)
	}
	if !ReachedEnd(s) {
		t.Error("空ページで終了した場合は末尾到達とみなすべき")
	}

	// MaxPagesで打ち切った場合は一覧の続きが残っている可能性がある
	s, _ = newParariusScraper(&fakeBrowser{pages: pages})
	if _, err := Run(context.Background(), s, Options{City: "amsterdam", MaxPages: 1}, newTestLogger(&bytes.Buffer{})); err != nil {
		t.Fatalf("Run がエラーを返した: %v", err)
	}
	if ReachedEnd(s) {
		t.Error("MaxPagesで打ち切った場合は末尾到達とみなさないべき")
	}
}
