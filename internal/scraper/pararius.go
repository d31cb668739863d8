package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/rentwatch/internal/model"
)

// ParariusParser はpararius.comの賃貸一覧ページを解析する。
type ParariusParser struct {
	BaseURL string
}

// NewParariusParser はParariusParserを生成する。
func NewParariusParser() *ParariusParser {
	return &ParariusParser{BaseURL: "https://www.pararius.com"}
}

func (p *ParariusParser) Source() string { return "pararius" }

func (p *ParariusParser) CardSelector() string { return "li.search-list__item--listing" }

// PageURL は /apartments/{city}、2ページ目以降は /apartments/{city}/page-{n} を返す。
func (p *ParariusParser) PageURL(city string, page int) string {
	u := fmt.Sprintf("%s/apartments/%s", p.BaseURL, url.PathEscape(city))
	if page > 1 {
		u += fmt.Sprintf("/page-%d", page)
	}
	return u
}

// ParseCard は物件カードを解析する。
// 外部IDは詳細URL /apartment-for-rent/{city}/{id}/{street} の3番目のセグメント。
func (p *ParariusParser) ParseCard(card *goquery.Selection, pageURL, city string) (model.ScrapedListing, error) {
	link := card.Find("a.listing-search-item__link--title").First()
	href, ok := link.Attr("href")
	if !ok {
		return model.ScrapedListing{}, errors.New("title link not found")
	}
	detailURL := ResolveURL(pageURL, href)

	externalID := ""
	if u, err := url.Parse(detailURL); err == nil {
		segs := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(segs) >= 3 {
			externalID = segs[2]
		}
	}

	title := cleanText(link.Text())
	description := cleanText(card.Find(".listing-search-item__description").Text())
	agency := cleanText(card.Find(".listing-search-item__info a").Text())
	features := title + " " + description + " " + cleanText(card.Find(".illustrated-features").Text())

	var photos []string
	card.Find("img.picture__image").Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok && src != "" {
			photos = append(photos, ResolveURL(pageURL, src))
		}
	})

	return model.ScrapedListing{
		ExternalID:   externalID,
		SourceURL:    detailURL,
		Title:        title,
		Description:  description,
		City:         city,
		Neighborhood: cleanText(card.Find(".listing-search-item__sub-title").Text()),
		Price:        ParsePrice(card.Find(".listing-search-item__price").Text()),
		Bedrooms:     ParseFirstInt(card.Find(".illustrated-features__item--number-of-rooms").Text()),
		SquareMeters: ParseFirstInt(card.Find(".illustrated-features__item--surface-area").Text()),
		Photos:       photos,
		LandlordType: InferLandlordType(agency, description),
		PropertyType: InferPropertyType(title),
		Furnished:    InferFurnished(features),
		PetsAllowed:  InferPetsAllowed(features),
	}, nil
}
