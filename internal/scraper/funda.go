package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/rentwatch/internal/model"
)

var fundaIDPattern = regexp.MustCompile(`/(\d{6,})/?$`)

// FundaParser はfunda.nlの賃貸検索結果を解析する。
type FundaParser struct {
	BaseURL string
}

// NewFundaParser はFundaParserを生成する。
func NewFundaParser() *FundaParser {
	return &FundaParser{BaseURL: "https://www.funda.nl"}
}

func (p *FundaParser) Source() string { return "funda" }

func (p *FundaParser) CardSelector() string { return `div[data-test-id="search-result-item"]` }

func (p *FundaParser) PageURL(city string, page int) string {
	q := url.Values{}
	q.Set("selected_area", fmt.Sprintf(`["%s"]`, city))
	if page > 1 {
		q.Set("search_result", fmt.Sprint(page))
	}
	return p.BaseURL + "/zoeken/huur?" + q.Encode()
}

// ParseCard は検索結果1件を解析する。外部IDは詳細URL末尾の数値。
func (p *FundaParser) ParseCard(card *goquery.Selection, pageURL, city string) (model.ScrapedListing, error) {
	href, ok := card.Find(`a[data-test-id="object-image-link"]`).First().Attr("href")
	if !ok {
		return model.ScrapedListing{}, errors.New("object link not found")
	}
	detailURL := ResolveURL(pageURL, href)

	externalID := ""
	if u, err := url.Parse(detailURL); err == nil {
		if m := fundaIDPattern.FindStringSubmatch(u.Path); m != nil {
			externalID = m[1]
		}
	}

	title := cleanText(card.Find(`h2[data-test-id="street-name-house-number"]`).Text())
	agency := cleanText(card.Find(`div[data-test-id="agent-name"]`).Text())
	features := cleanText(card.Find(`ul[data-test-id="kenmerken"]`).Text())

	var photos []string
	card.Find("img").Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok && src != "" {
			photos = append(photos, ResolveURL(pageURL, src))
		}
	})

	var squareMeters, bedrooms int
	card.Find(`ul[data-test-id="kenmerken"] li`).Each(func(_ int, li *goquery.Selection) {
		text := cleanText(li.Text())
		switch kind, _ := li.Attr("data-test-id"); kind {
		case "living-area":
			squareMeters = ParseFirstInt(text)
		case "bedrooms":
			bedrooms = ParseFirstInt(text)
		}
	})

	return model.ScrapedListing{
		ExternalID:   externalID,
		SourceURL:    detailURL,
		Title:        title,
		Description:  features,
		City:         city,
		Neighborhood: cleanText(card.Find(`div[data-test-id="postal-code-city"]`).Text()),
		Price:        ParsePrice(card.Find(`p[data-test-id="price-rent"]`).Text()),
		Bedrooms:     bedrooms,
		SquareMeters: squareMeters,
		Photos:       photos,
		LandlordType: InferLandlordType(agency, features),
		PropertyType: InferPropertyType(title + " " + features),
		Furnished:    InferFurnished(features),
		PetsAllowed:  InferPetsAllowed(features),
	}, nil
}
