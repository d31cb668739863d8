package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/rentwatch/internal/model"
)

// KamernetParser はkamernet.nlの部屋・スタジオ一覧を解析する。
// 個人の貸主が多く、貸主種別は既定でprivateとする。
type KamernetParser struct {
	BaseURL string
}

// NewKamernetParser はKamernetParserを生成する。
func NewKamernetParser() *KamernetParser {
	return &KamernetParser{BaseURL: "https://kamernet.nl"}
}

func (p *KamernetParser) Source() string { return "kamernet" }

func (p *KamernetParser) CardSelector() string { return "a.listing-card" }

func (p *KamernetParser) PageURL(city string, page int) string {
	u := fmt.Sprintf("%s/en/for-rent/properties-%s", p.BaseURL, url.PathEscape(city))
	if page > 1 {
		u += fmt.Sprintf("?pageNo=%d", page)
	}
	return u
}

// ParseCard はカード1枚を解析する。外部IDは詳細URL末尾 "room-2215432" のハイフン以降。
func (p *KamernetParser) ParseCard(card *goquery.Selection, pageURL, city string) (model.ScrapedListing, error) {
	href, ok := card.Attr("href")
	if !ok {
		return model.ScrapedListing{}, errors.New("card link not found")
	}
	detailURL := ResolveURL(pageURL, href)

	externalID := ""
	if u, err := url.Parse(detailURL); err == nil {
		last := path.Base(u.Path)
		if i := strings.LastIndex(last, "-"); i >= 0 {
			externalID = last[i+1:]
		}
	}

	title := cleanText(card.Find(".listing-card__title").Text())
	details := cleanText(card.Find(".listing-card__details").Text())
	text := title + " " + details

	var photos []string
	if src, ok := card.Find("img").First().Attr("src"); ok && src != "" {
		photos = append(photos, ResolveURL(pageURL, src))
	}

	landlord := model.LandlordTypePrivate
	if card.Find(".listing-card__agency").Length() > 0 {
		landlord = model.LandlordTypeAgency
	}

	return model.ScrapedListing{
		ExternalID:   externalID,
		SourceURL:    detailURL,
		Title:        title,
		Description:  details,
		City:         city,
		Neighborhood: cleanText(card.Find(".listing-card__location").Text()),
		Price:        ParsePrice(card.Find(".listing-card__price").Text()),
		Bedrooms:     ParseFirstInt(card.Find(".listing-card__rooms").Text()),
		SquareMeters: ParseFirstInt(card.Find(".listing-card__surface").Text()),
		Photos:       photos,
		LandlordType: landlord,
		PropertyType: InferPropertyType(title),
		Furnished:    InferFurnished(text),
		PetsAllowed:  InferPetsAllowed(text),
	}, nil
}
