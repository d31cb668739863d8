package scraper

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/hitoshi/rentwatch/internal/model"
)

var (
	numberPattern   = regexp.MustCompile(`\d[\d.,]*`)
	intPattern      = regexp.MustCompile(`\d+`)
	decimalSuffixRe = regexp.MustCompile(`[.,]\d{1,2}$`)
)

// ParsePrice は "€ 1.500 per maand" や "€1,250.00 /month" から月額のユーロ整数を取り出す。
// 数字が見つからない場合は0を返す。
func ParsePrice(text string) int {
	m := numberPattern.FindString(text)
	if m == "" {
		return 0
	}
	m = strings.TrimRight(m, ".,")
	m = decimalSuffixRe.ReplaceAllString(m, "")
	m = strings.NewReplacer(".", "", ",", "").Replace(m)
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}

// ParseFirstInt は文字列中の最初の整数を返す（"75 m²" → 75）。見つからない場合は0。
func ParseFirstInt(text string) int {
	m := intPattern.FindString(text)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}

// words は小文字化した単語の集合を返す。
// "slaapkamer" のような複合語に "kamer" が部分一致しないよう単語単位で判定する。
func words(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		set[w] = struct{}{}
	}
	return set
}

func hasAny(set map[string]struct{}, candidates ...string) bool {
	for _, c := range candidates {
		if _, ok := set[c]; ok {
			return true
		}
	}
	return false
}

// InferPropertyType はタイトルのキーワードから物件種別を推定する。
func InferPropertyType(title string) model.PropertyType {
	w := words(title)
	switch {
	case hasAny(w, "studio", "studioappartement"):
		return model.PropertyTypeStudio
	case hasAny(w, "kamer", "room", "shared", "onderhuur"):
		return model.PropertyTypeRoom
	case hasAny(w, "appartement", "apartment", "flat", "bovenwoning", "benedenwoning", "penthouse", "maisonnette"):
		return model.PropertyTypeApartment
	case hasAny(w, "huis", "house", "woning", "eengezinswoning", "tussenwoning", "hoekwoning", "villa"):
		return model.PropertyTypeHouse
	default:
		return model.PropertyTypeUnknown
	}
}

// InferFurnished は本文から家具付きかどうかを推定する。判定できない場合はnil。
func InferFurnished(text string) *bool {
	w := words(text)
	switch {
	case hasAny(w, "ongemeubileerd", "unfurnished", "kaal"):
		return model.BoolPtr(false)
	case hasAny(w, "gemeubileerd", "furnished"):
		return model.BoolPtr(true)
	default:
		return nil
	}
}

// InferPetsAllowed は本文からペット可否を推定する。判定できない場合はnil。
func InferPetsAllowed(text string) *bool {
	lower := strings.ToLower(text)
	for _, neg := range []string{"geen huisdieren", "no pets", "pets not allowed", "huisdieren niet toegestaan"} {
		if strings.Contains(lower, neg) {
			return model.BoolPtr(false)
		}
	}
	for _, pos := range []string{"huisdieren toegestaan", "pets allowed", "pet friendly", "huisdieren bespreekbaar"} {
		if strings.Contains(lower, pos) {
			return model.BoolPtr(true)
		}
	}
	return nil
}

// InferLandlordType は仲介業者名や本文から貸主種別を推定する。
func InferLandlordType(agency, text string) model.LandlordType {
	w := words(text)
	switch {
	case hasAny(w, "particulier", "private", "landlord"):
		return model.LandlordTypePrivate
	case strings.TrimSpace(agency) != "" || hasAny(w, "makelaar", "makelaardij", "agency", "vastgoed"):
		return model.LandlordTypeAgency
	default:
		return model.LandlordTypeUnknown
	}
}

// NormalizeCity は都市名を比較用に正規化する。
func NormalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

// ResolveURL はhrefをページURL基準で絶対URLにする。失敗した場合はhrefをそのまま返す。
func ResolveURL(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	h, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return b.ResolveReference(h).String()
}

// cleanText は連続する空白を1つにまとめる。
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
