package scraper

import (
	"testing"
	"time"

	"github.com/hitoshi/rentwatch/internal/model"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"€ 1.500 per maand", 1500},
		{"€1,250.00 /month", 1250},
		{"€ 950,-", 950},
		{"€ 1.250,50 p/m", 1250},
		{"Prijs op aanvraag", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := ParsePrice(tt.in); got != tt.want {
			t.Errorf("ParsePrice(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestInferPropertyType(t *testing.T) {
	tests := []struct {
		title string
		want  model.PropertyType
	}{
		{"Studio Oost", model.PropertyTypeStudio},
		{"Kamer in studentenhuis", model.PropertyTypeRoom},
		{"Appartement Jordaan", model.PropertyTypeApartment},
		{"Eengezinswoning met tuin", model.PropertyTypeHouse},
		// "slaapkamer" は "kamer" と判定しない
		{"Bovenwoning met 2 slaapkamers", model.PropertyTypeApartment},
		{"Vrijstaand object", model.PropertyTypeUnknown},
	}
	for _, tt := range tests {
		if got := InferPropertyType(tt.title); got != tt.want {
			t.Errorf("InferPropertyType(%q) = %s, want %s", tt.title, got, tt.want)
		}
	}
}

func TestInferFurnished(t *testing.T) {
	if v := InferFurnished("Ongemeubileerd, met vloer"); v == nil || *v {
		t.Errorf("ongemeubileerd = %v, want false", v)
	}
	if v := InferFurnished("Volledig gemeubileerd"); v == nil || !*v {
		t.Errorf("gemeubileerd = %v, want true", v)
	}
	if v := InferFurnished("Ruim en licht"); v != nil {
		t.Errorf("判定不能の場合はnilであるべき: %v", *v)
	}
}

func TestInferPetsAllowed(t *testing.T) {
	if v := InferPetsAllowed("Geen huisdieren toegestaan"); v == nil || *v {
		t.Errorf("geen huisdieren = %v, want false", v)
	}
	if v := InferPetsAllowed("Pets allowed on request"); v == nil || !*v {
		t.Errorf("pets allowed = %v, want true", v)
	}
	if v := InferPetsAllowed("Balkon op het zuiden"); v != nil {
		t.Errorf("判定不能の場合はnilであるべき: %v", *v)
	}
}

func TestInferLandlordType(t *testing.T) {
	if got := InferLandlordType("", "Verhuur door particulier"); got != model.LandlordTypePrivate {
		t.Errorf("particulier = %s, want private", got)
	}
	if got := InferLandlordType("Vesteda", ""); got != model.LandlordTypeAgency {
		t.Errorf("agency名あり = %s, want agency", got)
	}
	if got := InferLandlordType("", ""); got != model.LandlordTypeUnknown {
		t.Errorf("情報なし = %s, want unknown", got)
	}
}

func TestResolveURL(t *testing.T) {
	got := ResolveURL("https://www.pararius.com/apartments/amsterdam", "/apartment-for-rent/amsterdam/x/y")
	if got != "https://www.pararius.com/apartment-for-rent/amsterdam/x/y" {
		t.Errorf("ResolveURL = %s", got)
	}
	if got := ResolveURL("https://a.nl/", "https://cdn.a.nl/1.jpg"); got != "https://cdn.a.nl/1.jpg" {
		t.Errorf("絶対URLはそのまま返すべき: %s", got)
	}
}

func TestRandomDelay(t *testing.T) {
	lo, hi := 2*time.Second, 5*time.Second
	if got := RandomDelay(lo, hi, 0); got != lo {
		t.Errorf("r=0 → %v, want %v", got, lo)
	}
	if got := RandomDelay(lo, hi, 0.5); got != 3500*time.Millisecond {
		t.Errorf("r=0.5 → %v, want 3.5s", got)
	}
	if got := RandomDelay(hi, lo, 0.9); got != hi {
		t.Errorf("hi<loの場合はloを返すべき: %v", got)
	}
}
