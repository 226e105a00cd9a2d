package orchestrator

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/dealmungchi/snipedeal/internal/model"
	"github.com/dealmungchi/snipedeal/internal/price"
)

// product lines used to make demo titles look plausible, matched by keyword
var syntheticVariants = []struct {
	match    string
	variants []string
	low      float64
	high     float64
}{
	{"ps5", []string{"Digital Edition", "Slim", "Standard", "Pro", "Bundle", "Disc Edition"}, 250, 550},
	{"iphone", []string{"Pro Max", "Pro", "Plus", "Mini", "128GB", "256GB"}, 150, 1100},
	{"macbook", []string{"Air M1", "Air M2", "Pro 14", "Pro 16", "Air 13"}, 400, 2200},
	{"nintendo", []string{"Switch", "Switch Lite", "Switch OLED", "3DS", "Wii U"}, 60, 320},
	{"xbox", []string{"One S", "One X", "Series S", "Series X", "Elite"}, 120, 480},
}

var genericVariants = []string{"Base", "Pro", "Ultra", "Lite", "Standard", "Deluxe", "Special Edition"}

var syntheticCities = []string{
	"Milano", "Roma", "Napoli", "Torino", "Bologna", "Firenze", "Palermo", "Genova", "Bari", "Verona",
}

// syntheticListings builds a demo dataset for keyword. The ids carry a
// "synthetic-" prefix so they can never collide with marketplace ids.
func syntheticListings(keyword string, count int, rnd *rand.Rand) []model.Listing {
	variants, low, high := genericVariants, 50.0, 500.0
	lower := strings.ToLower(keyword)
	for _, v := range syntheticVariants {
		if strings.Contains(lower, v.match) {
			variants, low, high = v.variants, v.low, v.high
			break
		}
	}

	out := make([]model.Listing, 0, count)
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("synthetic-%d", 100000+rnd.IntN(900000))
		city := syntheticCities[rnd.IntN(len(syntheticCities))]
		amount := round2(low + rnd.Float64()*(high-low))
		out = append(out, model.Listing{
			ExternalID: id,
			Title:      fmt.Sprintf("%s %s", keyword, variants[rnd.IntN(len(variants))]),
			Price:      price.Of(amount),
			Location:   city,
			Date:       "ID: " + id,
			URL:        "https://www.subito.it/annunci-italia/vendita/usato/" + id + ".htm",
			Sold:       rnd.IntN(4) == 0,
		})
	}
	return out
}
