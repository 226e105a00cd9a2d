package extractor

import (
	"fmt"
	"os"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v3"

	"github.com/dealmungchi/snipedeal/internal/model"
)

// Extractor turns one fetched page into candidate listings
type Extractor interface {
	Extract(body []byte) ([]model.RawListing, error)
}

// Strategy is one way of reading listings out of a parsed page
type Strategy interface {
	// Name identifies the strategy in logs
	Name() string

	// Extract returns the candidates found and how many were skipped
	Extract(doc *goquery.Document) (listings []model.RawListing, skipped int)
}

// ElementHandler extracts one value from a listing container; "" means not found
type ElementHandler func(*goquery.Selection) string

// Selectors lists CSS selector variants per field, most recent markup first.
// The marketplace renames its generated class names between releases.
type Selectors struct {
	BaseURL   string   `yaml:"base_url"`
	Container []string `yaml:"container"`
	Title     []string `yaml:"title"`
	Price     []string `yaml:"price"`
	Link      []string `yaml:"link"`
	Location  []string `yaml:"location"`
	Date      []string `yaml:"date"`
	SoldBadge []string `yaml:"sold_badge"`
	SoldText  string   `yaml:"sold_text"`
}

// DefaultSelectors returns the known subito.it listing card variants
func DefaultSelectors() Selectors {
	return Selectors{
		BaseURL: "https://www.subito.it",
		Container: []string{
			"div.SmallCard-module_card__3hfzu",
			"div.items__item",
			`div[class*="SmallCard-module_card"]`,
		},
		Title: []string{
			"h2.ItemTitle-module_item-title__VuKDo",
			`h2[class*="item-title"]`,
		},
		Price: []string{
			"p.index-module_price__N7M2x",
			`p[class*="price"]`,
		},
		Link: []string{
			"a.SmallCard-module_link__hOkzY",
			"a[href]",
		},
		Location: []string{
			"span.index-module_town__2H3jy",
			"span.index-module_city__2H3jy",
			"span.index-module_town__nH89d",
		},
		Date: []string{
			"span.index-module_date__Fmf-4",
			"span.index-module_time__Fmf-4",
		},
		SoldBadge: []string{
			"span.item-sold-badge",
		},
		SoldText: "Venduto",
	}
}

// LoadSelectors reads selector overrides from a YAML (or JSON) file.
// Fields left empty in the file keep their default variants.
func LoadSelectors(path string) (Selectors, error) {
	sel := DefaultSelectors()

	data, err := os.ReadFile(path)
	if err != nil {
		return sel, fmt.Errorf("read selectors file: %w", err)
	}

	var override Selectors
	if err := yaml.Unmarshal(data, &override); err != nil {
		return sel, fmt.Errorf("parse selectors file: %w", err)
	}

	if override.BaseURL != "" {
		sel.BaseURL = override.BaseURL
	}
	mergeVariants(&sel.Container, override.Container)
	mergeVariants(&sel.Title, override.Title)
	mergeVariants(&sel.Price, override.Price)
	mergeVariants(&sel.Link, override.Link)
	mergeVariants(&sel.Location, override.Location)
	mergeVariants(&sel.Date, override.Date)
	mergeVariants(&sel.SoldBadge, override.SoldBadge)
	if override.SoldText != "" {
		sel.SoldText = override.SoldText
	}
	return sel, nil
}

func mergeVariants(dst *[]string, override []string) {
	if len(override) > 0 {
		*dst = override
	}
}
