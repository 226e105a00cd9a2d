package extractor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/dealmungchi/snipedeal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nextDataPage = `<html><head>
<script id="__NEXT_DATA__" type="application/json">
{"props":{"pageProps":{"initialState":{"items":{"list":[
  {"item":{"kind":"AdItem","subject":"PlayStation 5 Digital","urn":"id:ad:608241847:list:512345678",
    "date":"2025-03-01 10:15:00","urls":{"default":"https://www.subito.it/console/ps5-milano-512345678.htm"},
    "geo":{"city":{"value":"Milano"},"town":{"value":"Milano Centro"}},
    "features":{"/price":{"values":[{"key":"350","value":"350 €"}]}}}},
  {"item":{"kind":"AdItem","subject":"PS5 con giochi","urn":"id:ad:1:list:777",
    "date":"2025-03-02","urls":{"default":"https://www.subito.it/console/ps5-777.htm"},
    "geo":{"town":{"value":"Rho"}},
    "features":{"/price":{"values":[{"key":"120.5"}]},"/item_sold":{"values":[{"key":"1"}]}}}},
  {"item":{"kind":"AdItem","subject":"Senza prezzo","urn":"id:ad:1:list:888",
    "urls":{"default":"https://www.subito.it/console/x-888.htm"},"geo":{}}},
  {"item":{"kind":"AdPlaceholder","subject":"banner"}},
  {"item":{"kind":"AdItem","subject":"","urn":"id:ad:1:list:999","urls":{"default":"https://x/999.htm"}}},
  {"item":"not an object"}
]}}}}}
</script></head><body></body></html>`

func card(title, price, href, town, date string, sold bool) string {
	var b strings.Builder
	b.WriteString(`<div class="SmallCard-module_card__3hfzu">`)
	if href != "" {
		b.WriteString(`<a class="SmallCard-module_link__hOkzY" href="` + href + `">`)
	}
	if title != "" {
		b.WriteString(`<h2 class="ItemTitle-module_item-title__VuKDo">` + title + `</h2>`)
	}
	if price != "" {
		b.WriteString(`<p class="index-module_price__N7M2x">` + price + `</p>`)
	}
	if town != "" {
		b.WriteString(`<span class="index-module_town__2H3jy">` + town + `</span>`)
	}
	if date != "" {
		b.WriteString(`<span class="index-module_date__Fmf-4">` + date + `</span>`)
	}
	if sold {
		b.WriteString(`<span class="item-sold-badge">Venduto</span>`)
	}
	if href != "" {
		b.WriteString(`</a>`)
	}
	b.WriteString(`</div>`)
	return b.String()
}

func doc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	d, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return d
}

func TestNextDataStrategy(t *testing.T) {
	listings, skipped := NextDataStrategy{}.Extract(doc(t, nextDataPage))

	require.Len(t, listings, 3)
	assert.Equal(t, 3, skipped)

	first := listings[0]
	assert.Equal(t, "512345678", first.ExternalID)
	assert.Equal(t, "PlayStation 5 Digital", first.Title)
	assert.Equal(t, "350 €", first.PriceText)
	assert.Equal(t, "Milano", first.Location)
	assert.Equal(t, "2025-03-01 10:15:00", first.Date)
	assert.Equal(t, "https://www.subito.it/console/ps5-milano-512345678.htm", first.URL)

	second := listings[1]
	assert.Equal(t, "777", second.ExternalID)
	assert.Equal(t, "Rho", second.Location)
	assert.Equal(t, "120,5", second.PriceText)
	assert.True(t, second.Sold)
	assert.False(t, first.Sold)

	third := listings[2]
	assert.Equal(t, "", third.PriceText)
	assert.Equal(t, "N/A", third.Location)
}

func TestNextDataStrategyMissingOrMalformed(t *testing.T) {
	listings, _ := NextDataStrategy{}.Extract(doc(t, `<html><body>nothing</body></html>`))
	assert.Empty(t, listings)

	listings, _ = NextDataStrategy{}.Extract(doc(t, `<script id="__NEXT_DATA__">{not json</script>`))
	assert.Empty(t, listings)
}

func TestMarkupStrategy(t *testing.T) {
	html := `<html><body>` +
		card("iPhone 13", "450 €", "/telefonia/iphone-13-roma-111.htm", "Roma", "Oggi alle 10:00", false) +
		card("iPhone 12", "Trattabile", "https://www.subito.it/telefonia/iphone-12-torino-222.htm", "", "", true) +
		card("", "100 €", "/telefonia/no-title-333.htm", "", "", false) +
		card("No price", "", "/telefonia/no-price-444.htm", "", "", false) +
		card("No link", "5 €", "", "", "", false) +
		`</body></html>`

	m := NewMarkupStrategy(DefaultSelectors())
	listings, skipped := m.Extract(doc(t, html))

	require.Len(t, listings, 2)
	assert.Equal(t, 3, skipped)

	first := listings[0]
	assert.Equal(t, "iphone-13-roma-111", first.ExternalID)
	assert.Equal(t, "iPhone 13", first.Title)
	assert.Equal(t, "450 €", first.PriceText)
	assert.Equal(t, "Roma", first.Location)
	assert.Equal(t, "Oggi alle 10:00", first.Date)
	assert.Equal(t, "https://www.subito.it/telefonia/iphone-13-roma-111.htm", first.URL)
	assert.False(t, first.Sold)

	second := listings[1]
	assert.True(t, second.Sold)
	assert.Equal(t, "Torino", second.Location, "city falls back to the URL slug")
	assert.Equal(t, "ID: iphone-12-torino-222", second.Date)
}

func TestMarkupStrategyVariants(t *testing.T) {
	html := `<div class="items__item">
	  <a href="/x/ps5-555.htm"><h2 class="Old-item-title">PS5</h2></a>
	  <p class="old-price">300 €</p>
	  <span class="index-module_city__2H3jy">Bari</span>
	  <span class="Card-time-xyz">Ieri alle 18:00</span>
	</div>`

	listings, skipped := NewMarkupStrategy(DefaultSelectors()).Extract(doc(t, html))
	require.Len(t, listings, 1)
	assert.Zero(t, skipped)
	assert.Equal(t, "PS5", listings[0].Title)
	assert.Equal(t, "300 €", listings[0].PriceText)
	assert.Equal(t, "Bari", listings[0].Location)
	assert.Equal(t, "Ieri alle 18:00", listings[0].Date)
	assert.Equal(t, "ps5-555", listings[0].ExternalID)
}

func TestChainPrefersJSON(t *testing.T) {
	page := strings.Replace(nextDataPage, "<body></body>",
		"<body>"+card("Markup only", "1 €", "/a-1.htm", "", "", false)+"</body>", 1)

	listings, err := New(DefaultSelectors(), logger.Nop()).Extract([]byte(page))
	require.NoError(t, err)
	require.Len(t, listings, 3)
	assert.Equal(t, "PlayStation 5 Digital", listings[0].Title)
}

func TestChainFallsBackToMarkup(t *testing.T) {
	page := `<html><head><script id="__NEXT_DATA__">{"props":{}}</script></head><body>` +
		card("Markup only", "1 €", "/a-1.htm", "", "", false) + `</body></html>`

	listings, err := New(DefaultSelectors(), logger.Nop()).Extract([]byte(page))
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "Markup only", listings[0].Title)
}

func TestChainEmptyPage(t *testing.T) {
	listings, err := New(DefaultSelectors(), logger.Nop()).Extract([]byte(`<html><body><p>Nessun risultato</p></body></html>`))
	require.NoError(t, err)
	assert.Empty(t, listings)
}

func TestLoadSelectors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selectors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
container: ["article.card"]
title: ["h3.name"]
sold_text: "Sold"
`), 0o644))

	sel, err := LoadSelectors(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"article.card"}, sel.Container)
	assert.Equal(t, []string{"h3.name"}, sel.Title)
	assert.Equal(t, "Sold", sel.SoldText)
	assert.Equal(t, DefaultSelectors().Price, sel.Price)

	_, err = LoadSelectors(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
