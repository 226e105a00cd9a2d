package extractor

import (
	"net/url"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/dealmungchi/snipedeal/helpers"
	"github.com/dealmungchi/snipedeal/internal/model"
)

// MarkupStrategy reads listing cards with CSS selectors, trying every known
// class-name variant per field before giving up.
type MarkupStrategy struct {
	Selectors Selectors

	// handler chains per field; the first non-empty result wins
	title    []ElementHandler
	price    []ElementHandler
	link     []ElementHandler
	location []ElementHandler
	date     []ElementHandler
}

// NewMarkupStrategy creates a markup strategy for the given selector variants
func NewMarkupStrategy(sel Selectors) *MarkupStrategy {
	m := &MarkupStrategy{Selectors: sel}
	m.title = []ElementHandler{textHandler(sel.Title, true)}
	m.price = []ElementHandler{textHandler(sel.Price, false)}
	m.link = []ElementHandler{attrHandler(sel.Link, "href")}
	m.location = []ElementHandler{
		textHandler(sel.Location, false),
		m.cityFromLink,
	}
	m.date = []ElementHandler{
		textHandler(sel.Date, false),
		classContainsHandler("span", "date"),
		classContainsHandler("span", "time"),
	}
	return m
}

// Name implements Strategy
func (m *MarkupStrategy) Name() string { return "markup" }

// Extract implements Strategy
func (m *MarkupStrategy) Extract(doc *goquery.Document) ([]model.RawListing, int) {
	var containers *goquery.Selection
	for _, sel := range m.Selectors.Container {
		if found := doc.Find(sel); found.Length() > 0 {
			containers = found
			break
		}
	}
	if containers == nil {
		return nil, 0
	}

	var (
		listings []model.RawListing
		skipped  int
	)
	containers.Each(func(_ int, s *goquery.Selection) {
		raw, ok := m.processListing(s)
		if !ok {
			skipped++
			return
		}
		listings = append(listings, raw)
	})
	return listings, skipped
}

// processListing extracts one card. Title, link and price are required.
func (m *MarkupStrategy) processListing(s *goquery.Selection) (model.RawListing, bool) {
	title := applyHandlers(s, m.title)
	if title == "" {
		return model.RawListing{}, false
	}

	link := applyHandlers(s, m.link)
	if link == "" {
		return model.RawListing{}, false
	}
	link = m.resolveURL(link)

	priceText := applyHandlers(s, m.price)
	if priceText == "" {
		return model.RawListing{}, false
	}

	id := helpers.IDFromURL(link)
	if id == "" {
		return model.RawListing{}, false
	}

	location := applyHandlers(s, m.location)
	if location == "" {
		location = "N/A"
	}

	date := applyHandlers(s, m.date)
	if date == "" {
		date = "ID: " + id
	}

	return model.RawListing{
		ExternalID: id,
		Title:      title,
		PriceText:  priceText,
		Location:   location,
		Date:       date,
		URL:        link,
		Sold:       m.isSold(s),
	}, true
}

func (m *MarkupStrategy) isSold(s *goquery.Selection) bool {
	for _, sel := range m.Selectors.SoldBadge {
		badge := s.Find(sel)
		if badge.Length() > 0 && strings.Contains(badge.Text(), m.Selectors.SoldText) {
			return true
		}
	}
	return false
}

// cityFromLink reads the city out of a slug like ".../ps5-usata-milano-512345678.htm"
func (m *MarkupStrategy) cityFromLink(s *goquery.Selection) string {
	link := applyHandlers(s, m.link)
	slug := helpers.IDFromURL(link)
	parts := strings.Split(slug, "-")
	if len(parts) < 2 || !isDigits(parts[len(parts)-1]) {
		return ""
	}
	city := parts[len(parts)-2]
	if city == "" || isDigits(city) {
		return ""
	}
	runes := []rune(city)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func (m *MarkupStrategy) resolveURL(link string) string {
	if m.Selectors.BaseURL == "" {
		return link
	}
	base, err := url.Parse(m.Selectors.BaseURL)
	if err != nil {
		return link
	}
	ref, err := url.Parse(link)
	if err != nil {
		return link
	}
	return base.ResolveReference(ref).String()
}

// applyHandlers applies handlers in order and returns the first non-empty result
func applyHandlers(s *goquery.Selection, handlers []ElementHandler) string {
	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		if result := handler(s); result != "" {
			return result
		}
	}
	return ""
}

// textHandler returns the trimmed text of the first matching variant.
// With preferTitleAttr the element's title attribute wins over its text.
func textHandler(variants []string, preferTitleAttr bool) ElementHandler {
	return func(s *goquery.Selection) string {
		for _, sel := range variants {
			found := s.Find(sel).First()
			if found.Length() == 0 {
				continue
			}
			if preferTitleAttr {
				if attr, ok := found.Attr("title"); ok && strings.TrimSpace(attr) != "" {
					return strings.TrimSpace(attr)
				}
			}
			if text := strings.TrimSpace(found.Text()); text != "" {
				return text
			}
		}
		return ""
	}
}

func attrHandler(variants []string, attr string) ElementHandler {
	return func(s *goquery.Selection) string {
		for _, sel := range variants {
			if v, ok := s.Find(sel).First().Attr(attr); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}
}

// classContainsHandler matches any tag whose class attribute contains fragment,
// case-insensitively, as a last resort for renamed classes.
func classContainsHandler(tag, fragment string) ElementHandler {
	return func(s *goquery.Selection) string {
		var out string
		s.Find(tag).EachWithBreak(func(_ int, el *goquery.Selection) bool {
			class, _ := el.Attr("class")
			if !strings.Contains(strings.ToLower(class), fragment) {
				return true
			}
			if text := strings.TrimSpace(el.Text()); text != "" {
				out = text
				return false
			}
			return true
		})
		return out
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
