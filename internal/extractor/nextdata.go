package extractor

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/dealmungchi/snipedeal/helpers"
	"github.com/dealmungchi/snipedeal/internal/model"
)

// nextData mirrors the path to the listing array inside the page's
// __NEXT_DATA__ application state.
type nextData struct {
	Props struct {
		PageProps struct {
			InitialState struct {
				Items struct {
					List []struct {
						Item json.RawMessage `json:"item"`
					} `json:"list"`
				} `json:"items"`
			} `json:"initialState"`
		} `json:"pageProps"`
	} `json:"props"`
}

type geoValue struct {
	Value string `json:"value"`
}

type featureValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type adItem struct {
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
	URN     string `json:"urn"`
	Date    string `json:"date"`
	Sold    bool   `json:"sold"`
	URLs    struct {
		Default string `json:"default"`
	} `json:"urls"`
	Geo struct {
		City *geoValue `json:"city"`
		Town *geoValue `json:"town"`
	} `json:"geo"`
	Features map[string]struct {
		Values []featureValue `json:"values"`
	} `json:"features"`
}

// NextDataStrategy reads listings from the embedded __NEXT_DATA__ JSON blob
type NextDataStrategy struct{}

// Name implements Strategy
func (NextDataStrategy) Name() string { return "next_data" }

// Extract implements Strategy. A page without the blob, or with a blob that
// does not decode, yields no candidates.
func (s NextDataStrategy) Extract(doc *goquery.Document) ([]model.RawListing, int) {
	script := doc.Find("script#__NEXT_DATA__").First()
	if script.Length() == 0 {
		return nil, 0
	}

	var data nextData
	if err := json.Unmarshal([]byte(script.Text()), &data); err != nil {
		return nil, 0
	}

	var (
		listings []model.RawListing
		skipped  int
	)
	for _, entry := range data.Props.PageProps.InitialState.Items.List {
		raw, ok := s.item(entry.Item)
		if !ok {
			skipped++
			continue
		}
		listings = append(listings, raw)
	}
	return listings, skipped
}

// item decodes one list entry; anything but a complete AdItem is rejected
func (NextDataStrategy) item(data json.RawMessage) (model.RawListing, bool) {
	var ad adItem
	if err := json.Unmarshal(data, &ad); err != nil {
		return model.RawListing{}, false
	}
	if ad.Kind != "AdItem" {
		return model.RawListing{}, false
	}

	title := strings.TrimSpace(ad.Subject)
	link := strings.TrimSpace(ad.URLs.Default)
	if title == "" || link == "" {
		return model.RawListing{}, false
	}

	id := helpers.LastSplitPart(ad.URN, ":")
	if id == "" {
		id = helpers.IDFromURL(link)
	}
	if id == "" {
		return model.RawListing{}, false
	}

	location := "N/A"
	switch {
	case ad.Geo.City != nil && strings.TrimSpace(ad.Geo.City.Value) != "":
		location = strings.TrimSpace(ad.Geo.City.Value)
	case ad.Geo.Town != nil && strings.TrimSpace(ad.Geo.Town.Value) != "":
		location = strings.TrimSpace(ad.Geo.Town.Value)
	}

	return model.RawListing{
		ExternalID: id,
		Title:      title,
		PriceText:  priceText(ad),
		Location:   location,
		Date:       strings.TrimSpace(ad.Date),
		URL:        link,
		Sold:       ad.Sold || soldFeature(ad),
	}, true
}

func soldFeature(ad adItem) bool {
	feature, ok := ad.Features["/item_sold"]
	if !ok || len(feature.Values) == 0 {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(feature.Values[0].Key)) {
	case "1", "true", "si", "yes":
		return true
	}
	return false
}

// priceText prefers the display value ("1.200 €"); the bare key uses a
// decimal point and is rewritten to the display convention.
func priceText(ad adItem) string {
	feature, ok := ad.Features["/price"]
	if !ok || len(feature.Values) == 0 {
		return ""
	}
	v := feature.Values[0]
	if strings.TrimSpace(v.Value) != "" {
		return v.Value
	}
	return strings.Replace(v.Key, ".", ",", 1)
}
