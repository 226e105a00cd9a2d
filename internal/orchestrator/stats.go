package orchestrator

import (
	"math"
	"sort"

	"github.com/dealmungchi/snipedeal/internal/model"
)

// ComputeStatistics aggregates one cycle's listings. Listings without a
// usable price count as ignored and are left out of every price figure.
func ComputeStatistics(listings []model.Listing) model.Statistics {
	var (
		st                          model.Statistics
		all, availPrices, soldPrice []float64
	)
	st.Total = len(listings)

	for _, l := range listings {
		if !l.Price.Usable() {
			st.Ignored++
			continue
		}
		v, _ := l.Price.Value()
		all = append(all, v)
		if l.Sold {
			st.Sold++
			soldPrice = append(soldPrice, v)
		} else {
			st.Available++
			availPrices = append(availPrices, v)
		}
	}

	if st.Total > 0 {
		st.IgnoredPercent = round2(float64(st.Ignored) / float64(st.Total) * 100)
	}
	if valid := st.Available + st.Sold; valid > 0 {
		st.SellThroughRate = round2(float64(st.Sold) / float64(valid) * 100)
	}
	st.Overall = summarize(all)
	st.AvailablePrices = summarize(availPrices)
	st.SoldPrices = summarize(soldPrice)
	return st
}

func summarize(prices []float64) model.PriceSummary {
	if len(prices) == 0 {
		return model.PriceSummary{}
	}
	sorted := append([]float64(nil), prices...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, p := range sorted {
		sum += p
	}

	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	return model.PriceSummary{
		Count:  n,
		Min:    round2(sorted[0]),
		Avg:    round2(sum / float64(n)),
		Median: round2(median),
		Max:    round2(sorted[n-1]),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
