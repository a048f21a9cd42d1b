package listings

import (
	"math"
	"sort"
	"time"

	"github.com/goliatone/go-market-trends/trends"
)

const periodLayout = "2006-01"

func period(t time.Time) string {
	return t.UTC().Format(periodLayout)
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// months returns every period from the month of from through the month of to.
func months(from, to time.Time) []time.Time {
	if to.Before(from) {
		return nil
	}
	var out []time.Time
	for m := monthStart(from); !m.After(to); m = m.AddDate(0, 1, 0) {
		out = append(out, m)
	}
	return out
}

// span returns the earliest listing date and the latest listing or sale date.
func span(rows []*Listing) (time.Time, time.Time, bool) {
	if len(rows) == 0 {
		return time.Time{}, time.Time{}, false
	}
	first, last := rows[0].ListedAt, rows[0].ListedAt
	for _, l := range rows {
		if l.ListedAt.Before(first) {
			first = l.ListedAt
		}
		if l.ListedAt.After(last) {
			last = l.ListedAt
		}
		if l.SoldAt != nil && l.SoldAt.After(last) {
			last = *l.SoldAt
		}
	}
	return first, last, true
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// groupSold buckets sold listings by the month they sold.
func groupSold(rows []*Listing) (map[string][]*Listing, []string) {
	groups := make(map[string][]*Listing)
	for _, l := range rows {
		if !l.Sold() {
			continue
		}
		p := period(*l.SoldAt)
		groups[p] = append(groups[p], l)
	}
	periods := make([]string, 0, len(groups))
	for p := range groups {
		periods = append(periods, p)
	}
	sort.Strings(periods)
	return groups, periods
}

func priceOverview(rows []*Listing) *trends.DimensionResult {
	var listPrices, soldPrices, ratios []float64
	for _, l := range rows {
		listPrices = append(listPrices, l.ListPrice)
		if l.Sold() {
			soldPrices = append(soldPrices, l.SoldPrice)
			if l.ListPrice > 0 {
				ratios = append(ratios, l.SoldPrice/l.ListPrice)
			}
		}
	}

	result := &trends.DimensionResult{
		Summary: map[string]float64{
			"listings":            float64(len(rows)),
			"median_list_price":   round2(median(listPrices)),
			"median_sold_price":   round2(median(soldPrices)),
			"average_list_price":  round2(mean(listPrices)),
			"average_sold_price":  round2(mean(soldPrices)),
			"sale_to_list_ratio":  round2(mean(ratios) * 100),
			"sold_listings_count": float64(len(soldPrices)),
		},
	}

	groups, periods := groupSold(rows)
	for _, p := range periods {
		var list, sold []float64
		for _, l := range groups[p] {
			list = append(list, l.ListPrice)
			sold = append(sold, l.SoldPrice)
		}
		result.Series = append(result.Series,
			trends.SeriesPoint{Period: p, Label: "median_list_price", Value: round2(median(list))},
			trends.SeriesPoint{Period: p, Label: "median_sold_price", Value: round2(median(sold))},
		)
	}
	return result
}

func averageSoldPrice(rows []*Listing) *trends.DimensionResult {
	var all []float64
	result := &trends.DimensionResult{}

	groups, periods := groupSold(rows)
	for _, p := range periods {
		var prices []float64
		for _, l := range groups[p] {
			prices = append(prices, l.SoldPrice)
		}
		all = append(all, prices...)
		result.Series = append(result.Series, trends.SeriesPoint{Period: p, Value: round2(mean(prices))})
	}

	result.Summary = map[string]float64{
		"average_sold_price": round2(mean(all)),
		"sales":              float64(len(all)),
	}
	return result
}

func salesVolumeByType(rows []*Listing) *trends.DimensionResult {
	totals := make(map[string]float64)
	result := &trends.DimensionResult{Summary: totals}

	groups, periods := groupSold(rows)
	for _, p := range periods {
		counts := make(map[string]float64)
		for _, l := range groups[p] {
			counts[l.PropertyType]++
			totals[l.PropertyType]++
		}
		types := make([]string, 0, len(counts))
		for t := range counts {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			result.Series = append(result.Series, trends.SeriesPoint{Period: p, Label: t, Value: counts[t]})
		}
	}
	return result
}

// availableAt reports whether l was on the market at t.
func availableAt(l *Listing, t time.Time) bool {
	if l.ListedAt.After(t) {
		return false
	}
	switch l.Status {
	case StatusActive:
		return true
	case StatusSold:
		return l.SoldAt == nil || l.SoldAt.After(t)
	default:
		return false
	}
}

func inventoryOverview(rows []*Listing) *trends.DimensionResult {
	statuses := map[string]float64{
		StatusActive:     0,
		StatusSold:       0,
		StatusExpired:    0,
		StatusTerminated: 0,
	}
	for _, l := range rows {
		statuses[l.Status]++
	}
	result := &trends.DimensionResult{Summary: statuses}

	first, last, ok := span(rows)
	if !ok {
		return result
	}

	var sales []float64
	for _, m := range months(first, last) {
		end := m.AddDate(0, 1, 0).Add(-time.Nanosecond)
		var available, sold float64
		for _, l := range rows {
			if availableAt(l, end) {
				available++
			}
			if l.Sold() && period(*l.SoldAt) == period(m) {
				sold++
			}
		}
		sales = append(sales, sold)
		result.Series = append(result.Series, trends.SeriesPoint{Period: period(m), Label: "available", Value: available})
	}

	if monthly := mean(sales); monthly > 0 {
		statuses["months_of_inventory"] = round2(statuses[StatusActive] / monthly)
	}
	return result
}

func listingFlow(rows []*Listing) *trends.DimensionResult {
	result := &trends.DimensionResult{
		Summary: map[string]float64{"new": 0, "closed": 0, "available": 0},
	}

	first, last, ok := span(rows)
	if !ok {
		return result
	}

	var available float64
	for _, m := range months(first, last) {
		p := period(m)
		end := m.AddDate(0, 1, 0).Add(-time.Nanosecond)
		var added, closed float64
		available = 0
		for _, l := range rows {
			if period(l.ListedAt) == p {
				added++
			}
			if l.Sold() && period(*l.SoldAt) == p {
				closed++
			}
			if availableAt(l, end) {
				available++
			}
		}
		result.Summary["new"] += added
		result.Summary["closed"] += closed
		result.Series = append(result.Series,
			trends.SeriesPoint{Period: p, Label: "new", Value: added},
			trends.SeriesPoint{Period: p, Label: "closed", Value: closed},
			trends.SeriesPoint{Period: p, Label: "available", Value: available},
		)
	}
	result.Summary["available"] = available
	return result
}

func daysOnMarket(rows []*Listing) *trends.DimensionResult {
	var all []float64
	result := &trends.DimensionResult{}

	groups, periods := groupSold(rows)
	for _, p := range periods {
		var days []float64
		for _, l := range groups[p] {
			days = append(days, float64(l.DaysOnMarket))
		}
		all = append(all, days...)
		result.Series = append(result.Series, trends.SeriesPoint{Period: p, Value: round2(mean(days))})
	}

	result.Summary = map[string]float64{
		"average_days_on_market": round2(mean(all)),
		"median_days_on_market":  round2(median(all)),
	}
	return result
}
