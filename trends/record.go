package trends

import "time"

// DimensionName identifies one independently fetchable slice of analytics.
type DimensionName string

const (
	DimensionPriceOverview     DimensionName = "price_overview"
	DimensionAverageSoldPrice  DimensionName = "average_sold_price"
	DimensionSalesVolumeByType DimensionName = "sales_volume_by_type"
	DimensionInventoryOverview DimensionName = "inventory_overview"
	DimensionListingFlow       DimensionName = "listing_flow"
	DimensionDaysOnMarket      DimensionName = "days_on_market"
)

// DefaultDimensions returns the dimensions fetched for every query unless the
// orchestrator is configured otherwise.
func DefaultDimensions() []DimensionName {
	return []DimensionName{
		DimensionPriceOverview,
		DimensionAverageSoldPrice,
		DimensionSalesVolumeByType,
		DimensionInventoryOverview,
		DimensionListingFlow,
		DimensionDaysOnMarket,
	}
}

// SeriesPoint is one value of a dimension series. Period is a bucket such as
// "2024-03" and Label distinguishes parallel series in the same period.
type SeriesPoint struct {
	Period string  `json:"period"`
	Label  string  `json:"label,omitempty"`
	Value  float64 `json:"value"`
}

// DimensionResult is the structured output of one dimension.
type DimensionResult struct {
	Name    DimensionName      `json:"name"`
	Summary map[string]float64 `json:"summary,omitempty"`
	Series  []SeriesPoint      `json:"series,omitempty"`
}

// AggregatedRecord holds every dimension for one parameter set. A nil slot in
// Dimensions means that dimension failed; Partial is set whenever any did.
// Records are shared between sessions once committed and must not be mutated.
type AggregatedRecord struct {
	Key        CacheKey                           `json:"key"`
	Params     QueryParameters                    `json:"params"`
	Dimensions map[DimensionName]*DimensionResult `json:"dimensions"`
	Failures   map[DimensionName]ErrorKind        `json:"failures,omitempty"`
	FetchedAt  time.Time                          `json:"fetchedAt"`
	Partial    bool                               `json:"partial"`
}

// Dimension returns the result for name, or nil when it failed or was not requested.
func (r *AggregatedRecord) Dimension(name DimensionName) *DimensionResult {
	if r == nil {
		return nil
	}
	return r.Dimensions[name]
}

// Age returns how old the record is relative to now.
func (r *AggregatedRecord) Age(now time.Time) time.Duration {
	if r == nil || r.FetchedAt.IsZero() {
		return 0
	}
	return now.Sub(r.FetchedAt)
}

// CacheEntry is what the cache store keeps per key.
type CacheEntry struct {
	Key        CacheKey          `json:"key"`
	Record     *AggregatedRecord `json:"record"`
	ExpiresAt  time.Time         `json:"expiresAt"`
	Generation uint64            `json:"generation"`
	// Invalidated entries are kept as stale fallbacks but are never fresh.
	Invalidated bool `json:"invalidated"`
}
