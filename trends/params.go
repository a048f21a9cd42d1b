package trends

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
)

// LocationType selects which location column a query is scoped to.
type LocationType string

const (
	LocationCity          LocationType = "city"
	LocationArea          LocationType = "area"
	LocationNeighbourhood LocationType = "neighbourhood"
	LocationIntersection  LocationType = "intersection"
	LocationCommunity     LocationType = "community"
)

// LocationTypes lists every supported LocationType.
var LocationTypes = []LocationType{
	LocationCity,
	LocationArea,
	LocationNeighbourhood,
	LocationIntersection,
	LocationCommunity,
}

const (
	// DefaultYearsOfHistory is used when a query omits YearsOfHistory.
	DefaultYearsOfHistory = 5
	// MaxYearsOfHistory bounds how far back a single query may reach.
	MaxYearsOfHistory = 50
)

// locationSuffixes are marketing suffixes that do not change which market is meant.
var locationSuffixes = []string{" Real Estate", " RE"}

// QueryParameters identifies one market-trends query. It is a value type;
// two parameter sets that normalize to the same fields share a CacheKey.
type QueryParameters struct {
	LocationType        LocationType `json:"locationType"`
	LocationName        string       `json:"locationName"`
	ParentCity          string       `json:"parentCity,omitempty"`
	ParentArea          string       `json:"parentArea,omitempty"`
	ParentNeighbourhood string       `json:"parentNeighbourhood,omitempty"`
	PropertyType        string       `json:"propertyType,omitempty"`
	Community           string       `json:"community,omitempty"`
	YearsOfHistory      int          `json:"yearsOfHistory,omitempty"`
}

// Normalize returns a copy with whitespace trimmed, known suffixes removed from
// LocationName and YearsOfHistory defaulted. Case is preserved.
func (p QueryParameters) Normalize() QueryParameters {
	p.LocationType = LocationType(strings.TrimSpace(string(p.LocationType)))
	p.LocationName = NormalizeLocationName(p.LocationName)
	p.ParentCity = strings.TrimSpace(p.ParentCity)
	p.ParentArea = strings.TrimSpace(p.ParentArea)
	p.ParentNeighbourhood = strings.TrimSpace(p.ParentNeighbourhood)
	p.PropertyType = strings.TrimSpace(p.PropertyType)
	p.Community = strings.TrimSpace(p.Community)
	if p.YearsOfHistory == 0 {
		p.YearsOfHistory = DefaultYearsOfHistory
	}
	return p
}

// NormalizeLocationName trims the name and strips trailing " Real Estate" / " RE"
// suffixes until none remain.
func NormalizeLocationName(name string) string {
	name = strings.TrimSpace(name)
	for {
		stripped := name
		for _, suffix := range locationSuffixes {
			if strings.HasSuffix(stripped, suffix) {
				stripped = strings.TrimSpace(strings.TrimSuffix(stripped, suffix))
			}
		}
		if stripped == name {
			return name
		}
		name = stripped
	}
}

// Validate checks the normalized parameters. Failures are returned as *Error
// with KindInvalidParameters.
func (p QueryParameters) Validate() error {
	n := p.Normalize()
	locationTypes := make([]any, len(LocationTypes))
	for i, lt := range LocationTypes {
		locationTypes[i] = lt
	}

	err := validation.ValidateStruct(&n,
		validation.Field(&n.LocationType, validation.Required, validation.In(locationTypes...)),
		validation.Field(&n.LocationName, validation.Required, validation.Length(1, 200)),
		validation.Field(&n.YearsOfHistory, validation.Min(1), validation.Max(MaxYearsOfHistory)),
	)
	if err != nil {
		return &Error{
			Kind: KindInvalidParameters,
			Op:   "validate",
			Err:  goerrors.Wrap(err, goerrors.CategoryValidation, "invalid market trends query"),
		}
	}
	return nil
}
