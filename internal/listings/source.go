package listings

import (
	"context"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/goliatone/go-market-trends/pkg/logging"
	"github.com/goliatone/go-market-trends/trends"
)

// DefaultRowLimit caps how many listings one dimension query reads.
const DefaultRowLimit = 50000

// RepositoryProvider hands out the listing repository to query. *DB
// implements it and swaps the repository on reconnect.
type RepositoryProvider interface {
	Repository() repository.Repository[*Listing]
}

// Source computes market-trends dimensions from listing rows. It implements
// dimensions.Fetcher.
type Source struct {
	repos  RepositoryProvider
	clock  trends.Clock
	limit  int
	logger *zap.SugaredLogger
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithClock sets the clock used to compute the history window.
func WithClock(c trends.Clock) SourceOption {
	return func(s *Source) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithRowLimit caps the rows read per dimension query.
func WithRowLimit(n int) SourceOption {
	return func(s *Source) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithLogger sets the source logger.
func WithLogger(l *zap.SugaredLogger) SourceOption {
	return func(s *Source) {
		s.logger = logging.OrNop(l)
	}
}

// NewSource creates a Source reading from repos.
func NewSource(repos RepositoryProvider, opts ...SourceOption) *Source {
	s := &Source{
		repos:  repos,
		clock:  trends.SystemClock(),
		limit:  DefaultRowLimit,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type computeFunc func(rows []*Listing) *trends.DimensionResult

type dimensionQuery struct {
	soldOnly bool
	compute  computeFunc
}

var dimensionQueries = map[trends.DimensionName]dimensionQuery{
	trends.DimensionPriceOverview:     {compute: priceOverview},
	trends.DimensionAverageSoldPrice:  {soldOnly: true, compute: averageSoldPrice},
	trends.DimensionSalesVolumeByType: {soldOnly: true, compute: salesVolumeByType},
	trends.DimensionInventoryOverview: {compute: inventoryOverview},
	trends.DimensionListingFlow:       {compute: listingFlow},
	trends.DimensionDaysOnMarket:      {soldOnly: true, compute: daysOnMarket},
}

// FetchDimension runs the query behind name for params and computes its
// result. No matching rows yields an empty result, not an error.
func (s *Source) FetchDimension(ctx context.Context, name trends.DimensionName, params trends.QueryParameters) (*trends.DimensionResult, error) {
	query, ok := dimensionQueries[name]
	if !ok {
		return nil, trends.NewError(trends.KindNotFound, "listings.fetch", unknownDimensionError(name))
	}

	since := s.since(params.YearsOfHistory)
	rows, total, err := s.repos.Repository().List(ctx, s.criteria(params, since, query.soldOnly)...)
	if err != nil {
		return nil, err
	}

	s.logger.Debugw("listings queried",
		"dimension", name,
		"location_type", params.LocationType,
		"location", params.LocationName,
		"rows", len(rows),
		"total", total,
	)

	result := query.compute(rows)
	result.Name = name
	return result, nil
}

func (s *Source) since(years int) time.Time {
	if years <= 0 {
		years = trends.DefaultYearsOfHistory
	}
	return s.clock.Now().UTC().AddDate(-years, 0, 0)
}

// locationColumns maps a location type to the column that scopes it.
var locationColumns = map[trends.LocationType]string{
	trends.LocationCity:          "city",
	trends.LocationArea:          "area",
	trends.LocationNeighbourhood: "neighbourhood",
	trends.LocationIntersection:  "intersection",
	trends.LocationCommunity:     "community",
}

func (s *Source) criteria(params trends.QueryParameters, since time.Time, soldOnly bool) []repository.SelectCriteria {
	criteria := []repository.SelectCriteria{
		whereEquals(locationColumns[params.LocationType], params.LocationName),
	}

	if params.ParentCity != "" && params.LocationType != trends.LocationCity {
		criteria = append(criteria, whereEquals("city", params.ParentCity))
	}
	if params.ParentArea != "" && params.LocationType != trends.LocationArea {
		criteria = append(criteria, whereEquals("area", params.ParentArea))
	}
	if params.ParentNeighbourhood != "" && params.LocationType != trends.LocationNeighbourhood {
		criteria = append(criteria, whereEquals("neighbourhood", params.ParentNeighbourhood))
	}
	if params.Community != "" && params.LocationType != trends.LocationCommunity {
		criteria = append(criteria, whereEquals("community", params.Community))
	}
	if params.PropertyType != "" {
		criteria = append(criteria, whereEquals("property_type", params.PropertyType))
	}
	if soldOnly {
		criteria = append(criteria, whereEquals("status", StatusSold))
	}

	limit := s.limit
	criteria = append(criteria, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.listed_at >= ?", since).
			OrderExpr("?TableAlias.listed_at ASC").
			Limit(limit)
	})
	return criteria
}

func whereEquals(column string, value any) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.? = ?", bun.Ident(column), value)
	}
}

type unknownDimensionError trends.DimensionName

func (e unknownDimensionError) Error() string {
	return "unknown dimension " + string(e)
}
