package listings

import (
	"time"

	"github.com/google/uuid"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// Listing statuses.
const (
	StatusActive     = "active"
	StatusSold       = "sold"
	StatusExpired    = "expired"
	StatusTerminated = "terminated"
)

// Listing is one MLS listing, sold or not.
type Listing struct {
	bun.BaseModel `bun:"table:sold_listings,alias:sl"`

	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	MLSNumber     string     `bun:"mls_number,notnull,unique" json:"mlsNumber"`
	City          string     `bun:"city,notnull" json:"city"`
	Area          string     `bun:"area" json:"area,omitempty"`
	Neighbourhood string     `bun:"neighbourhood" json:"neighbourhood,omitempty"`
	Intersection  string     `bun:"intersection" json:"intersection,omitempty"`
	Community     string     `bun:"community" json:"community,omitempty"`
	PropertyType  string     `bun:"property_type,notnull" json:"propertyType"`
	Status        string     `bun:"status,notnull" json:"status"`
	ListPrice     float64    `bun:"list_price,notnull" json:"listPrice"`
	SoldPrice     float64    `bun:"sold_price" json:"soldPrice,omitempty"`
	ListedAt      time.Time  `bun:"listed_at,notnull" json:"listedAt"`
	SoldAt        *time.Time `bun:"sold_at" json:"soldAt,omitempty"`
	DaysOnMarket  int        `bun:"days_on_market" json:"daysOnMarket"`
}

// Sold reports whether the listing closed with a price.
func (l *Listing) Sold() bool {
	return l.Status == StatusSold && l.SoldAt != nil && l.SoldPrice > 0
}

// Handlers returns the go-repository-bun model handlers for Listing.
func Handlers() repository.ModelHandlers[*Listing] {
	return repository.ModelHandlers[*Listing]{
		NewRecord: func() *Listing {
			return &Listing{}
		},
		GetID: func(l *Listing) uuid.UUID {
			if l == nil {
				return uuid.Nil
			}
			return l.ID
		},
		SetID: func(l *Listing, id uuid.UUID) {
			l.ID = id
		},
		GetIdentifier: func() string {
			return "mls_number"
		},
	}
}

// NewRepository builds the listing repository over db.
func NewRepository(db *bun.DB) repository.Repository[*Listing] {
	return repository.NewRepository[*Listing](db, Handlers())
}
