package listings

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// SeedLocation describes one place sample listings are generated for.
type SeedLocation struct {
	City          string
	Area          string
	Neighbourhood string
	Intersection  string
	Community     string
	BasePrice     float64
}

// DefaultSeedLocations is the sample market used by the bootstrap command.
var DefaultSeedLocations = []SeedLocation{
	{City: "Toronto", Area: "Toronto C01", Neighbourhood: "Waterfront Communities", Intersection: "Bay & Queens Quay", Community: "Harbourfront", BasePrice: 780000},
	{City: "Toronto", Area: "Toronto E01", Neighbourhood: "Leslieville", Intersection: "Queen & Leslie", Community: "South Riverdale", BasePrice: 1150000},
	{City: "Ottawa", Area: "Ottawa Centre", Neighbourhood: "Glebe", Intersection: "Bank & Fifth", Community: "Glebe", BasePrice: 690000},
	{City: "Mississauga", Area: "Peel", Neighbourhood: "Port Credit", Intersection: "Lakeshore & Hurontario", Community: "Port Credit", BasePrice: 940000},
}

var samplePropertyTypes = []string{"Detached", "Semi-Detached", "Townhouse", "Condo Apartment"}

// SampleListings generates perLocation listings for every location, listed
// across the months before now. The same seed yields the same listings.
func SampleListings(locations []SeedLocation, perLocation int, now time.Time, seed uint64) []*Listing {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	now = now.UTC()

	out := make([]*Listing, 0, len(locations)*perLocation)
	for li, loc := range locations {
		for i := 0; i < perLocation; i++ {
			listedAt := now.AddDate(0, -rng.IntN(36), -rng.IntN(28)).Truncate(time.Hour)
			propertyType := samplePropertyTypes[rng.IntN(len(samplePropertyTypes))]
			listPrice := loc.BasePrice * (0.7 + rng.Float64()*0.6)

			l := &Listing{
				ID:            uuid.New(),
				MLSNumber:     fmt.Sprintf("S%02d%06d", li, i),
				City:          loc.City,
				Area:          loc.Area,
				Neighbourhood: loc.Neighbourhood,
				Intersection:  loc.Intersection,
				Community:     loc.Community,
				PropertyType:  propertyType,
				ListPrice:     round2(listPrice),
				ListedAt:      listedAt,
			}

			switch roll := rng.IntN(10); {
			case roll < 6:
				dom := 5 + rng.IntN(60)
				soldAt := listedAt.AddDate(0, 0, dom)
				if soldAt.After(now) {
					l.Status = StatusActive
					l.DaysOnMarket = int(now.Sub(listedAt).Hours() / 24)
					break
				}
				l.Status = StatusSold
				l.SoldAt = &soldAt
				l.SoldPrice = round2(listPrice * (0.93 + rng.Float64()*0.12))
				l.DaysOnMarket = dom
			case roll < 8:
				l.Status = StatusActive
				l.DaysOnMarket = int(now.Sub(listedAt).Hours() / 24)
			case roll < 9:
				l.Status = StatusExpired
				l.DaysOnMarket = 90
			default:
				l.Status = StatusTerminated
				l.DaysOnMarket = 30
			}
			out = append(out, l)
		}
	}
	return out
}
