package trends

import (
	"strings"
	"testing"

	"github.com/goliatone/go-market-trends/pkg/testsupport"
)

type keyEquivalenceGroup struct {
	Name   string            `json:"name"`
	Params []QueryParameters `json:"params"`
}

type keyEquivalenceFixtures struct {
	Groups []keyEquivalenceGroup `json:"groups"`
}

func joinWithSeparator(parts ...string) string {
	return strings.Join(parts, KeySeparator)
}

func TestKeyBuilder_Format(t *testing.T) {
	builder := NewKeyBuilder()

	tests := []struct {
		name   string
		params QueryParameters
		want   CacheKey
	}{
		{
			name:   "city with default years",
			params: QueryParameters{LocationType: LocationCity, LocationName: "Toronto"},
			want: CacheKey(joinWithSeparator(
				"market_trends",
				`location_name="Toronto"`,
				`location_type="city"`,
				"years_of_history=5",
			)),
		},
		{
			name: "optional fields sorted alphabetically",
			params: QueryParameters{
				YearsOfHistory:      3,
				PropertyType:        "Condo",
				ParentNeighbourhood: "Riverdale",
				ParentCity:          "Toronto",
				LocationType:        LocationIntersection,
				LocationName:        "Queen & Broadview",
				Community:           "South Riverdale",
			},
			want: CacheKey(joinWithSeparator(
				"market_trends",
				`community="South Riverdale"`,
				`location_name="Queen & Broadview"`,
				`location_type="intersection"`,
				`parent_city="Toronto"`,
				`parent_neighbourhood="Riverdale"`,
				`property_type="Condo"`,
				"years_of_history=3",
			)),
		},
		{
			name:   "separator inside a value stays quoted",
			params: QueryParameters{LocationType: LocationArea, LocationName: "York::Region"},
			want: CacheKey(joinWithSeparator(
				"market_trends",
				`location_name="York`,
				`Region"`,
				`location_type="area"`,
				"years_of_history=5",
			)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := builder.Build(tt.params)
			if got != tt.want {
				t.Errorf("Build() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKeyBuilder_Equivalence(t *testing.T) {
	fixtures := testsupport.DecodeFixture[keyEquivalenceFixtures](t, "key_equivalence.json")

	if len(fixtures.Groups) == 0 {
		t.Fatal("expected fixture groups")
	}

	builder := NewKeyBuilder()
	seen := make(map[CacheKey]string)

	for _, group := range fixtures.Groups {
		t.Run(group.Name, func(t *testing.T) {
			first := builder.Build(group.Params[0])
			for i, params := range group.Params[1:] {
				if got := builder.Build(params); got != first {
					t.Errorf("params[%d]: expected key %q, got %q", i+1, first, got)
				}
			}

			if other, ok := seen[first]; ok {
				t.Errorf("key %q collides with group %q", first, other)
			}
			seen[first] = group.Name
		})
	}
}

func TestKeyBuilder_Stability(t *testing.T) {
	builder := NewKeyBuilder()
	params := QueryParameters{LocationType: LocationCommunity, LocationName: "Beaches", ParentArea: "Toronto East"}

	first := builder.Build(params)
	for i := 0; i < 50; i++ {
		if got := builder.Build(params); got != first {
			t.Fatalf("key changed between calls: %q vs %q", first, got)
		}
	}

	if first.Short() != builder.Build(params).Short() {
		t.Error("expected stable short digest")
	}
	if first.Short() == builder.Build(QueryParameters{LocationType: LocationCity, LocationName: "Ottawa"}).Short() {
		t.Error("expected different digests for different keys")
	}
}

func TestKeyBuilder_CustomPrefix(t *testing.T) {
	builder := NewKeyBuilderWithPrefix("rentals")
	key := builder.Build(QueryParameters{LocationType: LocationCity, LocationName: "Ottawa"})
	if !strings.HasPrefix(string(key), "rentals"+KeySeparator) {
		t.Errorf("expected rentals prefix, got %q", key)
	}
}

func TestNormalizeLocationName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Toronto", "Toronto"},
		{"  Toronto ", "Toronto"},
		{"Toronto Real Estate", "Toronto"},
		{"Toronto RE", "Toronto"},
		{"Toronto RE Real Estate", "Toronto"},
		{"Toronto re", "Toronto re"},
		{"Real Estate", "Real Estate"},
		{"MORE", "MORE"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeLocationName(tt.in); got != tt.want {
				t.Errorf("NormalizeLocationName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestToSnake(t *testing.T) {
	tests := map[string]string{
		"LocationName":        "location_name",
		"ParentNeighbourhood": "parent_neighbourhood",
		"YearsOfHistory":      "years_of_history",
		"MLSNumber":           "mls_number",
		"":                    "",
	}
	for in, want := range tests {
		if got := toSnake(in); got != want {
			t.Errorf("toSnake(%q) = %q, want %q", in, got, want)
		}
	}
}
