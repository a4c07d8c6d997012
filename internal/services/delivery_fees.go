package services

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PickupLocation is the delivery selection used when the shopper collects the order in store.
const PickupLocation = "PICKUP"

// DeliveryArea is one selectable delivery destination with its flat fee.
type DeliveryArea struct {
	Value string
	Label string
	Fee   decimal.Decimal
}

// DeliveryAreaGroup groups destinations that share a fee band.
type DeliveryAreaGroup struct {
	Name  string
	Areas []DeliveryArea
}

var (
	nairobiCentralFee = decimal.NewFromInt(150)
	outerCountyFee    = decimal.NewFromInt(300)
)

func areas(fee decimal.Decimal, pairs ...string) []DeliveryArea {
	out := make([]DeliveryArea, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, DeliveryArea{Value: pairs[i], Label: pairs[i+1], Fee: fee})
	}
	return out
}

// DefaultDeliveryAreas is the storefront's delivery table.
func DefaultDeliveryAreas() []DeliveryAreaGroup {
	return []DeliveryAreaGroup{
		{Name: "CBD Areas", Areas: areas(nairobiCentralFee,
			"KENCOM", "Kencom",
			"KENYATTA_AVE", "Kenyatta Avenue",
			"MOI_AVE", "Moi Avenue",
			"TOM_MBOYA", "Tom Mboya Street",
			"MAMA_NGINA", "Mama Ngina Street",
			"KIMATHI", "Kimathi Street",
			"STANDARD_ST", "Standard Street",
			"BAZAAR_ST", "Bazaar Street",
			"BIASHARA_ST", "Biashara Street",
		)},
		{Name: "Government Areas", Areas: areas(nairobiCentralFee,
			"PARLIAMENT_RD", "Parliament Road",
			"HARAMBEE_AVE", "Harambee Avenue",
			"WABERA", "Wabera Street",
			"CENTRAL_POLICE", "Central Police Station",
			"PARLIAMENT_BUILDINGS", "Parliament Buildings",
			"SUPREME_COURT", "Supreme Court",
			"CITY_HALL", "City Hall",
		)},
		{Name: "Financial District", Areas: areas(nairobiCentralFee,
			"NSE", "Nairobi Securities Exchange",
			"KICC", "KICC",
			"CENTRAL_BANK", "Central Bank",
		)},
		{Name: "Kiambu County", Areas: areas(outerCountyFee,
			"KIAMBU", "Kiambu Town",
			"RUIRU", "Ruiru",
			"THIKA", "Thika",
			"LIMURU", "Limuru",
			"KIKUYU", "Kikuyu",
			"GITHUNGURI", "Githunguri",
		)},
		{Name: "Machakos County", Areas: areas(outerCountyFee,
			"MACHAKOS", "Machakos Town",
			"ATHI_RIVER", "Athi River",
			"SYOKIMAU", "Syokimau",
			"KATANI", "Katani",
		)},
		{Name: "Kajiado County", Areas: areas(outerCountyFee,
			"KITENGELA", "Kitengela",
			"ONGATA_RONGAI", "Ongata Rongai",
			"KISERIAN", "Kiserian",
			"NGONG", "Ngong",
		)},
	}
}

// DeliveryFeeResolver maps a delivery selection to its flat fee. It is immutable after construction.
type DeliveryFeeResolver struct {
	groups []DeliveryAreaGroup
	index  map[string]DeliveryArea
}

// NewDeliveryFeeResolver indexes groups. Empty input falls back to DefaultDeliveryAreas.
// Later duplicates of a value are ignored.
func NewDeliveryFeeResolver(groups []DeliveryAreaGroup) *DeliveryFeeResolver {
	if len(groups) == 0 {
		groups = DefaultDeliveryAreas()
	}
	index := make(map[string]DeliveryArea)
	for _, group := range groups {
		for _, area := range group.Areas {
			key := normaliseLocation(area.Value)
			if key == "" {
				continue
			}
			if _, exists := index[key]; !exists {
				index[key] = area
			}
		}
	}
	return &DeliveryFeeResolver{groups: groups, index: index}
}

// Fee returns the flat fee for location. Pickup, blank and unknown selections cost nothing;
// callers that must reject unknown values use Lookup.
func (r *DeliveryFeeResolver) Fee(location string) decimal.Decimal {
	area, ok := r.Lookup(location)
	if !ok {
		return decimal.Zero
	}
	return area.Fee
}

// FeeFor applies the pickup flag before resolving location.
func (r *DeliveryFeeResolver) FeeFor(isPickup bool, location string) decimal.Decimal {
	if isPickup {
		return decimal.Zero
	}
	return r.Fee(location)
}

// Lookup reports the area registered for location. Pickup is not an area.
func (r *DeliveryFeeResolver) Lookup(location string) (DeliveryArea, bool) {
	if r == nil {
		return DeliveryArea{}, false
	}
	key := normaliseLocation(location)
	if key == "" || key == PickupLocation {
		return DeliveryArea{}, false
	}
	area, ok := r.index[key]
	return area, ok
}

// Groups returns a copy of the table for display.
func (r *DeliveryFeeResolver) Groups() []DeliveryAreaGroup {
	if r == nil {
		return nil
	}
	out := make([]DeliveryAreaGroup, len(r.groups))
	for i, group := range r.groups {
		out[i] = DeliveryAreaGroup{Name: group.Name, Areas: append([]DeliveryArea(nil), group.Areas...)}
	}
	return out
}

func normaliseLocation(location string) string {
	return strings.ToUpper(strings.TrimSpace(location))
}
