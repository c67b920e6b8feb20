package domain

import "strings"

type BouquetType string

const (
	BouquetMono   BouquetType = "MONO"
	BouquetMixed  BouquetType = "MIXED"
	BouquetSeason BouquetType = "SEASON"
)

// Bouquet is the catalog read model consumed at checkout time. Pricing and
// discounts are always taken from here, never from the client payload.
type Bouquet struct {
	ID              string
	Name            string
	PriceCents      int64
	Currency        string
	FlowerType      string
	BouquetType     string
	Colors          string
	IsMixed         bool
	IsActive        bool
	AllowFlowerQty  bool
	DiscountPercent int
	DiscountNote    string
	Image           string
}

// FlowerItem is the shared value-object view the discount matcher consumes.
// Both the catalog Bouquet and a plain cart line satisfy it, so category
// matching never depends on which side supplied the attributes.
type FlowerItem interface {
	ItemFlowerType() string
	ItemBouquetType() string
	ItemColors() string
	ItemIsMixed() bool
	ItemPriceCents() int64
}

func (b Bouquet) ItemFlowerType() string  { return b.FlowerType }
func (b Bouquet) ItemBouquetType() string { return b.BouquetType }
func (b Bouquet) ItemColors() string      { return b.Colors }
func (b Bouquet) ItemIsMixed() bool       { return b.IsMixed }
func (b Bouquet) ItemPriceCents() int64   { return b.PriceCents }

// FlowerQuantityEnabled reports whether the bouquet accepts a client-supplied
// stem count as the billed unit count. Only single-species and seasonal
// bouquets with the flag qualify.
func (b Bouquet) FlowerQuantityEnabled() bool {
	t := strings.ToUpper(strings.TrimSpace(b.BouquetType))
	if t != string(BouquetMono) && t != string(BouquetSeason) {
		return false
	}
	return b.AllowFlowerQty
}

// StoreSettings carries the store-wide discount configuration.
type StoreSettings struct {
	GlobalDiscountPercent int
	GlobalDiscountNote    string

	CategoryDiscountPercent int
	CategoryDiscountNote    string
	CategoryFlowerType      string
	CategoryMixed           string // "mono" | "mixed" | "season" | ""
	CategoryColor           string
	CategoryMinPriceCents   *int64
	CategoryMaxPriceCents   *int64

	FirstOrderDiscountPercent int
	FirstOrderDiscountNote    string
}
