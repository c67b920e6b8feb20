// Package pricing resolves the discount applicable to a catalog item and
// applies percentage discounts to cent amounts.
package pricing

import (
	"math"
	"strings"

	domain "github.com/allinbloomus-wq/allinbloom/internal/entity"
)

// Discount sources, in precedence order.
const (
	SourceBouquet  = "bouquet"
	SourceCategory = "category"
	SourceGlobal   = "global"
)

type Discount struct {
	Percent int
	Note    string
	Source  string
}

// ClampPercent bounds a percentage to [0, 90].
func ClampPercent(value int) int {
	if value < 0 {
		return 0
	}
	if value > 90 {
		return 90
	}
	return value
}

// ApplyPercentDiscount returns price reduced by the clamped percentage,
// rounded half away from zero, floored at zero.
func ApplyPercentDiscount(priceCents int64, percent int) int64 {
	clamped := ClampPercent(percent)
	out := int64(math.Round(float64(priceCents) * float64(100-clamped) / 100))
	if out < 0 {
		return 0
	}
	return out
}

func hasCategoryFilters(s domain.StoreSettings) bool {
	return s.CategoryFlowerType != "" ||
		s.CategoryMixed != "" ||
		s.CategoryColor != "" ||
		s.CategoryMinPriceCents != nil ||
		s.CategoryMaxPriceCents != nil
}

// matchesCategory checks every configured criterion against the item. The
// category discount applies only when at least one criterion is configured
// and all configured criteria match.
func matchesCategory(item domain.FlowerItem, s domain.StoreSettings) bool {
	if s.CategoryDiscountPercent <= 0 {
		return false
	}
	if !hasCategoryFilters(s) {
		return false
	}

	if s.CategoryFlowerType != "" && s.CategoryFlowerType != item.ItemFlowerType() {
		return false
	}

	// Classification: prefer the bouquet_type field; rows predating it fall
	// back to the legacy is_mixed flag. Precedence between the two on rows
	// where both disagree is a business-confirmation item.
	bouquetType := strings.ToLower(strings.TrimSpace(item.ItemBouquetType()))
	switch s.CategoryMixed {
	case "mixed":
		if bouquetType != "" {
			if bouquetType != "mixed" {
				return false
			}
		} else if !item.ItemIsMixed() {
			return false
		}
	case "mono":
		if bouquetType != "" {
			if bouquetType != "mono" {
				return false
			}
		} else if item.ItemIsMixed() {
			return false
		}
	case "season":
		if bouquetType != "season" {
			return false
		}
	}

	if s.CategoryColor != "" {
		palette := NormalizePaletteText(item.ItemColors())
		needle := NormalizeColorValue(s.CategoryColor)
		if needle == "" {
			needle = strings.ToLower(s.CategoryColor)
		}
		if !strings.Contains(palette, needle) {
			return false
		}
	}
	if s.CategoryMinPriceCents != nil && item.ItemPriceCents() < *s.CategoryMinPriceCents {
		return false
	}
	if s.CategoryMaxPriceCents != nil && item.ItemPriceCents() > *s.CategoryMaxPriceCents {
		return false
	}
	return true
}

// BouquetDiscount resolves the applicable discount for a catalog bouquet.
// Precedence: the bouquet's own discount, then the category discount, then
// the global discount. Returns nil when nothing applies.
func BouquetDiscount(b domain.Bouquet, s domain.StoreSettings) *Discount {
	if b.DiscountPercent > 0 {
		return &Discount{Percent: b.DiscountPercent, Note: noteOr(b.DiscountNote), Source: SourceBouquet}
	}
	if matchesCategory(b, s) {
		return &Discount{Percent: s.CategoryDiscountPercent, Note: noteOr(s.CategoryDiscountNote), Source: SourceCategory}
	}
	if s.GlobalDiscountPercent > 0 {
		return &Discount{Percent: s.GlobalDiscountPercent, Note: noteOr(s.GlobalDiscountNote), Source: SourceGlobal}
	}
	return nil
}

// CartLine is the value-object view of a plain cart item, used when pricing
// carts whose lines did not come from a live catalog row.
type CartLine struct {
	FlowerType             string
	BouquetType            string
	Colors                 string
	IsMixed                bool
	BasePriceCents         int64
	BouquetDiscountPercent int
	BouquetDiscountNote    string
}

func (l CartLine) ItemFlowerType() string  { return l.FlowerType }
func (l CartLine) ItemBouquetType() string { return l.BouquetType }
func (l CartLine) ItemColors() string      { return l.Colors }
func (l CartLine) ItemIsMixed() bool       { return l.IsMixed }
func (l CartLine) ItemPriceCents() int64   { return l.BasePriceCents }

// CartLineDiscount resolves the discount for a cart line through the same
// matcher the catalog uses.
func CartLineDiscount(line CartLine, s domain.StoreSettings) *Discount {
	if line.BouquetDiscountPercent > 0 {
		return &Discount{Percent: line.BouquetDiscountPercent, Note: noteOr(line.BouquetDiscountNote), Source: SourceBouquet}
	}
	if matchesCategory(line, s) {
		return &Discount{Percent: s.CategoryDiscountPercent, Note: noteOr(s.CategoryDiscountNote), Source: SourceCategory}
	}
	if s.GlobalDiscountPercent > 0 {
		return &Discount{Percent: s.GlobalDiscountPercent, Note: noteOr(s.GlobalDiscountNote), Source: SourceGlobal}
	}
	return nil
}

func noteOr(note string) string {
	if note == "" {
		return "Discount"
	}
	return note
}
