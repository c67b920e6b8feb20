package usecase

import (
	"context"
	"fmt"

	domain "github.com/allinbloomus-wq/allinbloom/internal/entity"
	"github.com/allinbloomus-wq/allinbloom/internal/pricing"
)

const (
	flowerQuantityMin = 1
	flowerQuantityMax = 1001
	maxDetailsLen     = 500
)

// CartItemInput is one incoming cart line: either catalog-backed (priced from
// the live catalog row) or custom (free-form, client-priced within a band).
type CartItemInput struct {
	ID         string `json:"id"`
	IsCustom   bool   `json:"isCustom"`
	Name       string `json:"name"`
	Image      string `json:"image"`
	Details    string `json:"details"`
	PriceCents int64  `json:"priceCents"`
	Quantity   int    `json:"quantity"`
}

// PricedItem is a validated, catalog-priced cart line ready to become an
// order item snapshot.
type PricedItem struct {
	ID         string
	Name       string
	Image      string
	Quantity   int
	UnitCents  int64
	Details    string
	Discounted bool
}

// CartValidator prices and bounds-checks cart lines against the current
// catalog state. Client-supplied prices are only honored for custom items,
// and only within the configured band.
type CartValidator struct {
	catalog   CatalogReader
	customMin int64
	customMax int64
}

func NewCartValidator(catalog CatalogReader, customMinCents, customMaxCents int64) *CartValidator {
	return &CartValidator{catalog: catalog, customMin: customMinCents, customMax: customMaxCents}
}

// Validate resolves catalog rows, applies per-item discounts, and normalizes
// quantities. hasDiscount reports whether any line received a bouquet,
// category, or global discount (which blocks the first-order discount).
func (v *CartValidator) Validate(ctx context.Context, items []CartItemInput, settings domain.StoreSettings) (priced []PricedItem, hasDiscount bool, err error) {
	if len(items) == 0 {
		return nil, false, Invalid("No items provided.")
	}

	var catalogIDs []string
	for _, item := range items {
		if !item.IsCustom {
			catalogIDs = append(catalogIDs, item.ID)
		}
	}
	bouquets := map[string]domain.Bouquet{}
	if len(catalogIDs) > 0 {
		bouquets, err = v.catalog.ActiveByIDs(ctx, catalogIDs)
		if err != nil {
			return nil, false, fmt.Errorf("load catalog items: %w", err)
		}
	}

	for _, item := range items {
		if item.IsCustom {
			p, cerr := v.validateCustom(item)
			if cerr != nil {
				return nil, false, cerr
			}
			priced = append(priced, p)
			continue
		}

		bouquet, ok := bouquets[item.ID]
		if !ok {
			return nil, false, Invalid("Some items are unavailable.")
		}

		discount := pricing.BouquetDiscount(bouquet, settings)
		unit := bouquet.PriceCents
		if discount != nil {
			hasDiscount = true
			unit = pricing.ApplyPercentDiscount(bouquet.PriceCents, discount.Percent)
		}

		quantity := item.Quantity
		if quantity < 1 {
			quantity = 1
		}
		details := ""
		if bouquet.FlowerQuantityEnabled() {
			// Client-chosen stem count becomes the billed unit count, not a
			// multiplier on top of it.
			if item.Quantity < flowerQuantityMin || item.Quantity > flowerQuantityMax {
				return nil, false, Invalid(fmt.Sprintf(
					"Flower quantity must be between %d and %d.", flowerQuantityMin, flowerQuantityMax))
			}
			quantity = item.Quantity
			details = fmt.Sprintf("Flowers: %d", quantity)
		}

		priced = append(priced, PricedItem{
			ID:         bouquet.ID,
			Name:       bouquet.Name,
			Image:      bouquet.Image,
			Quantity:   quantity,
			UnitCents:  unit,
			Details:    details,
			Discounted: discount != nil,
		})
	}
	return priced, hasDiscount, nil
}

func (v *CartValidator) validateCustom(item CartItemInput) (PricedItem, error) {
	if len(item.Details) > maxDetailsLen {
		return PricedItem{}, Invalid("Custom item details are too long.")
	}
	if item.Name == "" || item.Image == "" {
		return PricedItem{}, Invalid("Some items are unavailable.")
	}
	if item.PriceCents < v.customMin || item.PriceCents > v.customMax {
		return PricedItem{}, Invalid("Some items are unavailable.")
	}
	quantity := item.Quantity
	if quantity < 1 {
		quantity = 1
	}
	return PricedItem{
		ID:        item.ID,
		Name:      item.Name,
		Image:     item.Image,
		Quantity:  quantity,
		UnitCents: item.PriceCents,
		Details:   item.Details,
	}, nil
}
