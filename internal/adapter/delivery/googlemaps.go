package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/allinbloomus-wq/allinbloom/internal/usecase"
)

const (
	geocodeURL        = "https://maps.googleapis.com/maps/api/geocode/json"
	distanceMatrixURL = "https://maps.googleapis.com/maps/api/distancematrix/json"

	metersPerMile  = 1609.344
	requestTimeout = 8 * time.Second
)

// Delivery fee tiers by road distance from the shop.
const (
	freeMiles   = 10.0
	midMiles    = 20.0
	maxMiles    = 30.0
	midFeeCents = 1500
	farFeeCents = 3000
)

// GoogleMapsQuoter validates a delivery address, measures road distance from
// the shop, and prices the delivery fee by tier. Out-of-range addresses are
// rejected before any order exists.
type GoogleMapsQuoter struct {
	apiKey      string
	baseAddress string
	client      *http.Client
}

func NewGoogleMapsQuoter(apiKey, baseAddress string) *GoogleMapsQuoter {
	return &GoogleMapsQuoter{
		apiKey:      apiKey,
		baseAddress: baseAddress,
		client:      &http.Client{Timeout: requestTimeout},
	}
}

var _ usecase.DeliveryQuoter = (*GoogleMapsQuoter)(nil)

// plausibleAddress is the cheap pre-flight filter: long enough to carry a
// street, holds a house number, and has at least one comma-separated part.
func plausibleAddress(address string) bool {
	trimmed := strings.TrimSpace(address)
	if len(trimmed) < 10 {
		return false
	}
	hasDigit := false
	for _, r := range trimmed {
		if unicode.IsDigit(r) {
			hasDigit = true
			break
		}
	}
	return hasDigit && strings.Contains(trimmed, ",")
}

func feeForMiles(miles float64) (int64, error) {
	switch {
	case miles <= freeMiles:
		return 0, nil
	case miles <= midMiles:
		return midFeeCents, nil
	case miles <= maxMiles:
		return farFeeCents, nil
	default:
		return 0, usecase.Invalid("Delivery address is outside our delivery area.")
	}
}

func (q *GoogleMapsQuoter) Quote(ctx context.Context, address string) (usecase.DeliveryQuote, error) {
	if !plausibleAddress(address) {
		return usecase.DeliveryQuote{}, usecase.Invalid("Enter a full street address including house number.")
	}
	if strings.TrimSpace(q.apiKey) == "" {
		return usecase.DeliveryQuote{}, fmt.Errorf("%w: delivery quoting", usecase.ErrNotConfigured)
	}

	formatted, err := q.geocode(ctx, address)
	if err != nil {
		return usecase.DeliveryQuote{}, err
	}

	meters, err := q.roadDistanceMeters(ctx, formatted)
	if err != nil {
		return usecase.DeliveryQuote{}, err
	}

	miles := math.Round(meters/metersPerMile*100) / 100
	fee, err := feeForMiles(miles)
	if err != nil {
		return usecase.DeliveryQuote{}, err
	}

	return usecase.DeliveryQuote{
		Miles:            miles,
		DistanceText:     fmt.Sprintf("%.1f mi", miles),
		FeeCents:         fee,
		FormattedAddress: formatted,
	}, nil
}

// geocode confirms the address resolves to a real location and returns
// Google's canonical formatting.
func (q *GoogleMapsQuoter) geocode(ctx context.Context, address string) (string, error) {
	params := url.Values{}
	params.Set("address", address)
	params.Set("key", q.apiKey)

	var payload struct {
		Status  string `json:"status"`
		Results []struct {
			FormattedAddress string `json:"formatted_address"`
		} `json:"results"`
	}
	if err := q.get(ctx, geocodeURL, params, &payload); err != nil {
		return "", err
	}
	if payload.Status != "OK" || len(payload.Results) == 0 {
		return "", usecase.Invalid("We could not find that delivery address.")
	}
	return payload.Results[0].FormattedAddress, nil
}

func (q *GoogleMapsQuoter) roadDistanceMeters(ctx context.Context, destination string) (float64, error) {
	params := url.Values{}
	params.Set("origins", q.baseAddress)
	params.Set("destinations", destination)
	params.Set("mode", "driving")
	params.Set("units", "imperial")
	params.Set("key", q.apiKey)

	var payload struct {
		Status string `json:"status"`
		Rows   []struct {
			Elements []struct {
				Status   string `json:"status"`
				Distance struct {
					Meters float64 `json:"value"`
				} `json:"distance"`
			} `json:"elements"`
		} `json:"rows"`
	}
	if err := q.get(ctx, distanceMatrixURL, params, &payload); err != nil {
		return 0, err
	}
	if payload.Status != "OK" || len(payload.Rows) == 0 || len(payload.Rows[0].Elements) == 0 {
		return 0, fmt.Errorf("distance matrix status %q", payload.Status)
	}
	element := payload.Rows[0].Elements[0]
	if element.Status != "OK" {
		return 0, usecase.Invalid("We could not measure the distance to that address.")
	}
	return element.Distance.Meters, nil
}

func (q *GoogleMapsQuoter) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("maps request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("maps response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("maps api: http %d", resp.StatusCode)
	}
	return json.Unmarshal(raw, out)
}
