package usecase

import (
	"strings"

	domain "github.com/allinbloomus-wq/allinbloom/internal/entity"
)

// Resolution is the canonical outcome of comparing a provider's authoritative
// state against the stored order. Status is empty when the evidence resolves
// nothing; the caller leaves the order untouched.
type Resolution struct {
	Status    domain.Status
	Mismatch  bool // completion was reported but amount/currency disagreed
	CaptureID string
}

func (r Resolution) Unresolved() bool { return r.Status == "" }

// Resolve turns a live provider snapshot into a canonical status.
//
// PAID demands full completion AND a captured (or not-required) payment AND
// an exact amount/currency match against the stored order snapshot. A
// completed session whose amount disagrees is never trusted: it stays
// unresolved and is flagged for audit instead of guessing.
//
// FAILED needs no amount confirmation; an explicit decline, void, or expiry
// is unambiguous on its own.
func Resolve(order *domain.Order, st ProviderState) Resolution {
	res := Resolution{CaptureID: st.CaptureID}

	// A state that names a different order than ours resolves nothing.
	if st.OrderRef != "" && st.OrderRef != order.ID {
		return res
	}

	if st.Declined || st.Expired {
		res.Status = domain.StatusFailed
		return res
	}

	if st.Complete && (st.Captured || st.NoPaymentRequired) {
		// A "no payment required" completion is only believable for a zero
		// amount; anything else is a provider quirk we refuse to credit.
		if st.NoPaymentRequired && !st.Captured && st.AmountCents != nil && *st.AmountCents != 0 {
			res.Mismatch = true
			return res
		}

		amountOK := st.AmountCents != nil && *st.AmountCents == order.TotalCents
		currencyOK := st.Currency == "" || strings.EqualFold(st.Currency, order.Currency)
		if amountOK && currencyOK {
			res.Status = domain.StatusPaid
			return res
		}
		res.Mismatch = true
		return res
	}

	// In progress, payer action required, created-but-not-approved: no change.
	return res
}
