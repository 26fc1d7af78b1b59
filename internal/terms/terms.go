// Package terms models customer and vendor payment terms as a tagged
// variant with pure due-date and description functions.
package terms

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind tags a payment terms variant.
type Kind string

const (
	KindDueOnReceipt  Kind = "DUE_ON_RECEIPT"
	KindNetDays       Kind = "NET_DAYS"
	KindEarlyDiscount Kind = "EARLY_DISCOUNT"
	KindSpecificDates Kind = "SPECIFIC_DATES"
)

// Terms is one payment terms variant. Only the fields of the tagged kind
// are meaningful.
type Terms struct {
	Kind         Kind
	NetDays      int
	DiscountPct  float64
	DiscountDays int
	Days         []int
}

// DueOnReceipt means payment is due immediately.
func DueOnReceipt() Terms {
	return Terms{Kind: KindDueOnReceipt}
}

// Net gives the counterparty n days to pay.
func Net(n int) Terms {
	return Terms{Kind: KindNetDays, NetDays: n}
}

// EarlyDiscount offers pct off when paid within discountDays, otherwise
// the full amount is due after netDays.
func EarlyDiscount(pct float64, discountDays, netDays int) Terms {
	return Terms{Kind: KindEarlyDiscount, DiscountPct: pct, DiscountDays: discountDays, NetDays: netDays}
}

// OnDays makes payment due on the next occurrence of one of the given
// days of the month.
func OnDays(days ...int) Terms {
	sorted := append([]int(nil), days...)
	sort.Ints(sorted)
	return Terms{Kind: KindSpecificDates, Days: sorted}
}

// DueDate computes when payment is due for a document issued at from.
func (t Terms) DueDate(from time.Time) time.Time {
	switch t.Kind {
	case KindNetDays, KindEarlyDiscount:
		return from.AddDate(0, 0, t.NetDays)
	case KindSpecificDates:
		return nextDayOfMonth(from, t.Days)
	default:
		return from
	}
}

// Describe renders the terms the way they appear on an invoice.
func (t Terms) Describe() string {
	switch t.Kind {
	case KindNetDays:
		return fmt.Sprintf("Net %d", t.NetDays)
	case KindEarlyDiscount:
		return fmt.Sprintf("%.0f/%d Net %d", t.DiscountPct, t.DiscountDays, t.NetDays)
	case KindSpecificDates:
		parts := make([]string, len(t.Days))
		for i, d := range t.Days {
			parts[i] = fmt.Sprintf("%d", d)
		}
		return fmt.Sprintf("Due on day %s of month", strings.Join(parts, "/"))
	default:
		return "Due on receipt"
	}
}

func nextDayOfMonth(from time.Time, days []int) time.Time {
	if len(days) == 0 {
		return from
	}
	for _, d := range days {
		candidate := time.Date(from.Year(), from.Month(), d, 0, 0, 0, 0, from.Location())
		if candidate.After(from) && candidate.Month() == from.Month() {
			return candidate
		}
	}
	next := from.AddDate(0, 1, 0)
	return time.Date(next.Year(), next.Month(), days[0], 0, 0, 0, 0, from.Location())
}
