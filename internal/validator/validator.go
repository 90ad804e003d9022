// Package validator checks proposed allocations against open balances.
//
// All checks run independently and every failure is reported; nothing
// short-circuits. Missing reference data (no balance row for a line or
// group, no three-way status) skips the corresponding check: absence of
// data is not a violation.
package validator

import (
	"fmt"

	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/internal/tolerance"

	"github.com/shopspring/decimal"
)

// groupEpsilon absorbs rounding noise in the over-allocation check.
var groupEpsilon = decimal.New(1, -6)

// CheckFunc validates links against balances read by the caller. Link stores
// call it inside their write transaction with freshly read balances.
type CheckFunc func(links []models.ProposedLink, balances models.Balances) []models.Violation

// AllocationValidator runs the allocation checks. It holds no state.
type AllocationValidator struct{}

// New creates an AllocationValidator.
func New() *AllocationValidator {
	return &AllocationValidator{}
}

// Bind fixes the tolerance configuration and returns a CheckFunc.
func (v *AllocationValidator) Bind(cfg tolerance.Config) CheckFunc {
	return func(links []models.ProposedLink, balances models.Balances) []models.Violation {
		return v.Validate(links, balances, cfg)
	}
}

type lineTotals struct {
	key    string
	amount decimal.Decimal
	qty    decimal.Decimal
	hasQty bool
}

// Validate returns every violation of links against balances. Group
// violations come first, then per-line violations in the order lines first
// appear in links.
func (v *AllocationValidator) Validate(links []models.ProposedLink, balances models.Balances, cfg tolerance.Config) []models.Violation {
	groups, groupOrder := sumByGroup(links, balances)
	lines := sumByLine(links)

	var violations []models.Violation

	for _, key := range groupOrder {
		group, ok := balances.Groups[key]
		if !ok {
			continue
		}
		if sum := groups[key]; sum.Sub(group.Total).GreaterThan(groupEpsilon) {
			violations = append(violations, models.Violation{
				Kind:    models.ViolationLinksExceedTotal,
				Key:     key,
				Limit:   group.Total,
				Actual:  sum,
				Message: fmt.Sprintf("links for %s total %s, exceeding open total %s", key, sum.StringFixed(2), group.Total.StringFixed(2)),
			})
		}
	}

	amountFactor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(cfg.AmountTolerance))
	qtyFactor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(cfg.QtyTolerance))

	for _, lt := range lines {
		balance, hasBalance := balances.Lines[lt.key]

		if hasBalance {
			limit := balance.RemainingAmount.Mul(amountFactor)
			if lt.amount.GreaterThan(limit) {
				violations = append(violations, models.Violation{
					Kind:    models.ViolationAmountExceedsRemaining,
					Key:     lt.key,
					Limit:   limit,
					Actual:  lt.amount,
					Message: fmt.Sprintf("amount %s exceeds remaining %s with %.2f%% tolerance", lt.amount.StringFixed(2), balance.RemainingAmount.StringFixed(2), cfg.AmountTolerance*100),
				})
			}
		}

		if !lt.hasQty {
			continue
		}

		if hasBalance && balance.RemainingQty != nil {
			limit := balance.RemainingQty.Mul(qtyFactor)
			if lt.qty.GreaterThan(limit) {
				violations = append(violations, models.Violation{
					Kind:    models.ViolationQtyExceedsRemaining,
					Key:     lt.key,
					Limit:   limit,
					Actual:  lt.qty,
					Message: fmt.Sprintf("quantity %s exceeds remaining %s with %.2f%% tolerance", lt.qty.String(), balance.RemainingQty.String(), cfg.QtyTolerance*100),
				})
			}
		}

		if !cfg.ReceiptRequired {
			continue
		}
		if status, ok := balances.ThreeWay[lt.key]; ok {
			invoiced := status.InvoicedQty.Add(lt.qty)
			limit := status.ReceivedQty.Mul(qtyFactor)
			if invoiced.GreaterThan(limit) {
				violations = append(violations, models.Violation{
					Kind:    models.ViolationInvoiceOverReceipt,
					Key:     lt.key,
					Limit:   limit,
					Actual:  invoiced,
					Message: fmt.Sprintf("invoiced quantity %s would exceed received %s", invoiced.String(), status.ReceivedQty.String()),
				})
			}
		}
	}

	return violations
}

// GroupKeyOf resolves the grouping document of a link, falling back to the
// line's balance row when the link does not name one.
func GroupKeyOf(link models.ProposedLink, balances models.Balances) string {
	if link.GroupKey != "" {
		return link.GroupKey
	}
	if line, ok := balances.Lines[link.LineKey()]; ok {
		return line.GroupKey
	}
	return ""
}

func sumByGroup(links []models.ProposedLink, balances models.Balances) (map[string]decimal.Decimal, []string) {
	sums := make(map[string]decimal.Decimal)
	var order []string
	for _, l := range links {
		key := GroupKeyOf(l, balances)
		if key == "" {
			continue
		}
		if _, seen := sums[key]; !seen {
			order = append(order, key)
		}
		sums[key] = sums[key].Add(l.Amount)
	}
	return sums, order
}

func sumByLine(links []models.ProposedLink) []*lineTotals {
	index := make(map[string]*lineTotals)
	var order []*lineTotals
	for _, l := range links {
		key := l.LineKey()
		lt, ok := index[key]
		if !ok {
			lt = &lineTotals{key: key}
			index[key] = lt
			order = append(order, lt)
		}
		lt.amount = lt.amount.Add(l.Amount)
		if l.Quantity != nil {
			lt.qty = lt.qty.Add(*l.Quantity)
			lt.hasQty = true
		}
	}
	return order
}

// LineKeys returns the distinct line keys of links in first-seen order.
func LineKeys(links []models.ProposedLink) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, l := range links {
		if k := l.LineKey(); !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}

// GroupKeys returns the distinct explicit group keys of links in first-seen order.
func GroupKeys(links []models.ProposedLink) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, l := range links {
		if l.GroupKey != "" && !seen[l.GroupKey] {
			seen[l.GroupKey] = true
			keys = append(keys, l.GroupKey)
		}
	}
	return keys
}
