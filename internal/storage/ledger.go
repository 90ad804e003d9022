package storage

import (
	"golang-reconciliation-engine/internal/models"

	"github.com/shopspring/decimal"
)

// ledger sums persisted links so base balances can be turned into open balances.
type ledger struct {
	lineAmount  map[string]decimal.Decimal
	lineQty     map[string]decimal.Decimal
	groupAmount map[string]decimal.Decimal
}

func newLedger(links []models.Link) ledger {
	l := ledger{
		lineAmount:  make(map[string]decimal.Decimal),
		lineQty:     make(map[string]decimal.Decimal),
		groupAmount: make(map[string]decimal.Decimal),
	}
	for _, link := range links {
		key := link.LineKey()
		l.lineAmount[key] = l.lineAmount[key].Add(link.Amount)
		if link.Quantity != nil {
			l.lineQty[key] = l.lineQty[key].Add(*link.Quantity)
		}
		if link.GroupKey != "" {
			l.groupAmount[link.GroupKey] = l.groupAmount[link.GroupKey].Add(link.Amount)
		}
	}
	return l
}

func (l ledger) openLine(b models.LineBalance) models.LineBalance {
	b.RemainingAmount = b.RemainingAmount.Sub(l.lineAmount[b.LineKey])
	if b.RemainingQty != nil {
		b.RemainingQty = models.DecimalPtr(b.RemainingQty.Sub(l.lineQty[b.LineKey]))
	}
	return b
}

func (l ledger) openGroup(g models.GroupBalance) models.GroupBalance {
	g.Total = g.Total.Sub(l.groupAmount[g.GroupKey])
	return g
}

// openThreeWay counts linked quantities as invoiced.
func (l ledger) openThreeWay(s models.ThreeWayStatus) models.ThreeWayStatus {
	s.InvoicedQty = s.InvoicedQty.Add(l.lineQty[s.LineKey])
	return s
}

// openCandidate sets the candidate's remaining amount and quantity net of
// links. ok=false means nothing is left to allocate.
func (l ledger) openCandidate(c models.Candidate, line *models.LineBalance) (models.Candidate, bool) {
	linked, hasLinks := l.lineAmount[c.LineKey()]
	if line == nil && !hasLinks {
		return c, true
	}

	base := c.Amount
	if line != nil {
		open := l.openLine(*line)
		base = open.RemainingAmount
		c.RemainingQty = open.RemainingQty
	} else {
		base = base.Sub(linked)
	}
	c.RemainingAmount = models.DecimalPtr(base)
	return c, base.IsPositive()
}

// candidateLine is the base balance of a candidate without a line row: its
// own amount, drawn against its group. A PO header without a group is its own
// group.
func candidateLine(c models.Candidate) models.LineBalance {
	group := c.GroupKey
	if group == "" && c.Kind == models.KindPOHeader {
		group = c.ID
	}
	return models.LineBalance{
		LineKey:         c.LineKey(),
		GroupKey:        group,
		RemainingAmount: c.Amount,
	}
}

// missingLines returns the keys that have no line row.
func missingLines(lineKeys []string, lines map[string]models.LineBalance) []string {
	var missing []string
	for _, k := range lineKeys {
		if _, ok := lines[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}

// resolveGroupKeys fills empty link group keys from line balances.
func resolveGroupKeys(links []models.Link, lines map[string]models.LineBalance) []models.Link {
	out := make([]models.Link, len(links))
	for i, link := range links {
		if link.GroupKey == "" {
			if line, ok := lines[link.LineKey()]; ok {
				link.GroupKey = line.GroupKey
			}
		}
		out[i] = link
	}
	return out
}
