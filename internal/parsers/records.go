package parsers

import (
	"context"
	"fmt"
	"strings"

	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
)

// Column names of the supported CSV files.
const (
	ColID               = "id"
	ColKind             = "kind"
	ColAmount           = "amount"
	ColCurrency         = "currency"
	ColDate             = "date"
	ColCounterpartyName = "counterparty_name"
	ColCounterpartyID   = "counterparty_id"
	ColProjectID        = "project_id"
	ColGroupKey         = "group_key"
	ColRemainingAmount  = "remaining_amount"
	ColRemainingQty     = "remaining_qty"

	ColRecord      = "record"
	ColKey         = "key"
	ColQty         = "qty"
	ColOrderedQty  = "ordered_qty"
	ColReceivedQty = "received_qty"
	ColInvoicedQty = "invoiced_qty"

	ColCandidateID = "candidate_id"
	ColLineID      = "line_id"
	ColQuantity    = "quantity"
)

// Record types of a balances file.
const (
	RecordGroup    = "group"
	RecordLine     = "line"
	RecordThreeWay = "three-way"
)

// Loader reads the engine's CSV inputs.
type Loader struct {
	*BaseParser
	logger logger.Logger
}

// NewLoader creates a loader; nil config means DefaultParseConfig.
func NewLoader(config *ParseConfig, log logger.Logger) *Loader {
	log = logger.OrNop(log)
	return &Loader{
		BaseParser: NewBaseParser(config, log),
		logger:     log.WithComponent("loader"),
	}
}

func rowErr(pc *ParseContext, field, value, message string, err error) *RowError {
	return &RowError{Line: pc.LineNumber, Field: field, Value: value, Message: message, Err: err}
}

// LoadTargets reads targets with columns
// id,kind,amount,date[,currency,counterparty_name,counterparty_id,project_id].
func (l *Loader) LoadTargets(ctx context.Context, filePath string) ([]models.Target, *ParseStats, error) {
	var targets []models.Target
	stats, err := l.parseFile(ctx, filePath, []string{ColID, ColKind, ColAmount, ColDate}, func(record []string, pc *ParseContext) *RowError {
		id, e := l.RequiredField(record, pc, ColID)
		if e != nil {
			return e
		}
		t := models.Target{
			ID:               id,
			Kind:             models.TargetKind(strings.ToLower(l.Field(record, pc, ColKind))),
			Currency:         strings.ToUpper(l.Field(record, pc, ColCurrency)),
			CounterpartyName: l.Field(record, pc, ColCounterpartyName),
			CounterpartyID:   l.Field(record, pc, ColCounterpartyID),
			ProjectID:        l.Field(record, pc, ColProjectID),
		}

		raw := l.Field(record, pc, ColAmount)
		amount, err := ParseAmount(raw)
		if err != nil {
			return rowErr(pc, ColAmount, raw, "invalid amount", err)
		}
		t.Amount = amount

		raw = l.Field(record, pc, ColDate)
		if t.Date, err = ParseDate(raw); err != nil {
			return rowErr(pc, ColDate, raw, "invalid date", err)
		}

		if err := t.Validate(); err != nil {
			return rowErr(pc, ColKind, string(t.Kind), "invalid target", err)
		}
		targets = append(targets, t)
		return nil
	})
	return targets, stats, err
}

// LoadCandidates reads candidates with columns
// id,kind,amount,date[,counterparty_name,counterparty_id,group_key,project_id,remaining_amount,remaining_qty].
func (l *Loader) LoadCandidates(ctx context.Context, filePath string) ([]models.Candidate, *ParseStats, error) {
	var candidates []models.Candidate
	seen := make(map[string]bool)
	stats, err := l.parseFile(ctx, filePath, []string{ColID, ColKind, ColAmount, ColDate}, func(record []string, pc *ParseContext) *RowError {
		id, e := l.RequiredField(record, pc, ColID)
		if e != nil {
			return e
		}
		if seen[id] {
			return rowErr(pc, ColID, id, "duplicate candidate id", nil)
		}

		raw := l.Field(record, pc, ColKind)
		kind, err := models.ParseCandidateKind(raw)
		if err != nil {
			return rowErr(pc, ColKind, raw, "invalid kind", err)
		}

		c := models.Candidate{
			ID:               id,
			Kind:             kind,
			CounterpartyName: l.Field(record, pc, ColCounterpartyName),
			CounterpartyID:   l.Field(record, pc, ColCounterpartyID),
			GroupKey:         l.Field(record, pc, ColGroupKey),
			ProjectID:        l.Field(record, pc, ColProjectID),
		}

		raw = l.Field(record, pc, ColAmount)
		if c.Amount, err = ParseAmount(raw); err != nil {
			return rowErr(pc, ColAmount, raw, "invalid amount", err)
		}
		raw = l.Field(record, pc, ColDate)
		if c.Date, err = ParseDate(raw); err != nil {
			return rowErr(pc, ColDate, raw, "invalid date", err)
		}
		raw = l.Field(record, pc, ColRemainingAmount)
		if c.RemainingAmount, err = parseOptionalAmount(raw); err != nil {
			return rowErr(pc, ColRemainingAmount, raw, "invalid remaining amount", err)
		}
		raw = l.Field(record, pc, ColRemainingQty)
		if c.RemainingQty, err = parseOptionalAmount(raw); err != nil {
			return rowErr(pc, ColRemainingQty, raw, "invalid remaining quantity", err)
		}

		seen[id] = true
		candidates = append(candidates, c)
		return nil
	})
	return candidates, stats, err
}

// Balances groups the records of a balances file.
type Balances struct {
	Groups   []models.GroupBalance
	Lines    []models.LineBalance
	ThreeWay []models.ThreeWayStatus
}

// LoadBalances reads a balances file. The record column selects the row type:
//
//	group:     key, amount (open total)
//	line:      key, group_key, amount (remaining), qty (remaining, optional)
//	three-way: key, ordered_qty, received_qty, invoiced_qty
func (l *Loader) LoadBalances(ctx context.Context, filePath string) (*Balances, *ParseStats, error) {
	out := &Balances{}
	stats, err := l.parseFile(ctx, filePath, []string{ColRecord, ColKey}, func(record []string, pc *ParseContext) *RowError {
		key, e := l.RequiredField(record, pc, ColKey)
		if e != nil {
			return e
		}

		switch kind := strings.ToLower(l.Field(record, pc, ColRecord)); kind {
		case RecordGroup:
			raw := l.Field(record, pc, ColAmount)
			total, err := ParseAmount(raw)
			if err != nil {
				return rowErr(pc, ColAmount, raw, "invalid group total", err)
			}
			out.Groups = append(out.Groups, models.GroupBalance{GroupKey: key, Total: total})

		case RecordLine:
			raw := l.Field(record, pc, ColAmount)
			remaining, err := ParseAmount(raw)
			if err != nil {
				return rowErr(pc, ColAmount, raw, "invalid remaining amount", err)
			}
			raw = l.Field(record, pc, ColQty)
			qty, err := parseOptionalAmount(raw)
			if err != nil {
				return rowErr(pc, ColQty, raw, "invalid remaining quantity", err)
			}
			out.Lines = append(out.Lines, models.LineBalance{
				LineKey:         key,
				GroupKey:        l.Field(record, pc, ColGroupKey),
				RemainingAmount: remaining,
				RemainingQty:    qty,
			})

		case RecordThreeWay, "three_way", "threeway":
			status := models.ThreeWayStatus{LineKey: key}
			for col, dst := range map[string]*decimal.Decimal{
				ColOrderedQty:  &status.OrderedQty,
				ColReceivedQty: &status.ReceivedQty,
				ColInvoicedQty: &status.InvoicedQty,
			} {
				raw := l.Field(record, pc, col)
				v, err := ParseAmount(raw)
				if err != nil {
					return rowErr(pc, col, raw, "invalid quantity", err)
				}
				*dst = v
			}
			out.ThreeWay = append(out.ThreeWay, status)

		default:
			return rowErr(pc, ColRecord, kind, fmt.Sprintf("record must be %s, %s or %s", RecordGroup, RecordLine, RecordThreeWay), nil)
		}
		return nil
	})
	return out, stats, err
}

// LoadLinks reads proposed links with columns
// candidate_id,amount[,line_id,group_key,quantity].
func (l *Loader) LoadLinks(ctx context.Context, filePath string) ([]models.ProposedLink, *ParseStats, error) {
	var links []models.ProposedLink
	stats, err := l.parseFile(ctx, filePath, []string{ColCandidateID, ColAmount}, func(record []string, pc *ParseContext) *RowError {
		id, e := l.RequiredField(record, pc, ColCandidateID)
		if e != nil {
			return e
		}
		raw := l.Field(record, pc, ColAmount)
		amount, err := ParseAmount(raw)
		if err != nil {
			return rowErr(pc, ColAmount, raw, "invalid amount", err)
		}
		raw = l.Field(record, pc, ColQuantity)
		qty, err := parseOptionalAmount(raw)
		if err != nil {
			return rowErr(pc, ColQuantity, raw, "invalid quantity", err)
		}
		links = append(links, models.ProposedLink{
			CandidateID: id,
			LineID:      l.Field(record, pc, ColLineID),
			GroupKey:    l.Field(record, pc, ColGroupKey),
			Amount:      amount,
			Quantity:    qty,
		})
		return nil
	})
	return links, stats, err
}
