// Package tolerance resolves the amount/quantity tolerances, receipt
// requirement and scoring weights that apply to one match attempt.
//
// Settings are layered: hard defaults, then the global scope, then the
// project scope, then the vendor scope. Each layer overrides only the fields
// it defines. The result records which layers contributed so suggestion
// reasons can explain where a tolerance came from.
package tolerance

import (
	"context"
	"fmt"
	"strings"
)

// Scope names a configuration layer.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeProject Scope = "project"
	ScopeVendor  Scope = "vendor"
)

// Layer names recorded in Config.SourceLayers.
const (
	LayerDefaults = "defaults"
	LayerRequest  = "request"
)

// GlobalKey is the scope key the global layer is stored under.
const GlobalKey = "*"

// Hard defaults applied before any scope and whenever the store fails.
const (
	DefaultAmountTolerance = 0.02
	DefaultQtyTolerance    = 0.0
	DefaultReceiptRequired = false
)

// Weights are the signal weights of the bank-movement-to-document score.
type Weights struct {
	Amount       float64 `json:"amount" yaml:"amount"`
	Counterparty float64 `json:"counterparty" yaml:"counterparty"`
	Date         float64 `json:"date" yaml:"date"`
}

// DefaultWeights returns 0.5 amount, 0.3 counterparty, 0.2 date.
func DefaultWeights() Weights {
	return Weights{Amount: 0.5, Counterparty: 0.3, Date: 0.2}
}

// Config is a resolved, immutable tolerance configuration. Modifiers return copies.
type Config struct {
	AmountTolerance float64  `json:"amount_tolerance"`
	QtyTolerance    float64  `json:"qty_tolerance"`
	ReceiptRequired bool     `json:"receipt_required"`
	Weights         Weights  `json:"weights"`
	SourceLayers    []string `json:"source_layers"`
}

// Defaults returns the hard-coded configuration.
func Defaults() Config {
	return Config{
		AmountTolerance: DefaultAmountTolerance,
		QtyTolerance:    DefaultQtyTolerance,
		ReceiptRequired: DefaultReceiptRequired,
		Weights:         DefaultWeights(),
		SourceLayers:    []string{LayerDefaults},
	}
}

// WithAmountTolerance returns a copy with the amount tolerance replaced by a
// caller-supplied value and the "request" layer appended.
func (c Config) WithAmountTolerance(tolerance float64) Config {
	out := c.clone()
	out.AmountTolerance = tolerance
	out.SourceLayers = append(out.SourceLayers, LayerRequest)
	return out
}

// Layers renders SourceLayers for reason strings, e.g. "defaults,global,vendor".
func (c Config) Layers() string {
	return strings.Join(c.SourceLayers, ",")
}

// Validate checks that tolerances are non-negative fractions and weights are in range.
func (c Config) Validate() error {
	if c.AmountTolerance < 0 || c.AmountTolerance > 1 {
		return fmt.Errorf("amount tolerance must be between 0 and 1: %f", c.AmountTolerance)
	}
	if c.QtyTolerance < 0 || c.QtyTolerance > 1 {
		return fmt.Errorf("quantity tolerance must be between 0 and 1: %f", c.QtyTolerance)
	}
	for name, w := range map[string]float64{
		"amount":       c.Weights.Amount,
		"counterparty": c.Weights.Counterparty,
		"date":         c.Weights.Date,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%s weight must be between 0 and 1: %f", name, w)
		}
	}
	return nil
}

func (c Config) clone() Config {
	out := c
	out.SourceLayers = append([]string(nil), c.SourceLayers...)
	return out
}

// Override is one scope's partial settings. Nil fields are left to earlier layers.
type Override struct {
	AmountTolerance    *float64 `json:"amount_tolerance,omitempty" yaml:"amount_tolerance,omitempty"`
	QtyTolerance       *float64 `json:"qty_tolerance,omitempty" yaml:"qty_tolerance,omitempty"`
	ReceiptRequired    *bool    `json:"receipt_required,omitempty" yaml:"receipt_required,omitempty"`
	AmountWeight       *float64 `json:"amount_weight,omitempty" yaml:"amount_weight,omitempty"`
	CounterpartyWeight *float64 `json:"counterparty_weight,omitempty" yaml:"counterparty_weight,omitempty"`
	DateWeight         *float64 `json:"date_weight,omitempty" yaml:"date_weight,omitempty"`
}

// Defines reports whether the override sets at least one field.
func (o Override) Defines() bool {
	return o.AmountTolerance != nil || o.QtyTolerance != nil || o.ReceiptRequired != nil ||
		o.AmountWeight != nil || o.CounterpartyWeight != nil || o.DateWeight != nil
}

// applyTo returns base with every field o defines replaced.
func (o Override) applyTo(base Config) Config {
	out := base.clone()
	if o.AmountTolerance != nil {
		out.AmountTolerance = *o.AmountTolerance
	}
	if o.QtyTolerance != nil {
		out.QtyTolerance = *o.QtyTolerance
	}
	if o.ReceiptRequired != nil {
		out.ReceiptRequired = *o.ReceiptRequired
	}
	if o.AmountWeight != nil {
		out.Weights.Amount = *o.AmountWeight
	}
	if o.CounterpartyWeight != nil {
		out.Weights.Counterparty = *o.CounterpartyWeight
	}
	if o.DateWeight != nil {
		out.Weights.Date = *o.DateWeight
	}
	return out
}

// Store reads scope overrides. found=false means the scope has no entry.
type Store interface {
	GetTolerance(ctx context.Context, scope Scope, key string) (override Override, found bool, err error)
}

// Float is a helper for building overrides.
func Float(v float64) *float64 { return &v }

// Bool is a helper for building overrides.
func Bool(v bool) *bool { return &v }

// ScopeOverride is one stored scope entry, as loaded from configuration files.
type ScopeOverride struct {
	Scope    Scope    `json:"scope" yaml:"scope"`
	Key      string   `json:"key" yaml:"key"`
	Override Override `json:"override" yaml:",inline"`
}
