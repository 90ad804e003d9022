package parsers

import (
	"fmt"
	"os"
	"sort"

	"golang-reconciliation-engine/internal/tolerance"
	"golang-reconciliation-engine/pkg/errors"

	"gopkg.in/yaml.v3"
)

// toleranceFile is the YAML layout of a tolerance scopes file:
//
//	global:
//	  amount_tolerance: 0.02
//	projects:
//	  P-7:
//	    receipt_required: true
//	vendors:
//	  V-100:
//	    amount_tolerance: 0.05
//	    qty_tolerance: 0.1
type toleranceFile struct {
	Global   *tolerance.Override           `yaml:"global"`
	Projects map[string]tolerance.Override `yaml:"projects"`
	Vendors  map[string]tolerance.Override `yaml:"vendors"`
	Scopes   []tolerance.ScopeOverride     `yaml:"scopes"`
}

// LoadToleranceScopes reads scope overrides from a YAML file. Overrides may
// be given by section (global, projects, vendors) or as an explicit scopes list.
func LoadToleranceScopes(filePath string) ([]tolerance.ScopeOverride, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.ConfigUnavailable("tolerance_file", err).WithContext("file", filePath)
	}
	return ParseToleranceScopes(raw, filePath)
}

// ParseToleranceScopes decodes the YAML layout of LoadToleranceScopes.
func ParseToleranceScopes(raw []byte, source string) ([]tolerance.ScopeOverride, error) {
	var doc toleranceFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.ParseError(errors.CodeInvalidFormat, source, 0, "yaml", err)
	}

	var out []tolerance.ScopeOverride
	if doc.Global != nil {
		out = append(out, tolerance.ScopeOverride{Scope: tolerance.ScopeGlobal, Key: tolerance.GlobalKey, Override: *doc.Global})
	}
	for _, key := range sortedKeys(doc.Projects) {
		out = append(out, tolerance.ScopeOverride{Scope: tolerance.ScopeProject, Key: key, Override: doc.Projects[key]})
	}
	for _, key := range sortedKeys(doc.Vendors) {
		out = append(out, tolerance.ScopeOverride{Scope: tolerance.ScopeVendor, Key: key, Override: doc.Vendors[key]})
	}
	out = append(out, doc.Scopes...)

	for i, so := range out {
		if err := validateScope(so); err != nil {
			return nil, errors.InvalidConfig(fmt.Sprintf("tolerance scope %d", i), so.Key, err).
				WithContext("file", source)
		}
	}
	return out, nil
}

func sortedKeys(m map[string]tolerance.Override) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func validateScope(so tolerance.ScopeOverride) error {
	switch so.Scope {
	case tolerance.ScopeGlobal, tolerance.ScopeProject, tolerance.ScopeVendor:
	default:
		return fmt.Errorf("unknown scope %q", so.Scope)
	}
	if so.Key == "" {
		return fmt.Errorf("%s scope needs a key", so.Scope)
	}
	for name, v := range map[string]*float64{
		"amount_tolerance":    so.Override.AmountTolerance,
		"qty_tolerance":       so.Override.QtyTolerance,
		"amount_weight":       so.Override.AmountWeight,
		"counterparty_weight": so.Override.CounterpartyWeight,
		"date_weight":         so.Override.DateWeight,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1: %f", name, *v)
		}
	}
	return nil
}
