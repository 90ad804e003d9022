package tolerance

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type fakeStore struct {
	entries map[Scope]map[string]Override
	err     error
	calls   []Scope
}

func (f *fakeStore) GetTolerance(ctx context.Context, scope Scope, key string) (Override, bool, error) {
	f.calls = append(f.calls, scope)
	if f.err != nil {
		return Override{}, false, f.err
	}
	o, ok := f.entries[scope][key]
	return o, ok, nil
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: map[Scope]map[string]Override{
		ScopeGlobal:  {},
		ScopeProject: {},
		ScopeVendor:  {},
	}}
}

func TestResolve_DefaultsOnly(t *testing.T) {
	r := NewResolver(newFakeStore(), nil)
	cfg := r.Resolve(context.Background(), "V1", "P1")

	if cfg.AmountTolerance != 0.02 || cfg.QtyTolerance != 0 || cfg.ReceiptRequired {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.SourceLayers, []string{"defaults"}) {
		t.Errorf("expected [defaults], got %v", cfg.SourceLayers)
	}
	if cfg.Weights != DefaultWeights() {
		t.Errorf("expected default weights, got %+v", cfg.Weights)
	}
}

func TestResolve_PrecedenceAndPartialOverrides(t *testing.T) {
	store := newFakeStore()
	store.entries[ScopeGlobal][GlobalKey] = Override{AmountTolerance: Float(0.05), QtyTolerance: Float(0.1)}
	store.entries[ScopeProject]["P1"] = Override{ReceiptRequired: Bool(true)}
	store.entries[ScopeVendor]["V1"] = Override{AmountTolerance: Float(0.01)}

	cfg := NewResolver(store, nil).Resolve(context.Background(), "V1", "P1")

	if cfg.AmountTolerance != 0.01 {
		t.Errorf("vendor should win amount tolerance, got %f", cfg.AmountTolerance)
	}
	if cfg.QtyTolerance != 0.1 {
		t.Errorf("global quantity tolerance should survive partial overrides, got %f", cfg.QtyTolerance)
	}
	if !cfg.ReceiptRequired {
		t.Error("project receipt requirement should be kept")
	}
	want := []string{"defaults", "global", "project", "vendor"}
	if !reflect.DeepEqual(cfg.SourceLayers, want) {
		t.Errorf("expected %v, got %v", want, cfg.SourceLayers)
	}
}

func TestResolve_SourceLayersReflectDefinedScopesOnly(t *testing.T) {
	tests := []struct {
		name    string
		global  *Override
		project *Override
		vendor  *Override
		want    []string
	}{
		{"vendor only", nil, nil, &Override{QtyTolerance: Float(0.05)}, []string{"defaults", "vendor"}},
		{"global and vendor", &Override{DateWeight: Float(0.1)}, nil, &Override{ReceiptRequired: Bool(false)}, []string{"defaults", "global", "vendor"}},
		{"empty project entry", nil, &Override{}, nil, []string{"defaults"}},
		{"project only", nil, &Override{AmountTolerance: Float(0.03)}, nil, []string{"defaults", "project"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			if tt.global != nil {
				store.entries[ScopeGlobal][GlobalKey] = *tt.global
			}
			if tt.project != nil {
				store.entries[ScopeProject]["P"] = *tt.project
			}
			if tt.vendor != nil {
				store.entries[ScopeVendor]["V"] = *tt.vendor
			}

			r := NewResolver(store, nil)
			first := r.Resolve(context.Background(), "V", "P")
			second := r.Resolve(context.Background(), "V", "P")

			if !reflect.DeepEqual(first.SourceLayers, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, first.SourceLayers)
			}
			if first.Layers() != second.Layers() {
				t.Errorf("resolution not reproducible: %s vs %s", first.Layers(), second.Layers())
			}
		})
	}
}

func TestResolve_EmptyKeysSkipScopes(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store, nil)
	r.Resolve(context.Background(), "", "")

	if len(store.calls) != 1 || store.calls[0] != ScopeGlobal {
		t.Errorf("expected only the global scope to be read, got %v", store.calls)
	}
}

func TestResolve_StoreFailureFallsBackToDefaults(t *testing.T) {
	store := newFakeStore()
	store.entries[ScopeGlobal][GlobalKey] = Override{AmountTolerance: Float(0.2)}
	store.err = errors.New("connection refused")

	cfg := NewResolver(store, nil).Resolve(context.Background(), "V1", "P1")

	if cfg.AmountTolerance != DefaultAmountTolerance {
		t.Errorf("expected default amount tolerance, got %f", cfg.AmountTolerance)
	}
	if !reflect.DeepEqual(cfg.SourceLayers, []string{"defaults"}) {
		t.Errorf("expected [defaults], got %v", cfg.SourceLayers)
	}
}

func TestResolve_NilStore(t *testing.T) {
	cfg := NewResolver(nil, nil).Resolve(context.Background(), "V", "P")
	if cfg.Layers() != "defaults" {
		t.Errorf("expected defaults, got %s", cfg.Layers())
	}
}

func TestConfig_WithAmountToleranceDoesNotMutate(t *testing.T) {
	base := Defaults()
	changed := base.WithAmountTolerance(0.1)

	if base.AmountTolerance != DefaultAmountTolerance {
		t.Errorf("base config mutated: %f", base.AmountTolerance)
	}
	if len(base.SourceLayers) != 1 {
		t.Errorf("base layers mutated: %v", base.SourceLayers)
	}
	if changed.AmountTolerance != 0.1 || changed.Layers() != "defaults,request" {
		t.Errorf("unexpected override result: %+v", changed)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	bad := cfg
	bad.AmountTolerance = -0.1
	if bad.Validate() == nil {
		t.Error("expected negative tolerance to fail")
	}

	bad = cfg
	bad.Weights.Date = 1.5
	if bad.Validate() == nil {
		t.Error("expected weight above 1 to fail")
	}
}
