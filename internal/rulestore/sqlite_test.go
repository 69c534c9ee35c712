package rulestore

import (
	"context"
	"path/filepath"
	"testing"

	"signalwatch/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "rules.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func oversoldRule() model.Rule {
	return model.Rule{
		Name: "oversold", Enabled: true,
		Action: model.ActionBuy, Combinator: model.CombAND,
		Conditions: []model.Condition{
			{IndicatorKey: "RSI_14", Operator: model.OpLT, Operand: 30},
			{IndicatorKey: "STOCH_K_14_3_3", Operator: model.OpLT, Operand: 20},
		},
	}
}

func TestStore_SeedAndLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.SeedRule(ctx, oversoldRule())
	if err != nil {
		t.Fatalf("SeedRule: %v", err)
	}
	if id == 0 {
		t.Fatal("SeedRule returned zero id")
	}

	rules, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("rules = %d, want 1", len(rules))
	}
	r := rules[0]
	if r.ID != id || r.Name != "oversold" || r.Action != model.ActionBuy || r.Combinator != model.CombAND {
		t.Errorf("loaded rule = %+v", r)
	}
	if len(r.Conditions) != 2 {
		t.Fatalf("conditions = %d, want 2", len(r.Conditions))
	}
	c := r.Conditions[0]
	if c.IndicatorKey != "RSI_14" || c.Operator != model.OpLT || c.Operand != 30 {
		t.Errorf("condition 0 = %+v", c)
	}
}

func TestStore_LoadSkipsDisabledRules(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	disabled := oversoldRule()
	disabled.Name = "disabled"
	disabled.Enabled = false
	if _, err := s.SeedRule(ctx, disabled); err != nil {
		t.Fatalf("SeedRule: %v", err)
	}
	if _, err := s.SeedRule(ctx, oversoldRule()); err != nil {
		t.Fatalf("SeedRule: %v", err)
	}

	rules, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(rules) != 1 || rules[0].Name != "oversold" {
		t.Errorf("rules = %+v, want only the enabled one", rules)
	}
}

func TestStore_LoadDropsConditionlessRules(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	empty := model.Rule{Name: "empty", Enabled: true, Action: model.ActionBuy, Combinator: model.CombAND}
	if _, err := s.SeedRule(ctx, empty); err != nil {
		t.Fatalf("SeedRule: %v", err)
	}

	rules, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(rules) != 0 {
		t.Errorf("rules = %+v, a rule without conditions can never trigger", rules)
	}
}

func TestStore_RefreshUpdatesCachedView(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(s.Rules()) != 0 {
		t.Fatalf("fresh store should expose no rules")
	}

	if _, err := s.SeedRule(ctx, oversoldRule()); err != nil {
		t.Fatalf("SeedRule: %v", err)
	}
	// The cached view is stale until the next refresh tick.
	if len(s.Rules()) != 0 {
		t.Error("cached view changed without a refresh")
	}
	if err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(s.Rules()) != 1 {
		t.Errorf("rules after refresh = %d, want 1", len(s.Rules()))
	}
}

func TestStore_RefreshErrorKeepsPreviousView(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.SeedRule(ctx, oversoldRule()); err != nil {
		t.Fatalf("SeedRule: %v", err)
	}
	if err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// Close the database underneath the store; the next refresh fails but
	// the cached rules survive.
	s.db.Close()
	if err := s.Refresh(ctx); err == nil {
		t.Fatal("Refresh on a closed database should error")
	}
	if len(s.Rules()) != 1 {
		t.Errorf("previous view lost on failed refresh: %d rules", len(s.Rules()))
	}
}
