package runtime

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero/experimental"
)

func TestGasStateResetForInvocationPreservesExternallyUsed(t *testing.T) {
	g := NewGasState(1000)
	if err := g.ProcessGasInfo(GasInfo{ExternallyUsed: 200, Cost: 50}); err != nil {
		t.Fatalf("unexpected depletion: %v", err)
	}
	if g.ExternallyUsed != 200 {
		t.Fatalf("expected externally used 200, got %d", g.ExternallyUsed)
	}

	g.ResetForInvocation()
	if got := g.GetGasLeft(); got != 800 {
		t.Fatalf("expected internal meter reset to limit-externally_used (800), got %d", got)
	}
}

func TestGasStateResetForInvocationFloorsAtZero(t *testing.T) {
	g := NewGasState(100)
	g.ExternallyUsed = 150
	g.ResetForInvocation()
	if got := g.GetGasLeft(); got != 0 {
		t.Fatalf("expected floored-at-zero meter, got %d", got)
	}
}

func TestGasStateDecreaseGasLeftSaturates(t *testing.T) {
	g := NewGasState(10)
	if err := g.DecreaseGasLeft(15); err != ErrGasDepletion {
		t.Fatalf("expected ErrGasDepletion, got %v", err)
	}
	if got := g.GetGasLeft(); got != 0 {
		t.Fatalf("expected meter saturated at 0, got %d", got)
	}
}

func TestGasStateProcessGasInfoNonNegativity(t *testing.T) {
	// used_externally + used_internally must never exceed limit, at every observable point.
	g := NewGasState(1000)
	events := []GasInfo{
		{ExternallyUsed: 100, Cost: 50},
		{ExternallyUsed: 200, Cost: 100},
		{ExternallyUsed: 50, Cost: 10},
	}
	for _, ev := range events {
		_ = g.ProcessGasInfo(ev)
		report := g.Report()
		if report.UsedExternally+report.UsedInternally > report.Limit {
			t.Fatalf("gas non-negativity violated: externally=%d internally=%d limit=%d",
				report.UsedExternally, report.UsedInternally, report.Limit)
		}
	}
}

func TestGasStateProcessGasInfoReportsDepletion(t *testing.T) {
	g := NewGasState(100)
	if err := g.ProcessGasInfo(GasInfo{ExternallyUsed: 80, Cost: 30}); err != ErrGasDepletion {
		t.Fatalf("expected ErrGasDepletion when external+cost exceeds remaining, got %v", err)
	}
	if got := g.GetGasLeft(); got != 0 {
		t.Fatalf("expected meter floored at 0 after depletion, got %d", got)
	}
	if g.ExternallyUsed != 80 {
		t.Fatalf("expected externally_used to still accumulate the reported cost even on depletion, got %d", g.ExternallyUsed)
	}
}

func TestGasStateReportAccounting(t *testing.T) {
	g := NewGasState(500)
	_ = g.ProcessGasInfo(GasInfo{ExternallyUsed: 100, Cost: 20})
	report := g.Report()
	if report.Limit != 500 {
		t.Fatalf("expected limit 500, got %d", report.Limit)
	}
	if report.UsedExternally != 100 {
		t.Fatalf("expected used_externally 100, got %d", report.UsedExternally)
	}
	wantInternal := uint64(500 - 100 - report.Remaining)
	if report.UsedInternally != wantInternal {
		t.Fatalf("expected used_internally %d, got %d", wantInternal, report.UsedInternally)
	}
}

func TestCostTableIsDeterministic(t *testing.T) {
	t1 := defaultCostTable.costForBodySize(40)
	t2 := defaultCostTable.costForBodySize(40)
	if t1 != t2 {
		t.Fatalf("expected deterministic cost for identical body size, got %d and %d", t1, t2)
	}
	if defaultCostTable.costForBodySize(80) <= t1 {
		t.Fatalf("expected cost to increase with body size")
	}
}

func TestGasStateExecutionBudgetScalesWithRemaining(t *testing.T) {
	g := NewGasState(20000)
	if got := g.ExecutionBudget(); got != 20000*gasToWallClockUnit {
		t.Fatalf("expected a budget proportional to gas remaining, got %v", got)
	}
}

func TestGasStateExecutionBudgetCapsAtMaximum(t *testing.T) {
	g := NewGasState(^uint64(0))
	if got := g.ExecutionBudget(); got != maxExecutionBudget {
		t.Fatalf("expected the budget to be capped at %v, got %v", maxExecutionBudget, got)
	}
}

func TestGasStateExecutionBudgetAtZeroStillCapsRatherThanBlocking(t *testing.T) {
	g := NewGasState(0)
	if got := g.ExecutionBudget(); got != maxExecutionBudget {
		t.Fatalf("expected a zero remaining meter to fall back to the capped budget, got %v", got)
	}
}

func TestGasListenerFactorySatisfiesExperimentalInterface(t *testing.T) {
	statePtr := new(*GasState)
	*statePtr = NewGasState(1000)
	var factory experimental.FunctionListenerFactory = &gasListenerFactory{state: statePtr, costs: defaultCostTable}
	def := fakeFunctionDefinition{fnName: "noop"}
	listener := factory.NewFunctionListener(def)
	var _ experimental.FunctionListener = listener

	listener.Before(context.Background(), nil, def, nil, nil)
	if (*statePtr).GetGasLeft() != 1000-defaultCostTable.baseCost {
		t.Fatalf("expected Before to charge the base cost, got %d remaining", (*statePtr).GetGasLeft())
	}
	listener.After(context.Background(), nil, def, nil)
	listener.Abort(context.Background(), nil, def, nil)
}
