package flow

import (
	"errors"
	"testing"
)

// buildChain wires the S1 shape: workflow inputs {x}, step1 doubles,
// step2 increments step1's result, output y reads step2.
func buildChain(t *testing.T, reg *Registry) *Workflow {
	t.Helper()
	w := NewWorkflow("chain", "test.chain",
		[]PropertySet{{Name: "x"}},
		[]PropertySet{{Name: "y"}}, nil)

	step1 := mustOpStep("step1", "test.double", reg)
	step2 := mustOpStep("step2", "test.inc", reg)
	if err := w.AddStep(step1, false); err != nil {
		t.Fatal(err)
	}
	if err := w.AddStep(step2, false); err != nil {
		t.Fatal(err)
	}

	in1, _ := step1.InputByName("x")
	mustBindRef(in1, ".x")
	in2, _ := step2.InputByName("x")
	mustBindRef(in2, "step1.return")
	mustBindRef(w.Outputs()[0], "step2.return")

	if err := w.UpdateSources(); err != nil {
		t.Fatal(err)
	}
	return w
}

func TestAddStepDuplicate(t *testing.T) {
	reg := newTestRegistry(nil)
	w := NewWorkflow("w", "test.w", nil, nil, nil)
	if err := w.AddStep(mustOpStep("a", "test.double", reg), false); err != nil {
		t.Fatal(err)
	}
	err := w.AddStep(mustOpStep("a", "test.inc", reg), false)
	var dup *DuplicateStepIdError
	if !errors.As(err, &dup) {
		t.Fatalf("duplicate AddStep = %v, want DuplicateStepIdError", err)
	}
	if err := w.AddStep(mustOpStep("a", "test.inc", reg), true); err != nil {
		t.Fatalf("AddStep with canExist = %v, want nil", err)
	}
}

func TestAddStepReplacementClearsResolvedSources(t *testing.T) {
	reg := newTestRegistry(nil)
	w := buildChain(t, reg)

	replacement := mustOpStep("step1", "test.inc", reg)
	if err := w.AddStep(replacement, true); err != nil {
		t.Fatal(err)
	}

	step2, _ := w.FindStep("step2")
	in, _ := step2.InputByName("x")
	if in.IsBound() {
		t.Error("sibling port still holds a resolved source to the replaced step")
	}
	if in.HasValue() {
		t.Error("sibling port should be undefined after replacement")
	}
}

func TestAddStepReplacementPreservesSymbolicRefs(t *testing.T) {
	reg := newTestRegistry(nil)
	w := NewWorkflow("w", "test.w", nil, nil, nil)
	a := mustOpStep("a", "test.double", reg)
	b := mustOpStep("b", "test.inc", reg)
	if err := w.AddStep(a, false); err != nil {
		t.Fatal(err)
	}
	if err := w.AddStep(b, false); err != nil {
		t.Fatal(err)
	}
	in, _ := b.InputByName("x")
	mustBindRef(in, "a.return") // never resolved

	if err := w.AddStep(mustOpStep("a", "test.double", reg), true); err != nil {
		t.Fatal(err)
	}
	if got := in.SourceRef(); got != "a.return" {
		t.Fatalf("symbolic ref lost on replacement: %q", got)
	}
	// A like-named replacement reconnects via UpdateSources.
	if err := w.UpdateSources(); err != nil {
		t.Fatal(err)
	}
	if !in.IsBound() {
		t.Error("symbolic ref did not rebind to the replacement step")
	}
}

func TestRemoveStepClearsSources(t *testing.T) {
	reg := newTestRegistry(nil)
	w := buildChain(t, reg)
	if err := w.RemoveStep("step1", true); err != nil {
		t.Fatal(err)
	}
	step2, _ := w.FindStep("step2")
	in, _ := step2.InputByName("x")
	if in.IsBound() {
		t.Error("port still bound to a removed step")
	}
	if _, ok := w.FindStep("step1"); ok {
		t.Error("removed step still findable")
	}
	if err := w.RemoveStep("gone", false); err != nil {
		t.Errorf("RemoveStep without mustExist = %v, want nil", err)
	}
	if err := w.RemoveStep("gone", true); err == nil {
		t.Error("RemoveStep with mustExist should fail for a missing id")
	}
}

func TestRenameStepCascades(t *testing.T) {
	reg := newTestRegistry(nil)
	w := buildChain(t, reg)

	if err := w.RenameStep("step1", "src"); err != nil {
		t.Fatal(err)
	}
	if _, ok := w.FindStep("step1"); ok {
		t.Error("old id still in step lookup")
	}
	step, ok := w.FindStep("src")
	if !ok {
		t.Fatal("new id not in step lookup")
	}
	if step.ID() != "src" {
		t.Errorf("step.ID() = %q, want src", step.ID())
	}

	// The dependent port keeps pointing at the same logical output and
	// serializes under the new id.
	step2, _ := w.FindStep("step2")
	in, _ := step2.InputByName("x")
	if got := in.SourceRef(); got != "src.return" {
		t.Errorf("source after rename = %q, want %q", got, "src.return")
	}

	if err := w.RenameStep("missing", "other"); err == nil {
		t.Error("renaming a missing step should fail")
	}
	if err := w.RenameStep("src", "step2"); err == nil {
		t.Error("renaming onto an existing id should fail")
	}
	if err := w.RenameStep("src", ""); err == nil {
		t.Error("renaming to an empty id should fail")
	}
}

func TestRenameStepRewritesUnresolvedRefs(t *testing.T) {
	reg := newTestRegistry(nil)
	w := NewWorkflow("w", "test.w", nil, []PropertySet{{Name: "out"}}, nil)
	a := mustOpStep("a", "test.double", reg)
	if err := w.AddStep(a, false); err != nil {
		t.Fatal(err)
	}
	mustBindRef(w.Outputs()[0], "a.return") // left unresolved on purpose

	if err := w.RenameStep("a", "renamed"); err != nil {
		t.Fatal(err)
	}
	if got := w.Outputs()[0].SourceRef(); got != "renamed.return" {
		t.Errorf("unresolved ref after rename = %q, want renamed.return", got)
	}
	if err := w.UpdateSources(); err != nil {
		t.Errorf("UpdateSources after rename = %v", err)
	}
}

// TestSortedStepsDiamond is the diamond topology: B and C both read A,
// D reads both. A must come first, D last, B and C in insertion order.
func TestSortedStepsDiamond(t *testing.T) {
	reg := newTestRegistry(nil)
	w := NewWorkflow("d", "test.diamond", []PropertySet{{Name: "x"}}, nil, nil)

	a := mustOpStep("A", "test.double", reg)
	b := mustOpStep("B", "test.inc", reg)
	c := mustOpStep("C", "test.inc", reg)
	d := mustOpStep("D", "test.add", reg)
	// Insert out of dependency order on purpose.
	for _, s := range []Step{d, c, b, a} {
		if err := w.AddStep(s, false); err != nil {
			t.Fatal(err)
		}
	}
	aIn, _ := a.InputByName("x")
	mustBindRef(aIn, ".x")
	bIn, _ := b.InputByName("x")
	mustBindRef(bIn, "A.return")
	cIn, _ := c.InputByName("x")
	mustBindRef(cIn, "A.return")
	dx, _ := d.InputByName("x")
	mustBindRef(dx, "B.return")
	dy, _ := d.InputByName("y")
	mustBindRef(dy, "C.return")
	if err := w.UpdateSources(); err != nil {
		t.Fatal(err)
	}

	order := w.SortedSteps()
	ids := make([]string, len(order))
	for i, s := range order {
		ids[i] = s.ID()
	}
	want := []string{"A", "C", "B", "D"} // C before B: insertion order ties
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("SortedSteps() = %v, want %v", ids, want)
		}
	}
}

func TestRequiresAndMaxDistance(t *testing.T) {
	reg := newTestRegistry(nil)
	w := buildChain(t, reg)
	step1, _ := w.FindStep("step1")
	step2, _ := w.FindStep("step2")

	if !requires(step2, step1) {
		t.Error("step2 should require step1")
	}
	if requires(step1, step2) {
		t.Error("step1 should not require step2")
	}
	if requires(step1, step1) {
		t.Error("a step should never require itself")
	}
	if d := maxDistanceTo(step2, step1); d != 1 {
		t.Errorf("maxDistanceTo(step2, step1) = %d, want 1", d)
	}
	if d := maxDistanceTo(step1, step1); d != 0 {
		t.Errorf("maxDistanceTo(self) = %d, want 0", d)
	}
	if d := maxDistanceTo(step1, step2); d != -1 {
		t.Errorf("maxDistanceTo without a path = %d, want -1", d)
	}
}

func TestStepsToCompute(t *testing.T) {
	reg := newTestRegistry(nil)
	w := NewWorkflow("d", "test.partial", []PropertySet{{Name: "x"}}, nil, nil)
	a := mustOpStep("A", "test.double", reg)
	b := mustOpStep("B", "test.inc", reg)
	other := mustOpStep("unrelated", "test.inc", reg)
	for _, s := range []Step{a, b, other} {
		if err := w.AddStep(s, false); err != nil {
			t.Fatal(err)
		}
	}
	aIn, _ := a.InputByName("x")
	mustBindRef(aIn, ".x")
	bIn, _ := b.InputByName("x")
	mustBindRef(bIn, "A.return")
	if err := w.UpdateSources(); err != nil {
		t.Fatal(err)
	}

	steps, err := w.StepsToCompute("B")
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID()
	}
	if len(ids) != 2 || ids[0] != "A" || ids[1] != "B" {
		t.Errorf("StepsToCompute(B) = %v, want [A B]", ids)
	}

	if _, err := w.StepsToCompute("missing"); err == nil {
		t.Error("StepsToCompute(missing) should fail")
	}
}

func TestResolveSourceRefCases(t *testing.T) {
	reg := newTestRegistry(nil)

	build := func(t *testing.T) (*Workflow, *OpStep, *NoOpStep) {
		t.Helper()
		w := NewWorkflow("w", "test.resolve", []PropertySet{{Name: "wf_in"}}, nil, nil)
		single := mustOpStep("single", "test.double", reg)
		multi := NewNoOpStep("multi",
			[]PropertySet{{Name: "in"}},
			[]PropertySet{{Name: "lo"}, {Name: "hi"}}, false)
		if err := w.AddStep(single, false); err != nil {
			t.Fatal(err)
		}
		if err := w.AddStep(multi, false); err != nil {
			t.Fatal(err)
		}
		return w, single, multi
	}

	t.Run("node and port", func(t *testing.T) {
		w, single, multi := build(t)
		in, _ := multi.InputByName("in")
		mustBindRef(in, "single.return")
		if err := w.UpdateSources(); err != nil {
			t.Fatal(err)
		}
		if in.source != single.Outputs()[0] {
			t.Error("did not resolve to single's return output")
		}
	})

	t.Run("bare node with one output", func(t *testing.T) {
		w, single, multi := build(t)
		in, _ := multi.InputByName("in")
		mustBindRef(in, "single")
		if err := w.UpdateSources(); err != nil {
			t.Fatal(err)
		}
		if in.source != single.Outputs()[0] {
			t.Error("bare node ref did not resolve to the sole output")
		}
	})

	t.Run("bare node ambiguous", func(t *testing.T) {
		w, single, _ := build(t)
		in, _ := single.InputByName("x")
		mustBindRef(in, "multi")
		err := w.UpdateSources()
		var amb *AmbiguousNodeError
		if !errors.As(err, &amb) {
			t.Fatalf("UpdateSources = %v, want AmbiguousNodeError", err)
		}
	})

	t.Run("dotted scope lookup", func(t *testing.T) {
		w, single, _ := build(t)
		in, _ := single.InputByName("x")
		mustBindRef(in, ".wf_in")
		if err := w.UpdateSources(); err != nil {
			t.Fatal(err)
		}
		if in.source != w.Inputs()[0] {
			t.Error("dotted ref did not resolve to the workflow input")
		}
	})

	t.Run("unknown node", func(t *testing.T) {
		w, single, _ := build(t)
		in, _ := single.InputByName("x")
		mustBindRef(in, "ghost.return")
		err := w.UpdateSources()
		var unknown *UnknownNodeError
		if !errors.As(err, &unknown) {
			t.Fatalf("UpdateSources = %v, want UnknownNodeError", err)
		}
	})

	t.Run("unknown port", func(t *testing.T) {
		w, single, _ := build(t)
		in, _ := single.InputByName("x")
		mustBindRef(in, "multi.ghost")
		err := w.UpdateSources()
		var unknown *UnknownPortError
		if !errors.As(err, &unknown) {
			t.Fatalf("UpdateSources = %v, want UnknownPortError", err)
		}
	})

	t.Run("unknown port in scope", func(t *testing.T) {
		w, single, _ := build(t)
		in, _ := single.InputByName("x")
		mustBindRef(in, ".ghost")
		err := w.UpdateSources()
		var unknown *UnknownPortInScopeError
		if !errors.As(err, &unknown) {
			t.Fatalf("UpdateSources = %v, want UnknownPortInScopeError", err)
		}
	})
}

func TestFindNodeDescendsNestedWorkflows(t *testing.T) {
	reg := newTestRegistry(nil)
	inner := NewWorkflow("inner", "test.inner", nil, nil, nil)
	innerStep := mustOpStep("deep", "test.double", reg)
	if err := inner.AddStep(innerStep, false); err != nil {
		t.Fatal(err)
	}

	outer := NewWorkflow("outer", "test.outer", nil, nil, nil)
	ws := NewWorkflowStep("nested", "", inner, nil, nil, false)
	if err := outer.AddStep(ws, false); err != nil {
		t.Fatal(err)
	}

	host, ok := outer.findNode("deep")
	if !ok || host.ID() != "deep" {
		t.Errorf("findNode(deep) = %v, %v; want the nested step", host, ok)
	}
}
