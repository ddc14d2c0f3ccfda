package expr

import "testing"

func TestEval(t *testing.T) {
	vars := map[string]any{
		"a":    3,
		"b":    5,
		"name": "chunk",
		"f":    1.5,
	}
	tests := []struct {
		expr string
		want any
	}{
		{"a + b*2", float64(13)},
		{"(a + b) * 2", float64(16)},
		{"a - b", float64(-2)},
		{"b / 2", float64(2.5)},
		{"-a", float64(-3)},
		{"a + f", float64(4.5)},
		{"42", 42},
		{"4.5", 4.5},
		{"'lit'", "lit"},
		{`"double"`, "double"},
		{"name + '-1'", "chunk-1"},
		{"a", 3},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Eval(tt.expr, vars)
			if err != nil {
				t.Fatalf("Eval(%q) = %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("Eval(%q) = %v (%T), want %v (%T)", tt.expr, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestEvalErrors(t *testing.T) {
	tests := []string{
		"missing",
		"a /",
		"(a",
		"a b",
		"1 / 0",
		"'s' - 1",
		"'s' * 2",
		"",
	}
	for _, expr := range tests {
		t.Run(expr, func(t *testing.T) {
			if _, err := Eval(expr, map[string]any{"a": 1}); err == nil {
				t.Errorf("Eval(%q) succeeded, want error", expr)
			}
		})
	}
}

func TestEvalNoAmbientAccess(t *testing.T) {
	// Call-like syntax has no meaning in the sandbox; the identifier is
	// simply not in scope.
	if _, err := Eval("exec('rm')", map[string]any{}); err == nil {
		t.Error("call-shaped expression should fail")
	}
}
