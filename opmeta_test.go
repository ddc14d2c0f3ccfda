package flow

import (
	"errors"
	"testing"
)

func TestOpMetaDerivedFlags(t *testing.T) {
	tests := []struct {
		name            string
		meta            OpMetaInfo
		hasMonitor      bool
		hasNamedOutputs bool
		canCache        bool
	}{
		{
			name: "single return output",
			meta: OpMetaInfo{
				Inputs:  []PropertySet{{Name: "x"}},
				Outputs: []PropertySet{{Name: ReturnOutput}},
			},
		},
		{
			name: "monitor input",
			meta: OpMetaInfo{
				Inputs:  []PropertySet{{Name: "x"}, {Name: "monitor"}},
				Outputs: []PropertySet{{Name: ReturnOutput}},
			},
			hasMonitor: true,
		},
		{
			name: "named outputs",
			meta: OpMetaInfo{
				Outputs: []PropertySet{{Name: "lo"}, {Name: "hi"}},
			},
			hasNamedOutputs: true,
		},
		{
			name: "single named output is still named",
			meta: OpMetaInfo{
				Outputs: []PropertySet{{Name: "result"}},
			},
			hasNamedOutputs: true,
		},
		{
			name: "cacheable header",
			meta: OpMetaInfo{
				Header:  map[string]any{"can_cache": true},
				Outputs: []PropertySet{{Name: ReturnOutput}},
			},
			canCache: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.meta.HasMonitor(); got != tt.hasMonitor {
				t.Errorf("HasMonitor() = %v, want %v", got, tt.hasMonitor)
			}
			if got := tt.meta.HasNamedOutputs(); got != tt.hasNamedOutputs {
				t.Errorf("HasNamedOutputs() = %v, want %v", got, tt.hasNamedOutputs)
			}
			if got := tt.meta.CanCache(); got != tt.canCache {
				t.Errorf("CanCache() = %v, want %v", got, tt.canCache)
			}
		})
	}
}

func TestValidateInputs(t *testing.T) {
	meta := OpMetaInfo{
		QualifiedName: "test.validate",
		Inputs: []PropertySet{
			{Name: "req", Required: true},
			{Name: "typed", DataType: "int"},
			{Name: "num", DataType: "float"},
			{Name: "mode", ValueSet: []any{"fast", "slow"}},
			{Name: "level", ValueRangeLo: 0, ValueRangeHi: 10, HasRange: true},
			{Name: "opt", DefaultValue: 99, HasDefault: true},
		},
		Outputs: []PropertySet{{Name: ReturnOutput}},
	}

	tests := []struct {
		name    string
		values  map[string]any
		wantErr any // pointer to the expected error type, nil for success
	}{
		{
			name:   "all valid",
			values: map[string]any{"req": 1, "typed": 5, "num": 1.5, "mode": "fast", "level": 3},
		},
		{
			name:    "missing required",
			values:  map[string]any{"typed": 5},
			wantErr: &MissingInputError{},
		},
		{
			name:    "type mismatch",
			values:  map[string]any{"req": 1, "typed": "not an int"},
			wantErr: &TypeMismatchError{},
		},
		{
			name:   "int acceptable where float expected",
			values: map[string]any{"req": 1, "num": 2},
		},
		{
			name:    "value not in set",
			values:  map[string]any{"req": 1, "mode": "medium"},
			wantErr: &ValueNotInSetError{},
		},
		{
			name:    "value out of range",
			values:  map[string]any{"req": 1, "level": 11},
			wantErr: &ValueOutOfRangeError{},
		},
		{
			name:   "value at range bound",
			values: map[string]any{"req": 1, "level": 10},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completed, err := meta.validateInputs("s", tt.values)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("validateInputs() = %v, want nil", err)
				}
				if completed["opt"] != 99 {
					t.Errorf("default not applied: opt = %v", completed["opt"])
				}
				return
			}
			switch want := tt.wantErr.(type) {
			case *MissingInputError:
				if !errors.As(err, &want) {
					t.Errorf("got %v, want MissingInputError", err)
				}
			case *TypeMismatchError:
				if !errors.As(err, &want) {
					t.Errorf("got %v, want TypeMismatchError", err)
				}
			case *ValueNotInSetError:
				if !errors.As(err, &want) {
					t.Errorf("got %v, want ValueNotInSetError", err)
				}
			case *ValueOutOfRangeError:
				if !errors.As(err, &want) {
					t.Errorf("got %v, want ValueOutOfRangeError", err)
				}
			}
		})
	}
}

func TestValidateInputsRequiredSatisfiedByDefault(t *testing.T) {
	meta := OpMetaInfo{
		Inputs:  []PropertySet{{Name: "x", Required: true, DefaultValue: 7, HasDefault: true}},
		Outputs: []PropertySet{{Name: ReturnOutput}},
	}
	completed, err := meta.validateInputs("s", nil)
	if err != nil {
		t.Fatalf("validateInputs() = %v, want nil", err)
	}
	if completed["x"] != 7 {
		t.Errorf("x = %v, want 7", completed["x"])
	}
}

func TestValueSetStrictMembership(t *testing.T) {
	if !valueInSet([]any{"fast", "slow"}, "fast") {
		t.Error("exact member rejected by the value set")
	}
	if valueInSet([]any{"Fast", "Slow"}, "fast") {
		t.Error("value_set is enforced strictly; case variants must not match")
	}
	if valueInSet([]any{"fast"}, "slowest") {
		t.Error("non-member matched the value set")
	}
	if !valueInSet(nil, "anything") {
		t.Error("an empty value_set imposes no constraint")
	}
}
