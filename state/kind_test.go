package state_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tailored-agentic-units/statesync/core/protocol"
	"github.com/tailored-agentic-units/statesync/state"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  state.Kind
	}{
		{"bool", true, state.KindBool},
		{"int", 1, state.KindInt},
		{"int64", int64(1), state.KindInt},
		{"float", 1.5, state.KindFloat},
		{"string", "x", state.KindString},
		{"any slice", []any{}, state.KindList},
		{"typed slice", []string{}, state.KindList},
		{"map", map[string]any{}, state.KindMap},
		{"typed map", map[string]int{}, state.KindMap},
		{"files", []protocol.UploadFile{}, state.KindFiles},
		{"nil", nil, state.KindAny},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := state.KindOf(tt.value); got != tt.want {
				t.Errorf("KindOf(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name    string
		kind    state.Kind
		value   any
		want    any
		wantErr bool
	}{
		{"int from float64", state.KindInt, float64(50), 50, false},
		{"int from string", state.KindInt, "12", 12, false},
		{"int from fractional", state.KindInt, 1.5, nil, true},
		{"float from int", state.KindFloat, 2, 2.0, false},
		{"bool from string", state.KindBool, "true", true, false},
		{"bool from number", state.KindBool, 1, nil, true},
		{"string from int", state.KindString, 5, "5", false},
		{"string from nil", state.KindString, nil, "", false},
		{"list from typed slice", state.KindList, []int{1, 2}, []any{1, 2}, false},
		{"list from nil", state.KindList, nil, []any{}, false},
		{"list from string", state.KindList, "x", nil, true},
		{"map from typed map", state.KindMap, map[string]string{"a": "b"}, map[string]any{"a": "b"}, false},
		{"nested normalization", state.KindAny, map[string]any{"l": []string{"a"}}, map[string]any{"l": []any{"a"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := state.Coerce(tt.kind, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Coerce() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Coerce() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
