package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDimensionsOrderIndependent(t *testing.T) {
	a := Dimensions(map[string]any{"region": "eu", "plan": "pro", "seats": 12})
	b := Dimensions(map[string]any{"seats": 12, "plan": "pro", "region": "eu"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestNilMapUsesSentinel(t *testing.T) {
	assert.Equal(t, NoDimensions, Dimensions(nil))
}

func TestNilAndEmptyMapDiffer(t *testing.T) {
	assert.NotEqual(t, Dimensions(nil), Dimensions(map[string]any{}))
}

func TestExplicitNilValueKept(t *testing.T) {
	withNil := Dimensions(map[string]any{"region": nil})
	without := Dimensions(map[string]any{})
	assert.NotEqual(t, withNil, without)
}

func TestEmptyKeyDropped(t *testing.T) {
	a := Dimensions(map[string]any{"": "ignored", "region": "eu"})
	b := Dimensions(map[string]any{"region": "eu"})
	assert.Equal(t, a, b)
}

func TestScalarRendering(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", "eu-west", "eu-west"},
		{"bool", true, "true"},
		{"float", 2.5, "2.5"},
		{"whole float", float64(3), "3"},
		{"int", 42, "42"},
		{"nil", nil, "null"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ValueString(tc.in))
		})
	}
}

func TestNonScalarValuesHashWithoutPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		Dimensions(map[string]any{"nested": map[string]any{"a": 1}})
		Dimensions(map[string]any{"list": []any{"x", "y"}})
		Dimensions(map[string]any{"fn": func() {}})
	})
}

func TestDistinctValuesDistinctDigests(t *testing.T) {
	a := Dimensions(map[string]any{"plan": "pro"})
	b := Dimensions(map[string]any{"plan": "free"})
	assert.NotEqual(t, a, b)
}
