package menu

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParent(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want *int64
		err  bool
	}{
		{"nil", nil, nil, false},
		{"root sentinel", "root", nil, false},
		{"root uppercase", "ROOT", nil, false},
		{"empty string", "", nil, false},
		{"json number", float64(7), int64Ptr(7), false},
		{"numeric string", "12", int64Ptr(12), false},
		{"json.Number", json.Number("3"), int64Ptr(3), false},
		{"int", 4, int64Ptr(4), false},
		{"fraction", 1.5, nil, true},
		{"word", "menu", nil, true},
		{"zero", 0, nil, true},
		{"bool", true, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseParent(tt.in)
			if tt.err {
				assert.True(t, errors.Is(err, ErrInvalidItem))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerceSortOrder(t *testing.T) {
	tests := []struct {
		in   interface{}
		want int
	}{
		{nil, 0},
		{float64(3), 3},
		{"5", 5},
		{" 2.9 ", 2},
		{"abc", 0},
		{true, 1},
		{false, 0},
		{json.Number("8"), 8},
		{[]int{1}, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CoerceSortOrder(tt.in), "input %#v", tt.in)
	}
}

func TestTypedErrors(t *testing.T) {
	var err error = &DuplicateKeyError{Key: "patients"}
	assert.True(t, errors.Is(err, ErrDuplicateKey))
	assert.Contains(t, err.Error(), "patients")

	err = &HasChildrenError{ID: 1, Children: 2}
	assert.True(t, errors.Is(err, ErrHasChildren))
	assert.Contains(t, err.Error(), "parent_id")
}

func TestMenuItemInput_JSON(t *testing.T) {
	var in MenuItemInput
	require.NoError(t, json.Unmarshal([]byte(`{"key":"a","label":"A","parent_id":"root","sort_order":"4"}`), &in))
	parent, err := ParseParent(in.Parent)
	require.NoError(t, err)
	assert.Nil(t, parent)
	assert.Equal(t, 4, CoerceSortOrder(in.SortOrder))
}

func int64Ptr(v int64) *int64 { return &v }

func strPtr(s string) *string { return &s }
