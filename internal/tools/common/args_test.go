package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserIDFromArgs(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{name: "nil args", args: nil, want: ""},
		{name: "missing", args: map[string]any{"other": "x"}, want: ""},
		{name: "present", args: map[string]any{"user_id": "u-1"}, want: "u-1"},
		{name: "trimmed", args: map[string]any{"user_id": "  u-1 \n"}, want: "u-1"},
		{name: "wrong type", args: map[string]any{"user_id": 42}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserIDFromArgs(tt.args))
		})
	}
}

func TestRequireString(t *testing.T) {
	v, res := RequireString(map[string]any{"title": " Hello "}, "title")
	assert.Equal(t, "Hello", v)
	assert.Nil(t, res)

	v, res = RequireString(map[string]any{"title": "   "}, "title")
	assert.Empty(t, v)
	if assert.NotNil(t, res) {
		assert.True(t, res.IsError)
	}
}
