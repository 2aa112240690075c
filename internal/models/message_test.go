package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareMessageIDs(t *testing.T) {
	tests := []struct {
		name     string
		a        string
		b        string
		expected int
	}{
		{
			name:     "numeric less than",
			a:        "100",
			b:        "200",
			expected: -1,
		},
		{
			name:     "numeric greater than",
			a:        "201",
			b:        "200",
			expected: 1,
		},
		{
			name:     "numeric equal",
			a:        "12345",
			b:        "12345",
			expected: 0,
		},
		{
			name:     "snowflake ids compare numerically not lexically",
			a:        "999999999999999999",
			b:        "1000000000000000000",
			expected: -1,
		},
		{
			name:     "non-numeric shorter sorts first",
			a:        "msg-9",
			b:        "msg-10",
			expected: -1,
		},
		{
			name:     "non-numeric same length lexicographic",
			a:        "msg-ab",
			b:        "msg-ba",
			expected: -1,
		},
		{
			name:     "non-numeric equal",
			a:        "msg-x",
			b:        "msg-x",
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CompareMessageIDs(tt.a, tt.b))
		})
	}
}
