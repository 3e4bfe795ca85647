package scribe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsHallucination(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"1.5%", true},
		{"", true},
		{"   ", true},
		{"okay", true},
		{"hello hello hello hello hello", true},
		{"Thanks. Thanks, thanks! thanks thanks for watching", true},
		{"the meeting starts at nine", false},
		{"revenue grew 2.5% last quarter", true},
		{"count 1-2-3-4 go", true},
		{"a plan, a budget, a team and a deadline", false},
		{"we agreed we would ship we think", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, IsHallucination(tt.text))
		})
	}
}
