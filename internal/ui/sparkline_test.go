package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSparkline(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		data  []float64
		width int
		want  string
	}{
		{"no width", []float64{3, 1}, 0, ""},
		{"no samples", nil, 4, "▁▁▁▁"},
		{"idle", []float64{0, 0, 0}, 3, "▁▁▁"},
		{"ramp", []float64{0, 2, 4, 6, 8}, 5, "▁▂▄▆█"},
		{"flat is full height", []float64{9, 9}, 2, "██"},
		{"short input padded left", []float64{7}, 3, "▁▁█"},
		{"keeps newest samples", []float64{100, 0, 7}, 2, "▁█"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Sparkline(tt.data, tt.width))
		})
	}
}
