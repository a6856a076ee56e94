package analyze

import (
	"testing"
)

func TestFindKnee(t *testing.T) {
	tests := []struct {
		name     string
		points   []Point
		wantX    float64
	}{
		{
			name: "Perfect Knee",
			points: []Point{
				{X: 1, Y: 10},
				{X: 2, Y: 20},
				{X: 3, Y: 28}, // Knee
				{X: 4, Y: 30},
				{X: 5, Y: 31},
			},
			wantX: 3,
		},
		{
			name: "Linear",
			points: []Point{
				{X: 1, Y: 10},
				{X: 2, Y: 20},
				{X: 3, Y: 30},
				{X: 4, Y: 40},
			},
			// A pure line has zero distance from the diagonal everywhere;
			// with maxDist starting at -1 the first point wins.
			wantX: 1,
		},
		{
			name: "Plateau",
			points: []Point{
				{X: 1, Y: 100},
				{X: 2, Y: 100},
				{X: 3, Y: 100},
			},
			// minY == maxY short-circuits to the last point.
			wantX: 3,
		},
		{
			name: "Step Function",
			points: []Point{
				{X: 1, Y: 0},
				{X: 2, Y: 0},
				{X: 3, Y: 100}, // Jump
				{X: 4, Y: 100},
			},
			// Norm: P1(0,0), P2(0.33,0), P3(0.66,1), P4(1,1)
			// P1: 0-0 = 0
			// P2: 0 - 0.33 = -0.33
			// P3: 1 - 0.66 = 0.33 (Max)
			// P4: 1 - 1 = 0
			wantX: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindKnee(tt.points)
			if got.X != tt.wantX {
				t.Errorf("FindKnee() = %v, want X=%v", got, tt.wantX)
			}
		})
	}
}
