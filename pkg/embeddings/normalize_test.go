package embeddings

import (
	"math"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	t.Run("normalizes to unit length", func(t *testing.T) {
		vec := []float32{3, 4}
		NormalizeL2(vec)

		const tol = 1e-5
		if math.Abs(float64(vec[0])-0.6) > tol || math.Abs(float64(vec[1])-0.8) > tol {
			t.Errorf("expected (0.6, 0.8), got (%f, %f)", vec[0], vec[1])
		}
	})

	t.Run("zero vector is left alone", func(t *testing.T) {
		v := []float32{0, 0, 0}
		NormalizeL2(v)

		if v[0] != 0 || v[1] != 0 || v[2] != 0 {
			t.Errorf("zero vector changed: got %v", v)
		}
	})
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"scaled", []float32{1, 2}, []float32{2, 4}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cosine(tt.a, tt.b); math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("Cosine() = %f, want %f", got, tt.want)
			}
		})
	}
}
