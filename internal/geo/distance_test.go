package geo

import (
	"math"
	"testing"
)

func TestDistanceClassroomPair(t *testing.T) {
	// Two points roughly one door apart inside a campus building.
	d := Distance(26.7018, 92.8339, 26.7019, 92.8340)
	if d < 10 || d > 15 {
		t.Fatalf("expected 10-15m, got %.2fm", d)
	}
}

func TestDistanceZero(t *testing.T) {
	if d := Distance(26.7018, 92.8339, 26.7018, 92.8339); d != 0 {
		t.Fatalf("expected 0m for identical points, got %.6fm", d)
	}
}

func TestDistanceSymmetry(t *testing.T) {
	a := Distance(48.8566, 2.3522, 51.5074, -0.1278)
	b := Distance(51.5074, -0.1278, 48.8566, 2.3522)
	if math.Abs(a-b) > 1e-6 {
		t.Fatalf("distance not symmetric: %.6f vs %.6f", a, b)
	}
	// Paris to London is about 344km.
	if a < 330000 || a > 360000 {
		t.Fatalf("expected ~344km, got %.0fm", a)
	}
}

func TestDistanceAntipodalNoNaN(t *testing.T) {
	cases := [][4]float64{
		{0, 0, 0, 180},
		{90, 0, -90, 0},
		{45.0, 45.0, -45.0, -135.0},
		{0.0000001, 0, -0.0000001, 180},
	}
	halfCircumference := math.Pi * earthRadius
	for _, c := range cases {
		d := Distance(c[0], c[1], c[2], c[3])
		if math.IsNaN(d) {
			t.Fatalf("NaN for %v", c)
		}
		if d > halfCircumference+1 {
			t.Fatalf("distance %v exceeds half circumference for %v", d, c)
		}
	}
}
