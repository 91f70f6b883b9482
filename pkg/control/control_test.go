package control

import (
	"errors"
	"math"
	"testing"

	"github.com/freqmon/pkg/acq"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestAffineMap_Endpoints(t *testing.T) {
	m, err := NewAffineMap(28, 62, 0, 0.9)
	if err != nil {
		t.Fatalf("NewAffineMap: %v", err)
	}
	if got := m.ToControl(28); !almostEqual(got, 0, 1e-12) {
		t.Errorf("ToControl(28) = %g, want 0", got)
	}
	if got := m.ToControl(62); !almostEqual(got, 0.9, 1e-12) {
		t.Errorf("ToControl(62) = %g, want 0.9", got)
	}
	if got := m.ToControl(30); !almostEqual(got, 0.052941, 1e-6) {
		t.Errorf("ToControl(30) = %g, want ~0.0529", got)
	}
	if got := m.ToControl(45); !almostEqual(got, 0.45, 1e-12) {
		t.Errorf("ToControl(45) = %g, want 0.45", got)
	}
}

func TestAffineMap_Monotonic(t *testing.T) {
	m, err := NewAffineMap(28, 62, -1, 1)
	if err != nil {
		t.Fatalf("NewAffineMap: %v", err)
	}
	prev := m.ToControl(20)
	for f := 20.5; f <= 70; f += 0.5 {
		v := m.ToControl(f)
		if v <= prev {
			t.Fatalf("ToControl not increasing at f=%g: %g <= %g", f, v, prev)
		}
		prev = v
	}
}

func TestNewAffineMap_Invalid(t *testing.T) {
	cases := []struct {
		name                   string
		fMin, fMax, vMin, vMax float64
	}{
		{"equal frequencies", 30, 30, 0, 1},
		{"inverted frequencies", 62, 28, 0, 1},
		{"equal voltages", 28, 62, 0.5, 0.5},
		{"inverted voltages", 28, 62, 1, 0},
		{"nan", math.NaN(), 62, 0, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewAffineMap(tc.fMin, tc.fMax, tc.vMin, tc.vMax)
			if !errors.Is(err, acq.ErrConfiguration) {
				t.Errorf("Expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestShouldUpdate(t *testing.T) {
	cases := []struct {
		estimate, reference float64
		want                bool
	}{
		{31, 31, false},
		{31, 32, true},
		{0, 0, false},
		{31.25, 31.2, true},
	}
	for _, tc := range cases {
		if got := ShouldUpdate(tc.estimate, tc.reference); got != tc.want {
			t.Errorf("ShouldUpdate(%g, %g) = %v, want %v", tc.estimate, tc.reference, got, tc.want)
		}
	}
}

func TestApply_Policies(t *testing.T) {
	m, err := NewAffineMap(28, 62, 0, 0.9)
	if err != nil {
		t.Fatalf("NewAffineMap: %v", err)
	}

	if v, ok := m.Apply(Pass, 70); !ok || !almostEqual(v, m.ToControl(70), 1e-12) || v <= 0.9 {
		t.Errorf("Pass(70) = %g, %v; want linear extrapolation above 0.9", v, ok)
	}
	if v, ok := m.Apply(Clamp, 70); !ok || !almostEqual(v, 0.9, 1e-12) {
		t.Errorf("Clamp(70) = %g, %v; want 0.9", v, ok)
	}
	if v, ok := m.Apply(Clamp, 10); !ok || !almostEqual(v, 0, 1e-12) {
		t.Errorf("Clamp(10) = %g, %v; want 0", v, ok)
	}
	if _, ok := m.Apply(Hold, 10); ok {
		t.Errorf("Hold(10) should not update")
	}
	if v, ok := m.Apply(Hold, 45); !ok || !almostEqual(v, 0.45, 1e-12) {
		t.Errorf("Hold(45) = %g, %v; want 0.45", v, ok)
	}
}

func TestTarget(t *testing.T) {
	m, err := NewAffineMap(28, 62, 0, 0.9)
	if err != nil {
		t.Fatalf("NewAffineMap: %v", err)
	}
	tests := []struct {
		policy Policy
		f      float64
		want   float64
	}{
		{Clamp, 70, 62},
		{Clamp, 10, 28},
		{Clamp, 45, 45},
		{Pass, 70, 70},
		{Hold, 10, 10},
	}
	for _, tt := range tests {
		if got := m.Target(tt.policy, tt.f); got != tt.want {
			t.Errorf("Target(%s, %g) = %g, want %g", tt.policy, tt.f, got, tt.want)
		}
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": Pass, "pass": Pass, "Clamp": Clamp, " hold ": Hold} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParsePolicy("wrap"); !errors.Is(err, acq.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration, got %v", err)
	}
}
