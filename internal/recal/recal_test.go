package recal

import (
	"errors"
	"math"
	"testing"
)

func TestParseMethod(t *testing.T) {
	tests := []struct {
		name    string
		want    Method
		wantErr bool
	}{
		{"", None, false},
		{"offset", Offset, false},
		{"POLY2", Poly2, false},
		{"Orbitrap", Orbitrap, false},
		{"linear", Poly1, false},
		{"spline", None, true},
	}
	for _, tt := range tests {
		got, err := ParseMethod(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMethod(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseMethod(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestApply(t *testing.T) {
	if v := Shift(1.5).Apply(10); v != 11.5 {
		t.Errorf("Shift(1.5).Apply(10) = %f", v)
	}
	f, err := New(Poly2, []float64{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if v := f.Apply(2); v != 1+2*2+3*4 {
		t.Errorf("Poly2 Apply(2) = %f", v)
	}
	if _, err := New(Poly2, []float64{1}); !errors.Is(err, ErrParams) {
		t.Errorf("expected ErrParams, got %v", err)
	}
	if v := (Identity{}).Apply(3.25); v != 3.25 {
		t.Errorf("Identity changed value: %f", v)
	}
	// Orbitrap with B=0, A=1 is identity
	o := Function{Method: Orbitrap, P: []float64{0, 1}}
	if v := o.Apply(400); math.Abs(v-400) > 1e-9 {
		t.Errorf("Orbitrap identity = %f", v)
	}
}

func TestFitLinearWithOutlier(t *testing.T) {
	var pairs []Pair
	for i := 0; i < 12; i++ {
		x := float64(i) * 10
		pairs = append(pairs, Pair{Measured: x, Reference: 2 + 1.01*x})
	}
	// One gross outlier
	pairs = append(pairs, Pair{Measured: 55, Reference: 500})

	f, err := Fit(Poly1, pairs)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if math.Abs(f.P[0]-2) > 0.05 || math.Abs(f.P[1]-1.01) > 1e-3 {
		t.Errorf("Fit parameters %v, want [2 1.01]", f.P)
	}
}

func TestFitTooFewPoints(t *testing.T) {
	_, err := Fit(Poly2, []Pair{{1, 1}, {2, 2}})
	if !errors.Is(err, ErrTooFewPoints) {
		t.Errorf("expected ErrTooFewPoints, got %v", err)
	}
}
