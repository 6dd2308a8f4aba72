// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nleq1

import (
	"errors"
	"math"
	"testing"
)

// a small dense model with a known Jacobian
func denseModel(x, f []float64) error {
	f[0] = x[0]*x[0] + x[1]
	f[1] = math.Sin(x[1]) + x[0]
	return nil
}

func denseModelJac(x []float64) []float64 {
	return []float64{
		2 * x[0], 1,
		1, math.Cos(x[1]),
	}
}

// a tridiagonal model: f[i] = 2x[i] - x[i-1] - x[i+1] + x[i]³
func triModel(x, f []float64) error {
	n := len(x)
	for i := 0; i < n; i++ {
		f[i] = 2*x[i] + x[i]*x[i]*x[i]
		if i > 0 {
			f[i] -= x[i-1]
		}
		if i < n-1 {
			f[i] -= x[i+1]
		}
	}
	return nil
}

func TestJacForward(t *testing.T) {

	const n = 2
	x := []float64{1.3, -0.7}
	x0 := []float64{1.3, -0.7}
	fx := make([]float64, n)
	fu := make([]float64, n)
	xw := []float64{1, 1}
	a := make([]float64, n*n)

	_ = denseModel(x, fx)
	mach := ieee754
	nf, err := jacForward(denseModel, x, fx, fu, a, xw, n, math.Sqrt(ten*mach.Eps), 0)
	if err != nil || nf != n {
		t.Fatalf("TestJacForward: nf = %d err = %v", nf, err)
	}

	want := denseModelJac(x0)
	for i := range a {
		if math.Abs(a[i]-want[i]) > 1e-6 {
			t.Fatalf("TestJacForward: a[%d] = %e want %e", i, a[i], want[i])
		}
	}
	for i := range x {
		if x[i] != x0[i] {
			t.Fatal("TestJacForward: x not restored")
		}
	}
}

func TestJacForwardBandMatchesDense(t *testing.T) {

	const n, ml, mu = 6, 1, 1
	x := make([]float64, n)
	xw := make([]float64, n)
	for i := range x {
		x[i] = 0.5 + 0.1*float64(i)
		xw[i] = 1
	}
	fx := make([]float64, n)
	fu := make([]float64, n)
	_ = triModel(x, fx)

	ajDel := math.Sqrt(ten * ieee754.Eps)

	dense := make([]float64, n*n)
	if _, err := jacForward(triModel, x, fx, fu, dense, xw, n, ajDel, 0); err != nil {
		t.Fatal(err)
	}

	abd := make([]float64, bandRows(ml, mu)*n)
	u := make([]float64, n)
	nf, err := jacForwardBand(triModel, x, fx, fu, u, abd, xw, n, ml, mu, ajDel, 0)
	if err != nil {
		t.Fatal(err)
	}
	if nf != ml+mu+1 {
		t.Fatalf("TestJacForwardBandMatchesDense: %d evaluations for %d groups", nf, ml+mu+1)
	}

	for i := 0; i < n; i++ {
		for j := max(0, i-ml); j <= min(n-1, i+mu); j++ {
			d, b := dense[i*n+j], abd[BandIndex(n, ml, mu, i, j)]
			if math.Abs(d-b) > 1e-12*math.Max(1, math.Abs(d)) {
				t.Fatalf("TestJacForwardBandMatchesDense: (%d,%d) dense %e band %e", i, j, d, b)
			}
		}
	}
}

func TestJacAdaptive(t *testing.T) {

	const n = 2
	mach := ieee754
	etaDif := math.Sqrt(1.1 * mach.Eps)
	etaMax := math.Sqrt(etaDif)
	etaMin := etaDif * etaMax
	etaIni := math.Sqrt(etaMin * etaMax)

	x := []float64{1.3, -0.7}
	fx := make([]float64, n)
	fu := make([]float64, n)
	xw := []float64{1, 1}
	eta := []float64{etaIni, etaIni}
	a := make([]float64, n*n)

	_ = denseModel(x, fx)
	// conv well above the near-convergence cutoff forces the feedback path
	if _, err := jacAdaptive(denseModel, x, fx, fu, a, xw, eta, n, one, etaDif, etaMin, etaMax); err != nil {
		t.Fatal(err)
	}

	want := denseModelJac(x)
	for i := range a {
		if math.Abs(a[i]-want[i]) > 1e-5 {
			t.Fatalf("TestJacAdaptive: a[%d] = %e want %e", i, a[i], want[i])
		}
	}
	for _, e := range eta {
		if e < etaMin || e > etaMax {
			t.Fatal("TestJacAdaptive: eta left its window")
		}
	}
}

func TestJacEvalFailure(t *testing.T) {

	bad := errors.New("model failure")
	fcn := func(x, f []float64) error { return bad }

	x := []float64{1}
	fx := []float64{0}
	fu := []float64{0}
	a := []float64{0}

	nf, err := jacForward(fcn, x, fx, fu, a, []float64{1}, 1, 1e-8, 0)
	if err == nil || nf != 1 {
		t.Fatalf("TestJacEvalFailure: nf = %d err = %v", nf, err)
	}

	panics := func(x, f []float64) error { panic("boom") }
	if err = safeEval(panics, x, fx); !errors.Is(err, errEvalPanic) {
		t.Fatal("TestJacEvalFailure: panic not recovered")
	}
}
