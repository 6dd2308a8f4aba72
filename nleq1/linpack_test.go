// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nleq1

import (
	"math"
	"testing"
)

func TestDenseLU(t *testing.T) {

	a := []float64{
		2, 1,
		1, 3,
	}
	b := []float64{3, 4}
	ipvt := make([]int, 2)

	if info := dgefa(a, 2, ipvt); info != 0 {
		t.Fatalf("TestDenseLU: unexpected singularity %d", info)
	}
	dgesl(a, 2, ipvt, b)

	for i, want := range []float64{1, 1} {
		if math.Abs(b[i]-want) > 1e-14 {
			t.Fatalf("TestDenseLU: x[%d] = %.16f", i, b[i])
		}
	}
}

func TestDenseLUSingular(t *testing.T) {

	a := []float64{
		1, 2,
		2, 4,
	}
	ipvt := make([]int, 2)
	if info := dgefa(a, 2, ipvt); info == 0 {
		t.Fatal("TestDenseLUSingular: singularity not detected")
	}

	z := make([]float64, 9)
	if info := dgefa(z, 3, make([]int, 3)); info == 0 {
		t.Fatal("TestDenseLUSingular: zero matrix not detected")
	}
}

func TestBandLU(t *testing.T) {

	// tridiagonal matrix with diagonal 4 and off-diagonals -1
	const n, ml, mu = 6, 1, 1
	abd := make([]float64, bandRows(ml, mu)*n)
	for j := 0; j < n; j++ {
		abd[BandIndex(n, ml, mu, j, j)] = 4
		if j > 0 {
			abd[BandIndex(n, ml, mu, j, j-1)] = -1
		}
		if j < n-1 {
			abd[BandIndex(n, ml, mu, j, j+1)] = -1
		}
	}

	// right hand side belonging to the solution 1,2,...,n
	want := make([]float64, n)
	b := make([]float64, n)
	for i := 0; i < n; i++ {
		want[i] = float64(i + 1)
	}
	for i := 0; i < n; i++ {
		b[i] = 4 * want[i]
		if i > 0 {
			b[i] -= want[i-1]
		}
		if i < n-1 {
			b[i] -= want[i+1]
		}
	}

	bandShift(abd, n, ml, mu)
	ipvt := make([]int, n)
	if info := dgbfa(abd, n, ml, mu, ipvt); info != 0 {
		t.Fatalf("TestBandLU: unexpected singularity %d", info)
	}
	dgbsl(abd, n, ml, mu, ipvt, b)

	for i := 0; i < n; i++ {
		if math.Abs(b[i]-want[i]) > 1e-12 {
			t.Fatalf("TestBandLU: x[%d] = %.16f", i, b[i])
		}
	}
}

func TestBandVersusDenseLU(t *testing.T) {

	// an unsymmetric band matrix whose dominant first subdiagonal forces
	// a row interchange in every elimination step
	const n, ml, mu = 7, 2, 1
	dense := make([]float64, n*n)
	abd := make([]float64, bandRows(ml, mu)*n)
	for i := 0; i < n; i++ {
		for j := max(0, i-ml); j <= min(n-1, i+mu); j++ {
			var v float64
			switch i - j {
			case 0:
				v = 2 + float64(j%3)
			case 1:
				v = 30
			case 2:
				v = 2
			case -1:
				v = 1 + float64(i%2)
			}
			dense[i*n+j] = v
			abd[BandIndex(n, ml, mu, i, j)] = v
		}
	}

	b1 := make([]float64, n)
	b2 := make([]float64, n)
	for i := 0; i < n; i++ {
		b1[i] = float64(i) - 2.5
		b2[i] = b1[i]
	}

	ipvt := make([]int, n)
	if info := dgefa(dense, n, ipvt); info != 0 {
		t.Fatal("TestBandVersusDenseLU: dense factorization failed")
	}
	dgesl(dense, n, ipvt, b1)

	bandShift(abd, n, ml, mu)
	bpvt := make([]int, n)
	if info := dgbfa(abd, n, ml, mu, bpvt); info != 0 {
		t.Fatal("TestBandVersusDenseLU: band factorization failed")
	}
	dgbsl(abd, n, ml, mu, bpvt, b2)

	for i := 0; i < n; i++ {
		if math.Abs(b1[i]-b2[i]) > 1e-11*math.Max(1, math.Abs(b1[i])) {
			t.Fatalf("TestBandVersusDenseLU: x[%d] dense %.16e band %.16e", i, b1[i], b2[i])
		}
	}
}

func TestBandIndexBijection(t *testing.T) {

	const n, ml, mu = 9, 2, 3
	seen := map[int][2]int{}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i-j > ml || j-i > mu {
				continue
			}
			pos := BandIndex(n, ml, mu, i, j)
			if pos < 0 || pos >= bandRows(ml, mu)*n {
				t.Fatalf("TestBandIndexBijection: (%d,%d) out of storage", i, j)
			}
			if p, dup := seen[pos]; dup {
				t.Fatalf("TestBandIndexBijection: (%d,%d) collides with (%d,%d)", i, j, p[0], p[1])
			}
			seen[pos] = [2]int{i, j}
			// invert the mapping
			r, c := pos/n, pos%n
			if c != j || r-mu+c != i {
				t.Fatalf("TestBandIndexBijection: (%d,%d) does not invert", i, j)
			}
		}
	}
}
