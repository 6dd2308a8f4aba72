// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nleq1

import "math"

// scaleIterate derives the per-iteration scaling vector xw from the user
// scale lower bounds and the current and previous iterates.
// Every entry satisfies small ≤ xw[i] ≤ great, which keeps the scaled
// divisions overflow-safe and the iteration invariant under rescaling of
// the unknowns. With a fixed scale the user vector is taken unchanged.
func scaleIterate(xw, xscal, x, xa []float64, fixed bool, mach *Machine) {
	if len(xw) != len(xscal) || len(xw) != len(x) || len(xw) != len(xa) {
		panic("bound check error")
	}
	if fixed {
		copy(xw, xscal)
		return
	}
	for i, s := range xscal {
		// scale-invariant midpoint magnitude of the two iterates
		mid := half * (math.Abs(x[i]) + math.Abs(xa[i]))
		xw[i] = math.Max(s, math.Max(mid, mach.Small))
	}
}

// checkScale preconditions the user scale vector in place.
// Negative entries are rejected, zeros are replaced by the default scale
// and out-of-window values are clamped into [small, great].
// It reports whether any entry was clamped (a replaced zero is not
// reported) and whether a negative entry was found.
func checkScale(xscal []float64, defScal float64, mach *Machine) (adjusted, bad bool) {
	for i, s := range xscal {
		switch {
		case s < zero:
			bad = true
			return
		case s == zero:
			xscal[i] = defScal
		case s < mach.Small:
			xscal[i] = mach.Small
			adjusted = true
		case s > mach.Great:
			xscal[i] = mach.Great
			adjusted = true
		}
	}
	return
}

// scaleRows equilibrates the dense matrix a by its row infinity norms:
// fw[k] = 1/max|a[k,:]| and row k is multiplied by fw[k].
// Zero rows are left untouched with fw[k] = 1.
func scaleRows(a, fw []float64, n int) {
	if uint(n*n) > uint(len(a)) || n > len(fw) {
		panic("bound check error")
	}
	for k := 0; k < n; k++ {
		row := a[k*n : k*n+n]
		s := zero
		for _, v := range row {
			s = math.Max(s, math.Abs(v))
		}
		if s > zero {
			s = one / s
			fw[k] = s
			dscal(n, s, row, 1)
		} else {
			fw[k] = one
		}
	}
}

// scaleRowsBand is the band-storage variant of scaleRows.
// The row maximum is restricted to the in-band slice of each row and the
// matrix is expected in the assembly layout (diagonal in physical row mu).
func scaleRowsBand(abd, fw []float64, n, ml, mu int) {
	if uint(bandRows(ml, mu)*n) > uint(len(abd)) || n > len(fw) {
		panic("bound check error")
	}
	for k := 0; k < n; k++ {
		j0, j1 := max(0, k-ml), min(n-1, k+mu)
		s := zero
		for j := j0; j <= j1; j++ {
			s = math.Max(s, math.Abs(abd[(mu+k-j)*n+j]))
		}
		if s > zero {
			s = one / s
			fw[k] = s
			for j := j0; j <= j1; j++ {
				abd[(mu+k-j)*n+j] *= s
			}
		} else {
			fw[k] = one
		}
	}
}

// levels computes the three quantities the damping heuristic reasons about:
// the scaled maximum norm conv of the correction, the scaled natural level
// sumx and the standard level dlevf.
func levels(dx1, f []float64, n int) (conv, sumx, dlevf float64) {
	if n > len(dx1) || n > len(f) {
		panic("bound check error")
	}
	for i := 0; i < n; i++ {
		conv = math.Max(conv, math.Abs(dx1[i]))
		sumx += dx1[i] * dx1[i]
		dlevf += f[i] * f[i]
	}
	dlevf = math.Sqrt(dlevf / float64(n))
	return
}
