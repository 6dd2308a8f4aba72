// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nleq1

import (
	"errors"
	"math"
)

var errEvalPanic = errors.New("nleq1: evaluation panic")

// safeEval invokes the user function, turning a panic into an error so a
// failing model cannot tear down the solver.
func safeEval(fcn Function, x, f []float64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errEvalPanic
		}
	}()
	err = fcn(x, f)
	return
}

// jacForward approximates the dense Jacobian by one-sided differences.
// Column k is perturbed by u = sign(x[k])·max(|x[k]|, ajMin, xw[k])·ajDel
// with sign(0) ≡ +1, and x[k] is restored after the evaluation.
// The number of function evaluations spent is returned even on failure.
func jacForward(fcn Function, x, fx, fu, a, xw []float64, n int, ajDel, ajMin float64) (nfcn int, err error) {
	if n > len(x) || n > len(fx) || n > len(fu) || uint(n*n) > uint(len(a)) || n > len(xw) {
		panic("bound check error")
	}
	for k := 0; k < n; k++ {
		w := x[k]
		u := math.Max(math.Max(math.Abs(w), ajMin), xw[k]) * ajDel
		if w < zero {
			u = -u
		}
		x[k] = w + u
		err = safeEval(fcn, x, fu)
		x[k] = w
		nfcn++
		if err != nil {
			return
		}
		d := one / u
		for i := 0; i < n; i++ {
			a[i*n+k] = (fu[i] - fx[i]) * d
		}
	}
	return
}

// jacForwardBand approximates the banded Jacobian by one-sided differences.
// Columns are perturbed in groups of stride ml+mu+1: the derivative
// supports of grouped columns occupy disjoint rows, so one evaluation
// serves the whole group. Results are stored in the assembly band layout.
func jacForwardBand(fcn Function, x, fx, fu, u, abd, xw []float64, n, ml, mu int, ajDel, ajMin float64) (nfcn int, err error) {
	ldab := ml + mu + 1
	if n > len(x) || n > len(fx) || n > len(fu) || n > len(u) ||
		uint(bandRows(ml, mu)*n) > uint(len(abd)) || n > len(xw) {
		panic("bound check error")
	}
	for jj := 0; jj < min(ldab, n); jj++ {
		for k := jj; k < n; k += ldab {
			w := x[k]
			h := math.Max(math.Max(math.Abs(w), ajMin), xw[k]) * ajDel
			if w < zero {
				h = -h
			}
			u[k] = h
			x[k] = w + h
		}
		err = safeEval(fcn, x, fu)
		nfcn++
		for k := jj; k < n; k += ldab {
			x[k] -= u[k]
		}
		if err != nil {
			return
		}
		for k := jj; k < n; k += ldab {
			d := one / u[k]
			i0, i1 := max(0, k-mu), min(n-1, k+ml)
			for i := i0; i <= i1; i++ {
				abd[(mu+i-k)*n+k] = (fu[i] - fx[i]) * d
			}
		}
	}
	return
}

// etaError is the per-column discretization error estimator of the
// feedback-controlled differencing: the RMS of the function differences,
// each normalized by the larger of the two residual magnitudes.
func etaError(fx, fu []float64, i0, i1, n int) (sumd float64) {
	for i := i0; i <= i1; i++ {
		if s := math.Max(math.Abs(fx[i]), math.Abs(fu[i])); s > zero {
			d := (fu[i] - fx[i]) / s
			sumd += d * d
		}
	}
	return math.Sqrt(sumd / float64(n))
}

// jacAdaptive approximates the dense Jacobian by one-sided differences
// with feedback controlled step sizes. The scaled denominator difference
// eta[k] replaces the fixed relative step: after each column evaluation
// the discretization error estimate decides whether eta[k] is adjusted
// and the column evaluated once more. A column is fine when the iteration
// is already close to converged (conv < 0.1) or the estimated noise is
// within the difference model (sumd ≥ etaMin).
func jacAdaptive(fcn Function, x, fx, fu, a, xw, eta []float64, n int, conv, etaDif, etaMin, etaMax float64) (nfcn int, err error) {
	if n > len(x) || n > len(fx) || n > len(fu) || uint(n*n) > uint(len(a)) ||
		n > len(xw) || n > len(eta) {
		panic("bound check error")
	}
	const convFine = 0.1
	for k := 0; k < n; k++ {
		for is := 0; ; is++ {
			w := x[k]
			u := eta[k] * math.Max(math.Abs(w), xw[k])
			if w < zero {
				u = -u
			}
			x[k] = w + u
			err = safeEval(fcn, x, fu)
			x[k] = w
			nfcn++
			if err != nil {
				return
			}
			d := one / u
			for i := 0; i < n; i++ {
				a[i*n+k] = (fu[i] - fx[i]) * d
			}
			sumd := etaError(fx, fu, 0, n-1, n)
			if sumd > zero {
				eta[k] = math.Min(etaMax, math.Max(etaMin, math.Sqrt(etaDif/sumd)*eta[k]))
			}
			if conv < convFine || sumd == zero || sumd >= etaMin || is == 1 {
				break
			}
		}
	}
	return
}

// jacAdaptiveBand is the band-storage variant of jacAdaptive.
// It keeps the column grouping of jacForwardBand; when any column of a
// group asks for a step refinement, the whole group is evaluated once
// more with the updated denominators.
func jacAdaptiveBand(fcn Function, x, fx, fu, u, abd, xw, eta []float64, n, ml, mu int, conv, etaDif, etaMin, etaMax float64) (nfcn int, err error) {
	ldab := ml + mu + 1
	if n > len(x) || n > len(fx) || n > len(fu) || n > len(u) ||
		uint(bandRows(ml, mu)*n) > uint(len(abd)) || n > len(xw) || n > len(eta) {
		panic("bound check error")
	}
	const convFine = 0.1
	for jj := 0; jj < min(ldab, n); jj++ {
		for is := 0; ; is++ {
			for k := jj; k < n; k += ldab {
				w := x[k]
				h := eta[k] * math.Max(math.Abs(w), xw[k])
				if w < zero {
					h = -h
				}
				u[k] = h
				x[k] = w + h
			}
			err = safeEval(fcn, x, fu)
			nfcn++
			for k := jj; k < n; k += ldab {
				x[k] -= u[k]
			}
			if err != nil {
				return
			}
			refine := false
			for k := jj; k < n; k += ldab {
				d := one / u[k]
				i0, i1 := max(0, k-mu), min(n-1, k+ml)
				for i := i0; i <= i1; i++ {
					abd[(mu+i-k)*n+k] = (fu[i] - fx[i]) * d
				}
				sumd := etaError(fx, fu, i0, i1, n)
				if sumd > zero {
					eta[k] = math.Min(etaMax, math.Max(etaMin, math.Sqrt(etaDif/sumd)*eta[k]))
					if !(conv < convFine || sumd >= etaMin) {
						refine = true
					}
				}
			}
			if !refine || is == 1 {
				break
			}
		}
	}
	return
}
