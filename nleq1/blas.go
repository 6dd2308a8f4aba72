// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nleq1

import "math"

// daxpy performs constant times a vector plus a vector operation.
func daxpy(n int, da float64, dx []float64, incx int, dy []float64, incy int) {
	if n <= 0 || da == zero {
		return
	}
	lx, ly := uint(incx*(n-1)), uint(incy*(n-1))
	if lx >= uint(len(dx)) || ly >= uint(len(dy)) {
		panic("bound check error")
	}
	ix, iy := uint(0), uint(0)
	for ix <= lx && iy <= ly {
		dy[iy] += da * dx[ix]
		ix += uint(incx)
		iy += uint(incy)
	}
}

// ddot computes the dot product of two vectors.
func ddot(n int, dx []float64, incx int, dy []float64, incy int) (dot float64) {
	if n <= 0 {
		return
	}
	lx, ly := uint(incx*(n-1)), uint(incy*(n-1))
	if lx >= uint(len(dx)) || ly >= uint(len(dy)) {
		panic("bound check error")
	}
	ix, iy := uint(0), uint(0)
	for ix <= lx && iy <= ly {
		dot += dx[ix] * dy[iy]
		ix += uint(incx)
		iy += uint(incy)
	}
	return
}

// dscal scales a vector by a constant.
func dscal(n int, da float64, dx []float64, incx int) {
	if n <= 0 {
		return
	}
	lx := uint(incx * (n - 1))
	if lx >= uint(len(dx)) {
		panic("bound check error")
	}
	for ix := uint(0); ix <= lx; ix += uint(incx) {
		dx[ix] *= da
	}
}

// idamax finds the index of the element having maximum absolute value.
func idamax(n int, dx []float64, incx int) (imax int) {
	if n <= 0 {
		return -1
	}
	lx := uint(incx * (n - 1))
	if lx >= uint(len(dx)) {
		panic("bound check error")
	}
	dmax := math.Abs(dx[0])
	for i, ix := 1, uint(incx); ix <= lx; i, ix = i+1, ix+uint(incx) {
		if v := math.Abs(dx[ix]); v > dmax {
			dmax, imax = v, i
		}
	}
	return
}
