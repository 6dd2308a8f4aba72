// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nleq1

// The linear-solve adapter of the Newton engine: LU factorization with
// partial pivoting for the dense mode and the LINPACK band factorization
// for the banded mode. All matrices are stored row-major, so a column is
// accessed with stride n.

// BandIndex returns the position of the logical Jacobian element (i, j)
// inside the band storage of a banded problem with lower bandwidth ml and
// upper bandwidth mu. The storage holds 2·ml+mu+1 physical rows of n
// columns each; element (i, j) with -mu ≤ i-j ≤ ml lives in physical row
// mu+i-j. The lowest ml rows are workspace for the fill-in produced by
// pivoting. Indices outside the band are not represented.
func BandIndex(n, ml, mu, i, j int) int {
	return (mu+i-j)*n + j
}

// bandRows is the leading dimension of the band storage.
func bandRows(ml, mu int) int {
	return 2*ml + mu + 1
}

// bandShift moves every column of the band storage down by ml physical
// rows, converting the assembly layout (diagonal in row mu) into the
// layout dgbfa factorizes in place (diagonal in row ml+mu, fill-in
// workspace on top). The vacated rows are cleared.
func bandShift(abd []float64, n, ml, mu int) {
	if ml == 0 {
		return
	}
	for j := 0; j < n; j++ {
		for r := ml + mu; r >= 0; r-- {
			abd[(r+ml)*n+j] = abd[r*n+j]
		}
		for r := 0; r < ml; r++ {
			abd[r*n+j] = zero
		}
	}
}

// dgefa factors a double precision matrix by gaussian elimination.
//
// on entry
//
//	a       double precision(n, n)
//	        the matrix to be factored, stored row-major.
//
//	n       integer
//	        the order of the matrix a.
//
// on return
//
//	a       an upper triangular matrix and the multipliers
//	        which were used to obtain it.
//	        the factorization can be written a = l*u where
//	        l is a product of permutation and unit lower
//	        triangular matrices and u is upper triangular.
//
//	ipvt    integer(n)
//	        an integer vector of pivot indices.
//
//	info    integer
//	        = 0  normal value.
//	        = k  if u(k,k) .eq. 0.0. this is not an error
//	             condition for this subroutine, but it does
//	             indicate that dgesl will divide by zero.
func dgefa(a []float64, n int, ipvt []int) (info int) {

	if n <= 0 || uint(n*n) > uint(len(a)) || n > len(ipvt) {
		panic("bound check error")
	}

	for k := 0; k < n-1; k++ {

		// find l = pivot index
		l := idamax(n-k, a[k*n+k:], n) + k
		ipvt[k] = l

		// zero pivot implies this column already triangularized
		if a[l*n+k] == zero {
			info = k + 1
			continue
		}

		// interchange if necessary
		if l != k {
			a[l*n+k], a[k*n+k] = a[k*n+k], a[l*n+k]
		}

		// compute multipliers
		t := -one / a[k*n+k]
		dscal(n-k-1, t, a[(k+1)*n+k:], n)

		// row elimination with column indexing
		for j := k + 1; j < n; j++ {
			t = a[l*n+j]
			if l != k {
				a[l*n+j] = a[k*n+j]
				a[k*n+j] = t
			}
			daxpy(n-k-1, t, a[(k+1)*n+k:], n, a[(k+1)*n+j:], n)
		}
	}

	ipvt[n-1] = n - 1
	if a[(n-1)*n+(n-1)] == zero {
		info = n
	}
	return
}

// dgesl solves the double precision system a*x = b using the factors
// computed by dgefa.
//
// on entry
//
//	a       double precision(n, n)
//	        the output from dgefa.
//
//	n       integer
//	        the order of the matrix a.
//
//	ipvt    integer(n)
//	        the pivot vector from dgefa.
//
//	b       double precision(n)
//	        the right hand side vector.
//
// on return
//
//	b       the solution vector x.
func dgesl(a []float64, n int, ipvt []int, b []float64) {

	if n <= 0 || uint(n*n) > uint(len(a)) || n > len(ipvt) || n > len(b) {
		panic("bound check error")
	}

	// first solve l*y = b
	for k := 0; k < n-1; k++ {
		l := ipvt[k]
		t := b[l]
		if l != k {
			b[l] = b[k]
			b[k] = t
		}
		daxpy(n-k-1, t, a[(k+1)*n+k:], n, b[k+1:], 1)
	}

	// now solve u*x = y
	for k := n - 1; k >= 0; k-- {
		b[k] /= a[k*n+k]
		t := -b[k]
		daxpy(k, t, a[k:], n, b, 1)
	}
}

// dgbfa factors a double precision band matrix by elimination.
//
// on entry
//
//	abd     double precision(2*ml+mu+1, n)
//	        contains the matrix in band storage, stored row-major.
//	        the columns of the matrix are stored in the columns of abd
//	        and the diagonals of the matrix are stored in rows
//	        ml through 2*ml+mu of abd (see bandShift).
//	        the top ml rows are used for elimination workspace.
//
//	n       integer
//	        the order of the original matrix.
//
//	ml      integer
//	        number of diagonals below the main diagonal.
//
//	mu      integer
//	        number of diagonals above the main diagonal.
//
// on return
//
//	abd     an upper triangular matrix in band storage and the
//	        multipliers which were used to obtain it.
//
//	ipvt    integer(n)
//	        an integer vector of pivot indices.
//
//	info    integer
//	        = 0  normal value.
//	        = k  if u(k,k) .eq. 0.0.
func dgbfa(abd []float64, n, ml, mu int, ipvt []int) (info int) {

	m := ml + mu // physical row of the main diagonal
	if n <= 0 || uint(bandRows(ml, mu)*n) > uint(len(abd)) || n > len(ipvt) {
		panic("bound check error")
	}

	// zero the initial fill-in columns
	j1 := min(n, m+1) - 1
	for jz := mu + 1; jz < j1; jz++ {
		for i := m - jz; i < ml; i++ {
			abd[i*n+jz] = zero
		}
	}
	jz := j1 - 1
	ju := 0

	// gaussian elimination with partial pivoting
	for k := 0; k < n-1; k++ {

		// zero the next fill-in column
		jz++
		if jz < n {
			for i := 0; i < ml; i++ {
				abd[i*n+jz] = zero
			}
		}

		// find l = pivot index
		lm := min(ml, n-1-k)
		l := idamax(lm+1, abd[m*n+k:], n) + m
		ipvt[k] = l + k - m

		// zero pivot implies this column already triangularized
		if abd[l*n+k] == zero {
			info = k + 1
			continue
		}

		// interchange if necessary
		if l != m {
			abd[l*n+k], abd[m*n+k] = abd[m*n+k], abd[l*n+k]
		}

		// compute multipliers
		t := -one / abd[m*n+k]
		dscal(lm, t, abd[(m+1)*n+k:], n)

		// row elimination with column indexing
		ju = min(max(ju, mu+ipvt[k]+1), n)
		mm := m
		for j := k + 1; j < ju; j++ {
			l--
			mm--
			t = abd[l*n+j]
			if l != mm {
				abd[l*n+j] = abd[mm*n+j]
				abd[mm*n+j] = t
			}
			daxpy(lm, t, abd[(m+1)*n+k:], n, abd[(mm+1)*n+j:], n)
		}
	}

	ipvt[n-1] = n - 1
	if abd[m*n+(n-1)] == zero {
		info = n
	}
	return
}

// dgbsl solves the double precision band system a*x = b using the factors
// computed by dgbfa.
//
// on entry
//
//	abd     double precision(2*ml+mu+1, n)
//	        the output from dgbfa.
//
//	n       integer
//	        the order of the original matrix.
//
//	ml      integer
//	        number of diagonals below the main diagonal.
//
//	mu      integer
//	        number of diagonals above the main diagonal.
//
//	ipvt    integer(n)
//	        the pivot vector from dgbfa.
//
//	b       double precision(n)
//	        the right hand side vector.
//
// on return
//
//	b       the solution vector x.
func dgbsl(abd []float64, n, ml, mu int, ipvt []int, b []float64) {

	m := ml + mu
	if n <= 0 || uint(bandRows(ml, mu)*n) > uint(len(abd)) || n > len(ipvt) || n > len(b) {
		panic("bound check error")
	}

	// first solve l*y = b
	if ml != 0 {
		for k := 0; k < n-1; k++ {
			lm := min(ml, n-1-k)
			l := ipvt[k]
			t := b[l]
			if l != k {
				b[l] = b[k]
				b[k] = t
			}
			daxpy(lm, t, abd[(m+1)*n+k:], n, b[k+1:], 1)
		}
	}

	// now solve u*x = y
	for k := n - 1; k >= 0; k-- {
		b[k] /= abd[m*n+k]
		lm := min(k+1, m+1) - 1
		la := m - lm
		lb := k - lm
		t := -b[k]
		daxpy(lm, t, abd[la*n+k:], n, b[lb:], 1)
	}
}
