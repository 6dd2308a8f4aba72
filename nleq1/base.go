// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package nleq1 solves systems of nonlinear equations 𝐅(𝐱) = 0 with an
// affine-invariant damped Newton iteration (the NLEQ1 family of P. Deuflhard).
//
// The iteration combines an a-priori estimate of the damping factor from
// computed Lipschitz constants with an a-posteriori corrector loop that
// shrinks the factor whenever the natural-level monotonicity test fails.
// Optional Broyden rank-1 updates reuse the factorized Jacobian across
// nearly undamped steps.
package nleq1

const (
	zero = 0.0
	half = 0.5
	one  = 1.0
	two  = 2.0
	ten  = 10.0
)

// Machine describes the floating-point field the solver operates on:
// small is the smallest magnitude whose reciprocal is safe, great = 1/small.
// The defaults are the customary IEEE-754 double values.
type Machine struct {
	Eps   float64 // machine epsilon
	Small float64 // smallest safe magnitude
	Great float64 // largest safe magnitude
}

var ieee754 = Machine{
	Eps:   2.220446049250313e-16,
	Small: 1.0e-35,
	Great: 1.0e+35,
}

// Status reports the outcome of a solve.
// The numeric values follow the NLEQ1 return-code convention.
type Status int

const (
	// Converged the scaled correction satisfied the tolerance.
	Converged Status = 0
	// Iterating not yet converged, continuation mode may resume the solve.
	Iterating Status = -1
	// ExceedMaxIter MaxIterations Newton steps performed without convergence.
	ExceedMaxIter Status = 2
	// DampingTooSmall the damping factor fell below its minimum.
	DampingTooSmall Status = 3
	// SingularJacobian the (scaled) Jacobian factorization met a zero pivot.
	SingularJacobian Status = 4
	// NonMonotone the corrector loop exhausted at the minimal damping factor.
	NonMonotone Status = 5
	// EvalFailed a user callback returned an error or panicked.
	EvalFailed Status = 10
	// BadDimension the problem dimension or an argument length is unacceptable.
	BadDimension Status = 20
	// BadTolerance the requested tolerance is unacceptable.
	BadTolerance Status = 21
	// BadScaling a user scale entry is negative.
	BadScaling Status = 22
	// MissingJacobian JacUser was requested without a Jacobian callback.
	MissingJacobian Status = 99
)

// Nonlinearity classifies the problem and selects the damping defaults.
type Nonlinearity int

const (
	// Linear the system is linear.
	Linear Nonlinearity = 1
	// Mild the system is mildly nonlinear.
	Mild Nonlinearity = 2
	// High the system is highly nonlinear.
	High Nonlinearity = 3
	// Extreme the system is extremely nonlinear.
	Extreme Nonlinearity = 4
)

// JacobianMode selects how the Jacobian matrix is obtained.
type JacobianMode int

const (
	// JacForward approximation by one-sided finite differences.
	JacForward JacobianMode = 0
	// JacUser evaluation through the user supplied callback.
	JacUser JacobianMode = 1
	// JacAdaptive finite differences with feedback controlled step sizes.
	JacAdaptive JacobianMode = 2
)

// BoundedDamping selects the bounded-damping strategy, restricting the
// predicted factor to a multiplicative window around the previous one.
type BoundedDamping int

const (
	// BoundAuto bounded damping is active iff the problem is Extreme.
	BoundAuto BoundedDamping = 0
	// BoundOn bounded damping is always active.
	BoundOn BoundedDamping = 1
	// BoundOff bounded damping is never active.
	BoundOff BoundedDamping = 2
)
