// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nleq1

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// LogLevel controls the frequency and type of logger output.
type LogLevel int

const (
	// LogNoop no output is generated.
	LogNoop LogLevel = -1
	// LogWarn print warnings about clamped inputs and failure reasons.
	LogWarn LogLevel = 0
	// LogIter print one monitor line per Newton step.
	LogIter LogLevel = 1
	// LogVerbose print also the trial steps of the damping corrector.
	LogVerbose LogLevel = 2
)

// Logger handles logging output for the solver.
// Note the writers must be thread-safe.
type Logger struct {
	Level LogLevel
	Msg   io.Writer // Writer to output log messages.
	Out   io.Writer // Writer for output data.
}

func (l *Logger) enable(level LogLevel) bool {
	return l.Level >= level
}

func (l *Logger) log(format string, a ...any) {
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Msg, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Msg, format)
	}
}

// Function evaluates the system: it fills f with 𝐅(𝐱).
// A non-nil error (or a panic) aborts the solve with EvalFailed.
type Function func(x, f []float64) error

// JacobianFunc evaluates the Jacobian matrix at x into a.
// For a dense problem a holds the n×n matrix row-major, element (i, j)
// at a[i*n+j]. For a banded problem a is the band storage described by
// BandIndex. Entries outside the band must not be touched; a is cleared
// before every call.
type JacobianFunc func(x, a []float64) error

// Band describes the bandwidths of a banded Jacobian.
type Band struct {
	Lower, Upper int // number of sub- and superdiagonals
}

// Termination specifies the stopping criteria of the iteration.
type Termination struct {
	// The iteration stop when the RMS norm of the scaled correction
	// falls below RTol. Requests outside [10·n·eps, 0.1] are clamped.
	RTol float64
	// The iteration stop when the number of Newton steps reaches limit
	// (default 50). In continuation mode the limit applies per call.
	MaxIterations int
}

// Damping specifies the damping-factor strategy.
// Zero values select the defaults of the problem class.
type Damping struct {
	// Initial damping factor (default 1, 1e-2 for High, 1e-4 for Extreme).
	Start float64
	// Minimal damping factor (default 1e-4, 1e-8 for Extreme).
	Min float64
	// Bounded damping strategy (BoundAuto: active iff Extreme).
	Bounded BoundedDamping
	// Bounding factor of the damping window (default 10).
	Band float64
	// Decision threshold for rank-1 updates
	// (default 3, or 10/Min when rank-1 updates are disabled).
	Sigma float64
	// Threshold of the corrector increase (default 10/Min).
	Sigma2 float64
}

// Problem specifies a system of nonlinear equations 𝐅(𝐱) = 0.
type Problem struct {
	N       int          // The problem dimension
	Func    Function     // The system 𝐅
	Jac     JacobianFunc // Optional Jacobian, required iff JacUser
	JacMode JacobianMode // Jacobian source
	NonLin  Nonlinearity // Problem class (default Mild)
	Band    *Band        // Banded Jacobian storage, nil for dense

	Stop Termination // Stop condition
	Damp Damping     // Damping option

	Rank1   bool // Enable Broyden rank-1 updates
	Broyden int  // Maximum consecutive rank-1 steps (default max(ml+mu+1, 10) banded, min(n, 10) dense)

	Ordinary   bool // Force ordinary (undamped) Newton
	Simplified bool // Simplified Newton: factorize once, implies Ordinary

	NoRowScaling bool // Skip the automatic Jacobian row equilibration
	FixedScale   bool // Use the user scale vector unchanged as xw

	// Continuation resumes a primed workspace instead of restarting,
	// so a solve can be chunked step-by-step (Iterating return).
	Continuation bool

	// Machine constants, nil for IEEE-754 double.
	Machine *Machine
}

// ArgumentError reports an unacceptable problem argument together with
// its conventional return code.
type ArgumentError struct {
	Status Status
	Reason string
}

func (e *ArgumentError) Error() string { return e.Reason }

func argErr(s Status, reason string) error {
	return &ArgumentError{Status: s, Reason: reason}
}

type iterSpec struct {
	n      int
	banded bool
	ml, mu int

	nonlin  Nonlinearity
	jacMode JacobianMode
	fcn     Function
	jac     JacobianFunc

	rank1 bool
	nBroy int
	ordi  bool
	simpl bool

	noRowScal  bool
	fixedScale bool
	qSucc      bool

	rtol   float64
	nItmax int

	fcStart, fcMin, fcMin2 float64
	qBDamp                 bool
	fcBand                 float64
	sigma, sigma2          float64

	ajDel, ajMin                   float64
	etaDif, etaMin, etaMax, etaIni float64

	mach   Machine
	logger Logger
}

// New validates the problem, applies the class defaults and creates a
// solver. Validation failures with a conventional return code (dimension,
// bandwidth, tolerance, missing Jacobian) carry it as an ArgumentError;
// the other validation failures are plain errors.
func (p *Problem) New(logger *Logger) (solver *Solver, err error) {

	if logger == nil {
		logger = new(Logger)
		logger.Level = LogNoop
	}
	if logger.Msg == nil {
		logger.Msg = os.Stdout
	}
	if logger.Out == nil {
		logger.Out = os.Stderr
	}

	mach := ieee754
	if p.Machine != nil {
		mach = *p.Machine
	}

	n := p.N
	nonlin := p.NonLin
	if nonlin == 0 {
		nonlin = Mild
	}

	ml, mu, banded := 0, 0, false
	if p.Band != nil {
		ml, mu, banded = p.Band.Lower, p.Band.Upper, true
	}

	switch {
	case n <= 0:
		err = argErr(BadDimension, "problem dimension must greater than 0")
	case p.Func == nil:
		err = errors.New("evaluation target is required")
	case nonlin < Linear || nonlin > Extreme:
		err = errors.New("unknown problem class")
	case p.JacMode < JacForward || p.JacMode > JacAdaptive:
		err = errors.New("unknown jacobian mode")
	case p.JacMode == JacUser && p.Jac == nil:
		err = argErr(MissingJacobian, "jacobian callback is required")
	case banded && (ml < 0 || mu < 0 || ml >= n || mu >= n):
		err = argErr(BadDimension, "bandwidths must lie in [0, n-1]")
	case p.Stop.RTol < zero || math.IsNaN(p.Stop.RTol):
		err = argErr(BadTolerance, "tolerance must not be negative")
	case p.Stop.MaxIterations < 0:
		err = errors.New("max iteration must not be negative")
	case mach.Eps <= zero || mach.Small <= zero || mach.Small >= one || mach.Great <= one:
		err = errors.New("unacceptable machine constants")
	}
	if err != nil {
		return
	}

	rtol := p.Stop.RTol
	if rtol == zero {
		rtol = 1e-6
	}
	if lo := ten * mach.Eps * float64(n); rtol < lo {
		rtol = lo
		if logger.enable(LogWarn) {
			logger.log("warning: tolerance raised to %e\n", rtol)
		}
	}
	if rtol > 0.1 {
		rtol = 0.1
		if logger.enable(LogWarn) {
			logger.log("warning: tolerance reduced to %e\n", rtol)
		}
	}

	nItmax := p.Stop.MaxIterations
	if nItmax == 0 {
		nItmax = 50
	}

	ordi, simpl := p.Ordinary, p.Simplified
	if simpl {
		// simplified Newton already reuses the Jacobian
		ordi = true
	}
	rank1 := p.Rank1 && !simpl && !ordi

	damp := p.Damp
	if damp.Start == zero {
		switch nonlin {
		case High:
			damp.Start = 1e-2
		case Extreme:
			damp.Start = 1e-4
		default:
			damp.Start = one
		}
	}
	if damp.Min == zero {
		damp.Min = 1e-4
		if nonlin == Extreme {
			damp.Min = 1e-8
		}
	}
	if damp.Band == zero {
		damp.Band = ten
	}
	if damp.Sigma == zero {
		damp.Sigma = 3
		if !rank1 {
			damp.Sigma = ten / damp.Min
		}
	}
	if damp.Sigma2 == zero {
		damp.Sigma2 = ten / damp.Min
	}

	switch {
	case damp.Start <= zero || damp.Start > one:
		err = errors.New("initial damping factor must lie in (0, 1]")
	case damp.Min <= zero || damp.Min > one:
		err = errors.New("minimal damping factor must lie in (0, 1]")
	case damp.Band < one:
		err = errors.New("damping bound factor must not less than 1")
	case damp.Sigma < one || damp.Sigma2 < one:
		err = errors.New("rank-1 decision thresholds must not less than 1")
	}
	if err != nil {
		return
	}

	nBroy := p.Broyden
	if nBroy <= 0 {
		if banded {
			nBroy = max(ml+mu+1, 10)
		} else {
			nBroy = max(min(n, 10), 1)
		}
	}

	qBDamp := damp.Bounded == BoundOn ||
		(damp.Bounded == BoundAuto && nonlin == Extreme)

	etaDif := math.Sqrt(1.1 * mach.Eps)
	etaMax := math.Sqrt(etaDif)
	etaMin := etaDif * etaMax

	solver = &Solver{
		iterSpec{
			n: n, banded: banded, ml: ml, mu: mu,
			nonlin: nonlin, jacMode: p.JacMode,
			fcn: p.Func, jac: p.Jac,
			rank1: rank1, nBroy: nBroy,
			ordi: ordi, simpl: simpl,
			noRowScal: p.NoRowScaling, fixedScale: p.FixedScale,
			qSucc:   p.Continuation,
			rtol:    rtol,
			nItmax:  nItmax,
			fcStart: damp.Start, fcMin: damp.Min, fcMin2: damp.Min * damp.Min,
			qBDamp: qBDamp, fcBand: damp.Band,
			sigma: damp.Sigma, sigma2: damp.Sigma2,
			ajDel: math.Sqrt(ten * mach.Eps), ajMin: zero,
			etaDif: etaDif, etaMin: etaMin, etaMax: etaMax,
			etaIni: math.Sqrt(etaMin * etaMax),
			mach:   mach,
			logger: *logger,
		},
	}
	return
}

// Solver holds the validated specification of a Newton iteration.
type Solver struct {
	iterSpec
}

// Workspace contains the state and context of one solve.
// To avoid race conditions, separate workspaces need to be created for
// each goroutine, but multiple workspaces could share one solver.
// In continuation mode the workspace carries the iteration across calls.
type Workspace struct {
	n, nb  int
	banded bool
	iterCtx
}

type iterCtx struct {
	primed   bool
	needJac  bool
	r1Reject bool
	nNew     int

	x, xa, xw, xscal []float64
	f, fa            []float64
	xt, ft, fu       []float64
	dx1, dxq, dxqa   []float64
	dx1s, dxqs       []float64
	uband            []float64
	eta, fw          []float64

	a    []float64
	ipvt []int

	dxSave, dxBar []float64

	fc, fca, fcKeep, fcPri, dmyCor float64
	sumX, sumXa, conv, dlevf       float64
	sumXS, dlevfs                  float64
	achieved                       float64

	nIter, nCorr, nFcn, nFcnJ, nJac, nRejR1 int

	xIter                                            [][]float64
	natLevel, simLevel, stdLevel, precision, dampFac []float64
}

// Init allocates the workspace for the solver. Matrix buffers and the
// history vectors are allocated once here and reused across iterations.
func (s *Solver) Init() *Workspace {
	n, nb := s.n, s.nBroy
	w := new(Workspace)
	w.n, w.nb, w.banded = n, nb, s.banded

	rows := n
	if s.banded {
		rows = bandRows(s.ml, s.mu)
	}

	c := &w.iterCtx
	c.x = make([]float64, n)
	c.xa = make([]float64, n)
	c.xw = make([]float64, n)
	c.xscal = make([]float64, n)
	c.f = make([]float64, n)
	c.fa = make([]float64, n)
	c.xt = make([]float64, n)
	c.ft = make([]float64, n)
	c.fu = make([]float64, n)
	c.dx1 = make([]float64, n)
	c.dxq = make([]float64, n)
	c.dxqa = make([]float64, n)
	c.dx1s = make([]float64, n)
	c.dxqs = make([]float64, n)
	c.uband = make([]float64, n)
	c.eta = make([]float64, n)
	c.fw = make([]float64, n)
	c.a = make([]float64, rows*n)
	c.ipvt = make([]int, n)
	if s.rank1 {
		c.dxSave = make([]float64, n*nb)
		c.dxBar = make([]float64, n*nb)
	}

	hist := s.nItmax + 1
	c.xIter = make([][]float64, 0, hist)
	c.natLevel = make([]float64, 0, hist)
	c.simLevel = make([]float64, 0, hist)
	c.stdLevel = make([]float64, 0, hist)
	c.precision = make([]float64, 0, hist)
	c.dampFac = make([]float64, 0, hist)
	return w
}

func (c *iterCtx) reset() {
	c.primed, c.needJac, c.r1Reject, c.nNew = false, false, false, 0
	c.fc, c.fca, c.fcKeep, c.fcPri, c.dmyCor = zero, zero, zero, zero, zero
	c.sumX, c.sumXa, c.conv, c.dlevf = zero, zero, zero, zero
	c.sumXS, c.dlevfs, c.achieved = zero, zero, zero
	c.nIter, c.nCorr, c.nFcn, c.nFcnJ, c.nJac, c.nRejR1 = 0, 0, 0, 0, 0, 0
	c.xIter = c.xIter[:0]
	c.natLevel = c.natLevel[:0]
	c.simLevel = c.simLevel[:0]
	c.stdLevel = c.stdLevel[:0]
	c.precision = c.precision[:0]
	c.dampFac = c.dampFac[:0]
}

// Stats summarizes a solve: the effective scale vector, the achieved
// precision, the work counters and the per-iteration history.
type Stats struct {
	XScal     []float64 // final scale vector
	RTol      float64   // achieved (or requested) tolerance
	NIter     int       // Newton steps performed
	NCorr     int       // corrector steps (damping retries)
	NFcn      int       // function evaluations of the iteration
	NFcnJ     int       // function evaluations spent on difference Jacobians
	NJac      int       // Jacobian evaluations
	NRejR1    int       // rejected rank-1 steps
	XIter     [][]float64
	NatLevel  []float64 // scaled natural level per iteration
	SimLevel  []float64 // natural level of the simplified correction
	StdLevel  []float64 // RMS residual per iteration
	Precision []float64 // achieved scaled precision per iteration
	DampingFc []float64 // accepted damping factor per iteration
}

// Result contains the final result of a solve.
type Result struct {
	OK     bool      // Whether the iteration converged.
	Status Status    // Final return code.
	X      []float64 // Final iterate.
	Stats  Stats     // Solve summary.
}

func (w *Workspace) result(s *Solver, status Status) *Result {
	c := &w.iterCtx
	rtol := c.achieved
	if rtol == zero {
		rtol = s.rtol
	}
	return &Result{
		OK:     status == Converged,
		Status: status,
		X:      c.x,
		Stats: Stats{
			XScal: c.xscal, RTol: rtol,
			NIter: c.nIter, NCorr: c.nCorr,
			NFcn: c.nFcn, NFcnJ: c.nFcnJ,
			NJac: c.nJac, NRejR1: c.nRejR1,
			XIter:    c.xIter,
			NatLevel: c.natLevel, SimLevel: c.simLevel,
			StdLevel: c.stdLevel, Precision: c.precision,
			DampingFc: c.dampFac,
		},
	}
}

// Solve runs the Newton iteration from the initial guess x with user
// scale lower bounds xscal. On return x is overwritten with the final
// iterate. In continuation mode a primed workspace resumes where the
// previous call stopped and the iteration limit applies to this call.
func (s *Solver) Solve(x, xscal []float64, w *Workspace) *Result {

	n := s.n
	if w == nil || w.n != n || w.banded != s.banded {
		panic("workspace dimension not match spec")
	}
	c := &w.iterCtx

	if len(x) != n || len(xscal) != n {
		return w.result(s, BadDimension)
	}
	for _, v := range xscal {
		if v < zero {
			// reject before any state is touched
			return w.result(s, BadScaling)
		}
	}

	resume := s.qSucc && c.primed
	if !resume {
		c.reset()
		copy(c.x, x)
	}

	defScal := one
	if s.nonlin >= High {
		defScal = s.rtol
	}
	copy(c.xscal, xscal)
	if adjusted, _ := checkScale(c.xscal, defScal, &s.mach); adjusted {
		if s.logger.enable(LogWarn) {
			s.logger.log("warning: scale vector clamped into the safe window\n")
		}
	}

	d := iterDriver{spec: &s.iterSpec, ctx: c}
	status := d.mainLoop()

	copy(x, c.x)
	return w.result(s, status)
}
