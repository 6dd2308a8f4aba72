// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nleq1

import "math"

// iterDriver runs the damped Newton iteration, managing the interplay of
// the damping-factor predictor, the monotonicity-tested corrector loop
// and the Broyden rank-1 chain.
type iterDriver struct {
	spec *iterSpec
	ctx  *iterCtx
}

// mainLoop is the main execution loop of the Newton iteration.
// Status Iterating is the in-flight value; anything else terminates.
func (d *iterDriver) mainLoop() (status Status) {

	o, w := d.spec, d.ctx
	n := o.n

	if !w.primed {
		w.primed = true
		copy(w.xa, w.x)
		w.nFcn = 1
		if safeEval(o.fcn, w.x, w.f) != nil {
			return EvalFailed
		}
		w.fc = o.fcStart
		if o.ordi {
			w.fc = one
		}
		w.fca, w.fcKeep, w.fcPri = w.fc, w.fc, w.fc
		w.needJac = true
		w.nNew = 0
		if o.jacMode == JacAdaptive {
			for i := 0; i < n; i++ {
				w.eta[i] = o.etaIni
			}
		}
		d.printInit()
	}

	// the iteration limit applies per call in continuation mode
	itLimit := w.nIter + o.nItmax
	rtol2 := o.rtol * o.rtol * float64(n)

	for {
		if w.nIter >= itLimit {
			status = ExceedMaxIter
			if o.qSucc {
				status = Iterating
			}
			d.printExit(status)
			return
		}

		// startup of the iteration step: refresh the scaling and the
		// factorized Jacobian unless the current chain reuses them
		if w.needJac {
			if status = d.refreshSystem(); status != Iterating {
				d.printExit(status)
				return
			}
		}

		// Newton correction at the current iterate
		d.solveCorrection(w.f, w.dx1, w.dxq)
		w.conv, w.sumX, w.dlevf = levels(w.dx1, w.f, n)
		d.record()

		// convergence already at the current iterate
		if w.sumX <= rtol2 {
			for i := 0; i < n; i++ {
				w.x[i] += w.dxq[i]
			}
			w.achieved = math.Sqrt(w.sumX / float64(n))
			d.printExit(Converged)
			return Converged
		}

		d.predictDamping()

		var restart bool
		if status, restart = d.corrector(); status != Iterating {
			d.printExit(status)
			return
		}
		if restart {
			// the rank-1 step was rejected, redo with a fresh Jacobian
			continue
		}

		w.dampFac = append(w.dampFac, w.fc)
		w.simLevel = append(w.simLevel, w.sumXS)

		// convergence of the simplified correction at the trial point:
		// accept it as the final improvement without a new Jacobian
		if w.sumXS <= rtol2 {
			for i := 0; i < n; i++ {
				w.x[i] = w.xt[i] + w.dxqs[i]
			}
			copy(w.f, w.ft)
			w.achieved = math.Sqrt(w.sumXS / float64(n))
			w.nIter++
			d.printExit(Converged)
			return Converged
		}

		d.rank1Decision()
		d.commit()
	}
}

// refreshSystem recomputes the scaling vector, evaluates a fresh Jacobian,
// equilibrates it and factorizes the scaled system.
func (d *iterDriver) refreshSystem() Status {

	o, w := d.spec, d.ctx
	n := o.n

	scaleIterate(w.xw, w.xscal, w.x, w.xa, o.fixedScale, &o.mach)

	for i := range w.a {
		w.a[i] = zero
	}

	var nf int
	var err error
	switch o.jacMode {
	case JacUser:
		err = safeJac(o.jac, w.x, w.a)
	case JacForward:
		if o.banded {
			nf, err = jacForwardBand(o.fcn, w.x, w.f, w.fu, w.uband, w.a, w.xw, n, o.ml, o.mu, o.ajDel, o.ajMin)
		} else {
			nf, err = jacForward(o.fcn, w.x, w.f, w.fu, w.a, w.xw, n, o.ajDel, o.ajMin)
		}
	case JacAdaptive:
		if o.banded {
			nf, err = jacAdaptiveBand(o.fcn, w.x, w.f, w.fu, w.uband, w.a, w.xw, w.eta, n, o.ml, o.mu, w.conv, o.etaDif, o.etaMin, o.etaMax)
		} else {
			nf, err = jacAdaptive(o.fcn, w.x, w.f, w.fu, w.a, w.xw, w.eta, n, w.conv, o.etaDif, o.etaMin, o.etaMax)
		}
	}
	w.nFcnJ += nf
	if err != nil {
		return EvalFailed
	}
	w.nJac++

	// right-scale the columns by xw so the factorized system yields the
	// correction in scaled coordinates directly
	if o.banded {
		for j := 0; j < n; j++ {
			i0, i1 := max(0, j-o.mu), min(n-1, j+o.ml)
			for i := i0; i <= i1; i++ {
				w.a[(o.mu+i-j)*n+j] *= w.xw[j]
			}
		}
	} else {
		for i := 0; i < n; i++ {
			row := w.a[i*n : i*n+n]
			for j := 0; j < n; j++ {
				row[j] *= w.xw[j]
			}
		}
	}

	// left-scale the rows by their infinity norms
	if o.noRowScal {
		for i := 0; i < n; i++ {
			w.fw[i] = one
		}
	} else if o.banded {
		scaleRowsBand(w.a, w.fw, n, o.ml, o.mu)
	} else {
		scaleRows(w.a, w.fw, n)
	}

	var info int
	if o.banded {
		bandShift(w.a, n, o.ml, o.mu)
		info = dgbfa(w.a, n, o.ml, o.mu, w.ipvt)
	} else {
		info = dgefa(w.a, n, w.ipvt)
	}
	if info != 0 {
		return SingularJacobian
	}

	w.nNew = 0
	w.needJac = false
	return Iterating
}

// safeJac invokes the user Jacobian, turning a panic into an error.
func safeJac(jac JacobianFunc, x, a []float64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errEvalPanic
		}
	}()
	err = jac(x, a)
	return
}

// solveCorrection solves the scaled linear system for the correction
// belonging to the residual fv: dx1 is the correction in scaled
// coordinates, dxq the descaled one. At rank-1 depth m the stored
// increment pairs are applied as a Sherman-Morrison recursion on top of
// the base factorization.
func (d *iterDriver) solveCorrection(fv, dx1, dxq []float64) {

	o, w := d.spec, d.ctx
	n := o.n

	for i := 0; i < n; i++ {
		dx1[i] = -fv[i] * w.fw[i]
	}
	if o.banded {
		dgbsl(w.a, n, o.ml, o.mu, w.ipvt, dx1)
	} else {
		dgesl(w.a, n, w.ipvt, dx1)
	}
	for i := 0; i < n; i++ {
		dxq[i] = dx1[i] * w.xw[i]
	}

	for m := 0; m < w.nNew; m++ {
		dcol := w.dxSave[m*n : m*n+n]
		scol := w.dxBar[m*n : m*n+n]
		var dd, ds, du float64
		for i := 0; i < n; i++ {
			wi := one / (w.xw[i] * w.xw[i])
			dd += dcol[i] * dcol[i] * wi
			ds += dcol[i] * scol[i] * wi
			du += dcol[i] * dxq[i] * wi
		}
		den := dd - ds
		if den == zero {
			continue
		}
		t := du / den
		for i := 0; i < n; i++ {
			dxq[i] += t * scol[i]
		}
	}
	if w.nNew > 0 {
		for i := 0; i < n; i++ {
			dx1[i] = dxq[i] / w.xw[i]
		}
	}
}

// predictDamping computes the a-priori damping factor of the step from
// the affine-invariant Lipschitz estimate of the previous corrections.
func (d *iterDriver) predictDamping() {

	o, w := d.spec, d.ctx

	if o.ordi {
		w.fc, w.fcPri = one, one
		return
	}
	if w.r1Reject {
		// redo after a rejected rank-1 step keeps the halved factor
		w.r1Reject = false
		w.fcPri = w.fc
		return
	}
	if w.nIter == 0 || o.nonlin == Linear {
		w.fcPri = w.fc
		return
	}

	// dxqs still holds the simplified correction of the accepted trial,
	// i.e. the previous Jacobian's correction at the current iterate
	var fcDnm, fcNumP float64
	for i := 0; i < o.n; i++ {
		s := w.dxqs[i] / w.xw[i]
		v := s - w.dx1[i]
		fcDnm += v * v
		fcNumP += s * s
	}
	fcDnm *= w.sumX
	fcNumP *= w.sumXa

	fcPri := one
	if fcDnm > fcNumP*o.fcMin2 {
		dMyPri := w.fca * math.Sqrt(fcNumP/fcDnm)
		if o.nonlin == Extreme {
			dMyPri *= half
		}
		fcPri = math.Min(one, dMyPri)
	}
	if o.qBDamp {
		fcPri = math.Min(fcPri, w.fca*o.fcBand)
		fcPri = math.Max(fcPri, w.fca/o.fcBand)
		fcPri = math.Min(fcPri, one)
	}

	w.fcPri = fcPri
	w.fc = math.Max(fcPri, o.fcMin)
}

// corrector forms the damped trial step and applies the natural-level
// monotonicity test, shrinking the damping factor on failure. It returns
// restart = true when a rank-1 step was rejected and the iteration must
// be redone with a fresh Jacobian at the same iterate.
func (d *iterDriver) corrector() (Status, bool) {

	o, w := d.spec, d.ctx
	n := o.n

	qRep := false
	atFloor := w.fc <= o.fcMin

	for {
		for i := 0; i < n; i++ {
			w.xt[i] = w.x[i] + w.fc*w.dxq[i]
		}
		w.nFcn++
		if safeEval(o.fcn, w.xt, w.ft) != nil {
			return EvalFailed, false
		}

		// simplified correction: resolve with the existing factorization
		d.solveCorrection(w.ft, w.dx1s, w.dxqs)
		_, w.sumXS, w.dlevfs = levels(w.dx1s, w.ft, n)

		if o.ordi || o.nonlin == Linear {
			return Iterating, false
		}

		// a-posteriori estimate of the damping factor
		th := w.fc - one
		var fcDnm float64
		for i := 0; i < n; i++ {
			v := (w.dxqs[i] + th*w.dxq[i]) / w.xw[i]
			fcDnm += v * v
		}
		dMyCor := o.mach.Great
		if fcDnm > o.mach.Small {
			dMyCor = w.fc * w.fc * half * math.Sqrt(w.sumX/fcDnm)
		}
		fcCor := math.Min(one, dMyCor)
		if o.nonlin == Extreme {
			fcCor = math.Min(one, half*dMyCor)
		}
		w.dmyCor = dMyCor

		if w.sumXS <= w.sumX { // natural monotonicity test
			if !qRep && w.fc < one && fcCor > o.sigma2*w.fc {
				// the estimate allows a much larger factor: repeat once
				if d.verbose() {
					d.printTrial("inc", fcCor)
				}
				w.fc = fcCor
				w.nCorr++
				qRep = true
				continue
			}
			return Iterating, false
		}

		if w.nNew > 0 {
			// the rank-1 updated step is not monotone: discard the
			// chain and recompute with a fresh Jacobian
			w.nRejR1++
			w.fc = math.Max(o.fcMin, half*w.fc)
			w.nNew = 0
			w.needJac = true
			w.r1Reject = true
			if d.verbose() {
				d.printTrial("rejr1", w.fc)
			}
			return Iterating, true
		}

		if atFloor {
			// entered at the minimal damping factor, nothing to reduce
			return NonMonotone, false
		}

		w.nCorr++
		qRep = true
		fcNew := math.Min(fcCor, half*w.fc)
		if fcNew < o.fcMin {
			// no acceptable damping factor remains
			return DampingTooSmall, false
		}
		w.fc = fcNew
		if d.verbose() {
			d.printTrial("red", w.fc)
		}
	}
}

// rank1Decision decides whether the next step may reuse the factorized
// Jacobian through a Broyden update. Only nearly undamped steps extend
// the chain; otherwise a fresh Jacobian is forced.
func (d *iterDriver) rank1Decision() {

	o, w := d.spec, d.ctx

	if o.simpl {
		// simplified Newton keeps the initial factorization forever
		w.needJac = false
		return
	}

	allow := o.rank1 && w.nNew < o.nBroy && w.conv < o.sigma2 &&
		(w.fc == one || w.fc >= o.sigma*w.fcPri)
	if !allow {
		w.nNew = 0
		w.needJac = true
		return
	}

	n, m := o.n, w.nNew
	dcol := w.dxSave[m*n : m*n+n]
	scol := w.dxBar[m*n : m*n+n]
	for i := 0; i < n; i++ {
		dcol[i] = w.fc * w.dxq[i]
		scol[i] = w.dxqs[i]
	}
	w.nNew++
	w.needJac = false
}

// commit makes the accepted trial point the current iterate.
func (d *iterDriver) commit() {

	o, w := d.spec, d.ctx

	copy(w.xa, w.x)
	copy(w.x, w.xt)
	copy(w.fa, w.f)
	copy(w.f, w.ft)
	copy(w.dxqa, w.dxq)
	w.sumXa = w.sumX
	w.fca, w.fcKeep = w.fc, w.fc
	w.nIter++

	if log := o.logger; log.enable(LogIter) {
		log.log("%6d %14.5e %14.5e %10.5f %5d\n",
			w.nIter, w.dlevfs, math.Sqrt(w.sumXS/float64(o.n)), w.fc, w.nNew)
	}
}

// record stores the per-iteration history. A rejected rank-1 step redoes
// the iteration, in which case the slot is overwritten instead of grown.
func (d *iterDriver) record() {

	o, w := d.spec, d.ctx
	n := o.n
	prec := math.Sqrt(w.sumX / float64(n))

	if len(w.natLevel) == w.nIter+1 {
		last := w.nIter
		copy(w.xIter[last], w.x)
		w.natLevel[last] = w.sumX
		w.stdLevel[last] = w.dlevf
		w.precision[last] = prec
		return
	}

	xi := make([]float64, n)
	copy(xi, w.x)
	w.xIter = append(w.xIter, xi)
	w.natLevel = append(w.natLevel, w.sumX)
	w.stdLevel = append(w.stdLevel, w.dlevf)
	w.precision = append(w.precision, prec)
}

func (d *iterDriver) verbose() bool {
	return d.spec.logger.enable(LogVerbose)
}

func (d *iterDriver) printInit() {
	if log := d.spec.logger; log.enable(LogIter) {
		log.log("    It         Levelf         Levelx  Damp.Fct.   New\n")
	}
}

func (d *iterDriver) printTrial(kind string, fc float64) {
	d.spec.logger.log("%6d   trial %-5s  fc = %10.5f\n", d.ctx.nIter, kind, fc)
}

func (d *iterDriver) printExit(status Status) {
	log := d.spec.logger
	if !log.enable(LogWarn) {
		return
	}
	w := d.ctx
	switch status {
	case Converged:
		if log.enable(LogIter) {
			log.log("solution of nonlinear system obtained within %d iteration steps\n", w.nIter)
		}
	case Iterating:
		// continuation pause, nothing to report
	case ExceedMaxIter:
		log.log("error: maximum number of iterations exceeded\n")
	case DampingTooSmall:
		log.log("error: damping factor has become too small: lambda = %e\n", w.fc)
	case SingularJacobian:
		log.log("error: the jacobian is singular\n")
	case NonMonotone:
		log.log("error: the level is not monotonically reducible at the minimal damping factor\n")
	case EvalFailed:
		log.log("error: a user callback failed\n")
	}
}
