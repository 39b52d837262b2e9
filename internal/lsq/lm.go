// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package lsq

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	DefaultTolerance      = 1e-8
	DefaultMaxEvaluations = 1000
	DefaultInitialDamping = 1e-3

	maxDamping = 1e16
	minDamping = 1e-12
)

// LevenbergMarquardt is a projected Levenberg-Marquardt solver with
// Marquardt diagonal scaling. Parameters sitting on a bound whose gradient
// points outward are frozen for that iteration.
type LevenbergMarquardt struct {
	FTol, XTol, GTol float64
	MaxEvaluations   int
	Timeout          time.Duration
	InitialDamping   float64
	// Step is the finite-difference step; zero uses the fd package default.
	Step float64
}

var _ Solver = LevenbergMarquardt{}

func (lm LevenbergMarquardt) withDefaults() LevenbergMarquardt {
	if lm.FTol <= 0 {
		lm.FTol = DefaultTolerance
	}
	if lm.XTol <= 0 {
		lm.XTol = DefaultTolerance
	}
	if lm.GTol <= 0 {
		lm.GTol = DefaultTolerance
	}
	if lm.MaxEvaluations <= 0 {
		lm.MaxEvaluations = DefaultMaxEvaluations
	}
	if lm.InitialDamping <= 0 {
		lm.InitialDamping = DefaultInitialDamping
	}
	return lm
}

// Solve implements Solver. An error is returned only for malformed problems;
// budget exhaustion and cancellation are reported through Result.Reason.
func (lm LevenbergMarquardt) Solve(ctx context.Context, p Problem, x0 []float64) (*Result, error) {
	lm = lm.withDefaults()
	lower, upper, err := p.check(x0)
	if err != nil {
		return nil, err
	}
	n, m := len(x0), p.M

	var deadline time.Time
	if lm.Timeout > 0 {
		deadline = time.Now().Add(lm.Timeout)
	}
	stop := func(res *Result) Reason {
		if ctx.Err() != nil {
			return ReasonCanceled
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return ReasonTimeout
		}
		if res.Evaluations >= lm.MaxEvaluations {
			return ReasonMaxEvaluations
		}
		return ReasonNone
	}

	res := &Result{Active: make([]bool, n)}
	x := append([]float64(nil), x0...)
	project(x, lower, upper)
	r := make([]float64, m)
	eval := func(dst, at []float64) float64 {
		p.Func(dst, at)
		res.Evaluations++
		return halfSquaredNorm(dst)
	}
	cost := eval(r, x)
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return nil, errors.Wrap(ErrBadProblem, "residuals at the start point are not finite")
	}

	finish := func(reason Reason) *Result {
		res.X = x
		res.Residuals = r
		res.Cost = cost
		res.Reason = reason
		return res
	}

	jac := mat.NewDense(m, n, nil)
	jacSettings := &fd.JacobianSettings{Formula: fd.Central, Step: lm.Step}
	grad := make([]float64, n)
	trial := make([]float64, n)
	rTrial := make([]float64, m)
	lambda := lm.InitialDamping

	for {
		if cost == 0 {
			return finish(ReasonZeroResidual), nil
		}
		if reason := stop(res); reason != ReasonNone {
			return finish(reason), nil
		}

		fd.Jacobian(jac, p.Func, x, jacSettings)
		res.Jacobians++
		res.Iterations++

		gv := mat.NewVecDense(n, grad)
		gv.MulVec(jac.T(), mat.NewVecDense(m, r))

		free := make([]int, 0, n)
		var gmax float64
		for i := 0; i < n; i++ {
			pinned := lower[i] == upper[i] ||
				(x[i] <= lower[i] && grad[i] > 0) ||
				(x[i] >= upper[i] && grad[i] < 0)
			res.Active[i] = pinned
			if !pinned {
				free = append(free, i)
				gmax = math.Max(gmax, math.Abs(grad[i]))
			}
		}
		if len(free) == 0 || gmax <= lm.GTol {
			return finish(ReasonGTol), nil
		}

		k := len(free)
		jf := mat.NewDense(m, k, nil)
		for j, col := range free {
			for i := 0; i < m; i++ {
				jf.Set(i, j, jac.At(i, col))
			}
		}
		var normal mat.SymDense
		normal.SymOuterK(1, jf.T())
		b := make([]float64, k)
		scale := make([]float64, k)
		var maxDiag float64
		for j, col := range free {
			b[j] = -grad[col]
			scale[j] = normal.At(j, j)
			maxDiag = math.Max(maxDiag, scale[j])
		}
		floor := 1e-12 * (1 + maxDiag)
		for j := range scale {
			scale[j] = math.Max(scale[j], floor)
		}

		for {
			damped := mat.NewSymDense(k, nil)
			damped.CopySym(&normal)
			for j := 0; j < k; j++ {
				damped.SetSym(j, j, normal.At(j, j)+lambda*scale[j])
			}
			step, ok := solveNormal(damped, b)
			if !ok {
				lambda *= 10
				if lambda > maxDamping {
					return finish(ReasonXTol), nil
				}
				continue
			}

			copy(trial, x)
			for j, col := range free {
				trial[col] += step[j]
			}
			project(trial, lower, upper)
			if floats.Distance(trial, x, 2) <= lm.XTol*(lm.XTol+floats.Norm(x, 2)) {
				return finish(ReasonXTol), nil
			}

			trialCost := eval(rTrial, trial)
			if trialCost < cost {
				reduction := cost - trialCost
				prev := cost
				copy(x, trial)
				copy(r, rTrial)
				cost = trialCost
				lambda = math.Max(lambda/10, minDamping)
				if reduction <= lm.FTol*prev {
					return finish(ReasonFTol), nil
				}
				break
			}

			lambda *= 10
			if lambda > maxDamping {
				return finish(ReasonXTol), nil
			}
			if reason := stop(res); reason != ReasonNone {
				return finish(reason), nil
			}
		}
	}
}

// solveNormal solves a*x = b with a Cholesky factorization, falling back to a
// general solve when a is not numerically positive definite.
func solveNormal(a *mat.SymDense, b []float64) ([]float64, bool) {
	k := len(b)
	bv := mat.NewVecDense(k, append([]float64(nil), b...))
	x := mat.NewVecDense(k, nil)

	var chol mat.Cholesky
	if chol.Factorize(a) {
		if err := chol.SolveVecTo(x, bv); err == nil && finiteVec(x) {
			return x.RawVector().Data, true
		}
	}
	if err := x.SolveVec(a, bv); err != nil || !finiteVec(x) {
		return nil, false
	}
	return x.RawVector().Data, true
}

func finiteVec(v *mat.VecDense) bool {
	for i := 0; i < v.Len(); i++ {
		x := v.AtVec(i)
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
