// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package lsq solves bound-constrained nonlinear least squares problems:
//
//	minimize 0.5 * ||f(x)||^2  subject to  lower <= x <= upper
//
// Callers depend on the Solver interface so the algorithm can be swapped
// without touching the residual model.
package lsq

import (
	"context"
	"math"

	"github.com/pkg/errors"
)

// ErrBadProblem is returned for problems whose shape does not line up.
var ErrBadProblem = errors.New("malformed least squares problem")

// Problem describes the residual function and its bounds.
type Problem struct {
	// M is the number of residuals Func writes.
	M int
	// Func writes the residuals for x into dst. It must not retain either slice.
	Func func(dst, x []float64)
	// Lower and Upper are optional. A nil slice leaves that side unbounded.
	// Parameters with Lower[i] == Upper[i] are held fixed.
	Lower, Upper []float64
}

// Reason explains why a solve stopped.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonFTol
	ReasonXTol
	ReasonGTol
	ReasonZeroResidual
	ReasonMaxEvaluations
	ReasonTimeout
	ReasonCanceled
)

var reasonNames = map[Reason]string{
	ReasonNone:           "none",
	ReasonFTol:           "ftol",
	ReasonXTol:           "xtol",
	ReasonGTol:           "gtol",
	ReasonZeroResidual:   "zero residual",
	ReasonMaxEvaluations: "max evaluations",
	ReasonTimeout:        "timeout",
	ReasonCanceled:       "canceled",
}

func (r Reason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return "unknown"
}

// Converged reports whether the reason is one of the tolerance tests.
func (r Reason) Converged() bool {
	switch r {
	case ReasonFTol, ReasonXTol, ReasonGTol, ReasonZeroResidual:
		return true
	}
	return false
}

// Result is the best point found.
type Result struct {
	X         []float64
	Residuals []float64
	Cost      float64 // 0.5 * sum of squared residuals
	// Active marks parameters that finished pinned at a bound or were fixed.
	Active      []bool
	Iterations  int
	Evaluations int // residual evaluations, finite-difference probes excluded
	Jacobians   int
	Reason      Reason
}

// Converged is shorthand for r.Reason.Converged().
func (r *Result) Converged() bool {
	return r.Reason.Converged()
}

// Solver is a bounded least squares algorithm.
type Solver interface {
	Solve(ctx context.Context, p Problem, x0 []float64) (*Result, error)
}

// check validates p against x0 and returns filled bound slices.
func (p Problem) check(x0 []float64) (lower, upper []float64, err error) {
	n := len(x0)
	if n == 0 {
		return nil, nil, errors.Wrap(ErrBadProblem, "no parameters")
	}
	if p.M <= 0 || p.Func == nil {
		return nil, nil, errors.Wrapf(ErrBadProblem, "need M > 0 and a residual function, got M=%d", p.M)
	}
	lower = make([]float64, n)
	upper = make([]float64, n)
	for i := range lower {
		lower[i] = math.Inf(-1)
		upper[i] = math.Inf(1)
	}
	if p.Lower != nil {
		if len(p.Lower) != n {
			return nil, nil, errors.Wrapf(ErrBadProblem, "lower bound has %d entries, want %d", len(p.Lower), n)
		}
		copy(lower, p.Lower)
	}
	if p.Upper != nil {
		if len(p.Upper) != n {
			return nil, nil, errors.Wrapf(ErrBadProblem, "upper bound has %d entries, want %d", len(p.Upper), n)
		}
		copy(upper, p.Upper)
	}
	for i := range lower {
		if math.IsNaN(lower[i]) || math.IsNaN(upper[i]) || lower[i] > upper[i] {
			return nil, nil, errors.Wrapf(ErrBadProblem, "bounds for parameter %d are [%v, %v]", i, lower[i], upper[i])
		}
		if math.IsNaN(x0[i]) || math.IsInf(x0[i], 0) {
			return nil, nil, errors.Wrapf(ErrBadProblem, "start value %d is %v", i, x0[i])
		}
	}
	return lower, upper, nil
}

func project(x, lower, upper []float64) {
	for i := range x {
		x[i] = math.Max(lower[i], math.Min(upper[i], x[i]))
	}
}

func halfSquaredNorm(r []float64) float64 {
	var s float64
	for _, v := range r {
		s += v * v
	}
	return 0.5 * s
}
