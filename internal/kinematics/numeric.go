// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package kinematics

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/spatial/r3"
)

// Numeric solver defaults.
const (
	DefaultIKTolerance     = 0.1 // mm
	DefaultIKIterations    = 200
	DefaultIKTimeout       = 2 * time.Second
	DefaultOrientationGain = 100.0 // mm per unit of Frobenius error
	DefaultOrientationTol  = 1e-3
)

// jointLimit bounds every joint to [-jointLimit, jointLimit].
const jointLimit = math.Pi

// NumericSolver minimizes the tool error over all joints with BFGS.
// Joint bounds are enforced by optimizing u with q = pi*sin(u).
type NumericSolver struct {
	Tolerance            float64 // position residual, mm
	MaxIterations        int
	Timeout              time.Duration
	OrientationGain      float64
	OrientationTolerance float64
}

func (s NumericSolver) withDefaults() NumericSolver {
	if s.Tolerance <= 0 {
		s.Tolerance = DefaultIKTolerance
	}
	if s.MaxIterations <= 0 {
		s.MaxIterations = DefaultIKIterations
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultIKTimeout
	}
	if s.OrientationGain <= 0 {
		s.OrientationGain = DefaultOrientationGain
	}
	if s.OrientationTolerance <= 0 {
		s.OrientationTolerance = DefaultOrientationTol
	}
	return s
}

// Solve implements Solver. seed may be nil or shorter than the chain; missing
// joints start at zero.
func (s NumericSolver) Solve(ctx context.Context, c *Chain, target Pose, seed JointVector) (JointVector, error) {
	s = s.withDefaults()
	if !finite(target.Position) {
		return nil, errors.Wrap(ErrDegenerate, "target is not finite")
	}
	if len(seed) > c.Joints() {
		return nil, errors.Wrapf(ErrJointCount, "seed has %d joints, chain has %d", len(seed), c.Joints())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runtime := s.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < runtime {
			runtime = left
		}
	}
	if runtime <= 0 {
		return nil, context.DeadlineExceeded
	}

	n := c.Joints()
	u0 := make([]float64, n)
	for i := 0; i < len(seed); i++ {
		v := math.Max(-0.999, math.Min(0.999, seed[i]/jointLimit))
		u0[i] = math.Asin(v)
	}

	q := make(JointVector, n)
	toJoints := func(u []float64) {
		for i := range u {
			q[i] = jointLimit * math.Sin(u[i])
		}
	}
	gain2 := s.OrientationGain * s.OrientationGain
	objective := func(u []float64) float64 {
		toJoints(u)
		t, _ := c.ToolTransform(q)
		e := r3.Sub(t.Translation(), target.Position)
		f := r3.Dot(e, e)
		if target.Orientation != nil {
			d := t.Rotation().FrobeniusDistance(*target.Orientation)
			f += gain2 * d * d
		}
		return f
	}
	gradSettings := &fd.Settings{Formula: fd.Central}
	problem := optimize.Problem{
		Func: objective,
		Grad: func(grad, u []float64) {
			fd.Gradient(grad, objective, u, gradSettings)
		},
	}
	threshold := 0.01 * s.Tolerance
	settings := &optimize.Settings{
		MajorIterations: s.MaxIterations,
		Runtime:         runtime,
		Converger: &thresholdConverger{
			threshold: threshold * threshold,
			inner:     optimize.FunctionConverge{Absolute: 1e-14, Iterations: 20},
		},
	}

	res, err := optimize.Minimize(problem, u0, settings, &optimize.BFGS{})
	if res == nil {
		return nil, errors.Wrap(err, "numeric inverse kinematics")
	}

	toJoints(res.X)
	out := q.Clone()
	t, _ := c.ToolTransform(out)
	residual := r3.Norm(r3.Sub(t.Translation(), target.Position))
	if math.IsNaN(residual) {
		return nil, errors.Wrap(ErrDegenerate, "numeric inverse kinematics produced NaN")
	}

	fail := &NoConvergenceError{Residual: residual, Iterations: res.Stats.MajorIterations, Status: res.Status.String()}
	if budgetExhausted(res.Status) || residual >= s.Tolerance {
		return nil, fail
	}
	if target.Orientation != nil && t.Rotation().FrobeniusDistance(*target.Orientation) >= s.OrientationTolerance {
		return nil, fail
	}
	return out, nil
}

// budgetExhausted reports statuses where the optimizer ran out of budget
// rather than stopping at a point it considers a minimum.
func budgetExhausted(s optimize.Status) bool {
	switch s {
	case optimize.IterationLimit, optimize.RuntimeLimit,
		optimize.FunctionEvaluationLimit, optimize.GradientEvaluationLimit:
		return true
	}
	return false
}

// thresholdConverger stops as soon as the objective drops under threshold and
// otherwise defers to a FunctionConverge.
type thresholdConverger struct {
	threshold float64
	inner     optimize.FunctionConverge
}

func (c *thresholdConverger) Init(dim int) {
	c.inner.Init(dim)
}

func (c *thresholdConverger) Converged(loc *optimize.Location) optimize.Status {
	if loc.F < c.threshold {
		return optimize.FunctionThreshold
	}
	return c.inner.Converged(loc)
}
