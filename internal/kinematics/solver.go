// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package kinematics

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"
)

// Solver maps a target pose to joint angles for a chain.
type Solver interface {
	Solve(ctx context.Context, c *Chain, target Pose, seed JointVector) (JointVector, error)
}

var (
	_ Solver = GeometricSolver{}
	_ Solver = NumericSolver{}
	_ Solver = (*FallbackSolver)(nil)
)

// FallbackSolver tries the closed form first and refines or replaces it with
// the numeric solver when the closed form does not hit the target.
type FallbackSolver struct {
	Geometric GeometricSolver
	Numeric   NumericSolver
	// Tolerance is the FK residual that accepts a closed-form answer, mm.
	Tolerance float64
}

// NewFallbackSolver returns a solver with default settings.
func NewFallbackSolver() *FallbackSolver {
	return &FallbackSolver{Tolerance: DefaultIKTolerance}
}

// Solve implements Solver.
func (s *FallbackSolver) Solve(ctx context.Context, c *Chain, target Pose, seed JointVector) (JointVector, error) {
	tol := s.Tolerance
	if tol <= 0 {
		tol = DefaultIKTolerance
	}
	if !finite(target.Position) {
		return nil, errors.Wrap(ErrDegenerate, "target is not finite")
	}

	if target.Orientation == nil {
		q, err := s.Geometric.Solve(ctx, c, target, seed)
		switch {
		case err == nil:
			p, ferr := c.Position(q)
			if ferr == nil && r3.Norm(r3.Sub(p, target.Position)) <= tol {
				return q, nil
			}
			seed = q
		case errors.Is(err, ErrDegenerate):
			return nil, err
		case errors.Is(err, ErrUnreachable):
			if beyondStretch(c, target.Position) {
				return nil, err
			}
		}
	}

	q, err := s.Numeric.Solve(ctx, c, target, seed)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// beyondStretch reports whether p is further from the shoulder than the arm
// can reach with every planar link in line, whatever the tool pitch.
func beyondStretch(c *Chain, p r3.Vec) bool {
	pl, err := newPlanar(c)
	if err != nil {
		return false
	}
	r := math.Hypot(p.X, p.Y) - pl.a1
	h := p.Z - pl.d1
	return math.Hypot(r, h) > pl.l2+pl.l3+pl.l4
}
