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

// Elbow selects one of the two closed-form branches.
type Elbow int

const (
	// ElbowUp keeps the elbow above the shoulder-wrist line.
	ElbowUp Elbow = iota
	// ElbowDown is the mirrored branch below the line.
	ElbowDown
)

func (e Elbow) String() string {
	if e == ElbowDown {
		return "down"
	}
	return "up"
}

// ParseElbow accepts "up" or "down".
func ParseElbow(s string) (Elbow, error) {
	switch s {
	case "", "up":
		return ElbowUp, nil
	case "down":
		return ElbowDown, nil
	}
	return ElbowUp, errors.Errorf("unknown elbow branch %q", s)
}

// GeometricSolver is the closed-form position solver for the first four
// joints. Orientation joints beyond the fourth are returned as zero and any
// target orientation is ignored.
type GeometricSolver struct {
	Elbow Elbow
	// Tilt is the tool pitch relative to pointing straight down, rad.
	Tilt float64
}

func (s GeometricSolver) approach() float64 {
	return DefaultApproachPitch + s.Tilt
}

// Solve implements Solver. The seed is not used.
func (s GeometricSolver) Solve(_ context.Context, c *Chain, target Pose, _ JointVector) (JointVector, error) {
	return s.SolvePosition(c, target.Position)
}

// SolvePosition returns the joint vector for the configured branch.
func (s GeometricSolver) SolvePosition(c *Chain, p r3.Vec) (JointVector, error) {
	pl, err := newPlanar(c)
	if err != nil {
		return nil, err
	}
	return s.solve(pl, c.Joints(), p, s.Elbow)
}

// Solutions returns both branches, ElbowUp first.
func (s GeometricSolver) Solutions(c *Chain, p r3.Vec) ([]JointVector, error) {
	pl, err := newPlanar(c)
	if err != nil {
		return nil, err
	}
	out := make([]JointVector, 0, 2)
	for _, e := range []Elbow{ElbowUp, ElbowDown} {
		q, err := s.solve(pl, c.Joints(), p, e)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func (s GeometricSolver) solve(pl planar, joints int, p r3.Vec, elbow Elbow) (JointVector, error) {
	if !finite(p) {
		return nil, errors.Wrap(ErrDegenerate, "target is not finite")
	}
	approach := s.approach()

	yaw := math.Atan2(p.Y, p.X)
	rw, hw := pl.wrist(p, approach)
	dist := math.Hypot(rw, hw)
	if dist > pl.maxReach() || dist < pl.minReach() {
		return nil, &UnreachableError{Distance: dist, Min: pl.minReach(), Max: pl.maxReach()}
	}

	cosElbow := (dist*dist - pl.l2*pl.l2 - pl.l3*pl.l3) / (2 * pl.l2 * pl.l3)
	cosElbow = math.Max(-1, math.Min(1, cosElbow))
	beta := math.Acos(cosElbow)

	// Elevation angles in the arm plane.
	e3 := -beta
	if elbow == ElbowDown {
		e3 = beta
	}
	e2 := math.Atan2(hw, rw) - math.Atan2(pl.l3*math.Sin(e3), pl.l2+pl.l3*math.Cos(e3))
	e4 := approach - e2 - e3

	q := make(JointVector, joints)
	q[0] = wrapAngle(yaw - pl.offsets[0])
	q[1] = wrapAngle(pl.sigma*e2 - pl.offsets[1])
	q[2] = wrapAngle(pl.sigma*e3 - pl.offsets[2])
	q[3] = wrapAngle(pl.sigma*e4 - pl.offsets[3])

	for _, v := range q {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.Wrapf(ErrDegenerate, "closed form produced %v", q)
		}
	}
	return q, nil
}

// wrapAngle maps an angle into [-pi, pi].
func wrapAngle(a float64) float64 {
	return math.Remainder(a, 2*math.Pi)
}
