// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package kinematics models the arm as a chain of DH-style joint transforms and
// solves forward and inverse kinematics against it.
//
// Lengths are millimetres, angles radians. Degrees appear only in the helpers
// used at the hardware boundary.
package kinematics

import (
	"math"

	"github.com/pkg/errors"
)

const (
	// MinJoints and MaxJoints bound the chain length.
	MinJoints = 4
	MaxJoints = 6

	// DefaultMaxLinkLength is the upper bound for a and d, in mm.
	DefaultMaxLinkLength = 500.0

	// ParamsPerJoint is the width of one row in the flattened parameter vector.
	ParamsPerJoint = 4
)

// Parameter names in flattened order.
var ParameterNames = [ParamsPerJoint]string{"a", "alpha", "d", "theta_offset"}

// JointParameter describes one joint-to-joint transform.
type JointParameter struct {
	A           float64 // link length, mm
	Alpha       float64 // link twist, rad
	D           float64 // link offset, mm
	ThetaOffset float64 // joint zero offset, rad
}

// Quad returns the parameter as [a, alpha, d, theta_offset].
func (p JointParameter) Quad() [4]float64 {
	return [4]float64{p.A, p.Alpha, p.D, p.ThetaOffset}
}

// ParameterFromQuad is the inverse of Quad.
func ParameterFromQuad(q [4]float64) JointParameter {
	return JointParameter{A: q[0], Alpha: q[1], D: q[2], ThetaOffset: q[3]}
}

// Chain is an immutable, ordered set of joint parameters.
// Use WithParameters to derive a modified chain.
type Chain struct {
	params        []JointParameter
	maxLinkLength float64
}

// NewChain validates params and returns a chain that owns a copy of them.
func NewChain(params []JointParameter) (*Chain, error) {
	return NewChainWithLimit(params, DefaultMaxLinkLength)
}

// NewChainWithLimit is NewChain with a custom link length bound.
func NewChainWithLimit(params []JointParameter, maxLinkLength float64) (*Chain, error) {
	if maxLinkLength <= 0 {
		return nil, errors.Wrapf(ErrInvalidChain, "max link length %.3f must be positive", maxLinkLength)
	}
	c := &Chain{
		params:        append([]JointParameter(nil), params...),
		maxLinkLength: maxLinkLength,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// NominalChain returns the KikoBot C1 nominal parameter table: base height
// 137.8 mm, upper arm 147 mm, forearm 147 mm, wrist-to-tool 81 mm, and two
// orientation-only wrist joints.
func NominalChain() *Chain {
	c, err := NewChain([]JointParameter{
		{A: 0, Alpha: -math.Pi / 2, D: 137.8, ThetaOffset: 0},
		{A: 147, Alpha: 0, D: 0, ThetaOffset: 0},
		{A: 147, Alpha: 0, D: 0, ThetaOffset: 0},
		{A: 81, Alpha: 0, D: 0, ThetaOffset: 0},
		{A: 0, Alpha: math.Pi / 2, D: 0, ThetaOffset: 0},
		{A: 0, Alpha: 0, D: 0, ThetaOffset: 0},
	})
	if err != nil {
		panic(err) // static table
	}
	return c
}

// Validate checks joint count and parameter bounds.
func (c *Chain) Validate() error {
	n := len(c.params)
	if n < MinJoints || n > MaxJoints {
		return errors.Wrapf(ErrInvalidChain, "chain has %d joints, want %d..%d", n, MinJoints, MaxJoints)
	}
	for i, p := range c.params {
		for j, v := range p.Quad() {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.Wrapf(ErrInvalidChain, "joint %d %s is not finite", i+1, ParameterNames[j])
			}
		}
		if p.A < 0 || p.A > c.maxLinkLength {
			return errors.Wrapf(ErrInvalidChain, "joint %d a=%.3f outside [0, %.1f]", i+1, p.A, c.maxLinkLength)
		}
		if p.D < 0 || p.D > c.maxLinkLength {
			return errors.Wrapf(ErrInvalidChain, "joint %d d=%.3f outside [0, %.1f]", i+1, p.D, c.maxLinkLength)
		}
		if math.Abs(p.Alpha) > math.Pi {
			return errors.Wrapf(ErrInvalidChain, "joint %d alpha=%.4f outside [-pi, pi]", i+1, p.Alpha)
		}
		if math.Abs(p.ThetaOffset) > math.Pi {
			return errors.Wrapf(ErrInvalidChain, "joint %d theta_offset=%.4f outside [-pi, pi]", i+1, p.ThetaOffset)
		}
	}
	return nil
}

// Joints returns the number of joints.
func (c *Chain) Joints() int {
	return len(c.params)
}

// MaxLinkLength returns the bound used for a and d.
func (c *Chain) MaxLinkLength() float64 {
	return c.maxLinkLength
}

// Parameter returns joint i (zero based).
func (c *Chain) Parameter(i int) JointParameter {
	return c.params[i]
}

// Parameters returns a copy of all joint parameters.
func (c *Chain) Parameters() []JointParameter {
	return append([]JointParameter(nil), c.params...)
}

// WithParameters returns a new validated chain with the same link bound.
func (c *Chain) WithParameters(params []JointParameter) (*Chain, error) {
	return NewChainWithLimit(params, c.maxLinkLength)
}

// Flatten returns [a1, alpha1, d1, theta1, a2, ...].
func (c *Chain) Flatten() []float64 {
	out := make([]float64, 0, len(c.params)*ParamsPerJoint)
	for _, p := range c.params {
		q := p.Quad()
		out = append(out, q[:]...)
	}
	return out
}

// Quads returns the parameters as [a, alpha, d, theta_offset] rows.
func (c *Chain) Quads() [][4]float64 {
	out := make([][4]float64, len(c.params))
	for i, p := range c.params {
		out[i] = p.Quad()
	}
	return out
}

// ChainFromFlat rebuilds a chain from a vector produced by Flatten.
func ChainFromFlat(flat []float64, maxLinkLength float64) (*Chain, error) {
	if len(flat)%ParamsPerJoint != 0 {
		return nil, errors.Wrapf(ErrInvalidChain, "flat vector length %d is not a multiple of %d", len(flat), ParamsPerJoint)
	}
	params := make([]JointParameter, len(flat)/ParamsPerJoint)
	for i := range params {
		var q [4]float64
		copy(q[:], flat[i*ParamsPerJoint:])
		params[i] = ParameterFromQuad(q)
	}
	return NewChainWithLimit(params, maxLinkLength)
}

// evalFlat evaluates the tool position for a flattened parameter vector
// without allocating a Chain. Used by calibration residuals, which must also
// accept finite-difference probes slightly outside the bounds.
func evalFlat(flat []float64, q JointVector) Transform {
	t := Identity()
	for i, theta := range q {
		base := i * ParamsPerJoint
		t = t.Mul(JointTransform(flat[base], flat[base+1], flat[base+2], theta+flat[base+3]))
	}
	return t
}
