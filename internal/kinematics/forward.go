// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package kinematics

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"
)

// JointVector holds joint angles in radians, base joint first.
type JointVector []float64

// Radians converts degrees read from hardware into a JointVector.
func Radians(deg []float64) JointVector {
	q := make(JointVector, len(deg))
	for i, d := range deg {
		q[i] = d * math.Pi / 180.0
	}
	return q
}

// Degrees converts the vector to degrees for the hardware boundary.
func (q JointVector) Degrees() []float64 {
	out := make([]float64, len(q))
	for i, r := range q {
		out[i] = r * 180.0 / math.Pi
	}
	return out
}

// Clone returns an independent copy.
func (q JointVector) Clone() JointVector {
	return append(JointVector(nil), q...)
}

// Pose is a tool position with an optional orientation.
type Pose struct {
	Position    r3.Vec
	Orientation *Rotation
}

// PositionPose builds a position-only pose.
func PositionPose(x, y, z float64) Pose {
	return Pose{Position: r3.Vec{X: x, Y: y, Z: z}}
}

// Forward composes the joint transforms for q and returns the tool pose.
// q may be shorter than the chain; only the leading joints are composed.
func (c *Chain) Forward(q JointVector) (Pose, error) {
	t, err := c.ToolTransform(q)
	if err != nil {
		return Pose{}, err
	}
	rot := t.Rotation()
	return Pose{Position: t.Translation(), Orientation: &rot}, nil
}

// Position is Forward without the orientation.
func (c *Chain) Position(q JointVector) (r3.Vec, error) {
	t, err := c.ToolTransform(q)
	if err != nil {
		return r3.Vec{}, err
	}
	return t.Translation(), nil
}

// ToolTransform returns the cumulative transform after the last joint in q.
func (c *Chain) ToolTransform(q JointVector) (Transform, error) {
	if len(q) == 0 || len(q) > len(c.params) {
		return Transform{}, errors.Wrapf(ErrJointCount, "got %d joint angles for a %d joint chain", len(q), len(c.params))
	}
	t := Identity()
	for i, theta := range q {
		p := c.params[i]
		t = t.Mul(JointTransform(p.A, p.Alpha, p.D, theta+p.ThetaOffset))
	}
	return t, nil
}

// Frames returns the cumulative transform after each joint in q.
func (c *Chain) Frames(q JointVector) ([]Transform, error) {
	if len(q) == 0 || len(q) > len(c.params) {
		return nil, errors.Wrapf(ErrJointCount, "got %d joint angles for a %d joint chain", len(q), len(c.params))
	}
	frames := make([]Transform, len(q))
	t := Identity()
	for i, theta := range q {
		p := c.params[i]
		t = t.Mul(JointTransform(p.A, p.Alpha, p.D, theta+p.ThetaOffset))
		frames[i] = t
	}
	return frames, nil
}

// JointOrigins returns the base followed by each joint frame origin.
func (c *Chain) JointOrigins(q JointVector) ([]r3.Vec, error) {
	frames, err := c.Frames(q)
	if err != nil {
		return nil, err
	}
	out := make([]r3.Vec, 0, len(frames)+1)
	out = append(out, r3.Vec{})
	for _, f := range frames {
		out = append(out, f.Translation())
	}
	return out, nil
}

// PositionFromFlat evaluates the tool position for a flattened parameter
// vector. No bounds are enforced; len(flat) must be at least 4*len(q).
func PositionFromFlat(flat []float64, q JointVector) (r3.Vec, error) {
	if len(q) == 0 || len(flat) < len(q)*ParamsPerJoint {
		return r3.Vec{}, errors.Wrapf(ErrJointCount, "got %d joint angles for %d parameters", len(q), len(flat))
	}
	return evalFlat(flat, q).Translation(), nil
}

func finite(v r3.Vec) bool {
	for _, x := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
