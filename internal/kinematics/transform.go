// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package kinematics

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Transform is a 4x4 homogeneous transform, row major.
//
//	[r00 r01 r02 tx]
//	[r10 r11 r12 ty]
//	[r20 r21 r22 tz]
//	[ 0   0   0   1]
type Transform [4][4]float64

// Rotation is a 3x3 rotation matrix, row major.
type Rotation [3][3]float64

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// JointTransform builds Rz(theta) * Tz(d) * Tx(a) * Rx(alpha).
func JointTransform(a, alpha, d, theta float64) Transform {
	ct, st := math.Cos(theta), math.Sin(theta)
	ca, sa := math.Cos(alpha), math.Sin(alpha)

	return Transform{
		{ct, -st * ca, st * sa, a * ct},
		{st, ct * ca, -ct * sa, a * st},
		{0, sa, ca, d},
		{0, 0, 0, 1},
	}
}

// Mul returns t * o. The bottom row is assumed to be [0 0 0 1].
func (t Transform) Mul(o Transform) Transform {
	var out Transform
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			s := t[i][0]*o[0][j] + t[i][1]*o[1][j] + t[i][2]*o[2][j]
			if j == 3 {
				s += t[i][3]
			}
			out[i][j] = s
		}
	}
	out[3] = [4]float64{0, 0, 0, 1}
	return out
}

// Translation returns the translation column.
func (t Transform) Translation() r3.Vec {
	return r3.Vec{X: t[0][3], Y: t[1][3], Z: t[2][3]}
}

// Rotation returns the upper-left rotation block.
func (t Transform) Rotation() Rotation {
	return Rotation{
		{t[0][0], t[0][1], t[0][2]},
		{t[1][0], t[1][1], t[1][2]},
		{t[2][0], t[2][1], t[2][2]},
	}
}

// Apply transforms a point.
func (t Transform) Apply(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: t[0][0]*p.X + t[0][1]*p.Y + t[0][2]*p.Z + t[0][3],
		Y: t[1][0]*p.X + t[1][1]*p.Y + t[1][2]*p.Z + t[1][3],
		Z: t[2][0]*p.X + t[2][1]*p.Y + t[2][2]*p.Z + t[2][3],
	}
}

// Column returns column j of the rotation as a vector.
func (r Rotation) Column(j int) r3.Vec {
	return r3.Vec{X: r[0][j], Y: r[1][j], Z: r[2][j]}
}

// FrobeniusDistance returns ||r - o||_F.
func (r Rotation) FrobeniusDistance(o Rotation) float64 {
	var s float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			d := r[i][j] - o[i][j]
			s += d * d
		}
	}
	return math.Sqrt(s)
}

// IsFinite reports whether every element is finite.
func (t Transform) IsFinite() bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			if math.IsNaN(t[i][j]) || math.IsInf(t[i][j], 0) {
				return false
			}
		}
	}
	return true
}
