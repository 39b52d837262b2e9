// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package kinematics

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrUnreachable is returned when a target lies outside the workspace.
	ErrUnreachable = errors.New("target unreachable")
	// ErrNoConvergence is returned when the numeric solver misses its tolerance.
	ErrNoConvergence = errors.New("inverse kinematics did not converge")
	// ErrDegenerate is returned when geometry produced NaN or Inf values.
	ErrDegenerate = errors.New("degenerate geometry")
	// ErrJointCount is returned for joint vectors that do not fit the chain.
	ErrJointCount = errors.New("joint count mismatch")
	// ErrInvalidChain is returned for parameter sets outside the engineering bounds.
	ErrInvalidChain = errors.New("invalid chain parameters")
)

// UnreachableError reports the wrist distance that failed the triangle test.
type UnreachableError struct {
	Distance float64
	Min      float64
	Max      float64
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("target unreachable: wrist distance %.3f mm outside [%.3f, %.3f]", e.Distance, e.Min, e.Max)
}

// Is lets errors.Is match ErrUnreachable.
func (e *UnreachableError) Is(target error) bool {
	return target == ErrUnreachable
}

// NoConvergenceError reports the best residual the numeric solver reached.
type NoConvergenceError struct {
	Residual   float64
	Iterations int
	Status     string
}

func (e *NoConvergenceError) Error() string {
	return fmt.Sprintf("inverse kinematics did not converge: residual %.4f mm after %d iterations (%s)",
		e.Residual, e.Iterations, e.Status)
}

// Is lets errors.Is match ErrNoConvergence.
func (e *NoConvergenceError) Is(target error) bool {
	return target == ErrNoConvergence
}
