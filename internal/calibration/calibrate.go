// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/relabs-tech/arm_kinematics/internal/kinematics"
	"github.com/relabs-tech/arm_kinematics/internal/lsq"
)

// DefaultMinSamples is the smallest sample log Calibrate accepts.
const DefaultMinSamples = 10

// MaxThetaOffset bounds the fitted joint zero offsets.
const MaxThetaOffset = math.Pi / 4

// Group selects which parameters a calibration run may move.
type Group string

const (
	GroupAll     Group = "all"
	GroupLengths Group = "lengths" // a and d
	GroupTwists  Group = "twists"  // alpha
	GroupOffsets Group = "offsets" // theta_offset
	GroupAngles  Group = "angles"  // alpha and theta_offset
)

// ParseGroup accepts the group names above; "" means all.
func ParseGroup(s string) (Group, error) {
	switch g := Group(s); g {
	case "":
		return GroupAll, nil
	case GroupAll, GroupLengths, GroupTwists, GroupOffsets, GroupAngles:
		return g, nil
	}
	return "", errors.Errorf("unknown parameter group %q", s)
}

// includes reports whether column (0..3 in a, alpha, d, theta_offset order)
// is free in the group.
func (g Group) includes(column int) bool {
	switch g {
	case GroupLengths:
		return column == 0 || column == 2
	case GroupTwists:
		return column == 1
	case GroupOffsets:
		return column == 3
	case GroupAngles:
		return column == 1 || column == 3
	}
	return true
}

// Options tunes a calibration run. The zero value uses the defaults.
type Options struct {
	MinSamples int
	Group      Group
	// Solver defaults to a LevenbergMarquardt with package defaults.
	Solver lsq.Solver
}

// ParameterDelta is the change of one chain parameter.
type ParameterDelta struct {
	Joint  int     `json:"joint"` // 1-based
	Name   string  `json:"name"`
	Before float64 `json:"before"`
	After  float64 `json:"after"`
	Delta  float64 `json:"delta"`
}

// Result describes an applied calibration.
type Result struct {
	Chain       *kinematics.Chain `json:"-"`
	Samples     int               `json:"samples"`
	RMSEBefore  float64           `json:"rmse_before"`
	RMSEAfter   float64           `json:"rmse_after"`
	Deltas      []ParameterDelta  `json:"deltas"`
	Iterations  int               `json:"iterations"`
	Evaluations int               `json:"evaluations"`
	Reason      string            `json:"reason"`
}

// Improvement returns the relative RMSE reduction in percent.
func (r *Result) Improvement() float64 {
	if r.RMSEBefore == 0 {
		return 0
	}
	return (r.RMSEBefore - r.RMSEAfter) / r.RMSEBefore * 100
}

// Calibrate fits the chain parameters to the sample log with bounded least
// squares and, on success, swaps the fitted chain in. On any error the
// active chain is left as it was.
func (s *Session) Calibrate(ctx context.Context, opts Options) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	minSamples := opts.MinSamples
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	if len(s.samples) < minSamples {
		return nil, errors.Wrapf(ErrInsufficientData, "have %d samples, need %d", len(s.samples), minSamples)
	}
	group := opts.Group
	if group == "" {
		group = GroupAll
	}
	solver := opts.Solver
	if solver == nil {
		solver = lsq.LevenbergMarquardt{}
	}

	chain := s.Chain()
	x0 := chain.Flatten()
	lower, upper := bounds(chain, x0, group)
	samples := s.samples
	problem := lsq.Problem{
		M:     3 * len(samples),
		Func:  residualFunc(samples),
		Lower: lower,
		Upper: upper,
	}

	before := make([]float64, problem.M)
	problem.Func(before, x0)
	rmseBefore := rmse(before)
	s.logf("calibration: fitting %s parameters to %d samples, RMSE %.3f mm", group, len(samples), rmseBefore)

	res, err := solver.Solve(ctx, problem, x0)
	if err != nil {
		return nil, errors.Wrap(err, "least squares")
	}
	if !res.Converged() {
		s.logf("calibration: stopped without converging (%s after %d evaluations)", res.Reason, res.Evaluations)
		return nil, errors.Wrapf(ErrNoConvergence, "optimizer stopped: %s after %d evaluations", res.Reason, res.Evaluations)
	}

	after := make([]float64, problem.M)
	problem.Func(after, res.X)
	rmseAfter := rmse(after)
	if math.IsNaN(rmseAfter) || rmseAfter > rmseBefore {
		return nil, errors.Wrapf(ErrNoConvergence, "fit did not improve: RMSE %.4f mm -> %.4f mm", rmseBefore, rmseAfter)
	}

	fitted, err := kinematics.ChainFromFlat(res.X, chain.MaxLinkLength())
	if err != nil {
		return nil, errors.Wrapf(ErrNoConvergence, "fitted chain rejected: %v", err)
	}

	result := &Result{
		Chain:       fitted,
		Samples:     len(samples),
		RMSEBefore:  rmseBefore,
		RMSEAfter:   rmseAfter,
		Deltas:      deltas(x0, res.X),
		Iterations:  res.Iterations,
		Evaluations: res.Evaluations,
		Reason:      res.Reason.String(),
	}
	s.chain.Store(fitted)
	s.dirty = true
	s.logf("calibration: RMSE %.3f mm -> %.3f mm (%.1f%%, %s)", rmseBefore, rmseAfter, result.Improvement(), result.Reason)
	return result, nil
}

// RMSE evaluates the chain against samples without fitting.
func RMSE(c *kinematics.Chain, samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	r := make([]float64, 3*len(samples))
	residualFunc(samples)(r, c.Flatten())
	return rmse(r)
}

// residualFunc returns predicted minus measured for every sample, flattened.
func residualFunc(samples []Sample) func(dst, x []float64) {
	return func(dst, x []float64) {
		for i, sm := range samples {
			p, err := kinematics.PositionFromFlat(x, sm.JointAngles)
			if err != nil {
				p.X, p.Y, p.Z = math.NaN(), math.NaN(), math.NaN()
			}
			dst[3*i] = p.X - sm.Actual.X
			dst[3*i+1] = p.Y - sm.Actual.Y
			dst[3*i+2] = p.Z - sm.Actual.Z
		}
	}
}

func rmse(r []float64) float64 {
	return floats.Norm(r, 2) / math.Sqrt(float64(len(r)))
}

// bounds returns the box for every flattened parameter. Parameters outside
// the group are pinned to their current value. The box always contains x0.
func bounds(c *kinematics.Chain, x0 []float64, group Group) (lower, upper []float64) {
	maxLen := c.MaxLinkLength()
	lo := [kinematics.ParamsPerJoint]float64{0, -math.Pi, 0, -MaxThetaOffset}
	hi := [kinematics.ParamsPerJoint]float64{maxLen, math.Pi, maxLen, MaxThetaOffset}

	lower = make([]float64, len(x0))
	upper = make([]float64, len(x0))
	for i, v := range x0 {
		col := i % kinematics.ParamsPerJoint
		if !group.includes(col) {
			lower[i], upper[i] = v, v
			continue
		}
		lower[i] = math.Min(lo[col], v)
		upper[i] = math.Max(hi[col], v)
	}
	return lower, upper
}

func deltas(before, after []float64) []ParameterDelta {
	out := make([]ParameterDelta, len(before))
	for i := range before {
		out[i] = ParameterDelta{
			Joint:  i/kinematics.ParamsPerJoint + 1,
			Name:   kinematics.ParameterNames[i%kinematics.ParamsPerJoint],
			Before: before[i],
			After:  after[i],
			Delta:  after[i] - before[i],
		}
	}
	return out
}
