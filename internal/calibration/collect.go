// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/arm_kinematics/internal/kinematics"
)

// Default rig settings.
const (
	DefaultGridSpeed    = 800
	DefaultCircleSpeed  = 1000
	DefaultGridSettle   = 2 * time.Second
	DefaultCirclePoints = 36
)

// Rig bundles the hardware callbacks a collection run needs.
type Rig struct {
	Read    JointReader
	Move    JointCommander
	Measure Measurer
	Speed   int
	// Settle is how long to wait after a move before reading back.
	Settle time.Duration
}

func (r Rig) moveTo(ctx context.Context, q kinematics.JointVector, speed int) error {
	if r.Speed > 0 {
		speed = r.Speed
	}
	if err := r.Move(ctx, q.Degrees(), speed); err != nil {
		return err
	}
	if r.Settle <= 0 {
		return nil
	}
	t := time.NewTimer(r.Settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CollectGrid visits each target, measures where the tool actually went and
// records a sample. Targets the solver or the arm reject are skipped. It
// returns the number of samples added.
func (s *Session) CollectGrid(ctx context.Context, rig Rig, ik kinematics.Solver, targets []r3.Vec) (int, error) {
	if rig.Read == nil || rig.Move == nil || rig.Measure == nil {
		return 0, errors.New("grid collection needs read, move and measure callbacks")
	}
	collected := 0
	for i, target := range targets {
		if err := ctx.Err(); err != nil {
			return collected, err
		}
		q, err := ik.Solve(ctx, s.Chain(), kinematics.Pose{Position: target}, nil)
		if err != nil {
			s.logf("calibration: point %d/%d %v skipped: %v", i+1, len(targets), target, err)
			continue
		}
		if err := rig.moveTo(ctx, q, DefaultGridSpeed); err != nil {
			if ctx.Err() != nil {
				return collected, ctx.Err()
			}
			s.logf("calibration: point %d/%d move failed: %v", i+1, len(targets), err)
			continue
		}
		measured, err := rig.Measure(ctx)
		if err != nil {
			s.logf("calibration: point %d/%d measure failed: %v", i+1, len(targets), err)
			continue
		}
		if _, err := s.CaptureSample(ctx, rig.Read, measured); err != nil {
			s.logf("calibration: point %d/%d capture failed: %v", i+1, len(targets), err)
			continue
		}
		collected++
	}
	s.logf("calibration: collected %d/%d grid points", collected, len(targets))
	return collected, nil
}

// CirclePoint is one traced circle target.
type CirclePoint struct {
	Target r3.Vec  `json:"target"`
	Actual r3.Vec  `json:"actual"`
	Error  float64 `json:"error"`
}

// CircleReport is the outcome of CircleTest.
type CircleReport struct {
	Points  []CirclePoint `json:"points"`
	Skipped int           `json:"skipped"`
	Quality CircleQuality `json:"quality"`
}

// CircleTest traces a horizontal circle with the active chain. With a nil
// Move the test is a dry run. The actual position comes from Measure when
// set, otherwise from the kinematic model at the joints read back (or
// commanded, when Read is nil).
func (s *Session) CircleTest(ctx context.Context, rig Rig, ik kinematics.Solver, center r3.Vec, radius float64, n int) (*CircleReport, error) {
	report := &CircleReport{}
	actuals := make([]r3.Vec, 0, n)
	for _, target := range CircleTargets(center, radius, n) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chain := s.Chain()
		q, err := ik.Solve(ctx, chain, kinematics.Pose{Position: target}, nil)
		if err != nil {
			report.Skipped++
			continue
		}
		if rig.Move != nil {
			if err := rig.moveTo(ctx, q, DefaultCircleSpeed); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				report.Skipped++
				continue
			}
		}
		actual, err := s.observe(ctx, rig, chain, q)
		if err != nil {
			report.Skipped++
			continue
		}
		actuals = append(actuals, actual)
		report.Points = append(report.Points, CirclePoint{
			Target: target,
			Actual: actual,
			Error:  r3.Norm(r3.Sub(actual, target)),
		})
	}
	quality, err := AnalyzeCircle(actuals, center, radius)
	if err != nil {
		return nil, err
	}
	report.Quality = quality
	s.logf("calibration: circle r=%.1f mm, %d points, mean radius %.2f, circularity %.1f%%",
		radius, quality.Points, quality.MeanRadius, quality.Circularity*100)
	return report, nil
}

func (s *Session) observe(ctx context.Context, rig Rig, chain *kinematics.Chain, commanded kinematics.JointVector) (r3.Vec, error) {
	if rig.Measure != nil {
		return rig.Measure(ctx)
	}
	q := commanded
	if rig.Read != nil && rig.Move != nil {
		deg, err := rig.Read(ctx)
		if err != nil {
			return r3.Vec{}, err
		}
		q = kinematics.Radians(deg)
	}
	return chain.Position(q)
}
