// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"context"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/arm_kinematics/internal/kinematics"
)

func TestCircleTargets(t *testing.T) {
	center := r3.Vec{X: 200, Y: 0, Z: 150}
	pts := CircleTargets(center, 50, 8)
	require.Len(t, pts, 8)
	assert.InDelta(t, 250.0, pts[0].X, 1e-12)
	assert.InDelta(t, 50.0, pts[2].Y, 1e-9)
	for _, p := range pts {
		assert.Equal(t, 150.0, p.Z)
		assert.InDelta(t, 50.0, r3.Norm(r3.Sub(p, center)), 1e-9)
	}
}

func TestAnalyzeCircle(t *testing.T) {
	center := r3.Vec{X: 200, Y: 0, Z: 150}

	q, err := AnalyzeCircle(CircleTargets(center, 50, 36), center, 50)
	require.NoError(t, err)
	assert.Equal(t, 36, q.Points)
	assert.InDelta(t, 50.0, q.MeanRadius, 1e-9)
	assert.InDelta(t, 0.0, q.StdRadius, 1e-9)
	assert.InDelta(t, 1.0, q.Circularity, 1e-9)
	assert.InDelta(t, 0.0, q.CenterOffset, 1e-9)

	squashed := CircleTargets(center, 50, 36)
	for i := range squashed {
		squashed[i].Y = center.Y + 0.5*(squashed[i].Y-center.Y)
	}
	q, err = AnalyzeCircle(squashed, center, 50)
	require.NoError(t, err)
	assert.Greater(t, q.StdRadius, 1.0)
	assert.Less(t, q.Circularity, 1.0)

	_, err = AnalyzeCircle(squashed[:2], center, 50)
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestCircleTestDryRun(t *testing.T) {
	s := NewSession(kinematics.NominalChain(), nil)
	center := r3.Vec{X: 200, Y: 0, Z: 150}

	report, err := s.CircleTest(context.Background(), Rig{}, kinematics.GeometricSolver{}, center, 50, 12)
	require.NoError(t, err)
	assert.Zero(t, report.Skipped)
	require.Len(t, report.Points, 12)
	for _, p := range report.Points {
		assert.Less(t, p.Error, 1e-6)
	}
	assert.InDelta(t, 50.0, report.Quality.MeanRadius, 1e-6)
}

// fakeArm moves instantly and reports the tool position of a hidden chain.
type fakeArm struct {
	truth *kinematics.Chain
	deg   []float64
	moves int
	fail  int // move number that fails, 1-based
}

func (a *fakeArm) rig() Rig {
	return Rig{
		Move: func(_ context.Context, deg []float64, _ int) error {
			a.moves++
			if a.moves == a.fail {
				return errors.New("servo overload")
			}
			a.deg = append([]float64(nil), deg...)
			return nil
		},
		Read: func(context.Context) ([]float64, error) {
			return append([]float64(nil), a.deg...), nil
		},
		Measure: func(context.Context) (r3.Vec, error) {
			return a.truth.Position(kinematics.Radians(a.deg))
		},
	}
}

func TestCollectGrid(t *testing.T) {
	nominal := kinematics.NominalChain()
	w, err := kinematics.NewWorkspace(nominal)
	require.NoError(t, err)
	targets := w.SampleTargets(10, kinematics.DefaultSampleBox, rand.New(rand.NewSource(42)))
	targets = append(targets, r3.Vec{X: 10000, Y: 0, Z: 0})

	truthParams := nominal.Parameters()
	truthParams[1].A += 2
	truth, err := kinematics.NewChain(truthParams)
	require.NoError(t, err)
	arm := &fakeArm{truth: truth, fail: 3}

	s := NewSession(nominal, nil)
	n, err := s.CollectGrid(context.Background(), arm.rig(), kinematics.GeometricSolver{}, targets)
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, 9, s.Len())
	for _, sm := range s.Samples() {
		want, err := truth.Position(sm.JointAngles)
		require.NoError(t, err)
		assert.InDelta(t, 0.0, r3.Norm(r3.Sub(want, sm.Actual)), 1e-9)
		assert.Greater(t, sm.Error, 0.0)
	}
}

func TestCollectGridNeedsCallbacks(t *testing.T) {
	s := NewSession(kinematics.NominalChain(), nil)
	_, err := s.CollectGrid(context.Background(), Rig{}, kinematics.GeometricSolver{}, nil)
	assert.Error(t, err)
}

func TestCollectGridCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	arm := &fakeArm{truth: kinematics.NominalChain()}
	s := NewSession(kinematics.NominalChain(), nil)

	n, err := s.CollectGrid(ctx, arm.rig(), kinematics.GeometricSolver{}, []r3.Vec{{X: 200, Z: 100}})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, n)
}
