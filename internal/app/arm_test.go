// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/arm_kinematics/internal/calibration"
	"github.com/relabs-tech/arm_kinematics/internal/kinematics"
	"github.com/relabs-tech/arm_kinematics/internal/servo"
)

// slowArm moves each joint at most step degrees per command.
type slowArm struct {
	*servo.Mock
	step     float64
	commands int
}

func (a *slowArm) CommandJointDegrees(ctx context.Context, deg []float64, speed int) error {
	a.commands++
	cur, err := a.Mock.ReadJointDegrees(ctx)
	if err != nil {
		return err
	}
	next := append([]float64(nil), cur...)
	for i, d := range deg {
		delta := math.Max(-a.step, math.Min(a.step, d-cur[i]))
		next[i] = cur[i] + delta
	}
	return a.Mock.CommandJointDegrees(ctx, next, speed)
}

func TestSteppedMoveReachesTarget(t *testing.T) {
	arm := servo.NewMock([]float64{0, 0, 0, 0})
	move := SteppedMove(arm, 0.5, 5)

	require.NoError(t, move(context.Background(), []float64{10, -20, 30, 40}, servo.MaxSpeed))
	got, err := arm.ReadJointDegrees(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{10, -20, 30, 40}, got)
}

func TestSteppedMoveRepeatsShortMoves(t *testing.T) {
	arm := &slowArm{Mock: servo.NewMock([]float64{0, 0, 0, 0}), step: 25}
	move := SteppedMove(arm, 0.5, 5)

	require.NoError(t, move(context.Background(), []float64{60, 0, 0, 0}, servo.MaxSpeed))
	assert.Equal(t, 3, arm.commands)

	arm.commands = 0
	err := SteppedMove(arm, 0.5, 2)(context.Background(), []float64{-60, 0, 0, 0}, servo.MaxSpeed)
	assert.ErrorContains(t, err, "did not reach target after 2 commands")
	assert.Equal(t, 2, arm.commands)
}

func TestSteppedMoveHonorsContext(t *testing.T) {
	arm := &slowArm{Mock: servo.NewMock([]float64{0, 0, 0, 0}), step: 1}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := SteppedMove(arm, 0.5, 100)(ctx, []float64{90, 0, 0, 0}, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithinDeg(t *testing.T) {
	assert.True(t, withinDeg([]float64{179.8, 10}, []float64{-179.9, 10}, 0.5))
	assert.True(t, withinDeg([]float64{1, 2, 3}, []float64{1, 2}, 0.1))
	assert.False(t, withinDeg([]float64{1}, []float64{1, 2}, 0.1))
	assert.False(t, withinDeg([]float64{1, 3}, []float64{1, 2}, 0.5))
}

func TestOpenControllerMock(t *testing.T) {
	cfg := testConfig(t)
	arm, closeArm, err := OpenController(cfg)
	require.NoError(t, err)
	defer closeArm()

	assert.Equal(t, 6, arm.Joints())
	deg, err := arm.ReadJointDegrees(context.Background())
	require.NoError(t, err)
	assert.Len(t, deg, 6)

	_, _, err = openBus(cfg)
	assert.Error(t, err)

	cfg.JointSigns = []float64{1, 1}
	_, _, err = OpenController(cfg)
	assert.Error(t, err)
}

func TestLoadChainFallbacks(t *testing.T) {
	cfg := testConfig(t)

	c, err := LoadChain(cfg)
	require.NoError(t, err)
	assert.Equal(t, kinematics.NominalChain().Quads(), c.Quads())

	params := kinematics.NominalChain().Parameters()
	params[0].D = 140
	fitted, err := kinematics.NewChain(params)
	require.NoError(t, err)

	cfg.ChainFile = filepath.Join(t.TempDir(), "chain.json")
	c, err = LoadChain(cfg)
	require.NoError(t, err, "a missing chain file falls through")
	assert.Equal(t, kinematics.NominalChain().Quads(), c.Quads())

	require.NoError(t, calibration.SaveChain(cfg.ChainFile, fitted))
	c, err = LoadChain(cfg)
	require.NoError(t, err)
	assert.Equal(t, 140.0, c.Parameters()[0].D)

	cfg.ChainFile = ""
	require.NoError(t, os.WriteFile(cfg.CalibrationFile, []byte("{"), 0o644))
	_, err = LoadChain(cfg)
	assert.Error(t, err)
}

func TestNewSolverFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.IKElbow = "down"
	cfg.IKApproachPitchDeg = 10

	s, err := NewSolver(cfg)
	require.NoError(t, err)
	assert.Equal(t, kinematics.ElbowDown, s.Geometric.Elbow)
	assert.InDelta(t, 10*math.Pi/180, s.Geometric.Tilt, 1e-12)
	assert.Equal(t, 2*time.Second, s.Numeric.Timeout)
	assert.Equal(t, 0.1, s.Tolerance)

	cfg.IKElbow = "sideways"
	_, err = NewSolver(cfg)
	assert.Error(t, err)
}
