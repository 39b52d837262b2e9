// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"bytes"
	"context"
	"log"
	"math"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/arm_kinematics/internal/kinematics"
)

var fixedPosition = r3.Vec{X: 370, Y: 2, Z: 140}

func TestAddSampleRecordsPrediction(t *testing.T) {
	var buf bytes.Buffer
	s := NewSession(kinematics.NominalChain(), log.New(&buf, "", 0))

	sample, err := s.AddSample(kinematics.JointVector{0, 0, 0, 0}, fixedPosition)
	require.NoError(t, err)
	assert.InDelta(t, 375.0, sample.Predicted.X, 1e-9)
	assert.InDelta(t, math.Sqrt(25+4+2.2*2.2), sample.Error, 1e-9)
	assert.Equal(t, 1, s.Len())
	assert.Contains(t, buf.String(), "calibration: sample 1")
}

func TestAddSampleRejectsBadInput(t *testing.T) {
	s := NewSession(kinematics.NominalChain(), nil)

	_, err := s.AddSample(kinematics.JointVector{0, 0, 0, 0}, r3.Vec{X: math.NaN()})
	assert.Error(t, err)
	_, err = s.AddSample(kinematics.JointVector{0, math.Inf(1), 0, 0}, fixedPosition)
	assert.Error(t, err)
	_, err = s.AddSample(make(kinematics.JointVector, 7), fixedPosition)
	assert.True(t, errors.Is(err, kinematics.ErrJointCount))
	assert.Zero(t, s.Len())
}

func TestSamplesAreCopies(t *testing.T) {
	s := NewSession(kinematics.NominalChain(), nil)
	q := kinematics.JointVector{0.1, 0, 0, 0}
	_, err := s.AddSample(q, fixedPosition)
	require.NoError(t, err)

	q[0] = 7
	out := s.Samples()
	out[0].Error = 99
	out[0].JointAngles[0] = 5

	sample := s.Samples()[0]
	assert.NotEqual(t, 99.0, sample.Error)
	assert.Equal(t, 0.1, sample.JointAngles[0])
}

func TestCaptureSampleConvertsDegrees(t *testing.T) {
	s := NewSession(kinematics.NominalChain(), nil)
	read := func(context.Context) ([]float64, error) {
		return []float64{90, 0, 0, 0, 0, 0}, nil
	}

	sample, err := s.CaptureSample(context.Background(), read, r3.Vec{X: 0, Y: 375, Z: 137.8})
	require.NoError(t, err)
	assert.InDelta(t, math.Pi/2, sample.JointAngles[0], 1e-12)
	assert.InDelta(t, 0.0, sample.Error, 1e-9)

	failing := func(context.Context) ([]float64, error) { return nil, errors.New("bus timeout") }
	_, err = s.CaptureSample(context.Background(), failing, fixedPosition)
	assert.ErrorContains(t, err, "bus timeout")
	assert.Equal(t, 1, s.Len())
}

func TestResetAndSetChain(t *testing.T) {
	s := NewSession(kinematics.NominalChain(), nil)
	_, err := s.AddSample(kinematics.JointVector{0, 0, 0, 0}, fixedPosition)
	require.NoError(t, err)

	s.Reset()
	assert.Zero(t, s.Len())

	c := perturbedChain(t)
	s.SetChain(c)
	assert.Same(t, c, s.Chain())
}

func TestChainReadsDuringCalibration(t *testing.T) {
	s := NewSession(positioningChain(t), nil)
	fill(t, s, perturbedChain(t), 20, 0, 4)
	valid := map[*kinematics.Chain]bool{s.Chain(): true}

	var wg sync.WaitGroup
	done := make(chan struct{})
	seen := make(chan *kinematics.Chain, 1024)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			select {
			case seen <- s.Chain():
			default:
			}
		}
	}()

	res, err := s.Calibrate(context.Background(), Options{})
	close(done)
	wg.Wait()
	close(seen)
	require.NoError(t, err)
	valid[res.Chain] = true

	for c := range seen {
		assert.True(t, valid[c])
	}
}
