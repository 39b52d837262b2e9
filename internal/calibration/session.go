// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration fits a kinematic chain to measured tool positions.
//
// A Session owns the active chain and the sample log. The chain is swapped
// atomically so readers on other goroutines never see a partial update;
// everything else on the session is serialized by its mutex.
package calibration

import (
	"context"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/arm_kinematics/internal/kinematics"
)

// JointReader returns the current joint angles in degrees.
type JointReader func(ctx context.Context) ([]float64, error)

// JointCommander moves the arm to joint angles in degrees.
type JointCommander func(ctx context.Context, deg []float64, speed int) error

// Measurer returns the externally measured tool position in mm.
type Measurer func(ctx context.Context) (r3.Vec, error)

// Sample is one (joint vector, measured position) pair. Predicted and Error
// are the model's view at the time the sample was added.
type Sample struct {
	JointAngles kinematics.JointVector
	Actual      r3.Vec
	Predicted   r3.Vec
	Error       float64
}

// Session holds the active chain and the calibration samples.
type Session struct {
	chain atomic.Pointer[kinematics.Chain]

	mu        sync.Mutex
	samples   []Sample
	timestamp string
	dirty     bool

	logger *log.Logger
	now    func() time.Time
}

// NewSession starts a session on chain. logger may be nil.
func NewSession(chain *kinematics.Chain, logger *log.Logger) *Session {
	s := &Session{logger: logger, now: time.Now, dirty: true}
	s.chain.Store(chain)
	return s
}

func (s *Session) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Chain returns the active chain. Safe for concurrent use.
func (s *Session) Chain() *kinematics.Chain {
	return s.chain.Load()
}

// SetChain replaces the active chain.
func (s *Session) SetChain(c *kinematics.Chain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chain.Store(c)
	s.dirty = true
}

// AddSample records q with its measured position.
func (s *Session) AddSample(q kinematics.JointVector, measured r3.Vec) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sample, err := newSample(s.Chain(), q, measured)
	if err != nil {
		return Sample{}, err
	}
	s.samples = append(s.samples, sample)
	s.dirty = true
	s.logf("calibration: sample %d error %.2f mm", len(s.samples), sample.Error)
	return sample, nil
}

func newSample(c *kinematics.Chain, q kinematics.JointVector, measured r3.Vec) (Sample, error) {
	for _, v := range []float64{measured.X, measured.Y, measured.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Sample{}, errors.Errorf("measured position %v is not finite", measured)
		}
	}
	for i, v := range q {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Sample{}, errors.Errorf("joint %d angle is not finite", i+1)
		}
	}
	predicted, err := c.Position(q)
	if err != nil {
		return Sample{}, err
	}
	return Sample{
		JointAngles: q.Clone(),
		Actual:      measured,
		Predicted:   predicted,
		Error:       r3.Norm(r3.Sub(predicted, measured)),
	}, nil
}

// CaptureSample reads the joints and records them against measured.
func (s *Session) CaptureSample(ctx context.Context, read JointReader, measured r3.Vec) (Sample, error) {
	deg, err := read(ctx)
	if err != nil {
		return Sample{}, errors.Wrap(err, "read joint angles")
	}
	return s.AddSample(kinematics.Radians(deg), measured)
}

// Samples returns a copy of the sample log.
func (s *Session) Samples() []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sample, len(s.samples))
	for i, sm := range s.samples {
		out[i] = sm
		out[i].JointAngles = sm.JointAngles.Clone()
	}
	return out
}

// Len returns the number of samples.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

// Reset drops all samples. The chain is kept.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = nil
	s.dirty = true
}
