// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package servo

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Controller reads and drives joints in corrected degrees.
// *Arm and *Mock implement it.
type Controller interface {
	Joints() int
	ReadJointDegrees(ctx context.Context) ([]float64, error)
	CommandJointDegrees(ctx context.Context, deg []float64, speed int) error
	Home(ctx context.Context) error
	EmergencyStop(ctx context.Context) error
}

var (
	_ Controller = (*Arm)(nil)
	_ Controller = (*Mock)(nil)
)

// Mock is an arm without hardware: commanded angles are reached at once.
type Mock struct {
	mu   sync.Mutex
	pos  []float64
	home []float64
}

// NewMock creates a mock arm resting at home, given in corrected degrees.
func NewMock(home []float64) *Mock {
	return &Mock{
		pos:  append([]float64(nil), home...),
		home: append([]float64(nil), home...),
	}
}

// NewMockFromJoints creates a mock arm resting at the joints' home steps.
func NewMockFromJoints(joints []Joint) *Mock {
	home := make([]float64, len(joints))
	for i, j := range joints {
		home[i] = j.Corrected(StepsToDegrees(j.HomeSteps))
	}
	return NewMock(home)
}

func (m *Mock) Joints() int {
	return len(m.home)
}

func (m *Mock) ReadJointDegrees(ctx context.Context) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.pos...), nil
}

func (m *Mock) CommandJointDegrees(ctx context.Context, deg []float64, _ int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(deg) > len(m.pos) {
		return errors.Wrapf(ErrJointCount, "%d angles for %d joints", len(deg), len(m.pos))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.pos, deg)
	return nil
}

func (m *Mock) Home(ctx context.Context) error {
	return m.CommandJointDegrees(ctx, m.home, HomeSpeed)
}

func (m *Mock) EmergencyStop(ctx context.Context) error {
	return ctx.Err()
}
