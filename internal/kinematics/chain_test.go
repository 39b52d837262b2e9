// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package kinematics

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNominalChain(t *testing.T) {
	c := NominalChain()
	require.Equal(t, 6, c.Joints())
	assert.Equal(t, DefaultMaxLinkLength, c.MaxLinkLength())
	assert.InDelta(t, 137.8, c.Parameter(0).D, 1e-12)
	assert.InDelta(t, 147.0, c.Parameter(1).A, 1e-12)
	assert.InDelta(t, 147.0, c.Parameter(2).A, 1e-12)
	assert.InDelta(t, 81.0, c.Parameter(3).A, 1e-12)
}

func TestNewChainValidation(t *testing.T) {
	good := NominalChain().Parameters()

	tests := []struct {
		name   string
		mutate func([]JointParameter) []JointParameter
	}{
		{
			name:   "too few joints",
			mutate: func(p []JointParameter) []JointParameter { return p[:3] },
		},
		{
			name: "too many joints",
			mutate: func(p []JointParameter) []JointParameter {
				return append(p, JointParameter{})
			},
		},
		{
			name: "negative length",
			mutate: func(p []JointParameter) []JointParameter {
				p[1].A = -1
				return p
			},
		},
		{
			name: "offset above limit",
			mutate: func(p []JointParameter) []JointParameter {
				p[0].D = DefaultMaxLinkLength + 1
				return p
			},
		},
		{
			name: "twist out of range",
			mutate: func(p []JointParameter) []JointParameter {
				p[2].Alpha = 4
				return p
			},
		},
		{
			name: "nan offset",
			mutate: func(p []JointParameter) []JointParameter {
				p[3].ThetaOffset = math.NaN()
				return p
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := append([]JointParameter(nil), good...)
			_, err := NewChain(tt.mutate(params))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidChain), "got %v", err)
		})
	}
}

func TestChainIsImmutable(t *testing.T) {
	params := NominalChain().Parameters()
	c, err := NewChain(params)
	require.NoError(t, err)

	params[1].A = 10
	assert.InDelta(t, 147.0, c.Parameter(1).A, 1e-12)

	out := c.Parameters()
	out[2].A = 10
	assert.InDelta(t, 147.0, c.Parameter(2).A, 1e-12)
}

func TestFlattenRoundTrip(t *testing.T) {
	c := NominalChain()
	flat := c.Flatten()
	require.Len(t, flat, c.Joints()*ParamsPerJoint)

	back, err := ChainFromFlat(flat, c.MaxLinkLength())
	require.NoError(t, err)
	assert.Equal(t, c.Quads(), back.Quads())

	_, err = ChainFromFlat(flat[:5], c.MaxLinkLength())
	assert.True(t, errors.Is(err, ErrInvalidChain))
}

func TestWithParametersKeepsLimit(t *testing.T) {
	c, err := NewChainWithLimit(NominalChain().Parameters(), 200)
	require.NoError(t, err)

	params := c.Parameters()
	params[1].A = 250
	_, err = c.WithParameters(params)
	assert.True(t, errors.Is(err, ErrInvalidChain))
}
