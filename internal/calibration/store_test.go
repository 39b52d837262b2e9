// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/arm_kinematics/internal/kinematics"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
}

func TestSaveLoadSaveIsByteIdentical(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.json")
	second := filepath.Join(dir, "second.json")

	s := NewSession(kinematics.NominalChain(), nil)
	s.now = fixedClock
	fill(t, s, perturbedChain(t), 12, 0.3, 9)
	require.NoError(t, s.Save(first))

	loaded := NewSession(kinematics.NominalChain(), nil)
	require.NoError(t, loaded.Load(first))
	require.NoError(t, loaded.Save(second))

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))

	assert.Equal(t, s.Chain().Quads(), loaded.Chain().Quads())
	assert.Equal(t, s.Samples(), loaded.Samples())
	assert.Equal(t, "2026-03-14 09:26:53", loaded.Document().Timestamp)
}

func TestSaveStampsChangedSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.json")
	s := NewSession(kinematics.NominalChain(), nil)
	s.now = fixedClock
	require.NoError(t, s.Save(path))
	assert.Equal(t, "2026-03-14 09:26:53", s.Document().Timestamp)

	s.now = func() time.Time { return fixedClock().Add(time.Hour) }
	assert.Equal(t, "2026-03-14 09:26:53", s.Document().Timestamp)

	_, err := s.AddSample(kinematics.JointVector{0, 0, 0, 0}, fixedPosition)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-14 10:26:53", s.Document().Timestamp)
}

func TestEmptySessionEncodesEmptyList(t *testing.T) {
	data, err := NewDocument(kinematics.NominalChain(), nil, "2026-01-01 00:00:00").Encode()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"calibration_points": []`)
}

func TestLoadRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `{"dh_parameters": [`},
		{name: "no parameters", body: `{"calibration_points": []}`},
		{name: "short row", body: `{"dh_parameters": [[0,0,1],[147,0,0,0],[147,0,0,0],[81,0,0,0]]}`},
		{name: "long row", body: `{"dh_parameters": [[0,0,1,0,0],[147,0,0,0],[147,0,0,0],[81,0,0,0]]}`},
		{name: "negative length", body: `{"dh_parameters": [[0,0,1,0],[-147,0,0,0],[147,0,0,0],[81,0,0,0]]}`},
		{name: "too long", body: `{"dh_parameters": [[0,0,1,0],[900,0,0,0],[147,0,0,0],[81,0,0,0]]}`},
		{name: "three joints", body: `{"dh_parameters": [[0,0,1,0],[147,0,0,0],[147,0,0,0]]}`},
		{
			name: "bad position",
			body: `{"dh_parameters": [[0,0,1,0],[147,0,0,0],[147,0,0,0],[81,0,0,0]],
				"calibration_points": [{"joint_angles": [0,0,0,0], "actual_position": [1,2],
				"predicted_position": [1,2,3], "error": 0}]}`,
		},
		{
			name: "too many joint angles",
			body: `{"dh_parameters": [[0,0,1,0],[147,0,0,0],[147,0,0,0],[81,0,0,0]],
				"calibration_points": [{"joint_angles": [0,0,0,0,0], "actual_position": [1,2,3],
				"predicted_position": [1,2,3], "error": 0}]}`,
		},
		{
			name: "negative error",
			body: `{"dh_parameters": [[0,0,1,0],[147,0,0,0],[147,0,0,0],[81,0,0,0]],
				"calibration_points": [{"joint_angles": [0,0,0,0], "actual_position": [1,2,3],
				"predicted_position": [1,2,3], "error": -1}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "calibration.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))

			chain := kinematics.NominalChain()
			s := NewSession(chain, nil)
			_, err := s.AddSample(kinematics.JointVector{0, 0, 0, 0}, fixedPosition)
			require.NoError(t, err)

			err = s.Load(path)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedData), "got %v", err)
			assert.Same(t, chain, s.Chain())
			assert.Equal(t, 1, s.Len())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	s := NewSession(kinematics.NominalChain(), nil)
	err := s.Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestChainFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.json")
	want := perturbedChain(t)
	require.NoError(t, SaveChain(path, want))

	got, err := LoadChain(path, kinematics.DefaultMaxLinkLength)
	require.NoError(t, err)
	assert.Equal(t, want.Quads(), got.Quads())

	require.NoError(t, os.WriteFile(path, []byte(`[[1,2,3]]`), 0o644))
	_, err = LoadChain(path, kinematics.DefaultMaxLinkLength)
	assert.True(t, errors.Is(err, ErrMalformedData))
}
