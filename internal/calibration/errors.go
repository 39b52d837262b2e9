// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import "github.com/pkg/errors"

var (
	// ErrInsufficientData is returned when there are too few samples to fit.
	ErrInsufficientData = errors.New("insufficient calibration data")
	// ErrNoConvergence is returned when the optimizer did not reach a usable fit.
	// The session keeps its previous chain.
	ErrNoConvergence = errors.New("calibration did not converge")
	// ErrMalformedData is returned when a persisted document fails validation.
	ErrMalformedData = errors.New("malformed calibration data")
)
