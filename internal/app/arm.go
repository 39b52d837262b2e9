// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"time"

	"github.com/relabs-tech/arm_kinematics/internal/calibration"
	"github.com/relabs-tech/arm_kinematics/internal/config"
	"github.com/relabs-tech/arm_kinematics/internal/kinematics"
	"github.com/relabs-tech/arm_kinematics/internal/servo"
)

// OpenController returns the configured arm, real or mock, and a function that
// releases it.
func OpenController(cfg *config.Config) (servo.Controller, func() error, error) {
	joints, err := servo.NewJoints(cfg.ServoIDs, cfg.JointSigns, cfg.JointOffsetsDeg)
	if err != nil {
		return nil, nil, err
	}

	if cfg.UseMockArm {
		log.Println("arm: using mock arm")
		return servo.NewMockFromJoints(joints), func() error { return nil }, nil
	}

	port, err := servo.Open(cfg.ServoSerialPort, cfg.ServoBaudRate)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("arm: opened %s at %d baud", cfg.ServoSerialPort, cfg.ServoBaudRate)
	return servo.NewArm(servo.NewBus(port), joints, log.Default()), port.Close, nil
}

// openBus opens the raw servo line for debugging tools.
func openBus(cfg *config.Config) (*servo.Bus, io.Closer, error) {
	if cfg.UseMockArm {
		return nil, nil, fmt.Errorf("servo bus is not available with USE_MOCK_ARM=true")
	}
	port, err := servo.Open(cfg.ServoSerialPort, cfg.ServoBaudRate)
	if err != nil {
		return nil, nil, err
	}
	return servo.NewBus(port), port, nil
}

// LoadChain returns the chain from CHAIN_FILE, falling back to the parameters
// stored in CALIBRATION_FILE and then to the nominal arm.
func LoadChain(cfg *config.Config) (*kinematics.Chain, error) {
	if cfg.ChainFile != "" {
		c, err := calibration.LoadChain(cfg.ChainFile, cfg.MaxLinkLength)
		if err == nil {
			log.Printf("kinematics: loaded chain from %s", cfg.ChainFile)
			return c, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	data, err := os.ReadFile(cfg.CalibrationFile)
	switch {
	case err == nil:
		doc, err := calibration.DecodeDocument(data)
		if err != nil {
			return nil, err
		}
		c, err := doc.Chain(cfg.MaxLinkLength)
		if err != nil {
			return nil, err
		}
		log.Printf("kinematics: loaded calibrated chain from %s (%s)", cfg.CalibrationFile, doc.Timestamp)
		return c, nil
	case errors.Is(err, os.ErrNotExist):
		log.Println("kinematics: no calibration found, using nominal parameters")
		return kinematics.NominalChain(), nil
	default:
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}
}

// NewSolver builds the inverse kinematics solver from the IK_* settings.
func NewSolver(cfg *config.Config) (*kinematics.FallbackSolver, error) {
	elbow, err := kinematics.ParseElbow(cfg.IKElbow)
	if err != nil {
		return nil, err
	}
	return &kinematics.FallbackSolver{
		Geometric: kinematics.GeometricSolver{
			Elbow: elbow,
			Tilt:  cfg.IKApproachPitchDeg * math.Pi / 180,
		},
		Numeric: kinematics.NumericSolver{
			Tolerance:     cfg.IKToleranceMM,
			MaxIterations: cfg.IKMaxIterations,
			Timeout:       cfg.IKTimeout(),
		},
		Tolerance: cfg.IKToleranceMM,
	}, nil
}

// SteppedMove returns a commander that repeats a command until every joint
// reads within toleranceDeg of its target. Each servo command travels at most
// servo.MaxStepChange steps, so long moves take several.
func SteppedMove(ctrl servo.Controller, toleranceDeg float64, maxCommands int) calibration.JointCommander {
	return func(ctx context.Context, deg []float64, speed int) error {
		if speed <= 0 {
			speed = servo.DefaultSpeed
		}
		wait := time.Duration(float64(servo.MaxStepChange) / float64(speed) * float64(time.Second))
		for i := 0; i < maxCommands; i++ {
			if err := ctrl.CommandJointDegrees(ctx, deg, speed); err != nil {
				return err
			}
			got, err := ctrl.ReadJointDegrees(ctx)
			if err != nil {
				return err
			}
			if withinDeg(got, deg, toleranceDeg) {
				return nil
			}
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		return fmt.Errorf("joints did not reach target after %d commands", maxCommands)
	}
}

func withinDeg(got, want []float64, tol float64) bool {
	if len(got) < len(want) {
		return false
	}
	for i, w := range want {
		if math.Abs(math.Remainder(got[i]-w, 360)) > tol {
			return false
		}
	}
	return true
}
