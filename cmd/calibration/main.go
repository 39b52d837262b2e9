// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/calibration/main.go
//
// Guided kinematic calibration for the arm.
// Modes:
//  1. grid: visit reachable targets, prompt for the measured tool position at
//     each one, then fit the parameter table.
//  2. fit: refit the samples already stored in CALIBRATION_FILE.
//  3. circle: trace a horizontal circle and report how round it came out.
//
// Output:
//
//	Writes the session (parameters, samples, timestamp) to CALIBRATION_FILE,
//	and the parameter table alone to CHAIN_FILE when configured.
//
// Run:
//
//	go run ./cmd/calibration -mode grid -n 20
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/relabs-tech/arm_kinematics/internal/app"
	"github.com/relabs-tech/arm_kinematics/internal/calibration"
	"github.com/relabs-tech/arm_kinematics/internal/config"
	"github.com/relabs-tech/arm_kinematics/internal/kinematics"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	moveToleranceDeg = 1.0
	maxMoveCommands  = 20
)

func main() {
	in := bufio.NewReader(os.Stdin)

	// Parse command-line flags
	configPath := flag.String("config", "arm_config.txt", "Path to configuration file")
	mode := flag.String("mode", "grid", "grid, fit or circle")
	n := flag.Int("n", 20, "number of grid targets")
	seed := flag.Int64("seed", 1, "grid target random seed")
	group := flag.String("group", "all", "parameters to fit: all, lengths, twists, offsets, angles")
	center := flag.String("center", "200,0,150", "circle center x,y,z in mm")
	radius := flag.Float64("radius", 40, "circle radius in mm")
	points := flag.Int("points", calibration.DefaultCirclePoints, "circle points")
	dry := flag.Bool("dry", false, "circle test on the model only, without moving the arm")
	flag.Parse()

	fmt.Println("=== Arm Kinematic Calibration ===")
	fmt.Println()

	// Initialize configuration
	if err := config.InitGlobal(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}
	cfg := config.Get()

	fitGroup, err := calibration.ParseGroup(*group)
	if err != nil {
		fatal(err)
	}

	session, err := app.NewCalibrationSession(cfg)
	if err != nil {
		fatal(err)
	}
	solver, err := app.NewSolver(cfg)
	if err != nil {
		fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch *mode {
	case "grid":
		arm, closeArm, err := app.OpenController(cfg)
		if err != nil {
			fatal(err)
		}
		defer closeArm()

		ws, err := kinematics.NewWorkspace(session.Chain())
		if err != nil {
			fatal(err)
		}
		targets := ws.SampleTargets(*n, kinematics.DefaultSampleBox, rand.New(rand.NewSource(*seed)))
		fmt.Printf("Step 1/2 — Collect %d grid points (%d already stored)\n", len(targets), session.Len())
		fmt.Println("At each point, measure the tool tip and type x y z in mm. Leave blank to skip the point.")
		waitEnter(in, "Press ENTER to start...")

		rig := calibration.Rig{
			Read:    arm.ReadJointDegrees,
			Move:    app.SteppedMove(arm, moveToleranceDeg, maxMoveCommands),
			Measure: promptMeasurer(in),
			Speed:   calibration.DefaultGridSpeed,
			Settle:  calibration.DefaultGridSettle,
		}
		collected, err := session.CollectGrid(ctx, rig, solver, targets)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Collected %d points.\n\n", collected)

		fmt.Println("Step 2/2 — Fit")
		fit(ctx, cfg, session, fitGroup)

	case "fit":
		fmt.Printf("Fitting %d stored samples\n", session.Len())
		fit(ctx, cfg, session, fitGroup)

	case "circle":
		c, err := parseVec(*center)
		if err != nil {
			fatal(err)
		}
		var rig calibration.Rig
		if !*dry {
			arm, closeArm, err := app.OpenController(cfg)
			if err != nil {
				fatal(err)
			}
			defer closeArm()
			rig.Read = arm.ReadJointDegrees
			rig.Move = app.SteppedMove(arm, moveToleranceDeg, maxMoveCommands)
		}
		report, err := session.CircleTest(ctx, rig, solver, c, *radius, *points)
		if err != nil {
			fatal(err)
		}
		q := report.Quality
		fmt.Printf("Points: %d traced, %d skipped\n", q.Points, report.Skipped)
		fmt.Printf("Center: X=%.2f Y=%.2f (offset %.2f mm)\n", q.Center.X, q.Center.Y, q.CenterOffset)
		fmt.Printf("Radius: mean %.2f mm, std %.2f mm (expected %.2f)\n", q.MeanRadius, q.StdRadius, q.ExpectedRadius)
		fmt.Printf("Circularity: %.1f%%\n", q.Circularity*100)

	default:
		fatal(fmt.Errorf("unknown mode %q", *mode))
	}
}

func fit(ctx context.Context, cfg *config.Config, session *calibration.Session, group calibration.Group) {
	ctx, cancel := context.WithTimeout(ctx, cfg.CalibTimeout())
	defer cancel()

	res, err := session.Calibrate(ctx, calibration.Options{
		MinSamples: cfg.CalibMinSamples,
		Group:      group,
	})
	if err != nil {
		if errors.Is(err, calibration.ErrInsufficientData) {
			fmt.Println("Not enough samples yet; saving what was collected.")
			save(cfg, session)
		}
		fatal(err)
	}

	fmt.Printf("RMSE: %.3f mm -> %.3f mm (%.1f%% better, %s)\n", res.RMSEBefore, res.RMSEAfter, res.Improvement(), res.Reason)
	for _, d := range res.Deltas {
		if d.Delta == 0 {
			continue
		}
		fmt.Printf("  J%d %-12s %10.4f -> %10.4f (%+.4f)\n", d.Joint, d.Name, d.Before, d.After, d.Delta)
	}
	save(cfg, session)
}

func save(cfg *config.Config, session *calibration.Session) {
	if err := session.Save(cfg.CalibrationFile); err != nil {
		fatal(err)
	}
	fmt.Printf("\nWrote: %s\n", cfg.CalibrationFile)
	if cfg.ChainFile != "" {
		if err := calibration.SaveChain(cfg.ChainFile, session.Chain()); err != nil {
			fatal(err)
		}
		fmt.Printf("Wrote: %s\n", cfg.ChainFile)
	}
}

// ---------- Console helpers ----------

// promptMeasurer asks the operator for the measured tool position.
func promptMeasurer(in *bufio.Reader) calibration.Measurer {
	return func(ctx context.Context) (r3.Vec, error) {
		for {
			if err := ctx.Err(); err != nil {
				return r3.Vec{}, err
			}
			fmt.Print("Measured x y z (mm): ")
			line, err := in.ReadString('\n')
			if err != nil {
				return r3.Vec{}, err
			}
			line = strings.TrimSpace(line)
			if line == "" {
				return r3.Vec{}, errors.New("skipped by operator")
			}
			v, err := parseVec(line)
			if err != nil {
				fmt.Printf("  %v, try again\n", err)
				continue
			}
			return v, nil
		}
	}
}

func parseVec(s string) (r3.Vec, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	if len(fields) != 3 {
		return r3.Vec{}, fmt.Errorf("need 3 numbers, got %d", len(fields))
	}
	var xyz [3]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return r3.Vec{}, fmt.Errorf("invalid number %q", f)
		}
		xyz[i] = v
	}
	return r3.Vec{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}

func waitEnter(in *bufio.Reader, prompt string) {
	fmt.Print(prompt)
	_, _ = in.ReadString('\n')
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	os.Exit(1)
}
