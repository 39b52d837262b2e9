// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/kinematics/main.go
//
// Offline forward/inverse kinematics on the nominal or calibrated chain.
//
// Run:
//
//	go run ./cmd/kinematics fk 0 -30 60 -30
//	go run ./cmd/kinematics ik 250 0 120
//	go run ./cmd/kinematics workspace
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/relabs-tech/arm_kinematics/internal/calibration"
	"github.com/relabs-tech/arm_kinematics/internal/kinematics"
)

func main() {
	chainPath := flag.String("chain", "", "parameter table written by calibration (default: nominal)")
	calibPath := flag.String("calibration", "", "calibration document to take the parameters from")
	maxLink := flag.Float64("max-link", kinematics.DefaultMaxLinkLength, "maximum link length in mm")
	elbow := flag.String("elbow", "up", "closed-form branch: up or down")
	tilt := flag.Float64("tilt", 0, "tool pitch away from straight down, degrees")
	timeout := flag.Duration("timeout", kinematics.DefaultIKTimeout, "numeric solver time limit")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: kinematics [flags] fk <deg>... | ik <x> <y> <z> | workspace")
		flag.PrintDefaults()
	}
	flag.Parse()

	chain, err := loadChain(*chainPath, *calibPath, *maxLink)
	if err != nil {
		fatal(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	switch args[0] {
	case "fk":
		q, err := parseFloats(args[1:])
		if err != nil {
			fatal(err)
		}
		frames, err := chain.JointOrigins(kinematics.Radians(q))
		if err != nil {
			fatal(err)
		}
		for i, p := range frames {
			fmt.Printf("frame %d: X=%9.3f Y=%9.3f Z=%9.3f\n", i, p.X, p.Y, p.Z)
		}
		pose, err := chain.Forward(kinematics.Radians(q))
		if err != nil {
			fatal(err)
		}
		fmt.Printf("tool:    X=%9.3f Y=%9.3f Z=%9.3f\n", pose.Position.X, pose.Position.Y, pose.Position.Z)

	case "ik":
		xyz, err := parseFloats(args[1:])
		if err != nil {
			fatal(err)
		}
		if len(xyz) != 3 {
			fatal(fmt.Errorf("ik needs x y z, got %d values", len(xyz)))
		}
		branch, err := kinematics.ParseElbow(*elbow)
		if err != nil {
			fatal(err)
		}
		geo := kinematics.GeometricSolver{Elbow: branch, Tilt: *tilt * math.Pi / 180}
		target := kinematics.PositionPose(xyz[0], xyz[1], xyz[2])

		if sols, err := geo.Solutions(chain, target.Position); err == nil {
			for i, q := range sols {
				fmt.Printf("closed form %s: %s\n", []string{"up", "down"}[i], formatDeg(q.Degrees()))
			}
		} else {
			fmt.Printf("closed form: %v\n", err)
		}

		solver := &kinematics.FallbackSolver{
			Geometric: geo,
			Numeric:   kinematics.NumericSolver{Timeout: *timeout},
			Tolerance: kinematics.DefaultIKTolerance,
		}
		ctx, cancel := context.WithTimeout(context.Background(), *timeout+time.Second)
		defer cancel()
		q, err := solver.Solve(ctx, chain, target, nil)
		if err != nil {
			fatal(err)
		}
		p, _ := chain.Position(q)
		fmt.Printf("solution (%s): %s\n", branch, formatDeg(q.Degrees()))
		fmt.Printf("reaches:  X=%9.3f Y=%9.3f Z=%9.3f\n", p.X, p.Y, p.Z)

	case "workspace":
		ws, err := kinematics.NewWorkspace(chain)
		if err != nil {
			fatal(err)
		}
		env := ws.Envelope()
		fmt.Printf("wrist reach:      %.1f .. %.1f mm from the shoulder\n", ws.MinReach(), ws.MaxReach())
		fmt.Printf("horizontal reach: %.1f mm\n", env.MaxHorizontalReach)
		fmt.Printf("height:           %.1f .. %.1f mm\n", env.MinHeight, env.MaxHeight)

	default:
		flag.Usage()
		os.Exit(2)
	}
}

func loadChain(chainPath, calibPath string, maxLink float64) (*kinematics.Chain, error) {
	switch {
	case chainPath != "":
		return calibration.LoadChain(chainPath, maxLink)
	case calibPath != "":
		data, err := os.ReadFile(calibPath)
		if err != nil {
			return nil, err
		}
		doc, err := calibration.DecodeDocument(data)
		if err != nil {
			return nil, err
		}
		return doc.Chain(maxLink)
	}
	return kinematics.NominalChain(), nil
}

func parseFloats(args []string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", a)
		}
		out[i] = v
	}
	return out, nil
}

func formatDeg(deg []float64) string {
	s := ""
	for i, d := range deg {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%8.3f", d)
	}
	return s
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	os.Exit(1)
}
