// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// CircleTargets returns n points evenly spaced on a horizontal circle.
func CircleTargets(center r3.Vec, radius float64, n int) []r3.Vec {
	out := make([]r3.Vec, n)
	for i := range out {
		a := 2 * math.Pi * float64(i) / float64(n)
		out[i] = r3.Vec{
			X: center.X + radius*math.Cos(a),
			Y: center.Y + radius*math.Sin(a),
			Z: center.Z,
		}
	}
	return out
}

// CircleQuality compares traced points with the circle they should lie on.
// Only the XY projection is analysed.
type CircleQuality struct {
	Points         int     `json:"points"`
	Center         r3.Vec  `json:"center"`
	CenterOffset   float64 `json:"center_offset"`
	ExpectedRadius float64 `json:"expected_radius"`
	MeanRadius     float64 `json:"mean_radius"`
	StdRadius      float64 `json:"std_radius"`
	// Circularity is 1 - StdRadius/MeanRadius.
	Circularity float64 `json:"circularity"`
}

// AnalyzeCircle estimates the centre as the XY mean of points and reports the
// radius spread around it.
func AnalyzeCircle(points []r3.Vec, expectedCenter r3.Vec, expectedRadius float64) (CircleQuality, error) {
	if len(points) < 3 {
		return CircleQuality{}, errors.Wrapf(ErrInsufficientData, "circle analysis needs 3 points, have %d", len(points))
	}
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	zs := make([]float64, len(points))
	for i, p := range points {
		xs[i], ys[i], zs[i] = p.X, p.Y, p.Z
	}
	c := r3.Vec{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil), Z: stat.Mean(zs, nil)}

	radii := make([]float64, len(points))
	for i, p := range points {
		radii[i] = math.Hypot(p.X-c.X, p.Y-c.Y)
	}
	mean, std := stat.PopMeanStdDev(radii, nil)

	q := CircleQuality{
		Points:         len(points),
		Center:         c,
		CenterOffset:   math.Hypot(c.X-expectedCenter.X, c.Y-expectedCenter.Y),
		ExpectedRadius: expectedRadius,
		MeanRadius:     mean,
		StdRadius:      std,
	}
	if mean > 0 {
		q.Circularity = 1 - std/mean
	}
	return q, nil
}
