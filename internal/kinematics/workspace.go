// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package kinematics

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultApproachPitch points the tool straight down.
const DefaultApproachPitch = -math.Pi / 2

// planar is the shoulder/elbow/wrist model the closed form works in.
// Joints 2..4 rotate about a common horizontal axis; angles measured in that
// plane are "elevations", positive upwards.
type planar struct {
	d1, a1     float64 // shoulder height and radial offset
	l2, l3, l4 float64 // upper arm, forearm, wrist-to-tool
	sigma      float64 // +1 or -1: elevation = sigma * joint angle
	offsets    [4]float64
}

func newPlanar(c *Chain) (planar, error) {
	if c.Joints() < 4 {
		return planar{}, errors.Wrapf(ErrInvalidChain, "closed form needs 4 positioning joints, chain has %d", c.Joints())
	}
	s := math.Sin(c.params[0].Alpha)
	if math.Abs(s) < 0.5 {
		return planar{}, errors.Wrapf(ErrInvalidChain, "joint 1 twist %.4f does not put the shoulder axis horizontal", c.params[0].Alpha)
	}
	pl := planar{
		d1: c.params[0].D,
		a1: c.params[0].A,
		l2: c.params[1].A,
		l3: c.params[2].A,
		l4: c.params[3].A,
	}
	if s > 0 {
		pl.sigma = 1
	} else {
		pl.sigma = -1
	}
	for i := 0; i < 4; i++ {
		pl.offsets[i] = c.params[i].ThetaOffset
	}
	return pl, nil
}

// wrist returns the planar wrist point for a tool target at the given approach pitch.
func (pl planar) wrist(p r3.Vec, approach float64) (rw, hw float64) {
	r := math.Hypot(p.X, p.Y) - pl.a1
	h := p.Z - pl.d1
	return r - pl.l4*math.Cos(approach), h - pl.l4*math.Sin(approach)
}

func (pl planar) maxReach() float64 { return pl.l2 + pl.l3 }
func (pl planar) minReach() float64 { return math.Abs(pl.l2 - pl.l3) }

// Workspace answers reachability questions for a chain.
type Workspace struct {
	pl       planar
	approach float64
}

// NewWorkspace builds a workspace using the default downward approach.
func NewWorkspace(c *Chain) (*Workspace, error) {
	return NewWorkspaceWithApproach(c, DefaultApproachPitch)
}

// NewWorkspaceWithApproach builds a workspace for a given tool approach pitch.
func NewWorkspaceWithApproach(c *Chain, approach float64) (*Workspace, error) {
	pl, err := newPlanar(c)
	if err != nil {
		return nil, err
	}
	return &Workspace{pl: pl, approach: approach}, nil
}

// MaxReach is L2+L3, the outer wrist radius around the shoulder.
func (w *Workspace) MaxReach() float64 { return w.pl.maxReach() }

// MinReach is |L2-L3|, the inner wrist radius around the shoulder.
func (w *Workspace) MinReach() float64 { return w.pl.minReach() }

// WristDistance returns the shoulder-to-wrist distance needed to place the tool at p.
func (w *Workspace) WristDistance(p r3.Vec) float64 {
	rw, hw := w.pl.wrist(p, w.approach)
	return math.Hypot(rw, hw)
}

// IsReachable reports whether p passes the triangle-inequality test.
func (w *Workspace) IsReachable(p r3.Vec) bool {
	d := w.WristDistance(p)
	return d <= w.MaxReach() && d >= w.MinReach()
}

// Envelope summarizes the gross workspace extent.
type Envelope struct {
	MaxHorizontalReach float64 `json:"max_horizontal_reach"`
	MaxHeight          float64 `json:"max_height"`
	MinHeight          float64 `json:"min_height"`
}

// Envelope returns the extent with every link stretched out.
func (w *Workspace) Envelope() Envelope {
	reach := w.pl.l2 + w.pl.l3 + w.pl.l4
	return Envelope{
		MaxHorizontalReach: w.pl.a1 + reach,
		MaxHeight:          w.pl.d1 + reach,
		MinHeight:          w.pl.d1 - reach,
	}
}

// Box is an axis-aligned sampling region in mm.
type Box struct {
	Min, Max r3.Vec
}

// DefaultSampleBox is the region used for grid calibration runs.
var DefaultSampleBox = Box{
	Min: r3.Vec{X: 100, Y: -150, Z: 50},
	Max: r3.Vec{X: 300, Y: 150, Z: 300},
}

// SampleTargets draws up to n reachable targets uniformly from box.
// It gives up after 100*n draws and returns what it found.
func (w *Workspace) SampleTargets(n int, box Box, rng *rand.Rand) []r3.Vec {
	out := make([]r3.Vec, 0, n)
	for tries := 0; len(out) < n && tries < 100*n; tries++ {
		p := r3.Vec{
			X: box.Min.X + rng.Float64()*(box.Max.X-box.Min.X),
			Y: box.Min.Y + rng.Float64()*(box.Max.Y-box.Min.Y),
			Z: box.Min.Z + rng.Float64()*(box.Max.Z-box.Min.Z),
		}
		if w.IsReachable(p) {
			out = append(out, p)
		}
	}
	return out
}
