// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/arm_kinematics/internal/kinematics"
)

// TimestampLayout is the layout of Document.Timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// Document is the on-disk calibration file: the chain, the samples it was
// fitted to and when it was written.
type Document struct {
	DHParameters      [][]float64 `json:"dh_parameters"`
	CalibrationPoints []Point     `json:"calibration_points"`
	Timestamp         string      `json:"timestamp"`
}

// Point is one persisted sample.
type Point struct {
	JointAngles       []float64 `json:"joint_angles"`
	ActualPosition    []float64 `json:"actual_position"`
	PredictedPosition []float64 `json:"predicted_position"`
	Error             float64   `json:"error"`
}

// NewDocument builds a document from a chain and samples.
func NewDocument(c *kinematics.Chain, samples []Sample, timestamp string) Document {
	doc := Document{
		DHParameters:      quadRows(c),
		CalibrationPoints: make([]Point, 0, len(samples)),
		Timestamp:         timestamp,
	}
	for _, sm := range samples {
		doc.CalibrationPoints = append(doc.CalibrationPoints, Point{
			JointAngles:       append([]float64(nil), sm.JointAngles...),
			ActualPosition:    vec(sm.Actual),
			PredictedPosition: vec(sm.Predicted),
			Error:             sm.Error,
		})
	}
	return doc
}

// Encode renders the document as indented JSON.
func (d Document) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode calibration document")
	}
	return append(data, '\n'), nil
}

// DecodeDocument parses data. Shape checks happen in Chain and Samples.
func DecodeDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, errors.Wrapf(ErrMalformedData, "decode: %v", err)
	}
	return doc, nil
}

// Chain validates the parameter table and builds a chain from it.
func (d Document) Chain(maxLinkLength float64) (*kinematics.Chain, error) {
	return chainFromRows(d.DHParameters, maxLinkLength)
}

// Samples validates the points against c and returns them as samples.
// Persisted predictions and errors are kept as written.
func (d Document) Samples(c *kinematics.Chain) ([]Sample, error) {
	out := make([]Sample, 0, len(d.CalibrationPoints))
	for i, p := range d.CalibrationPoints {
		if len(p.JointAngles) == 0 || len(p.JointAngles) > c.Joints() {
			return nil, errors.Wrapf(ErrMalformedData, "point %d has %d joint angles for a %d joint chain", i, len(p.JointAngles), c.Joints())
		}
		actual, err := position(p.ActualPosition)
		if err != nil {
			return nil, errors.Wrapf(err, "point %d actual_position", i)
		}
		predicted, err := position(p.PredictedPosition)
		if err != nil {
			return nil, errors.Wrapf(err, "point %d predicted_position", i)
		}
		if !allFinite(p.JointAngles) || !allFinite([]float64{p.Error}) || p.Error < 0 {
			return nil, errors.Wrapf(ErrMalformedData, "point %d has non-finite values", i)
		}
		out = append(out, Sample{
			JointAngles: append(kinematics.JointVector(nil), p.JointAngles...),
			Actual:      actual,
			Predicted:   predicted,
			Error:       p.Error,
		})
	}
	return out, nil
}

// Document snapshots the session. A session changed since it was last saved
// or loaded gets a fresh timestamp.
func (s *Session) Document() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return NewDocument(s.Chain(), s.samples, s.stampLocked())
}

func (s *Session) stampLocked() string {
	if s.dirty || s.timestamp == "" {
		return s.now().Format(TimestampLayout)
	}
	return s.timestamp
}

// Save writes the session to path.
func (s *Session) Save(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := NewDocument(s.Chain(), s.samples, s.stampLocked())
	data, err := doc.Encode()
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, data); err != nil {
		return err
	}
	s.timestamp = doc.Timestamp
	s.dirty = false
	s.logf("calibration: saved %d samples to %s", len(s.samples), path)
	return nil
}

// Load replaces the chain and samples with the contents of path. Nothing
// changes unless the whole document validates.
func (s *Session) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	doc, err := DecodeDocument(data)
	if err != nil {
		return err
	}
	if err := s.Restore(doc); err != nil {
		return err
	}
	s.logf("calibration: loaded %d samples from %s (%s)", len(doc.CalibrationPoints), path, doc.Timestamp)
	return nil
}

// Restore validates doc and swaps it in.
func (s *Session) Restore(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain, err := doc.Chain(s.Chain().MaxLinkLength())
	if err != nil {
		return err
	}
	samples, err := doc.Samples(chain)
	if err != nil {
		return err
	}
	s.chain.Store(chain)
	s.samples = samples
	s.timestamp = doc.Timestamp
	s.dirty = false
	return nil
}

// SaveChain writes the parameter table alone as [[a, alpha, d, theta_offset], ...].
func SaveChain(path string, c *kinematics.Chain) error {
	data, err := json.MarshalIndent(quadRows(c), "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode chain")
	}
	return writeFileAtomic(path, append(data, '\n'))
}

// LoadChain reads a table written by SaveChain.
func LoadChain(path string, maxLinkLength float64) (*kinematics.Chain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	var rows [][]float64
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, errors.Wrapf(ErrMalformedData, "decode %s: %v", path, err)
	}
	return chainFromRows(rows, maxLinkLength)
}

func chainFromRows(rows [][]float64, maxLinkLength float64) (*kinematics.Chain, error) {
	if len(rows) < kinematics.MinJoints || len(rows) > kinematics.MaxJoints {
		return nil, errors.Wrapf(ErrMalformedData, "dh_parameters has %d rows, want %d..%d", len(rows), kinematics.MinJoints, kinematics.MaxJoints)
	}
	params := make([]kinematics.JointParameter, len(rows))
	for i, row := range rows {
		if len(row) != kinematics.ParamsPerJoint {
			return nil, errors.Wrapf(ErrMalformedData, "dh_parameters row %d has %d values, want %d", i, len(row), kinematics.ParamsPerJoint)
		}
		params[i] = kinematics.ParameterFromQuad([4]float64{row[0], row[1], row[2], row[3]})
	}
	c, err := kinematics.NewChainWithLimit(params, maxLinkLength)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedData, "%v", err)
	}
	return c, nil
}

func quadRows(c *kinematics.Chain) [][]float64 {
	quads := c.Quads()
	rows := make([][]float64, len(quads))
	for i, q := range quads {
		rows[i] = []float64{q[0], q[1], q[2], q[3]}
	}
	return rows
}

func position(v []float64) (r3.Vec, error) {
	if len(v) != 3 || !allFinite(v) {
		return r3.Vec{}, errors.Wrapf(ErrMalformedData, "want 3 finite values, got %v", v)
	}
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}, nil
}

func vec(v r3.Vec) []float64 {
	return []float64{v.X, v.Y, v.Z}
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// writeFileAtomic writes to a temporary file next to path and renames it.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "chmod %s", tmp.Name())
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "rename to %s", path)
	}
	return nil
}
