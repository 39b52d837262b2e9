// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/arm_kinematics/internal/calibration"
	"github.com/relabs-tech/arm_kinematics/internal/config"
	"github.com/relabs-tech/arm_kinematics/internal/kinematics"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		CalibrationFile:     filepath.Join(t.TempDir(), "calibration.json"),
		MaxLinkLength:       kinematics.DefaultMaxLinkLength,
		IKElbow:             "up",
		IKToleranceMM:       0.1,
		IKMaxIterations:     200,
		IKTimeoutMS:         2000,
		CalibMinSamples:     10,
		CalibMaxEvaluations: 1000,
		CalibTimeoutMS:      60000,
		ServoIDs:            []int{1, 2, 3, 4, 5, 6},
		JointSigns:          []float64{-1, -1, 1, 1, -1, -1},
		JointOffsetsDeg:     []float64{0, 180, 180, 180, -180, 0},
		UseMockArm:          true,
	}
}

// wsResponse mirrors WSResponse with the results left raw.
type wsResponse struct {
	Type    string          `json:"type"`
	Status  *WSStatus       `json:"status"`
	Results json.RawMessage `json:"results"`
	Message string          `json:"message"`
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialCalibration(t *testing.T, h *calibrationHandler) *wsClient {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(h.HandleCalibrationWS))
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(msg WSMessage) wsResponse {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(msg))
	var resp wsResponse
	require.NoError(c.t, c.conn.ReadJSON(&resp))
	return resp
}

// offsetTruth is the nominal arm with a small shoulder zero error.
func offsetTruth(t *testing.T) *kinematics.Chain {
	t.Helper()
	params := kinematics.NominalChain().Parameters()
	params[1].ThetaOffset += 0.02
	c, err := kinematics.NewChain(params)
	require.NoError(t, err)
	return c
}

func addTruthSamples(c *wsClient, truth *kinematics.Chain, n int) {
	c.t.Helper()
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < n; i++ {
		q := make(kinematics.JointVector, truth.Joints())
		for j := 0; j < 4; j++ {
			q[j] = 2*rng.Float64() - 1
		}
		p, err := truth.Position(q)
		require.NoError(c.t, err)
		resp := c.send(WSMessage{
			Action:         "add_sample",
			JointAnglesDeg: q.Degrees(),
			Actual:         []float64{p.X, p.Y, p.Z},
		})
		require.Equal(c.t, "sample", resp.Type, resp.Message)
	}
}

func TestCalibrationWSRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	session := calibration.NewSession(kinematics.NominalChain(), nil)
	var published []any
	h := &calibrationHandler{
		session: session,
		solver:  kinematics.NewFallbackSolver(),
		cfg:     cfg,
		publish: func(v any) { published = append(published, v) },
	}
	c := dialCalibration(t, h)

	resp := c.send(WSMessage{Action: "status"})
	require.Equal(t, "status", resp.Type)
	assert.Zero(t, resp.Status.Samples)
	assert.Zero(t, resp.Status.RMSE)
	assert.Len(t, resp.Status.DHParameters, 6)

	resp = c.send(WSMessage{Action: "calibrate"})
	assert.Equal(t, "error", resp.Type)
	assert.Contains(t, resp.Message, "insufficient")

	addTruthSamples(c, offsetTruth(t), 12)

	resp = c.send(WSMessage{Action: "calibrate", Group: "offsets"})
	require.Equal(t, "complete", resp.Type, resp.Message)
	var res calibration.Result
	require.NoError(t, json.Unmarshal(resp.Results, &res))
	assert.Equal(t, 12, res.Samples)
	assert.Less(t, res.RMSEAfter, res.RMSEBefore)
	assert.Less(t, resp.Status.RMSE, 0.01)
	assert.InDelta(t, 0.02, session.Chain().Parameters()[1].ThetaOffset, 1e-3)
	assert.Len(t, published, 1)

	resp = c.send(WSMessage{Action: "save"})
	require.Equal(t, "saved", resp.Type, resp.Message)
	assert.Equal(t, cfg.CalibrationFile, resp.Message)

	resp = c.send(WSMessage{Action: "reset"})
	require.Equal(t, "reset", resp.Type)
	assert.Zero(t, resp.Status.Samples)

	resp = c.send(WSMessage{Action: "load"})
	require.Equal(t, "loaded", resp.Type, resp.Message)
	assert.Equal(t, 12, resp.Status.Samples)
	assert.Less(t, resp.Status.RMSE, 0.01)
}

func TestCalibrationRunErrors(t *testing.T) {
	h := &calibrationHandler{
		session: calibration.NewSession(kinematics.NominalChain(), nil),
		solver:  kinematics.NewFallbackSolver(),
		cfg:     testConfig(t),
	}
	ctx := context.Background()

	cases := []struct {
		name string
		msg  WSMessage
		want string
	}{
		{"unknown action", WSMessage{Action: "dance"}, "unknown action"},
		{"short actual", WSMessage{Action: "add_sample", JointAnglesDeg: []float64{0, 0, 0, 0}, Actual: []float64{1, 2}}, "3 values"},
		{"too many joints", WSMessage{Action: "add_sample", JointAnglesDeg: make([]float64, 7), Actual: []float64{1, 2, 3}}, "joint"},
		{"capture without source", WSMessage{Action: "capture", Actual: []float64{1, 2, 3}}, "no joint source"},
		{"bad group", WSMessage{Action: "calibrate", Group: "colors"}, "unknown parameter group"},
		{"missing file", WSMessage{Action: "load", Path: filepath.Join(t.TempDir(), "none.json")}, "none.json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := h.dispatch(ctx, tc.msg)
			assert.Equal(t, "error", resp.Type)
			assert.Contains(t, resp.Message, tc.want)
		})
	}
	assert.Zero(t, h.session.Len())
}

func TestCalibrationCapture(t *testing.T) {
	h := &calibrationHandler{
		session: calibration.NewSession(kinematics.NominalChain(), nil),
		read: func(context.Context) ([]float64, error) {
			return []float64{90, 0, 0, 0, 0, 0}, nil
		},
		cfg: testConfig(t),
	}

	resp, err := h.run(context.Background(), WSMessage{Action: "capture", Actual: []float64{0, 375, 137.8}})
	require.NoError(t, err)
	assert.Equal(t, "sample", resp.Type)
	sr, ok := resp.Results.(SampleResult)
	require.True(t, ok)
	assert.Equal(t, 1, sr.Index)
	assert.InDelta(t, 90.0, sr.JointAnglesDeg[0], 1e-9)
	assert.InDelta(t, 0.0, sr.Error, 1e-9)
}

func TestCalibrationCircleDryRun(t *testing.T) {
	h := &calibrationHandler{
		session: calibration.NewSession(kinematics.NominalChain(), nil),
		solver:  kinematics.NewFallbackSolver(),
		cfg:     testConfig(t),
	}

	resp, err := h.run(context.Background(), WSMessage{
		Action: "circle",
		Center: []float64{250, 0, 100},
		Radius: 30,
		Points: 12,
	})
	require.NoError(t, err)
	require.Equal(t, "circle", resp.Type)
	report, ok := resp.Results.(*calibration.CircleReport)
	require.True(t, ok)
	assert.Zero(t, report.Skipped)
	assert.Len(t, report.Points, 12)
	assert.InDelta(t, 30.0, report.Quality.MeanRadius, 0.1)

	_, err = h.run(context.Background(), WSMessage{Action: "circle", Center: []float64{250, 0}})
	assert.Error(t, err)
}

func TestNewCalibrationSessionStartsNominal(t *testing.T) {
	cfg := testConfig(t)
	session, err := NewCalibrationSession(cfg)
	require.NoError(t, err)
	assert.Zero(t, session.Len())
	assert.Equal(t, kinematics.NominalChain().Quads(), session.Chain().Quads())
}

func TestNewCalibrationSessionRestoresFile(t *testing.T) {
	cfg := testConfig(t)
	first := calibration.NewSession(offsetTruth(t), nil)
	_, err := first.AddSample(kinematics.JointVector{0, 0, 0, 0}, r3.Vec{X: 375, Y: 0, Z: 137.8})
	require.NoError(t, err)
	require.NoError(t, first.Save(cfg.CalibrationFile))

	session, err := NewCalibrationSession(cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, session.Len())
	assert.InDelta(t, 0.02, session.Chain().Parameters()[1].ThetaOffset, 1e-12)
}
