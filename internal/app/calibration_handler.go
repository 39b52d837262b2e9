// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/relabs-tech/arm_kinematics/internal/calibration"
	"github.com/relabs-tech/arm_kinematics/internal/config"
	"github.com/relabs-tech/arm_kinematics/internal/kinematics"
	"github.com/relabs-tech/arm_kinematics/internal/lsq"
	"gonum.org/v1/gonum/spatial/r3"
)

var timeNow = time.Now

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// NewCalibrationSession starts a session on the stored calibration when
// CALIBRATION_FILE exists, otherwise on LoadChain's chain.
func NewCalibrationSession(cfg *config.Config) (*calibration.Session, error) {
	chain, err := LoadChain(cfg)
	if err != nil {
		return nil, err
	}
	session := calibration.NewSession(chain, log.Default())
	if cfg.ChainFile != "" {
		return session, nil
	}
	if err := session.Load(cfg.CalibrationFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return session, nil
}

// calibrationHandler runs calibration commands from websocket clients
// against one shared session.
type calibrationHandler struct {
	session *calibration.Session
	solver  kinematics.Solver
	read    calibration.JointReader
	cfg     *config.Config
	publish func(v any) // may be nil

	// mu serializes commands from concurrent clients.
	mu sync.Mutex
}

// WSMessage is a command from the calibration page.
type WSMessage struct {
	Action         string    `json:"action"` // add_sample, capture, calibrate, circle, status, save, load, reset
	JointAnglesDeg []float64 `json:"joint_angles_deg,omitempty"`
	Actual         []float64 `json:"actual,omitempty"` // measured x, y, z in mm
	Group          string    `json:"group,omitempty"`
	Path           string    `json:"path,omitempty"`
	Center         []float64 `json:"center,omitempty"`
	Radius         float64   `json:"radius,omitempty"`
	Points         int       `json:"points,omitempty"`
}

// WSResponse is sent back for every command.
type WSResponse struct {
	Type    string      `json:"type"` // sample, status, complete, circle, saved, loaded, reset, error
	Status  *WSStatus   `json:"status,omitempty"`
	Results interface{} `json:"results,omitempty"`
	Message string      `json:"message,omitempty"`
}

// WSStatus summarizes the session.
type WSStatus struct {
	Samples      int          `json:"samples"`
	RMSE         float64      `json:"rmse"`
	DHParameters [][4]float64 `json:"dh_parameters"`
}

// SampleResult reports a recorded sample.
type SampleResult struct {
	Index          int       `json:"index"`
	JointAnglesDeg []float64 `json:"joint_angles_deg"`
	Actual         r3.Vec    `json:"actual"`
	Predicted      r3.Vec    `json:"predicted"`
	Error          float64   `json:"error"`
}

// HandleCalibrationWS handles the WebSocket connection for calibration.
func (h *calibrationHandler) HandleCalibrationWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("calibration: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	// Main message loop
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("calibration: websocket read error: %v", err)
			}
			return
		}

		resp := h.dispatch(r.Context(), msg)
		if err := conn.WriteJSON(resp); err != nil {
			log.Printf("calibration: websocket write error: %v", err)
			return
		}
	}
}

// dispatch runs one command and builds its reply.
func (h *calibrationHandler) dispatch(ctx context.Context, msg WSMessage) WSResponse {
	h.mu.Lock()
	defer h.mu.Unlock()

	resp, err := h.run(ctx, msg)
	if err != nil {
		log.Printf("calibration: %s failed: %v", msg.Action, err)
		return WSResponse{Type: "error", Message: err.Error()}
	}
	return resp
}

func (h *calibrationHandler) run(ctx context.Context, msg WSMessage) (WSResponse, error) {
	switch msg.Action {
	case "status":
		return WSResponse{Type: "status", Status: h.status()}, nil

	case "add_sample":
		actual, err := vecFrom(msg.Actual)
		if err != nil {
			return WSResponse{}, err
		}
		sm, err := h.session.AddSample(kinematics.Radians(msg.JointAnglesDeg), actual)
		if err != nil {
			return WSResponse{}, err
		}
		return h.sampleResponse(sm), nil

	case "capture":
		if h.read == nil {
			return WSResponse{}, fmt.Errorf("no joint source for capture")
		}
		actual, err := vecFrom(msg.Actual)
		if err != nil {
			return WSResponse{}, err
		}
		sm, err := h.session.CaptureSample(ctx, h.read, actual)
		if err != nil {
			return WSResponse{}, err
		}
		return h.sampleResponse(sm), nil

	case "calibrate":
		group, err := calibration.ParseGroup(msg.Group)
		if err != nil {
			return WSResponse{}, err
		}
		ctx, cancel := context.WithTimeout(ctx, h.cfg.CalibTimeout())
		defer cancel()
		res, err := h.session.Calibrate(ctx, calibration.Options{
			MinSamples: h.cfg.CalibMinSamples,
			Group:      group,
			Solver: lsq.LevenbergMarquardt{
				MaxEvaluations: h.cfg.CalibMaxEvaluations,
				Timeout:        h.cfg.CalibTimeout(),
			},
		})
		if err != nil {
			return WSResponse{}, err
		}
		if h.publish != nil {
			h.publish(res)
		}
		return WSResponse{Type: "complete", Status: h.status(), Results: res}, nil

	case "circle":
		center, err := vecFrom(msg.Center)
		if err != nil {
			return WSResponse{}, err
		}
		n := msg.Points
		if n <= 0 {
			n = calibration.DefaultCirclePoints
		}
		report, err := h.session.CircleTest(ctx, calibration.Rig{}, h.solver, center, msg.Radius, n)
		if err != nil {
			return WSResponse{}, err
		}
		return WSResponse{Type: "circle", Results: report}, nil

	case "save":
		path := h.path(msg)
		if err := h.session.Save(path); err != nil {
			return WSResponse{}, err
		}
		return WSResponse{Type: "saved", Message: path, Status: h.status()}, nil

	case "load":
		path := h.path(msg)
		if err := h.session.Load(path); err != nil {
			return WSResponse{}, err
		}
		return WSResponse{Type: "loaded", Message: path, Status: h.status()}, nil

	case "reset":
		h.session.Reset()
		return WSResponse{Type: "reset", Status: h.status()}, nil
	}
	return WSResponse{}, fmt.Errorf("unknown action %q", msg.Action)
}

func (h *calibrationHandler) path(msg WSMessage) string {
	if msg.Path != "" {
		return msg.Path
	}
	return h.cfg.CalibrationFile
}

func (h *calibrationHandler) status() *WSStatus {
	chain := h.session.Chain()
	return &WSStatus{
		Samples:      h.session.Len(),
		RMSE:         calibration.RMSE(chain, h.session.Samples()),
		DHParameters: chain.Quads(),
	}
}

func (h *calibrationHandler) sampleResponse(sm calibration.Sample) WSResponse {
	return WSResponse{
		Type: "sample",
		Results: SampleResult{
			Index:          h.session.Len(),
			JointAnglesDeg: sm.JointAngles.Degrees(),
			Actual:         sm.Actual,
			Predicted:      sm.Predicted,
			Error:          sm.Error,
		},
		Status: h.status(),
	}
}

func vecFrom(v []float64) (r3.Vec, error) {
	if len(v) != 3 {
		return r3.Vec{}, fmt.Errorf("position needs 3 values, got %d", len(v))
	}
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}, nil
}
