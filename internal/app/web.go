// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/relabs-tech/arm_kinematics/internal/calibration"
	"github.com/relabs-tech/arm_kinematics/internal/config"
	"github.com/relabs-tech/arm_kinematics/internal/kinematics"
	"gonum.org/v1/gonum/spatial/r3"
)

// webServer serves the kinematics API over the session's active chain and
// keeps the latest joint state and pose seen on MQTT.
type webServer struct {
	session *calibration.Session
	solver  kinematics.Solver

	mu        sync.RWMutex
	lastState JointState
	haveState bool
	lastPose  PoseMessage
	havePose  bool
}

func newWebServer(session *calibration.Session, solver kinematics.Solver) *webServer {
	return &webServer{session: session, solver: solver}
}

// FKRequest is the body of POST /api/fk.
type FKRequest struct {
	JointAnglesDeg []float64 `json:"joint_angles_deg"`
}

// IKRequest is the body of POST /api/ik. SeedDeg is optional.
type IKRequest struct {
	X       float64   `json:"x"`
	Y       float64   `json:"y"`
	Z       float64   `json:"z"`
	SeedDeg []float64 `json:"seed_deg,omitempty"`
}

// IKResponse is the solved joint vector and how close it lands.
type IKResponse struct {
	JointAnglesDeg []float64 `json:"joint_angles_deg"`
	JointAnglesRad []float64 `json:"joint_angles_rad"`
	ResidualMM     float64   `json:"residual_mm"`
}

// ChainResponse describes the active chain.
type ChainResponse struct {
	Joints       int                 `json:"joints"`
	DHParameters [][4]float64        `json:"dh_parameters"`
	Envelope     *kinematics.Envelope `json:"envelope,omitempty"`
}

func (s *webServer) setState(st JointState) {
	s.mu.Lock()
	s.lastState = st
	s.haveState = true
	s.mu.Unlock()
}

func (s *webServer) setPose(p PoseMessage) {
	s.mu.Lock()
	s.lastPose = p
	s.havePose = true
	s.mu.Unlock()
}

// latestJoints returns the last published joint degrees. It serves as the
// joint reader for websocket captures, so the web process never opens the
// servo line the state publisher owns.
func (s *webServer) latestJoints(_ context.Context) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.haveState {
		return nil, fmt.Errorf("no joint state received yet")
	}
	return append([]float64(nil), s.lastState.Degrees...), nil
}

func (s *webServer) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/pose", s.handlePose)
	mux.HandleFunc("GET /api/joints", s.handleJoints)
	mux.HandleFunc("GET /api/chain", s.handleChain)
	mux.HandleFunc("POST /api/fk", s.handleFK)
	mux.HandleFunc("POST /api/ik", s.handleIK)
}

func (s *webServer) handlePose(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.havePose {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.lastPose)
}

func (s *webServer) handleJoints(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.haveState {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.lastState)
}

func (s *webServer) handleChain(w http.ResponseWriter, _ *http.Request) {
	chain := s.session.Chain()
	resp := ChainResponse{Joints: chain.Joints(), DHParameters: chain.Quads()}
	if ws, err := kinematics.NewWorkspace(chain); err == nil {
		env := ws.Envelope()
		resp.Envelope = &env
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *webServer) handleFK(w http.ResponseWriter, r *http.Request) {
	var req FKRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	_, pose, err := buildMessages(s.session.Chain(), req.JointAnglesDeg, timeNow())
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, pose)
}

func (s *webServer) handleIK(w http.ResponseWriter, r *http.Request) {
	var req IKRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	chain := s.session.Chain()
	target := kinematics.PositionPose(req.X, req.Y, req.Z)
	var seed kinematics.JointVector
	if len(req.SeedDeg) > 0 {
		seed = kinematics.Radians(req.SeedDeg)
	}

	q, err := s.solver.Solve(r.Context(), chain, target, seed)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	p, err := chain.Position(q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, IKResponse{
		JointAnglesDeg: q.Degrees(),
		JointAnglesRad: []float64(q),
		ResidualMM:     r3.Norm(r3.Sub(p, target.Position)),
	})
}

// statusFor maps kinematics errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, kinematics.ErrUnreachable), errors.Is(err, kinematics.ErrNoConvergence):
		return http.StatusUnprocessableEntity
	case errors.Is(err, kinematics.ErrJointCount), errors.Is(err, kinematics.ErrDegenerate):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

// subscribe keeps the latest joint state and pose from the publisher.
func (s *webServer) subscribe(client mqtt.Client, cfg *config.Config) error {
	token := client.Subscribe(cfg.TopicJointStates, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var st JointState
		if err := json.Unmarshal(msg.Payload(), &st); err != nil {
			log.Printf("MQTT joint state unmarshal error: %v", err)
			return
		}
		s.setState(st)
	})
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("subscribed to MQTT topic %s", cfg.TopicJointStates)

	token = client.Subscribe(cfg.TopicPose, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var p PoseMessage
		if err := json.Unmarshal(msg.Payload(), &p); err != nil {
			log.Printf("MQTT pose unmarshal error: %v", err)
			return
		}
		s.setPose(p)
	})
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("subscribed to MQTT topic %s", cfg.TopicPose)
	return nil
}

// RunWeb serves the kinematics API, the calibration websocket and the static
// pages under ./web.
func RunWeb() error {
	cfg := config.Get()

	session, err := NewCalibrationSession(cfg)
	if err != nil {
		return err
	}
	solver, err := NewSolver(cfg)
	if err != nil {
		return err
	}
	srv := newWebServer(session, solver)

	// 1) Connect to MQTT broker
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDWeb)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("connected to MQTT broker at %s", cfg.MQTTBroker)

	// 2) Keep the latest joint state and pose
	if err := srv.subscribe(client, cfg); err != nil {
		return err
	}

	// 3) JSON API and calibration websocket
	mux := http.NewServeMux()
	srv.routes(mux)
	calib := &calibrationHandler{
		session: session,
		solver:  solver,
		read:    srv.latestJoints,
		cfg:     cfg,
		publish: mqttPublisher(client, cfg.TopicCalibration),
	}
	mux.HandleFunc("/ws/calibration", calib.HandleCalibrationWS)

	// 4) Static files from ./web as the root
	mux.Handle("/", http.FileServer(http.Dir("web")))

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}

// mqttPublisher returns a best-effort publisher for one topic.
func mqttPublisher(client mqtt.Client, topic string) func(v any) {
	return func(v any) {
		payload, err := json.Marshal(v)
		if err != nil {
			log.Printf("json marshal error (%s): %v", topic, err)
			return
		}
		if token := client.Publish(topic, 0, false, payload); token.Wait() && token.Error() != nil {
			log.Printf("MQTT publish error (%s): %v", topic, token.Error())
		}
	}
}
