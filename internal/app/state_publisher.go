// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/relabs-tech/arm_kinematics/internal/config"
	"github.com/relabs-tech/arm_kinematics/internal/kinematics"
)

// JointState is the payload published on the joint states topic.
type JointState struct {
	Timestamp string    `json:"timestamp"`
	Degrees   []float64 `json:"joint_angles_deg"`
	Radians   []float64 `json:"joint_angles_rad"`
}

// PoseMessage is the tool pose computed from a joint state.
type PoseMessage struct {
	Timestamp string             `json:"timestamp"`
	X         float64            `json:"x"`
	Y         float64            `json:"y"`
	Z         float64            `json:"z"`
	Rotation  kinematics.Rotation `json:"rotation"`
}

// buildMessages converts corrected joint degrees into the published joint
// state and pose. Joints beyond the chain are reported but not used for FK.
func buildMessages(chain *kinematics.Chain, deg []float64, t time.Time) (JointState, PoseMessage, error) {
	ts := t.UTC().Format(time.RFC3339Nano)
	q := kinematics.Radians(deg)
	state := JointState{
		Timestamp: ts,
		Degrees:   append([]float64(nil), deg...),
		Radians:   []float64(q),
	}

	if len(q) > chain.Joints() {
		q = q[:chain.Joints()]
	}
	pose, err := chain.Forward(q)
	if err != nil {
		return state, PoseMessage{}, err
	}
	return state, PoseMessage{
		Timestamp: ts,
		X:         pose.Position.X,
		Y:         pose.Position.Y,
		Z:         pose.Position.Z,
		Rotation:  *pose.Orientation,
	}, nil
}

// RunStatePublisher reads the arm at PUBLISH_INTERVAL and publishes joint
// states and the forward kinematics pose until interrupted.
func RunStatePublisher() error {
	log.Println("starting arm state publisher")

	cfg := config.Get()

	arm, closeArm, err := OpenController(cfg)
	if err != nil {
		return err
	}
	defer closeArm()

	chain, err := LoadChain(cfg)
	if err != nil {
		return err
	}

	// --- connect to MQTT ---
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDPublisher)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)

	log.Printf("connected to MQTT at %s, publishing every %s", cfg.MQTTBroker, cfg.PublishPeriod())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.PublishPeriod())
	defer ticker.Stop()

	for {
		var t time.Time
		select {
		case <-sigCh:
			log.Println("state publisher: shutting down")
			return nil
		case t = <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.PublishPeriod())
		deg, err := arm.ReadJointDegrees(ctx)
		cancel()
		if err != nil {
			log.Printf("error reading joints: %v", err)
			continue
		}

		state, pose, err := buildMessages(chain, deg, t)

		payload, merr := json.Marshal(state)
		if merr != nil {
			log.Printf("json marshal error (joint state): %v", merr)
		} else if token := client.Publish(cfg.TopicJointStates, 0, false, payload); token.Wait() && token.Error() != nil {
			log.Printf("MQTT publish error (joint state): %v", token.Error())
			continue
		}

		if err != nil {
			log.Printf("forward kinematics error: %v", err)
			continue
		}
		payload, merr = json.Marshal(pose)
		if merr != nil {
			log.Printf("json marshal error (pose): %v", merr)
			continue
		}
		if token := client.Publish(cfg.TopicPose, 0, true, payload); token.Wait() && token.Error() != nil {
			log.Printf("MQTT publish error (pose): %v", token.Error())
		}
	}
}
