// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/relabs-tech/arm_kinematics/internal/config"
	"github.com/relabs-tech/arm_kinematics/internal/servo"
)

// servoTimeout bounds one debug command.
const servoTimeout = 2 * time.Second

// ServoDebugCmd is a command from the servo debug page.
type ServoDebugCmd struct {
	Action string `json:"action"` // scan, ping, read, write, torque
	ID     int    `json:"id"`
	IDs    []int  `json:"ids,omitempty"` // for scan; defaults to SERVO_IDS
	Steps  int    `json:"steps,omitempty"`
	Speed  int    `json:"speed,omitempty"`
	On     bool   `json:"on,omitempty"`
}

// ServoResponse reports the outcome of a debug command.
type ServoResponse struct {
	Type      string       `json:"type"` // servo_data, scan, status, error
	ID        int          `json:"id,omitempty"`
	Steps     int          `json:"steps,omitempty"`
	Degrees   float64      `json:"degrees,omitempty"`
	Online    map[int]bool `json:"online,omitempty"`
	Message   string       `json:"message,omitempty"`
	Timestamp string       `json:"timestamp,omitempty"`
}

// ServoDebugger runs raw bus commands for bring-up and diagnosis.
type ServoDebugger struct {
	bus *servo.Bus
	ids []int

	// mu keeps one command on the line at a time across clients.
	mu sync.Mutex
}

// NewServoDebugger opens the configured servo line.
func NewServoDebugger(cfg *config.Config) (*ServoDebugger, func() error, error) {
	bus, closer, err := openBus(cfg)
	if err != nil {
		return nil, nil, err
	}
	return &ServoDebugger{bus: bus, ids: cfg.ServoIDs}, closer.Close, nil
}

// HandleServoDebugWS handles the WebSocket connection for servo debugging.
func (d *ServoDebugger) HandleServoDebugWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("servo_debug: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	for {
		var cmd ServoDebugCmd
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("servo_debug: websocket error: %v", err)
			}
			return
		}
		if err := conn.WriteJSON(d.handle(r.Context(), cmd)); err != nil {
			log.Printf("servo_debug: websocket write error: %v", err)
			return
		}
	}
}

func (d *ServoDebugger) handle(ctx context.Context, cmd ServoDebugCmd) ServoResponse {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cmd.Action == "scan" {
		return d.scan(ctx, cmd.IDs)
	}

	if cmd.ID < 0 || cmd.ID >= servo.BroadcastID {
		return servoError(fmt.Errorf("invalid servo id %d", cmd.ID))
	}
	id := byte(cmd.ID)
	ctx, cancel := context.WithTimeout(ctx, servoTimeout)
	defer cancel()

	switch cmd.Action {
	case "ping":
		if err := d.bus.Ping(ctx, id); err != nil {
			return servoError(err)
		}
		return ServoResponse{Type: "status", ID: cmd.ID, Message: "online", Timestamp: stamp()}

	case "read":
		steps, err := d.bus.ReadPosition(ctx, id)
		if err != nil {
			return servoError(err)
		}
		return ServoResponse{
			Type:      "servo_data",
			ID:        cmd.ID,
			Steps:     steps,
			Degrees:   servo.StepsToDegrees(steps),
			Timestamp: stamp(),
		}

	case "write":
		speed := cmd.Speed
		if speed <= 0 {
			speed = servo.DefaultSpeed
		}
		if err := d.bus.WritePosition(ctx, id, cmd.Steps, speed, servo.DefaultAcc); err != nil {
			return servoError(err)
		}
		log.Printf("servo_debug: servo %d goal %d steps at %d steps/s", cmd.ID, cmd.Steps, speed)
		return ServoResponse{Type: "status", ID: cmd.ID, Steps: cmd.Steps, Message: "written", Timestamp: stamp()}

	case "torque":
		if err := d.bus.SetTorque(ctx, id, cmd.On); err != nil {
			return servoError(err)
		}
		state := "released"
		if cmd.On {
			state = "enabled"
		}
		return ServoResponse{Type: "status", ID: cmd.ID, Message: "torque " + state, Timestamp: stamp()}
	}
	return servoError(fmt.Errorf("unknown action: %s", cmd.Action))
}

func (d *ServoDebugger) scan(ctx context.Context, ids []int) ServoResponse {
	if len(ids) == 0 {
		ids = d.ids
	}
	online := make(map[int]bool, len(ids))
	for _, id := range ids {
		if id < 0 || id >= servo.BroadcastID {
			continue
		}
		pctx, cancel := context.WithTimeout(ctx, servoTimeout)
		online[id] = d.bus.Ping(pctx, byte(id)) == nil
		cancel()
	}
	return ServoResponse{Type: "scan", Online: online, Timestamp: stamp()}
}

func servoError(err error) ServoResponse {
	return ServoResponse{Type: "error", Message: err.Error()}
}

func stamp() string {
	return timeNow().Format(time.RFC3339)
}
