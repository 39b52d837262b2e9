// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/arm_kinematics/internal/servo"
)

// debugLine answers with queued status packets and records what was sent.
type debugLine struct {
	replies bytes.Buffer
	sent    bytes.Buffer
}

func (l *debugLine) Read(p []byte) (int, error)  { return l.replies.Read(p) }
func (l *debugLine) Write(p []byte) (int, error) { return l.sent.Write(p) }

func (l *debugLine) queue(id byte, params ...byte) {
	l.replies.Write(servo.EncodePacket(id, 0, params))
}

func newTestDebugger() (*ServoDebugger, *debugLine) {
	line := &debugLine{}
	return &ServoDebugger{bus: servo.NewBus(line), ids: []int{1, 2}}, line
}

func TestServoDebugScan(t *testing.T) {
	d, line := newTestDebugger()
	line.queue(1)

	resp := d.handle(context.Background(), ServoDebugCmd{Action: "scan"})
	require.Equal(t, "scan", resp.Type)
	assert.Equal(t, map[int]bool{1: true, 2: false}, resp.Online)
}

func TestServoDebugReadWrite(t *testing.T) {
	d, line := newTestDebugger()
	line.queue(2, 0x00, 0x08)

	resp := d.handle(context.Background(), ServoDebugCmd{Action: "read", ID: 2})
	require.Equal(t, "servo_data", resp.Type, resp.Message)
	assert.Equal(t, 2048, resp.Steps)
	assert.InDelta(t, 180.0, resp.Degrees, 1e-9)
	assert.NotEmpty(t, resp.Timestamp)

	line.sent.Reset()
	resp = d.handle(context.Background(), ServoDebugCmd{Action: "write", ID: 3, Steps: 1000})
	require.Equal(t, "status", resp.Type, resp.Message)
	want := servo.EncodePacket(3, servo.InstWrite, servo.WritePositionParams(1000, servo.DefaultSpeed, servo.DefaultAcc))
	assert.Equal(t, want, line.sent.Bytes())

	line.sent.Reset()
	resp = d.handle(context.Background(), ServoDebugCmd{Action: "torque", ID: 3, On: true})
	require.Equal(t, "status", resp.Type)
	assert.Equal(t, "torque enabled", resp.Message)
	assert.Equal(t, servo.EncodePacket(3, servo.InstWrite, []byte{servo.AddrTorqueEnable, 1}), line.sent.Bytes())
}

func TestServoDebugErrors(t *testing.T) {
	d, _ := newTestDebugger()

	resp := d.handle(context.Background(), ServoDebugCmd{Action: "ping", ID: 1})
	assert.Equal(t, "error", resp.Type)

	resp = d.handle(context.Background(), ServoDebugCmd{Action: "read", ID: servo.BroadcastID})
	assert.Equal(t, "error", resp.Type)
	assert.Contains(t, resp.Message, "invalid servo id")

	resp = d.handle(context.Background(), ServoDebugCmd{Action: "spin", ID: 1})
	assert.Equal(t, "error", resp.Type)
	assert.Contains(t, resp.Message, "unknown action")
}
