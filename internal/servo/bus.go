// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package servo

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// maxStaleReplies is how many foreign status packets a read skips before it
// gives up on the reply it is waiting for.
const maxStaleReplies = 8

// Bus serializes instruction/response exchanges on one half-duplex line.
type Bus struct {
	mu   sync.Mutex
	port io.ReadWriter
}

// NewBus wraps an open port. The port's reads must time out, returning
// io.EOF or a short read, or a missing servo blocks the bus.
func NewBus(port io.ReadWriter) *Bus {
	return &Bus{port: port}
}

// Goal is one servo's entry in a synchronized write.
type Goal struct {
	ID       byte
	Position int
	Speed    int
	Acc      int
}

func (b *Bus) send(ctx context.Context, id, instruction byte, params []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.port.Write(EncodePacket(id, instruction, params)); err != nil {
		return errors.Wrapf(err, "servo %d: write", id)
	}
	return nil
}

// reply waits for the response from id. Status packets from other servos,
// and short packets left over from earlier writes, are skipped.
func (b *Bus) reply(ctx context.Context, id byte, minParams int) (Response, error) {
	for i := 0; i < maxStaleReplies; i++ {
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}
		resp, err := ReadResponse(b.port)
		if err != nil {
			return Response{}, errors.Wrapf(err, "servo %d", id)
		}
		if resp.ID == id && len(resp.Params) >= minParams {
			return resp, nil
		}
	}
	return Response{}, errors.Wrapf(ErrTimeout, "servo %d: no matching reply", id)
}

// Ping checks that a servo answers.
func (b *Bus) Ping(ctx context.Context, id byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.send(ctx, id, InstPing, nil); err != nil {
		return err
	}
	_, err := b.reply(ctx, id, 0)
	return err
}

// ReadPosition returns the present position of a servo in steps.
func (b *Bus) ReadPosition(ctx context.Context, id byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.send(ctx, id, InstRead, []byte{AddrPresentPosition, 2}); err != nil {
		return 0, err
	}
	resp, err := b.reply(ctx, id, 2)
	if err != nil {
		return 0, err
	}
	return int(resp.Params[0]) | int(resp.Params[1])<<8, nil
}

// WritePosition sets one servo's goal. The servo's status reply is not
// awaited; a later read skips it.
func (b *Bus) WritePosition(ctx context.Context, id byte, position, speed, acc int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.send(ctx, id, InstWrite, WritePositionParams(position, speed, acc))
}

// SyncWritePositions sets every goal in one broadcast packet so the joints
// start together. Broadcast packets get no reply.
func (b *Bus) SyncWritePositions(ctx context.Context, goals []Goal) error {
	if len(goals) == 0 {
		return nil
	}
	params := make([]byte, 0, 2+len(goals)*(goalDataLength+1))
	params = append(params, AddrAcceleration, goalDataLength)
	for _, g := range goals {
		params = append(params, g.ID)
		params = append(params, goalData(g.Position, g.Speed, g.Acc)...)
	}
	if len(params)+2 > 0xFF {
		return errors.Wrapf(ErrBadPacket, "sync write of %d servos does not fit a packet", len(goals))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.send(ctx, BroadcastID, InstSyncWrite, params)
}

// SetTorque enables or releases a servo's holding torque.
func (b *Bus) SetTorque(ctx context.Context, id byte, on bool) error {
	v := byte(0)
	if on {
		v = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.send(ctx, id, InstWrite, []byte{AddrTorqueEnable, v})
}
