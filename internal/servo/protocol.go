// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package servo speaks the Feetech SMS/STS half-duplex serial protocol used by
// the arm's joint servos and maps servo steps to corrected joint degrees.
//
// Packet layout, both directions:
//
//	0xFF 0xFF id length instruction|status params... checksum
//
// length counts the instruction byte, the params and the checksum.
// checksum is the inverted low byte of the sum of id through the last param.
package servo

import (
	"io"
	"math"

	"github.com/pkg/errors"
)

const (
	header      = 0xFF
	BroadcastID = 0xFE
)

// Instructions.
const (
	InstPing      = 0x01
	InstRead      = 0x02
	InstWrite     = 0x03
	InstSyncWrite = 0x83
)

// Control table addresses.
const (
	AddrTorqueEnable    = 40
	AddrAcceleration    = 41
	AddrGoalPosition    = 42
	AddrGoalSpeed       = 46
	AddrPresentPosition = 56
)

// Step and motion ranges.
const (
	StepsPerRev    = 4096
	CenterSteps    = 2048
	MaxPosition    = StepsPerRev - 1
	MaxSpeed       = 2400 // steps/s
	MaxAcc         = 254
	DefaultSpeed   = 1500
	DefaultAcc     = 50
	MaxStepChange  = 500 // per command
	maxHeaderScan  = 64
	goalDataLength = 7 // acc, pos L/H, time L/H, speed L/H
)

var (
	// ErrTimeout is returned when a servo does not answer in time.
	ErrTimeout = errors.New("servo: no response")
	// ErrChecksum is returned for a response whose checksum does not match.
	ErrChecksum = errors.New("servo: checksum mismatch")
	// ErrBadPacket is returned for a malformed response or request.
	ErrBadPacket = errors.New("servo: malformed packet")
)

// Checksum returns the packet checksum for the bytes from id through the
// last param.
func Checksum(body []byte) byte {
	var sum int
	for _, b := range body {
		sum += int(b)
	}
	return byte(^sum & 0xFF)
}

// EncodePacket builds an instruction packet.
func EncodePacket(id, instruction byte, params []byte) []byte {
	pkt := make([]byte, 0, len(params)+6)
	pkt = append(pkt, header, header, id, byte(len(params)+2), instruction)
	pkt = append(pkt, params...)
	return append(pkt, Checksum(pkt[2:]))
}

// Response is a status packet sent back by a servo.
type Response struct {
	ID     byte
	Status byte // error bits, zero when healthy
	Params []byte
}

// ReadResponse reads one status packet from r, skipping any noise before the
// header. A read that ends early is reported as ErrTimeout.
func ReadResponse(r io.Reader) (Response, error) {
	var one [1]byte
	next := func() (byte, error) {
		if _, err := io.ReadFull(r, one[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return 0, ErrTimeout
			}
			return 0, errors.Wrap(err, "servo: read")
		}
		return one[0], nil
	}

	// Find 0xFF 0xFF. A run of 0xFF keeps the last two as the header.
	prev := byte(0)
	found := false
	for i := 0; i < maxHeaderScan; i++ {
		b, err := next()
		if err != nil {
			return Response{}, err
		}
		if prev == header && b == header {
			found = true
			break
		}
		prev = b
	}
	if !found {
		return Response{}, errors.Wrap(ErrBadPacket, "no header")
	}

	id, err := next()
	for err == nil && id == header {
		id, err = next()
	}
	if err != nil {
		return Response{}, err
	}
	length, err := next()
	if err != nil {
		return Response{}, err
	}
	if length < 2 {
		return Response{}, errors.Wrapf(ErrBadPacket, "length %d", length)
	}

	rest := make([]byte, length)
	if _, err := io.ReadFull(r, rest); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Response{}, ErrTimeout
		}
		return Response{}, errors.Wrap(err, "servo: read")
	}

	body := append([]byte{id, length}, rest[:length-1]...)
	if Checksum(body) != rest[length-1] {
		return Response{}, errors.Wrapf(ErrChecksum, "servo %d", id)
	}
	return Response{ID: id, Status: rest[0], Params: rest[1 : length-1]}, nil
}

// goalData returns the seven bytes written from AddrAcceleration: acc,
// position, an unused time field and speed, all little endian. Values are
// clamped to the servo's ranges.
func goalData(position, speed, acc int) []byte {
	position = clampInt(position, 0, MaxPosition)
	speed = clampInt(speed, 0, MaxSpeed)
	acc = clampInt(acc, 0, MaxAcc)
	return []byte{
		byte(acc),
		byte(position & 0xFF), byte(position >> 8 & 0xFF),
		0, 0,
		byte(speed & 0xFF), byte(speed >> 8 & 0xFF),
	}
}

// WritePositionParams returns the params of a WRITE instruction that sets a
// goal position.
func WritePositionParams(position, speed, acc int) []byte {
	return append([]byte{AddrAcceleration}, goalData(position, speed, acc)...)
}

// DegreesToSteps maps an angle onto 0..4095 steps, 2048 being 180 degrees.
// Angles are taken modulo 360.
func DegreesToSteps(deg float64) int {
	n := math.Mod(deg, 360)
	if n < 0 {
		n += 360
	}
	steps := int(math.RoundToEven(n / 360 * StepsPerRev))
	if steps >= StepsPerRev {
		steps = MaxPosition
	}
	return steps
}

// StepsToDegrees maps steps to an angle in (-180, 180].
func StepsToDegrees(steps int) float64 {
	deg := float64(steps) / StepsPerRev * 360
	if deg > 180 {
		deg -= 360
	}
	return deg
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
