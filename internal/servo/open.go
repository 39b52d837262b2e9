// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package servo

import (
	"io"

	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
)

// readTimeoutMS bounds how long a read waits for the next byte. A servo that
// does not answer shows up as io.EOF after this long.
const readTimeoutMS = 100

// Open opens the servo serial line, 8N1.
func Open(portName string, baudRate int) (io.ReadWriteCloser, error) {
	options := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              uint(baudRate),
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		MinimumReadSize:       0,
		InterCharacterTimeout: readTimeoutMS,
	}
	port, err := serial.Open(options)
	if err != nil {
		return nil, errors.Wrapf(err, "servo: open %s", portName)
	}
	return port, nil
}
