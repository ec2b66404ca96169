// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

// SerialLink carries gateway envelopes over a serial port, one framed
// envelope per wire frame.
type SerialLink struct {
	port   serial.Port
	log    zerolog.Logger
	events chan Envelope

	writeMu sync.Mutex

	done     chan struct{}
	doneOnce sync.Once
}

// OpenSerialLink opens the port at 8N1 and starts the read pump.
func OpenSerialLink(portName string, baudRate int, log zerolog.Logger) (*SerialLink, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portName, err)
	}

	l := &SerialLink{
		port:   port,
		log:    log.With().Str("port", portName).Logger(),
		events: make(chan Envelope, 32),
		done:   make(chan struct{}),
	}
	go l.readLoop()
	return l, nil
}

func (l *SerialLink) readLoop() {
	defer close(l.events)

	decoder := NewFrameDecoder()
	buf := make([]byte, 128)
	for {
		select {
		case <-l.done:
			return
		default:
		}

		n, err := l.port.Read(buf)
		if err != nil {
			select {
			case <-l.done:
			default:
				l.log.Error().Err(err).Msg("serial read failed")
			}
			return
		}
		if n == 0 {
			// Port timeout on some platforms; back off briefly.
			time.Sleep(10 * time.Millisecond)
			continue
		}

		for _, b := range buf[:n] {
			payload, err := decoder.DecodeByte(b)
			if err != nil {
				l.log.Warn().Err(err).Msg("frame rejected")
				continue
			}
			if payload == nil {
				continue
			}
			env, err := DecodeEnvelope(payload)
			if err != nil {
				l.log.Warn().Err(err).Msg("envelope rejected")
				continue
			}
			l.events <- env
		}
	}
}

func (l *SerialLink) Send(env Envelope) error {
	payload, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if _, err := l.port.Write(frame); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	return nil
}

func (l *SerialLink) Events() <-chan Envelope { return l.events }

func (l *SerialLink) Close() error {
	l.doneOnce.Do(func() { close(l.done) })
	return l.port.Close()
}
