// SPDX-License-Identifier: Apache-2.0

package bridge

import "fmt"

// Serial wire framing for gateway envelopes. Each frame is
// START, stuffed(length byte + envelope + CRC-16), END. Device
// addressing lives inside the envelope payload, not the framing.
const (
	startByte = 0x7E
	endByte   = 0x7F
	escByte   = 0x7D
	escXor    = 0x20

	maxFrameSize   = 512
	maxEnvelopeLen = 255
)

// CRC-16-CCITT configuration.
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// crc16 computes the CRC-16-CCITT checksum of data.
func crc16(data []byte) uint16 {
	crc := uint16(crcInitial)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// EncodeFrame wraps one encoded envelope in serial framing: length,
// payload, CRC, byte-stuffed between START and END markers.
func EncodeFrame(envelope []byte) ([]byte, error) {
	if len(envelope) > maxEnvelopeLen {
		return nil, fmt.Errorf("envelope too large: %d bytes (max %d)", len(envelope), maxEnvelopeLen)
	}

	data := make([]byte, 0, len(envelope)+3)
	data = append(data, byte(len(envelope)))
	data = append(data, envelope...)

	crc := crc16(data)
	data = append(data, byte(crc>>8), byte(crc&0xFF))

	frame := make([]byte, 0, len(data)*2+2)
	frame = append(frame, startByte)
	for _, b := range data {
		if b == startByte || b == endByte || b == escByte {
			frame = append(frame, escByte, b^escXor)
		} else {
			frame = append(frame, b)
		}
	}
	frame = append(frame, endByte)
	return frame, nil
}

// Decoder states.
const (
	stateIdle = iota
	stateLength
	statePayload
	stateCRC1
	stateCRC2
)

// FrameDecoder is a per-byte state machine recovering envelopes from a
// serial stream. Garbage before the first START byte is skipped, so the
// decoder can join a stream mid-frame and resynchronize.
type FrameDecoder struct {
	state      int
	escapeNext bool
	length     int
	payload    []byte
	crc        uint16
	checked    []byte
}

func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{checked: make([]byte, 0, maxFrameSize)}
}

// Reset drops any partial frame and returns the decoder to idle.
func (d *FrameDecoder) Reset() {
	d.state = stateIdle
	d.escapeNext = false
	d.length = 0
	d.payload = nil
	d.crc = 0
	d.checked = d.checked[:0]
}

// DecodeByte feeds one wire byte through the state machine. It returns
// a complete envelope payload, nil while a frame is in progress, or an
// error when the frame is rejected.
func (d *FrameDecoder) DecodeByte(b byte) ([]byte, error) {
	if b == escByte && !d.escapeNext {
		d.escapeNext = true
		return nil, nil
	}

	escaped := d.escapeNext
	if escaped {
		b ^= escXor
		d.escapeNext = false
	}

	if !escaped && b == startByte {
		// A START mid-frame abandons the partial frame.
		d.Reset()
		d.state = stateLength
		return nil, nil
	}
	if !escaped && b == endByte {
		if d.state != stateCRC2 {
			state := d.state
			d.Reset()
			if state == stateIdle {
				return nil, nil
			}
			return nil, fmt.Errorf("unexpected end of frame in state %d", state)
		}
		if got := crc16(d.checked); got != d.crc {
			err := fmt.Errorf("frame CRC mismatch: calculated 0x%04X, received 0x%04X", got, d.crc)
			d.Reset()
			return nil, err
		}
		envelope := d.payload
		d.Reset()
		return envelope, nil
	}

	switch d.state {
	case stateIdle:
		// Noise between frames.
		return nil, nil

	case stateLength:
		d.length = int(b)
		d.payload = make([]byte, 0, d.length)
		d.checked = append(d.checked, b)
		if d.length == 0 {
			d.state = stateCRC1
		} else {
			d.state = statePayload
		}
		return nil, nil

	case statePayload:
		if len(d.checked) >= maxFrameSize {
			d.Reset()
			return nil, fmt.Errorf("frame exceeds %d bytes", maxFrameSize)
		}
		d.payload = append(d.payload, b)
		d.checked = append(d.checked, b)
		if len(d.payload) >= d.length {
			d.state = stateCRC1
		}
		return nil, nil

	case stateCRC1:
		d.crc = uint16(b) << 8
		d.state = stateCRC2
		return nil, nil

	case stateCRC2:
		d.crc |= uint16(b)
		// Hold for the END byte.
		return nil, nil

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid decoder state %d", d.state)
	}
}
