// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Transport is the link the session drives. Implementations live in
// internal/bridge; the session never opens or closes anything else.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Write(p []byte) error

	// Notifications delivers inbound frames for the life of the
	// transport, across reconnects. Closed only on final teardown.
	Notifications() <-chan []byte

	// Disconnects delivers one event per link drop the session did not
	// ask for. Closed only on final teardown.
	Disconnects() <-chan error

	Connected() bool
}

// Executor writes command frames and matches each to its response
// notification through a single-slot waiter. It is not reentrant; the
// session serializes all use externally.
type Executor struct {
	transport Transport
	log       zerolog.Logger

	mu         sync.Mutex
	waiter     chan []byte
	collecting bool
	burst      [][]byte
	last       []byte
}

func NewExecutor(t Transport, log zerolog.Logger) *Executor {
	return &Executor{transport: t, log: log}
}

// HandleNotification routes one inbound frame: to the pending waiter if
// one is armed, into the burst buffer while collecting, and always into
// the last-response slot.
func (e *Executor) HandleNotification(data []byte) {
	frame := make([]byte, len(data))
	copy(frame, data)

	e.mu.Lock()
	e.last = frame
	if e.collecting {
		e.burst = append(e.burst, frame)
	}
	w := e.waiter
	e.waiter = nil
	e.mu.Unlock()

	if w != nil {
		w <- frame
	}
}

// Execute writes frame and, when expectResponse is set, waits for the
// next notification up to timeout. A timeout is a soft miss: the result
// is (nil, nil), not an error.
func (e *Executor) Execute(ctx context.Context, frame []byte, expectResponse bool, timeout time.Duration) ([]byte, error) {
	if !expectResponse {
		if err := e.transport.Write(frame); err != nil {
			return nil, fmt.Errorf("write command 0x%02X: %w", frame[0], err)
		}
		return nil, nil
	}

	w := make(chan []byte, 1)
	e.mu.Lock()
	e.waiter = w
	e.mu.Unlock()

	if err := e.transport.Write(frame); err != nil {
		e.clearWaiter(w)
		return nil, fmt.Errorf("write command 0x%02X: %w", frame[0], err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-w:
		return resp, nil
	case <-timer.C:
		e.clearWaiter(w)
		// A notification may have won the race before the waiter was
		// cleared; the buffered slot still holds it.
		select {
		case resp := <-w:
			return resp, nil
		default:
		}
		e.log.Debug().Hex("cmd", frame[:1]).Msg("command response timeout")
		return nil, nil
	case <-ctx.Done():
		e.clearWaiter(w)
		return nil, ctx.Err()
	}
}

func (e *Executor) clearWaiter(w chan []byte) {
	e.mu.Lock()
	if e.waiter == w {
		e.waiter = nil
	}
	e.mu.Unlock()
}

// StartBurst begins buffering every inbound frame, in arrival order.
func (e *Executor) StartBurst() {
	e.mu.Lock()
	e.collecting = true
	e.burst = nil
	e.mu.Unlock()
}

// StopBurst ends collection and returns the buffered frames.
func (e *Executor) StopBurst() [][]byte {
	e.mu.Lock()
	frames := e.burst
	e.collecting = false
	e.burst = nil
	e.mu.Unlock()
	return frames
}

// LastResponse returns the most recent notification, waited-on or not.
func (e *Executor) LastResponse() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}
