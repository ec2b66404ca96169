// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Link is one wire to the gateway process: serial or WebSocket. Events
// is closed when the wire dies; the link is not reusable afterwards.
type Link interface {
	Send(env Envelope) error
	Events() <-chan Envelope
	Close() error
}

// ErrGatewayGone is reported when the wire to the gateway itself drops,
// as opposed to the gateway reporting a device disconnect.
var ErrGatewayGone = errors.New("gateway link lost")

// Presence is one advertisement sighting relayed by the gateway.
type Presence struct {
	Address string
	Signal  int
	Seen    time.Time
}

// Mux owns the gateway wire and fans its events out to per-device
// clients by the address key. Every gateway-to-host envelope carries
// the device address; envelopes without one are dropped here.
type Mux struct {
	link Link
	log  zerolog.Logger

	mu      sync.Mutex
	clients map[string]*Client
	lost    bool
}

// NewMux starts routing events from the link.
func NewMux(link Link, log zerolog.Logger) *Mux {
	m := &Mux{
		link:    link,
		log:     log,
		clients: make(map[string]*Client),
	}
	go m.run()
	return m
}

// Client returns the client for a device address, creating it on first
// use. One client exists per address for the lifetime of the mux.
func (m *Mux) Client(address string) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.clients[address]; ok {
		return c
	}
	c := &Client{
		link:     m.link,
		address:  address,
		log:      m.log.With().Str("device", address).Logger(),
		notif:    make(chan []byte, 32),
		drops:    make(chan error, 4),
		presence: make(chan Presence, 16),
	}
	m.clients[address] = c
	if m.lost {
		c.wireLost()
	}
	return c
}

func (m *Mux) run() {
	for env := range m.link.Events() {
		m.route(env)
	}
	m.wireLost()
}

func (m *Mux) route(env Envelope) {
	addr, ok := env.String(KeyAddress)
	if !ok {
		if env.Type == EventError {
			reason, _ := env.String(KeyReason)
			m.log.Warn().Str("reason", reason).Msg("gateway error")
			return
		}
		m.log.Warn().Uint8("event", env.Type).Msg("gateway event without device address")
		return
	}

	m.mu.Lock()
	c := m.clients[addr]
	m.mu.Unlock()
	if c == nil {
		m.log.Debug().Str("device", addr).Uint8("event", env.Type).Msg("event for unmanaged device")
		return
	}
	c.handle(env)
}

// wireLost tears every client down when the gateway wire itself dies.
func (m *Mux) wireLost() {
	m.mu.Lock()
	m.lost = true
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	m.log.Error().Msg("gateway link lost")
	for _, c := range clients {
		c.wireLost()
	}
}

// Close shuts the wire down. Clients observe it as a lost wire.
func (m *Mux) Close() error {
	return m.link.Close()
}

// Client drives one device through the gateway and implements the
// transport contract the session expects. Events arrive via the mux;
// the client never reads the wire itself.
type Client struct {
	link    Link
	address string
	log     zerolog.Logger

	notif    chan []byte
	drops    chan error
	presence chan Presence

	mu            sync.Mutex
	connected     bool
	closed        bool
	connectResult chan error
}

// wireLost closes the outbound channels so consumers stop cleanly. The
// final drop cause is queued before the close.
func (c *Client) wireLost() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.connected = false
	if c.connectResult != nil {
		c.connectResult <- ErrGatewayGone
		c.connectResult = nil
	}
	c.mu.Unlock()

	select {
	case c.drops <- ErrGatewayGone:
	default:
	}
	close(c.notif)
	close(c.drops)
	close(c.presence)
}

func (c *Client) handle(env Envelope) {
	switch env.Type {
	case EventConnected:
		c.mu.Lock()
		c.connected = true
		if c.connectResult != nil {
			c.connectResult <- nil
			c.connectResult = nil
		}
		c.mu.Unlock()

	case EventError:
		reason, _ := env.String(KeyReason)
		c.mu.Lock()
		waiter := c.connectResult
		c.connectResult = nil
		c.mu.Unlock()
		if waiter != nil {
			waiter <- fmt.Errorf("gateway: %s", reason)
			return
		}
		c.log.Warn().Str("reason", reason).Msg("gateway error")

	case EventDisconnected:
		reason, _ := env.String(KeyReason)
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		select {
		case c.drops <- fmt.Errorf("device disconnected: %s", reason):
		default:
		}

	case EventNotify:
		data, ok := env.Bytes(KeyData)
		if !ok {
			c.log.Warn().Msg("notify event without data")
			return
		}
		select {
		case c.notif <- data:
		default:
			c.log.Warn().Msg("notification buffer full, frame dropped")
		}

	case EventPresence:
		signal, _ := env.Int(KeySignal)
		ts, _ := env.Int(KeyTimestamp)
		seen := time.Now()
		if ts > 0 {
			seen = time.Unix(ts, 0)
		}
		select {
		case c.presence <- Presence{Address: c.address, Signal: int(signal), Seen: seen}:
		default:
		}

	default:
		c.log.Debug().Uint8("event", env.Type).Msg("unhandled gateway event")
	}
}

// Connect asks the gateway to open the device link and waits for the
// acknowledgement.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrGatewayGone
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	result := make(chan error, 1)
	c.connectResult = result
	c.mu.Unlock()

	err := c.link.Send(Envelope{
		Type:    EventConnect,
		Payload: map[int]interface{}{KeyAddress: c.address},
	})
	if err != nil {
		c.clearConnectWaiter(result)
		return fmt.Errorf("connect request: %w", err)
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		c.clearConnectWaiter(result)
		return ctx.Err()
	}
}

func (c *Client) clearConnectWaiter(result chan error) {
	c.mu.Lock()
	if c.connectResult == result {
		c.connectResult = nil
	}
	c.mu.Unlock()
}

// Disconnect asks the gateway to drop the device link. The gateway
// confirms with a disconnected event.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	connected := c.connected
	c.connected = false
	c.mu.Unlock()
	if !connected {
		return nil
	}
	return c.link.Send(Envelope{
		Type:    EventDisconnect,
		Payload: map[int]interface{}{KeyAddress: c.address},
	})
}

// Write relays one command frame to the device characteristic.
func (c *Client) Write(p []byte) error {
	return c.link.Send(Envelope{
		Type: EventWrite,
		Payload: map[int]interface{}{
			KeyAddress: c.address,
			KeyData:    p,
		},
	})
}

func (c *Client) Notifications() <-chan []byte { return c.notif }
func (c *Client) Disconnects() <-chan error    { return c.drops }

// Presences delivers advertisement sightings for the device.
func (c *Client) Presences() <-chan Presence { return c.presence }

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
