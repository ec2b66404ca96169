// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WSOptions configures the WebSocket wire to the gateway.
type WSOptions struct {
	URL           string
	Username      string
	Password      string
	SkipSSLVerify bool
}

// WSLink carries gateway envelopes over a WebSocket: one CBOR envelope
// per binary message, no extra framing.
type WSLink struct {
	conn   *websocket.Conn
	log    zerolog.Logger
	events chan Envelope

	writeMu sync.Mutex

	done     chan struct{}
	doneOnce sync.Once
}

// DialWSLink connects to the gateway with optional HTTP Basic auth and
// starts the read pump.
func DialWSLink(ctx context.Context, opts WSOptions, log zerolog.Logger) (*WSLink, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme %q (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: opts.SkipSSLVerify,
		}
	}

	headers := http.Header{}
	if opts.Username != "" && opts.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	conn, resp, err := dialer.DialContext(ctx, opts.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("gateway handshake failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("gateway dial failed: %w", err)
	}

	l := &WSLink{
		conn:   conn,
		log:    log.With().Str("gateway", opts.URL).Logger(),
		events: make(chan Envelope, 32),
		done:   make(chan struct{}),
	}
	go l.readLoop()
	return l, nil
}

func (l *WSLink) readLoop() {
	defer close(l.events)

	for {
		messageType, data, err := l.conn.ReadMessage()
		if err != nil {
			select {
			case <-l.done:
			default:
				l.log.Error().Err(err).Msg("gateway read failed")
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		env, err := DecodeEnvelope(data)
		if err != nil {
			l.log.Warn().Err(err).Msg("envelope rejected")
			continue
		}

		select {
		case l.events <- env:
		case <-l.done:
			return
		}
	}
}

func (l *WSLink) Send(env Envelope) error {
	payload, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := l.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return fmt.Errorf("gateway write: %w", err)
	}
	return nil
}

func (l *WSLink) Events() <-chan Envelope { return l.events }

func (l *WSLink) Close() error {
	l.doneOnce.Do(func() { close(l.done) })
	return l.conn.Close()
}
