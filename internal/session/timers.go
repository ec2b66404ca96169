// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"time"
)

// rearmIdleLocked resets the idle-disconnect timer after a command.
// Requires mu. A device that is on keeps its link open indefinitely, so
// the timer is only armed while the device is off.
func (s *Session) rearmIdleLocked() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	if s.shuttingDown.Load() || s.state.IsOn {
		return
	}
	s.idleTimer = time.AfterFunc(s.cfg.IdleTimeout, s.idleFire)
}

func (s *Session) stopIdleTimer() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

// idleFire closes an idle link. The power state is re-checked under the
// lock: a command that turned the device on after the timer was armed
// wins, and the link stays up.
func (s *Session) idleFire() {
	if s.shuttingDown.Load() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.IsOn || !s.transport.Connected() {
		return
	}
	s.log.Info().Msg("idle timeout, disconnecting")
	s.teardownLink()
	s.publishLocked()
}

// backoffDelay returns the wait before reconnect attempt n (1-based):
// base doubling per attempt, capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt > 30 {
		return max
	}
	d := base << (attempt - 1)
	if d > max || d <= 0 {
		return max
	}
	return d
}

// startReconnect launches the reconnect loop unless one is already
// running.
func (s *Session) startReconnect() {
	s.timerMu.Lock()
	if s.reconnecting || s.shuttingDown.Load() {
		s.timerMu.Unlock()
		return
	}
	s.reconnecting = true
	s.timerMu.Unlock()

	go s.reconnectLoop()
}

func (s *Session) resetReconnectState() {
	s.timerMu.Lock()
	s.reconnecting = false
	s.timerMu.Unlock()
}

// reconnectLoop retries the link with exponential backoff after an
// unexpected drop while the device was on. Both the shutdown flag and
// the power state are re-checked before every attempt; exhausting the
// attempt budget gives up until the next command or presence sighting.
func (s *Session) reconnectLoop() {
	defer func() {
		s.timerMu.Lock()
		s.reconnecting = false
		s.timerMu.Unlock()
	}()

	for attempt := 1; attempt <= s.cfg.ReconnectAttempts; attempt++ {
		delay := backoffDelay(attempt, s.cfg.ReconnectBase, s.cfg.ReconnectMax)

		select {
		case <-s.done:
			return
		case <-time.After(delay):
		}
		if s.shuttingDown.Load() {
			return
		}

		s.mu.Lock()
		if !s.state.IsOn {
			s.mu.Unlock()
			return
		}
		err := s.ensureConnected(context.Background())
		s.publishLocked()
		s.mu.Unlock()

		if err == nil {
			s.log.Info().Int("attempt", attempt).Msg("reconnected")
			return
		}
		s.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
	}

	s.log.Error().Int("attempts", s.cfg.ReconnectAttempts).Msg("reconnect abandoned")
}
