// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync"
	"time"

	"github.com/ttrushin/ha-aromatech-scent-diffuser/pkg/aromalink"
)

// Snapshot is the read-only view of a session handed to callers. The
// contained state is a deep copy; mutating it never reaches the session.
type Snapshot struct {
	Info  aromalink.DeviceInfo  `json:"info"`
	State aromalink.DeviceState `json:"state"`

	Connected     bool `json:"connected"`
	Authenticated bool `json:"authenticated"`

	LastSeen       time.Time `json:"lastSeen"`
	SignalStrength int       `json:"signalStrength"`
}

// Store holds the latest snapshot and fans updates out to subscribers.
// Subscriber channels carry capacity one and are overwritten, never
// blocked on: a slow reader sees the newest snapshot, not every one.
type Store struct {
	mu        sync.RWMutex
	snap      Snapshot
	listeners map[int]chan Snapshot
	nextID    int
}

func NewStore() *Store {
	return &Store{
		snap: Snapshot{
			Info:  aromalink.NewDeviceInfo(),
			State: aromalink.NewDeviceState(),
		},
		listeners: make(map[int]chan Snapshot),
	}
}

// Snapshot returns the current view.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snap
	snap.State = s.snap.State.Clone()
	return snap
}

// Update applies fn to the snapshot under the lock and publishes the
// result to all subscribers.
func (s *Store) Update(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	snap := s.snap
	snap.State = s.snap.State.Clone()
	for _, ch := range s.listeners {
		select {
		case ch <- snap:
		default:
			// Stale entry still queued; replace it.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
	s.mu.Unlock()
}

// Subscribe registers a snapshot feed. The returned cancel func must be
// called when the subscriber goes away.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	ch := make(chan Snapshot, 1)
	s.listeners[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
	return ch, cancel
}
