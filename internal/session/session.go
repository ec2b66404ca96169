// SPDX-License-Identifier: Apache-2.0

// Package session owns the link lifecycle for one diffuser: connect,
// authenticate, serialize commands, collect the post-login data burst,
// and run the idle-disconnect and reconnect timers.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ttrushin/ha-aromatech-scent-diffuser/pkg/aromalink"
)

// Config carries the per-device tunables. Zero values fall back to the
// defaults below.
type Config struct {
	Address  string
	Password string
	PairCode string

	// AromaSlot selects the aroma channel quick-power and intensity
	// writes target on multi-aroma devices.
	AromaSlot int

	CommandTimeout time.Duration
	LoginTimeout   time.Duration
	ConnectTimeout time.Duration
	ConnectRetries int

	// BurstSettle is how long to keep buffering after login before the
	// data burst is considered complete. The device never signals the
	// end of the burst, so this is a calibrated delay, not a protocol
	// guarantee.
	BurstSettle time.Duration

	IdleTimeout       time.Duration
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int
}

const (
	defaultCommandTimeout    = 5 * time.Second
	defaultLoginTimeout      = 2 * time.Second
	defaultConnectTimeout    = 15 * time.Second
	defaultConnectRetries    = 3
	defaultBurstSettle       = 3 * time.Second
	defaultIdleTimeout       = 30 * time.Minute
	defaultReconnectBase     = 5 * time.Second
	defaultReconnectMax      = 60 * time.Second
	defaultReconnectAttempts = 10
)

func (c Config) withDefaults() Config {
	if c.Password == "" {
		c.Password = aromalink.DefaultPassword
	}
	if c.PairCode == "" {
		c.PairCode = aromalink.PairCode
	}
	if c.AromaSlot == 0 {
		c.AromaSlot = aromalink.DefaultAromaSlot
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = defaultCommandTimeout
	}
	if c.LoginTimeout == 0 {
		c.LoginTimeout = defaultLoginTimeout
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.ConnectRetries == 0 {
		c.ConnectRetries = defaultConnectRetries
	}
	if c.BurstSettle == 0 {
		c.BurstSettle = defaultBurstSettle
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.ReconnectBase == 0 {
		c.ReconnectBase = defaultReconnectBase
	}
	if c.ReconnectMax == 0 {
		c.ReconnectMax = defaultReconnectMax
	}
	if c.ReconnectAttempts == 0 {
		c.ReconnectAttempts = defaultReconnectAttempts
	}
	return c
}

// Session drives exactly one transport. All link use flows through mu,
// spanning connect, authenticate, command, and timer rearm, so commands
// never interleave on the wire.
type Session struct {
	cfg       Config
	log       zerolog.Logger
	transport Transport
	exec      *Executor
	store     *Store

	mu               sync.Mutex
	info             aromalink.DeviceInfo
	state            aromalink.DeviceState
	authenticated    bool
	pendingIntensity int

	shuttingDown atomic.Bool
	intentional  atomic.Bool

	timerMu      sync.Mutex
	idleTimer    *time.Timer
	reconnecting bool

	done     chan struct{}
	doneOnce sync.Once
}

func New(cfg Config, transport Transport, log zerolog.Logger) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		cfg:       cfg,
		log:       log.With().Str("device", cfg.Address).Logger(),
		transport: transport,
		store:     NewStore(),
		info:      aromalink.NewDeviceInfo(),
		state:     aromalink.NewDeviceState(),
		done:      make(chan struct{}),
	}
	s.exec = NewExecutor(transport, s.log)
	go s.watch()
	return s
}

// watch routes transport events until final teardown.
func (s *Session) watch() {
	notifications := s.transport.Notifications()
	disconnects := s.transport.Disconnects()
	for {
		select {
		case frame, ok := <-notifications:
			if !ok {
				// The transport queues the final drop cause before it
				// closes its channels. Deliver it before exiting.
				if err, ok := <-disconnects; ok {
					s.handleDisconnect(err)
				}
				return
			}
			s.exec.HandleNotification(frame)
		case err, ok := <-disconnects:
			if !ok {
				return
			}
			s.handleDisconnect(err)
		case <-s.done:
			return
		}
	}
}

// handleDisconnect reacts to a link drop. Operator-initiated teardowns
// only clear the login flag; an unexpected drop while the device is on
// additionally starts the reconnect loop.
func (s *Session) handleDisconnect(cause error) {
	intentional := s.intentional.Swap(false)

	s.mu.Lock()
	s.authenticated = false
	on := s.state.IsOn
	s.publishLocked()
	s.mu.Unlock()

	if intentional || s.shuttingDown.Load() {
		return
	}

	s.log.Warn().AnErr("cause", cause).Bool("device_on", on).Msg("link dropped")
	if on {
		s.startReconnect()
	}
}

// ensureConnected opens and authenticates the link if it is not already
// up. Must be called with mu held. Any failure tears the link down; the
// retry policy lives in the reconnect loop, not here.
func (s *Session) ensureConnected(ctx context.Context) error {
	if s.transport.Connected() && s.authenticated {
		return nil
	}
	s.authenticated = false

	if !s.transport.Connected() {
		var err error
		for attempt := 1; attempt <= s.cfg.ConnectRetries; attempt++ {
			connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
			err = s.transport.Connect(connectCtx)
			cancel()
			if err == nil {
				break
			}
			s.log.Debug().Err(err).Int("attempt", attempt).Msg("connect failed")
		}
		if err != nil {
			return fmt.Errorf("connect %s: %w", s.cfg.Address, err)
		}
		// A fresh link voids any still-pending intentional teardown.
		s.intentional.Store(false)
	}

	if err := s.login(ctx); err != nil {
		s.teardownLink()
		return err
	}
	return nil
}

// login authenticates and absorbs the post-login data burst. Collection
// starts before the login write so burst frames racing the login echo
// are not lost; the echo itself decodes as an ignored opcode.
func (s *Session) login(ctx context.Context) error {
	s.exec.StartBurst()

	resp, err := s.exec.Execute(ctx, aromalink.EncodeLogin(s.cfg.Password, false), true, s.cfg.LoginTimeout)
	if err != nil {
		s.exec.StopBurst()
		return fmt.Errorf("login: %w", err)
	}
	if resp == nil {
		// V3 devices stay silent without the pair code.
		resp, err = s.exec.Execute(ctx, aromalink.EncodeLogin(s.cfg.Password, true), true, s.cfg.LoginTimeout)
		if err != nil {
			s.exec.StopBurst()
			return fmt.Errorf("login: %w", err)
		}
	}
	if resp == nil {
		s.exec.StopBurst()
		return fmt.Errorf("login %s: %w", s.cfg.Address, ErrLoginTimeout)
	}

	loginState, info, err := aromalink.DecodeLoginResponse(resp, s.cfg.PairCode)
	if err != nil {
		s.exec.StopBurst()
		return fmt.Errorf("login: %w", err)
	}
	if loginState != aromalink.LoginSuccess {
		s.exec.StopBurst()
		return fmt.Errorf("login %s: %w", loginState, ErrAuthentication)
	}
	s.info = info
	s.authenticated = true
	s.log.Info().Float64("version", info.BlueVersion).Msg("authenticated")

	select {
	case <-time.After(s.cfg.BurstSettle):
	case <-ctx.Done():
		s.exec.StopBurst()
		return ctx.Err()
	case <-s.done:
		s.exec.StopBurst()
		return ErrShuttingDown
	}

	frames := s.exec.StopBurst()
	decoder := aromalink.NewBurstDecoder(&s.info, &s.state)
	for _, frame := range frames {
		if err := decoder.Decode(frame); err != nil {
			s.log.Warn().Err(err).Msg("burst frame skipped")
		}
	}
	s.log.Info().
		Int("frames", len(frames)).
		Bool("on", s.state.IsOn).
		Int("oils", len(s.state.Oils)).
		Int("schedules", len(s.state.Schedules)).
		Msg("data burst decoded")

	if _, err := s.exec.Execute(ctx, aromalink.EncodeTimeSync(s.info, time.Now()), false, 0); err != nil {
		s.log.Warn().Err(err).Msg("time sync write failed")
	}

	s.resetReconnectState()
	return nil
}

func (s *Session) teardownLink() {
	s.intentional.Store(true)
	if err := s.transport.Disconnect(); err != nil {
		s.log.Debug().Err(err).Msg("disconnect")
	}
	s.authenticated = false
}

// executeCommand runs fn inside the exclusive link region and rearms
// the idle timer regardless of the outcome.
func (s *Session) executeCommand(ctx context.Context, fn func(context.Context) error) error {
	if s.shuttingDown.Load() {
		return ErrShuttingDown
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.rearmIdleLocked()
	defer s.publishLocked()

	if err := s.ensureConnected(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

// PowerOn starts diffusion. intensity 0 keeps the current setting, or
// the value staged by SetIntensityLocal while the device was off.
func (s *Session) PowerOn(ctx context.Context, intensity int) error {
	return s.executeCommand(ctx, func(ctx context.Context) error {
		target := intensity
		if target == 0 {
			target = s.pendingIntensity
		}
		if target == 0 {
			target = s.state.Intensity
		}
		target = s.info.ClampIntensity(target)

		if s.info.IsV3() {
			if _, err := s.exec.Execute(ctx, aromalink.EncodeQuickPower(true, s.cfg.AromaSlot), false, 0); err != nil {
				return err
			}
			if _, err := s.exec.Execute(ctx, aromalink.EncodeIntensityV3(target, s.cfg.AromaSlot), true, s.cfg.CommandTimeout); err != nil {
				return err
			}
		} else {
			if _, err := s.exec.Execute(ctx, aromalink.EncodeScheduleV2(true, target, 1), true, s.cfg.CommandTimeout); err != nil {
				return err
			}
		}

		s.state.IsOn = true
		s.state.Intensity = target
		s.pendingIntensity = 0
		return nil
	})
}

// PowerOff stops diffusion.
func (s *Session) PowerOff(ctx context.Context) error {
	return s.executeCommand(ctx, func(ctx context.Context) error {
		if s.info.IsV3() {
			if _, err := s.exec.Execute(ctx, aromalink.EncodeQuickPower(false, s.cfg.AromaSlot), false, 0); err != nil {
				return err
			}
		} else {
			// V2 firmware runs whichever of its five schedule slots is
			// enabled, so off means disabling all of them.
			for slot := 1; slot <= aromalink.ScheduleSlotsV2; slot++ {
				if _, err := s.exec.Execute(ctx, aromalink.EncodeScheduleV2(false, s.state.Intensity, slot), true, s.cfg.CommandTimeout); err != nil {
					return err
				}
			}
		}
		s.state.IsOn = false
		return nil
	})
}

// SetIntensity writes a new intensity to the device. Out-of-range
// values clamp to [1, max], never fail.
func (s *Session) SetIntensity(ctx context.Context, level int) error {
	return s.executeCommand(ctx, func(ctx context.Context) error {
		target := s.info.ClampIntensity(level)
		if s.info.IsV3() {
			if _, err := s.exec.Execute(ctx, aromalink.EncodeIntensityV3(target, s.cfg.AromaSlot), true, s.cfg.CommandTimeout); err != nil {
				return err
			}
		} else {
			// The enabled bit mirrors the current power state so an
			// intensity write on an off device never starts diffusion.
			if _, err := s.exec.Execute(ctx, aromalink.EncodeScheduleV2(s.state.IsOn, target, 1), true, s.cfg.CommandTimeout); err != nil {
				return err
			}
		}
		s.state.Intensity = target
		return nil
	})
}

// SetIntensityLocal stages an intensity without touching the device.
// Only valid while the device is off; the value is written on the next
// PowerOn.
func (s *Session) SetIntensityLocal(level int) error {
	if s.shuttingDown.Load() {
		return ErrShuttingDown
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.IsOn {
		return fmt.Errorf("set intensity locally: %w", ErrDeviceOn)
	}
	target := s.info.ClampIntensity(level)
	s.pendingIntensity = target
	s.state.Intensity = target
	s.publishLocked()
	return nil
}

// ReadDeviceInfo fills in fields the data burst did not provide. V3
// devices stream everything at login; V2 devices answer the individual
// read commands used here.
func (s *Session) ReadDeviceInfo(ctx context.Context) error {
	return s.executeCommand(ctx, func(ctx context.Context) error {
		if s.state.DeviceName == "" {
			resp, err := s.exec.Execute(ctx, aromalink.EncodeReadName(), true, s.cfg.CommandTimeout)
			if err != nil {
				return err
			}
			if name, ok := aromalink.DecodeNameResponse(resp); ok {
				s.state.DeviceName = name
			}
		}

		if !s.info.IsV3() && s.state.PCBVersion == "" {
			resp, err := s.exec.Execute(ctx, aromalink.EncodeReadVersion(s.info), true, s.cfg.CommandTimeout)
			if err != nil {
				return err
			}
			if pcb, equipment, ok := aromalink.DecodeVersionResponse(resp); ok {
				s.state.PCBVersion = pcb
				s.state.EquipmentVersion = equipment
			}
		}

		if s.info.MaxIntensity == aromalink.DefaultMaxIntensity {
			resp, err := s.exec.Execute(ctx, aromalink.EncodeReadLimits(s.info), true, s.cfg.CommandTimeout)
			if err != nil {
				return err
			}
			aromalink.DecodeLimitsResponse(resp, &s.info)
		}
		return nil
	})
}

// HandlePresence records an advertisement sighting. It never touches
// the link directly, but a sighting of a device that should be on and
// is not connected restarts the reconnect loop after a permanent
// give-up.
func (s *Session) HandlePresence(ts time.Time, signalStrength int) {
	if s.shuttingDown.Load() {
		return
	}

	s.store.Update(func(snap *Snapshot) {
		snap.LastSeen = ts
		snap.SignalStrength = signalStrength
	})

	if s.store.Snapshot().State.IsOn && !s.transport.Connected() {
		s.startReconnect()
	}
}

// Shutdown marks the session as stopping, cancels timers, and forces
// the link down. Safe to call more than once.
func (s *Session) Shutdown() {
	s.shuttingDown.Store(true)
	s.doneOnce.Do(func() { close(s.done) })
	s.stopIdleTimer()

	s.mu.Lock()
	s.teardownLink()
	s.publishLocked()
	s.mu.Unlock()

	s.log.Info().Msg("session stopped")
}

// Snapshot returns the current read-only view.
func (s *Session) Snapshot() Snapshot {
	return s.store.Snapshot()
}

// Subscribe returns a feed of snapshot updates and a cancel func.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	return s.store.Subscribe()
}

// publishLocked pushes the session's state into the store. Requires mu.
func (s *Session) publishLocked() {
	info := s.info
	state := s.state.Clone()
	authenticated := s.authenticated
	s.store.Update(func(snap *Snapshot) {
		snap.Info = info
		snap.State = state
		snap.Connected = s.transport.Connected()
		snap.Authenticated = authenticated
	})
}
