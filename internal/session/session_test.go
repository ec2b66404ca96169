// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ttrushin/ha-aromatech-scent-diffuser/pkg/aromalink"
)

// fakeTransport scripts a device on the far side of the link. The
// respond hook runs synchronously inside Write and its frames are
// pushed as notifications.
type fakeTransport struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	connects   int
	writes     [][]byte
	respond    func(frame []byte) [][]byte

	notif chan []byte
	drops chan error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		notif: make(chan []byte, 32),
		drops: make(chan error, 4),
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeTransport) Write(p []byte) error {
	frame := append([]byte(nil), p...)
	f.mu.Lock()
	f.writes = append(f.writes, frame)
	respond := f.respond
	f.mu.Unlock()
	if respond != nil {
		for _, resp := range respond(frame) {
			f.notif <- resp
		}
	}
	return nil
}

func (f *fakeTransport) Notifications() <-chan []byte { return f.notif }
func (f *fakeTransport) Disconnects() <-chan error    { return f.drops }

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) dropLink(err error) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.drops <- err
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) writtenOpcodes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	ops := make([]byte, len(f.writes))
	for i, w := range f.writes {
		ops[i] = w[0]
	}
	return ops
}

func (f *fakeTransport) lastWrite() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return nil
	}
	return f.writes[len(f.writes)-1]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func testConfig() Config {
	return Config{
		Address:        "AA:BB:CC:DD:EE:FF",
		CommandTimeout: 30 * time.Millisecond,
		LoginTimeout:   30 * time.Millisecond,
		ConnectTimeout: 50 * time.Millisecond,
		ConnectRetries: 1,
		BurstSettle:    40 * time.Millisecond,
	}
}

// loginEchoV3 is a V3 device's login echo without a pair-code suffix.
var loginEchoV3 = []byte{aromalink.CmdLogin, '3', '.', '0', 'O', 'K', '0', '1'}

func v3Device(burst ...[]byte) func([]byte) [][]byte {
	return func(frame []byte) [][]byte {
		if frame[0] != aromalink.CmdLogin {
			return nil
		}
		return append([][]byte{loginEchoV3}, burst...)
	}
}

func newTestSession(t *testing.T, cfg Config, ft *fakeTransport) *Session {
	t.Helper()
	s := New(cfg, ft, zerolog.Nop())
	t.Cleanup(s.Shutdown)
	return s
}

// forceReady marks the session connected and authenticated so command
// tests can skip the login exchange.
func forceReady(s *Session, ft *fakeTransport, info aromalink.DeviceInfo, on bool) {
	ft.mu.Lock()
	ft.connected = true
	ft.mu.Unlock()

	s.mu.Lock()
	s.authenticated = true
	s.info = info
	s.state.IsOn = on
	s.publishLocked()
	s.mu.Unlock()
}

func TestExecutorRoutesResponse(t *testing.T) {
	ft := newFakeTransport()
	e := NewExecutor(ft, zerolog.Nop())

	ft.respond = func(frame []byte) [][]byte { return nil }
	go func() {
		time.Sleep(5 * time.Millisecond)
		e.HandleNotification([]byte{0x42, 'h', 'i'})
	}()

	resp, err := e.Execute(context.Background(), []byte{aromalink.CmdReadName}, true, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(resp) != 3 || resp[0] != 0x42 {
		t.Errorf("resp = % X", resp)
	}
}

func TestExecutorTimeoutIsSoft(t *testing.T) {
	ft := newFakeTransport()
	e := NewExecutor(ft, zerolog.Nop())

	resp, err := e.Execute(context.Background(), []byte{aromalink.CmdReadName}, true, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("timeout must not be an error, got %v", err)
	}
	if resp != nil {
		t.Errorf("resp = % X, want nil", resp)
	}
}

func TestExecutorFireAndForget(t *testing.T) {
	ft := newFakeTransport()
	e := NewExecutor(ft, zerolog.Nop())

	resp, err := e.Execute(context.Background(), []byte{aromalink.CmdTimeV3, 1, 2, 3}, false, 0)
	if err != nil || resp != nil {
		t.Fatalf("fire-and-forget = (% X, %v)", resp, err)
	}
	if len(ft.writes) != 1 {
		t.Errorf("writes = %d, want 1", len(ft.writes))
	}
}

func TestExecutorUnsolicitedCapture(t *testing.T) {
	ft := newFakeTransport()
	e := NewExecutor(ft, zerolog.Nop())

	e.HandleNotification([]byte{0x45, 'a'})
	if last := e.LastResponse(); len(last) != 2 || last[0] != 0x45 {
		t.Errorf("last = % X", last)
	}

	e.StartBurst()
	e.HandleNotification([]byte{0x48, 'x'})
	e.HandleNotification([]byte{0x4B, 'y'})
	frames := e.StopBurst()

	if len(frames) != 2 || frames[0][0] != 0x48 || frames[1][0] != 0x4B {
		t.Errorf("burst frames = %v", frames)
	}
	if again := e.StopBurst(); again != nil {
		t.Errorf("second StopBurst = %v, want nil", again)
	}
}

func TestBackoffDelay(t *testing.T) {
	want := []time.Duration{5, 10, 20, 40, 60, 60, 60, 60, 60, 60}
	for i, w := range want {
		got := backoffDelay(i+1, 5*time.Second, 60*time.Second)
		if got != w*time.Second {
			t.Errorf("attempt %d: delay = %v, want %v", i+1, got, w*time.Second)
		}
	}
}

func TestPowerOnLoginAndBurst(t *testing.T) {
	ft := newFakeTransport()
	nameFrame := append([]byte{aromalink.RespNameV3}, "AroMini BT\x00"...)
	scheduleFrame := []byte{
		aromalink.RespScheduleV3,
		1, 2, 0x03, 1, 1, 0x03,
		0, 0, 23, 59, 0x7F, 0, 4,
	}
	ft.respond = v3Device(nameFrame, scheduleFrame)

	s := newTestSession(t, testConfig(), ft)
	if err := s.PowerOn(context.Background(), 0); err != nil {
		t.Fatalf("power on: %v", err)
	}

	snap := s.Snapshot()
	if !snap.Authenticated || !snap.Connected {
		t.Errorf("snapshot not ready: %+v", snap)
	}
	if snap.State.DeviceName != "AroMini BT" {
		t.Errorf("device name = %q", snap.State.DeviceName)
	}
	if !snap.State.IsOn || snap.State.Intensity != 4 {
		t.Errorf("power state = on=%v intensity=%d", snap.State.IsOn, snap.State.Intensity)
	}

	// Login, time sync, quick power, intensity write.
	ops := ft.writtenOpcodes()
	wantOps := []byte{aromalink.CmdLogin, aromalink.CmdTimeV3, aromalink.CmdScheduleWriteV3, aromalink.CmdScheduleWriteV3}
	if len(ops) != len(wantOps) {
		t.Fatalf("write opcodes = % X, want % X", ops, wantOps)
	}
	for i, op := range wantOps {
		if ops[i] != op {
			t.Errorf("write %d opcode = 0x%02X, want 0x%02X", i, ops[i], op)
		}
	}
}

func TestLoginPairCodeFallback(t *testing.T) {
	ft := newFakeTransport()
	ft.respond = func(frame []byte) [][]byte {
		// Silent until the pair code is appended.
		if frame[0] != aromalink.CmdLogin || len(frame) < 9 {
			return nil
		}
		return [][]byte{loginEchoV3}
	}

	s := newTestSession(t, testConfig(), ft)
	if err := s.PowerOn(context.Background(), 2); err != nil {
		t.Fatalf("power on: %v", err)
	}

	ops := ft.writtenOpcodes()
	if len(ops) < 2 || ops[0] != aromalink.CmdLogin || ops[1] != aromalink.CmdLogin {
		t.Fatalf("expected two login attempts, got opcodes % X", ops)
	}
}

func TestLoginRejectedTearsDownLink(t *testing.T) {
	ft := newFakeTransport()
	ft.respond = func(frame []byte) [][]byte {
		if frame[0] != aromalink.CmdLogin {
			return nil
		}
		return [][]byte{append([]byte{aromalink.CmdLogin}, "ERROR"...)}
	}

	s := newTestSession(t, testConfig(), ft)
	err := s.PowerOn(context.Background(), 0)
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("err = %v, want ErrAuthentication", err)
	}
	if ft.Connected() {
		t.Error("link must be torn down after rejected login")
	}
}

func TestLoginSilentDeviceFails(t *testing.T) {
	ft := newFakeTransport()

	s := newTestSession(t, testConfig(), ft)
	err := s.PowerOn(context.Background(), 0)
	if !errors.Is(err, ErrLoginTimeout) {
		t.Fatalf("err = %v, want ErrLoginTimeout", err)
	}
}

func TestIntensityClamped(t *testing.T) {
	ft := newFakeTransport()
	s := newTestSession(t, testConfig(), ft)
	forceReady(s, ft, aromalink.NewDeviceInfo(), true)

	if err := s.SetIntensity(context.Background(), 99); err != nil {
		t.Fatalf("set intensity: %v", err)
	}
	frame := ft.lastWrite()
	if frame[0] != aromalink.CmdScheduleWriteV3 || frame[len(frame)-1] != aromalink.DefaultMaxIntensity {
		t.Errorf("intensity frame = % X", frame)
	}
	if got := s.Snapshot().State.Intensity; got != aromalink.DefaultMaxIntensity {
		t.Errorf("intensity = %d, want %d", got, aromalink.DefaultMaxIntensity)
	}
}

func TestSetIntensityLocal(t *testing.T) {
	ft := newFakeTransport()
	s := newTestSession(t, testConfig(), ft)
	forceReady(s, ft, aromalink.NewDeviceInfo(), true)

	if err := s.SetIntensityLocal(3); !errors.Is(err, ErrDeviceOn) {
		t.Fatalf("err = %v, want ErrDeviceOn while on", err)
	}

	s.mu.Lock()
	s.state.IsOn = false
	s.mu.Unlock()

	if err := s.SetIntensityLocal(3); err != nil {
		t.Fatalf("set local: %v", err)
	}
	if got := len(ft.writes); got != 0 {
		t.Fatalf("local change wrote %d frames to device", got)
	}

	// The staged value rides the next power-on.
	if err := s.PowerOn(context.Background(), 0); err != nil {
		t.Fatalf("power on: %v", err)
	}
	frame := ft.lastWrite()
	if frame[len(frame)-1] != 3 {
		t.Errorf("power-on intensity frame = % X, want staged 3", frame)
	}
}

func v2Info() aromalink.DeviceInfo {
	info := aromalink.NewDeviceInfo()
	info.BlueVersion = 2.0
	info.HIDVersion = true
	return info
}

func TestPowerOffV2DisablesAllSlots(t *testing.T) {
	ft := newFakeTransport()
	s := newTestSession(t, testConfig(), ft)
	forceReady(s, ft, v2Info(), true)

	if err := s.PowerOff(context.Background()); err != nil {
		t.Fatalf("power off: %v", err)
	}

	ft.mu.Lock()
	writes := ft.writes
	ft.mu.Unlock()

	if len(writes) != aromalink.ScheduleSlotsV2 {
		t.Fatalf("power off wrote %d frames, want one per slot (%d)", len(writes), aromalink.ScheduleSlotsV2)
	}
	for i, frame := range writes {
		if frame[0] != aromalink.CmdScheduleWriteV2 {
			t.Errorf("write %d opcode = 0x%02X", i, frame[0])
		}
		if frame[1]&1 != 0 {
			t.Errorf("write %d left the enabled bit set: % X", i, frame)
		}
		if got := int(frame[1] >> 1); got != i+1 {
			t.Errorf("write %d slot index = %d, want %d", i, got, i+1)
		}
	}
	if s.Snapshot().State.IsOn {
		t.Error("state still on after power off")
	}
}

func TestSetIntensityOffV2KeepsDeviceOff(t *testing.T) {
	ft := newFakeTransport()
	s := newTestSession(t, testConfig(), ft)
	forceReady(s, ft, v2Info(), false)

	if err := s.SetIntensity(context.Background(), 3); err != nil {
		t.Fatalf("set intensity: %v", err)
	}

	frame := ft.lastWrite()
	if frame[0] != aromalink.CmdScheduleWriteV2 {
		t.Fatalf("frame = % X", frame)
	}
	if frame[1]&1 != 0 {
		t.Errorf("intensity write enabled an off device: % X", frame)
	}
	if frame[7] != 3 {
		t.Errorf("intensity byte = %d, want 3", frame[7])
	}
	if s.Snapshot().State.IsOn {
		t.Error("state flipped on by an intensity write")
	}
}

func TestIdleFireSkipsRunningDevice(t *testing.T) {
	ft := newFakeTransport()
	s := newTestSession(t, testConfig(), ft)
	forceReady(s, ft, aromalink.NewDeviceInfo(), true)

	// Armed while off, turned on before firing: the link must survive.
	s.idleFire()
	if !ft.Connected() {
		t.Fatal("idle fire disconnected a running device")
	}

	s.mu.Lock()
	s.state.IsOn = false
	s.mu.Unlock()

	s.idleFire()
	if ft.Connected() {
		t.Fatal("idle fire left an off device connected")
	}
	if s.Snapshot().Authenticated {
		t.Error("idle disconnect must clear the login flag")
	}
}

func TestReconnectGivesUpAfterAttemptBudget(t *testing.T) {
	ft := newFakeTransport()
	cfg := testConfig()
	cfg.ReconnectBase = 2 * time.Millisecond
	cfg.ReconnectMax = 8 * time.Millisecond
	cfg.ReconnectAttempts = 3

	s := newTestSession(t, cfg, ft)
	forceReady(s, ft, aromalink.NewDeviceInfo(), true)

	ft.mu.Lock()
	ft.connectErr = errors.New("gatt unreachable")
	ft.mu.Unlock()

	ft.dropLink(errors.New("link reset"))

	waitFor(t, time.Second, func() bool { return ft.connectCount() == 3 })
	time.Sleep(40 * time.Millisecond)
	if got := ft.connectCount(); got != 3 {
		t.Errorf("connect attempts = %d, want exactly 3", got)
	}
}

func TestReconnectSkippedWhenOff(t *testing.T) {
	ft := newFakeTransport()
	cfg := testConfig()
	cfg.ReconnectBase = 2 * time.Millisecond

	s := newTestSession(t, cfg, ft)
	forceReady(s, ft, aromalink.NewDeviceInfo(), false)

	ft.dropLink(errors.New("link reset"))
	time.Sleep(40 * time.Millisecond)

	if got := ft.connectCount(); got != 0 {
		t.Errorf("reconnect ran for an off device: %d attempts", got)
	}
}

func TestWireLossStillReportsDropCause(t *testing.T) {
	ft := newFakeTransport()
	cfg := testConfig()
	cfg.ReconnectBase = 2 * time.Millisecond
	cfg.ReconnectAttempts = 1

	s := newTestSession(t, cfg, ft)
	forceReady(s, ft, aromalink.NewDeviceInfo(), true)

	// A dying gateway queues the final cause and then closes both
	// channels. The session must still observe the drop and start
	// reconnecting, whichever channel the watcher reads first.
	ft.mu.Lock()
	ft.connected = false
	ft.mu.Unlock()
	ft.drops <- errors.New("gateway link lost")
	close(ft.notif)
	close(ft.drops)

	waitFor(t, time.Second, func() bool { return ft.connectCount() >= 1 })
}

func TestShutdownStopsReconnect(t *testing.T) {
	ft := newFakeTransport()
	cfg := testConfig()
	cfg.ReconnectBase = 5 * time.Millisecond
	cfg.ReconnectAttempts = 100

	s := newTestSession(t, cfg, ft)
	forceReady(s, ft, aromalink.NewDeviceInfo(), true)

	ft.mu.Lock()
	ft.connectErr = errors.New("gatt unreachable")
	ft.mu.Unlock()

	ft.dropLink(errors.New("link reset"))
	time.Sleep(12 * time.Millisecond)
	s.Shutdown()

	settled := ft.connectCount()
	time.Sleep(40 * time.Millisecond)
	if got := ft.connectCount(); got > settled {
		t.Errorf("reconnect loop kept running after shutdown: %d -> %d", settled, got)
	}

	if err := s.PowerOn(context.Background(), 0); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("command after shutdown = %v, want ErrShuttingDown", err)
	}
}

func TestHandlePresenceUpdatesSnapshot(t *testing.T) {
	ft := newFakeTransport()
	s := newTestSession(t, testConfig(), ft)

	seen := time.Now()
	s.HandlePresence(seen, -67)

	snap := s.Snapshot()
	if !snap.LastSeen.Equal(seen) || snap.SignalStrength != -67 {
		t.Errorf("presence not recorded: %+v", snap)
	}
	if ft.connectCount() != 0 {
		t.Error("presence for an off device must not touch the link")
	}
}

func TestStoreSubscribeSeesNewestSnapshot(t *testing.T) {
	store := NewStore()
	ch, cancel := store.Subscribe()
	defer cancel()

	store.Update(func(snap *Snapshot) { snap.SignalStrength = -80 })
	store.Update(func(snap *Snapshot) { snap.SignalStrength = -40 })

	select {
	case snap := <-ch:
		if snap.SignalStrength != -40 {
			t.Errorf("signal = %d, want newest -40", snap.SignalStrength)
		}
	default:
		t.Fatal("no snapshot delivered")
	}
}
