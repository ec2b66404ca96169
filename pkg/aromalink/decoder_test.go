// SPDX-License-Identifier: Apache-2.0

package aromalink

import "testing"

func TestDecodeLoginResponse_WrongOpcode(t *testing.T) {
	_, _, err := DecodeLoginResponse([]byte{0x42, 'O', 'K'}, PairCode)
	if err == nil {
		t.Error("expected rejection for non-login opcode")
	}

	_, _, err = DecodeLoginResponse(nil, PairCode)
	if err == nil {
		t.Error("expected rejection for empty frame")
	}
}

func TestDecodeLoginResponse_Error(t *testing.T) {
	frame := append([]byte{CmdLogin}, "ERROR"...)
	state, _, err := DecodeLoginResponse(frame, PairCode)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if state != LoginError {
		t.Errorf("expected LoginError, got %v", state)
	}
}

func TestDecodeLoginResponse_V2ShortEcho(t *testing.T) {
	tests := []struct {
		name string
		echo string
	}{
		{"empty echo", ""},
		{"one char", "K"},
		{"two chars", "OK"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := append([]byte{CmdLogin}, tt.echo...)
			state, info, err := DecodeLoginResponse(frame, PairCode)
			if err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if state != LoginSuccess {
				t.Errorf("expected LoginSuccess, got %v", state)
			}
			if info.BlueVersion != 2.0 {
				t.Errorf("expected version 2.0, got %v", info.BlueVersion)
			}
			if !info.HIDVersion {
				t.Error("expected HIDVersion for V2 device")
			}
			if info.HasOil || info.HasBattery || info.HasCustomIntensity || info.HasManyAroma || info.HasFan {
				t.Error("V2 device must not report extended capability flags")
			}
		})
	}
}

func TestDecodeLoginResponse_V3Echo(t *testing.T) {
	// 8F 33 2E 30 4F 4B 30 31 -> echo "3.0OK01"
	frame := []byte{0x8F, 0x33, 0x2E, 0x30, 0x4F, 0x4B, 0x30, 0x31}
	state, info, err := DecodeLoginResponse(frame, PairCode)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if state != LoginSuccess {
		t.Errorf("expected LoginSuccess, got %v", state)
	}
	if info.BlueVersion != 3.0 {
		t.Errorf("expected version 3.0, got %v", info.BlueVersion)
	}
}

func TestDecodeLoginResponse_FeatureByte(t *testing.T) {
	frame := []byte{CmdLogin, 'X', 'X', 'X', 'X', '3', '.', '0', 'O', 'K', '0', '0', '0', 0x1F}
	state, info, err := DecodeLoginResponse(frame, PairCode)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if state != LoginSuccess {
		t.Errorf("expected LoginSuccess, got %v", state)
	}
	if !info.HasOil || !info.HasBattery || !info.HasCustomIntensity || !info.HasManyAroma || !info.HasFan {
		t.Errorf("expected all capability flags set for feature byte 0x1F, got %+v", info)
	}
}

func TestDecodeLoginResponse_PairCodeMismatch(t *testing.T) {
	frame := []byte{CmdLogin, 'X', 'X', 'X', 'X', '3', '.', '0', 'N', 'O', '0', '0', '0', 0x00}
	state, _, err := DecodeLoginResponse(frame, PairCode)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if state != LoginFailed {
		t.Errorf("expected LoginFailed for mismatched pair-code echo, got %v", state)
	}
}

func TestDecodeLoginResponse_VersionFallback(t *testing.T) {
	// Unparseable version substring falls back to 3.0.
	frame := append([]byte{CmdLogin}, "XXXXabcOK"...)
	_, info, err := DecodeLoginResponse(frame, PairCode)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if info.BlueVersion != 3.0 {
		t.Errorf("expected fallback version 3.0, got %v", info.BlueVersion)
	}
}

func TestDecodeNameResponse(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  string
		ok    bool
	}{
		{"V3 name", append([]byte{RespNameV3}, "AroMini\x00\x00"...), "AroMini", true},
		{"V2 name skips status byte", append([]byte{RespNameV2, 0x00}, "SE8150D\x00"...), "SE8150D", true},
		{"not a name frame", []byte{RespLimitsV3, 0x05}, "", false},
		{"too short", []byte{RespNameV3}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DecodeNameResponse(tt.frame)
			if ok != tt.ok || got != tt.want {
				t.Errorf("DecodeNameResponse(% X) = %q, %v; want %q, %v", tt.frame, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestDecodeVersionResponse(t *testing.T) {
	frame := make([]byte, 33)
	frame[0] = RespVersionV3
	copy(frame[1:], "PCB-1.4.2")
	copy(frame[17:], "EQ-2.0.1")

	pcb, equipment, ok := DecodeVersionResponse(frame)
	if !ok {
		t.Fatal("expected version frame to decode")
	}
	if pcb != "PCB-1.4.2" || equipment != "EQ-2.0.1" {
		t.Errorf("got pcb=%q equipment=%q", pcb, equipment)
	}

	if _, _, ok := DecodeVersionResponse(frame[:17]); ok {
		t.Error("short frame must not decode")
	}
}

func TestClampIntensity(t *testing.T) {
	info := NewDeviceInfo()
	info.MaxIntensity = 5

	tests := []struct {
		in, want int
	}{
		{-3, 1},
		{0, 1},
		{1, 1},
		{3, 3},
		{5, 5},
		{6, 5},
		{100, 5},
	}
	for _, tt := range tests {
		if got := info.ClampIntensity(tt.in); got != tt.want {
			t.Errorf("ClampIntensity(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestClampIntensityCorruptMax(t *testing.T) {
	// A max of zero must clamp everything to 1, not pass values through.
	for _, max := range []int{0, -2} {
		info := NewDeviceInfo()
		info.MaxIntensity = max
		if got := info.ClampIntensity(99); got != 1 {
			t.Errorf("MaxIntensity=%d: ClampIntensity(99) = %d, want 1", max, got)
		}
		if got := info.ClampIntensity(0); got != 1 {
			t.Errorf("MaxIntensity=%d: ClampIntensity(0) = %d, want 1", max, got)
		}
	}
}

func TestDecodeLimitsResponse(t *testing.T) {
	info := NewDeviceInfo()
	frame := []byte{RespLimitsV3, 8, 0x00, 0x1E, 0x05, 0xA0, 0x00, 0x0A, 0x02, 0x58}
	DecodeLimitsResponse(frame, &info)
	if info.MaxIntensity != 8 {
		t.Errorf("MaxIntensity = %d, want 8", info.MaxIntensity)
	}
	if info.CustomOnMin != 30 || info.CustomOnMax != 1440 {
		t.Errorf("on window = %d-%d, want 30-1440", info.CustomOnMin, info.CustomOnMax)
	}
	if info.CustomOffMin != 10 || info.CustomOffMax != 600 {
		t.Errorf("off window = %d-%d, want 10-600", info.CustomOffMin, info.CustomOffMax)
	}
}

func TestDecodeLimitsResponseFloorsZeroMax(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{"full frame", []byte{RespLimitsV3, 0, 0x00, 0x1E, 0x05, 0xA0, 0x00, 0x0A, 0x02, 0x58}},
		{"short frame", []byte{RespLimitsV3, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := NewDeviceInfo()
			DecodeLimitsResponse(tt.frame, &info)
			if info.MaxIntensity != 1 {
				t.Errorf("MaxIntensity = %d, want floored 1", info.MaxIntensity)
			}
			if got := info.ClampIntensity(99); got != 1 {
				t.Errorf("ClampIntensity(99) = %d, want 1", got)
			}
		})
	}
}

func TestOilSlotPercentage(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		remainder int
		want      float64
	}{
		{"full", 500, 500, 100.0},
		{"half", 500, 250, 50.0},
		{"one third rounds", 3, 1, 33.3},
		{"two thirds rounds", 3, 2, 66.7},
		{"zero total", 0, 120, 0.0},
		{"empty", 500, 0, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := OilSlot{Total: tt.total, Remainder: tt.remainder}
			if got := o.Percentage(); got != tt.want {
				t.Errorf("Percentage() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTrimDeviceString(t *testing.T) {
	in := []byte{'M', 'i', 'n', 't', 0x00, 0x00, 'x', 0x00}
	if got := trimDeviceString(in); got != "Mintx" {
		t.Errorf("trimDeviceString = %q, want %q", got, "Mintx")
	}
}

func TestDeviceStateClone(t *testing.T) {
	s := NewDeviceState()
	s.Oils = []OilSlot{{Name: "Lavender", Total: 100, Remainder: 50}}
	s.Schedules = []ScheduleSlot{{Index: 1, Enabled: true}}

	c := s.Clone()
	c.Oils[0].Name = "changed"
	c.Schedules[0].Index = 9

	if s.Oils[0].Name != "Lavender" || s.Schedules[0].Index != 1 {
		t.Error("Clone must not share backing arrays with the original")
	}
}
