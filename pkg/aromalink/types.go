// SPDX-License-Identifier: Apache-2.0

package aromalink

import (
	"fmt"
	"math"
)

// LoginState is the outcome of a login exchange.
type LoginState int

const (
	LoginSuccess LoginState = iota
	LoginFailed
	LoginError
)

func (s LoginState) String() string {
	switch s {
	case LoginSuccess:
		return "success"
	case LoginFailed:
		return "failed"
	case LoginError:
		return "error"
	default:
		return fmt.Sprintf("LoginState(%d)", int(s))
	}
}

// DeviceInfo holds the capabilities discovered during login. It is set once
// per login and treated as immutable until the next login.
type DeviceInfo struct {
	// BlueVersion is the protocol generation reported by the device
	// (2.0 for legacy devices, 3.0 for current ones).
	BlueVersion float64
	// HIDVersion marks the legacy V2 firmware family.
	HIDVersion bool

	// Feature flags unpacked from the V3 login feature byte.
	HasOil             bool
	HasBattery         bool
	HasCustomIntensity bool
	HasManyAroma       bool
	HasFan             bool

	// MaxIntensity is the device's highest diffusion grade.
	MaxIntensity int

	// Custom-schedule minute bounds for the on/off windows (V3 only).
	CustomOnMin  int
	CustomOnMax  int
	CustomOffMin int
	CustomOffMax int
}

// NewDeviceInfo returns a DeviceInfo with protocol defaults applied.
func NewDeviceInfo() DeviceInfo {
	return DeviceInfo{
		BlueVersion:  3.0,
		MaxIntensity: DefaultMaxIntensity,
	}
}

// IsV3 reports whether the device speaks the V3 dialect.
func (i DeviceInfo) IsV3() bool { return i.BlueVersion >= 3.0 }

// ClampIntensity clamps an intensity value into [1, MaxIntensity].
// Out-of-range values are clamped, never rejected. A corrupt or unset
// MaxIntensity counts as 1.
func (i DeviceInfo) ClampIntensity(intensity int) int {
	max := i.MaxIntensity
	if max < 1 {
		max = 1
	}
	if intensity < 1 {
		return 1
	}
	if intensity > max {
		return max
	}
	return intensity
}

// OilSlot is one fragrance reservoir: name, total capacity and remaining
// amount in device units.
type OilSlot struct {
	Name      string
	Total     int
	Remainder int
}

// Percentage returns the remaining oil as a percentage rounded to one
// decimal place. A zero total yields 0.0.
func (o OilSlot) Percentage() float64 {
	if o.Total <= 0 {
		return 0.0
	}
	return math.Round(float64(o.Remainder)/float64(o.Total)*1000) / 10
}

// ScheduleSlot is one timer slot on the device. TotalFan/TotalFog are V3
// fields that mirror the device's overall current power state, not per-slot
// configuration.
type ScheduleSlot struct {
	Index     int
	Enabled   bool
	HourOn    int
	MinuteOn  int
	HourOff   int
	MinuteOff int
	// RepeatDays is a 7-bit day-of-week mask, Sunday in the most
	// significant bit.
	RepeatDays byte
	Intensity  int

	// V3 only.
	Aroma      int
	FanEnabled bool
	TotalFan   bool
	TotalFog   bool
}

// RepeatMask renders the repeat mask as a 7-character binary string,
// Sunday first.
func (s ScheduleSlot) RepeatMask() string {
	return fmt.Sprintf("%07b", s.RepeatDays&0x7F)
}

// DeviceState is the mutable operational state, overwritten field by field
// as data-burst frames decode. Oils and Schedules are replaced wholesale on
// every burst so stale entries never survive a shrinking configuration.
type DeviceState struct {
	IsOn           bool
	FanOn          bool
	Intensity      int
	ActiveSchedule int // active schedule slot, 0 = none

	DeviceName       string
	ProductName      string
	DeviceLabel      string
	DeviceIdentifier string

	PCBVersion       string
	EquipmentVersion string

	BatteryLevel int
	Oils         []OilSlot
	Schedules    []ScheduleSlot
}

// NewDeviceState returns a DeviceState with protocol defaults applied.
func NewDeviceState() DeviceState {
	return DeviceState{Intensity: DefaultIntensity}
}

// ResetLists clears the list fields ahead of a fresh data-burst decode.
func (s *DeviceState) ResetLists() {
	s.Oils = nil
	s.Schedules = nil
}

// Clone returns a deep copy safe to hand to readers.
func (s DeviceState) Clone() DeviceState {
	out := s
	out.Oils = append([]OilSlot(nil), s.Oils...)
	out.Schedules = append([]ScheduleSlot(nil), s.Schedules...)
	return out
}
