// SPDX-License-Identifier: Apache-2.0

// Package aromalink implements the AromaTech diffuser BLE command protocol.
//
// The protocol is a small opcode-tagged binary dialect spoken over a single
// GATT characteristic: commands are written as one frame, responses arrive
// as notification frames whose first byte is the opcode. Two incompatible
// generations exist (V2 and V3); the generation is discovered at login and
// selects every subsequent encode/decode path. This package is pure
// encode/decode with no link state, so it is testable without a device.
package aromalink

// Command opcodes (host -> device).
const (
	CmdLogin           = 0x8F
	CmdTimeV2          = 0x02
	CmdTimeV3          = 0x21
	CmdScheduleWriteV2 = 0x03
	CmdScheduleWriteV3 = 0x2A
	CmdReadName        = 0x7F
	CmdVersionV2       = 0x86
	CmdVersionV3       = 0x44
	CmdLimitsV2        = 0x88
	CmdLimitsV3        = 0x46
)

// Response opcodes (device -> host). The 0x4x range is the V3 post-login
// data burst; 0x8x/0x9x are the V2 dialect.
const (
	RespBufferClear      = 0x40
	RespNameV3           = 0x42
	RespDeviceLabelV3    = 0x43
	RespVersionV3        = 0x44
	RespProductName      = 0x45
	RespLimitsV3         = 0x46
	RespIntensityPresets = 0x47
	RespOilNamesV3       = 0x48
	RespScheduleV3       = 0x4A
	RespOilAmountsV3     = 0x4B
	RespIdentifier       = 0x4C
	RespNameV2           = 0x81
	RespScheduleV2       = 0x83
	RespLimitsV2         = 0x84
	RespOilV2            = 0x91
)

// Protocol defaults.
const (
	DefaultPassword  = "8888"
	PairCode         = "OK01"
	DefaultAromaSlot = 1
	DefaultIntensity = 1

	// ScheduleSlotsV2 is the number of schedule slots V2 firmware keeps.
	// The device diffuses whenever any slot is enabled.
	ScheduleSlotsV2 = 5

	// DefaultMaxIntensity is assumed until the device reports its own
	// limit in the data burst.
	DefaultMaxIntensity = 5
)

// Fixed frame sizes for the schedule-write commands.
const (
	quickPowerFrameLen = 5
	intensityV3Len     = 14
	scheduleV2Len      = 15
	oilNameRecordLen   = 16
)
