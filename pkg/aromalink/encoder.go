// SPDX-License-Identifier: Apache-2.0

package aromalink

import "time"

// Command builder functions create wire frames ready to write to the
// command characteristic. Frames are opcode-tagged with fixed per-opcode
// layouts; there is no length prefix, CRC or terminator.

// EncodeLogin builds a login frame: the login opcode followed by the UTF-8
// password bytes. When withPairCode is set the fixed 4-character pair code
// is appended; V3 devices only answer the pair-code form, V2 devices answer
// the bare form, so callers try bare first and fall back.
func EncodeLogin(password string, withPairCode bool) []byte {
	secret := password
	if withPairCode {
		secret += PairCode
	}
	frame := make([]byte, 0, 1+len(secret))
	frame = append(frame, CmdLogin)
	frame = append(frame, secret...)
	return frame
}

// EncodeQuickPower builds the V3 5-byte quick power frame. The control byte
// packs a fan bit and a fog bit; both set turns the diffuser on, both clear
// turns it off.
func EncodeQuickPower(on bool, aromaSlot int) []byte {
	var control byte
	if on {
		control = 0x03 // fan=1, fog=1
	}
	frame := make([]byte, quickPowerFrameLen)
	frame[0] = CmdScheduleWriteV3
	frame[1] = byte(aromaSlot)
	frame[2] = 0x02
	frame[3] = control
	frame[4] = 0x00
	return frame
}

// EncodeIntensityV3 builds the V3 intensity frame. V3 has no dedicated
// intensity opcode: intensity is written as a synthetic always-on schedule
// (all-week repeat, 00:00-23:59) on schedule index 1 of the given aroma
// slot, with total and slot control bits forced on. This reuses the
// schedule-write opcode and therefore overwrites whatever the device holds
// in that slot; the behavior is inherited from the device's own app.
func EncodeIntensityV3(intensity, aromaSlot int) []byte {
	frame := make([]byte, intensityV3Len)
	frame[0] = CmdScheduleWriteV3
	frame[1] = byte(aromaSlot)
	frame[2] = 0x02
	frame[3] = 0x03 // total control: fan=1, fog=1
	frame[4] = 0x00
	frame[5] = 1    // schedule index
	frame[6] = 0x03 // slot control: fan=1, enabled=1
	frame[7] = 0    // hour on
	frame[8] = 0    // minute on
	frame[9] = 23   // hour off
	frame[10] = 59  // minute off
	frame[11] = 0x7F // repeat all week
	frame[12] = 0    // custom intensity flag
	frame[13] = byte(intensity)
	return frame
}

// EncodeScheduleV2 builds the V2 15-byte schedule-write frame. The control
// byte packs the enabled bit and a 4-bit slot index. Enabling writes an
// all-week repeat mask over an always-on window; disabling zeroes the mask.
func EncodeScheduleV2(enabled bool, intensity, index int) []byte {
	var enabledBit byte
	repeat := byte(0x00)
	if enabled {
		enabledBit = 1
		repeat = 0x7F
	}
	frame := make([]byte, scheduleV2Len)
	frame[0] = CmdScheduleWriteV2
	frame[1] = enabledBit | byte(index)<<1
	frame[2] = 0  // hour on
	frame[3] = 0  // minute on
	frame[4] = 23 // hour off
	frame[5] = 59 // minute off
	frame[6] = repeat
	frame[7] = byte(intensity)
	return frame
}

// EncodeTimeSync builds the dialect-specific time synchronization frame for
// the given wall-clock time. Sent fire-and-forget after every login.
func EncodeTimeSync(info DeviceInfo, t time.Time) []byte {
	opcode := byte(CmdTimeV3)
	if !info.IsV3() {
		opcode = CmdTimeV2
	}
	return []byte{
		opcode,
		byte(DeviceWeekday(t)),
		byte(t.Year() % 100),
		byte(t.Month()),
		byte(t.Day()),
		byte(t.Hour()),
		byte(t.Minute()),
		byte(t.Second()),
	}
}

// DeviceWeekday converts a wall-clock time to the device's day-of-week
// convention, 0 = Sunday through 6 = Saturday.
func DeviceWeekday(t time.Time) int {
	return int(t.Weekday())
}

// EncodeReadName builds the read-device-name request (shared by both
// dialects; the response opcode identifies the generation).
func EncodeReadName() []byte {
	return []byte{CmdReadName}
}

// EncodeReadVersion builds the firmware version request.
func EncodeReadVersion(info DeviceInfo) []byte {
	if info.IsV3() {
		return []byte{CmdVersionV3}
	}
	return []byte{CmdVersionV2}
}

// EncodeReadLimits builds the intensity/schedule limits request.
func EncodeReadLimits(info DeviceInfo) []byte {
	if info.IsV3() {
		return []byte{CmdLimitsV3}
	}
	return []byte{CmdLimitsV2}
}
