// SPDX-License-Identifier: Apache-2.0

package aromalink

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// DecodeLoginResponse parses the echo frame the device returns for a login
// write. The frame must carry the login opcode or it is rejected outright.
//
// The echoed string determines the protocol generation:
//   - "ERROR" -> LoginError
//   - length <= 2 -> legacy V2 device, version fixed at 2.0, no feature flags
//   - otherwise a 3-character version substring at offset 4 (falling back to
//     3.0 when unparseable); for version 3.0 frames long enough, a feature
//     byte packs five capability bits
//
// When the echo is long enough to include a pair-code prefix it is compared
// against the first two characters of pairCode to distinguish success from
// a rejected pairing; shorter echoes default to success.
func DecodeLoginResponse(data []byte, pairCode string) (LoginState, DeviceInfo, error) {
	info := NewDeviceInfo()

	if len(data) == 0 || data[0] != CmdLogin {
		return LoginError, info, fmt.Errorf("not a login response: % X", data)
	}

	echo := string(data[1:])
	if echo == "ERROR" {
		return LoginError, info, nil
	}

	if len(echo) <= 2 {
		info.HIDVersion = true
		info.BlueVersion = 2.0
		info.HasManyAroma = false
	} else {
		info.BlueVersion = 3.0
		if len(echo) >= 7 {
			if v, err := strconv.ParseFloat(echo[4:7], 64); err == nil {
				info.BlueVersion = v
			}
		}
		if info.BlueVersion == 3.0 && len(data) > 13 {
			feature := data[13]
			info.HasOil = feature&0x01 != 0
			info.HasBattery = feature&0x02 != 0
			info.HasCustomIntensity = feature&0x04 != 0
			info.HasManyAroma = feature&0x08 != 0
			info.HasFan = feature&0x10 != 0
		}
	}

	if len(echo) >= 9 && len(pairCode) >= 2 {
		if echo[7:9] != pairCode[:2] {
			return LoginFailed, info, nil
		}
	}
	return LoginSuccess, info, nil
}

// DecodeNameResponse extracts the device name from a read-name reply,
// handling both dialects' response layouts. Returns false for frames that
// are not name responses.
func DecodeNameResponse(data []byte) (string, bool) {
	if len(data) < 2 {
		return "", false
	}
	switch data[0] {
	case RespNameV2:
		if len(data) < 3 {
			return "", false
		}
		return trimDeviceString(data[2:]), true
	case RespNameV3:
		return trimDeviceString(data[1:]), true
	default:
		return "", false
	}
}

// DecodeVersionResponse extracts the two firmware version strings (controller
// board, equipment) from a version reply: two fixed 16-byte UTF-8 fields.
func DecodeVersionResponse(data []byte) (pcb, equipment string, ok bool) {
	if len(data) <= 17 {
		return "", "", false
	}
	return trimDeviceString(data[1:17]), trimDeviceString(data[17:]), true
}

// decodeLimits applies a V3 limits frame to info: max intensity plus the
// big-endian minute bounds for custom on/off windows. A zero max byte is
// floored to 1 so a corrupt frame cannot disable clamping.
func decodeLimits(data []byte, info *DeviceInfo) error {
	if len(data) < 10 || data[0] != RespLimitsV3 {
		return fmt.Errorf("short limits frame: % X", data)
	}
	info.MaxIntensity = maxIntensityFloor(int(data[1]))
	info.CustomOnMin = int(binary.BigEndian.Uint16(data[2:4]))
	info.CustomOnMax = int(binary.BigEndian.Uint16(data[4:6]))
	info.CustomOffMin = int(binary.BigEndian.Uint16(data[6:8]))
	info.CustomOffMax = int(binary.BigEndian.Uint16(data[8:10]))
	return nil
}

// DecodeLimitsResponse applies a limits response to info. Short V3
// frames still carry the max intensity in the second byte; the V2
// response has no usable payload and leaves info untouched.
func DecodeLimitsResponse(data []byte, info *DeviceInfo) {
	if len(data) < 2 || data[0] != RespLimitsV3 {
		return
	}
	if decodeLimits(data, info) != nil {
		info.MaxIntensity = maxIntensityFloor(int(data[1]))
	}
}

func maxIntensityFloor(max int) int {
	if max < 1 {
		return 1
	}
	return max
}

// trimDeviceString converts a fixed-width UTF-8 field to a string, dropping
// trailing and embedded NUL padding.
func trimDeviceString(b []byte) string {
	s := strings.TrimRight(string(b), "\x00")
	return strings.ReplaceAll(s, "\x00", "")
}
