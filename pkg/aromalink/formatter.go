// SPDX-License-Identifier: Apache-2.0

package aromalink

import (
	"fmt"
	"strings"
)

// FrameName returns the human-readable name for a response opcode.
func FrameName(opcode byte) string {
	switch opcode {
	case RespBufferClear:
		return "BUFFER_CLEAR"
	case RespNameV3:
		return "NAME"
	case RespDeviceLabelV3:
		return "DEVICE_LABEL"
	case RespVersionV3:
		return "VERSION"
	case RespProductName:
		return "PRODUCT_NAME"
	case RespLimitsV3:
		return "LIMITS"
	case RespIntensityPresets:
		return "INTENSITY_PRESETS"
	case RespOilNamesV3:
		return "OIL_NAMES"
	case RespScheduleV3:
		return "SCHEDULE"
	case RespOilAmountsV3:
		return "OIL_AMOUNTS"
	case RespIdentifier:
		return "IDENTIFIER"
	case RespNameV2:
		return "NAME_V2"
	case RespScheduleV2:
		return "SCHEDULE_V2"
	case RespLimitsV2:
		return "LIMITS_V2"
	case RespOilV2:
		return "OIL_V2"
	case CmdLogin:
		return "LOGIN"
	default:
		return "UNKNOWN"
	}
}

// FormatFrame renders a notification frame for the monitor output and debug
// logs: opcode name, length and a decoded summary where the layout is known,
// otherwise a hex dump.
func FormatFrame(data []byte) string {
	if len(data) == 0 {
		return "(empty frame)"
	}

	opcode := data[0]
	header := fmt.Sprintf("%s (0x%02X) len=%d\n", FrameName(opcode), opcode, len(data))

	summary := ""
	switch opcode {
	case RespNameV3, RespDeviceLabelV3, RespProductName, RespIdentifier:
		summary = fmt.Sprintf("  %q\n", trimDeviceString(data[1:]))

	case RespVersionV3:
		if pcb, equipment, ok := DecodeVersionResponse(data); ok {
			summary = fmt.Sprintf("  PCB: %s, Equipment: %s\n", pcb, equipment)
		}

	case RespLimitsV3:
		var info DeviceInfo
		if decodeLimits(data, &info) == nil {
			summary = fmt.Sprintf("  Max intensity: %d, on window: %d-%d min, off window: %d-%d min\n",
				info.MaxIntensity, info.CustomOnMin, info.CustomOnMax, info.CustomOffMin, info.CustomOffMax)
		}

	case RespScheduleV3:
		if len(data) >= 14 {
			summary = fmt.Sprintf("  Slot %d aroma=%d control=0x%02X/0x%02X %02d:%02d-%02d:%02d repeat=%07b intensity=%d\n",
				data[5], data[1], data[3], data[6], data[7], data[8], data[9], data[10], data[11]&0x7F, data[13])
		}

	case RespOilNamesV3:
		summary = fmt.Sprintf("  %s\n", strings.Join(decodeOilNames(data), ", "))

	case RespOilAmountsV3:
		if len(data) >= 2 {
			summary = fmt.Sprintf("  Battery: %d%%\n", data[1])
		}

	case CmdLogin:
		summary = fmt.Sprintf("  Echo: %q\n", string(data[1:]))
	}

	if summary == "" {
		summary = hexDump(data)
	}
	return header + summary
}

func hexDump(data []byte) string {
	var b strings.Builder
	b.WriteString("  Payload: ")
	for i, v := range data {
		if i > 0 && i%16 == 0 {
			b.WriteString("\n           ")
		}
		fmt.Fprintf(&b, "%02X ", v)
	}
	b.WriteString("\n")
	return b.String()
}
