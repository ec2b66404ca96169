// SPDX-License-Identifier: Apache-2.0

package aromalink

import (
	"encoding/binary"
	"fmt"
)

// BurstDecoder folds the unsolicited post-login data burst into device
// state. The burst is an ordered stream of ~10 notification frames with no
// count or terminator; frames must be applied in arrival order because the
// oil-amounts frame correlates positionally with the oil-names frame that
// precedes it. Unknown opcodes are ignored for forward compatibility, and a
// malformed frame reports an error without poisoning the rest of the burst.
type BurstDecoder struct {
	info  *DeviceInfo
	state *DeviceState

	oilNames     []string
	seenSchedule bool
}

// NewBurstDecoder prepares info/state for a fresh burst. List fields are
// cleared so entries from a previous burst cannot survive.
func NewBurstDecoder(info *DeviceInfo, state *DeviceState) *BurstDecoder {
	state.ResetLists()
	return &BurstDecoder{info: info, state: state}
}

// Decode applies one burst frame. The returned error marks a decode anomaly
// the caller should log and skip; it never invalidates prior frames.
func (d *BurstDecoder) Decode(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	switch data[0] {
	case RespBufferClear:
		// Signals the start of the burst; carries nothing.
		return nil

	case RespLimitsV3:
		return decodeLimits(data, d.info)

	case RespNameV3:
		d.state.DeviceName = trimDeviceString(data[1:])
		return nil

	case RespProductName:
		d.state.ProductName = trimDeviceString(data[1:])
		return nil

	case RespDeviceLabelV3:
		d.state.DeviceLabel = trimDeviceString(data[1:])
		return nil

	case RespIdentifier:
		d.state.DeviceIdentifier = trimDeviceString(data[1:])
		return nil

	case RespScheduleV3:
		return d.decodeScheduleV3(data)

	case RespIntensityPresets:
		// Informational preset table; nothing in it feeds state.
		return nil

	case RespOilNamesV3:
		d.oilNames = decodeOilNames(data)
		return nil

	case RespOilAmountsV3:
		return d.decodeOilAmounts(data)

	case RespVersionV3:
		pcb, equipment, ok := DecodeVersionResponse(data)
		if !ok {
			return fmt.Errorf("short version frame: % X", data)
		}
		d.state.PCBVersion = pcb
		d.state.EquipmentVersion = equipment
		return nil

	case RespScheduleV2:
		return d.decodeScheduleV2(data)

	case RespOilV2:
		return d.decodeOilV2(data)

	default:
		// Unknown opcode: newer firmware, ignore.
		return nil
	}
}

// decodeScheduleV3 parses a 0x4A schedule frame. Besides the slot
// configuration, the total-control bits mirror the device's live power
// state: the frame for index 1 (or the first one seen) is authoritative for
// power/fan/intensity/active-slot, and later frames must not overwrite it.
func (d *BurstDecoder) decodeScheduleV3(data []byte) error {
	if len(data) < 14 {
		return fmt.Errorf("short V3 schedule frame: % X", data)
	}

	sch := ScheduleSlot{
		Aroma:      int(data[1]),
		Index:      int(data[5]),
		HourOn:     int(data[7]),
		MinuteOn:   int(data[8]),
		HourOff:    int(data[9]),
		MinuteOff:  int(data[10]),
		RepeatDays: data[11] & 0x7F,
		Intensity:  int(data[13]),
	}

	totalControl := data[3]
	sch.TotalFan = totalControl&0x01 != 0
	sch.TotalFog = totalControl&0x02 != 0

	slotControl := data[6]
	sch.FanEnabled = slotControl&0x01 != 0
	sch.Enabled = slotControl&0x02 != 0

	if sch.Index == 1 || !d.seenSchedule {
		d.state.IsOn = sch.TotalFog
		d.state.FanOn = sch.TotalFan
		d.state.Intensity = sch.Intensity
		d.state.ActiveSchedule = int(data[4])
	}
	d.seenSchedule = true
	d.state.Schedules = append(d.state.Schedules, sch)
	return nil
}

// decodeScheduleV2 parses a 0x83 schedule frame. Slot 1 doubles as the V2
// power-state source and, when long enough, embeds oil and battery data.
func (d *BurstDecoder) decodeScheduleV2(data []byte) error {
	if len(data) < 8 {
		return fmt.Errorf("short V2 schedule frame: % X", data)
	}

	control := data[1]
	sch := ScheduleSlot{
		Index:      int(control >> 1 & 0x0F),
		Enabled:    control&0x01 != 0,
		HourOn:     int(data[2]),
		MinuteOn:   int(data[3]),
		HourOff:    int(data[4]),
		MinuteOff:  int(data[5]),
		RepeatDays: data[6] & 0x7F,
		Intensity:  int(data[7]),
	}

	if sch.Index == 1 {
		d.state.IsOn = sch.Enabled
		if sch.Intensity > 0 {
			d.state.Intensity = sch.Intensity
		} else {
			d.state.Intensity = 1
		}
		if len(data) > 14 {
			remainder := int(binary.BigEndian.Uint16(data[10:12]))
			total := int(binary.BigEndian.Uint16(data[12:14]))
			d.state.Oils = []OilSlot{{Name: "Oil 1", Total: total, Remainder: remainder}}
			d.state.BatteryLevel = int(data[14])
		}
	}

	d.state.Schedules = append(d.state.Schedules, sch)
	return nil
}

// decodeOilNames parses the 0x48 frame: consecutive 16-byte fixed-width
// UTF-8 name records. Blank records get a synthesized "Oil N" name.
func decodeOilNames(data []byte) []string {
	var names []string
	for i := 1; i+oilNameRecordLen <= len(data); i += oilNameRecordLen {
		name := trimDeviceString(data[i : i+oilNameRecordLen])
		if name == "" {
			name = fmt.Sprintf("Oil %d", len(names)+1)
		}
		names = append(names, name)
	}
	return names
}

// decodeOilAmounts parses the 0x4B frame: a battery byte followed by
// repeating big-endian total/remainder pairs. Amounts correlate with the
// names frame by position; missing names fall back to "Oil N".
func (d *BurstDecoder) decodeOilAmounts(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("short oil amounts frame: % X", data)
	}

	d.state.BatteryLevel = int(data[1])

	idx := 0
	for i := 2; i+4 <= len(data); i += 4 {
		total := int(binary.BigEndian.Uint16(data[i : i+2]))
		remainder := int(binary.BigEndian.Uint16(data[i+2 : i+4]))

		name := fmt.Sprintf("Oil %d", idx+1)
		if idx < len(d.oilNames) {
			name = d.oilNames[idx]
		}
		d.state.Oils = append(d.state.Oils, OilSlot{Name: name, Total: total, Remainder: remainder})
		idx++
	}
	return nil
}

// decodeOilV2 parses the 0x91 frame. V2 never reports a total capacity, so
// the slot is stored with Total 0 and its percentage reads as 0.
func (d *BurstDecoder) decodeOilV2(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("short V2 oil frame: % X", data)
	}
	remainder := int(binary.BigEndian.Uint16(data[1:3]))
	d.state.Oils = []OilSlot{{Name: "Oil 1", Total: 0, Remainder: remainder}}
	d.state.BatteryLevel = int(data[3])
	return nil
}
