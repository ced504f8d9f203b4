package monitor

import (
	"fleetwatch/core-go/internal/fleet"
)

const (
	batteryLevelCapability = "measure_battery"
	batteryAlarmCapability = "alarm_battery"
)

// lowBatterySweep flags devices at or below the percentage threshold and,
// when configured, devices with an active battery alarm. The two signals are
// independent paths to "low"; both are always evaluated so the report can
// carry level and alarm together.
func (m *Monitor) lowBatterySweep(devices []fleet.Device, zones map[string]string) []LowBatteryDevice {
	var out []LowBatteryDevice
	for _, d := range devices {
		var level *float64
		low := false

		if obs, ok := d.Observation(batteryLevelCapability); ok {
			if f, numeric := toFloat(obs.Value); numeric {
				level = &f
				if f <= float64(m.batteryThreshold) {
					low = true
				}
			}
		}

		alarm := false
		if obs, ok := d.Observation(batteryAlarmCapability); ok {
			if b, isBool := obs.Value.(bool); isBool && b {
				alarm = true
				if m.alarmCountsAsLow {
					low = true
				}
			}
		}

		if !low {
			continue
		}
		out = append(out, LowBatteryDevice{
			ID:    d.ID,
			Name:  d.Name,
			Zone:  zones[d.ZoneID],
			Level: level,
			Alarm: alarm,
		})
	}
	return out
}

// toFloat normalizes the numeric shapes a JSON capability value can take.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
