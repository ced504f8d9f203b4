package transport

import (
	"sort"
	"strings"

	"fleetwatch/core-go/internal/fleet"
)

// needles are substring signals checked against technology flags and driver
// identifiers. Transport detection is a heuristic OR across signals: no field
// is guaranteed present, so every source contributes and none overrides.
var needles = map[string][]string{
	Zigbee:   {"zigbee"},
	ZWave:    {"zwave", "z-wave"},
	BLE:      {"ble", "bluetooth"},
	WiFi:     {"wifi", "wlan"},
	Infrared: {"infrared"},
	RF433:    {"433"},
	RF868:    {"868"},
}

// settingsPrefixes maps the two-letter settings-key prefixes some protocol
// stacks stamp onto device settings (e.g. "zw_node_id", "zb.endpoint").
var settingsPrefixes = map[string]string{
	"zw": ZWave,
	"zb": Zigbee,
}

var prefixSeparators = []string{"_", "."}

// Classify infers the transports a device communicates over from its flags,
// driver identifier, and settings keys. All evidence is unioned; a device can
// legitimately match zero, one, or several transports. The result is sorted
// for stable output.
func Classify(d fleet.Device) []string {
	found := make(map[string]struct{})

	for _, flag := range d.Flags {
		matchNeedles(strings.ToLower(flag), found)
	}
	matchNeedles(strings.ToLower(d.DriverID), found)

	for key := range d.Settings {
		key = strings.ToLower(key)
		for prefix, tr := range settingsPrefixes {
			for _, sep := range prefixSeparators {
				if strings.HasPrefix(key, prefix+sep) {
					found[tr] = struct{}{}
				}
			}
		}
	}

	if len(found) == 0 {
		return nil
	}
	out := make([]string, 0, len(found))
	for t := range found {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Matches reports whether any classified transport is in wanted. An empty
// wanted set matches everything.
func Matches(classified []string, wanted map[string]struct{}) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, t := range classified {
		if _, ok := wanted[t]; ok {
			return true
		}
	}
	return false
}

func matchNeedles(haystack string, found map[string]struct{}) {
	if haystack == "" {
		return
	}
	for tr, subs := range needles {
		for _, sub := range subs {
			if strings.Contains(haystack, sub) {
				found[tr] = struct{}{}
			}
		}
	}
}
