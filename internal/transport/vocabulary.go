package transport

import "strings"

const (
	Zigbee   = "zigbee"
	ZWave    = "zwave"
	BLE      = "ble"
	WiFi     = "wifi"
	Infrared = "infrared"
	RF433    = "rf433"
	RF868    = "rf868"
)

var allTransports = []string{
	Zigbee,
	ZWave,
	BLE,
	WiFi,
	Infrared,
	RF433,
	RF868,
}

func AllTransports() []string {
	out := make([]string, len(allTransports))
	copy(out, allTransports)
	return out
}

func IsValid(transport string) bool {
	transport = Normalize(transport)
	for _, t := range allTransports {
		if t == transport {
			return true
		}
	}
	return false
}

func Normalize(transport string) string {
	return strings.ToLower(strings.TrimSpace(transport))
}

// NormalizeList lowercases, trims, de-duplicates, and drops anything outside
// the vocabulary. Order of first appearance is preserved.
func NormalizeList(transports []string) []string {
	if len(transports) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(transports))
	out := make([]string, 0, len(transports))
	for _, raw := range transports {
		t := Normalize(raw)
		if t == "" || !IsValid(t) {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
