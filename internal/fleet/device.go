package fleet

// CapabilityObservation is the hub's last known value for one capability of
// one device, together with the raw last-updated timestamp as reported. The
// timestamp may be empty or unparseable; callers decide what that means.
type CapabilityObservation struct {
	Value       any
	LastUpdated string
}

// Device is a read-only snapshot of one hub device. Snapshots are fetched per
// monitoring run and never mutated; the only write the monitor performs goes
// through CapabilityWriter, not through this struct.
type Device struct {
	ID           string
	Name         string
	Class        string
	VirtualClass string
	ZoneID       string
	DriverID     string
	Flags        []string
	Capabilities []string
	Observations map[string]CapabilityObservation
	Settings     map[string]any
}

// HasCapability reports whether the device declares the named capability.
func (d Device) HasCapability(name string) bool {
	for _, c := range d.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// Observation returns the last observation for the named capability, if any.
func (d Device) Observation(name string) (CapabilityObservation, bool) {
	obs, ok := d.Observations[name]
	return obs, ok
}
