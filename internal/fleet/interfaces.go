package fleet

import "context"

// Directory fetches the current device population. Each call returns a fresh
// snapshot; the monitor re-fetches rather than caching across passes.
type Directory interface {
	Devices(ctx context.Context) ([]Device, error)
}

// ZoneDirectory maps zone IDs to display names.
type ZoneDirectory interface {
	Zones(ctx context.Context) (map[string]string, error)
}

// CapabilityWriter performs the one mutation the monitor is allowed: writing
// a capability value on a device. The monitor only ever writes a value it
// just read, so the write must be idempotent on the hub side.
type CapabilityWriter interface {
	SetCapabilityValue(ctx context.Context, deviceID, capability string, value any) error
}

// TagSink publishes a named report value to the external automation layer.
type TagSink interface {
	Tag(ctx context.Context, name string, value any) error
}
