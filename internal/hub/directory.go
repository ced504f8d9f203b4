package hub

import (
	"context"
	"fmt"

	"fleetwatch/core-go/internal/fleet"
)

// deviceJSON mirrors the hub's device resource. Only the fields the monitor
// consumes are declared.
type deviceJSON struct {
	ID              string                    `json:"id"`
	Name            string                    `json:"name"`
	Class           string                    `json:"class"`
	VirtualClass    string                    `json:"virtualClass"`
	Zone            string                    `json:"zone"`
	DriverID        string                    `json:"driverId"`
	Flags           []string                  `json:"flags"`
	Capabilities    []string                  `json:"capabilities"`
	CapabilitiesObj map[string]capabilityJSON `json:"capabilitiesObj"`
	Settings        map[string]any            `json:"settings"`
}

type capabilityJSON struct {
	Value       any    `json:"value"`
	LastUpdated string `json:"lastUpdated"`
}

type zoneJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Devices fetches the full device directory as one snapshot.
func (c *Client) Devices(ctx context.Context) ([]fleet.Device, error) {
	var raw map[string]deviceJSON
	if err := c.getJSON(ctx, "/api/manager/devices/device", &raw); err != nil {
		return nil, fmt.Errorf("fetch device directory: %w", err)
	}

	out := make([]fleet.Device, 0, len(raw))
	for id, d := range raw {
		if d.ID == "" {
			d.ID = id
		}
		out = append(out, toDevice(d))
	}
	return out, nil
}

// Zones fetches the zone directory as id→name pairs.
func (c *Client) Zones(ctx context.Context) (map[string]string, error) {
	var raw map[string]zoneJSON
	if err := c.getJSON(ctx, "/api/manager/zones/zone", &raw); err != nil {
		return nil, fmt.Errorf("fetch zone directory: %w", err)
	}

	out := make(map[string]string, len(raw))
	for id, z := range raw {
		if z.ID != "" {
			id = z.ID
		}
		out[id] = z.Name
	}
	return out, nil
}

// SetCapabilityValue writes one capability value on one device.
func (c *Client) SetCapabilityValue(ctx context.Context, deviceID, capability string, value any) error {
	path := fmt.Sprintf("/api/manager/devices/device/%s/capability/%s", deviceID, capability)
	if err := c.putJSON(ctx, path, map[string]any{"value": value}); err != nil {
		return fmt.Errorf("set %s on %s: %w", capability, deviceID, err)
	}
	return nil
}

// Tag publishes a named value to the hub's logic layer, where automations can
// pick it up.
func (c *Client) Tag(ctx context.Context, name string, value any) error {
	path := fmt.Sprintf("/api/manager/logic/tag/%s", name)
	if err := c.putJSON(ctx, path, map[string]any{"value": value}); err != nil {
		return fmt.Errorf("publish tag %s: %w", name, err)
	}
	return nil
}

func toDevice(d deviceJSON) fleet.Device {
	var observations map[string]fleet.CapabilityObservation
	if len(d.CapabilitiesObj) > 0 {
		observations = make(map[string]fleet.CapabilityObservation, len(d.CapabilitiesObj))
		for name, obs := range d.CapabilitiesObj {
			observations[name] = fleet.CapabilityObservation{
				Value:       obs.Value,
				LastUpdated: obs.LastUpdated,
			}
		}
	}
	return fleet.Device{
		ID:           d.ID,
		Name:         d.Name,
		Class:        d.Class,
		VirtualClass: d.VirtualClass,
		ZoneID:       d.Zone,
		DriverID:     d.DriverID,
		Flags:        d.Flags,
		Capabilities: d.Capabilities,
		Observations: observations,
		Settings:     d.Settings,
	}
}
