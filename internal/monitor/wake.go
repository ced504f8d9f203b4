package monitor

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// wakeCapability is the binary capability written back to itself as a no-op
// poke. The value does not change, but the write forces the protocol stack
// to re-transmit and re-confirm the device's status.
const wakeCapability = "onoff"

// wakeTarget decides whether a device is eligible for a poke and what to
// write. Eligibility requires the toggle capability with a current boolean
// value: without a known value there is nothing idempotent to write back.
func wakeTarget(p *probe) (value any, ok bool) {
	d := p.device
	if !d.HasCapability(wakeCapability) {
		return nil, false
	}
	obs, found := d.Observation(wakeCapability)
	if !found {
		return nil, false
	}
	if _, isBool := obs.Value.(bool); !isBool {
		return nil, false
	}
	return obs.Value, true
}

// wakeFailing issues the poke for every eligible failing device, all of them
// concurrently, and waits for the whole set to settle. One device's failed
// write never blocks or cancels another's; failures are recorded on the
// probe and logged.
func (m *Monitor) wakeFailing(ctx context.Context, log zerolog.Logger, probes []*probe) (attempted, succeeded int) {
	type target struct {
		p     *probe
		value any
	}

	var targets []target
	for _, p := range probes {
		v, ok := wakeTarget(p)
		if !ok {
			continue
		}
		targets = append(targets, target{p: p, value: v})
	}
	if len(targets) == 0 {
		return 0, 0
	}

	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t target) {
			defer wg.Done()

			t.p.state = probeWakeIssued
			t.p.wakeIssued = true
			t.p.wakeAt = m.now()
			t.p.wakeErr = m.writer.SetCapabilityValue(ctx, t.p.device.ID, wakeCapability, t.value)

			if t.p.wakeErr != nil {
				log.Warn().Err(t.p.wakeErr).Str("device", t.p.device.Name).Msg("wake write failed")
				return
			}
			t.p.wakeSucceeded = true
			log.Debug().Str("device", t.p.device.Name).Msg("wake write succeeded")
		}(t)
	}
	wg.Wait()

	for _, t := range targets {
		attempted++
		if t.p.wakeSucceeded {
			succeeded++
		}
	}
	return attempted, succeeded
}
