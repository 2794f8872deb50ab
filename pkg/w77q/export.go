package w77q

import "context"

// ExportState snapshots the bus configuration and reset status so a
// second host can resume driving this device without repeating
// autosense/Connect (spec §6).
func (c *Context) ExportState() ExportedState {
	return ExportedState{
		BusMode:     c.bus.mode,
		DTR:         c.bus.dtr,
		WID:         c.wid,
		ResetStatus: c.resetStatus,
	}
}

// ImportState restores a previously exported bus configuration onto
// this Context. It does not reopen any session; the new host must
// still call OpenSession with its own copy of the section key.
func (c *Context) ImportState(state ExportedState) error {
	if err := c.setInterface(state.BusMode, state.DTR); err != nil {
		return err
	}
	c.wid = state.WID
	c.resetStatus = state.ResetStatus
	c.bus.locked = true
	return nil
}

// GetNotifications reports TC/DMC maintenance conditions the caller
// should act on (spec §5, §9). McMaintenance reflects the device's own
// SSR MC_MAINT field, cached on the last poll; it never contacts the
// device itself.
func (c *Context) GetNotifications() Notifications {
	return Notifications{
		McMaintenance: c.ssrValid && c.ssrCache.MCMaint() != 0,
		ResetDevice:   c.tc >= 0xFFFF_FFF0,
		ReplaceDevice: c.dmc >= 0x3FFF_F000,
	}
}

// PerformMaintenance issues the device's monotonic-counter rollover
// command repeatedly until GetNotifications no longer reports
// McMaintenance, each round advancing DMC by one and resetting TC
// (spec §4.5, §8 scenario 6). The device clears MC_MAINT itself once
// the rollover completes; pollUntilReady's SSR refresh after each
// exchange is what GetNotifications observes next iteration.
func (c *Context) PerformMaintenance(ctx context.Context) error {
	for c.GetNotifications().McMaintenance {
		if _, err := c.secExchange(ctx, cmdPerformMaint, c.keys.kid, 0, nil, 0); err != nil {
			return err
		}
		c.dmc++
		c.tc = 0
	}
	return nil
}
