package w77q

import "context"

// DeviceConfig is the bulk-provisioning input to ConfigDevice (spec
// §4.6 ConfigDevice). Nil/zero fields mean "leave as-is".
type DeviceConfig struct {
	DeviceMasterKey []byte           // current device master key, required to open the master session
	NewKeys         map[KID][16]byte // slots to provision via the key-provisioning protocol
	SUID            []byte           // 16-byte secure unique ID, set once
	DevCfg          *uint32          // GMC.DEVCFG overlay bits to merge in
	WatchdogDefault *uint32          // GMC.AWDTDefault
	Sections        map[byte]SectionConfig
	ResetResponse   []byte // 72-byte blob, see resetconfig.go
}

// ConfigDevice performs bulk provisioning in this order: keys first
// (so later steps can authenticate with them), then SUID, then GMC,
// then policies of sections that already have a size, then a flash
// reset when cfg.Sections is non-empty, then reset-response data and
// the remaining section policies. It does not write a new GMT: section
// sizes on the device are left as they are.
func (c *Context) ConfigDevice(ctx context.Context, cfg DeviceConfig) error {
	for slot, key := range cfg.NewKeys {
		if err := c.provisionKey(ctx, slot, key, cfg.DeviceMasterKey); err != nil {
			return err
		}
	}

	needsMaster := cfg.SUID != nil || cfg.DevCfg != nil || cfg.WatchdogDefault != nil || len(cfg.Sections) > 0
	if needsMaster {
		if err := c.OpenSession(ctx, 0, AccessFull, cfg.DeviceMasterKey); err != nil {
			return err
		}
	}
	closeSessionIfOpen := func() error {
		if !c.keys.isSessionOpen() {
			return nil
		}
		return c.CloseSession(ctx)
	}
	defer closeSessionIfOpen()

	if cfg.SUID != nil {
		if _, err := c.secExchange(ctx, cmdSetKey, c.keys.kid, 0, cfg.SUID, 0); err != nil {
			return err
		}
	}

	if cfg.DevCfg != nil || cfg.WatchdogDefault != nil {
		payload := make([]byte, 8)
		if cfg.WatchdogDefault != nil {
			putU32LE(payload[0:4], *cfg.WatchdogDefault)
		}
		if cfg.DevCfg != nil {
			putU32LE(payload[4:8], *cfg.DevCfg)
		}
		if _, err := c.secExchange(ctx, cmdConfigSection, c.keys.kid, 0, payload, 0); err != nil {
			return err
		}
	}

	deferred := map[byte]SectionConfig{}
	for section, sc := range cfg.Sections {
		if c.sections[section].sizeTag != 0 {
			if err := c.ConfigSection(ctx, section, sc); err != nil {
				return err
			}
		} else {
			deferred[section] = sc
		}
	}

	// Step 5: whenever cfg.Sections is non-empty the flash goes through
	// a reset cycle (no GMT is written first). The reset tears down any
	// open device session, so close it host-side first and reopen
	// afterward if the remaining steps need one.
	if len(cfg.Sections) > 0 {
		if err := closeSessionIfOpen(); err != nil {
			return err
		}
		if err := c.resetFlash(ctx); err != nil {
			return err
		}
	}

	if (cfg.ResetResponse != nil || len(deferred) > 0) && !c.keys.isSessionOpen() {
		if err := c.OpenSession(ctx, 0, AccessFull, cfg.DeviceMasterKey); err != nil {
			return err
		}
	}

	if cfg.ResetResponse != nil {
		if err := c.SetResetResponseConfig(ctx, cfg.ResetResponse); err != nil {
			return err
		}
	}
	for section, sc := range deferred {
		if err := c.ConfigSection(ctx, section, sc); err != nil {
			return err
		}
	}
	return nil
}

// InitDevice is a thin convenience wrapper for the common case of
// first-time provisioning straight after Connect: it runs
// ConfigDevice and then re-syncs host state from the fresh GMT/GMC.
func (c *Context) InitDevice(ctx context.Context, cfg DeviceConfig) error {
	if err := c.ConfigDevice(ctx, cfg); err != nil {
		return err
	}
	return c.syncAfterReset(ctx)
}
