package w77q

import "context"

// WatchdogConfigSet writes AWDTCFG (spec §6). Requires full access on
// the section the watchdog is bound to, or an active device-master
// session for the device-wide default.
func (c *Context) WatchdogConfigSet(ctx context.Context, cfg WatchdogConfig) error {
	raw := encodeAWDTCFG(cfg)
	payload := make([]byte, 4)
	putU32LE(payload, raw)
	if _, err := c.secExchange(ctx, cmdConfigWatchdog, c.keys.kid, cfg.Section, payload, 0); err != nil {
		return err
	}
	c.watchdogSecure = cfg.AuthWDT
	c.watchdogSection = cfg.Section
	return nil
}

func (c *Context) WatchdogConfigGet(ctx context.Context) (WatchdogConfig, error) {
	resp, err := c.secExchange(ctx, cmdGetWatchdog, c.keys.kid, c.watchdogSection, nil, 4)
	if err != nil {
		return WatchdogConfig{}, err
	}
	return decodeAWDTCFG(readU32LE(resp)), nil
}

// WatchdogTouch resets the countdown without altering configuration
// (the "pet the watchdog" operation).
func (c *Context) WatchdogTouch(ctx context.Context) error {
	_, err := c.secExchange(ctx, cmdTouchWatchdog, c.keys.kid, c.watchdogSection, nil, 0)
	return err
}

// WatchdogTrigger forces immediate expiry, used to test the
// configured response action without waiting out the real timeout.
func (c *Context) WatchdogTrigger(ctx context.Context) error {
	_, err := c.secExchange(ctx, cmdTriggerWatchdog, c.keys.kid, c.watchdogSection, nil, 0)
	return err
}

func (c *Context) WatchdogStatus(ctx context.Context) (WatchdogStatus, error) {
	resp, err := c.secExchange(ctx, cmdGetWatchdog, c.keys.kid, c.watchdogSection, []byte{1}, 4)
	if err != nil {
		return WatchdogStatus{}, err
	}
	return decodeAWDTSR(readU32LE(resp)), nil
}
