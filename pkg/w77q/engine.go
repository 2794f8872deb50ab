package w77q

import (
	"context"
	"encoding/binary"
)

// Connect probes the device over the safest bus mode, then switches
// to the requested mode/DTR and synchronizes host state from the
// device's reset-time registers (spec §4.6 Initialization).
func (c *Context) Connect(ctx context.Context, mode BusMode, dtr bool) error {
	if c.bus.locked {
		return newErr("Connect", CodeIncorrectState)
	}
	if _, err := c.autosense(ctx); err != nil {
		return err
	}
	if mode == BusQPI {
		if err := c.enterQPI(ctx); err != nil {
			return err
		}
	}
	if err := c.setInterface(mode, dtr); err != nil {
		return err
	}
	if err := c.syncAfterReset(ctx); err != nil {
		return err
	}
	c.bus.locked = true
	return nil
}

// Disconnect drops any open session and clears host-side bus state.
// It does not reset the physical device.
func (c *Context) Disconnect() {
	c.keys.closeSession()
	c.bus.locked = false
	c.ssrValid = false
}

// syncAfterReset re-reads SSR to capture POR/fallback/watchdog flags
// and caches the GMT-derived section enable/size state every
// subsequent call consults (spec §4.6 step 2, §3 Context.sectionState).
func (c *Context) syncAfterReset(ctx context.Context) error {
	s, err := c.pollUntilReady(ctx)
	if err != nil {
		return err
	}
	c.resetStatus = ResetStatus{
		PowerOnReset:  s.POR(),
		FallbackRemap: s.FBRemap(),
		WatchdogExp:   s.AWDTExp(),
	}

	resp, err := c.secExchange(ctx, cmdGetDeviceConfig, InvalidKID, 0, nil, 40)
	if err != nil {
		return err
	}
	gmcDec := decodeGMC(resp[0:20])
	gmtDec := decodeGMT(resp[20:40])
	c.addrSize = gmcDec.AddressSize()
	for i := 0; i < 8; i++ {
		c.sections[i].enabled = gmtDec.sectionEnabled(i)
		c.sections[i].sizeTag = gmtDec.sectionLenTag(i)
	}

	c.mcInSync = true
	return nil
}

// OpenSession performs the nonce exchange, derives the session key
// from the caller-supplied per-section key, and installs it (spec
// §4.6 OpenSession). A device_integrity_err response is tolerated
// (IsTolerated) since it only reflects a stale stored CRC on an
// otherwise correctly-authenticated section.
func (c *Context) OpenSession(ctx context.Context, section byte, access AccessType, sectionKey []byte) error {
	if c.keys.isSessionOpen() {
		return newErr("OpenSession", CodeIncorrectState)
	}
	if len(sectionKey) != 16 {
		return newErr("OpenSession", CodeInvalidDataSize)
	}
	if !c.sectionEnabled(section) {
		return newErr("OpenSession", CodeParameterOutOfRange)
	}

	if !c.mcInSync {
		if err := c.syncMonotonicCounter(ctx); err != nil {
			return err
		}
	}

	trngNonce, err := c.transport.Nonce(ctx)
	if err != nil {
		return wrapErr("OpenSession", CodeConnectivityErr, err)
	}
	// Reseed the host PRNG from the OS CSPRNG every session and fold
	// its output into the TRNG nonce: a compromised or stuck hardware
	// TRNG degrades the nonce's entropy instead of eliminating it.
	seed, err := randomSeed()
	if err != nil {
		return wrapErr("OpenSession", CodeSystemErr, err)
	}
	c.crypto.prng.reseed(seed)
	hostNonce := trngNonce ^ c.crypto.prng.next()

	var nonceBytes [8]byte
	binary.LittleEndian.PutUint64(nonceBytes[:], hostNonce)

	var kidType KIDType
	switch access {
	case AccessFull:
		kidType = KIDFullAccessSection
	case AccessConfigOnly:
		kidType = KIDSectionProvision
	default:
		kidType = KIDRestrictedSection
	}
	kid := MakeKID(kidType, section)

	resp, err := c.secExchangeWithKey(ctx, sectionKey, cmdOpenSession, kid, section, nonceBytes[:], 8)
	if err != nil && !IsTolerated("OpenSession", err) {
		return err
	}
	toleratedErr := err

	deviceNonceEcho := binary.LittleEndian.Uint64(resp[0:8])
	sessionKey, derr := c.crypto.deriveSessionKey(ctx, sectionKey, hostNonce, deviceNonceEcho)
	if derr != nil {
		return derr
	}

	c.keys.openSession(kid, sessionKey)
	if err := c.keys.loadKey(section, sectionKey, access == AccessFull); err != nil {
		return err
	}

	if cfg, cerr := c.GetSectionConfiguration(ctx, section); cerr == nil {
		if cfg.Policy.PlainAccessRead || cfg.Policy.PlainAccessWrite {
			c.sections[section].plainEnabled = true
		}
	}

	return toleratedErr
}

// CloseSession ends the current secure session (spec §4.6). It clears
// the key binding and TC-signing key and the plain-access flag of every
// section; the cached section enable/size state is kept.
func (c *Context) CloseSession(ctx context.Context) error {
	if !c.keys.isSessionOpen() {
		return newErr("CloseSession", CodeSessionErr)
	}
	_, err := c.secExchange(ctx, cmdCloseSession, c.keys.kid, c.keys.kid.Section(), nil, 0)
	c.keys.closeSession()
	c.clearPlainAccess()
	return err
}

// GetId returns the host's stored Winbond ID. Only ImportState sets
// it; Connect and the sync after reset do not read the ID from the
// device, so it is zero until a state is imported.
func (c *Context) GetId() uint64 { return c.wid }

// GetHWVersion reads the device's hardware/silicon revision.
func (c *Context) GetHWVersion(ctx context.Context) (uint32, error) {
	id, err := c.readJEDECID(ctx)
	if err != nil {
		return 0, err
	}
	return uint32(id[0])<<16 | uint32(id[1])<<8 | uint32(id[2]), nil
}

// GetVersion returns the device's secure-firmware version word; valid
// without an open session (spec §6 GMC.version).
func (c *Context) GetVersion(ctx context.Context) (uint32, error) {
	resp, err := c.secExchange(ctx, cmdGetVersion, InvalidKID, 0, nil, 4)
	if err != nil {
		return 0, err
	}
	return readU32LE(resp), nil
}

// SetMultiTransaction toggles the CTAG multi-transaction flag that
// elides device-side cleanup between back-to-back secure ops issued
// without an intervening CloseSession (spec §4.3).
func (c *Context) SetMultiTransaction(enabled bool) { c.multiTxn = enabled }

// lastSSR returns the most recently observed Secure Status Register,
// and whether the cache has been populated yet.
func (c *Context) lastSSR() (ssr, bool) { return c.ssrCache, c.ssrValid }
