package w77q

import "context"

// resetResponseLen is the size of the configuration blob the device
// returns immediately after reset when DEVCFG.RST_RESP_EN is set
// (original_source qlib_sample_qconf.c).
const resetResponseLen = 72

// ReadResetResponse captures the reset-response blob. It must be
// called immediately after ResetFlash/Connect, before any other SPI
// transaction reaches the device, or the data is gone (spec §4.6
// ConfigDevice step 6).
func (c *Context) ReadResetResponse(ctx context.Context) ([]byte, error) {
	resp, err := c.plainRead(ctx, 0, resetResponseLen)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetResetResponseConfig reads the provisioned reset-response blob via
// the secure channel (readable any time, unlike ReadResetResponse).
func (c *Context) GetResetResponseConfig(ctx context.Context) ([]byte, error) {
	return c.secExchange(ctx, cmdGetResetResponse, c.keys.kid, 0, nil, resetResponseLen)
}

// SetResetResponseConfig provisions the blob the device will emit on
// the next reset. Requires a device-master session.
func (c *Context) SetResetResponseConfig(ctx context.Context, data []byte) error {
	if len(data) != resetResponseLen {
		return newErr("SetResetResponseConfig", CodeInvalidDataSize)
	}
	if c.keys.kid.Type() != KIDDeviceMaster {
		return newErr("SetResetResponseConfig", CodePrivilegeErr)
	}
	_, err := c.secExchange(ctx, cmdSetResetResponse, c.keys.kid, 0, data, 0)
	return err
}

// IsFallbackActive reports whether the device is currently running
// from its shadow boot section after section 7 failed integrity
// verification (spec §3 fallback invariant; original_source
// qlib_sample_qconf.c DEVCFG.FB_EN).
func (c *Context) IsFallbackActive() bool {
	s, ok := c.lastSSR()
	return ok && s.FBRemap()
}

// provisionKey opens a key-provisioning session for slot, installs
// key via SET_KEY, and closes the session (spec §4.6 ConfigDevice step
// 1, original_source qlib_sec.c key-provisioning flow). Valid only on
// a slot that has never been written (a provisioning key derived from
// the device master key, not the slot's own key, authenticates it).
func (c *Context) provisionKey(ctx context.Context, slot KID, key [16]byte, deviceMasterKey []byte) error {
	if c.keys.isSessionOpen() {
		return newErr("provisionKey", CodeIncorrectState)
	}
	provKey := deriveProvisioningKey(deviceMasterKey, slot)

	hostNonce, err := c.transport.Nonce(ctx)
	if err != nil {
		return wrapErr("provisionKey", CodeConnectivityErr, err)
	}
	nonceBytes := make([]byte, 8)
	putU32LE(nonceBytes[0:4], uint32(hostNonce))
	putU32LE(nonceBytes[4:8], uint32(hostNonce>>32))

	if _, err := c.secExchangeWithKey(ctx, provKey[:], cmdOpenSession, slot, slot.Section(), nonceBytes, 0); err != nil {
		return err
	}
	c.keys.openSession(slot, provKey)

	_, err = c.secExchange(ctx, cmdSetKey, slot, slot.Section(), key[:], 0)
	c.keys.closeSession()
	return err
}
