package w77q

import "context"

// SetInterface switches the bus mode/DTR setting used for future
// transactions. Bus mode changes while a session is open are legal;
// the session key is unaffected (spec §4.6).
func (c *Context) SetInterface(mode BusMode, dtr bool) error { return c.setInterface(mode, dtr) }

// ResetFlash issues the SPI reset sequence and, if the platform
// requires it, a CPU reset. It does not resynchronize host state and
// leaves the bus locked, so Connect refuses until Disconnect is
// called.
func (c *Context) ResetFlash(ctx context.Context) error { return c.resetFlash(ctx) }

func (c *Context) Suspend(ctx context.Context) error { return c.suspend(ctx) }
func (c *Context) Resume(ctx context.Context) error  { return c.resume(ctx) }

// Power toggles deep power-down. on=false enters deep power-down;
// on=true releases it.
func (c *Context) Power(ctx context.Context, on bool) error {
	if on {
		return c.releasePowerDown(ctx)
	}
	return c.powerDown(ctx)
}

// LoadKey registers a section key with the key manager so a later
// OpenSession can use it. fullAccess selects the full-access key slot
// over the restricted one.
func (c *Context) LoadKey(section byte, key []byte, fullAccess bool) error {
	return c.keys.loadKey(section, key, fullAccess)
}

// RemoveKey clears a previously loaded section key. Fails if the
// active session is bound to that exact key class.
func (c *Context) RemoveKey(section byte, fullAccess bool) error {
	return c.keys.removeKey(section, fullAccess)
}

// Read dispatches to a secure or plain read depending on whether a
// session covering offset's section is open and the section's plain
// access policy (spec §4.4 AccessType). auth selects SARD over SRD
// for the secure path (spec §4.5 SEC_Read); it has no effect on a
// plain read.
func (c *Context) Read(ctx context.Context, section byte, offset uint32, length int, auth bool) ([]byte, error) {
	if c.keys.isSessionOpen() && c.keys.kid.Section() == section {
		return c.SecureRead(ctx, offset, length, auth)
	}
	if !c.sections[section].plainEnabled {
		return nil, newErr("Read", CodePrivilegeErr)
	}
	return c.plainRead(ctx, c.sectionAddr(section)+offset, length)
}

// Write dispatches to a secure or plain write (spec §4.4).
func (c *Context) Write(ctx context.Context, section byte, offset uint32, data []byte) error {
	if c.keys.isSessionOpen() && c.keys.kid.Section() == section {
		return c.SecureWrite(ctx, offset, data)
	}
	if !c.sections[section].plainEnabled {
		return newErr("Write", CodePrivilegeErr)
	}
	return c.plainWrite(ctx, c.sectionAddr(section)+offset, data)
}

// Erase dispatches to a secure or plain erase over [offset,
// offset+length) within section.
func (c *Context) Erase(ctx context.Context, section byte, offset, length uint32) error {
	if c.keys.isSessionOpen() && c.keys.kid.Section() == section {
		return c.SecureErase(ctx, offset, length)
	}
	if !c.sections[section].plainEnabled {
		return newErr("Erase", CodePrivilegeErr)
	}
	return c.plainErase(ctx, c.sectionAddr(section)+offset, length)
}

// EraseSection erases an entire section (spec §4.4); requires a
// full-access session already open on that section.
func (c *Context) EraseSection(ctx context.Context, section byte) error {
	if c.keys.kid.Section() != section {
		return newErr("EraseSection", CodeSessionErr)
	}
	return c.SecureErase(ctx, 0, uint32(1)<<c.addrSize)
}

func (c *Context) sectionAddr(section byte) uint32 {
	return uint32(section) << c.addrSize
}

// Format erases the entire device back to its factory (all-0xFF, no
// sections enabled) state. Requires a device-master session and is
// irreversible.
func (c *Context) Format(ctx context.Context) error {
	if c.keys.kid.Type() != KIDDeviceMaster {
		return newErr("Format", CodePrivilegeErr)
	}
	_, err := c.secExchange(ctx, cmdFormat, c.keys.kid, 0, []byte{0xFF}, 0)
	if err != nil {
		return err
	}
	for i := range c.sections {
		c.sections[i] = sectionState{}
	}
	return nil
}

// GetStatus returns the most recently observed SSR decoded as public
// fields a caller can branch on without importing the internal
// register layout.
func (c *Context) GetStatus() (busy, sessionReady, respReady bool, ok bool) {
	s, valid := c.lastSSR()
	return s.Busy(), s.SesReady(), s.RespReady(), valid
}
