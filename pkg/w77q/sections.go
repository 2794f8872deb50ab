package w77q

import "context"

// securePageSize is the device's atomic authenticated read/write unit
// (spec §4.5 SEC_Read/SEC_Write).
const securePageSize = 32

const (
	eraseUnit4KiB  byte = 0
	eraseUnit32KiB byte = 1
	eraseUnit64KiB byte = 2
)

const (
	erase4KiB  = 4 << 10
	erase32KiB = 32 << 10
	erase64KiB = 64 << 10
)

// ConfigSection writes a section's configuration register (spec §6
// ConfigSection). Requires a full-access session open on that
// section. The call is rejected only when the section is disabled,
// has no size in the cached GMT (sizeTag == 0), and cfg.Size is 0; a
// disabled section that is already sized, or a disabled section given
// a non-zero cfg.Size, is not rejected here.
func (c *Context) ConfigSection(ctx context.Context, section byte, cfg SectionConfig) error {
	if !c.keys.isSectionFullAccess(section) {
		return newErr("ConfigSection", CodePrivilegeErr)
	}
	if !c.sections[section].enabled && c.sections[section].sizeTag == 0 && cfg.Size == 0 {
		return newErr("ConfigSection", CodeParameterOutOfRange)
	}
	payload := encodeSCR(cfg)
	if _, err := c.secExchange(ctx, cmdConfigSection, c.keys.kid, section, payload, 0); err != nil {
		return err
	}
	c.sections[section].enabled = cfg.Size > 0
	return nil
}

// GetSectionConfiguration reads back a section's configuration
// register. Any open session on the section (restricted or full) is
// sufficient.
func (c *Context) GetSectionConfiguration(ctx context.Context, section byte) (SectionConfig, error) {
	if !c.keys.isSectionRestricted(section) && !c.keys.isSectionFullAccess(section) {
		return SectionConfig{}, newErr("GetSectionConfiguration", CodePrivilegeErr)
	}
	resp, err := c.secExchange(ctx, cmdGetSectionConfig, c.keys.kid, section, nil, 20)
	if err != nil {
		return SectionConfig{}, err
	}
	return decodeSCR(resp), nil
}

// PlainAccessEnable grants or revokes unauthenticated read/write on a
// section by clearing or setting the corresponding ACLR bits (spec §6
// ACLR, §4.4 AccessType plain). Requires full-access.
func (c *Context) PlainAccessEnable(ctx context.Context, section byte, readAllowed, writeAllowed bool) error {
	if !c.keys.isSectionFullAccess(section) {
		return newErr("PlainAccessEnable", CodePrivilegeErr)
	}
	var flags byte
	if readAllowed {
		flags |= 0x1
	}
	if writeAllowed {
		flags |= 0x2
	}
	if _, err := c.secExchange(ctx, cmdPlainAccessEnable, c.keys.kid, section, []byte{flags}, 0); err != nil {
		return err
	}
	c.sections[section].plainEnabled = readAllowed || writeAllowed
	return nil
}

// AuthPlainAccessGrant authenticates a one-time plain-access window on
// a section configured with SectionPolicy.AuthPlainAccess, valid until
// the session closes or AuthPlainAccessRevoke is called.
func (c *Context) AuthPlainAccessGrant(ctx context.Context, section byte) error {
	if !c.keys.isSectionRestricted(section) && !c.keys.isSectionFullAccess(section) {
		return newErr("AuthPlainAccessGrant", CodePrivilegeErr)
	}
	if _, err := c.secExchange(ctx, cmdAuthPlainAccess, c.keys.kid, section, []byte{1}, 0); err != nil {
		return err
	}
	c.sections[section].plainEnabled = true
	return nil
}

func (c *Context) AuthPlainAccessRevoke(ctx context.Context, section byte) error {
	if _, err := c.secExchange(ctx, cmdAuthPlainAccess, c.keys.kid, section, []byte{0}, 0); err != nil {
		return err
	}
	c.sections[section].plainEnabled = false
	return nil
}

// SecureRead authenticates and reads length bytes at offset within
// the section the current session is bound to (spec §4.5). Every
// secure read transfers exactly one 32-byte page per device exchange;
// SecureRead decomposes [offset, offset+length) into page-aligned
// SRD/SARD calls and slices out the requested head/middle/tail bytes
// from each returned page. auth selects SARD (TC-echoed, replay
// defended) over SRD.
func (c *Context) SecureRead(ctx context.Context, offset uint32, length int, auth bool) ([]byte, error) {
	section := c.keys.kid.Section()
	if !c.keys.isSessionOpen() {
		return nil, newErr("SecureRead", CodeSessionErr)
	}
	if !c.sectionEnabled(section) {
		return nil, newErr("SecureRead", CodeParameterOutOfRange)
	}
	if length < 0 {
		return nil, newErr("SecureRead", CodeInvalidParameter)
	}
	if length == 0 {
		return []byte{}, nil
	}

	c.multiTxn = true
	defer func() { c.multiTxn = false }()

	out := make([]byte, 0, length)
	end := offset + uint32(length)
	addr := offset
	for addr < end {
		pageAddr := addr - addr%securePageSize
		page, err := c.secExchangeTC(ctx, cmdSecureRead, c.keys.kid, section, pageReq(pageAddr), securePageSize, auth)
		if err != nil {
			return nil, err
		}
		lo := addr - pageAddr
		hi := uint32(securePageSize)
		if pageAddr+securePageSize > end {
			hi = end - pageAddr
		}
		out = append(out, page[lo:hi]...)
		addr = pageAddr + hi
	}
	return out, nil
}

func pageReq(addr uint32) []byte {
	req := make([]byte, 4)
	putU32LE(req, addr)
	return req
}

// secureWriteContentSize is the page content carried per SAWR
// exchange. The wire's outgoing DATA field is a fixed 32 bytes (CTRL
// is permanently the transaction counter, spec §4.3 step 4, so it
// cannot carry the address instead); SAWR shares that field between
// the 4-byte page address and its content, leaving 28 content bytes
// per exchange rather than a full 32-byte page.
const secureWriteContentSize = securePageSize - 4

// SecureWrite authenticates and writes data at offset within the
// bound section, secureWriteContentSize (28) content bytes per SAWR
// exchange (spec §4.5 SEC_Write). A short trailing chunk is padded
// with 0xFF to 28 bytes before SAWR. Requires full
// access; the device itself rejects a write a section's policy
// doesn't permit and that error is returned unchanged.
func (c *Context) SecureWrite(ctx context.Context, offset uint32, data []byte) error {
	section := c.keys.kid.Section()
	if !c.keys.isSectionFullAccess(section) {
		return newErr("SecureWrite", CodePrivilegeErr)
	}
	if !c.sectionEnabled(section) {
		return newErr("SecureWrite", CodeParameterOutOfRange)
	}
	if len(data) == 0 {
		return nil
	}

	c.multiTxn = true
	defer func() { c.multiTxn = false }()

	addr := offset
	for len(data) > 0 {
		n := secureWriteContentSize
		if n > len(data) {
			n = len(data)
		}
		page := make([]byte, secureWriteContentSize)
		for i := range page {
			page[i] = 0xFF
		}
		copy(page, data[:n])

		req := make([]byte, 4+secureWriteContentSize)
		putU32LE(req[0:4], addr)
		copy(req[4:], page)
		if _, err := c.secExchange(ctx, cmdSecureWrite, c.keys.kid, section, req, 0); err != nil {
			return err
		}

		addr += secureWriteContentSize
		data = data[n:]
	}
	return nil
}

// SecureErase erases [offset, offset+length) within the bound section,
// greedily decomposed into the largest aligned erase unit the range
// supports at each step (64 KiB / 32 KiB / 4 KiB, spec §4.5 SEC_Erase,
// §8 boundary behavior). Requires full access.
func (c *Context) SecureErase(ctx context.Context, offset, length uint32) error {
	section := c.keys.kid.Section()
	if !c.keys.isSectionFullAccess(section) {
		return newErr("SecureErase", CodePrivilegeErr)
	}
	if !c.sectionEnabled(section) {
		return newErr("SecureErase", CodeParameterOutOfRange)
	}
	if offset%erase4KiB != 0 || length%erase4KiB != 0 {
		return newErr("SecureErase", CodeInvalidDataAlignment)
	}
	end := offset + length
	if end < offset {
		return newErr("SecureErase", CodeInvalidParameter)
	}
	sectionSize := uint32(1) << c.addrSize
	if offset > sectionSize || length > sectionSize-offset {
		return newErr("SecureErase", CodeParameterOutOfRange)
	}

	c.multiTxn = true
	defer func() { c.multiTxn = false }()

	addr := offset
	for addr < end {
		remaining := end - addr
		unit := byte(eraseUnit4KiB)
		unitSize := uint32(erase4KiB)
		switch {
		case addr%erase64KiB == 0 && remaining >= erase64KiB:
			unit, unitSize = eraseUnit64KiB, erase64KiB
		case addr%erase32KiB == 0 && remaining >= erase32KiB:
			unit, unitSize = eraseUnit32KiB, erase32KiB
		}
		req := make([]byte, 5)
		putU32LE(req[0:4], addr)
		req[4] = unit
		if _, err := c.secExchange(ctx, cmdSecureErase, c.keys.kid, section, req, 0); err != nil {
			return err
		}
		addr += unitSize
	}
	return nil
}
