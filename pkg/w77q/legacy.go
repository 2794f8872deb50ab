package w77q

import (
	"context"
	"time"

	"github.com/barnettlynn/w77q/internal/transport"
)

// Standard/legacy SPI NOR opcodes (spec §4.1, C2). These never go
// through the secure command framing; they address the flash array
// directly the way any commodity SPI NOR part does.
const (
	legacyOpWREN          byte = 0x06
	legacyOpWRDI          byte = 0x04
	legacyOpRDSR1         byte = 0x05
	legacyOpRDSR2         byte = 0x35
	legacyOpWRSR          byte = 0x01
	legacyOpRDID          byte = 0x9F
	legacyOpRead          byte = 0x03
	legacyOpFastRead      byte = 0x0B
	legacyOpPageProgram   byte = 0x02
	legacyOpSectorErase   byte = 0x20
	legacyOpDeepPowerDown byte = 0xB9
	legacyOpReleasePD     byte = 0xAB
	legacyOpEnterQPI      byte = 0x38
	legacyOpExitQPI       byte = 0xFF
	legacyOpSuspend       byte = 0x75
	legacyOpResume        byte = 0x7A
	legacyOpEnableReset   byte = 0x66
	legacyOpReset         byte = 0x99
)

const (
	sr1WIP byte = 1 << 0 // write-in-progress
	sr1WEL byte = 1 << 1 // write-enable latch
	sr2QE  byte = 1 << 1 // quad enable
	sr2SUS byte = 1 << 7 // suspend status
)

const pageSize = 256

// pageSize of the legacy array: the NOR page program boundary itself.
// Secure-mode transactions move 32-byte secure pages instead.

// autosense issues a single-mode JEDEC RDID read and, if it succeeds,
// always reports BusSingle. It does not probe quad, dual or QPI modes,
// so it never reports a wider bus mode than 1-1-1.
func (c *Context) autosense(ctx context.Context) (BusMode, error) {
	if _, err := c.readJEDECID(ctx); err != nil {
		return BusInvalid, err
	}
	return BusSingle, nil
}

func (c *Context) readJEDECID(ctx context.Context) ([3]byte, error) {
	resp, err := c.transport.Execute(ctx, transport.Request{
		Mode:    BusSingle,
		Opcode:  legacyOpRDID,
		ReadLen: 3,
	})
	if err != nil {
		return [3]byte{}, wrapErr("ReadJEDECID", CodeConnectivityErr, err)
	}
	if len(resp.DataIn) < 3 {
		return [3]byte{}, newErr("ReadJEDECID", CodeInvalidDataSize)
	}
	var id [3]byte
	copy(id[:], resp.DataIn)
	return id, nil
}

// setInterface switches the bus mode/DTR the Context frames future
// transactions with. It does not itself issue EQPI/RSTQPI; callers
// transitioning into or out of BusQPI must call enterQPI/exitQPI
// first so the device and host agree (spec §4.6).
func (c *Context) setInterface(mode BusMode, dtr bool) error {
	opcodes, err := transport.DeriveOpcodes(mode, dtr)
	if err != nil {
		return wrapErr("SetInterface", CodeInvalidParameter, err)
	}
	c.bus.mode = mode
	c.bus.dtr = dtr
	c.bus.opcodes = opcodes
	return nil
}

func (c *Context) enterQPI(ctx context.Context) error {
	_, err := c.transport.Execute(ctx, transport.Request{Mode: c.bus.mode, Opcode: legacyOpEnterQPI})
	if err != nil {
		return wrapErr("EnterQPI", CodeConnectivityErr, err)
	}
	return nil
}

func (c *Context) exitQPI(ctx context.Context) error {
	_, err := c.transport.Execute(ctx, transport.Request{Mode: BusQPI, Opcode: legacyOpExitQPI})
	if err != nil {
		return wrapErr("ExitQPI", CodeConnectivityErr, err)
	}
	return nil
}

// resetFlash issues the standard two-step SPI NOR reset sequence
// (enable-reset then reset), followed by a platform CPU reset if the
// transport requires one for the device to resync (spec §4.6).
func (c *Context) resetFlash(ctx context.Context) error {
	if _, err := c.transport.Execute(ctx, transport.Request{Mode: c.bus.mode, Opcode: legacyOpEnableReset}); err != nil {
		return wrapErr("ResetFlash", CodeConnectivityErr, err)
	}
	if _, err := c.transport.Execute(ctx, transport.Request{Mode: c.bus.mode, Opcode: legacyOpReset}); err != nil {
		return wrapErr("ResetFlash", CodeConnectivityErr, err)
	}
	if err := c.transport.ResetCPU(); err != nil {
		return wrapErr("ResetFlash", CodeConnectivityErr, err)
	}
	return nil
}

func (c *Context) readStatusRegs(ctx context.Context) (byte, byte, error) {
	r1, err := c.transport.Execute(ctx, transport.Request{Mode: c.bus.mode, Opcode: legacyOpRDSR1, ReadLen: 1})
	if err != nil {
		return 0, 0, wrapErr("readStatusRegs", CodeConnectivityErr, err)
	}
	r2, err := c.transport.Execute(ctx, transport.Request{Mode: c.bus.mode, Opcode: legacyOpRDSR2, ReadLen: 1})
	if err != nil {
		return 0, 0, wrapErr("readStatusRegs", CodeConnectivityErr, err)
	}
	if len(r1.DataIn) < 1 || len(r2.DataIn) < 1 {
		return 0, 0, newErr("readStatusRegs", CodeInvalidDataSize)
	}
	return r1.DataIn[0], r2.DataIn[0], nil
}

func (c *Context) waitWhileBusy(ctx context.Context) error {
	const pollInterval = 100 * time.Microsecond
	for {
		sr1, _, err := c.readStatusRegs(ctx)
		if err != nil {
			return err
		}
		if sr1&sr1WIP == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return wrapErr("waitWhileBusy", CodeConnectivityErr, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

func (c *Context) writeEnable(ctx context.Context) error {
	_, err := c.transport.Execute(ctx, transport.Request{Mode: c.bus.mode, Opcode: legacyOpWREN})
	if err != nil {
		return wrapErr("writeEnable", CodeConnectivityErr, err)
	}
	return nil
}

// plainRead reads length bytes starting at addr with no
// authentication; succeeds only where ACLR/SCRn policy grants plain
// access (spec §3 AccessType, §6 ACLR).
func (c *Context) plainRead(ctx context.Context, addr uint32, length int) ([]byte, error) {
	addrBytes := []byte{byte(addr >> 16), byte(addr >> 8), byte(addr)}
	resp, err := c.transport.Execute(ctx, transport.Request{
		Mode:        c.bus.mode,
		DTR:         c.bus.dtr,
		Opcode:      legacyOpFastRead,
		Addr:        addrBytes,
		DummyCycles: 8,
		ReadLen:     length,
	})
	if err != nil {
		return nil, wrapErr("PlainRead", CodeConnectivityErr, err)
	}
	return resp.DataIn, nil
}

// plainWrite page-programs data starting at addr, splitting at
// pageSize boundaries and re-issuing WREN before each page the way a
// commodity NOR part requires.
func (c *Context) plainWrite(ctx context.Context, addr uint32, data []byte) error {
	for len(data) > 0 {
		room := pageSize - int(addr%pageSize)
		n := room
		if n > len(data) {
			n = len(data)
		}
		if err := c.writeEnable(ctx); err != nil {
			return err
		}
		addrBytes := []byte{byte(addr >> 16), byte(addr >> 8), byte(addr)}
		if _, err := c.transport.Execute(ctx, transport.Request{
			Mode:    c.bus.mode,
			Opcode:  legacyOpPageProgram,
			Addr:    addrBytes,
			DataOut: data[:n],
		}); err != nil {
			return wrapErr("PlainWrite", CodeConnectivityErr, err)
		}
		if err := c.waitWhileBusy(ctx); err != nil {
			return err
		}
		addr += uint32(n)
		data = data[n:]
	}
	return nil
}

// plainErase erases [addr, addr+length) one 4 KiB sector at a time,
// the only erase granularity the legacy SECTOR_ERASE opcode supports.
func (c *Context) plainErase(ctx context.Context, addr, length uint32) error {
	if addr%erase4KiB != 0 || length%erase4KiB != 0 {
		return newErr("PlainErase", CodeInvalidDataAlignment)
	}
	end := addr + length
	if end < addr {
		return newErr("PlainErase", CodeInvalidParameter)
	}
	for a := addr; a < end; a += erase4KiB {
		if err := c.writeEnable(ctx); err != nil {
			return err
		}
		addrBytes := []byte{byte(a >> 16), byte(a >> 8), byte(a)}
		if _, err := c.transport.Execute(ctx, transport.Request{
			Mode:   c.bus.mode,
			Opcode: legacyOpSectorErase,
			Addr:   addrBytes,
		}); err != nil {
			return wrapErr("PlainErase", CodeConnectivityErr, err)
		}
		if err := c.waitWhileBusy(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) suspend(ctx context.Context) error {
	if _, err := c.transport.Execute(ctx, transport.Request{Mode: c.bus.mode, Opcode: legacyOpSuspend}); err != nil {
		return wrapErr("Suspend", CodeConnectivityErr, err)
	}
	c.suspended = true
	return nil
}

func (c *Context) resume(ctx context.Context) error {
	if _, err := c.transport.Execute(ctx, transport.Request{Mode: c.bus.mode, Opcode: legacyOpResume}); err != nil {
		return wrapErr("Resume", CodeConnectivityErr, err)
	}
	c.suspended = false
	return nil
}

func (c *Context) powerDown(ctx context.Context) error {
	if _, err := c.transport.Execute(ctx, transport.Request{Mode: c.bus.mode, Opcode: legacyOpDeepPowerDown}); err != nil {
		return wrapErr("PowerDown", CodeConnectivityErr, err)
	}
	c.poweredDown = true
	return nil
}

func (c *Context) releasePowerDown(ctx context.Context) error {
	if _, err := c.transport.Execute(ctx, transport.Request{Mode: c.bus.mode, Opcode: legacyOpReleasePD}); err != nil {
		return wrapErr("ReleasePowerDown", CodeConnectivityErr, err)
	}
	c.poweredDown = false
	return nil
}
