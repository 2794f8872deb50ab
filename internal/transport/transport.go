// Package transport abstracts the single SPI-transaction primitive the
// secure engine drives every command through, plus the three auxiliary
// platform hooks (hash, nonce, CPU reset) the engine cannot implement
// itself.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// BusMode selects the SPI bus width / IO format used for a transaction.
// The OP0/OP1/OP2 opcodes are derived from BusMode x DTR (see Opcodes).
type BusMode int

const (
	BusInvalid BusMode = iota
	BusSingle          // 1-1-1
	BusDualOutput      // 1-1-2
	BusDualIO          // 1-2-2
	BusQuadOutput      // 1-1-4
	BusQuadIO          // 1-4-4
	BusQPI             // 4-4-4
)

func (m BusMode) String() string {
	switch m {
	case BusSingle:
		return "1-1-1"
	case BusDualOutput:
		return "1-1-2"
	case BusDualIO:
		return "1-2-2"
	case BusQuadOutput:
		return "1-1-4"
	case BusQuadIO:
		return "1-4-4"
	case BusQPI:
		return "4-4-4"
	default:
		return "invalid"
	}
}

// Opcodes holds the three device opcode bytes plus their dummy cycle
// counts, derived from a bus mode and DTR setting per spec §6.
type Opcodes struct {
	OP0       byte // read status
	OP1       byte // write input buffer
	OP2       byte // read output buffer
	DummyOP0  int
	DummyOP2  int
}

// DeriveOpcodes computes OP0/OP1/OP2 and their dummy-cycle counts for a
// given bus mode and DTR flag. OP1 never uses DTR (write path is always
// SDR per spec §6).
func DeriveOpcodes(mode BusMode, dtr bool) (Opcodes, error) {
	var widthNibble byte
	switch mode {
	case BusSingle:
		widthNibble = 0xA0
	case BusDualOutput, BusDualIO:
		widthNibble = 0xB0
	case BusQuadOutput, BusQuadIO, BusQPI:
		widthNibble = 0xD0
	default:
		return Opcodes{}, fmt.Errorf("transport: invalid bus mode %v", mode)
	}

	op0 := widthNibble | 0x00
	op1 := byte(0x10) // width folded into transaction framing, not the opcode nibble for writes
	op2 := byte(0x20)
	if dtr {
		op0 |= 0x04
	}

	dummy0 := 32
	if dtr {
		dummy0 = 16
	}
	return Opcodes{OP0: op0, OP1: op1, OP2: op2, DummyOP0: dummy0, DummyOP2: 8}, nil
}

// Status codes a transport primitive can fail with.
var (
	ErrBusError        = errors.New("transport: bus error")
	ErrTimeout         = errors.New("transport: timeout")
	ErrInvalidArgument = errors.New("transport: invalid argument")
)

// Request describes one framed SPI transaction: a command byte, an
// optional address, an optional write payload, a dummy-cycle count, and
// how many bytes to read back.
type Request struct {
	Mode        BusMode
	DTR         bool
	Opcode      byte
	Addr        []byte // 0, 3, or 4 bytes
	DataOut     []byte
	DummyCycles int
	ReadLen     int
}

// Response carries the bytes read back from a Request.
type Response struct {
	DataIn []byte
}

// Transport is the single entry point the secure engine and the legacy
// command layer use to talk to the physical device. Implementations
// must be safe to keep resident in RAM on platforms where the engine
// executes from the flash it manages (spec §4.1): a secure write can
// render the code-fetch path unreadable mid-transaction.
type Transport interface {
	// Execute performs one framed SPI transaction. The engine always
	// calls this with a single logical payload; a real adapter is
	// responsible for splitting it across multiple controller calls if
	// the platform's SPI controller cannot move the whole payload in
	// one shot.
	Execute(ctx context.Context, req Request) (Response, error)

	// Hash computes the device's 256-bit sponge over data. The
	// algorithm is device-specified and opaque to the engine.
	Hash(ctx context.Context, data []byte) ([32]byte, error)

	// Nonce returns a 64-bit value from a non-repeating source
	// (typically a hardware TRNG).
	Nonce(ctx context.Context) (uint64, error)

	// ResetCPU performs a platform CPU reset. Used as the final step
	// of some reset flows on architectures that require it; a no-op
	// implementation is valid when the platform does not need it.
	ResetCPU() error
}
