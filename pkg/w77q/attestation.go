package w77q

import (
	"bytes"
	"context"
)

// calcSigType selects which of a section's two recomputable digests
// CALC_SIG returns (spec §4.6 CheckIntegrity, CalcCDI).
const (
	calcSigTypeData byte = 0
	calcSigTypeSCR  byte = 1
)

// IntegrityKind selects the recomputation CheckIntegrity forces (spec
// §4.6).
type IntegrityKind int

const (
	IntegrityCRC IntegrityKind = iota
	IntegrityDigest
)

// CalcCDI computes a Compound Device Identifier, the link in a
// DICE-style boot-attestation chain for section (spec §4.6, supplemented
// from original_source qlib_sample_cdi.c — not present in the
// distilled spec, but a direct consequence of §4.3's digest-integrity
// section policy). Section 0's CDI is computed directly by the device.
// For section n > 0 the chain is host-side: nextCdi =
// H(prevCdi(32) || digest(8) || 0^14 || sectionId(1)), where digest is
// the section's stored digest if its policy already protects it
// (digest integrity plus write- or rollback-protection), otherwise
// freshly recomputed via CALC_SIG.
func (c *Context) CalcCDI(ctx context.Context, section byte, prevCdi [32]byte, measurement []byte) ([32]byte, error) {
	if len(measurement) > 32 {
		return [32]byte{}, newErr("CalcCDI", CodeInvalidDataSize)
	}
	if section == 0 {
		resp, err := c.secExchange(ctx, cmdCalcCDI, c.keys.kid, section, measurement, 32)
		if err != nil {
			return [32]byte{}, err
		}
		var cdi [32]byte
		copy(cdi[:], resp)
		return cdi, nil
	}

	digest, err := c.sectionDataDigest(ctx, section)
	if err != nil {
		return [32]byte{}, err
	}

	buf := make([]byte, 32+8+14+1)
	copy(buf[0:32], prevCdi[:])
	putU64LE(buf[32:40], digest)
	buf[54] = section

	cdi, err := c.crypto.transport.Hash(ctx, buf)
	if err != nil {
		return [32]byte{}, wrapErr("CalcCDI", CodeConnectivityErr, err)
	}
	return cdi, nil
}

// sectionDataDigest returns a section's data digest, preferring the
// value already stored in its SCR when the section's policy makes that
// value trustworthy without recomputation.
func (c *Context) sectionDataDigest(ctx context.Context, section byte) (uint64, error) {
	cfg, err := c.GetSectionConfiguration(ctx, section)
	if err != nil {
		return 0, err
	}
	if cfg.Policy.DigestIntegrity && (cfg.Policy.WriteProt || cfg.Policy.RollbackProt) {
		return cfg.Digest, nil
	}
	resp, err := c.secExchange(ctx, cmdCalcSig, c.keys.kid, section, []byte{calcSigTypeData}, 8)
	if err != nil {
		return 0, err
	}
	return readU64LE(resp), nil
}

// CheckIntegrity forces an immediate recomputation and comparison for
// a section, rather than waiting for the lazy check a SecureRead
// triggers (spec §4.6). kind selects CRC (a single device-side
// VER_INTG-style comparison) or DIGEST (two CALC_SIG recomputations —
// the data digest and the stored SCR — compared host-side, returning
// security_err on mismatch).
func (c *Context) CheckIntegrity(ctx context.Context, section byte, kind IntegrityKind) error {
	if kind == IntegrityCRC {
		_, err := c.secExchange(ctx, cmdCheckIntegrity, c.keys.kid, section, nil, 0)
		return err
	}

	dataDigest, err := c.secExchange(ctx, cmdCalcSig, c.keys.kid, section, []byte{calcSigTypeData}, 8)
	if err != nil {
		return err
	}
	scrDigest, err := c.secExchange(ctx, cmdCalcSig, c.keys.kid, section, []byte{calcSigTypeSCR}, 8)
	if err != nil {
		return err
	}
	if !bytes.Equal(dataDigest, scrDigest) {
		return newErr("CheckIntegrity", CodeSecurityErr)
	}
	return nil
}

// DirectAttest reads a section's stored digest authenticated and
// compares it to expectedDigest host-side, a single-round-trip
// alternative to the chained CalcCDI when no attestation chain is
// needed (original_source qlib_sample_direct_attestation.c).
func (c *Context) DirectAttest(ctx context.Context, section byte, expectedDigest [32]byte) (bool, error) {
	resp, err := c.secExchange(ctx, cmdDirectAttest, c.keys.kid, section, nil, 32)
	if err != nil {
		return false, err
	}
	var got [32]byte
	copy(got[:], resp)
	return got == expectedDigest, nil
}
