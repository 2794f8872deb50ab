package w77q

import (
	"context"
	"testing"

	"github.com/barnettlynn/w77q/internal/transport"
)

func TestCalcCDIRejectsOversizedMeasurement(t *testing.T) {
	kid := MakeKID(KIDFullAccessSection, 0)
	c, ft := newSessionFixture(kid, [16]byte{1}, func(byte, []byte) []byte { return make([]byte, 32) })

	_, err := c.CalcCDI(context.Background(), 0, [32]byte{}, make([]byte, 33))
	if err == nil {
		t.Fatalf("expected CalcCDI to reject a measurement over 32 bytes")
	}
	if len(ft.Requests) != 0 {
		t.Fatalf("expected no transport activity for a rejected measurement")
	}
}

func TestCalcCDIReturnsDeviceDigest(t *testing.T) {
	kid := MakeKID(KIDFullAccessSection, 0)
	var want [32]byte
	want[0] = 0xAB
	c, _ := newSessionFixture(kid, [16]byte{1}, func(cmd byte, reqData []byte) []byte {
		if cmd != cmdCalcCDI {
			t.Fatalf("expected cmdCalcCDI, got %#x", cmd)
		}
		return want[:]
	})

	got, err := c.CalcCDI(context.Background(), 0, [32]byte{}, []byte("measurement"))
	if err != nil {
		t.Fatalf("CalcCDI failed: %v", err)
	}
	if got != want {
		t.Fatalf("CDI mismatch: got %x, want %x", got, want)
	}
}

func TestDirectAttestMatchesExpectedDigest(t *testing.T) {
	kid := MakeKID(KIDRestrictedSection, 2)
	var digest [32]byte
	digest[0] = 0x42
	c, _ := newSessionFixture(kid, [16]byte{1}, func(cmd byte, reqData []byte) []byte {
		return digest[:]
	})

	ok, err := c.DirectAttest(context.Background(), 2, digest)
	if err != nil {
		t.Fatalf("DirectAttest failed: %v", err)
	}
	if !ok {
		t.Fatalf("expected DirectAttest to match the stored digest")
	}

	var wrong [32]byte
	wrong[0] = 0x43
	ok, err = c.DirectAttest(context.Background(), 2, wrong)
	if err != nil {
		t.Fatalf("DirectAttest failed: %v", err)
	}
	if ok {
		t.Fatalf("expected DirectAttest to reject a mismatched digest")
	}
}

func TestCalcCDIChainsHostSideForNonZeroSection(t *testing.T) {
	kid := MakeKID(KIDFullAccessSection, 2)
	cfg := SectionConfig{Policy: SectionPolicy{DigestIntegrity: true, WriteProt: true}, Digest: 0x0102030405060708}
	var prevCdi [32]byte
	prevCdi[0] = 0x11

	c, ft := newSessionFixture(kid, [16]byte{1}, func(cmd byte, reqData []byte) []byte {
		switch cmd {
		case cmdGetSectionConfig:
			return encodeSCR(cfg)
		case cmdCalcSig:
			t.Fatalf("expected the stored digest to be reused, not recomputed via CALC_SIG")
		}
		return nil
	})

	got, err := c.CalcCDI(context.Background(), 2, prevCdi, nil)
	if err != nil {
		t.Fatalf("CalcCDI failed: %v", err)
	}

	want := make([]byte, 32+8+14+1)
	copy(want[0:32], prevCdi[:])
	putU64LE(want[32:40], cfg.Digest)
	want[54] = 2
	wantCDI, err := ft.Hash(context.Background(), want)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if got != wantCDI {
		t.Fatalf("CDI mismatch: got %x, want %x", got, wantCDI)
	}
}

func TestCalcCDIRecomputesDigestWhenNotProtected(t *testing.T) {
	kid := MakeKID(KIDFullAccessSection, 2)
	cfg := SectionConfig{} // no digest-integrity policy: must recompute
	var recomputed bool
	c, _ := newSessionFixture(kid, [16]byte{1}, func(cmd byte, reqData []byte) []byte {
		switch cmd {
		case cmdGetSectionConfig:
			return encodeSCR(cfg)
		case cmdCalcSig:
			recomputed = true
			resp := make([]byte, 8)
			putU64LE(resp, 0xAABBCCDD)
			return resp
		}
		return nil
	})

	if _, err := c.CalcCDI(context.Background(), 2, [32]byte{}, nil); err != nil {
		t.Fatalf("CalcCDI failed: %v", err)
	}
	if !recomputed {
		t.Fatalf("expected CalcCDI to recompute the digest via CALC_SIG")
	}
}

func TestCheckIntegrityDigestPathDetectsMismatch(t *testing.T) {
	kid := MakeKID(KIDRestrictedSection, 1)
	c, _ := newSessionFixture(kid, [16]byte{1}, func(cmd byte, reqData []byte) []byte {
		if cmd != cmdCalcSig {
			t.Fatalf("expected cmdCalcSig, got %#x", cmd)
		}
		resp := make([]byte, 8)
		if reqData[0] == calcSigTypeData {
			putU64LE(resp, 1)
		} else {
			putU64LE(resp, 2)
		}
		return resp
	})

	err := c.CheckIntegrity(context.Background(), 1, IntegrityDigest)
	if code, ok := CodeOf(err); !ok || code != CodeSecurityErr {
		t.Fatalf("expected CodeSecurityErr on digest mismatch, got %v (ok=%v)", code, ok)
	}
}

func TestCheckIntegritySurfacesDeviceError(t *testing.T) {
	ft := transport.NewFake()
	ft.Handler = func(req transport.Request) (transport.Response, error) {
		if req.Opcode == 0xA0 {
			return transport.Response{DataIn: []byte{byte(ssrIntgErr), byte(ssrIntgErr >> 8), 0, 0}}, nil
		}
		return transport.Response{DataIn: make([]byte, req.ReadLen)}, nil
	}
	c := Init(ft)
	if err := c.setInterface(BusSingle, false); err != nil {
		t.Fatalf("setInterface failed: %v", err)
	}
	c.keys.openSession(MakeKID(KIDRestrictedSection, 0), [16]byte{1})

	if err := c.CheckIntegrity(context.Background(), 0, IntegrityCRC); err == nil {
		t.Fatalf("expected CheckIntegrity to surface the device's integrity error")
	} else if code, ok := CodeOf(err); !ok || code != CodeIntegrityErr {
		t.Fatalf("expected CodeIntegrityErr, got %v (ok=%v)", code, ok)
	}
}
