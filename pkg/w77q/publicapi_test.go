package w77q

import (
	"bytes"
	"context"
	"testing"

	"github.com/barnettlynn/w77q/internal/transport"
)

func TestReadDispatchesToSecureReadWhenSessionCoversSection(t *testing.T) {
	kid := MakeKID(KIDRestrictedSection, 3)
	want := []byte{1, 2, 3, 4}
	c, _ := newSessionFixture(kid, [16]byte{9}, func(cmd byte, reqData []byte) []byte {
		if cmd != cmdSecureRead {
			t.Fatalf("expected a secure read, got %#x", cmd)
		}
		page := make([]byte, securePageSize)
		copy(page, want)
		return page
	})

	got, err := c.Read(context.Background(), 3, 0, 4, true)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Read payload mismatch: got %x, want %x", got, want)
	}
}

func TestReadRejectsWhenNoSessionAndPlainAccessDisabled(t *testing.T) {
	c := Init(transport.NewFake())
	if err := c.setInterface(BusSingle, false); err != nil {
		t.Fatalf("setInterface failed: %v", err)
	}
	if _, err := c.Read(context.Background(), 2, 0, 4, true); err == nil {
		t.Fatalf("expected Read to fail with no session and no plain access")
	}
}

func TestReadFallsBackToPlainAccessWhenEnabled(t *testing.T) {
	ft := transport.NewFake()
	want := []byte{0xAA, 0xBB}
	ft.Handler = func(req transport.Request) (transport.Response, error) {
		if req.Opcode == legacyOpFastRead {
			return transport.Response{DataIn: want}, nil
		}
		return transport.Response{DataIn: make([]byte, req.ReadLen)}, nil
	}
	c := Init(ft)
	if err := c.setInterface(BusSingle, false); err != nil {
		t.Fatalf("setInterface failed: %v", err)
	}
	c.sections[1].plainEnabled = true

	got, err := c.Read(context.Background(), 1, 0, 2, true)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("plain Read payload mismatch: got %x, want %x", got, want)
	}
}

func TestEraseSectionRejectsMismatchedSection(t *testing.T) {
	kid := MakeKID(KIDFullAccessSection, 2)
	c, ft := newSessionFixture(kid, [16]byte{1}, func(byte, []byte) []byte { return nil })

	if err := c.EraseSection(context.Background(), 5); err == nil {
		t.Fatalf("expected EraseSection to reject a section other than the one the session is bound to")
	}
	if len(ft.Requests) != 0 {
		t.Fatalf("expected no transport activity for a rejected EraseSection, got %d", len(ft.Requests))
	}
}

func TestEraseSectionErasesTheBoundSection(t *testing.T) {
	kid := MakeKID(KIDFullAccessSection, 2)
	type call struct {
		addr uint32
		unit byte
	}
	var calls []call
	c, _ := newSessionFixture(kid, [16]byte{1}, func(cmd byte, reqData []byte) []byte {
		if cmd == cmdSecureErase {
			calls = append(calls, call{addr: readU32LE(reqData[0:4]), unit: reqData[4]})
		}
		return nil
	})
	c.addrSize = 18 // 256 KiB section

	if err := c.EraseSection(context.Background(), 2); err != nil {
		t.Fatalf("EraseSection failed: %v", err)
	}

	// 256 KiB decomposes into four greedy 64 KiB erases.
	if len(calls) != 4 {
		t.Fatalf("expected 4 erase exchanges, got %d (%+v)", len(calls), calls)
	}
	var covered uint32
	for i, cl := range calls {
		if cl.unit != eraseUnit64KiB {
			t.Fatalf("call %d: expected a 64 KiB unit, got %d", i, cl.unit)
		}
		if cl.addr != covered {
			t.Fatalf("call %d: expected addr %d, got %d", i, covered, cl.addr)
		}
		covered += erase64KiB
	}
	if covered != 1<<18 {
		t.Fatalf("expected erases to cover %d bytes, got %d", 1<<18, covered)
	}
}

func TestFormatRequiresDeviceMasterSession(t *testing.T) {
	kid := MakeKID(KIDFullAccessSection, 0)
	c, _ := newSessionFixture(kid, [16]byte{1}, func(byte, []byte) []byte { return nil })

	if err := c.Format(context.Background()); err == nil {
		t.Fatalf("expected Format to require a device-master session")
	}
}

func TestFormatClearsSectionShadow(t *testing.T) {
	kid := MakeKID(KIDDeviceMaster, 0)
	c, _ := newSessionFixture(kid, [16]byte{1}, func(byte, []byte) []byte { return nil })
	c.sections[3] = sectionState{enabled: true, sizeTag: 2}

	if err := c.Format(context.Background()); err != nil {
		t.Fatalf("Format failed: %v", err)
	}
	if c.sections[3].enabled {
		t.Fatalf("expected Format to clear the section shadow")
	}
}

func TestGetStatusReportsInvalidBeforeAnyPoll(t *testing.T) {
	c := Init(transport.NewFake())
	_, _, _, ok := c.GetStatus()
	if ok {
		t.Fatalf("expected GetStatus to report invalid before any status has been polled")
	}
}
