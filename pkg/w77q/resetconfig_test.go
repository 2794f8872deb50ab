package w77q

import (
	"context"
	"testing"

	"github.com/barnettlynn/w77q/internal/transport"
)

func TestSetResetResponseConfigRequiresDeviceMasterSession(t *testing.T) {
	kid := MakeKID(KIDFullAccessSection, 0)
	c, _ := newSessionFixture(kid, [16]byte{1}, func(byte, []byte) []byte { return nil })

	err := c.SetResetResponseConfig(context.Background(), make([]byte, resetResponseLen))
	if err == nil {
		t.Fatalf("expected SetResetResponseConfig to require a device-master session")
	}
}

func TestSetResetResponseConfigRejectsWrongSize(t *testing.T) {
	kid := MakeKID(KIDDeviceMaster, 0)
	c, _ := newSessionFixture(kid, [16]byte{1}, func(byte, []byte) []byte { return nil })

	if err := c.SetResetResponseConfig(context.Background(), make([]byte, 10)); err == nil {
		t.Fatalf("expected SetResetResponseConfig to reject a short blob")
	}
}

func TestGetResetResponseConfigRoundTrip(t *testing.T) {
	kid := MakeKID(KIDDeviceMaster, 0)
	want := make([]byte, resetResponseLen)
	want[0] = 0x5A
	c, _ := newSessionFixture(kid, [16]byte{1}, func(cmd byte, reqData []byte) []byte {
		return want
	})

	got, err := c.GetResetResponseConfig(context.Background())
	if err != nil {
		t.Fatalf("GetResetResponseConfig failed: %v", err)
	}
	if len(got) != resetResponseLen || got[0] != 0x5A {
		t.Fatalf("unexpected reset response config: %x", got)
	}
}

func TestIsFallbackActiveReflectsLastSSR(t *testing.T) {
	ft := transport.NewFake()
	c := Init(ft)
	if c.IsFallbackActive() {
		t.Fatalf("expected fallback inactive before any status read")
	}
	c.ssrCache = decodeSSR(ssrFBRemap)
	c.ssrValid = true
	if !c.IsFallbackActive() {
		t.Fatalf("expected fallback active once FB_REMAP is cached")
	}
}

func TestProvisionKeyRejectsWhileSessionOpen(t *testing.T) {
	kid := MakeKID(KIDFullAccessSection, 0)
	c, _ := newSessionFixture(kid, [16]byte{1}, func(byte, []byte) []byte { return nil })

	err := c.provisionKey(context.Background(), MakeKID(KIDSectionProvision, 1), [16]byte{2}, make([]byte, 32))
	if err == nil {
		t.Fatalf("expected provisionKey to refuse running under an already-open session")
	}
}
