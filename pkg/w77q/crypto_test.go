package w77q

import (
	"context"
	"testing"

	"github.com/barnettlynn/w77q/internal/transport"
)

func TestSignCommandVerifyResponseRoundTrip(t *testing.T) {
	ctx := context.Background()
	ft := transport.NewFake()
	cc := newCryptoContext(ft)

	sessionKey := make([]byte, 16)
	for i := range sessionKey {
		sessionKey[i] = byte(i)
	}
	ctag := packCTAG(cmdSecureRead, 0, byte(MakeKID(KIDRestrictedSection, 0)), 0)
	reqData := []byte("request payload")

	sig, pv, err := cc.signCommand(ctx, sessionKey, ctag, reqData, 41)
	if err != nil {
		t.Fatalf("signCommand failed: %v", err)
	}

	// The device would sign its response the same way, keyed by the
	// same session key/CTAG, over the response payload and its own TC.
	respPayload := make([]byte, 32)
	copy(respPayload, []byte("response payload"))
	respTC := uint32(42)
	expectedSig, err := cc.signature64(ctx, sessionKey, ctag, respPayload, respTC)
	if err != nil {
		t.Fatalf("signature64 failed: %v", err)
	}

	if err := cc.verifyResponse(ctx, &pv, respPayload, respTC, expectedSig); err != nil {
		t.Fatalf("verifyResponse rejected a correctly-signed response: %v", err)
	}
	if sig == [8]byte{} {
		t.Fatalf("expected a non-zero signature")
	}
}

func TestVerifyResponseRejectsTamperedPayload(t *testing.T) {
	ctx := context.Background()
	ft := transport.NewFake()
	cc := newCryptoContext(ft)

	sessionKey := make([]byte, 16)
	ctag := packCTAG(cmdSecureRead, 0, 0, 0)
	_, pv, err := cc.signCommand(ctx, sessionKey, ctag, []byte("req"), 0)
	if err != nil {
		t.Fatalf("signCommand failed: %v", err)
	}

	goodSig, err := cc.signature64(ctx, sessionKey, ctag, []byte("resp"), 1)
	if err != nil {
		t.Fatalf("signature64 failed: %v", err)
	}

	if err := cc.verifyResponse(ctx, &pv, []byte("tampered"), 1, goodSig); err == nil {
		t.Fatalf("expected verifyResponse to reject a tampered payload")
	}
}

func TestVerifyResponseRejectsReuse(t *testing.T) {
	ctx := context.Background()
	cc := newCryptoContext(transport.NewFake())

	sessionKey := make([]byte, 16)
	_, pv, err := cc.signCommand(ctx, sessionKey, 0, nil, 0)
	if err != nil {
		t.Fatalf("signCommand failed: %v", err)
	}
	sig, err := cc.signature64(ctx, sessionKey, 0, nil, 1)
	if err != nil {
		t.Fatalf("signature64 failed: %v", err)
	}
	if err := cc.verifyResponse(ctx, &pv, nil, 1, sig); err != nil {
		t.Fatalf("first verifyResponse should succeed: %v", err)
	}
	if err := cc.verifyResponse(ctx, &pv, nil, 1, sig); err == nil {
		t.Fatalf("expected second verifyResponse against the same PendingVerification to fail")
	}
}

func TestSignCommandRejectsTCAtMax(t *testing.T) {
	cc := newCryptoContext(transport.NewFake())
	_, _, err := cc.signCommand(context.Background(), make([]byte, 16), 0, nil, 0xFFFFFFFF)
	code, ok := CodeOf(err)
	if !ok || code != CodeMCErr {
		t.Fatalf("expected CodeMCErr at TC overflow boundary, got %v (ok=%v)", code, ok)
	}
}

func TestDeriveSessionKeyDeterministic(t *testing.T) {
	cc := newCryptoContext(transport.NewFake())
	sectionKey := make([]byte, 16)
	for i := range sectionKey {
		sectionKey[i] = byte(0xA0 + i)
	}

	k1, err := cc.deriveSessionKey(context.Background(), sectionKey, 1, 2)
	if err != nil {
		t.Fatalf("deriveSessionKey failed: %v", err)
	}
	k2, err := cc.deriveSessionKey(context.Background(), sectionKey, 1, 2)
	if err != nil {
		t.Fatalf("deriveSessionKey failed: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("expected deterministic session key derivation")
	}

	k3, _ := cc.deriveSessionKey(context.Background(), sectionKey, 1, 3)
	if k1 == k3 {
		t.Fatalf("expected a different device nonce echo to change the session key")
	}
}

func TestDeriveProvisioningKeyDeterministicAndSlotDiversified(t *testing.T) {
	master := make([]byte, 32)
	k1 := deriveProvisioningKey(master, MakeKID(KIDSectionProvision, 0))
	k2 := deriveProvisioningKey(master, MakeKID(KIDSectionProvision, 0))
	if k1 != k2 {
		t.Fatalf("expected deterministic provisioning key derivation")
	}
	k3 := deriveProvisioningKey(master, MakeKID(KIDSectionProvision, 1))
	if k1 == k3 {
		t.Fatalf("expected different target KID to produce a different provisioning key")
	}
}

func TestPRNGReseedIsDeterministicPerSeed(t *testing.T) {
	var p1, p2 prng
	seed := [32]byte{1, 2, 3}
	p1.reseed(seed)
	p2.reseed(seed)
	if p1.next() != p2.next() {
		t.Fatalf("expected identical output from identical seeds")
	}
	if p1.next() == p1.next() {
		t.Fatalf("expected successive draws from one generator to differ")
	}
}
