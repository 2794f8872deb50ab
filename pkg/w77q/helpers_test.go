package w77q

import (
	"context"

	"github.com/barnettlynn/w77q/internal/transport"
)

// newSessionFixture builds a Context with a session already installed
// (bypassing OpenSession's nonce exchange, which crypto_test.go and
// engine_test.go already cover) and a transport.Fake whose OP1/OP2
// handler signs its responses with the same session key, so whatever
// secure operation the test drives arrives at a response its own
// verifyResponse call accepts. respond maps an outgoing command byte
// and request payload to the response payload the device returns.
func newSessionFixture(kid KID, sessionKey [16]byte, respond func(cmd byte, reqData []byte) []byte) (*Context, *transport.Fake) {
	ft := transport.NewFake()
	cc := newCryptoContext(ft)
	var deviceTC uint32
	var nextResp []byte

	ft.Handler = func(req transport.Request) (transport.Response, error) {
		switch req.Opcode {
		case 0xA0:
			return transport.Response{DataIn: []byte{0, 0, 0, 0}}, nil
		case 0x10:
			ctag := readU32LE(req.DataOut[0:4])
			cmd := byte(ctag)
			flags := byte(ctag >> 8)
			reqData := req.DataOut[4:36]
			respPayload := respond(cmd, reqData)

			deviceTC++
			sig, err := cc.signature64(context.Background(), sessionKey[:], ctag, respPayload, deviceTC)
			if err != nil {
				return transport.Response{}, err
			}
			var out []byte
			if flags&ctagFlagTCEcho != 0 {
				out = make([]byte, len(respPayload)+4+8)
				copy(out, respPayload)
				putU32LE(out[len(respPayload):len(respPayload)+4], deviceTC)
				copy(out[len(respPayload)+4:], sig[:])
			} else {
				out = make([]byte, len(respPayload)+8)
				copy(out, respPayload)
				copy(out[len(respPayload):], sig[:])
			}
			nextResp = out
			return transport.Response{}, nil
		case 0x20:
			return transport.Response{DataIn: nextResp}, nil
		default:
			return transport.Response{DataIn: make([]byte, req.ReadLen)}, nil
		}
	}

	c := Init(ft)
	opcodes, _ := transport.DeriveOpcodes(BusSingle, false)
	c.bus.mode = BusSingle
	c.bus.opcodes = opcodes
	c.bus.locked = true
	c.keys.openSession(kid, sessionKey)
	c.sections[kid.Section()].enabled = true
	c.mcInSync = true
	return c, ft
}
