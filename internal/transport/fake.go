package transport

import (
	"context"
	"fmt"
)

// Fake is an in-memory Transport test double, the way the teacher's
// emulator module stands in for a real card: callers install a Handler
// function that answers each request and assert on the recorded
// requests afterward.
type Fake struct {
	Handler func(req Request) (Response, error)

	HashFn  func(data []byte) [32]byte
	NonceFn func() (uint64, error)

	Requests []Request
	resetCnt int
}

func NewFake() *Fake {
	return &Fake{HashFn: DefaultHash}
}

func (f *Fake) Execute(ctx context.Context, req Request) (Response, error) {
	f.Requests = append(f.Requests, req)
	if f.Handler == nil {
		return Response{}, fmt.Errorf("transport/fake: no handler installed")
	}
	return f.Handler(req)
}

func (f *Fake) Hash(ctx context.Context, data []byte) ([32]byte, error) {
	if f.HashFn == nil {
		return [32]byte{}, fmt.Errorf("transport/fake: no hash installed")
	}
	return f.HashFn(data), nil
}

func (f *Fake) Nonce(ctx context.Context) (uint64, error) {
	if f.NonceFn == nil {
		return 0, nil
	}
	return f.NonceFn()
}

func (f *Fake) ResetCPU() error {
	f.resetCnt++
	return nil
}

// ResetCount reports how many times ResetCPU was invoked.
func (f *Fake) ResetCount() int { return f.resetCnt }

// LastRequest returns the most recently executed request, or the zero
// value if none have run yet.
func (f *Fake) LastRequest() Request {
	if len(f.Requests) == 0 {
		return Request{}
	}
	return f.Requests[len(f.Requests)-1]
}
