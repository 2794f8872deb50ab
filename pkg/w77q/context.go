package w77q

import (
	"context"
	"log/slog"

	"github.com/barnettlynn/w77q/internal/transport"
)

// busInterface holds the current bus mode, DTR setting, derived
// opcodes, and the locked flag, which Connect sets and Disconnect
// clears (spec §3).
type busInterface struct {
	mode     BusMode
	dtr      bool
	opcodes  transport.Opcodes
	locked   bool
}

// Context is the per-device host state described in spec §3/§7. It is
// created zero-valued by Init and owned by its creator; nothing in
// this package keeps a second reference to it.
type Context struct {
	transport transport.Transport
	logger    *slog.Logger

	bus busInterface

	wid uint64 // Winbond ID; set only by ImportState

	tc  uint32 // transaction counter
	dmc uint32 // device maintenance counter
	mcInSync bool

	addrSize byte // log2 of per-section legacy addressing range, 19-24

	sections [8]sectionState

	suspended    bool
	poweredDown  bool
	multiTxn     bool // elides cleanup between back-to-back secure ops

	watchdogSecure  bool
	watchdogSection byte

	ssrCache    ssr
	ssrValid    bool

	keys   *keyManager
	crypto *cryptoContext

	resetStatus ResetStatus

	userData any
}

// Init creates a zero-valued Context bound to a Transport. Bus mode
// starts invalid; Connect + InitDevice bring it to a usable state
// (spec §4.6 Initialization).
func Init(t transport.Transport, opts ...ContextOption) *Context {
	c := &Context{
		transport: t,
		logger:    slog.Default(),
		bus:       busInterface{mode: BusInvalid},
		keys:      newKeyManager(),
	}
	c.crypto = newCryptoContext(t)
	c.ssrValid = false // cache empty until the first OP0 poll fills it
	for _, o := range opts {
		o(c)
	}
	return c
}

// ContextOption configures optional Context fields at Init time.
type ContextOption func(*Context)

// WithLogger overrides the default slog logger (design note §9: no
// module-wide debug singleton, an explicit sink passed per context).
func WithLogger(l *slog.Logger) ContextOption {
	return func(c *Context) { c.logger = l }
}

// WithUserData pre-populates the host-owned user-data pointer.
func WithUserData(v any) ContextOption {
	return func(c *Context) { c.userData = v }
}

func (c *Context) log() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// GetUserData / SetUserData implement the §6 CLI surface entries of
// the same name.
func (c *Context) GetUserData() any        { return c.userData }
func (c *Context) SetUserData(v any)       { c.userData = v }

// GetResetStatus returns the snapshot captured at the last
// sync-after-reset.
func (c *Context) GetResetStatus() ResetStatus { return c.resetStatus }

// sectionEnabled reports whether section s is currently enabled in the
// host's shadow of the GMT.
func (c *Context) sectionEnabled(s byte) bool {
	if int(s) >= len(c.sections) {
		return false
	}
	return c.sections[s].enabled
}

func (c *Context) clearPlainAccess() {
	for i := range c.sections {
		c.sections[i].plainEnabled = false
	}
}

// backgroundCtx is a single named context.Background() value. No code
// in this package refers to it; every method takes its context from
// the caller.
var backgroundCtx = context.Background()
