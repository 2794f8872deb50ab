// Package w77q implements a host-side driver for the Winbond W77Q
// family of secure SPI NOR flash devices: session-authenticated
// section reads/writes, key provisioning, watchdog configuration, and
// boot attestation, layered over a plain legacy SPI NOR command set.
//
// A Context is bound to one physical device via a
// github.com/barnettlynn/w77q/internal/transport.Transport and is not
// safe for concurrent use — callers needing concurrent access to one
// device must serialize their own calls.
package w77q
