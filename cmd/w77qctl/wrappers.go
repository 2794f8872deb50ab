package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"flag"
	"fmt"
	"strconv"

	"github.com/barnettlynn/w77q/internal/config"
	"github.com/barnettlynn/w77q/pkg/w77q"
)

// nonceFromOS draws a 64-bit value from the OS CSPRNG, standing in for
// a hardware TRNG on platforms (like a Raspberry Pi host) that don't
// expose one through periph.io.
func nonceFromOS() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func sectionKeyFor(cfg *config.Config, section int) ([]byte, error) {
	path, ok := cfg.Keys.SectionKeyFiles[strconv.Itoa(section)]
	if !ok {
		return nil, fmt.Errorf("no section_key_files entry for section %d", section)
	}
	return w77q.LoadKeyHexFile(path)
}

func openConfiguredSection(ctx context.Context, c *w77q.Context, cfg *config.Config, access w77q.AccessType) error {
	section := *cfg.Runtime.Section
	key, err := sectionKeyFor(cfg, section)
	if err != nil {
		return err
	}
	return c.OpenSession(ctx, byte(section), access, key)
}

func runRead(ctx context.Context, c *w77q.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	offset := fs.Uint("offset", 0, "byte offset within the section")
	length := fs.Int("length", 256, "number of bytes to read")
	auth := fs.Bool("auth", true, "use TC-echoed SARD instead of plain SRD")
	fs.Parse(args)

	if err := openConfiguredSection(ctx, c, cfg, w77q.AccessRestricted); err != nil {
		return err
	}
	defer c.CloseSession(ctx)

	data, err := c.SecureRead(ctx, uint32(*offset), *length, *auth)
	if err != nil {
		return err
	}
	fmt.Printf("%x\n", data)
	return nil
}

func runWrite(ctx context.Context, c *w77q.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("write", flag.ExitOnError)
	offset := fs.Uint("offset", 0, "byte offset within the section")
	hexData := fs.String("data", "", "hex-encoded bytes to write")
	fs.Parse(args)
	if *hexData == "" {
		return fmt.Errorf("-data is required")
	}

	if err := openConfiguredSection(ctx, c, cfg, w77q.AccessFull); err != nil {
		return err
	}
	defer c.CloseSession(ctx)

	data, err := decodeHex(*hexData)
	if err != nil {
		return err
	}
	return c.SecureWrite(ctx, uint32(*offset), data)
}

func runErase(ctx context.Context, c *w77q.Context, cfg *config.Config) error {
	if err := openConfiguredSection(ctx, c, cfg, w77q.AccessFull); err != nil {
		return err
	}
	defer c.CloseSession(ctx)
	return c.EraseSection(ctx, byte(*cfg.Runtime.Section))
}

func runAttest(ctx context.Context, c *w77q.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("attest", flag.ExitOnError)
	expectedHex := fs.String("expect", "", "hex-encoded 32-byte expected digest")
	fs.Parse(args)
	expected, err := decodeHex(*expectedHex)
	if err != nil || len(expected) != 32 {
		return fmt.Errorf("-expect must be 64 hex characters (32 bytes)")
	}
	var digest [32]byte
	copy(digest[:], expected)

	if err := openConfiguredSection(ctx, c, cfg, w77q.AccessRestricted); err != nil {
		return err
	}
	defer c.CloseSession(ctx)

	ok, err := c.DirectAttest(ctx, byte(*cfg.Runtime.Section), digest)
	if err != nil {
		return err
	}
	fmt.Printf("attestation match: %v\n", ok)
	return nil
}

func runWatchdog(ctx context.Context, c *w77q.Context, cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: w77qctl watchdog <touch|status>")
	}
	if err := openConfiguredSection(ctx, c, cfg, w77q.AccessFull); err != nil {
		return err
	}
	defer c.CloseSession(ctx)

	switch args[0] {
	case "touch":
		return c.WatchdogTouch(ctx)
	case "status":
		st, err := c.WatchdogStatus(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("seconds remaining: %d, expired: %v\n", st.SecondsRemaining, st.Expired)
		return nil
	default:
		return fmt.Errorf("unknown watchdog subcommand %q", args[0])
	}
}
