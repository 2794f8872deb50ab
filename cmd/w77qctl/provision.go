package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/barnettlynn/w77q/internal/config"
	"github.com/barnettlynn/w77q/pkg/w77q"
)

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimSpace(s))
}

// promptMasterKey reads the device master key from the terminal
// without echoing it, the way provisioning a production device should
// never have its master key land in shell history or a process list.
func promptMasterKey() ([]byte, error) {
	fmt.Fprint(os.Stderr, "Device master key (hex): ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read master key: %w", err)
	}
	key, err := decodeHex(string(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid hex master key: %w", err)
	}
	if len(key) != 16 {
		return nil, fmt.Errorf("master key must be 16 bytes, got %d", len(key))
	}
	return key, nil
}

// runProvision walks the first-time ConfigDevice flow for the section
// named in config.yaml: prompts for the device master key, loads the
// section's new key from its configured hex file, and provisions it.
func runProvision(ctx context.Context, c *w77q.Context, cfg *config.Config) error {
	masterKey, err := promptMasterKey()
	if err != nil {
		return err
	}
	defer zero(masterKey)

	section := byte(*cfg.Runtime.Section)
	sectionKey, err := sectionKeyFor(cfg, int(section))
	if err != nil {
		return err
	}

	var keyArr [16]byte
	copy(keyArr[:], sectionKey)

	devCfg := w77q.DeviceConfig{
		DeviceMasterKey: masterKey,
		NewKeys: map[w77q.KID][16]byte{
			w77q.MakeKID(w77q.KIDFullAccessSection, section): keyArr,
		},
	}
	if err := c.InitDevice(ctx, devCfg); err != nil {
		return err
	}
	fmt.Printf("section %d provisioned\n", section)
	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
