package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func writeKeyFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("00112233445566778899AABBCCDDEEFF\n"), 0o644); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	return path
}

func TestLoadValidConfigAndResolveRelativePaths(t *testing.T) {
	tmp := t.TempDir()
	writeKeyFile(t, tmp, "master.hex")
	writeKeyFile(t, tmp, "section0.hex")

	cfgPath := filepath.Join(tmp, "config.yaml")
	cfgYAML := `
device:
  spi_port: /dev/spidev0.0
  hold_pin: GPIO17
  speed_hz: 10000000
  bus_mode: quad-io
  dtr: false
keys:
  device_master_key_file: master.hex
  section_key_files:
    "0": section0.hex
runtime:
  section: 0
`
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Keys.DeviceMasterKeyFile != filepath.Join(tmp, "master.hex") {
		t.Fatalf("unexpected resolved master key path: %q", cfg.Keys.DeviceMasterKeyFile)
	}
	if cfg.Keys.SectionKeyFiles["0"] != filepath.Join(tmp, "section0.hex") {
		t.Fatalf("unexpected resolved section key path: %q", cfg.Keys.SectionKeyFiles["0"])
	}
	if *cfg.Runtime.Section != 0 {
		t.Fatalf("expected section 0, got %d", *cfg.Runtime.Section)
	}
}

func TestLoadFailsOnInvalidBusMode(t *testing.T) {
	tmp := t.TempDir()
	writeKeyFile(t, tmp, "master.hex")
	cfgPath := writeConfig(t, `
device:
  spi_port: /dev/spidev0.0
  speed_hz: 10000000
  bus_mode: octal-io
keys:
  device_master_key_file: `+filepath.Join(tmp, "master.hex")+`
runtime:
  section: 0
`)

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "bus_mode") {
		t.Fatalf("expected bus_mode validation error, got %v", err)
	}
}

func TestLoadFailsWhenMasterKeyFileMissing(t *testing.T) {
	cfgPath := writeConfig(t, `
device:
  spi_port: /dev/spidev0.0
  speed_hz: 10000000
  bus_mode: single
keys:
  device_master_key_file: does-not-exist.hex
runtime:
  section: 0
`)

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "device_master_key_file") {
		t.Fatalf("expected missing master key file error, got %v", err)
	}
}

func TestLoadFailsWhenSectionOutOfRange(t *testing.T) {
	tmp := t.TempDir()
	writeKeyFile(t, tmp, "master.hex")
	cfgPath := writeConfig(t, `
device:
  spi_port: /dev/spidev0.0
  speed_hz: 10000000
  bus_mode: single
keys:
  device_master_key_file: `+filepath.Join(tmp, "master.hex")+`
runtime:
  section: 8
`)

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "config.runtime.section") {
		t.Fatalf("expected out-of-range section error, got %v", err)
	}
}
