// Command w77qctl drives a Winbond W77Q secure flash over a real SPI
// port: connect, open a section session, read/write/erase, and manage
// keys and watchdog configuration. It replaces the per-task sample
// programs the library started from with a single subcommand CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/barnettlynn/w77q/internal/config"
	"github.com/barnettlynn/w77q/internal/transport"
	"github.com/barnettlynn/w77q/pkg/w77q"
)

const configFileName = "config.yaml"

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var logger *slog.Logger
	if *logFormat == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	slog.SetDefault(logger)

	args := flag.Args()
	if len(args) == 0 {
		log.Fatal("usage: w77qctl <provision|read|write|erase|attest|watchdog> [args...]")
	}

	configPath, err := defaultConfigPath()
	if err != nil {
		log.Fatalf("resolve config path failed: %v", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, c, err := connect(cfg, logger)
	if err != nil {
		log.Fatalf("connect failed: %v", err)
	}
	defer c.Disconnect()

	switch args[0] {
	case "provision":
		err = runProvision(ctx, c, cfg)
	case "read":
		err = runRead(ctx, c, cfg, args[1:])
	case "write":
		err = runWrite(ctx, c, cfg, args[1:])
	case "erase":
		err = runErase(ctx, c, cfg)
	case "attest":
		err = runAttest(ctx, c, cfg, args[1:])
	case "watchdog":
		err = runWatchdog(ctx, c, cfg, args[1:])
	default:
		log.Fatalf("unknown subcommand %q", args[0])
	}
	if err != nil {
		log.Fatalf("%s failed: %v", args[0], err)
	}
}

func defaultConfigPath() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", err
	}
	exeConfigPath := filepath.Join(filepath.Dir(exePath), configFileName)
	if fileExists(exeConfigPath) {
		return exeConfigPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return exeConfigPath, nil
	}
	cwdConfigPath := filepath.Join(cwd, configFileName)
	if fileExists(cwdConfigPath) {
		return cwdConfigPath, nil
	}
	return exeConfigPath, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func busModeFromString(s string) w77q.BusMode {
	switch s {
	case "single":
		return w77q.BusSingle
	case "dual-io":
		return w77q.BusDualIO
	case "quad-io":
		return w77q.BusQuadIO
	case "qpi":
		return w77q.BusQPI
	default:
		return w77q.BusSingle
	}
}

// connect opens the configured SPI port and brings the device up to
// the configured bus mode.
func connect(cfg *config.Config, logger *slog.Logger) (context.Context, *w77q.Context, error) {
	ctx := context.Background()

	adapter, err := transport.OpenSPIAdapter(cfg.Device.SPIPort, physic.Frequency(cfg.Device.SpeedHz)*physic.Hertz, spi.Mode3)
	if err != nil {
		return nil, nil, err
	}
	adapter.WithHash(transport.DefaultHash).WithNonce(nonceFromOS)

	c := w77q.Init(adapter, w77q.WithLogger(logger))
	if err := c.Connect(ctx, busModeFromString(cfg.Device.BusMode), cfg.Device.DTR); err != nil {
		return nil, nil, fmt.Errorf("device connect: %w", err)
	}
	return ctx, c, nil
}
