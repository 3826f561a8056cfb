// cmd/displaylink/app.go
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/tamzrod/display-link/internal/config"
	"github.com/tamzrod/display-link/internal/display"
	"github.com/tamzrod/display-link/internal/link"
	"github.com/tamzrod/display-link/internal/logging"
	"github.com/tamzrod/display-link/internal/protocol"
	"github.com/tamzrod/display-link/internal/transport/ble"
	"github.com/tamzrod/display-link/internal/transport/loopback"
	"github.com/tamzrod/display-link/internal/transport/serial"
)

// Simulated peripheral for --transport sim.
const (
	simDeviceID   = "sim-1"
	simDeviceName = "CalDisplay-sim"
)

// loadConfig reads, validates and normalizes the config at path.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	config.Normalize(cfg)
	return cfg, nil
}

func newLogger(cfg *config.Config) hclog.Logger {
	level, json := logging.Resolve(cfg.Log.Level, cfg.Log.JSON)
	if logLevel != "" {
		level = logLevel
	}
	return logging.NewLogger("displaylink", level, json, os.Stderr)
}

func limits(cfg *config.Config) protocol.Limits {
	return protocol.Limits{
		Width:        cfg.Display.Width,
		Height:       cfg.Display.Height,
		MaxTextBytes: cfg.Display.MaxTextBytes,
	}
}

func budgets(cfg *config.Config) display.Budgets {
	b := cfg.Display.Budgets
	return display.Budgets{
		Title:     b.Title,
		Time:      b.Time,
		Location:  b.Location,
		Countdown: b.Countdown,
		Duration:  b.Duration,
	}
}

// linkConfig maps the validated config onto the machine's runtime config.
func linkConfig(cfg *config.Config) link.Config {
	l := cfg.Link
	lc := link.Config{
		Policy: link.Policy{
			AutoReconnect:  l.AutoReconnect == nil || *l.AutoReconnect,
			MaxAttempts:    l.MaxAttempts,
			ReconnectDelay: l.ReconnectDelay(),
			ScanTimeout:    l.ScanTimeout(),
		},
		ConnectTimeout:     l.ConnectTimeout(),
		WriteTimeout:       l.WriteTimeout(),
		Service:            parseUUID(l.ServiceUUID),
		WriteChar:          parseUUID(l.WriteCharUUID),
		NotifyChar:         parseUUID(l.NotifyCharUUID),
		AutoSelectID:       l.DeviceID,
		AutoSelectName:     l.DeviceName,
		IntegrityWarnAfter: l.IntegrityWarnAfter,
	}
	if l.Transport == "sim" && lc.AutoSelectID == "" && lc.AutoSelectName == "" {
		lc.AutoSelectID = simDeviceID
	}
	return lc
}

// parseUUID returns uuid.Nil for empty input; Validate already rejected bad ids.
func parseUUID(s string) uuid.UUID {
	if s == "" {
		return uuid.Nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return u
}

// autoConnect reports whether the link should scan at startup.
func autoConnect(lc link.Config) bool {
	return lc.AutoSelectID != "" || lc.AutoSelectName != ""
}

// buildTransport picks the platform transport named in the config.
func buildTransport(cfg *config.Config, codec *protocol.Codec, logger hclog.Logger) (link.Transport, error) {
	switch strings.ToLower(cfg.Link.Transport) {
	case "", "ble":
		lc := linkConfig(cfg)
		return ble.New(ble.Config{
			Service:    lc.Service,
			WriteChar:  lc.WriteChar,
			NotifyChar: lc.NotifyChar,
		}, logger.Named("ble")), nil
	case "serial":
		s := cfg.Link.Serial
		return serial.New(serial.Config{
			Ports:    s.Ports,
			BaudRate: s.BaudRate,
			USBVID:   s.USBVID,
		}, logger.Named("serial")), nil
	case "sim":
		name := cfg.Link.DeviceName
		if name == "" {
			name = simDeviceName
		}
		id := cfg.Link.DeviceID
		if id == "" {
			id = simDeviceID
		}
		return loopback.New(codec, logger.Named("sim"), link.DeviceRecord{
			ID:             id,
			DisplayName:    name,
			SignalStrength: -42,
		}), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Link.Transport)
	}
}
