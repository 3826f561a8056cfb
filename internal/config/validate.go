// internal/config/validate.go
package config

import (
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/tamzrod/display-link/internal/protocol"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
// Zero values are legal; Normalize fills them.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is empty")
	}

	// ------------------------------------------------------------
	// DISPLAY
	// ------------------------------------------------------------

	d := cfg.Display
	if d.MaxTextBytes < 0 || d.MaxTextBytes > protocol.MaxPayloadLen-6 {
		return fmt.Errorf("display.max_text_bytes %d outside [0,%d]", d.MaxTextBytes, protocol.MaxPayloadLen-6)
	}
	if d.DiffThreshold < 0 {
		return fmt.Errorf("display.diff_threshold must be >= 0")
	}
	for name, v := range map[string]int{
		"title":     d.Budgets.Title,
		"time":      d.Budgets.Time,
		"location":  d.Budgets.Location,
		"countdown": d.Budgets.Countdown,
		"duration":  d.Budgets.Duration,
	} {
		if v < 0 {
			return fmt.Errorf("display.budgets.%s must be >= 0", name)
		}
	}

	// ------------------------------------------------------------
	// LINK
	// ------------------------------------------------------------

	l := cfg.Link
	switch l.Transport {
	case "", "ble", "serial", "sim":
	default:
		return fmt.Errorf("link.transport %q: must be ble, serial or sim", l.Transport)
	}

	if l.MaxAttempts < 0 {
		return fmt.Errorf("link.max_attempts must be >= 0")
	}
	for name, v := range map[string]int{
		"reconnect_delay_ms":   l.ReconnectDelayMs,
		"scan_timeout_ms":      l.ScanTimeoutMs,
		"connect_timeout_ms":   l.ConnectTimeoutMs,
		"write_timeout_ms":     l.WriteTimeoutMs,
		"integrity_warn_after": l.IntegrityWarnAfter,
	} {
		if v < 0 {
			return fmt.Errorf("link.%s must be >= 0", name)
		}
	}

	for name, v := range map[string]string{
		"service_uuid":     l.ServiceUUID,
		"write_char_uuid":  l.WriteCharUUID,
		"notify_char_uuid": l.NotifyCharUUID,
	} {
		if v == "" {
			continue
		}
		if _, err := uuid.Parse(v); err != nil {
			return fmt.Errorf("link.%s %q: %w", name, v, err)
		}
	}

	if l.Serial.BaudRate < 0 {
		return fmt.Errorf("link.serial.baud_rate must be >= 0")
	}
	if l.Serial.USBVID != "" {
		if _, err := strconv.ParseUint(l.Serial.USBVID, 16, 16); err != nil {
			return fmt.Errorf("link.serial.usb_vid %q: must be a 16-bit hex id", l.Serial.USBVID)
		}
	}

	// ------------------------------------------------------------
	// DISPATCH / CONTENT / INPUT
	// ------------------------------------------------------------

	if cfg.Dispatch.PacingMs < 0 {
		return fmt.Errorf("dispatch.pacing_ms must be >= 0")
	}

	if cfg.Content.File == "" {
		return fmt.Errorf("content.file is required")
	}
	if cfg.Content.PollIntervalMs < 0 {
		return fmt.Errorf("content.poll_interval_ms must be >= 0")
	}
	if cfg.Content.ErrorAfter < 0 {
		return fmt.Errorf("content.error_after must be >= 0")
	}

	for i, s := range cfg.Input.BrightnessSteps {
		if s > protocol.MaxBrightness {
			return fmt.Errorf("input.brightness_steps[%d] %d exceeds %d", i, s, protocol.MaxBrightness)
		}
	}

	// ------------------------------------------------------------
	// LOG / API
	// ------------------------------------------------------------

	if cfg.Log.Level != "" && hclog.LevelFromString(cfg.Log.Level) == hclog.NoLevel {
		return fmt.Errorf("log.level %q is not a known level", cfg.Log.Level)
	}

	if cfg.API.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.API.Listen); err != nil {
			return fmt.Errorf("api.listen %q: %w", cfg.API.Listen, err)
		}
	}

	return nil
}
