// internal/config/normalize.go
package config

import "github.com/tamzrod/display-link/internal/protocol"

// Defaults applied by Normalize.
const (
	DefaultTransport          = "ble"
	DefaultMaxAttempts        = 5
	DefaultReconnectDelayMs   = 3000
	DefaultScanTimeoutMs      = 15000
	DefaultConnectTimeoutMs   = 10000
	DefaultWriteTimeoutMs     = 2000
	DefaultIntegrityWarnAfter = 3
	DefaultBaudRate           = 115200
	DefaultPacingMs           = 50
	DefaultPollIntervalMs     = 60000
	DefaultErrorAfter         = 2
	DefaultLogLevel           = "info"
	DefaultDiffThreshold      = 2
)

// DefaultBrightnessSteps are cycled by a double press.
var DefaultBrightnessSteps = []uint8{20, 60, 100}

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	// ---- display ----
	d := &cfg.Display
	if d.Width == 0 {
		d.Width = protocol.DefaultWidth
	}
	if d.Height == 0 {
		d.Height = protocol.DefaultHeight
	}
	if d.MaxTextBytes == 0 {
		d.MaxTextBytes = protocol.DefaultMaxTextBytes
	}
	if d.DiffThreshold == 0 {
		d.DiffThreshold = DefaultDiffThreshold
	}
	// Zero budgets are filled by the composer.

	// ---- link ----
	l := &cfg.Link
	if l.Transport == "" {
		l.Transport = DefaultTransport
	}
	if l.AutoReconnect == nil {
		on := true
		l.AutoReconnect = &on
	}
	if l.MaxAttempts == 0 {
		l.MaxAttempts = DefaultMaxAttempts
	}
	setDefault(&l.ReconnectDelayMs, DefaultReconnectDelayMs)
	setDefault(&l.ScanTimeoutMs, DefaultScanTimeoutMs)
	setDefault(&l.ConnectTimeoutMs, DefaultConnectTimeoutMs)
	setDefault(&l.WriteTimeoutMs, DefaultWriteTimeoutMs)
	setDefault(&l.IntegrityWarnAfter, DefaultIntegrityWarnAfter)
	setDefault(&l.Serial.BaudRate, DefaultBaudRate)
	// Empty UUIDs keep the link package defaults.

	// ---- dispatch ----
	setDefault(&cfg.Dispatch.PacingMs, DefaultPacingMs)
	if cfg.Dispatch.RefreshAfter == nil {
		on := true
		cfg.Dispatch.RefreshAfter = &on
	}

	// ---- content ----
	setDefault(&cfg.Content.PollIntervalMs, DefaultPollIntervalMs)
	setDefault(&cfg.Content.ErrorAfter, DefaultErrorAfter)

	// ---- input ----
	if len(cfg.Input.BrightnessSteps) == 0 {
		cfg.Input.BrightnessSteps = append([]uint8(nil), DefaultBrightnessSteps...)
	}

	// ---- log ----
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
}

func setDefault(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}
