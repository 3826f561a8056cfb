// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Display  DisplayConfig  `yaml:"display"`
	Link     LinkConfig     `yaml:"link"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Content  ContentConfig  `yaml:"content"`
	Input    InputConfig    `yaml:"input"`
	Log      LogConfig      `yaml:"log"`
	API      APIConfig      `yaml:"api"`
}

// ---- DISPLAY ----

type DisplayConfig struct {
	Width         uint16        `yaml:"width"`
	Height        uint16        `yaml:"height"`
	MaxTextBytes  int           `yaml:"max_text_bytes"`
	DiffThreshold int           `yaml:"diff_threshold"` // changed regions before a full redraw
	Budgets       BudgetsConfig `yaml:"budgets"`
}

type BudgetsConfig struct {
	Title     int `yaml:"title"`
	Time      int `yaml:"time"`
	Location  int `yaml:"location"`
	Countdown int `yaml:"countdown"`
	Duration  int `yaml:"duration"`
}

// ---- LINK ----

type LinkConfig struct {
	Transport string `yaml:"transport"` // ble | serial | sim

	AutoReconnect    *bool `yaml:"auto_reconnect"` // default true
	MaxAttempts      int   `yaml:"max_attempts"`
	ReconnectDelayMs int   `yaml:"reconnect_delay_ms"`
	ScanTimeoutMs    int   `yaml:"scan_timeout_ms"`
	ConnectTimeoutMs int   `yaml:"connect_timeout_ms"`
	WriteTimeoutMs   int   `yaml:"write_timeout_ms"`

	ServiceUUID    string `yaml:"service_uuid"`
	WriteCharUUID  string `yaml:"write_char_uuid"`
	NotifyCharUUID string `yaml:"notify_char_uuid"`

	// Auto-select on discovery (either may be empty).
	DeviceID   string `yaml:"device_id"`
	DeviceName string `yaml:"device_name"`

	IntegrityWarnAfter int `yaml:"integrity_warn_after"`

	Serial SerialConfig `yaml:"serial"`
}

type SerialConfig struct {
	Ports    []string `yaml:"ports"` // empty: enumerate USB ports
	BaudRate int      `yaml:"baud_rate"`
	USBVID   string   `yaml:"usb_vid"` // hex, optional filter for enumeration
}

// ---- DISPATCH ----

type DispatchConfig struct {
	PacingMs     int   `yaml:"pacing_ms"`
	RefreshAfter *bool `yaml:"refresh_after"` // default true
	ClearRegions bool  `yaml:"clear_regions"`
}

// ---- CONTENT ----

type ContentConfig struct {
	File           string `yaml:"file"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
	ErrorAfter     int    `yaml:"error_after"` // failed cycles in a row before health is Error
}

// ---- INPUT ----

type InputConfig struct {
	BrightnessSteps []uint8 `yaml:"brightness_steps"`
}

// ---- LOG ----

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ---- API ----

type APIConfig struct {
	Listen string `yaml:"listen"` // empty disables the status surface
}

// Load reads and decodes the YAML file at path. Unknown keys are rejected.
// It does not validate or normalize.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return &cfg, nil
}

// ---- durations ----

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (l LinkConfig) ReconnectDelay() time.Duration { return ms(l.ReconnectDelayMs) }
func (l LinkConfig) ScanTimeout() time.Duration    { return ms(l.ScanTimeoutMs) }
func (l LinkConfig) ConnectTimeout() time.Duration { return ms(l.ConnectTimeoutMs) }
func (l LinkConfig) WriteTimeout() time.Duration   { return ms(l.WriteTimeoutMs) }

func (d DispatchConfig) Pacing() time.Duration { return ms(d.PacingMs) }

func (c ContentConfig) PollInterval() time.Duration { return ms(c.PollIntervalMs) }
