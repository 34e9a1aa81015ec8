package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigPath is the path to the canonical sweepview defaults file.
const DefaultConfigPath = "config/sweepview.defaults.json"

// SweepConfig is the sweepview configuration file. Every field is optional;
// the Get* methods fall back to the built-in defaults.
type SweepConfig struct {
	// Device
	Driver         *string `json:"driver,omitempty"` // "serial" or "sim"
	Port           *string `json:"port,omitempty"`
	BaudRate       *int    `json:"baud_rate,omitempty"`
	DataBits       *int    `json:"data_bits,omitempty"`
	StopBits       *int    `json:"stop_bits,omitempty"`
	Parity         *string `json:"parity,omitempty"` // "N", "E" or "O"
	ReadTimeout    *string `json:"read_timeout,omitempty"` // duration string like "3s"
	MaxScanSamples *int    `json:"max_scan_samples,omitempty"`

	// Recovery
	TransientBackoff *string `json:"transient_backoff,omitempty"`
	CriticalBackoff  *string `json:"critical_backoff,omitempty"`
	ResyncSettle     *string `json:"resync_settle,omitempty"`
	EscalateAfter    *int    `json:"escalate_after,omitempty"`

	// History and rendering
	HistorySize   *int     `json:"history_size,omitempty"`
	MaxDistanceMM *float64 `json:"max_distance_mm,omitempty"`
	TickRateHz    *float64 `json:"tick_rate_hz,omitempty"`
	RenderStyle   *string  `json:"render_style,omitempty"` // "points" or "lines"
	ImageSize     *int     `json:"image_size,omitempty"`

	// Operations
	LogLevel      *string `json:"log_level,omitempty"`
	DebugListen   *string `json:"debug_listen,omitempty"`
	StreamListen  *string `json:"stream_listen,omitempty"` // gRPC frame stream
	StatsInterval *string `json:"stats_interval,omitempty"`
}

func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrFloat64(v float64) *float64 { return &v }

// DefaultSweepConfig returns a config with every field set to its default.
func DefaultSweepConfig() *SweepConfig {
	return &SweepConfig{
		Driver:           ptrString("serial"),
		Port:             ptrString("/dev/ttyUSB0"),
		BaudRate:         ptrInt(256000),
		DataBits:         ptrInt(8),
		StopBits:         ptrInt(1),
		Parity:           ptrString("N"),
		ReadTimeout:      ptrString("3s"),
		MaxScanSamples:   ptrInt(3000),
		TransientBackoff: ptrString("1s"),
		CriticalBackoff:  ptrString("2s"),
		ResyncSettle:     ptrString("500ms"),
		EscalateAfter:    ptrInt(3),
		HistorySize:      ptrInt(30),
		MaxDistanceMM:    ptrFloat64(4000),
		TickRateHz:       ptrFloat64(60),
		RenderStyle:      ptrString("points"),
		ImageSize:        ptrInt(800),
		LogLevel:         ptrString("info"),
		DebugListen:      ptrString(""),
		StreamListen:     ptrString(""),
		StatsInterval:    ptrString("30s"),
	}
}

// LoadSweepConfig loads a SweepConfig from a JSON file. The file must have
// a .json extension and be under 1MB. Omitted fields keep their defaults.
func LoadSweepConfig(path string) (*SweepConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &SweepConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or one of its parents. Panics if the file cannot be loaded, intended for
// test setup.
func MustLoadDefaultConfig() *SweepConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/sweepview/ and deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadSweepConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *SweepConfig) Validate() error {
	if c.Driver != nil {
		switch *c.Driver {
		case "serial", "sim":
		default:
			return fmt.Errorf("driver must be serial or sim, got %q", *c.Driver)
		}
	}
	if c.Driver != nil && *c.Driver == "serial" && c.Port != nil && strings.TrimSpace(*c.Port) == "" {
		return fmt.Errorf("port must not be empty for the serial driver")
	}
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}
	if c.DataBits != nil && (*c.DataBits < 5 || *c.DataBits > 8) {
		return fmt.Errorf("data_bits must be between 5 and 8, got %d", *c.DataBits)
	}
	if c.StopBits != nil && *c.StopBits != 1 && *c.StopBits != 2 {
		return fmt.Errorf("stop_bits must be 1 or 2, got %d", *c.StopBits)
	}
	if c.Parity != nil {
		switch strings.ToUpper(strings.TrimSpace(*c.Parity)) {
		case "N", "NONE", "E", "EVEN", "O", "ODD":
		default:
			return fmt.Errorf("parity must be N, E or O, got %q", *c.Parity)
		}
	}
	if c.MaxScanSamples != nil && *c.MaxScanSamples <= 0 {
		return fmt.Errorf("max_scan_samples must be positive, got %d", *c.MaxScanSamples)
	}
	if c.EscalateAfter != nil && *c.EscalateAfter <= 0 {
		return fmt.Errorf("escalate_after must be positive, got %d", *c.EscalateAfter)
	}
	if c.HistorySize != nil && *c.HistorySize < 1 {
		return fmt.Errorf("history_size must be at least 1, got %d", *c.HistorySize)
	}
	if c.MaxDistanceMM != nil && !(*c.MaxDistanceMM > 0) {
		return fmt.Errorf("max_distance_mm must be positive, got %f", *c.MaxDistanceMM)
	}
	if c.TickRateHz != nil && !(*c.TickRateHz > 0 && *c.TickRateHz <= 1000) {
		return fmt.Errorf("tick_rate_hz must be in (0, 1000], got %f", *c.TickRateHz)
	}
	if c.RenderStyle != nil {
		switch *c.RenderStyle {
		case "points", "lines":
		default:
			return fmt.Errorf("render_style must be points or lines, got %q", *c.RenderStyle)
		}
	}
	if c.ImageSize != nil && (*c.ImageSize < 16 || *c.ImageSize > 8192) {
		return fmt.Errorf("image_size must be between 16 and 8192, got %d", *c.ImageSize)
	}

	durations := []struct {
		name     string
		value    *string
		positive bool
	}{
		{"read_timeout", c.ReadTimeout, true},
		{"transient_backoff", c.TransientBackoff, false},
		{"critical_backoff", c.CriticalBackoff, false},
		{"resync_settle", c.ResyncSettle, false},
		{"stats_interval", c.StatsInterval, false},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		v, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err)
		}
		if v < 0 || (d.positive && v == 0) {
			return fmt.Errorf("%s must be positive, got %s", d.name, v)
		}
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetDriver returns the driver name or the default.
func (c *SweepConfig) GetDriver() string {
	if c.Driver == nil {
		return "serial"
	}
	return *c.Driver
}

// GetPort returns the serial port path or the default.
func (c *SweepConfig) GetPort() string {
	if c.Port == nil || *c.Port == "" {
		return "/dev/ttyUSB0"
	}
	return *c.Port
}

// GetBaudRate returns the baud rate or the default.
func (c *SweepConfig) GetBaudRate() int {
	if c.BaudRate == nil {
		return 256000
	}
	return *c.BaudRate
}

// GetDataBits returns the serial data bits or the default.
func (c *SweepConfig) GetDataBits() int {
	if c.DataBits == nil {
		return 8
	}
	return *c.DataBits
}

// GetStopBits returns the serial stop bits or the default.
func (c *SweepConfig) GetStopBits() int {
	if c.StopBits == nil {
		return 1
	}
	return *c.StopBits
}

// GetParity returns the serial parity or the default.
func (c *SweepConfig) GetParity() string {
	if c.Parity == nil || *c.Parity == "" {
		return "N"
	}
	return *c.Parity
}

// GetReadTimeout returns the per-read timeout, which also bounds shutdown
// latency while streaming.
func (c *SweepConfig) GetReadTimeout() time.Duration {
	return durationOr(c.ReadTimeout, 3*time.Second)
}

// GetMaxScanSamples returns the partial scan bound or the default.
func (c *SweepConfig) GetMaxScanSamples() int {
	if c.MaxScanSamples == nil {
		return 3000
	}
	return *c.MaxScanSamples
}

// GetTransientBackoff returns the wait after a protocol desync.
func (c *SweepConfig) GetTransientBackoff() time.Duration {
	return durationOr(c.TransientBackoff, time.Second)
}

// GetCriticalBackoff returns the wait after any other fault.
func (c *SweepConfig) GetCriticalBackoff() time.Duration {
	return durationOr(c.CriticalBackoff, 2*time.Second)
}

// GetResyncSettle returns the pause between device reset and health query.
func (c *SweepConfig) GetResyncSettle() time.Duration {
	return durationOr(c.ResyncSettle, 500*time.Millisecond)
}

// GetEscalateAfter returns the consecutive critical fault count logged at
// error level.
func (c *SweepConfig) GetEscalateAfter() int {
	if c.EscalateAfter == nil {
		return 3
	}
	return *c.EscalateAfter
}

// GetHistorySize returns the number of frames kept for the fade.
func (c *SweepConfig) GetHistorySize() int {
	if c.HistorySize == nil {
		return 30
	}
	return *c.HistorySize
}

// GetMaxDistanceMM returns the heatmap and view range.
func (c *SweepConfig) GetMaxDistanceMM() float64 {
	if c.MaxDistanceMM == nil {
		return 4000
	}
	return *c.MaxDistanceMM
}

// GetTickRate returns the render period.
func (c *SweepConfig) GetTickRate() time.Duration {
	hz := 60.0
	if c.TickRateHz != nil && *c.TickRateHz > 0 {
		hz = *c.TickRateHz
	}
	return time.Duration(float64(time.Second) / hz)
}

// GetRenderStyle returns the render style name or the default.
func (c *SweepConfig) GetRenderStyle() string {
	if c.RenderStyle == nil {
		return "points"
	}
	return *c.RenderStyle
}

// GetImageSize returns the raster edge length in pixels.
func (c *SweepConfig) GetImageSize() int {
	if c.ImageSize == nil {
		return 800
	}
	return *c.ImageSize
}

// GetLogLevel returns the log level name or the default.
func (c *SweepConfig) GetLogLevel() string {
	if c.LogLevel == nil || *c.LogLevel == "" {
		return "info"
	}
	return *c.LogLevel
}

// GetDebugListen returns the debug HTTP listen address; empty disables it.
func (c *SweepConfig) GetDebugListen() string {
	if c.DebugListen == nil {
		return ""
	}
	return *c.DebugListen
}

// GetStreamListen returns the gRPC frame stream listen address; empty
// disables it.
func (c *SweepConfig) GetStreamListen() string {
	if c.StreamListen == nil {
		return ""
	}
	return *c.StreamListen
}

// GetStatsInterval returns the period of the statistics log line; zero
// disables it.
func (c *SweepConfig) GetStatsInterval() time.Duration {
	return durationOr(c.StatsInterval, 30*time.Second)
}
