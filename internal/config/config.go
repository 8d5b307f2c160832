// Package config loads the translator's settings from an optional YAML file
// overlaid by environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	apperrors "github.com/koizumiiiii/Baketa-sub009/internal/errors"
	"github.com/koizumiiiii/Baketa-sub009/internal/segment"
	"gopkg.in/yaml.v3"
)

// OCR backends.
const (
	BackendGRPC      = "grpc"
	BackendTesseract = "tesseract"
)

// Segmentation strategies.
const (
	StrategyAdaptive = "adaptive"
	StrategyGrid     = "grid"
)

type Config struct {
	HTTPAddr   string `yaml:"http_addr"`
	HelperAddr string `yaml:"helper_addr"`
	LogLevel   string `yaml:"log_level"`
	OCRBackend string `yaml:"ocr_backend"`

	CaptureRate   float64 `yaml:"capture_rate"` // Hz
	ContextID     string  `yaml:"context_id"`
	WindowID      string  `yaml:"window_id"`
	MaxCPUPercent float64 `yaml:"max_cpu_percent"` // 0 disables capture backpressure

	SegmentStrategy    string  `yaml:"segment_strategy"`
	TileSize           int     `yaml:"tile_size"`
	MinBoxArea         int     `yaml:"min_box_area"`
	MinBoxConfidence   float64 `yaml:"min_box_confidence"`
	LineYTolerance     int     `yaml:"line_y_tolerance"`
	MaxHorizontalGap   int     `yaml:"max_horizontal_gap"`
	MaxRegionAreaRatio float64 `yaml:"max_region_area_ratio"`
	MinRegionWidth     int     `yaml:"min_region_width"`
	MinRegionHeight    int     `yaml:"min_region_height"`
	MaxRegionCount     int     `yaml:"max_region_count"`

	TextChangeThreshold  float64 `yaml:"text_change_threshold"`
	DiffThreshold        float64 `yaml:"diff_threshold"`
	RecognizeConcurrency int     `yaml:"recognize_concurrency"`

	SourceLang    string `yaml:"source_lang"`
	TargetLang    string `yaml:"target_lang"`
	DiagnosticsDB string `yaml:"diagnostics_db"` // empty disables diagnostics
}

// Default returns the built-in settings.
func Default() *Config {
	p := segment.DefaultParams()
	return &Config{
		HTTPAddr:             ":8000",
		HelperAddr:           "localhost:50051",
		LogLevel:             "info",
		OCRBackend:           BackendGRPC,
		CaptureRate:          2.0,
		ContextID:            "default",
		WindowID:             "primary",
		MaxCPUPercent:        90,
		SegmentStrategy:      StrategyAdaptive,
		TileSize:             segment.DefaultTileSize,
		MinBoxArea:           p.MinBoxArea,
		MinBoxConfidence:     p.MinBoxConfidence,
		LineYTolerance:       p.LineYTolerance,
		MaxHorizontalGap:     p.MaxHorizontalGap,
		MaxRegionAreaRatio:   p.MaxRegionAreaRatio,
		MinRegionWidth:       p.MinRegionWidth,
		MinRegionHeight:      p.MinRegionHeight,
		MaxRegionCount:       p.MaxRegionCount,
		TextChangeThreshold:  0.05,
		DiffThreshold:        0.10,
		RecognizeConcurrency: 4,
		SourceLang:           "ja",
		TargetLang:           "en",
		DiagnosticsDB:        "",
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables. The result is validated.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ConfigInvalid, "open %q", path)
		}
		defer f.Close()
		if err := decode(f, cfg); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ConfigInvalid, "parse %q", path)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ConfigInvalid, "invalid configuration")
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults and validates it.
// Environment variables are not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decode(r, cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ConfigInvalid, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ConfigInvalid, "invalid configuration")
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.HelperAddr = getEnv("HELPER_ADDR", c.HelperAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.OCRBackend = getEnv("OCR_BACKEND", c.OCRBackend)
	c.CaptureRate = getEnvFloat("CAPTURE_RATE", c.CaptureRate)
	c.ContextID = getEnv("CONTEXT_ID", c.ContextID)
	c.WindowID = getEnv("WINDOW_ID", c.WindowID)
	c.MaxCPUPercent = getEnvFloat("MAX_CPU_PERCENT", c.MaxCPUPercent)
	c.SegmentStrategy = getEnv("SEGMENT_STRATEGY", c.SegmentStrategy)
	c.TileSize = getEnvInt("TILE_SIZE", c.TileSize)
	c.MinBoxArea = getEnvInt("MIN_BOX_AREA", c.MinBoxArea)
	c.MinBoxConfidence = getEnvFloat("MIN_BOX_CONFIDENCE", c.MinBoxConfidence)
	c.LineYTolerance = getEnvInt("LINE_Y_TOLERANCE", c.LineYTolerance)
	c.MaxHorizontalGap = getEnvInt("MAX_HORIZONTAL_GAP", c.MaxHorizontalGap)
	c.MaxRegionAreaRatio = getEnvFloat("MAX_REGION_AREA_RATIO", c.MaxRegionAreaRatio)
	c.MinRegionWidth = getEnvInt("MIN_REGION_WIDTH", c.MinRegionWidth)
	c.MinRegionHeight = getEnvInt("MIN_REGION_HEIGHT", c.MinRegionHeight)
	c.MaxRegionCount = getEnvInt("MAX_REGION_COUNT", c.MaxRegionCount)
	c.TextChangeThreshold = getEnvFloat("TEXT_CHANGE_THRESHOLD", c.TextChangeThreshold)
	c.DiffThreshold = getEnvFloat("DIFF_THRESHOLD", c.DiffThreshold)
	c.RecognizeConcurrency = getEnvInt("RECOGNIZE_CONCURRENCY", c.RecognizeConcurrency)
	c.SourceLang = getEnv("SOURCE_LANG", c.SourceLang)
	c.TargetLang = getEnv("TARGET_LANG", c.TargetLang)
	c.DiagnosticsDB = getEnv("DIAGNOSTICS_DB", c.DiagnosticsDB)
}

// Validate checks every setting and returns all violations joined.
func (c *Config) Validate() error {
	var errs []error

	if c.HelperAddr == "" && c.OCRBackend == BackendGRPC {
		errs = append(errs, errors.New("helper_addr is required for the grpc backend"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", c.LogLevel))
	}
	if c.OCRBackend != BackendGRPC && c.OCRBackend != BackendTesseract {
		errs = append(errs, fmt.Errorf("ocr_backend %q is invalid; valid values: grpc, tesseract", c.OCRBackend))
	}
	if c.SegmentStrategy != StrategyAdaptive && c.SegmentStrategy != StrategyGrid {
		errs = append(errs, fmt.Errorf("segment_strategy %q is invalid; valid values: adaptive, grid", c.SegmentStrategy))
	}
	if c.CaptureRate <= 0 {
		errs = append(errs, fmt.Errorf("capture_rate %.2f must be positive", c.CaptureRate))
	}
	if c.ContextID == "" {
		errs = append(errs, errors.New("context_id is required"))
	}
	if c.MaxCPUPercent < 0 || c.MaxCPUPercent > 100 {
		errs = append(errs, fmt.Errorf("max_cpu_percent %.1f is out of range [0, 100]", c.MaxCPUPercent))
	}
	if c.TileSize <= 0 {
		errs = append(errs, fmt.Errorf("tile_size %d must be positive", c.TileSize))
	}
	if c.MinRegionWidth <= 0 || c.MinRegionHeight <= 0 {
		errs = append(errs, fmt.Errorf("min region floor %dx%d must be positive", c.MinRegionWidth, c.MinRegionHeight))
	}
	if c.MinBoxArea < 0 {
		errs = append(errs, fmt.Errorf("min_box_area %d must not be negative", c.MinBoxArea))
	}
	if c.LineYTolerance < 0 || c.MaxHorizontalGap < 0 {
		errs = append(errs, fmt.Errorf("line_y_tolerance %d and max_horizontal_gap %d must not be negative", c.LineYTolerance, c.MaxHorizontalGap))
	}
	if c.MaxRegionCount < 0 {
		errs = append(errs, fmt.Errorf("max_region_count %d must not be negative", c.MaxRegionCount))
	}
	if c.MaxRegionAreaRatio <= 0 || c.MaxRegionAreaRatio > 1 {
		errs = append(errs, fmt.Errorf("max_region_area_ratio %.2f is out of range (0, 1]", c.MaxRegionAreaRatio))
	}
	for name, v := range map[string]float64{
		"min_box_confidence":    c.MinBoxConfidence,
		"text_change_threshold": c.TextChangeThreshold,
		"diff_threshold":        c.DiffThreshold,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s %.2f is out of range [0, 1]", name, v))
		}
	}
	if c.RecognizeConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("recognize_concurrency %d must be positive", c.RecognizeConcurrency))
	}
	if c.SourceLang == "" || c.TargetLang == "" {
		errs = append(errs, errors.New("source_lang and target_lang are required"))
	}
	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(c.LogLevel))
	return l, err
}

// SegmentParams returns the Adaptive tuning.
func (c *Config) SegmentParams() segment.Params {
	p := segment.DefaultParams()
	p.MinBoxArea = c.MinBoxArea
	p.MinBoxConfidence = c.MinBoxConfidence
	p.LineYTolerance = c.LineYTolerance
	p.MaxHorizontalGap = c.MaxHorizontalGap
	p.MaxRegionAreaRatio = c.MaxRegionAreaRatio
	p.MinRegionWidth = c.MinRegionWidth
	p.MinRegionHeight = c.MinRegionHeight
	p.MaxRegionCount = c.MaxRegionCount
	return p
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
		slog.Warn("ignoring malformed integer setting", "key", key, "value", v)
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
		slog.Warn("ignoring malformed number setting", "key", key, "value", v)
	}
	return def
}
