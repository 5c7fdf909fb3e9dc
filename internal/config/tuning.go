package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig holds the controller and pipeline tuning. Every field is
// optional; the Get* accessors fall back to the built-in defaults, so a
// partial file only overrides what it names.
type TuningConfig struct {
	// Axis controller gains
	PanKP  *float64 `json:"pan_kp,omitempty"`
	PanKI  *float64 `json:"pan_ki,omitempty"`
	PanKD  *float64 `json:"pan_kd,omitempty"`
	TiltKP *float64 `json:"tilt_kp,omitempty"`
	TiltKI *float64 `json:"tilt_ki,omitempty"`
	TiltKD *float64 `json:"tilt_kd,omitempty"`

	// Command mapping
	MaxSpeed    *float64 `json:"max_speed,omitempty"`
	PanDivisor  *float64 `json:"pan_divisor,omitempty"`
	TiltDivisor *float64 `json:"tilt_divisor,omitempty"`
	InvertPan   *bool    `json:"invert_pan,omitempty"`
	InvertTilt  *bool    `json:"invert_tilt,omitempty"`

	// Sample filter
	JitterThreshold *float64 `json:"jitter_threshold,omitempty"`

	// Loop timing
	NominalTick   *string `json:"nominal_tick,omitempty"`   // duration string like "33ms"
	StarveBackoff *string `json:"starve_backoff,omitempty"` // duration string like "500ms"
	StateTimeout  *string `json:"state_timeout,omitempty"`  // duration string like "5s"

	// Frame handling
	FrameWidth *int    `json:"frame_width,omitempty"`
	QueueDepth *int    `json:"queue_depth,omitempty"`
	DropPolicy *string `json:"drop_policy,omitempty"` // "oldest" or "newest"
	Handler    *string `json:"handler,omitempty"`     // "follow" or "passthrough"

	// Flight
	TakeoffClimbCM *int `json:"takeoff_climb_cm,omitempty"`
	MoveStepCM     *int `json:"move_step_cm,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a config with every field populated from the
// built-in defaults.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		PanKP:           ptrFloat64(defaultKP),
		PanKI:           ptrFloat64(defaultKI),
		PanKD:           ptrFloat64(defaultKD),
		TiltKP:          ptrFloat64(defaultKP),
		TiltKI:          ptrFloat64(defaultKI),
		TiltKD:          ptrFloat64(defaultKD),
		MaxSpeed:        ptrFloat64(defaultMaxSpeed),
		PanDivisor:      ptrFloat64(defaultPanDivisor),
		TiltDivisor:     ptrFloat64(defaultTiltDivisor),
		InvertPan:       ptrBool(true),
		InvertTilt:      ptrBool(false),
		JitterThreshold: ptrFloat64(defaultJitterThreshold),
		NominalTick:     ptrString(defaultNominalTick.String()),
		StarveBackoff:   ptrString(defaultStarveBackoff.String()),
		StateTimeout:    ptrString(defaultStateTimeout.String()),
		FrameWidth:      ptrInt(defaultFrameWidth),
		QueueDepth:      ptrInt(defaultQueueDepth),
		DropPolicy:      ptrString("oldest"),
		Handler:         ptrString("follow"),
		TakeoffClimbCM:  ptrInt(defaultTakeoffClimbCM),
		MoveStepCM:      ptrInt(defaultMoveStepCM),
	}
}

const (
	defaultKP              = 0.7
	defaultKI              = 0.0001
	defaultKD              = 0.1
	defaultMaxSpeed        = 40.0
	defaultPanDivisor      = 3.0
	defaultTiltDivisor     = 2.0
	defaultJitterThreshold = 25.0
	defaultNominalTick     = 33 * time.Millisecond
	defaultStarveBackoff   = 500 * time.Millisecond
	defaultStateTimeout    = 5 * time.Second
	defaultFrameWidth      = 400
	defaultQueueDepth      = 8
	defaultTakeoffClimbCM  = 70
	defaultMoveStepCM      = 30
)

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
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

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	for name, v := range map[string]*float64{
		"pan_kp": c.PanKP, "pan_ki": c.PanKI, "pan_kd": c.PanKD,
		"tilt_kp": c.TiltKP, "tilt_ki": c.TiltKI, "tilt_kd": c.TiltKD,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", name, *v)
		}
	}

	if c.MaxSpeed != nil && (*c.MaxSpeed <= 0 || *c.MaxSpeed > 100) {
		return fmt.Errorf("max_speed must be in (0, 100], got %f", *c.MaxSpeed)
	}
	if c.PanDivisor != nil && *c.PanDivisor < 1 {
		return fmt.Errorf("pan_divisor must be >= 1, got %f", *c.PanDivisor)
	}
	if c.TiltDivisor != nil && *c.TiltDivisor < 1 {
		return fmt.Errorf("tilt_divisor must be >= 1, got %f", *c.TiltDivisor)
	}
	if c.JitterThreshold != nil && *c.JitterThreshold <= 0 {
		return fmt.Errorf("jitter_threshold must be positive, got %f", *c.JitterThreshold)
	}

	for name, v := range map[string]*string{
		"nominal_tick": c.NominalTick, "starve_backoff": c.StarveBackoff, "state_timeout": c.StateTimeout,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.FrameWidth != nil && *c.FrameWidth < 0 {
		return fmt.Errorf("frame_width must be non-negative, got %d", *c.FrameWidth)
	}
	if c.QueueDepth != nil && *c.QueueDepth < 1 {
		return fmt.Errorf("queue_depth must be at least 1, got %d", *c.QueueDepth)
	}
	if c.DropPolicy != nil {
		switch strings.ToLower(*c.DropPolicy) {
		case "", "oldest", "newest", "drop-oldest", "drop-newest":
		default:
			return fmt.Errorf("drop_policy must be oldest or newest, got %q", *c.DropPolicy)
		}
	}
	if c.Handler != nil {
		switch *c.Handler {
		case "", "follow", "passthrough":
		default:
			return fmt.Errorf("handler must be follow or passthrough, got %q", *c.Handler)
		}
	}
	if c.TakeoffClimbCM != nil && (*c.TakeoffClimbCM < 0 || *c.TakeoffClimbCM > 500) {
		return fmt.Errorf("takeoff_climb_cm must be in [0, 500], got %d", *c.TakeoffClimbCM)
	}
	// Tello SDK distance commands accept 20-500cm.
	if c.MoveStepCM != nil && (*c.MoveStepCM < 20 || *c.MoveStepCM > 500) {
		return fmt.Errorf("move_step_cm must be in [20, 500], got %d", *c.MoveStepCM)
	}

	return nil
}

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func getDuration(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil || d <= 0 {
		return def // default on parse error
	}
	return d
}

// GetPanGains returns kP, kI, kD for the pan axis.
func (c *TuningConfig) GetPanGains() (kp, ki, kd float64) {
	return getFloat(c.PanKP, defaultKP), getFloat(c.PanKI, defaultKI), getFloat(c.PanKD, defaultKD)
}

// GetTiltGains returns kP, kI, kD for the tilt axis.
func (c *TuningConfig) GetTiltGains() (kp, ki, kd float64) {
	return getFloat(c.TiltKP, defaultKP), getFloat(c.TiltKI, defaultKI), getFloat(c.TiltKD, defaultKD)
}

// GetMaxSpeed returns the symmetric clamp applied to controller output.
func (c *TuningConfig) GetMaxSpeed() float64 { return getFloat(c.MaxSpeed, defaultMaxSpeed) }

func (c *TuningConfig) GetPanDivisor() float64  { return getFloat(c.PanDivisor, defaultPanDivisor) }
func (c *TuningConfig) GetTiltDivisor() float64 { return getFloat(c.TiltDivisor, defaultTiltDivisor) }

// GetInvertPan reports whether pan output is negated before it becomes the
// lateral command. Defaults to true.
func (c *TuningConfig) GetInvertPan() bool {
	if c.InvertPan == nil {
		return true
	}
	return *c.InvertPan
}

// GetInvertTilt reports whether tilt output is negated. Defaults to false.
func (c *TuningConfig) GetInvertTilt() bool {
	if c.InvertTilt == nil {
		return false
	}
	return *c.InvertTilt
}

// GetJitterThreshold returns the maximum accepted displacement in pixels.
func (c *TuningConfig) GetJitterThreshold() float64 {
	return getFloat(c.JitterThreshold, defaultJitterThreshold)
}

// GetNominalTick parses and returns the NominalTick as a time.Duration.
func (c *TuningConfig) GetNominalTick() time.Duration {
	return getDuration(c.NominalTick, defaultNominalTick)
}

// GetStarveBackoff parses and returns the StarveBackoff as a time.Duration.
func (c *TuningConfig) GetStarveBackoff() time.Duration {
	return getDuration(c.StarveBackoff, defaultStarveBackoff)
}

// GetStateTimeout parses and returns the StateTimeout as a time.Duration.
func (c *TuningConfig) GetStateTimeout() time.Duration {
	return getDuration(c.StateTimeout, defaultStateTimeout)
}

// GetFrameWidth returns the width frames are resized to; 0 keeps the source size.
func (c *TuningConfig) GetFrameWidth() int { return getInt(c.FrameWidth, defaultFrameWidth) }

func (c *TuningConfig) GetQueueDepth() int { return getInt(c.QueueDepth, defaultQueueDepth) }

// GetDropPolicy returns the queue overflow policy name.
func (c *TuningConfig) GetDropPolicy() string {
	if c.DropPolicy == nil || *c.DropPolicy == "" {
		return "oldest"
	}
	return strings.ToLower(*c.DropPolicy)
}

// GetHandler returns the per-frame handler name.
func (c *TuningConfig) GetHandler() string {
	if c.Handler == nil || *c.Handler == "" {
		return "follow"
	}
	return *c.Handler
}

func (c *TuningConfig) GetTakeoffClimbCM() int {
	return getInt(c.TakeoffClimbCM, defaultTakeoffClimbCM)
}

func (c *TuningConfig) GetMoveStepCM() int { return getInt(c.MoveStepCM, defaultMoveStepCM) }
