package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultTuningConfig(t *testing.T) {
	cfg := DefaultTuningConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if kp, ki, kd := cfg.GetPanGains(); kp != 0.7 || ki != 0.0001 || kd != 0.1 {
		t.Errorf("GetPanGains() = %v, %v, %v", kp, ki, kd)
	}
	if cfg.GetMaxSpeed() != 40 {
		t.Errorf("GetMaxSpeed() = %v, want 40", cfg.GetMaxSpeed())
	}
	if cfg.GetPanDivisor() != 3 || cfg.GetTiltDivisor() != 2 {
		t.Errorf("divisors = %v/%v, want 3/2", cfg.GetPanDivisor(), cfg.GetTiltDivisor())
	}
	if !cfg.GetInvertPan() || cfg.GetInvertTilt() {
		t.Errorf("invert pan/tilt = %v/%v, want true/false", cfg.GetInvertPan(), cfg.GetInvertTilt())
	}
	if cfg.GetStarveBackoff() != 500*time.Millisecond {
		t.Errorf("GetStarveBackoff() = %v", cfg.GetStarveBackoff())
	}
}

// The shipped defaults file and the built-in defaults must agree.
func TestDefaultsFileMatchesBuiltins(t *testing.T) {
	fromFile := MustLoadDefaultConfig()
	if diff := cmp.Diff(DefaultTuningConfig(), fromFile); diff != "" {
		t.Errorf("tuning.defaults.json differs from DefaultTuningConfig (-builtin +file):\n%s", diff)
	}
}

func TestEmptyConfigFallsBackToDefaults(t *testing.T) {
	empty := EmptyTuningConfig()
	def := DefaultTuningConfig()

	type snapshot struct {
		PanKP, TiltKD, MaxSpeed, Jitter float64
		Tick, Backoff, State            time.Duration
		Width, Depth, Climb, Step       int
		Policy, Handler                 string
	}
	take := func(c *TuningConfig) snapshot {
		pkp, _, _ := c.GetPanGains()
		_, _, tkd := c.GetTiltGains()
		return snapshot{
			PanKP: pkp, TiltKD: tkd, MaxSpeed: c.GetMaxSpeed(), Jitter: c.GetJitterThreshold(),
			Tick: c.GetNominalTick(), Backoff: c.GetStarveBackoff(), State: c.GetStateTimeout(),
			Width: c.GetFrameWidth(), Depth: c.GetQueueDepth(), Climb: c.GetTakeoffClimbCM(), Step: c.GetMoveStepCM(),
			Policy: c.GetDropPolicy(), Handler: c.GetHandler(),
		}
	}
	if diff := cmp.Diff(take(def), take(empty)); diff != "" {
		t.Errorf("empty config getters differ from defaults:\n%s", diff)
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "pan_kp": 0.5,
  "max_speed": 30,
  "drop_policy": "newest",
  "starve_backoff": "250ms",
  "invert_pan": false
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if kp, ki, _ := cfg.GetPanGains(); kp != 0.5 || ki != 0.0001 {
		t.Errorf("pan gains = %v/%v, want 0.5 and default ki", kp, ki)
	}
	if cfg.GetMaxSpeed() != 30 {
		t.Errorf("GetMaxSpeed() = %v, want 30", cfg.GetMaxSpeed())
	}
	if cfg.GetDropPolicy() != "newest" {
		t.Errorf("GetDropPolicy() = %q, want newest", cfg.GetDropPolicy())
	}
	if cfg.GetStarveBackoff() != 250*time.Millisecond {
		t.Errorf("GetStarveBackoff() = %v, want 250ms", cfg.GetStarveBackoff())
	}
	if cfg.GetInvertPan() {
		t.Error("GetInvertPan() = true, want false")
	}
	// Untouched fields fall back.
	if cfg.GetFrameWidth() != 400 {
		t.Errorf("GetFrameWidth() = %d, want 400", cfg.GetFrameWidth())
	}
}

func TestLoadTuningConfig_Rejects(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"wrong extension", "cfg.yaml", `{}`},
		{"bad json", "bad.json", `{"pan_kp": }`},
		{"negative gain", "gain.json", `{"tilt_ki": -1}`},
		{"max speed above range", "speed.json", `{"max_speed": 150}`},
		{"divisor below one", "div.json", `{"pan_divisor": 0.5}`},
		{"bad duration", "dur.json", `{"nominal_tick": "soon"}`},
		{"zero duration", "zero.json", `{"state_timeout": "0s"}`},
		{"unknown policy", "policy.json", `{"drop_policy": "block"}`},
		{"unknown handler", "handler.json", `{"handler": "orbit"}`},
		{"queue depth zero", "depth.json", `{"queue_depth": 0}`},
		{"move step too small", "step.json", `{"move_step_cm": 5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadTuningConfig(path); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}

	if _, err := LoadTuningConfig(filepath.Join(tmpDir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadTuningConfig_TooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.json")
	big := make([]byte, 1024*1024+1)
	for i := range big {
		big[i] = ' '
	}
	if err := os.WriteFile(path, big, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTuningConfig(path); err == nil {
		t.Error("expected size error")
	}
}
