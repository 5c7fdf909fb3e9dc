// Package pid implements the per-axis PID controller that turns pixel error
// into a raw velocity demand. The controller does not clamp or limit its
// integral; callers bound the output for their own actuator range.
package pid

import (
	"errors"
	"time"

	"github.com/banshee-data/facefollow/internal/timeutil"
)

// ErrNotInitialized is the panic value raised when Update or Step is called
// before Initialize.
var ErrNotInitialized = errors.New("pid: controller used before Initialize")

// DefaultNominalTick is used for dt on the first update and whenever the
// measured interval is not positive. It matches a 30 fps camera.
const DefaultNominalTick = time.Second / 30

// Gains are the proportional, integral and derivative constants.
type Gains struct {
	KP float64 `json:"kp"`
	KI float64 `json:"ki"`
	KD float64 `json:"kd"`
}

// Controller holds the state for one axis. It is owned by a single goroutine.
type Controller struct {
	Gains
	nominal time.Duration
	clock   timeutil.Clock

	integral    float64
	prevError   float64
	prevTime    time.Time
	initialized bool
	fresh       bool // no update since Initialize
}

// New returns an uninitialised controller. A nil clock selects the real clock
// and a non-positive nominal tick selects DefaultNominalTick.
func New(g Gains, nominal time.Duration, clock timeutil.Clock) *Controller {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if nominal <= 0 {
		nominal = DefaultNominalTick
	}
	return &Controller{Gains: g, nominal: nominal, clock: clock}
}

// Initialize resets the accumulated state and marks now as the start of the
// first tick.
func (c *Controller) Initialize() {
	c.integral = 0
	c.prevError = 0
	c.prevTime = c.clock.Now()
	c.initialized = true
	c.fresh = true
}

// Initialized reports whether Initialize has been called.
func (c *Controller) Initialized() bool { return c.initialized }

// Update measures the time since the previous update and returns the control
// output for err.
func (c *Controller) Update(err float64) float64 {
	if !c.initialized {
		panic(ErrNotInitialized)
	}
	now := c.clock.Now()
	dt := now.Sub(c.prevTime)
	if c.fresh {
		dt = c.nominal
	}
	c.prevTime = now
	return c.Step(err, dt)
}

// Step advances the controller by an explicit interval. Identical (err, dt)
// sequences after Initialize produce identical outputs.
func (c *Controller) Step(err float64, dt time.Duration) float64 {
	if !c.initialized {
		panic(ErrNotInitialized)
	}
	if dt <= 0 {
		dt = c.nominal
	}
	c.fresh = false

	secs := dt.Seconds()
	c.integral += err * secs
	derivative := (err - c.prevError) / secs
	c.prevError = err

	return c.KP*err + c.KI*c.integral + c.KD*derivative
}

// Diagnostics is a snapshot of the internal state for logging.
type Diagnostics struct {
	Integral  float64
	PrevError float64
}

// Diagnostics returns the current accumulator and last error.
func (c *Controller) Diagnostics() Diagnostics {
	return Diagnostics{Integral: c.integral, PrevError: c.prevError}
}
