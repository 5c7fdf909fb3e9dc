package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/banshee-data/facefollow/internal/control"
	"github.com/banshee-data/facefollow/internal/db"
	"github.com/banshee-data/facefollow/internal/distribution"
	"github.com/banshee-data/facefollow/internal/frame"
	"github.com/banshee-data/facefollow/internal/lifecycle"
	"github.com/banshee-data/facefollow/internal/report"
	"github.com/banshee-data/facefollow/internal/telemetry"
	"github.com/banshee-data/facefollow/internal/tello"
)

type teardown struct {
	opts      options
	session   *control.Session
	gate      *control.MotionGate
	drone     *tello.Drone
	loop      *control.Loop
	loopDone  <-chan struct{}
	frames    *distribution.Fanout[*frame.Frame]
	ticks     *distribution.Fanout[control.Tick]
	flightlog *db.DB
	collector *report.Collector
	telemetry *telemetry.Server
	http      *http.Server
	resources *resources
}

// registerTeardown adds the shutdown sequence: stop movement, get the drone
// down, flush recordings, stop the workers, then persist and release.
func registerTeardown(c *lifecycle.Coordinator, t teardown) {
	c.AddStep("halt-motion", func(context.Context) error {
		t.gate.Halt()
		return nil
	})
	if t.session.Config.Fly {
		c.AddStepTimeout("hover", 2*time.Second, func(context.Context) error {
			return t.gate.Hover()
		})
		c.AddStepTimeout("land", 25*time.Second, func(ctx context.Context) error {
			if !t.drone.Status().Flying {
				return nil
			}
			return t.drone.Land(ctx)
		})
	}
	c.AddStep("stream-off", func(ctx context.Context) error {
		if !t.drone.Status().StreamOn {
			return nil
		}
		return t.drone.SetVideoStream(ctx, false)
	})
	c.AddStep("close-recorder", func(ctx context.Context) error {
		return errors.Join(
			t.frames.CloseSink(ctx, "recorder"),
			t.frames.CloseSink(ctx, "video"),
		)
	})
	c.AddStep("stop-workers", func(ctx context.Context) error {
		select {
		case <-t.loopDone:
		case <-ctx.Done():
			return fmt.Errorf("control loop did not stop: %w", ctx.Err())
		}
		return errors.Join(t.frames.Close(ctx), t.ticks.Close(ctx))
	})
	if t.flightlog != nil {
		c.AddStep("end-session", func(context.Context) error {
			cause := c.Cause()
			return t.flightlog.EndSession(t.session.ID, t.session.Clock.Now(),
				control.ExitReason(cause), cause, t.loop.Stats())
		})
	}
	if t.opts.Plots {
		c.AddStep("write-plots", func(context.Context) error {
			paths, err := report.SavePlots(t.collector.Points(), t.opts.OutDir,
				"session_"+t.session.ID.String()[:8])
			for _, p := range paths {
				log.Printf("wrote %s", p)
			}
			return err
		})
	}
	if t.telemetry != nil {
		c.AddStepTimeout("stop-telemetry", 3*time.Second, t.telemetry.Stop)
	}
	if t.http != nil {
		c.AddStepTimeout("stop-http", 3*time.Second, t.http.Shutdown)
	}
	c.AddStep("release", func(context.Context) error {
		return t.resources.release()
	})
}
