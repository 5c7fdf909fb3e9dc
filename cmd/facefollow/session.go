package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/facefollow/internal/api"
	"github.com/banshee-data/facefollow/internal/config"
	"github.com/banshee-data/facefollow/internal/control"
	"github.com/banshee-data/facefollow/internal/db"
	"github.com/banshee-data/facefollow/internal/distribution"
	"github.com/banshee-data/facefollow/internal/frame"
	"github.com/banshee-data/facefollow/internal/lifecycle"
	"github.com/banshee-data/facefollow/internal/pid"
	"github.com/banshee-data/facefollow/internal/recorder"
	"github.com/banshee-data/facefollow/internal/report"
	"github.com/banshee-data/facefollow/internal/telemetry"
	"github.com/banshee-data/facefollow/internal/timeutil"
	"github.com/banshee-data/facefollow/internal/version"
	"github.com/banshee-data/facefollow/internal/vision"
)

type options struct {
	Tuning  *config.TuningConfig
	Handler string
	Fly     bool
	Track   bool

	Dev        bool
	ReplayPath string
	ReplayRate float64

	SerialPort  string
	BaudRate    int
	CommandAddr string
	StateAddr   string
	VideoURL    string
	Cascade     string

	Display      bool
	RecordVideo  bool
	RecordFrames bool
	OutDir       string
	Plots        bool

	DBPath   string
	Listen   string
	GRPCAddr string

	StallTimeout time.Duration
	Clock        timeutil.Clock
}

func (o options) handler() string {
	if o.Handler != "" {
		return o.Handler
	}
	return o.Tuning.GetHandler()
}

func (o options) validate() error {
	if o.Dev && o.ReplayPath != "" {
		return errors.New("-dev and -replay cannot be combined")
	}
	if o.ReplayPath != "" && o.Fly {
		return errors.New("a replayed session cannot fly")
	}
	if o.ReplayRate <= 0 {
		return fmt.Errorf("replay rate %v must be positive", o.ReplayRate)
	}
	if !slices.Contains(control.HandlerNames(), o.handler()) {
		return fmt.Errorf("unknown handler %q (have %v)", o.handler(), control.HandlerNames())
	}
	return nil
}

// controlConfig turns the tuning file and flags into the loop's session config.
func controlConfig(tc *config.TuningConfig, fly, track bool) control.Config {
	cfg := control.DefaultConfig()
	kp, ki, kd := tc.GetPanGains()
	cfg.Pan = pid.Gains{KP: kp, KI: ki, KD: kd}
	kp, ki, kd = tc.GetTiltGains()
	cfg.Tilt = pid.Gains{KP: kp, KI: ki, KD: kd}
	cfg.Mapping = control.Mapping{
		MaxSpeed:    tc.GetMaxSpeed(),
		PanDivisor:  tc.GetPanDivisor(),
		TiltDivisor: tc.GetTiltDivisor(),
		InvertPan:   tc.GetInvertPan(),
		InvertTilt:  tc.GetInvertTilt(),
	}
	cfg.JitterThreshold = tc.GetJitterThreshold()
	cfg.NominalTick = tc.GetNominalTick()
	cfg.StarveBackoff = tc.GetStarveBackoff()
	cfg.FrameWidth = tc.GetFrameWidth()
	cfg.TakeoffClimbCM = tc.GetTakeoffClimbCM()
	cfg.MoveStepCM = tc.GetMoveStepCM()
	cfg.Fly = fly
	cfg.Track = track
	return cfg
}

// fanoutConfig builds the queue settings shared by both fan-outs. A sink that
// panics ends the session; ordinary write errors are only logged.
func fanoutConfig(tc *config.TuningConfig, coord *lifecycle.Coordinator) (distribution.Config, error) {
	policy, err := distribution.ParseDropPolicy(tc.GetDropPolicy())
	if err != nil {
		return distribution.Config{}, err
	}
	return distribution.Config{
		Depth:  tc.GetQueueDepth(),
		Policy: policy,
		OnError: func(sink string, err error) {
			log.Printf("sink %s: %v", sink, err)
			if errors.Is(err, distribution.ErrSinkFailed) {
				coord.RequestStop(err)
			}
		},
	}, nil
}

// run executes one session and returns the stop cause and any teardown error.
func run(parent context.Context, o options) (cause error, teardownErr error) {
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	coord := lifecycle.New(parent)
	ctx := coord.Context()

	cfg := controlConfig(o.Tuning, o.Fly, o.Track)
	var res resources
	// fail is for errors before teardown is registered.
	fail := func(err error) (error, error) {
		if rerr := res.release(); rerr != nil {
			log.Printf("release: %v", rerr)
		}
		coord.RequestStop(err)
		coord.Wait()
		return err, nil
	}

	p, err := buildPlatform(o, cfg, &res)
	if err != nil {
		return fail(err)
	}
	gate := control.NewMotionGate(p.drone)
	session := control.NewSession(cfg, gate, o.Clock)
	log.Printf("session %s: handler=%s fly=%v track=%v", session.ID, o.handler(), cfg.Fly, cfg.Track)

	h, err := control.NewHandler(o.handler(), p.components)
	if err != nil {
		return fail(err)
	}
	loop := control.NewLoop(session, h)

	fcfg, err := fanoutConfig(o.Tuning, coord)
	if err != nil {
		return fail(err)
	}

	// frame sinks
	var frameSinks []distribution.Sink[*frame.Frame]
	if o.Display {
		w := vision.NewWindowSink("facefollow")
		session.Keys = w.Keys()
		frameSinks = append(frameSinks, w)
	}
	if o.RecordVideo {
		frameSinks = append(frameSinks, vision.NewVideoWriterSink(o.OutDir, o.Clock))
	}
	if o.RecordFrames {
		path := filepath.Join(o.OutDir, fmt.Sprintf("session_%s%s", session.ID.String()[:8], recorder.FileExtension))
		rec, err := recorder.NewRecorder(path, session.ID.String())
		if err != nil {
			return fail(err)
		}
		frameSinks = append(frameSinks, rec)
	}
	frames := distribution.New(fcfg, frameSinks...)
	session.Frames = frames

	// tick sinks
	collector := report.NewCollector(report.DefaultCapacity)
	broadcaster := telemetry.NewBroadcaster()
	tickSinks := []distribution.Sink[control.Tick]{collector, broadcaster}

	var flightlog *db.DB
	if o.DBPath != "" {
		if flightlog, err = db.OpenDB(o.DBPath); err != nil {
			return fail(fmt.Errorf("open flight log: %w", err))
		}
		res.add("flight log", flightlog.Close)
		err = flightlog.StartSession(db.SessionInfo{
			ID: session.ID, Started: session.Started, Handler: o.handler(),
			Fly: cfg.Fly, Track: cfg.Track, Config: cfg, Version: version.Version,
		})
		if err != nil {
			return fail(err)
		}
		tickSinks = append(tickSinks, db.NewTickSink(flightlog))
	}
	ticks := distribution.New(fcfg, tickSinks...)
	session.Ticks = ticks

	apiServer := api.NewServer(session, o.handler(), api.Sources{
		Loop:       loop.Stats,
		Drone:      p.drone.Status,
		FrameSinks: frames.Stats,
		TickSinks:  ticks.Stats,
		Telemetry: func() api.TelemetryStats {
			sent, dropped := broadcaster.Stats()
			return api.TelemetryStats{Clients: broadcaster.Clients(), Sent: sent, Dropped: dropped}
		},
		Stopping: coord.Stopping,
	}, flightlog)

	var tsrv *telemetry.Server
	if o.GRPCAddr != "" {
		tsrv = telemetry.NewServer(broadcaster, func() any { return apiServer.Status() })
		if err := tsrv.Start(o.GRPCAddr); err != nil {
			log.Printf("telemetry disabled: %v", err)
			tsrv = nil
		}
	}

	var httpServer *http.Server
	if o.Listen != "" {
		mux := apiServer.ServeMux()
		p.attachAdmin(mux)
		p.drone.AttachAdminRoutes(mux)
		report.AttachAdminRoutes(mux, collector)
		if flightlog != nil {
			if err := flightlog.AttachAdminRoutes(mux); err != nil {
				log.Printf("tailsql disabled: %v", err)
			}
		}
		httpServer = &http.Server{
			Addr:              o.Listen,
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	loopDone := make(chan struct{})
	registerTeardown(coord, teardown{
		opts:      o,
		session:   session,
		gate:      gate,
		drone:     p.drone,
		loop:      loop,
		loopDone:  loopDone,
		frames:    frames,
		ticks:     ticks,
		flightlog: flightlog,
		collector: collector,
		telemetry: tsrv,
		http:      httpServer,
		resources: &res,
	})

	var g errgroup.Group
	// worker failures end the session; after stop they are expected
	worker := func(name string, fn func() error) {
		g.Go(func() error {
			if err := fn(); err != nil && !coord.Stopping() {
				coord.RequestStop(fmt.Errorf("%s: %w", name, err))
			}
			return nil
		})
	}
	// the link outlives the session context so teardown can still land
	linkCtx, linkCancel := context.WithCancel(context.Background())
	defer linkCancel()
	for name, fn := range p.workers {
		worker(name, func() error { return fn(linkCtx) })
	}
	if httpServer != nil {
		worker("http", func() error {
			log.Printf("HTTP server listening on %s", o.Listen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	if p.replayDone != nil {
		g.Go(func() error {
			select {
			case <-p.replayDone:
				log.Print("replay finished")
				coord.RequestStop(nil)
			case <-ctx.Done():
			}
			return nil
		})
	}

	frames.Start()
	ticks.Start()
	g.Go(func() error {
		defer close(loopDone)
		if err := loop.Start(ctx); err != nil {
			if ctx.Err() == nil {
				coord.RequestStop(fmt.Errorf("start: %w", err))
			}
			return nil
		}
		if err := loop.Run(ctx); err != nil {
			coord.RequestStop(err)
		}
		return nil
	})

	teardownErr = coord.Wait()
	_ = g.Wait()
	for _, r := range coord.Results() {
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
		}
		log.Printf("teardown %-14s %8v %s", r.Name, r.Duration.Round(time.Millisecond), status)
	}
	return coord.Cause(), teardownErr
}

// resources are released last, in reverse order of acquisition.
type resources struct {
	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

func (r *resources) add(name string, close func() error) {
	r.closers = append(r.closers, namedCloser{name, close})
}

func (r *resources) release() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		c := r.closers[i]
		if err := c.close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
