package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/banshee-data/facefollow/internal/control"
	"github.com/banshee-data/facefollow/internal/recorder"
	"github.com/banshee-data/facefollow/internal/synthetic"
	"github.com/banshee-data/facefollow/internal/tello"
	"github.com/banshee-data/facefollow/internal/vision"
)

// platform is the drone link, its frame source and the handler components
// that suit those frames.
type platform struct {
	drone       *tello.Drone
	components  control.Components
	workers     map[string]func(ctx context.Context) error
	attachAdmin func(mux *http.ServeMux)
	replayDone  <-chan struct{}
}

func startMux[T tello.Link](link T, p *platform, res *resources) tello.Commander {
	m := tello.NewCommandMux(link)
	p.workers["command-mux"] = m.Monitor
	p.attachAdmin = m.AttachAdminRoutes
	res.add("command link", m.Close)
	return m
}

func buildPlatform(o options, cfg control.Config, res *resources) (*platform, error) {
	p := &platform{workers: make(map[string]func(ctx context.Context) error)}
	dcfg := tello.DefaultConfig()
	dcfg.StateTimeout = o.Tuning.GetStateTimeout()

	switch {
	case o.Dev:
		cmd := startMux(tello.NewMockLink(tello.SimulatorResponder(&tello.Simulator{})), p, res)
		scene := synthetic.NewScene(synthetic.DefaultSceneConfig(), o.Clock)
		res.add("scene", scene.Close)
		p.drone = tello.NewDrone(cmd, nil, scene, dcfg)
		p.components = control.Components{
			Detector:     synthetic.NewBlobDetector(),
			Preprocessor: synthetic.NewResizer(cfg.FrameWidth),
			Annotator:    synthetic.Annotator{},
		}
		return p, nil

	case o.ReplayPath != "":
		rp, err := recorder.NewReplayer(o.ReplayPath, o.Clock)
		if err != nil {
			return nil, fmt.Errorf("open replay: %w", err)
		}
		res.add("replay", rp.Close)
		rp.SetRate(o.ReplayRate)
		p.replayDone = rp.Done()
		cmd := startMux(tello.NewMockLink(tello.SimulatorResponder(&tello.Simulator{})), p, res)
		p.drone = tello.NewDrone(cmd, nil, rp, dcfg)

	default:
		var cmd tello.Commander
		var state *tello.StateListener
		if o.SerialPort != "" {
			port, err := tello.OpenSerial(o.SerialPort, tello.PortOptions{BaudRate: o.BaudRate})
			if err != nil {
				return nil, err
			}
			cmd = startMux(port, p, res)
			// no state packets over the bridge, so no watchdog
			dcfg.StateTimeout = 0
		} else {
			link, err := tello.DialUDP("", o.CommandAddr)
			if err != nil {
				return nil, err
			}
			cmd = startMux(link, p, res)
			sock, err := tello.ListenUDP(o.StateAddr)
			if err != nil {
				return nil, fmt.Errorf("listen for state on %s: %w", o.StateAddr, err)
			}
			state = tello.NewStateListener(sock, o.Clock)
			res.add("state listener", state.Close)
			p.workers["state"] = state.Run
		}
		video := vision.NewDeferredStream(o.VideoURL, o.StallTimeout)
		res.add("video stream", video.Close)
		p.drone = tello.NewDrone(cmd, state, video, dcfg)
	}

	det, err := vision.NewHaarDetector(o.Cascade)
	if err != nil {
		return nil, err
	}
	res.add("detector", det.Close)
	p.components = control.Components{
		Detector:     det,
		Preprocessor: vision.Resizer{Width: cfg.FrameWidth},
		Annotator:    vision.Annotator{},
	}
	return p, nil
}
