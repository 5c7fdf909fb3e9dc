package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/facefollow/internal/config"
	"github.com/banshee-data/facefollow/internal/control"
	"github.com/banshee-data/facefollow/internal/lifecycle"
	"github.com/banshee-data/facefollow/internal/version"
)

var (
	configPath   = flag.String("config", "", "Tuning config JSON (default "+config.DefaultConfigPath+")")
	handlerName  = flag.String("handler", "", "Frame handler: follow or passthrough (overrides config)")
	fly          = flag.Bool("fly", false, "Take off and send movement commands")
	track        = flag.Bool("track", true, "Let the follow handler steer while flying")
	devMode      = flag.Bool("dev", false, "Use a simulated drone and a synthetic target instead of hardware")
	replayPath   = flag.String("replay", "", "Replay a recorded .fflog directory instead of live video (implies no flight)")
	replayRate   = flag.Float64("replay-rate", 1, "Replay speed multiplier")
	serialPort   = flag.String("serial", "", "Send SDK commands over a UART bridge instead of UDP")
	baudRate     = flag.Int("baud", 115200, "Baud rate for -serial")
	commandAddr  = flag.String("drone", "192.168.10.1:8889", "Drone command address")
	stateAddr    = flag.String("state", "0.0.0.0:8890", "Local address for state packets")
	videoURL     = flag.String("video", "udp://@0.0.0.0:11111", "Video stream URL")
	cascade      = flag.String("cascade", "haarcascade_frontalface_default.xml", "Haar cascade for face detection")
	display      = flag.Bool("display", true, "Show the annotated video in a window")
	recordVideo  = flag.Bool("record-video", false, "Write the annotated video to an MP4 file")
	recordFrames = flag.Bool("record-frames", false, "Write the annotated frames to a replayable .fflog directory")
	outDir       = flag.String("out", ".", "Directory for recordings and plots")
	plots        = flag.Bool("plots", true, "Write error and command plots when the session ends")
	dbPath       = flag.String("db", "flightlog.db", "Flight log database (empty disables)")
	listen       = flag.String("listen", "127.0.0.1:8080", "Status and debug HTTP address (empty disables)")
	grpcAddr     = flag.String("grpc", "127.0.0.1:50051", "Telemetry gRPC address (empty disables)")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("facefollow", version.String())
		return
	}

	log.Printf("facefollow %s", version.String())
	opts, err := optionsFromFlags()
	if err != nil {
		log.Fatalf("invalid flags: %v", err)
	}

	parent, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		log.Printf("received %v", s)
		cancel(lifecycle.ErrInterrupted)
		// A second signal skips the landing sequence.
		<-sigs
		log.Print("second signal, exiting without teardown")
		os.Exit(2)
	}()

	cause, err := run(parent, opts)
	if err != nil {
		log.Printf("teardown: %v", err)
	}
	log.Printf("session ended: %s", control.ExitReason(cause))
	os.Exit(exitCode(cause, err))
}

func optionsFromFlags() (options, error) {
	tuning, err := loadTuning(*configPath)
	if err != nil {
		return options{}, err
	}
	o := options{
		Tuning:       tuning,
		Handler:      *handlerName,
		Fly:          *fly,
		Track:        *track,
		Dev:          *devMode,
		ReplayPath:   *replayPath,
		ReplayRate:   *replayRate,
		SerialPort:   *serialPort,
		BaudRate:     *baudRate,
		CommandAddr:  *commandAddr,
		StateAddr:    *stateAddr,
		VideoURL:     *videoURL,
		Cascade:      *cascade,
		Display:      *display,
		RecordVideo:  *recordVideo,
		RecordFrames: *recordFrames,
		OutDir:       *outDir,
		Plots:        *plots,
		DBPath:       *dbPath,
		Listen:       *listen,
		GRPCAddr:     *grpcAddr,
		StallTimeout: 3 * time.Second,
	}
	return o, o.validate()
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err != nil {
			log.Printf("no %s, using built-in tuning", config.DefaultConfigPath)
			return config.EmptyTuningConfig(), nil
		}
		path = config.DefaultConfigPath
	}
	return config.LoadTuningConfig(path)
}

// exitCode is zero for operator-initiated stops with a clean teardown.
func exitCode(cause, teardownErr error) int {
	switch {
	case cause == nil, errors.Is(cause, lifecycle.ErrInterrupted), errors.Is(cause, lifecycle.ErrUserQuit):
		if teardownErr != nil {
			return 1
		}
		return 0
	default:
		return 1
	}
}
