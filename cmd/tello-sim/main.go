// Command tello-sim answers Tello SDK commands on the ground, or sits between
// the controller and a real drone and records what was said.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/facefollow/internal/tello"
)

var (
	listen        = flag.String("listen", "127.0.0.1:8889", "Command address to serve")
	statePort     = flag.Int("state-port", 8890, "Port on the client's host for state packets (0 disables)")
	stateInterval = flag.Duration("state-interval", 100*time.Millisecond, "Interval between state packets")
	proxy         = flag.String("proxy", "", "Forward commands to this drone address instead of simulating")
	remember      = flag.Bool("remember", false, "Print the command/response table on exit")
)

func main() {
	flag.Parse()

	sim, err := tello.NewSimulator(tello.SimConfig{
		Listen:        *listen,
		StatePort:     *statePort,
		StateInterval: *stateInterval,
		Proxy:         *proxy,
		Remember:      *remember,
	})
	if err != nil {
		log.Fatalf("failed to start simulator: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mode := "simulating"
	if *proxy != "" {
		mode = "proxying to " + *proxy
	}
	log.Printf("tello-sim listening on %s, %s", sim.Addr(), mode)
	if err := sim.Run(ctx); err != nil && ctx.Err() == nil {
		log.Printf("simulator stopped: %v", err)
	}

	if *remember {
		if err := sim.WriteTable(os.Stdout); err != nil {
			log.Printf("failed to write table: %v", err)
		}
	}
}
