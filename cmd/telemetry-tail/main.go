// Command telemetry-tail prints the tick stream of a running facefollow
// session, one line per iteration.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/facefollow/internal/control"
	"github.com/banshee-data/facefollow/internal/telemetry"
)

var (
	addr   = flag.String("addr", "127.0.0.1:50051", "Telemetry gRPC address")
	every  = flag.Int("every", 1, "Print every n-th tick")
	status = flag.Bool("status", false, "Print the session status and exit")
	raw    = flag.Bool("json", false, "Print ticks as JSON")
)

func main() {
	flag.Parse()

	client, err := telemetry.Dial(*addr)
	if err != nil {
		log.Fatalf("failed to dial %s: %v", *addr, err)
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *status {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		st, err := client.Status(sctx)
		if err != nil {
			log.Fatalf("status: %v", err)
		}
		b, _ := json.MarshalIndent(st.AsMap(), "", "  ")
		fmt.Println(string(b))
		return
	}

	err = client.StreamTicks(ctx, *every, func(s *structpb.Struct) error {
		if *raw {
			b, err := s.MarshalJSON()
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			return nil
		}
		line, err := formatTick(s)
		if err != nil {
			return err
		}
		fmt.Println(line)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		log.Printf("stream ended: %v", err)
		os.Exit(1)
	}
}

// formatTick decodes the struct back into a tick and renders a summary.
func formatTick(s *structpb.Struct) (string, error) {
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return "", err
	}
	var t control.Tick
	if err := json.Unmarshal(b, &t); err != nil {
		return "", fmt.Errorf("decode tick: %w", err)
	}
	target := "-"
	if t.Target != nil {
		target = fmt.Sprintf("(%d,%d)", t.Target.X, t.Target.Y)
	}
	return fmt.Sprintf("%6d %-14s %-9s target=%-10s err=(%+6.1f,%+6.1f) %s latency=%v",
		t.Seq, t.State, t.Verdict, target, t.Errors.Pan, t.Errors.Tilt, t.Command, t.Latency), nil
}
