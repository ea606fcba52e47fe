// cmd/simulator/main.go
//
// Device-side simulator: publishes randomized telemetry for a small fleet,
// acknowledges every control message with its reqId, and reports the
// commanded state back on the status subject.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"factory-control-core/internal/data"
	"factory-control-core/internal/machine"
	"factory-control-core/internal/transport"
)

type simMachine struct {
	mu    sync.Mutex
	state machine.State
}

func main() {
	natsURL := flag.String("nats", nats.DefaultURL, "NATS server URL")
	plant := flag.String("plant", "A1", "Plant identifier")
	fleet := flag.String("machines", "CNC-001,CNC-002,IM-001", "Comma-separated machine ids")
	interval := flag.Duration("interval", 2*time.Second, "Telemetry publish interval")
	flag.Parse()

	nc, err := transport.Connect(*natsURL, "factory-simulator")
	if err != nil {
		log.Fatalf("NATS connect error: %v", err)
	}
	defer nc.Drain()
	log.Printf("Simulator connected to %s", *natsURL)

	machines := make(map[string]*simMachine)
	for _, id := range strings.Split(*fleet, ",") {
		machines[strings.TrimSpace(id)] = &simMachine{state: machine.StateIdle}
	}

	pub := &transport.NATSPublisher{Conn: nc}

	// Answer control messages: ack with the reqId, then report the new state.
	for id := range machines {
		id := id
		sm := machines[id]
		_, err := nc.Subscribe(transport.ControlSubject(*plant, id), func(msg *nats.Msg) {
			var ctrl data.ControlMessage
			if err := json.Unmarshal(msg.Data, &ctrl); err != nil {
				log.Printf("sim %s: bad control message: %v", id, err)
				return
			}
			log.Printf("sim %s: control received: %s (reqId %s)", id, ctrl.Cmd, ctrl.ReqID)

			if err := pub.Publish(transport.AckSubject(*plant, id), data.AckMessage{ReqID: ctrl.ReqID, Status: "ack"}); err != nil {
				log.Printf("sim %s: publish ack: %v", id, err)
			}

			if target, ok := machine.TargetState(ctrl.Cmd); ok {
				sm.mu.Lock()
				sm.state = target
				sm.mu.Unlock()
				if err := pub.Publish(transport.StatusSubject(*plant, id), data.StatusMessage{
					Status:  string(target),
					Message: "State updated by " + string(ctrl.Cmd),
				}); err != nil {
					log.Printf("sim %s: publish status: %v", id, err)
				}
			}
		})
		if err != nil {
			log.Fatalf("subscribe control for %s: %v", id, err)
		}
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			for id, sm := range machines {
				sm.mu.Lock()
				running := sm.state == machine.StateRunning || sm.state == machine.StateIdle
				sm.mu.Unlock()
				if !running {
					continue
				}
				payload := map[string]any{
					"machineId": id,
					"ts":        time.Now().Format(time.RFC3339Nano),
					"temp":      round2(60 + rand.Float64()*40),
					"vibration": round2(rand.Float64() * 5),
					"power":     round2(200 + rand.Float64()*100),
				}
				if err := pub.Publish(transport.TelemetrySubject(*plant, id), payload); err != nil {
					log.Printf("sim %s: publish telemetry: %v", id, err)
				}
			}
		case <-quit:
			log.Println("Simulator stopped.")
			return
		}
	}
}

func round2(v float64) float64 {
	return float64(int(v*100)) / 100
}
