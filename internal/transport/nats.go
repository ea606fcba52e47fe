// internal/transport/nats.go
package transport

import (
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher publishes JSON-encoded messages to a subject.
type Publisher interface {
	Publish(subject string, v any) error
}

// Connect dials NATS with infinite reconnects. Subscriptions made on the
// returned connection are replayed automatically after a reconnect, so the
// router does not need its own re-subscribe logic.
func Connect(url, clientName string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Println("NATS connection closed")
		}),
	)
}

// NATSPublisher adapts a NATS connection to the Publisher interface,
// encoding every payload as JSON.
type NATSPublisher struct {
	Conn *nats.Conn
}

func (p *NATSPublisher) Publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.Conn.Publish(subject, data)
}
