// Package bridge relays trip and vehicle topic publishes onto NATS so
// non-websocket consumers (dashboards, archivers) receive the same feed.
package bridge

import (
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Metrics is implemented by the host.
type Metrics interface {
	MirroredInc()
	MirrorErrInc()
	MirrorObserve(d time.Duration)
	SetConnected(connected bool)
}

type NATSBridge struct {
	nc            *nats.Conn
	subjectPrefix string
	logSubjects   bool
	metrics       Metrics
}

func NewNATSBridge(url, subjectPrefix string, logSubjects bool, m Metrics) (*NATSBridge, error) {
	nc, err := nats.Connect(url,
		nats.Name("bus-tracker"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.SetConnected(false)
			}
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.SetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.SetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.SetConnected(true)
	}
	if subjectPrefix == "" {
		subjectPrefix = "tracking"
	}
	return &NATSBridge{nc: nc, subjectPrefix: subjectPrefix, logSubjects: logSubjects, metrics: m}, nil
}

func (b *NATSBridge) Close() {
	if b.nc != nil {
		b.nc.Drain()
		b.nc.Close()
	}
}

func (b *NATSBridge) Connected() bool {
	return b.nc != nil && b.nc.IsConnected()
}

// Mirror publishes the already-marshaled topic payload to
// <prefix>.<kind>.<id>, e.g. tracking.trip.42. Best effort; errors are
// counted and logged, never propagated to the hub.
func (b *NATSBridge) Mirror(topic string, data []byte) {
	kind, id, ok := strings.Cut(topic, "-")
	if !ok {
		return
	}
	subject := b.subjectPrefix + "." + subjectToken(kind) + "." + subjectToken(id)
	if b.logSubjects {
		log.Printf("nats mirror subject=%s", subject)
	}
	start := time.Now()
	err := b.nc.Publish(subject, data)
	if b.metrics != nil {
		b.metrics.MirrorObserve(time.Since(start))
		if err != nil {
			b.metrics.MirrorErrInc()
		} else {
			b.metrics.MirroredInc()
		}
	}
	if err != nil {
		log.Printf("nats mirror error for %s: %v", topic, err)
	}
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
