package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Relay counts what happens on the relay
type Relay struct {
	metric.Meter

	connections     metric.Int64UpDownCounter
	hosts           metric.Int64UpDownCounter
	clients         metric.Int64UpDownCounter
	framesRelayed   metric.Int64Counter
	malformedFrames metric.Int64Counter
	terminations    metric.Int64Counter
}

func NewRelay(meter metric.Meter) (*Relay, error) {
	connections, err := meter.Int64UpDownCounter("nexus_connections",
		metric.WithDescription("open websocket connections"))
	if err != nil {
		return nil, err
	}

	hosts, err := meter.Int64UpDownCounter("nexus_hosts",
		metric.WithDescription("registered hosting sessions"))
	if err != nil {
		return nil, err
	}

	clients, err := meter.Int64UpDownCounter("nexus_clients",
		metric.WithDescription("clients joined to a session"))
	if err != nil {
		return nil, err
	}

	framesRelayed, err := meter.Int64Counter("nexus_frames_relayed_total",
		metric.WithDescription("frames forwarded between hosts and clients"))
	if err != nil {
		return nil, err
	}

	malformedFrames, err := meter.Int64Counter("nexus_malformed_frames_total")
	if err != nil {
		return nil, err
	}

	terminations, err := meter.Int64Counter("nexus_liveness_terminations_total")
	if err != nil {
		return nil, err
	}

	return &Relay{
		Meter:           meter,
		connections:     connections,
		hosts:           hosts,
		clients:         clients,
		framesRelayed:   framesRelayed,
		malformedFrames: malformedFrames,
		terminations:    terminations,
	}, nil
}

// Noop returns counters that record nothing
func Noop() *Relay {
	m, err := NewRelay(noop.NewMeterProvider().Meter(""))
	if err != nil {
		// the noop meter never fails
		panic(err)
	}
	return m
}

func (m *Relay) ConnectionOpened() { m.connections.Add(context.Background(), 1) }
func (m *Relay) ConnectionClosed() { m.connections.Add(context.Background(), -1) }
func (m *Relay) HostRegistered()   { m.hosts.Add(context.Background(), 1) }
func (m *Relay) HostClosed()       { m.hosts.Add(context.Background(), -1) }
func (m *Relay) ClientJoined()     { m.clients.Add(context.Background(), 1) }
func (m *Relay) ClientLeft()       { m.clients.Add(context.Background(), -1) }

// FrameRelayed counts one forwarded frame. direction is "to_host" or "to_client".
func (m *Relay) FrameRelayed(direction string) {
	m.framesRelayed.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("direction", direction)))
}

func (m *Relay) MalformedFrame() {
	m.malformedFrames.Add(context.Background(), 1)
}

func (m *Relay) LivenessTermination() {
	m.terminations.Add(context.Background(), 1)
}
