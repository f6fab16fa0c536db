package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "alarmrelay"

// Metrics holds all relay metric instruments.
type Metrics struct {
	AlarmsReceived  metric.Int64Counter
	AlarmsRejected  metric.Int64Counter
	ParseFailures   metric.Int64Counter
	StreamsOpened   metric.Int64Counter
	StreamsClosed   metric.Int64Counter
	AlarmsForwarded metric.Int64Counter
	ForwardFailures metric.Int64Counter
	PayloadBytes    metric.Int64Histogram
}

// NewMetrics creates all metric instruments. Without an installed
// MeterProvider the instruments are no-ops.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.AlarmsReceived, err = meter.Int64Counter("alarmrelay.alarms.received",
		metric.WithDescription("Number of alarms accepted and stored"))
	if err != nil {
		return nil, err
	}

	m.AlarmsRejected, err = meter.Int64Counter("alarmrelay.alarms.rejected",
		metric.WithDescription("Number of alarm submissions rejected before storage"))
	if err != nil {
		return nil, err
	}

	m.ParseFailures, err = meter.Int64Counter("alarmrelay.alarms.parse_failures",
		metric.WithDescription("Number of alarms declared as JSON that did not parse"))
	if err != nil {
		return nil, err
	}

	m.StreamsOpened, err = meter.Int64Counter("alarmrelay.streams.opened",
		metric.WithDescription("Number of live subscriptions opened"))
	if err != nil {
		return nil, err
	}

	m.StreamsClosed, err = meter.Int64Counter("alarmrelay.streams.closed",
		metric.WithDescription("Number of live subscriptions closed"))
	if err != nil {
		return nil, err
	}

	m.AlarmsForwarded, err = meter.Int64Counter("alarmrelay.forward.published",
		metric.WithDescription("Number of alarms forwarded to the message queue"))
	if err != nil {
		return nil, err
	}

	m.ForwardFailures, err = meter.Int64Counter("alarmrelay.forward.failed",
		metric.WithDescription("Number of alarms the forwarder failed to publish"))
	if err != nil {
		return nil, err
	}

	m.PayloadBytes, err = meter.Int64Histogram("alarmrelay.alarms.payload_bytes",
		metric.WithDescription("Size of accepted alarm payloads"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RelayStats is the read side of the relay observed by gauges.
type RelayStats interface {
	Retained() int
	Subscribers() int
	Evicted() int64
}

// DropCounter reports records a component discarded under load.
type DropCounter interface {
	Dropped() int64
}

// RegisterGauges registers asynchronous gauges reading from stats and from
// the log pipeline. The returned function unregisters them.
func RegisterGauges(stats RelayStats, logs DropCounter) (func() error, error) {
	meter := otel.Meter(meterName)

	retained, err := meter.Int64ObservableGauge("alarmrelay.store.retained",
		metric.WithDescription("Alarms currently retained for catch-up"))
	if err != nil {
		return nil, err
	}
	subscribers, err := meter.Int64ObservableGauge("alarmrelay.streams.active",
		metric.WithDescription("Live subscriptions currently registered"))
	if err != nil {
		return nil, err
	}
	evicted, err := meter.Int64ObservableCounter("alarmrelay.streams.evicted",
		metric.WithDescription("Subscriptions dropped for falling behind"))
	if err != nil {
		return nil, err
	}

	logDropped, err := meter.Int64ObservableCounter("alarmrelay.log.dropped",
		metric.WithDescription("Log records discarded by the async log pipeline"))
	if err != nil {
		return nil, err
	}

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(retained, int64(stats.Retained()))
		o.ObserveInt64(subscribers, int64(stats.Subscribers()))
		o.ObserveInt64(evicted, stats.Evicted())
		o.ObserveInt64(logDropped, logs.Dropped())
		return nil
	}, retained, subscribers, evicted, logDropped)
	if err != nil {
		return nil, err
	}
	return reg.Unregister, nil
}
