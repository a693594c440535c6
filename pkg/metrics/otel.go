// Package metrics exports the current server status to OpenTelemetry and
// Mackerel. Only the values of the latest tick are kept.
package metrics

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/masahide/factorio-status/pkg/factorio"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkMetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "factorio-status"

// SetupMeter returns the global no-op meter unless enabled. The exporter
// reads OTEL_EXPORTER_OTLP_* from the environment.
func SetupMeter(ctx context.Context, enabled bool, interval time.Duration) (metric.Meter, func(), error) {
	if !enabled {
		return otel.Meter(meterName), func() {}, nil
	}
	exp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("otlp exporter: %w", err)
	}
	reader := sdkMetric.NewPeriodicReader(exp, sdkMetric.WithInterval(interval))
	mp := sdkMetric.NewMeterProvider(sdkMetric.WithReader(reader))
	otel.SetMeterProvider(mp)
	return mp.Meter(meterName), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mp.Shutdown(ctx); err != nil {
			log.Printf("meter shutdown: %v", err)
		}
	}, nil
}

type Otel struct {
	mu    sync.Mutex
	last  factorio.ServerStatus
	attrs attribute.Set

	ticks  metric.Int64Counter
	joins  metric.Int64Counter
	leaves metric.Int64Counter
}

func NewOtel(meter metric.Meter, server string) (*Otel, error) {
	o := &Otel{attrs: attribute.NewSet(attribute.String("server", server))}

	playersGauge, err := meter.Int64ObservableGauge("factorio.players.online",
		metric.WithDescription("Players online at the last poll"))
	if err != nil {
		return nil, err
	}
	upGauge, err := meter.Int64ObservableGauge("factorio.server.up",
		metric.WithDescription("1 if the last poll reached the server"))
	if err != nil {
		return nil, err
	}
	if o.ticks, err = meter.Int64Counter("factorio.ticks"); err != nil {
		return nil, err
	}
	if o.joins, err = meter.Int64Counter("factorio.player.joins"); err != nil {
		return nil, err
	}
	if o.leaves, err = meter.Int64Counter("factorio.player.leaves"); err != nil {
		return nil, err
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		st := o.snapshot()
		if st.FetchedAt.IsZero() {
			return nil
		}
		obs.ObserveInt64(playersGauge, int64(st.PlayerCount), metric.WithAttributeSet(o.attrs))
		obs.ObserveInt64(upGauge, boolToInt(st.Online), metric.WithAttributeSet(o.attrs))
		return nil
	}, playersGauge, upGauge)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Otel) Observe(ctx context.Context, st factorio.ServerStatus, joined, left []string) {
	o.mu.Lock()
	o.last = st
	o.mu.Unlock()

	o.ticks.Add(ctx, 1, metric.WithAttributeSet(o.attrs))
	if len(joined) > 0 {
		o.joins.Add(ctx, int64(len(joined)), metric.WithAttributeSet(o.attrs))
	}
	if len(left) > 0 {
		o.leaves.Add(ctx, int64(len(left)), metric.WithAttributeSet(o.attrs))
	}
}

func (o *Otel) snapshot() factorio.ServerStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
