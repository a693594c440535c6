package metrics

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/mackerelio/mackerel-client-go"
	"github.com/masahide/factorio-status/pkg/factorio"
)

type MackerelEnv struct {
	MackerelHostID string `envconfig:"MACKEREL_HOST_ID"`
	MackerelAPIKey string `envconfig:"MACKEREL_API_KEY"`
}

func (e MackerelEnv) Enabled() bool {
	return e.MackerelAPIKey != "" && e.MackerelHostID != ""
}

type MackerelClient interface {
	CreateGraphDefs(payloads []*mackerel.GraphDefsParam) error
	PostHostMetricValuesByHostID(hostID string, metricValues []*mackerel.MetricValue) error
}

// Mackerel posts host metrics for each tick. With Debug set the payloads
// are only logged.
type Mackerel struct {
	hostID  string
	debug   bool
	mkr     MackerelClient
	defined bool
}

func NewMackerel(e MackerelEnv, debug bool) *Mackerel {
	return &Mackerel{hostID: e.MackerelHostID, debug: debug, mkr: mackerel.NewClient(e.MackerelAPIKey)}
}

func graphDefs() []*mackerel.GraphDefsParam {
	return []*mackerel.GraphDefsParam{
		{
			Name:        "custom.factorio.players",
			DisplayName: "Factorio players",
			Unit:        "integer",
			Metrics: []*mackerel.GraphDefsMetric{
				{Name: "custom.factorio.players.online", DisplayName: "online", IsStacked: false},
			},
		},
		{
			Name:        "custom.factorio.server",
			DisplayName: "Factorio server",
			Unit:        "integer",
			Metrics: []*mackerel.GraphDefsMetric{
				{Name: "custom.factorio.server.up", DisplayName: "up", IsStacked: false},
			},
		},
	}
}

func createMetrics(st factorio.ServerStatus) []*mackerel.MetricValue {
	now := st.FetchedAt
	if now.IsZero() {
		now = time.Now()
	}
	return []*mackerel.MetricValue{
		{Name: "custom.factorio.players.online", Time: now.Unix(), Value: float64(st.PlayerCount)},
		{Name: "custom.factorio.server.up", Time: now.Unix(), Value: float64(boolToInt(st.Online))},
	}
}

func (m *Mackerel) Observe(_ context.Context, st factorio.ServerStatus, _, _ []string) {
	metrics := createMetrics(st)
	if m.debug {
		log.Printf("mackerel: graph-defs:%s metrics:%s", jsonDump(graphDefs()), jsonDump(metrics))
		return
	}
	if !m.defined {
		if err := m.mkr.CreateGraphDefs(graphDefs()); err != nil {
			m.report(err)
		} else {
			m.defined = true
		}
	}
	if err := m.mkr.PostHostMetricValuesByHostID(m.hostID, metrics); err != nil {
		m.report(err)
	}
}

func (m *Mackerel) report(err error) {
	log.Printf("mackerel: %v", err)
	sentry.CaptureException(err)
}

func jsonDump(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
