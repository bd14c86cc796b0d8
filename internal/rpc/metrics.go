package rpc

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// registry is a private prometheus.Registry rather than the global
// DefaultRegisterer: this agent shares a process with nothing else, and a
// private registry keeps GetMetrics from ever surfacing Go runtime
// metrics registered by some unrelated import's init().
var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	registry.MustRegister(prometheus.NewGoCollector())
}

// gatherMetrics renders the registry in Prometheus text exposition
// format. The guest has no listener a host-side Prometheus could scrape
// directly, so GetMetrics ships the rendered text back over the RPC
// channel instead of serving /metrics itself.
func gatherMetrics() (string, error) {
	families, err := registry.Gather()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&sb, mf); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}
