// Package metrics exports hub statistics in the Prometheus exposition format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"collabtext/internal/hub"
)

// Source reports live hub statistics. *hub.Hub satisfies it.
type Source interface {
	Stats() hub.Stats
}

var (
	activeDocumentsDesc = prometheus.NewDesc(
		"collab_active_documents",
		"Documents with at least one connected session.",
		nil, nil,
	)
	activeConnectionsDesc = prometheus.NewDesc(
		"collab_active_connections",
		"Connected sessions across all documents.",
		nil, nil,
	)
	documentConnectionsDesc = prometheus.NewDesc(
		"collab_document_connections",
		"Connected sessions per document.",
		[]string{"doc_id"}, nil,
	)
)

// Collector reads a Source on every scrape.
type Collector struct {
	src Source
}

func NewCollector(src Source) *Collector {
	return &Collector{src: src}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- activeDocumentsDesc
	ch <- activeConnectionsDesc
	ch <- documentConnectionsDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Stats()
	ch <- prometheus.MustNewConstMetric(activeDocumentsDesc, prometheus.GaugeValue, float64(st.Documents))
	ch <- prometheus.MustNewConstMetric(activeConnectionsDesc, prometheus.GaugeValue, float64(st.Connections))
	for docID, n := range st.PerDocument {
		ch <- prometheus.MustNewConstMetric(documentConnectionsDesc, prometheus.GaugeValue, float64(n), docID)
	}
}

// NewRegistry returns a registry holding the hub collector plus the standard
// Go runtime and process collectors.
func NewRegistry(src Source) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		NewCollector(src),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Handler serves reg in the text exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
