package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/highlight-run/passwordreplacer/internal/dispatch"
)

const namespace = "passwordreplacer"

// ProgressCollector exports dispatch.Progress counters as Prometheus metrics
// at scrape time.
type ProgressCollector struct {
	progress *dispatch.Progress

	pages   *prometheus.Desc
	listed  *prometheus.Desc
	matched *prometheus.Desc
	invoked *prometheus.Desc
	failed  *prometheus.Desc
	done    *prometheus.Desc
}

func NewProgressCollector(progress *dispatch.Progress) *ProgressCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &ProgressCollector{
		progress: progress,
		pages:    desc("pages_total", "Listing pages fully dispatched."),
		listed:   desc("objects_listed_total", "Object keys returned by the listing API."),
		matched:  desc("objects_matched_total", "Object keys containing the marker."),
		invoked:  desc("invocations_total", "Asynchronous invocations accepted."),
		failed:   desc("invocation_failures_total", "Invocations that returned an error."),
		done:     desc("run_done", "1 once the run has finished."),
	}
}

func (c *ProgressCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pages
	ch <- c.listed
	ch <- c.matched
	ch <- c.invoked
	ch <- c.failed
	ch <- c.done
}

func (c *ProgressCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.progress.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.pages, prometheus.CounterValue, float64(snap.Pages))
	ch <- prometheus.MustNewConstMetric(c.listed, prometheus.CounterValue, float64(snap.Listed))
	ch <- prometheus.MustNewConstMetric(c.matched, prometheus.CounterValue, float64(snap.Matched))
	ch <- prometheus.MustNewConstMetric(c.invoked, prometheus.CounterValue, float64(snap.Invoked))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(snap.Failed))

	done := 0.0
	if snap.Done {
		done = 1
	}
	ch <- prometheus.MustNewConstMetric(c.done, prometheus.GaugeValue, done)
}

var _ prometheus.Collector = (*ProgressCollector)(nil)
