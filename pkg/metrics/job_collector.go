package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// JobStatsSource reports the number of jobs per status. It is implemented by
// the metadata store.
type JobStatsSource interface {
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type jobStatsCollector struct {
	source           JobStatsSource
	totalJobByStatus *prometheus.Desc
}

// NewJobStatsCollector builds a collector that queries job counts on every
// scrape so the gauge never drifts from the database.
func NewJobStatsCollector(source JobStatsSource) prometheus.Collector {
	fqName := func(name string) string {
		return fmt.Sprintf("%s_%s", remoteOcr, name)
	}

	return &jobStatsCollector{
		source: source,
		totalJobByStatus: prometheus.NewDesc(
			fqName(JobStatusCount),
			"Total number of jobs by status.",
			jobStatusCountLabels,
			prometheus.Labels{},
		),
	}
}

func (c *jobStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalJobByStatus
}

// Collect implements Collector.
func (c *jobStatsCollector) Collect(ch chan<- prometheus.Metric) {
	counts, err := c.source.CountByStatus(context.Background())
	if err != nil {
		zap.S().Named("job_collector").Errorf("failed to collect job statistics: %s", err)
		return
	}

	for status, total := range counts {
		ch <- prometheus.MustNewConstMetric(c.totalJobByStatus, prometheus.GaugeValue, float64(total), status)
	}
}
