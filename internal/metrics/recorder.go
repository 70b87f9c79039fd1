package metrics

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/dougneal/stonith-rackspace/internal/shared/logger"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const namespace = "stonith_rackspace"

// Result labels for the operations counter.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Recorder collects metrics for one agent invocation. The agent is a
// short-lived process, so the previous textfile is read back on start and the
// merged values are written out again for the node exporter.
type Recorder struct {
	registry    *prometheus.Registry
	operations  *prometheus.CounterVec
	lastRun     *prometheus.GaugeVec
	lastElapsed *prometheus.GaugeVec
	reboots     prometheus.Counter
	lastReboot  prometheus.Gauge
	path        string
	logger      *logger.Logger
	now         func() time.Time
}

// NewRecorder builds a recorder seeded from the textfile at path. An empty
// path disables both the seeding and Flush.
func NewRecorder(path string, log *logger.Logger) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Agent operations by result.",
		}, []string{"operation", "result"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_operation_timestamp_seconds",
			Help:      "Unix time the operation last finished.",
		}, []string{"operation"}),
		lastElapsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_operation_duration_seconds",
			Help:      "Wall time of the last run of the operation.",
		}, []string{"operation"}),
		reboots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reboots_total",
			Help:      "Hard reboots accepted by the provider.",
		}),
		lastReboot: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_reboot_timestamp_seconds",
			Help:      "Unix time of the last hard reboot accepted by the provider.",
		}),
		path:   path,
		logger: log.WithComponent("metrics"),
		now:    time.Now,
	}

	r.registry.MustRegister(r.operations, r.lastRun, r.lastElapsed, r.reboots, r.lastReboot)
	r.restore()
	return r
}

// Observe records one finished operation
func (r *Recorder) Observe(operation string, elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	r.operations.WithLabelValues(operation, result).Inc()
	r.lastRun.WithLabelValues(operation).Set(float64(r.now().Unix()))
	r.lastElapsed.WithLabelValues(operation).Set(elapsed.Seconds())
}

// RebootAccepted counts a reboot the provider accepted
func (r *Recorder) RebootAccepted() {
	if r == nil {
		return
	}
	r.reboots.Inc()
	r.lastReboot.Set(float64(r.now().Unix()))
}

// Flush writes the registry to the textfile. Failures are logged and never
// affect the operation's outcome.
func (r *Recorder) Flush(ctx context.Context) {
	if r == nil || r.path == "" {
		return
	}
	if err := prometheus.WriteToTextfile(r.path, r.registry); err != nil {
		r.logger.WarnContext(ctx, "failed to write metrics textfile",
			slog.String("path", r.path),
			slog.String("error", err.Error()))
	}
}

// restore carries the values of earlier runs forward. An unreadable file is
// discarded and the series start again from zero.
func (r *Recorder) restore() {
	if r.path == "" {
		return
	}

	f, err := os.Open(r.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("failed to read metrics textfile", slog.String("path", r.path), slog.String("error", err.Error()))
		}
		return
	}
	defer f.Close()

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(f)
	if err != nil {
		r.logger.Warn("discarding unparseable metrics textfile", slog.String("path", r.path), slog.String("error", err.Error()))
		return
	}

	for _, m := range families[fqName("operations_total")].GetMetric() {
		labels := labelValues(m)
		if v := m.GetCounter().GetValue(); v > 0 {
			r.operations.WithLabelValues(labels["operation"], labels["result"]).Add(v)
		}
	}
	for _, m := range families[fqName("last_operation_timestamp_seconds")].GetMetric() {
		r.lastRun.WithLabelValues(labelValues(m)["operation"]).Set(m.GetGauge().GetValue())
	}
	for _, m := range families[fqName("last_operation_duration_seconds")].GetMetric() {
		r.lastElapsed.WithLabelValues(labelValues(m)["operation"]).Set(m.GetGauge().GetValue())
	}
	for _, m := range families[fqName("reboots_total")].GetMetric() {
		if v := m.GetCounter().GetValue(); v > 0 {
			r.reboots.Add(v)
		}
	}
	for _, m := range families[fqName("last_reboot_timestamp_seconds")].GetMetric() {
		r.lastReboot.Set(m.GetGauge().GetValue())
	}
}

func fqName(name string) string {
	return prometheus.BuildFQName(namespace, "", name)
}

func labelValues(m *dto.Metric) map[string]string {
	labels := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	return labels
}
