package aranet

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sguter90/aranetmaestro/pkg/models"
)

const namespace = "aranet"

type metricInfo struct {
	Desc *prometheus.Desc
	Type prometheus.ValueType
}

var (
	readingLabels = []string{"device", "name", "type"}
	linkLabels    = []string{"device"}

	readingMetrics = newReadingMetrics()

	operationsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "link", "operations_total"),
		"BLE operations by kind and result",
		[]string{"device", "operation", "result"}, nil,
	)
	operationSecondsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "link", "operation_seconds_total"),
		"Time spent in BLE operations",
		[]string{"device", "operation"}, nil,
	)
	bytesReadDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "link", "bytes_read_total"),
		"Bytes read from characteristics",
		linkLabels, nil,
	)
	bytesWrittenDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "link", "bytes_written_total"),
		"Bytes written to characteristics",
		linkLabels, nil,
	)
	uptimeDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "link", "uptime_seconds"),
		"Seconds since the link was established, 0 when down",
		linkLabels, nil,
	)
)

func newReadingMetrics() map[string]metricInfo {
	m := make(map[string]metricInfo, len(models.Measurements))
	for _, info := range models.Measurements {
		m[info.Name] = metricInfo{
			Desc: prometheus.NewDesc(
				prometheus.BuildFQName(namespace, "", info.Name+"_"+info.Unit),
				info.Help,
				readingLabels, nil,
			),
			Type: prometheus.GaugeValue,
		}
	}
	return m
}

type observedReading struct {
	name       string
	deviceType models.DeviceType
	values     map[string]float64
}

// MetricsCollector exports link counters and the latest reading of each
// device. It implements prometheus.Collector.
type MetricsCollector struct {
	mu       sync.RWMutex
	links    map[string]*ConnectionMetrics
	readings map[string]observedReading
}

// NewMetricsCollector creates an empty collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		links:    make(map[string]*ConnectionMetrics),
		readings: make(map[string]observedReading),
	}
}

// TrackDevice exports the link counters of a device
func (c *MetricsCollector) TrackDevice(identifier string, m *ConnectionMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.links[identifier] = m
}

// ObserveReading records the latest values of a device
func (c *MetricsCollector) ObserveReading(identifier, name string, t models.DeviceType, r models.CurrentReading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readings[identifier] = observedReading{name: name, deviceType: t, values: r.Values()}
}

// Describe implements prometheus.Collector
func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range readingMetrics {
		ch <- m.Desc
	}
	ch <- operationsDesc
	ch <- operationSecondsDesc
	ch <- bytesReadDesc
	ch <- bytesWrittenDesc
	ch <- uptimeDesc
}

// Collect implements prometheus.Collector
func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for id, r := range c.readings {
		for name, value := range r.values {
			if m, ok := readingMetrics[name]; ok {
				ch <- prometheus.MustNewConstMetric(m.Desc, m.Type, value, id, r.name, r.deviceType.String())
			}
		}
	}

	for id, m := range c.links {
		s := m.Summary()
		ops := map[string]OperationStats{
			"connect":    s.Connect,
			"disconnect": s.Disconnect,
			"read":       s.Reads,
			"write":      s.Writes,
			"reconnect":  s.Reconnects,
		}
		for op, st := range ops {
			ch <- prometheus.MustNewConstMetric(operationsDesc, prometheus.CounterValue, float64(st.SuccessCount), id, op, "success")
			ch <- prometheus.MustNewConstMetric(operationsDesc, prometheus.CounterValue, float64(st.FailureCount), id, op, "failure")
			ch <- prometheus.MustNewConstMetric(operationSecondsDesc, prometheus.CounterValue, st.TotalDuration.Seconds(), id, op)
		}
		ch <- prometheus.MustNewConstMetric(bytesReadDesc, prometheus.CounterValue, float64(s.BytesRead), id)
		ch <- prometheus.MustNewConstMetric(bytesWrittenDesc, prometheus.CounterValue, float64(s.BytesWritten), id)
		ch <- prometheus.MustNewConstMetric(uptimeDesc, prometheus.GaugeValue, s.Uptime.Seconds(), id)
	}
}
