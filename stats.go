package mcp2517fd

import "github.com/prometheus/client_golang/prometheus"

// Stats are the device counters. RxErrorCount and TxErrorCount are
// snapshots of the controller's TREC error counters, refreshed on
// every drain pass.
type Stats struct {
	RxPackets   uint64
	RxBytes     uint64
	TxPackets   uint64
	TxBytes     uint64
	RxOverflows uint64

	RxErrorCount uint8
	TxErrorCount uint8
}

// StatsCollector exposes a device's counters as Prometheus metrics.
type StatsCollector struct {
	dev *Dev

	rxPackets   *prometheus.Desc
	rxBytes     *prometheus.Desc
	txPackets   *prometheus.Desc
	txBytes     *prometheus.Desc
	rxOverflows *prometheus.Desc
	busErrors   *prometheus.Desc
}

func NewStatsCollector(d *Dev) *StatsCollector {
	return &StatsCollector{
		dev: d,
		rxPackets: prometheus.NewDesc("mcp2517fd_rx_packets_total",
			"Frames received from the bus.", nil, nil),
		rxBytes: prometheus.NewDesc("mcp2517fd_rx_bytes_total",
			"Payload bytes received from the bus.", nil, nil),
		txPackets: prometheus.NewDesc("mcp2517fd_tx_packets_total",
			"Frames confirmed transmitted.", nil, nil),
		txBytes: prometheus.NewDesc("mcp2517fd_tx_bytes_total",
			"Payload bytes confirmed transmitted.", nil, nil),
		rxOverflows: prometheus.NewDesc("mcp2517fd_rx_overflows_total",
			"Receive FIFO overflow events.", nil, nil),
		busErrors: prometheus.NewDesc("mcp2517fd_bus_error_count",
			"Controller error counter.", []string{"dir"}, nil),
	}
}

func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.rxPackets
	ch <- c.rxBytes
	ch <- c.txPackets
	ch <- c.txBytes
	ch <- c.rxOverflows
	ch <- c.busErrors
}

func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.dev.Stats()
	ch <- prometheus.MustNewConstMetric(c.rxPackets, prometheus.CounterValue, float64(s.RxPackets))
	ch <- prometheus.MustNewConstMetric(c.rxBytes, prometheus.CounterValue, float64(s.RxBytes))
	ch <- prometheus.MustNewConstMetric(c.txPackets, prometheus.CounterValue, float64(s.TxPackets))
	ch <- prometheus.MustNewConstMetric(c.txBytes, prometheus.CounterValue, float64(s.TxBytes))
	ch <- prometheus.MustNewConstMetric(c.rxOverflows, prometheus.CounterValue, float64(s.RxOverflows))
	ch <- prometheus.MustNewConstMetric(c.busErrors, prometheus.GaugeValue, float64(s.RxErrorCount), "rx")
	ch <- prometheus.MustNewConstMetric(c.busErrors, prometheus.GaugeValue, float64(s.TxErrorCount), "tx")
}
