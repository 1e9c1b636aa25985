package forwarder

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	relayLabels = []string{"rule_id", "protocol", "listen"}

	descBytesIn = prometheus.NewDesc("portfwd_relay_bytes_in_total",
		"客户端发往目标的字节数", relayLabels, nil)
	descBytesOut = prometheus.NewDesc("portfwd_relay_bytes_out_total",
		"目标回传客户端的字节数", relayLabels, nil)
	descConns = prometheus.NewDesc("portfwd_relay_connections_total",
		"累计连接（UDP 为会话）数", relayLabels, nil)
	descFailed = prometheus.NewDesc("portfwd_relay_failed_connections_total",
		"失败的连接数", relayLabels, nil)
	descActive = prometheus.NewDesc("portfwd_relay_active_connections",
		"活跃连接（UDP 为会话）数", relayLabels, nil)
	descRelays = prometheus.NewDesc("portfwd_forwarder_relays",
		"运行中的转发器数量", nil, nil)
	descReconciles = prometheus.NewDesc("portfwd_forwarder_reconciles_total",
		"成功的同步次数", nil, nil)
	descFailures = prometheus.NewDesc("portfwd_forwarder_failures_total",
		"读取规则或启动转发器失败的次数", nil, nil)
)

/*
Describe 实现 prometheus.Collector
*/
func (m *Manager) Describe(ch chan<- *prometheus.Desc) {
	ch <- descBytesIn
	ch <- descBytesOut
	ch <- descConns
	ch <- descFailed
	ch <- descActive
	ch <- descRelays
	ch <- descReconciles
	ch <- descFailures
}

/*
Collect 实现 prometheus.Collector
功能：抓取时读取各转发器的统计快照
*/
func (m *Manager) Collect(ch chan<- prometheus.Metric) {
	bindings := m.Bindings()
	for _, b := range bindings {
		labels := []string{strconv.FormatInt(b.RuleID, 10), string(b.Protocol), b.Listen.String()}
		ch <- prometheus.MustNewConstMetric(descBytesIn, prometheus.CounterValue, float64(b.Stats.BytesIn), labels...)
		ch <- prometheus.MustNewConstMetric(descBytesOut, prometheus.CounterValue, float64(b.Stats.BytesOut), labels...)
		ch <- prometheus.MustNewConstMetric(descConns, prometheus.CounterValue, float64(b.Stats.TotalConns), labels...)
		ch <- prometheus.MustNewConstMetric(descFailed, prometheus.CounterValue, float64(b.Stats.FailedConns), labels...)
		ch <- prometheus.MustNewConstMetric(descActive, prometheus.GaugeValue, float64(b.Stats.ActiveConns), labels...)
	}
	ch <- prometheus.MustNewConstMetric(descRelays, prometheus.GaugeValue, float64(len(bindings)))
	ch <- prometheus.MustNewConstMetric(descReconciles, prometheus.CounterValue, float64(m.reconciles.Load()))
	ch <- prometheus.MustNewConstMetric(descFailures, prometheus.CounterValue, float64(m.failures.Load()))
}
