package robovac

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects robovac metrics. Gauges are derived from each tracked
// vacuum's snapshot at scrape time; counters are bumped as events happen.
type Metrics struct {
	mu      sync.Mutex
	vacuums []*Vacuum

	pollSuccess *prometheus.GaugeVec

	battery   *prometheus.GaugeVec
	state     *prometheus.GaugeVec
	substatus *prometheus.GaugeVec
	fanSpeed  *prometheus.GaugeVec
	errorCode *prometheus.GaugeVec
	intent    *prometheus.GaugeVec

	commands        *prometheus.CounterVec
	writeFailures   *prometheus.CounterVec
	unknownPatterns *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	labels := []string{"device_id", "device_name"}
	return &Metrics{
		pollSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "robovac_poll_success",
			Help: "Last poll success (1=ok, 0=error)",
		}, labels),
		battery: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "robovac_battery_percent",
			Help: "Battery percentage (0-100)",
		}, labels),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "robovac_state",
			Help: "Semantic vacuum state (label) decoded from the status blob",
		}, []string{"device_id", "device_name", "state"}),
		substatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "robovac_substatus",
			Help: "Substatus refinement (label) decoded from the status blob",
		}, []string{"device_id", "device_name", "substatus"}),
		fanSpeed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "robovac_fan_speed",
			Help: "Current fan speed level (label)",
		}, []string{"device_id", "device_name", "fan_speed"}),
		errorCode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "robovac_error_code",
			Help: "Device error code (label)",
		}, []string{"device_id", "device_name", "error_code"}),
		intent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "robovac_intent",
			Help: "Sequencer intent state (label)",
		}, []string{"device_id", "device_name", "intent"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "robovac_commands_total",
			Help: "Command writes sent, by command",
		}, []string{"device_id", "command"}),
		writeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "robovac_write_failures_total",
			Help: "Device writes that failed",
		}, []string{"device_id"}),
		unknownPatterns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "robovac_unknown_status_patterns_total",
			Help: "Status blobs that matched no decode rule and fell back to docked",
		}, []string{"device_id"}),
	}
}

// Track adds a vacuum to the scrape set.
func (m *Metrics) Track(v *Vacuum) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.vacuums = append(m.vacuums, v)
	m.mu.Unlock()
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.pollSuccess.Describe(ch)
	m.battery.Describe(ch)
	m.state.Describe(ch)
	m.substatus.Describe(ch)
	m.fanSpeed.Describe(ch)
	m.errorCode.Describe(ch)
	m.intent.Describe(ch)
	m.commands.Describe(ch)
	m.writeFailures.Describe(ch)
	m.unknownPatterns.Describe(ch)
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.mu.Lock()
	vacuums := append([]*Vacuum(nil), m.vacuums...)
	m.mu.Unlock()

	m.battery.Reset()
	m.state.Reset()
	m.substatus.Reset()
	m.fanSpeed.Reset()
	m.errorCode.Reset()
	m.intent.Reset()

	for _, v := range vacuums {
		status := v.Status()
		labels := prometheus.Labels{
			"device_id":   v.DeviceID(),
			"device_name": v.Name(),
		}
		if status.BatteryKnown {
			m.battery.With(labels).Set(float64(status.Battery))
		}
		m.state.With(prometheus.Labels{
			"device_id":   v.DeviceID(),
			"device_name": v.Name(),
			"state":       string(status.State),
		}).Set(1)
		m.substatus.With(prometheus.Labels{
			"device_id":   v.DeviceID(),
			"device_name": v.Name(),
			"substatus":   status.Substatus,
		}).Set(1)
		if status.FanSpeedKnown {
			m.fanSpeed.With(prometheus.Labels{
				"device_id":   v.DeviceID(),
				"device_name": v.Name(),
				"fan_speed":   string(status.FanSpeed),
			}).Set(1)
		}
		if status.ErrorCode != "" {
			m.errorCode.With(prometheus.Labels{
				"device_id":   v.DeviceID(),
				"device_name": v.Name(),
				"error_code":  status.ErrorCode,
			}).Set(1)
		}
		m.intent.With(prometheus.Labels{
			"device_id":   v.DeviceID(),
			"device_name": v.Name(),
			"intent":      string(v.Intent()),
		}).Set(1)
	}

	m.pollSuccess.Collect(ch)
	m.battery.Collect(ch)
	m.state.Collect(ch)
	m.substatus.Collect(ch)
	m.fanSpeed.Collect(ch)
	m.errorCode.Collect(ch)
	m.intent.Collect(ch)
	m.commands.Collect(ch)
	m.writeFailures.Collect(ch)
	m.unknownPatterns.Collect(ch)
}

func (m *Metrics) pollResult(deviceID, deviceName string, ok bool) {
	if m == nil {
		return
	}
	value := 0.0
	if ok {
		value = 1.0
	}
	m.pollSuccess.WithLabelValues(deviceID, deviceName).Set(value)
}

func (m *Metrics) commandSent(deviceID, command string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(deviceID, command).Inc()
}

func (m *Metrics) writeFailure(deviceID string) {
	if m == nil {
		return
	}
	m.writeFailures.WithLabelValues(deviceID).Inc()
}

func (m *Metrics) unknownPattern(deviceID string) {
	if m == nil {
		return
	}
	m.unknownPatterns.WithLabelValues(deviceID).Inc()
}
