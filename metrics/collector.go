package metrics

import (
	"fmt"
	"runtime"
	"sync"
	"time"
)

type MetricsCollector struct {
	ClassDist        map[string]uint64 `json:"class_dist"`
	ForwardErrors    map[string]uint64 `json:"forward_errors"`
	SessionFailures  map[string]uint64 `json:"session_failures"`
	TotalCaptures    uint64            `json:"total_captures"`
	ActiveSessions   uint64            `json:"active_sessions"`
	QueuedSessions   uint64            `json:"queued_sessions"`
	InFlight         uint64            `json:"in_flight"`
	UnitsForwarded   uint64            `json:"units_forwarded"`
	BytesForwarded   uint64            `json:"bytes_forwarded"`
	Reverted         uint64            `json:"reverted"`
	Superseded       uint64            `json:"superseded"`
	ScanCount        uint64            `json:"scan_count"`
	IgnoredFiles     uint64            `json:"ignored_files"`
	CurrentCPS       float64           `json:"current_cps"`
	CurrentUPS       float64           `json:"current_ups"`
	GoroutineCount   int               `json:"goroutines"`
	LastScanDuration string            `json:"last_scan_duration"`
	TestServerStatus string            `json:"test_server_status"`

	CaptureRate    []TimeSeriesPoint `json:"capture_rate"`
	UnitRate       []TimeSeriesPoint `json:"unit_rate"`
	StartTime      time.Time         `json:"start_time"`
	Uptime         string            `json:"uptime"`
	MemoryUsage    MemoryStats       `json:"memory_usage"`
	WorkerStatus   []WorkerHealth    `json:"worker_status"`
	RecentCaptures []CaptureLog      `json:"recent_captures"`
	RecentEvents   []SystemEvent     `json:"recent_events"`

	prom *Prometheus

	lastUpdate       time.Time
	mu               sync.RWMutex
	lastCaptureCount uint64
	lastUnitCount    uint64
}

type TimeSeriesPoint struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

type MemoryStats struct {
	Allocated      uint64  `json:"allocated"`
	TotalAllocated uint64  `json:"total_allocated"`
	System         uint64  `json:"system"`
	Percent        float64 `json:"percent"`
	HeapAlloc      uint64  `json:"heap_alloc"`
	HeapInuse      uint64  `json:"heap_inuse"`
	NumGC          uint32  `json:"num_gc"`
}

type WorkerHealth struct {
	Processed uint64 `json:"processed"`
	ID        int    `json:"id"`
	Status    string `json:"status"`
}

type CaptureLog struct {
	Timestamp time.Time `json:"timestamp"`
	Key       string    `json:"key"`
	Class     string    `json:"class"`
	Units     int       `json:"units"`
	Outcome   string    `json:"outcome"`
}

type SystemEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

const (
	rateWindow    = 60
	recentCapture = 20
	recentEvents  = 20
)

var (
	metricsCollector *MetricsCollector
	metricsOnce      sync.Once
)

// GetMetricsCollector returns the process wide collector, starting its
// rate loop on first use.
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		metricsCollector = NewCollector(NewPrometheus())
		go metricsCollector.updateLoop()
	})
	return metricsCollector
}

func NewCollector(prom *Prometheus) *MetricsCollector {
	now := time.Now()
	return &MetricsCollector{
		StartTime:        now,
		ClassDist:        make(map[string]uint64),
		ForwardErrors:    make(map[string]uint64),
		SessionFailures:  make(map[string]uint64),
		CaptureRate:      make([]TimeSeriesPoint, 0, rateWindow),
		UnitRate:         make([]TimeSeriesPoint, 0, rateWindow),
		RecentCaptures:   make([]CaptureLog, 0, recentCapture),
		RecentEvents:     make([]SystemEvent, 0, recentEvents),
		WorkerStatus:     make([]WorkerHealth, 0),
		TestServerStatus: "unknown",
		prom:             prom,
		lastUpdate:       now,
	}
}

func (m *MetricsCollector) Prometheus() *Prometheus { return m.prom }

func (m *MetricsCollector) updateLoop() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.updateRates(time.Now())
		m.updateSystemStats()
	}
}

func (m *MetricsCollector) updateRates(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	duration := now.Sub(m.lastUpdate).Seconds()
	if duration <= 0 {
		return
	}

	m.CurrentCPS = float64(m.TotalCaptures-m.lastCaptureCount) / duration
	m.CurrentUPS = float64(m.UnitsForwarded-m.lastUnitCount) / duration

	nowMs := now.UnixMilli()
	m.CaptureRate = appendPoint(m.CaptureRate, TimeSeriesPoint{Timestamp: nowMs, Value: m.CurrentCPS})
	m.UnitRate = appendPoint(m.UnitRate, TimeSeriesPoint{Timestamp: nowMs, Value: m.CurrentUPS})

	m.lastUpdate = now
	m.lastCaptureCount = m.TotalCaptures
	m.lastUnitCount = m.UnitsForwarded

	m.Uptime = formatDuration(now.Sub(m.StartTime))
}

func appendPoint(series []TimeSeriesPoint, p TimeSeriesPoint) []TimeSeriesPoint {
	series = append(series, p)
	if len(series) > rateWindow {
		series = series[len(series)-rateWindow:]
	}
	return series
}

func (m *MetricsCollector) updateSystemStats() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.MemoryUsage = MemoryStats{
		Allocated:      memStats.Alloc,
		TotalAllocated: memStats.TotalAlloc,
		System:         memStats.Sys,
		NumGC:          memStats.NumGC,
		HeapAlloc:      memStats.HeapAlloc,
		HeapInuse:      memStats.HeapInuse,
		Percent:        float64(memStats.Alloc) / float64(memStats.Sys) * 100,
	}
	m.GoroutineCount = runtime.NumGoroutine()
}

// RecordScan is called after every pass over the capture directory.
func (m *MetricsCollector) RecordScan(d time.Duration, ignored, active int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ScanCount++
	m.IgnoredFiles = uint64(ignored)
	m.ActiveSessions = uint64(active)
	m.LastScanDuration = d.String()

	if m.prom != nil {
		m.prom.ScanDuration.Observe(d.Seconds())
		m.prom.ActiveSessions.Set(float64(active))
	}
}

// RecordCapture counts a capture that reached a final outcome.
func (m *MetricsCollector) RecordCapture(key, class string, units int, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalCaptures++
	m.ClassDist[class]++

	entry := CaptureLog{
		Timestamp: time.Now(),
		Key:       key,
		Class:     class,
		Units:     units,
		Outcome:   outcome,
	}
	m.RecentCaptures = append([]CaptureLog{entry}, m.RecentCaptures...)
	if len(m.RecentCaptures) > recentCapture {
		m.RecentCaptures = m.RecentCaptures[:recentCapture]
	}

	if m.prom != nil {
		m.prom.CapturesTotal.WithLabelValues(class).Inc()
	}
}

// RecordUnit counts one forwarded unit; kind is empty on success.
func (m *MetricsCollector) RecordUnit(kind string, bytes int, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UnitsForwarded++
	m.BytesForwarded += uint64(bytes)
	if kind != "" {
		m.ForwardErrors[kind]++
	}

	if m.prom != nil {
		label := kind
		if label == "" {
			label = "ok"
		}
		m.prom.UnitsTotal.WithLabelValues(label).Inc()
		m.prom.ForwardDuration.Observe(d.Seconds())
	}
}

// RecordSessionFailure counts sessions that ended without being processed.
func (m *MetricsCollector) RecordSessionFailure(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SessionFailures[reason]++
	if reason == "superseded" {
		m.Superseded++
	}
	if m.prom != nil {
		m.prom.SessionFailures.WithLabelValues(reason).Inc()
	}
}

func (m *MetricsCollector) RecordRevert() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reverted++
	if m.prom != nil {
		m.prom.Reverts.Inc()
	}
}

func (m *MetricsCollector) SetQueue(queued, inFlight int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueuedSessions = uint64(queued)
	m.InFlight = uint64(inFlight)
	if m.prom != nil {
		m.prom.QueueDepth.Set(float64(queued))
		m.prom.InFlight.Set(float64(inFlight))
	}
}

// SetTestServerUp records the latest test server reachability check.
func (m *MetricsCollector) SetTestServerUp(up bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TestServerStatus = "down"
	v := 0.0
	if up {
		m.TestServerStatus = "up"
		v = 1
	}
	if m.prom != nil {
		m.prom.TestServerUp.Set(v)
	}
}

func (m *MetricsCollector) RecordEvent(level, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	event := SystemEvent{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	}

	m.RecentEvents = append([]SystemEvent{event}, m.RecentEvents...)
	if len(m.RecentEvents) > recentEvents {
		m.RecentEvents = m.RecentEvents[:recentEvents]
	}
}

func (m *MetricsCollector) UpdateWorkerStatus(workers []WorkerHealth) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WorkerStatus = workers
}

func (m *MetricsCollector) GetSnapshot() *MetricsCollector {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := &MetricsCollector{
		TotalCaptures:    m.TotalCaptures,
		ActiveSessions:   m.ActiveSessions,
		QueuedSessions:   m.QueuedSessions,
		InFlight:         m.InFlight,
		UnitsForwarded:   m.UnitsForwarded,
		BytesForwarded:   m.BytesForwarded,
		Reverted:         m.Reverted,
		Superseded:       m.Superseded,
		ScanCount:        m.ScanCount,
		IgnoredFiles:     m.IgnoredFiles,
		CurrentCPS:       m.CurrentCPS,
		CurrentUPS:       m.CurrentUPS,
		GoroutineCount:   m.GoroutineCount,
		LastScanDuration: m.LastScanDuration,
		TestServerStatus: m.TestServerStatus,
		StartTime:        m.StartTime,
		Uptime:           m.Uptime,
		MemoryUsage:      m.MemoryUsage,
	}

	snapshot.ClassDist = copyCounts(m.ClassDist)
	snapshot.ForwardErrors = copyCounts(m.ForwardErrors)
	snapshot.SessionFailures = copyCounts(m.SessionFailures)

	snapshot.WorkerStatus = append(make([]WorkerHealth, 0, len(m.WorkerStatus)), m.WorkerStatus...)
	snapshot.RecentCaptures = append(make([]CaptureLog, 0, len(m.RecentCaptures)), m.RecentCaptures...)
	snapshot.RecentEvents = append(make([]SystemEvent, 0, len(m.RecentEvents)), m.RecentEvents...)

	snapshot.CaptureRate = smoothTimeSeriesData(m.CaptureRate, 3)
	snapshot.UnitRate = smoothTimeSeriesData(m.UnitRate, 3)
	return snapshot
}

func copyCounts(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func smoothTimeSeriesData(data []TimeSeriesPoint, windowSize int) []TimeSeriesPoint {
	if len(data) <= windowSize {
		return append(make([]TimeSeriesPoint, 0, len(data)), data...)
	}

	smoothed := make([]TimeSeriesPoint, len(data))

	for i := range data {
		sum := 0.0
		count := 0

		for j := max(0, i-windowSize/2); j <= min(len(data)-1, i+windowSize/2); j++ {
			sum += data[j].Value
			count++
		}

		smoothed[i] = TimeSeriesPoint{
			Timestamp: data[i].Timestamp,
			Value:     sum / float64(count),
		}
	}

	return smoothed
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
