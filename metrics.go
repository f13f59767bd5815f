package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const metricsNamespace = "heishabridge"

// bridgeStatus 指標與 HTTP API 需要的橋接器資訊
type bridgeStatus interface {
	State() BridgeState
	Cache() *TopicCache
	Partition() *AddressPartition
	Stats() BridgeStats
	ApplyScenario(t ScenarioType) error
}

// MetricsCollector 指標收集器與 HTTP 伺服器
type MetricsCollector struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	diagnostics *prometheus.CounterVec

	bridge    bridgeStatus
	logger    *zap.Logger
	server    *http.Server
	startTime time.Time
}

// MetricsSnapshot 狀態快照 (/api/status)
type MetricsSnapshot struct {
	Timestamp     time.Time `json:"timestamp"`
	Uptime        string    `json:"uptime"`
	BridgeState   string    `json:"bridge_state"`
	Transport     string    `json:"transport"`
	Source        string    `json:"source"`
	MQTTConnected bool      `json:"mqtt_connected"`

	TotalRequests uint64  `json:"total_requests"`
	TotalErrors   uint64  `json:"total_errors"`
	ErrorRate     float64 `json:"error_rate"`

	TopicUpdates    uint64    `json:"topic_updates"`
	LastTopicUpdate time.Time `json:"last_topic_update,omitempty"`
}

// NewMetricsCollector 建立指標收集器
func NewMetricsCollector(bridge bridgeStatus, logger *zap.Logger) *MetricsCollector {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &MetricsCollector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Modbus requests by operation and result",
		}, []string{"operation", "result"}),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "non_numeric_topics_total",
			Help:      "Topics reported as non-numeric (once per topic)",
		}, []string{"source"}),
		bridge:    bridge,
		logger:    logger,
		startTime: time.Now(),
	}

	m.registry.MustRegister(
		m.requests,
		m.diagnostics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "uptime_seconds",
			Help:      "Uptime in seconds",
		}, func() float64 {
			return time.Since(m.startTime).Seconds()
		}),
	)

	if bridge != nil {
		m.registry.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "mqtt_connected",
				Help:      "1 when the MQTT link is connected",
			}, func() float64 {
				if bridge.Stats().MQTTConnected {
					return 1
				}
				return 0
			}),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "topic_updates_total",
				Help:      "Topic values received",
			}, func() float64 {
				return float64(bridge.Stats().TopicUpdates)
			}),
			&topicCollector{bridge: bridge},
		)
	}

	return m
}

// Registry 指標註冊表
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest 記錄 Modbus 請求結果
func (m *MetricsCollector) RecordRequest(operation string, err error) {
	m.requests.WithLabelValues(operation, resultLabel(err)).Inc()
}

// RecordDiagnostic 記錄非數值主題
func (m *MetricsCollector) RecordDiagnostic(source TopicSource) {
	m.diagnostics.WithLabelValues(source.String()).Inc()
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	switch exceptionCode(err) {
	case ExceptionCodeIllegalFunction:
		return "illegal_function"
	case ExceptionCodeIllegalDataAddress:
		return "illegal_data_address"
	case ExceptionCodeIllegalDataValue:
		return "illegal_data_value"
	default:
		return "device_failure"
	}
}

// Router 建立 HTTP 路由
func (m *MetricsCollector) Router(endpoint string) *mux.Router {
	r := mux.NewRouter()
	r.Handle(endpoint, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/health", m.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", m.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/api/status", m.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/topics/{source}", m.handleTopics).Methods(http.MethodGet)
	r.HandleFunc("/api/scenario/{name}", m.handleScenario).Methods(http.MethodPost)
	return r
}

// Start 啟動指標 HTTP 伺服器
func (m *MetricsCollector) Start(endpoint string, port int) error {
	addr := fmt.Sprintf(":%d", port)
	m.server = &http.Server{
		Addr:              addr,
		Handler:           m.Router(endpoint),
		ReadHeaderTimeout: 5 * time.Second,
	}

	m.logger.Info("啟動指標伺服器", zap.String("addr", addr))

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("指標伺服器錯誤", zap.Error(err))
		}
	}()

	return nil
}

// Stop 停止指標 HTTP 伺服器
func (m *MetricsCollector) Stop(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}

// Snapshot 取得狀態快照
func (m *MetricsCollector) Snapshot() MetricsSnapshot {
	snapshot := MetricsSnapshot{
		Timestamp: time.Now(),
		Uptime:    time.Since(m.startTime).String(),
	}
	if m.bridge == nil {
		return snapshot
	}

	stats := m.bridge.Stats()
	snapshot.BridgeState = m.bridge.State().String()
	snapshot.Transport = stats.Transport
	snapshot.Source = stats.Source
	snapshot.MQTTConnected = stats.MQTTConnected
	snapshot.TotalRequests = stats.TotalRequests
	snapshot.TotalErrors = stats.TotalErrors
	snapshot.TopicUpdates = stats.TopicUpdates
	snapshot.LastTopicUpdate = stats.LastTopicUpdate

	if stats.TotalRequests > 0 {
		snapshot.ErrorRate = float64(stats.TotalErrors) / float64(stats.TotalRequests) * 100
	}
	return snapshot
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealth 處理 /health 請求
func (m *MetricsCollector) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReady 處理 /ready 請求
func (m *MetricsCollector) handleReady(w http.ResponseWriter, r *http.Request) {
	if m.bridge == nil || m.bridge.State() != BridgeStateRunning {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleStatus 處理 /api/status 請求
func (m *MetricsCollector) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, m.Snapshot())
}

// handleScenario 處理 /api/scenario/{name} 請求 (模擬模式切換場景)
func (m *MetricsCollector) handleScenario(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	t := ParseScenarioType(name)
	if t.String() != name {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown scenario"})
		return
	}
	if m.bridge == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "bridge not running"})
		return
	}
	if err := m.bridge.ApplyScenario(t); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"scenario": name})
}

// TopicView 主題目前內容與其暫存器位址
type TopicView struct {
	Index        int       `json:"index"`
	Name         string    `json:"name"`
	Unit         string    `json:"unit"`
	Value        string    `json:"value"`
	Set          bool      `json:"set"`
	Updated      time.Time `json:"updated,omitempty"`
	Address      uint16    `json:"address"`
	FloatAddress uint16    `json:"float_address"`
	Register     uint16    `json:"register"`
}

// handleTopics 處理 /api/topics/{source} 請求
func (m *MetricsCollector) handleTopics(w http.ResponseWriter, r *http.Request) {
	source, ok := ParseTopicSource(mux.Vars(r)["source"])
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown source"})
		return
	}
	if m.bridge == nil || m.bridge.Cache() == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "bridge not running"})
		return
	}

	writeJSON(w, http.StatusOK, TopicViews(m.bridge.Partition(), m.bridge.Cache(), source))
}

// TopicViews 組合主題內容與位址
func TopicViews(partition *AddressPartition, cache *TopicCache, source TopicSource) []TopicView {
	snapshots := cache.Snapshot(source)
	views := make([]TopicView, 0, len(snapshots))
	table := TopicTable(source)

	for _, s := range snapshots {
		v := TopicView{
			Index:   s.Index,
			Name:    s.Name,
			Unit:    s.Unit.String(),
			Value:   s.Text,
			Set:     s.Set,
			Updated: s.Updated,
		}
		if partition != nil {
			v.Address, _ = partition.ScaledAddress(source, s.Index)
			v.FloatAddress, _ = partition.FloatAddress(source, s.Index)
		}
		if s.Set && s.Index < len(table) {
			v.Register, _ = EncodeScaled(s.Text, table[s.Index])
		}
		views = append(views, v)
	}
	return views
}

// topicCollector 將數值主題匯出為 gauge
type topicCollector struct {
	bridge bridgeStatus
}

var topicValueDesc = prometheus.NewDesc(
	prometheus.BuildFQName(metricsNamespace, "", "topic_value"),
	"Current numeric value of a heat pump topic",
	[]string{"source", "topic", "unit"}, nil,
)

func (c *topicCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- topicValueDesc
}

func (c *topicCollector) Collect(ch chan<- prometheus.Metric) {
	cache := c.bridge.Cache()
	if cache == nil {
		return
	}

	for _, source := range ListTopicSources() {
		for _, s := range cache.Snapshot(source) {
			if !s.Set {
				continue
			}
			text := strings.TrimSpace(s.Text)
			if !IsNumeric(text) {
				continue
			}
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				continue
			}
			ch <- prometheus.MustNewConstMetric(topicValueDesc, prometheus.GaugeValue, f,
				source.String(), s.Name, s.Unit.String())
		}
	}
}
